// Package cli implements the qudag command tree. Commands are thin: they
// resolve modules through the availability aggregator and render results.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/chazu/qudag/internal/config"
	"github.com/chazu/qudag/internal/telemetry"
	"github.com/chazu/qudag/pkg/availability"
	"github.com/chazu/qudag/pkg/binding"
	"github.com/chazu/qudag/pkg/bindings"
	"github.com/chazu/qudag/pkg/catalog"
	"github.com/chazu/qudag/pkg/platform"
)

// App carries the state shared by all commands of one invocation.
type App struct {
	Config  config.Config
	Version string

	// Env replaces the host environment when set
	Env *platform.Environment

	// OpenPlugin replaces the Go plugin opener when set
	OpenPlugin func(path string) (binding.SymbolTable, error)

	logger      logr.Logger
	flushLogs   func()
	stopTracing func(context.Context) error
	aggregator  *availability.Aggregator
}

// Execute runs the command tree with args.
func Execute(ctx context.Context, app *App, args []string, stdout, stderr io.Writer) error {
	root := NewRootCommand(app)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	app.close(ctx)
	return err
}

// NewRootCommand builds the command tree. Flags override app.Config.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "qudag",
		Short: "Quantum-resistant DAG toolkit with native and WebAssembly runtimes",
		Long: `qudag resolves each optional feature module (crypto, orchestration,
training) against the fastest runtime tier available on this machine:
native Go plugins when possible, sandboxed WebAssembly otherwise.`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringSliceVar(&app.Config.NativeDirs, "native-dir", app.Config.NativeDirs, "directories searched for native plugins")
	flags.StringSliceVar(&app.Config.PortableDirs, "wasm-dir", app.Config.PortableDirs, "directories searched for wasm modules")
	flags.StringVar(&app.Config.WasmCacheDir, "wasm-cache-dir", app.Config.WasmCacheDir, "directory for the wasm compilation cache")
	flags.BoolVar(&app.Config.ForcePortable, "force-portable", app.Config.ForcePortable, "treat the environment as sandboxed")
	flags.StringVar(&app.Config.Tier, "tier", app.Config.Tier, "skip detection and use this tier (accelerated|portable)")
	flags.DurationVar(&app.Config.ProbeTimeout, "probe-timeout", app.Config.ProbeTimeout, "timeout for loading a single module")
	flags.IntVar(&app.Config.MaxConcurrency, "max-concurrency", app.Config.MaxConcurrency, "concurrent module loads (0 for one per module)")
	flags.StringVar(&app.Config.LogLevel, "log-level", app.Config.LogLevel, "log level (debug|info|warn|error)")
	flags.StringVar(&app.Config.LogFormat, "log-format", app.Config.LogFormat, "log format (console|json)")

	root.AddCommand(
		newInfoCommand(app),
		newInitCommand(app),
		newExamplesCommand(app),
		newTestCommand(app),
		newBenchmarkCommand(app),
		newDevCommand(app),
		newDeployCommand(app),
	)
	return root
}

func (a *App) setup(cmd *cobra.Command) error {
	if err := a.Config.Validate(); err != nil {
		return err
	}

	logger, flush, err := NewLogger(a.Config.LogLevel, a.Config.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger
	a.flushLogs = flush

	ctx := logr.NewContext(cmd.Context(), logger)

	stop, err := telemetry.Setup(ctx, a.Config, a.Version)
	if err != nil {
		logger.Error(err, "Tracing disabled")
	} else {
		a.stopTracing = stop
	}

	cmd.SetContext(ctx)
	return nil
}

func (a *App) close(ctx context.Context) {
	if a.stopTracing != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.stopTracing(ctx); err != nil {
			a.logger.Error(err, "Failed to flush traces")
		}
	}
	if a.flushLogs != nil {
		a.flushLogs()
	}
}

func (a *App) environment() platform.Environment {
	if a.Env != nil {
		env := *a.Env
		env.Sandboxed = env.Sandboxed || a.Config.ForcePortable
		return env
	}
	return platform.HostEnvironment(a.Config.ForcePortable)
}

// Aggregator builds the production registry and the tier probe on first use.
func (a *App) Aggregator() (*availability.Aggregator, error) {
	if a.aggregator != nil {
		return a.aggregator, nil
	}

	cat, err := catalog.Load()
	if err != nil {
		return nil, err
	}

	env := a.environment()
	opts := bindings.Options{
		NativeDirs:   a.Config.NativeDirs,
		PortableDirs: a.Config.PortableDirs,
		WasmCacheDir: a.Config.WasmCacheDir,
		OS:           env.OS,
		Arch:         env.Arch,
		OpenPlugin:   a.OpenPlugin,
	}

	reg, err := bindings.NewRegistry(cat, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid module registry: %w", err)
	}

	probe := platform.NewProbe(env, bindings.CryptoNativeCheck(cat, opts))
	if a.Config.Tier != "" {
		tier, err := platform.ParseTier(a.Config.Tier)
		if err != nil {
			return nil, err
		}
		probe = platform.FixedProbe(tier)
	}

	a.aggregator = availability.New(reg, probe,
		availability.WithProbeTimeout(a.Config.ProbeTimeout),
		availability.WithMaxConcurrency(a.Config.MaxConcurrency),
	)
	return a.aggregator, nil
}
