package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/chazu/qudag/internal/project"
	"github.com/chazu/qudag/pkg/binding"
	"github.com/chazu/qudag/pkg/modules/orchestration"
	"github.com/chazu/qudag/pkg/modules/training"
)

const stopTimeout = 10 * time.Second

func newDevCommand(app *App) *cobra.Command {
	var (
		configPath string
		train      bool
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run a development node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logr.FromContextOrDiscard(ctx)
			out := cmd.OutOrStdout()

			settings, err := loadSettings(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if train && settings.Training == nil {
				return fmt.Errorf("%s has no training section", configPath)
			}

			agg, err := app.Aggregator()
			if err != nil {
				return err
			}

			client, err := orchestration.Open(ctx, agg)
			if err != nil {
				return err
			}
			defer closeQuietly(ctx, log, "orchestration", client.Close)

			node, err := client.Start(ctx, orchestration.Spec{
				Name:   settings.Name,
				Listen: settings.Node.Listen,
				Peers:  settings.Node.Peers,
				Dev:    true,
			})
			if err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
				defer cancel()
				if err := node.Stop(stopCtx); err != nil {
					log.Error(err, "Failed to stop node", "name", settings.Name)
				}
			}()

			if err := printStatus(ctx, out, node); err != nil {
				return err
			}
			log.Info("Node started", "name", settings.Name, "tier", client.Tier())

			if train {
				if err := runTraining(ctx, agg, out, *settings.Training); err != nil {
					return err
				}
			}

			<-ctx.Done()
			log.Info("Shutting down", "name", settings.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", project.FileName, "project settings file")
	cmd.Flags().BoolVar(&train, "train", false, "run the configured training session after the node starts")
	return cmd
}

func newDeployCommand(app *App) *cobra.Command {
	var (
		configPath string
		replicas   int
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Start the project's nodes and return",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logr.FromContextOrDiscard(ctx)

			settings, err := loadSettings(configPath, true)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("replicas") {
				settings.Node.Replicas = replicas
			}

			agg, err := app.Aggregator()
			if err != nil {
				return err
			}

			client, err := orchestration.Open(ctx, agg)
			if err != nil {
				return err
			}
			defer closeQuietly(ctx, log, "orchestration", client.Close)

			node, err := client.Start(ctx, orchestration.Spec{
				Name:     settings.Name,
				Listen:   settings.Node.Listen,
				Peers:    settings.Node.Peers,
				Replicas: settings.Node.Replicas,
			})
			if err != nil {
				return err
			}

			log.Info("Deployed", "name", settings.Name, "replicas", settings.Node.Replicas)
			return printStatus(ctx, cmd.OutOrStdout(), node)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", project.FileName, "project settings file")
	cmd.Flags().IntVar(&replicas, "replicas", 1, "number of node replicas")
	return cmd
}

// loadSettings reads path. A missing file is only an error when required.
func loadSettings(path string, required bool) (*project.Settings, error) {
	s, err := project.Load(path)
	if err == nil {
		return s, nil
	}
	if !required && errors.Is(err, fs.ErrNotExist) {
		return project.Default("dev"), nil
	}
	return nil, err
}

func runTraining(ctx context.Context, p binding.Prober, out io.Writer, t project.Training) error {
	log := logr.FromContextOrDiscard(ctx)

	client, err := training.Open(ctx, p)
	if err != nil {
		return err
	}
	defer closeQuietly(ctx, log, "training", client.Close)

	cfg := training.SessionConfig{
		Model:        t.Model,
		Rounds:       t.Rounds,
		Participants: t.Participants,
		LearningRate: t.LearningRate,
	}
	return client.Train(ctx, cfg, func(r training.RoundResult) {
		fmt.Fprintf(out, "round %d/%d: loss=%.4f participants=%d\n", r.Round, cfg.Rounds, r.Loss, r.Participants)
	})
}

func printStatus(ctx context.Context, w io.Writer, node orchestration.Node) error {
	st, err := node.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read node status: %w", err)
	}
	fmt.Fprintf(w, "node %s: %s (%d peers)\n", st.Name, st.Phase, st.Peers)
	if st.Message != "" {
		fmt.Fprintf(w, "  %s\n", st.Message)
	}
	return nil
}

func closeQuietly(ctx context.Context, log logr.Logger, what string, closeFn func(context.Context) error) {
	if err := closeFn(context.WithoutCancel(ctx)); err != nil {
		log.Error(err, "Failed to release module", "module", what)
	}
}
