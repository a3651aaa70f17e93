package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/go-logr/logr"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/chazu/qudag/pkg/availability"
	"github.com/chazu/qudag/pkg/metrics"
	"github.com/chazu/qudag/pkg/platform"
)

func newInfoCommand(app *App) *cobra.Command {
	var (
		output      string
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the detected tier and which modules can be loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logr.FromContextOrDiscard(ctx)

			agg, err := app.Aggregator()
			if err != nil {
				return err
			}

			report := agg.ProbeAll(ctx)
			log.V(1).Info("Probed modules", "tier", report.Tier(), "available", len(report.Available()))

			w := cmd.OutOrStdout()
			switch output {
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("failed to encode report: %w", err)
				}
			case "text":
				if err := writeReport(w, app.environment(), report); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown output format %q", output)
			}

			if showMetrics {
				return writeMetrics(w)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text|json)")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "append load metrics in Prometheus text format")
	return cmd
}

func writeReport(w io.Writer, env platform.Environment, report *availability.Report) error {
	profile := report.Profile()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Platform:\t%s\n", env)
	fmt.Fprintf(tw, "Tier:\t%s\n", report.Tier())
	fmt.Fprintf(tw, "Runtime:\t%s\n", profile.RuntimeName)
	fmt.Fprintf(tw, "Performance:\t%s (%.1fx)\n", profile.Performance, profile.RelativeSpeed)
	fmt.Fprintf(tw, "Concurrent:\t%t\n", profile.ConcurrentExecution)
	fmt.Fprintf(tw, "Capabilities:\t%s\n", strings.Join(profile.Capabilities, ", "))
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tSTATUS\tTIER\tDETAIL")
	for _, s := range report.Modules() {
		status, tier, detail := "unavailable", "-", string(s.Reason)
		if s.Available {
			status, tier, detail = "available", string(s.LoadedTier), s.Source
			if s.Degraded {
				status = "degraded"
			}
		} else if s.Error != "" {
			detail += ": " + s.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Identity, status, tier, detail)
	}
	return tw.Flush()
}

func writeMetrics(w io.Writer) error {
	families, err := metrics.Registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	fmt.Fprintln(w)
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
