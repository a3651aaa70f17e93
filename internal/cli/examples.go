package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const examplesText = `Inspect the runtime:
  qudag info                      detected tier and module availability
  qudag info -o json              the same report as JSON
  qudag info --metrics            append load metrics
  qudag --force-portable info     pretend native plugins cannot load
  qudag --tier portable info      skip detection

Start a project:
  qudag init my-app               scaffold qudag.cue and main.go
  cd my-app && qudag dev          run a development node until Ctrl-C
  qudag dev --train               also run the configured training session
  qudag deploy --replicas 3       start three node replicas

Crypto:
  qudag test                      ML-KEM / ML-DSA / BLAKE3 self-check
  qudag benchmark -n 1000         throughput of each operation

Environment:
  QUDAG_NATIVE_DIRS, QUDAG_WASM_DIRS, QUDAG_FORCE_PORTABLE, QUDAG_TIER,
  QUDAG_PROBE_TIMEOUT, QUDAG_MAX_CONCURRENCY, QUDAG_WASM_CACHE_DIR,
  QUDAG_LOG_LEVEL, QUDAG_LOG_FORMAT, QUDAG_OTEL_ENDPOINT, QUDAG_OTEL_ENABLED
`

func newExamplesCommand(_ *App) *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Print usage examples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), examplesText)
			return err
		},
	}
}
