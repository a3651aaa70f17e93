package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/chazu/qudag/pkg/modules/crypto"
)

var errSelfCheck = errors.New("crypto self-check failed")

func newTestCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run a crypto self-check on the active tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logr.FromContextOrDiscard(ctx)

			agg, err := app.Aggregator()
			if err != nil {
				return err
			}
			m, err := crypto.Open(ctx, agg)
			if err != nil {
				return err
			}
			defer closeQuietly(ctx, log, "crypto", m.Close)

			return selfCheck(ctx, cmd.OutOrStdout(), m)
		},
	}
}

type check struct {
	name string
	run  func(ctx context.Context, m *crypto.Module) error
}

var checks = []check{
	{name: "ML-KEM-768 round trip", run: checkKEM},
	{name: "ML-DSA sign/verify", run: checkDSA},
	{name: "BLAKE3 fingerprint", run: checkFingerprint},
}

// selfCheck runs every check and reports all failures.
func selfCheck(ctx context.Context, w io.Writer, m *crypto.Module) error {
	source := string(m.Tier())
	if m.Degraded() {
		source += ", degraded"
	}
	fmt.Fprintf(w, "crypto (%s)\n", source)

	var errs []error
	for _, c := range checks {
		if err := c.run(ctx, m); err != nil {
			fmt.Fprintf(w, "  FAIL  %s: %v\n", c.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		fmt.Fprintf(w, "  ok    %s\n", c.name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", errSelfCheck, errors.Join(errs...))
	}
	return nil
}

func checkKEM(ctx context.Context, m *crypto.Module) error {
	kp, err := m.GenerateKeypair(ctx)
	if err != nil {
		return err
	}
	enc, err := m.Encapsulate(ctx, kp.PublicKey)
	if err != nil {
		return err
	}
	secret, err := m.Decapsulate(ctx, enc.Ciphertext, kp.SecretKey)
	if err != nil {
		return err
	}
	if !bytes.Equal(secret, enc.SharedSecret) {
		return errors.New("decapsulated secret does not match")
	}
	return nil
}

func checkDSA(ctx context.Context, m *crypto.Module) error {
	kp, err := m.GenerateKeypair(ctx)
	if err != nil {
		return err
	}
	msg := []byte("qudag self-check")
	sig, err := m.Sign(ctx, msg, kp.SecretKey)
	if err != nil {
		return err
	}
	ok, err := m.Verify(ctx, msg, sig, kp.PublicKey)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("signature did not verify")
	}
	return nil
}

func checkFingerprint(ctx context.Context, m *crypto.Module) error {
	a, err := m.Fingerprint(ctx, []byte("qudag"))
	if err != nil {
		return err
	}
	b, err := m.Fingerprint(ctx, []byte("qudag"))
	if err != nil {
		return err
	}
	if a != b {
		return errors.New("fingerprint is not deterministic")
	}
	return nil
}

func newBenchmarkCommand(app *App) *cobra.Command {
	var iterations int

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Measure crypto throughput on the active tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logr.FromContextOrDiscard(ctx)

			if iterations < 1 {
				return fmt.Errorf("iterations must be at least 1, got %d", iterations)
			}

			agg, err := app.Aggregator()
			if err != nil {
				return err
			}
			m, err := crypto.Open(ctx, agg)
			if err != nil {
				return err
			}
			defer closeQuietly(ctx, log, "crypto", m.Close)

			results, err := benchmark(ctx, m, iterations)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "crypto on %s tier, %d iterations\n\n", m.Tier(), iterations)
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OPERATION\tTOTAL\tPER OP\tOPS/S")
			for _, r := range results {
				per := r.total / time.Duration(iterations)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f\n", r.name, r.total, per, float64(iterations)/r.total.Seconds())
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&iterations, "iterations", "n", 100, "iterations per operation")
	return cmd
}

type benchResult struct {
	name  string
	total time.Duration
}

func benchmark(ctx context.Context, m *crypto.Module, n int) ([]benchResult, error) {
	kp, err := m.GenerateKeypair(ctx)
	if err != nil {
		return nil, err
	}
	enc, err := m.Encapsulate(ctx, kp.PublicKey)
	if err != nil {
		return nil, err
	}
	msg := make([]byte, 1024)
	sig, err := m.Sign(ctx, msg, kp.SecretKey)
	if err != nil {
		return nil, err
	}

	ops := []struct {
		name string
		run  func() error
	}{
		{"keygen", func() error { _, err := m.GenerateKeypair(ctx); return err }},
		{"encapsulate", func() error { _, err := m.Encapsulate(ctx, kp.PublicKey); return err }},
		{"decapsulate", func() error { _, err := m.Decapsulate(ctx, enc.Ciphertext, kp.SecretKey); return err }},
		{"sign", func() error { _, err := m.Sign(ctx, msg, kp.SecretKey); return err }},
		{"verify", func() error { _, err := m.Verify(ctx, msg, sig, kp.PublicKey); return err }},
		{"blake3 (1KiB)", func() error { _, err := m.Hash(ctx, msg); return err }},
	}

	results := make([]benchResult, 0, len(ops))
	for _, op := range ops {
		start := time.Now()
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := op.run(); err != nil {
				return nil, fmt.Errorf("%s failed: %w", op.name, err)
			}
		}
		results = append(results, benchResult{name: op.name, total: time.Since(start)})
	}
	return results, nil
}
