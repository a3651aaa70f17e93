package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	"github.com/chazu/qudag/internal/project"
	"github.com/chazu/qudag/pkg/binding"
)

func writeSettings(dir, src string) string {
	path := filepath.Join(dir, project.FileName)
	Expect(os.WriteFile(path, []byte(src), 0o644)).To(Succeed())
	return path
}

var _ = Describe("qudag", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("info", func() {
		It("prints the accelerated profile and every module", func() {
			out, err := run(ctx, newTestbed(allPlugins...).app(), "info")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("accelerated"))
			Expect(out).To(ContainSubstring("Native (Go plugin)"))
			Expect(out).To(MatchRegexp(`crypto\s+available\s+accelerated`))
			Expect(out).To(MatchRegexp(`orchestration\s+available\s+accelerated`))
			Expect(out).To(MatchRegexp(`training\s+available\s+accelerated`))
		})

		It("reports unsupported modules when forced portable", func() {
			out, err := run(ctx, newTestbed(allPlugins...).app(), "--force-portable", "info")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("WebAssembly (wazero)"))
			Expect(out).To(MatchRegexp(`orchestration\s+unavailable\s+-\s+TierUnsupported`))
			Expect(out).To(MatchRegexp(`crypto\s+unavailable\s+-\s+ResolutionFailed`))
		})

		It("honours a fixed tier", func() {
			out, err := run(ctx, newTestbed(allPlugins...).app(), "--tier", "portable", "info", "-o", "json")
			Expect(err).NotTo(HaveOccurred())

			var report struct {
				Tier        string   `json:"tier"`
				Available   []string `json:"available"`
				Unavailable []string `json:"unavailable"`
			}
			Expect(json.Unmarshal([]byte(out), &report)).To(Succeed())
			Expect(report.Tier).To(Equal("portable"))
			Expect(report.Available).To(BeEmpty())
			Expect(report.Unavailable).To(Equal([]string{"crypto", "orchestration", "training"}))
		})

		It("renders JSON in registry order", func() {
			out, err := run(ctx, newTestbed(allPlugins...).app(), "info", "--output", "json")
			Expect(err).NotTo(HaveOccurred())

			var report map[string]any
			Expect(json.Unmarshal([]byte(out), &report)).To(Succeed())
			Expect(report["tier"]).To(Equal("accelerated"))
			Expect(report["available"]).To(Equal([]any{"crypto", "orchestration", "training"}))
			Expect(report).To(HaveKey("profile"))
			Expect(report["modules"]).To(HaveLen(3))
		})

		It("appends metrics on request", func() {
			out, err := run(ctx, newTestbed(allPlugins...).app(), "info", "--metrics")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("qudag_module_resolve_total"))
			Expect(out).To(ContainSubstring("qudag_platform_tier"))
		})

		It("rejects unknown output formats", func() {
			_, err := run(ctx, newTestbed().app(), "info", "-o", "yaml")
			Expect(err).To(MatchError(ContainSubstring("unknown output format")))
		})
	})

	It("rejects invalid configuration before running", func() {
		_, err := run(ctx, newTestbed().app(), "--log-level", "loud", "info")
		Expect(err).To(MatchError(ContainSubstring("invalid configuration")))

		_, err = run(ctx, newTestbed().app(), "--tier", "gpu", "info")
		Expect(err).To(MatchError(ContainSubstring("unknown tier")))
	})

	It("prints examples", func() {
		out, err := run(ctx, newTestbed().app(), "examples")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("qudag init my-app"))
	})

	Describe("init", func() {
		It("scaffolds a project directory", func() {
			dir := filepath.Join(GinkgoT().TempDir(), "my-app")

			out, err := run(ctx, newTestbed().app(), "init", "my-app", "--dir", dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Created my-app"))

			settings, err := project.Load(filepath.Join(dir, project.FileName))
			Expect(err).NotTo(HaveOccurred())
			Expect(settings.Name).To(Equal("my-app"))
			Expect(settings.Node.Replicas).To(Equal(1))

			main, err := os.ReadFile(filepath.Join(dir, "main.go"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(main)).To(ContainSubstring("package main"))
			Expect(string(main)).To(ContainSubstring(`[]byte("my-app")`))
		})

		It("refuses a non-empty directory", func() {
			dir := GinkgoT().TempDir()
			Expect(os.WriteFile(filepath.Join(dir, "README"), nil, 0o644)).To(Succeed())

			_, err := run(ctx, newTestbed().app(), "init", "my-app", "--dir", dir)
			Expect(err).To(MatchError(ContainSubstring("not empty")))
		})

		It("rejects names the settings schema does not allow", func() {
			dir := filepath.Join(GinkgoT().TempDir(), "x")
			_, err := run(ctx, newTestbed().app(), "init", "My App", "--dir", dir)
			Expect(err).To(MatchError(ContainSubstring("invalid project name")))
			Expect(dir).NotTo(BeADirectory())
		})
	})

	Describe("test", func() {
		It("passes every check on a working backend", func() {
			out, err := run(ctx, newTestbed(allPlugins...).app(), "test")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("crypto (accelerated)"))
			Expect(out).To(ContainSubstring("ok    ML-KEM-768 round trip"))
			Expect(out).To(ContainSubstring("ok    ML-DSA sign/verify"))
			Expect(out).To(ContainSubstring("ok    BLAKE3 fingerprint"))
		})

		It("reports failing checks", func() {
			tb := newTestbed(allPlugins...)
			tb.backend = zeroBackend{invalidSignatures: true}

			out, err := run(ctx, tb.app(), "test")
			Expect(errors.Is(err, errSelfCheck)).To(BeTrue())
			Expect(out).To(ContainSubstring("FAIL  ML-DSA sign/verify"))
			Expect(out).To(ContainSubstring("ok    BLAKE3 fingerprint"))
		})

		It("fails with the module's unavailability", func() {
			_, err := run(ctx, newTestbed().app(), "--force-portable", "test")

			var unavailable *binding.UnavailableError
			Expect(errors.As(err, &unavailable)).To(BeTrue())
			Expect(unavailable.Identity).To(Equal(binding.Crypto))
			Expect(unavailable.Reason).To(Equal(binding.ResolutionFailed))
		})
	})

	Describe("benchmark", func() {
		It("times every operation", func() {
			out, err := run(ctx, newTestbed(allPlugins...).app(), "benchmark", "-n", "3")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("3 iterations"))
			for _, op := range []string{"keygen", "encapsulate", "decapsulate", "sign", "verify", "blake3"} {
				Expect(out).To(ContainSubstring(op))
			}
		})

		It("requires at least one iteration", func() {
			_, err := run(ctx, newTestbed(allPlugins...).app(), "benchmark", "-n", "0")
			Expect(err).To(MatchError(ContainSubstring("at least 1")))
		})
	})

	Describe("dev", func() {
		It("runs a node until the context ends", func() {
			tb := newTestbed(allPlugins...)
			cfg := writeSettings(GinkgoT().TempDir(), `
name: "demo"
node: peers: ["10.0.0.2:8000"]
`)
			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			out := gbytes.NewBuffer()
			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- Execute(runCtx, tb.app(), []string{"dev", "--config", cfg}, out, gbytes.NewBuffer())
			}()

			Eventually(out).Should(gbytes.Say(`node demo: Running \(1 peers\)`))
			Expect(tb.orchestrator.started()).To(HaveLen(1))
			node := tb.orchestrator.started()[0]
			Expect(node.spec.Dev).To(BeTrue())
			Expect(node.spec.Listen).To(Equal("0.0.0.0:8000"))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
			Expect(node.isStopped()).To(BeTrue())
		})

		It("runs the configured training session", func() {
			tb := newTestbed(allPlugins...)
			cfg := writeSettings(GinkgoT().TempDir(), `
name: "demo"
node: {}
training: {model: "mnist", rounds: 2}
`)
			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			out := gbytes.NewBuffer()
			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- Execute(runCtx, tb.app(), []string{"dev", "-c", cfg, "--train"}, out, gbytes.NewBuffer())
			}()

			Eventually(out).Should(gbytes.Say(`round 1/2: loss=1.0000 participants=2`))
			Eventually(out).Should(gbytes.Say(`round 2/2: loss=0.5000`))
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("requires a training section for --train", func() {
			cfg := writeSettings(GinkgoT().TempDir(), `name: "demo", node: {}`)
			_, err := run(ctx, newTestbed(allPlugins...).app(), "dev", "-c", cfg, "--train")
			Expect(err).To(MatchError(ContainSubstring("no training section")))
		})

		It("fails when orchestration is unsupported on the tier", func() {
			cfg := writeSettings(GinkgoT().TempDir(), `name: "demo", node: {}`)
			_, err := run(ctx, newTestbed(allPlugins...).app(), "--force-portable", "dev", "-c", cfg)

			var unavailable *binding.UnavailableError
			Expect(errors.As(err, &unavailable)).To(BeTrue())
			Expect(unavailable.Identity).To(Equal(binding.Orchestration))
			Expect(unavailable.Reason).To(Equal(binding.TierUnsupported))
		})
	})

	Describe("deploy", func() {
		It("starts the requested replicas", func() {
			tb := newTestbed(allPlugins...)
			cfg := writeSettings(GinkgoT().TempDir(), `name: "demo", node: {}`)

			out, err := run(ctx, tb.app(), "deploy", "-c", cfg, "--replicas", "3")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("node demo: Running"))

			nodes := tb.orchestrator.started()
			Expect(nodes).To(HaveLen(1))
			Expect(nodes[0].spec.Replicas).To(Equal(3))
			Expect(nodes[0].spec.Dev).To(BeFalse())
		})

		It("uses the replicas from the settings file", func() {
			tb := newTestbed(allPlugins...)
			cfg := writeSettings(GinkgoT().TempDir(), `name: "demo", node: replicas: 2`)

			_, err := run(ctx, tb.app(), "deploy", "-c", cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(tb.orchestrator.started()[0].spec.Replicas).To(Equal(2))
		})

		It("requires a settings file", func() {
			_, err := run(ctx, newTestbed(allPlugins...).app(), "deploy", "-c", filepath.Join(GinkgoT().TempDir(), "missing.cue"))
			Expect(err).To(MatchError(ContainSubstring("missing.cue")))
		})
	})
})
