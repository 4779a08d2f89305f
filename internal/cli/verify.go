package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/rebutqc/internal/llm"
	"github.com/ppiankov/rebutqc/internal/logging"
	"github.com/ppiankov/rebutqc/internal/metrics"
	"github.com/ppiankov/rebutqc/internal/model"
	"github.com/ppiankov/rebutqc/internal/pipeline"
	"github.com/ppiankov/rebutqc/internal/schema"
)

// verifyFlags are the per-run overrides shared by verify and batch
type verifyFlags struct {
	outJSON       string
	outAudit      string
	outMD         string
	timeout       time.Duration
	noCache       bool
	assessOnly    bool
	checkProvider bool
	metricsFile   string
	failurePolicy string
	provider      string
	model         string
}

var verifyOpts verifyFlags

// newProvider is replaced in tests
var newProvider = llm.NewProvider

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <script.json>",
	Short: "Score, decide and rewrite the rebuttals of one script",
	Long: `Verify runs one script through the quality control pipeline:
- Validate the script against the input schema
- Score every rebuttal in batches of at most three
- Flag rebuttals below the accuracy, completeness or effectiveness thresholds
- Rewrite flagged rebuttals in batches of at most two
- Write the verified script and the audit log

Example:
  rebutqc verify episode.json
  rebutqc verify episode.json --out verified.json --audit audit.jsonl --md report.md
  rebutqc verify episode.json --assess-only --check-provider`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	// Output flags
	verifyCmd.Flags().StringVar(&verifyOpts.outJSON, "out", "verified.json", "output path of the verified script")
	verifyCmd.Flags().StringVar(&verifyOpts.outAudit, "audit", "audit.jsonl", "output path of the audit log (JSON lines)")
	verifyCmd.Flags().StringVar(&verifyOpts.outMD, "md", "", "output Markdown report path (optional)")
	verifyCmd.Flags().StringVar(&verifyOpts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile (optional)")
	addRunFlags(verifyCmd, &verifyOpts)
}

// addRunFlags registers the flags that change how the pipeline runs
func addRunFlags(cmd *cobra.Command, f *verifyFlags) {
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Minute, "overall run timeout")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable the scoring response cache")
	cmd.Flags().BoolVar(&f.assessOnly, "assess-only", false, "score and decide only, skip rewriting")
	cmd.Flags().BoolVar(&f.checkProvider, "check-provider", false, "check that the LLM provider is reachable before the run")
	cmd.Flags().StringVar(&f.failurePolicy, "failure-policy", "", "degrade or abort when items fail (default from config)")
	cmd.Flags().StringVar(&f.provider, "llm-provider", "", "LLM provider (openai, anthropic, ollama)")
	cmd.Flags().StringVar(&f.model, "llm-model", "", "LLM model name")
}

// apply overlays the flags on cfg
func (f verifyFlags) apply(cfg *model.Config) {
	if f.noCache {
		cfg.Cache.Enabled = false
	}
	if f.assessOnly {
		cfg.Pipeline.AssessOnly = true
	}
	if f.failurePolicy != "" {
		cfg.Pipeline.FailurePolicy = f.failurePolicy
	}
	if f.provider != "" {
		cfg.LLM.Provider = f.provider
	}
	if f.model != "" {
		cfg.LLM.Model = f.model
	}
	if f.metricsFile != "" {
		cfg.Metrics.File = f.metricsFile
	}
}

// session bundles what a command needs to execute runs
type session struct {
	cfg      *model.Config
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// setup loads the configuration, connects the provider and builds the pipeline
func setup(ctx context.Context, f verifyFlags, stderr io.Writer) (*session, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	f.apply(cfg)

	logger := logging.New(cfg.Log, stderr)

	provider, err := newProvider(llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}
	if f.checkProvider {
		checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		available := provider.IsAvailable(checkCtx)
		cancel()
		if !available {
			return nil, fmt.Errorf("LLM provider %s is not available (check API key, base URL and model)", provider.Name())
		}
		fmt.Fprintf(stderr, "✓ Provider %s/%s is available\n", provider.Name(), cfg.LLM.Model)
	}

	var m *metrics.Metrics
	if cfg.Metrics.File != "" {
		m = metrics.New()
	}

	p, err := pipeline.New(cfg, pipeline.Options{
		Provider: provider,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, pipeline: p, metrics: m, logger: logger}, nil
}

// writeMetrics exports the metrics textfile when one is configured
func (rt *session) writeMetrics() {
	if rt.metrics == nil {
		return
	}
	if err := rt.metrics.WriteTextfile(rt.cfg.Metrics.File); err != nil {
		rt.logger.Warn("write metrics textfile", "path", rt.cfg.Metrics.File, "error", err)
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	path := args[0]
	stderr := cmd.ErrOrStderr()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, verifyOpts.timeout)
	defer cancel()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	doc, err := schema.NewValidator().DecodeScript(data)
	if err != nil {
		return err
	}

	rt, err := setup(ctx, verifyOpts, stderr)
	if err != nil {
		return err
	}
	defer rt.writeMetrics()

	if verbose {
		fmt.Fprintf(stderr, "Verifying: %s (%d rebuttals)\n", path, len(doc.Rebuttals))
		fmt.Fprintf(stderr, "Thresholds: %s\n", rt.cfg.Thresholds)
		fmt.Fprintf(stderr, "Cache: %v\n\n", rt.cfg.Cache.Enabled)
	}

	res, err := rt.pipeline.Run(ctx, doc)
	renderer := pipeline.NewRenderer(rt.cfg.Output.Indent)
	if res != nil && verifyOpts.outAudit != "" {
		if auditErr := renderer.RenderAudit(res.Audit, verifyOpts.outAudit); auditErr != nil {
			return errors.Join(err, fmt.Errorf("write audit log: %w", auditErr))
		}
		if verbose {
			fmt.Fprintf(stderr, "✓ Wrote audit log: %s\n", verifyOpts.outAudit)
		}
	}
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	if err := renderer.RenderJSON(res.Document, verifyOpts.outJSON); err != nil {
		return fmt.Errorf("write verified script: %w", err)
	}
	if verbose {
		fmt.Fprintf(stderr, "✓ Wrote verified script: %s\n", verifyOpts.outJSON)
	}
	if verifyOpts.outMD != "" {
		if err := renderer.RenderMarkdown(res.Document, verifyOpts.outMD); err != nil {
			return fmt.Errorf("write markdown report: %w", err)
		}
		if verbose {
			fmt.Fprintf(stderr, "✓ Wrote Markdown: %s\n", verifyOpts.outMD)
		}
	}

	renderer.RenderSummary(stderr, res)
	return nil
}
