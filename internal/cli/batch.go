package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rebutqc/internal/pipeline"
	"github.com/ppiankov/rebutqc/internal/schema"
	"github.com/ppiankov/rebutqc/internal/worker"
)

var (
	batchOpts   verifyFlags
	concurrency int
	outputDir   string
	writeMD     bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <script.json>...",
	Short: "Verify several scripts with shared templates and rate limits",
	Long: `Batch verifies several scripts:
- Templates are loaded once and shared by every script
- Scripts run concurrently with a configurable worker count
- All scripts share the rate limiter in front of the LLM service
- Each script gets its own verified script, audit log and optional report

Example:
  rebutqc batch episodes/*.json
  rebutqc batch episodes/*.json --concurrency 2 --output-dir ./verified --md`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 2, "number of scripts verified at the same time")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./rebutqc-out", "output directory for verified scripts and audit logs")
	batchCmd.Flags().BoolVar(&writeMD, "md", false, "also write a Markdown report per script")
	batchCmd.Flags().StringVar(&batchOpts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile (optional)")
	addRunFlags(batchCmd, &batchOpts)
}

// scriptJob verifies one script file. The run context travels with the job
// so that cancelling the command cancels the runs in flight.
type scriptJob struct {
	ctx      context.Context
	path     string
	pipeline *pipeline.Pipeline
}

// scriptResult is the outcome of one scriptJob
type scriptResult struct {
	path   string
	result *pipeline.Result
	err    error
}

func (r *scriptResult) GetError() error {
	return r.err
}

func (j *scriptJob) Execute(context.Context) worker.Result {
	out := &scriptResult{path: j.path}
	data, err := os.ReadFile(j.path)
	if err != nil {
		out.err = fmt.Errorf("read script: %w", err)
		return out
	}
	doc, err := schema.NewValidator().DecodeScript(data)
	if err != nil {
		out.err = err
		return out
	}
	out.result, out.err = j.pipeline.Run(j.ctx, doc)
	return out
}

func runBatch(cmd *cobra.Command, args []string) error {
	stderr := cmd.ErrOrStderr()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, batchOpts.timeout)
	defer cancel()

	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(stderr, "  rebutqc Batch Verification\n")
	fmt.Fprintf(stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "  Scripts:      %d\n", len(args))
	fmt.Fprintf(stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(stderr, "  Timeout:      %v\n", batchOpts.timeout)
	fmt.Fprintf(stderr, "\n")

	rt, err := setup(ctx, batchOpts, stderr)
	if err != nil {
		return err
	}
	defer rt.writeMetrics()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	pool := worker.NewPool(concurrency)
	pool.Start()
	go func() {
		for _, path := range args {
			pool.Submit(&scriptJob{ctx: ctx, path: path, pipeline: rt.pipeline})
		}
		pool.Close()
	}()

	renderer := pipeline.NewRenderer(rt.cfg.Output.Indent)
	successCount, failureCount := 0, 0
	start := time.Now()

	for r := range pool.Results() {
		res := r.(*scriptResult)
		base := filepath.Join(outputDir, sanitizeFilename(res.path))

		if res.result != nil {
			if err := renderer.RenderAudit(res.result.Audit, base+".audit.jsonl"); err != nil {
				fmt.Fprintf(stderr, "✗ %s: failed to write audit log: %v\n", res.path, err)
			}
		}
		if res.err != nil {
			failureCount++
			fmt.Fprintf(stderr, "✗ %s: %v\n", res.path, res.err)
			continue
		}

		doc := res.result.Document
		if err := renderer.RenderJSON(doc, base+".verified.json"); err != nil {
			failureCount++
			fmt.Fprintf(stderr, "✗ %s: failed to write verified script: %v\n", res.path, err)
			continue
		}
		if writeMD {
			if err := renderer.RenderMarkdown(doc, base+".md"); err != nil {
				fmt.Fprintf(stderr, "✗ %s: failed to write Markdown: %v\n", res.path, err)
			}
		}

		successCount++
		s := doc.Verification
		fmt.Fprintf(stderr, "✓ %s (passed %d, rewritten %d, failed %d of %d)\n",
			res.path, s.Passed, s.Rewritten, s.RewriteFailed+s.AssessmentFailed, s.Total)
	}

	// Summary
	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(stderr, "  Batch Complete\n")
	fmt.Fprintf(stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "  Total:     %d scripts\n", len(args))
	fmt.Fprintf(stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(stderr, "  Duration:  %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(stderr, "\n")

	if failureCount > 0 {
		return fmt.Errorf("%d of %d scripts failed", failureCount, len(args))
	}
	return nil
}

// sanitizeFilename derives an output file stem from a script path
func sanitizeFilename(path string) string {
	s := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "-",
	)
	s = replacer.Replace(s)

	// Limit length
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" || s == "." {
		s = "script"
	}
	return s
}
