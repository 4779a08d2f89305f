// Package rewrite improves flagged rebuttals in bounded batches through the rewriting service.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/rebutqc/internal/audit"
	"github.com/ppiankov/rebutqc/internal/llm"
	"github.com/ppiankov/rebutqc/internal/logging"
	"github.com/ppiankov/rebutqc/internal/metrics"
	"github.com/ppiankov/rebutqc/internal/model"
	"github.com/ppiankov/rebutqc/internal/prompt"
	"github.com/ppiankov/rebutqc/internal/worker"
)

const phase = "rewrite"

// Generator issues one rewriting call for a rendered rewrite prompt
type Generator interface {
	Rewrite(ctx context.Context, prompt string) (*llm.RewriteResult, error)
}

// Config controls batching and retries
type Config struct {
	BatchSize   int
	MaxAttempts int
	Concurrency int
	Backoff     time.Duration
	ServiceKey  string
}

// DefaultConfig returns two items per batch and one retry
func DefaultConfig() Config {
	return Config{
		BatchSize:   2,
		MaxAttempts: 2,
		Concurrency: 1,
		ServiceKey:  "rewriting",
	}
}

// Options are the optional collaborators of a Rewriter
type Options struct {
	Limiter *worker.Limiter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Flagged is an item whose decision requires a rewrite
type Flagged struct {
	Item     model.RebuttalItem
	Score    model.AssessmentScore
	Decision model.RewriteDecision
}

// Rewriter produces improved text for flagged items
type Rewriter struct {
	generator  Generator
	template   prompt.Template
	criteria   prompt.Criteria
	thresholds model.Thresholds
	config     Config
	limiter    *worker.Limiter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Rewriter. The template, criteria and thresholds are fixed for its lifetime.
func New(generator Generator, tmpl prompt.Template, criteria prompt.Criteria, thresholds model.Thresholds, config Config, opts Options) *Rewriter {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Rewriter{
		generator:  generator,
		template:   tmpl,
		criteria:   criteria,
		thresholds: thresholds,
		config:     config,
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		logger:     logging.OrDiscard(opts.Logger),
		now:        now,
	}
}

// Outcome is the result of rewriting every flagged item of a run
type Outcome struct {
	// Rewrites holds one entry per flagged item, in the order given
	Rewrites []model.RewriteOutcome
	Batches  int
	Calls    int
}

// Failed returns the number of flagged items left without an improvement
func (o *Outcome) Failed() int {
	n := 0
	for _, r := range o.Rewrites {
		if r.Failed() {
			n++
		}
	}
	return n
}

// parsed is a response entry stamped with the time it was parsed
type parsed struct {
	llm.RewriteEntry
	ParsedAt time.Time `json:"parsed_at"`
}

// Prompt renders the rewrite prompt for one batch
func (r *Rewriter) Prompt(batch []Flagged) string {
	blocks := make([]string, len(batch))
	var dims []model.Dimension
	for i, f := range batch {
		blocks[i] = prompt.RebuttalBlock(i+1, f.Item, "weak dimensions: "+r.weakness(f))
		dims = append(dims, f.Decision.Failing...)
	}
	return r.template.Render(map[string]string{
		prompt.PlaceholderItemCount: strconv.Itoa(len(batch)),
		prompt.PlaceholderGuidance:  r.criteria.RenderGuidance(dims),
		prompt.PlaceholderRebuttals: strings.Join(blocks, "\n\n"),
	})
}

// weakness lists the failing dimensions of an item with its score and the bar it missed
func (r *Rewriter) weakness(f Flagged) string {
	parts := make([]string, 0, len(f.Decision.Failing))
	for _, d := range f.Decision.Failing {
		parts = append(parts, fmt.Sprintf("%s (scored %d, needs %d)", d, f.Score.Get(d), r.thresholds.For(d)))
	}
	return strings.Join(parts, ", ")
}

// Rewrite improves flagged items in batches. Every flagged item receives
// either an improvement or a failure reason; failed items keep their
// original text. When ctx is cancelled, batches that had not started are
// reported as failed and the context error is returned with the outcome.
func (r *Rewriter) Rewrite(ctx context.Context, flagged []Flagged, log *audit.Log) (*Outcome, error) {
	if log == nil {
		log = audit.NewLog("")
	}
	out := &Outcome{Rewrites: make([]model.RewriteOutcome, len(flagged))}

	caller := &worker.BatchedCaller[Flagged, parsed]{
		Key:         r.config.ServiceKey,
		BatchSize:   r.config.BatchSize,
		MaxAttempts: r.config.MaxAttempts,
		Concurrency: r.config.Concurrency,
		Backoff:     r.config.Backoff,
		Limiter:     r.limiter,
		Call:        r.call,
		Validate:    validateRewrites,
		Retryable:   llm.IsRetryable,
		OnBatch: func(res *worker.BatchResult[Flagged, parsed]) {
			r.collect(res, out, log)
		},
	}

	if _, err := caller.Run(ctx, flagged); err != nil {
		return out, fmt.Errorf("rewrite: %w", err)
	}
	return out, nil
}

func (r *Rewriter) call(ctx context.Context, batch []Flagged) (worker.Response[parsed], error) {
	res, err := r.generator.Rewrite(ctx, r.Prompt(batch))
	if res == nil {
		return worker.Response[parsed]{}, err
	}
	parsedAt := r.now().UTC()
	items := make([]parsed, len(res.Entries))
	for i, e := range res.Entries {
		items[i] = parsed{RewriteEntry: e, ParsedAt: parsedAt}
	}
	return worker.Response[parsed]{Items: items, Raw: res.Raw}, err
}

// validateRewrites rejects responses whose count or order do not match the
// batch, or that leave an item without improved text
func validateRewrites(batch []Flagged, resp worker.Response[parsed]) error {
	if len(resp.Items) != len(batch) {
		return &llm.ParseError{Reason: fmt.Sprintf("expected %d rewrites, got %d", len(batch), len(resp.Items)), Raw: resp.Raw}
	}
	for i, entry := range resp.Items {
		id := batch[i].Item.ID
		if entry.ID != "" && entry.ID != id {
			return &llm.ParseError{Reason: fmt.Sprintf("rewrite %d is for %q, expected %q", i+1, entry.ID, id), Raw: resp.Raw}
		}
		if strings.TrimSpace(entry.ImprovedText) == "" {
			return &llm.ParseError{Reason: fmt.Sprintf("empty improved text for %q", id), Raw: resp.Raw}
		}
	}
	return nil
}

// collect runs on the caller's collector goroutine only
func (r *Rewriter) collect(res *worker.BatchResult[Flagged, parsed], out *Outcome, log *audit.Log) {
	out.Batches++
	ids := make([]string, len(res.Items))
	for i, f := range res.Items {
		ids[i] = f.Item.ID
	}

	if res.Skipped {
		log.Append(audit.Record{
			Phase:  audit.PhaseRewrite,
			Action: audit.ActionBatchSkipped,
			Batch:  audit.BatchIndex(res.Index),
			Items:  ids,
			Detail: "run cancelled before the batch started",
		})
		for i, f := range res.Items {
			out.Rewrites[res.Offset+i] = model.RewriteOutcome{ItemID: f.Item.ID, Failure: "not rewritten: run cancelled"}
		}
		return
	}

	for _, attempt := range res.Attempts {
		out.Calls++
		r.metrics.ObserveCall(phase, attempt.Err, attempt.Latency)
		if attempt.Number > 1 {
			r.metrics.IncRetry(phase)
		}
		rec := audit.Record{
			Phase:     audit.PhaseRewrite,
			Action:    audit.ActionBatchCall,
			Batch:     audit.BatchIndex(res.Index),
			Attempt:   attempt.Number,
			Items:     ids,
			LatencyMS: attempt.Latency.Milliseconds(),
			Raw:       attempt.Response.Raw,
			Parsed:    attempt.Response.Items,
		}
		if attempt.Err != nil {
			rec.Detail = attempt.Err.Error()
		}
		log.Append(rec)

		r.logger.Debug("rewriting batch call",
			"batch", res.Index, "attempt", attempt.Number, "items", len(res.Items),
			"latency", attempt.Latency, "error", attempt.Err)
	}

	if res.Err != nil {
		r.logger.Warn("rewriting batch failed", "batch", res.Index, "attempts", len(res.Attempts), "error", res.Err)
		reason := failureReason(res.Err, len(res.Attempts))
		for i, f := range res.Items {
			out.Rewrites[res.Offset+i] = model.RewriteOutcome{ItemID: f.Item.ID, Failure: reason}
		}
		return
	}

	entries := res.Responses()
	for i, f := range res.Items {
		e := entries[i]
		out.Rewrites[res.Offset+i] = model.RewriteOutcome{
			ItemID: f.Item.ID,
			Improvement: &model.ImprovedRebuttal{
				OriginalText: f.Item.Text,
				ImprovedText: strings.TrimSpace(e.ImprovedText),
				Reasoning:    strings.TrimSpace(e.Reasoning),
				CreatedAt:    e.ParsedAt,
			},
		}
	}
}

func failureReason(err error, attempts int) string {
	var serr *llm.ServiceError
	kind := "invalid rewriting response"
	if errors.As(err, &serr) {
		kind = "rewriting service failed"
	}
	return fmt.Sprintf("%s after %d attempt(s): %v", kind, attempts, err)
}
