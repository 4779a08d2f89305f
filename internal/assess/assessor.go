// Package assess scores rebuttal items in bounded batches through the scoring service.
package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/rebutqc/internal/audit"
	"github.com/ppiankov/rebutqc/internal/cache"
	"github.com/ppiankov/rebutqc/internal/llm"
	"github.com/ppiankov/rebutqc/internal/logging"
	"github.com/ppiankov/rebutqc/internal/metrics"
	"github.com/ppiankov/rebutqc/internal/model"
	"github.com/ppiankov/rebutqc/internal/prompt"
	"github.com/ppiankov/rebutqc/internal/worker"
)

const phase = "assess"

// Scorer issues one scoring call for a rendered evaluation prompt
type Scorer interface {
	Score(ctx context.Context, prompt string) (*llm.ScoreResult, error)
}

// Config controls batching and retries
type Config struct {
	BatchSize   int
	MaxAttempts int
	Concurrency int
	Backoff     time.Duration

	// ServiceKey names the scoring service and model for rate limiting and caching
	ServiceKey string
	CacheTTL   time.Duration
}

// DefaultConfig returns three items per batch and one retry
func DefaultConfig() Config {
	return Config{
		BatchSize:   3,
		MaxAttempts: 2,
		Concurrency: 1,
		ServiceKey:  "scoring",
	}
}

// Options are the optional collaborators of an Assessor
type Options struct {
	Limiter *worker.Limiter
	Cache   cache.Cache
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Assessor turns rebuttal items into assessment scores
type Assessor struct {
	scorer   Scorer
	template prompt.Template
	criteria string
	config   Config
	limiter  *worker.Limiter
	cache    cache.Cache
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates an Assessor. The template and criteria are fixed for its lifetime.
func New(scorer Scorer, tmpl prompt.Template, criteria prompt.Criteria, config Config, opts Options) *Assessor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	c := opts.Cache
	if c == nil {
		c = cache.Noop{}
	}
	return &Assessor{
		scorer:   scorer,
		template: tmpl,
		criteria: criteria.RenderCriteria(),
		config:   config,
		limiter:  opts.Limiter,
		cache:    c,
		metrics:  opts.Metrics,
		logger:   logging.OrDiscard(opts.Logger),
	}
}

// Outcome is the result of assessing every item of a run
type Outcome struct {
	// Assessments holds one entry per input item, in input order
	Assessments []model.Assessment
	Batches     int
	Calls       int
	CacheHits   int
}

// Failed returns the number of items that could not be assessed
func (o *Outcome) Failed() int {
	n := 0
	for _, a := range o.Assessments {
		if a.Failed() {
			n++
		}
	}
	return n
}

// cachedScores is the stored form of a validated scoring response
type cachedScores struct {
	Raw     string           `json:"raw"`
	Entries []llm.ScoreEntry `json:"entries"`
}

// Prompt renders the evaluation prompt for one batch
func (a *Assessor) Prompt(batch []model.RebuttalItem) string {
	blocks := make([]string, len(batch))
	for i, item := range batch {
		blocks[i] = prompt.RebuttalBlock(i+1, item)
	}
	return a.template.Render(map[string]string{
		prompt.PlaceholderItemCount: strconv.Itoa(len(batch)),
		prompt.PlaceholderCriteria:  a.criteria,
		prompt.PlaceholderRebuttals: strings.Join(blocks, "\n\n"),
	})
}

// Assess scores items in batches. Every item receives either a score or a
// failure reason. When ctx is cancelled, batches that had not started are
// reported as failed and the context error is returned with the outcome.
func (a *Assessor) Assess(ctx context.Context, items []model.RebuttalItem, log *audit.Log) (*Outcome, error) {
	if log == nil {
		log = audit.NewLog("")
	}
	out := &Outcome{Assessments: make([]model.Assessment, len(items))}

	caller := &worker.BatchedCaller[model.RebuttalItem, llm.ScoreEntry]{
		Key:         a.config.ServiceKey,
		BatchSize:   a.config.BatchSize,
		MaxAttempts: a.config.MaxAttempts,
		Concurrency: a.config.Concurrency,
		Backoff:     a.config.Backoff,
		Limiter:     a.limiter,
		Call:        a.call,
		Validate:    validateScores,
		Retryable:   llm.IsRetryable,
		Lookup:      a.lookup,
		OnBatch: func(res *worker.BatchResult[model.RebuttalItem, llm.ScoreEntry]) {
			a.collect(res, out, log)
		},
	}

	_, err := caller.Run(ctx, items)
	if err != nil {
		return out, fmt.Errorf("assess: %w", err)
	}
	return out, nil
}

func (a *Assessor) call(ctx context.Context, batch []model.RebuttalItem) (worker.Response[llm.ScoreEntry], error) {
	res, err := a.scorer.Score(ctx, a.Prompt(batch))
	if res == nil {
		return worker.Response[llm.ScoreEntry]{}, err
	}
	return worker.Response[llm.ScoreEntry]{Items: res.Entries, Raw: res.Raw}, err
}

func (a *Assessor) lookup(batch []model.RebuttalItem) (worker.Response[llm.ScoreEntry], bool) {
	var cached cachedScores
	hit := cache.GetJSON(a.cache, a.cacheKey(batch), &cached)
	a.metrics.ObserveCacheLookup(hit)
	if !hit {
		return worker.Response[llm.ScoreEntry]{}, false
	}
	return worker.Response[llm.ScoreEntry]{Items: cached.Entries, Raw: cached.Raw}, true
}

func (a *Assessor) cacheKey(batch []model.RebuttalItem) string {
	return cache.Key(a.config.ServiceKey, a.Prompt(batch))
}

// validateScores rejects responses whose count, order or ranges do not match the batch
func validateScores(batch []model.RebuttalItem, resp worker.Response[llm.ScoreEntry]) error {
	if err := matchEntries(batch, resp.Items); err != nil {
		return err
	}
	var bad []string
	for i, entry := range resp.Items {
		if _, err := entry.Score(); err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", batch[i].ID, err))
		}
	}
	if len(bad) > 0 {
		return &llm.ParseError{Reason: "scores out of range (" + strings.Join(bad, "; ") + ")", Raw: resp.Raw}
	}
	return nil
}

// matchEntries checks that entries line up with the batch one to one.
// Entries are matched by position; an id, when given, must agree.
func matchEntries(batch []model.RebuttalItem, entries []llm.ScoreEntry) error {
	if len(entries) != len(batch) {
		return &llm.ParseError{Reason: fmt.Sprintf("expected %d scores, got %d", len(batch), len(entries))}
	}
	for i, entry := range entries {
		if entry.ID != "" && entry.ID != batch[i].ID {
			return &llm.ParseError{Reason: fmt.Sprintf("score %d is for %q, expected %q", i+1, entry.ID, batch[i].ID)}
		}
	}
	return nil
}

type parsedScore struct {
	ID    string                 `json:"id"`
	Score *model.AssessmentScore `json:"score,omitempty"`
	Error string                 `json:"error,omitempty"`
}

func parseEntries(entries []llm.ScoreEntry) []parsedScore {
	parsed := make([]parsedScore, len(entries))
	for i, e := range entries {
		parsed[i].ID = e.ID
		score, err := e.Score()
		if err != nil {
			parsed[i].Error = err.Error()
			continue
		}
		parsed[i].Score = &score
	}
	return parsed
}

// collect runs on the caller's collector goroutine only
func (a *Assessor) collect(res *worker.BatchResult[model.RebuttalItem, llm.ScoreEntry], out *Outcome, log *audit.Log) {
	out.Batches++
	ids := itemIDs(res.Items)

	if res.Skipped {
		log.Append(audit.Record{
			Phase:  audit.PhaseAssess,
			Action: audit.ActionBatchSkipped,
			Batch:  audit.BatchIndex(res.Index),
			Items:  ids,
			Detail: "run cancelled before the batch started",
		})
		for i, item := range res.Items {
			out.Assessments[res.Offset+i] = model.Assessment{ItemID: item.ID, Failure: "not assessed: run cancelled"}
		}
		return
	}

	for _, attempt := range res.Attempts {
		rec := audit.Record{
			Phase:     audit.PhaseAssess,
			Action:    audit.ActionBatchCall,
			Batch:     audit.BatchIndex(res.Index),
			Attempt:   attempt.Number,
			Items:     ids,
			LatencyMS: attempt.Latency.Milliseconds(),
			Raw:       attempt.Response.Raw,
			Parsed:    parseEntries(attempt.Response.Items),
		}
		if attempt.Cached {
			rec.Action = audit.ActionCacheHit
			out.CacheHits++
		} else {
			out.Calls++
			a.metrics.ObserveCall(phase, attempt.Err, attempt.Latency)
			if attempt.Number > 1 {
				a.metrics.IncRetry(phase)
			}
		}
		if attempt.Err != nil {
			rec.Detail = attempt.Err.Error()
		}
		log.Append(rec)

		a.logger.Debug("scoring batch call",
			"batch", res.Index, "attempt", attempt.Number, "items", len(res.Items),
			"latency", attempt.Latency, "cached", attempt.Cached, "error", attempt.Err)
	}

	last := res.Last()
	if res.Err == nil {
		for i, item := range res.Items {
			score, _ := last.Response.Items[i].Score()
			out.Assessments[res.Offset+i] = model.Assessment{ItemID: item.ID, Score: &score}
		}
		if !last.Cached {
			entry := cachedScores{Raw: last.Response.Raw, Entries: last.Response.Items}
			if err := cache.SetJSON(a.cache, a.cacheKey(res.Items), entry, a.config.CacheTTL); err != nil {
				a.logger.Warn("cache scoring response", "batch", res.Index, "error", err)
			}
		}
		return
	}

	a.logger.Warn("scoring batch failed", "batch", res.Index, "attempts", len(res.Attempts), "error", res.Err)

	// An aligned response keeps its in-range scores; only the invalid items fail
	var entries []llm.ScoreEntry
	if last != nil {
		entries = last.Response.Items
	}
	aligned := last != nil && matchEntries(res.Items, entries) == nil
	reason := failureReason(res.Err, len(res.Attempts))
	for i, item := range res.Items {
		assessment := model.Assessment{ItemID: item.ID, Failure: reason}
		if aligned {
			if score, err := entries[i].Score(); err == nil {
				assessment = model.Assessment{ItemID: item.ID, Score: &score}
			} else {
				assessment.Failure = failureReason(err, len(res.Attempts))
			}
		}
		out.Assessments[res.Offset+i] = assessment
	}
}

func failureReason(err error, attempts int) string {
	var serr *llm.ServiceError
	kind := "invalid scoring response"
	if errors.As(err, &serr) {
		kind = "scoring service failed"
	}
	return fmt.Sprintf("%s after %d attempt(s): %v", kind, attempts, err)
}

func itemIDs(items []model.RebuttalItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
