// Package pipeline runs the assess, decide, rewrite and aggregate phases over
// one script document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/rebutqc/internal/aggregate"
	"github.com/ppiankov/rebutqc/internal/assess"
	"github.com/ppiankov/rebutqc/internal/audit"
	"github.com/ppiankov/rebutqc/internal/cache"
	"github.com/ppiankov/rebutqc/internal/decide"
	"github.com/ppiankov/rebutqc/internal/llm"
	"github.com/ppiankov/rebutqc/internal/logging"
	"github.com/ppiankov/rebutqc/internal/metrics"
	"github.com/ppiankov/rebutqc/internal/model"
	"github.com/ppiankov/rebutqc/internal/prompt"
	"github.com/ppiankov/rebutqc/internal/rewrite"
	"github.com/ppiankov/rebutqc/internal/schema"
	"github.com/ppiankov/rebutqc/internal/worker"
)

// ErrFailuresPresent is returned under the abort failure policy when any item
// ended in a failure state. The audit log is still available on the result.
var ErrFailuresPresent = errors.New("run finished with failed items")

const assessOnlyFailure = "rewrite skipped (assess-only)"

// Options are the collaborators of a Pipeline. Provider is required; the rest
// default from the configuration.
type Options struct {
	Provider  llm.Provider
	Templates prompt.TemplateProvider
	Cache     cache.Cache
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
	NewRunID  func() string
}

// Pipeline orchestrates a verification run. Templates, thresholds and
// clients are fixed at construction and shared read-only by every run.
type Pipeline struct {
	config     *model.Config
	validator  *schema.Validator
	engine     *decide.Engine
	templates  *prompt.Set
	assessor   *assess.Assessor
	rewriter   *rewrite.Rewriter
	aggregator *aggregate.Aggregator
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	newRunID   func() string
}

// New validates the configuration, loads the templates once and wires the
// phase components. Invalid thresholds, configuration or templates are fatal.
func New(cfg *model.Config, opts Options) (*Pipeline, error) {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("pipeline: no LLM provider")
	}

	validator := schema.NewValidator()
	if err := validator.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	engine, err := decide.NewEngine(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	templateSource := opts.Templates
	if templateSource == nil {
		templateSource = TemplateProvider(cfg.Templates, time.Duration(cfg.LLM.Timeout)*time.Second)
	}
	templates, err := prompt.LoadSet(templateSource)
	if err != nil {
		return nil, err
	}

	logger := logging.OrDiscard(opts.Logger)
	for _, w := range templates.Warnings {
		logger.Warn("template fallback", "warning", w)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newRunID := opts.NewRunID
	if newRunID == nil {
		newRunID = func() string { return uuid.NewString() }
	}

	c := opts.Cache
	if c == nil {
		c = CacheFromConfig(cfg.Cache)
	}

	llmConfig := llm.ConfigFromModel(cfg.LLM)
	scorer := llm.NewScoringClient(opts.Provider, llmConfig)
	generator := llm.NewRewritingClient(opts.Provider, llmConfig)
	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	criteria := prompt.CriteriaFromConfig(cfg.Criteria)

	assessor := assess.New(scorer, templates.Evaluation, criteria, assess.Config{
		BatchSize:   cfg.Batching.AssessSize,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Concurrency: cfg.Concurrency.MaxCalls,
		Backoff:     cfg.Retry.Backoff,
		ServiceKey:  opts.Provider.Name() + "/" + scorer.Model(),
		CacheTTL:    cfg.Cache.DiskTTL,
	}, assess.Options{Limiter: limiter, Cache: c, Metrics: opts.Metrics, Logger: logger})

	rewriter := rewrite.New(generator, templates.Rewrite, criteria, engine.Thresholds(), rewrite.Config{
		BatchSize:   cfg.Batching.RewriteSize,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Concurrency: cfg.Concurrency.MaxCalls,
		Backoff:     cfg.Retry.Backoff,
		ServiceKey:  opts.Provider.Name() + "/" + generator.Model(),
	}, rewrite.Options{Limiter: limiter, Metrics: opts.Metrics, Logger: logger, Now: now})

	aggregator := aggregate.New(opts.Metrics)
	aggregator.SetClock(now)

	return &Pipeline{
		config:     cfg,
		validator:  validator,
		engine:     engine,
		templates:  templates,
		assessor:   assessor,
		rewriter:   rewriter,
		aggregator: aggregator,
		metrics:    opts.Metrics,
		logger:     logger,
		now:        now,
		newRunID:   newRunID,
	}, nil
}

// TemplateProvider selects the external template source configured in cfg,
// or nil when only the builtin templates should be used
func TemplateProvider(cfg model.TemplatesConfig, timeout time.Duration) prompt.TemplateProvider {
	switch {
	case cfg.URL != "":
		return prompt.NewRemoteProvider(cfg.URL, timeout)
	case cfg.Dir != "" || cfg.EvaluationPath != "" || cfg.RewritePath != "":
		return prompt.NewFileProvider(cfg.Dir, cfg.EvaluationPath, cfg.RewritePath)
	}
	return nil
}

// CacheFromConfig builds the scoring response cache
func CacheFromConfig(cfg model.CacheConfig) cache.Cache {
	if !cfg.Enabled || cfg.Dir == "" {
		return cache.Noop{}
	}
	return cache.NewTiered(cfg.MemoryTTL, cfg.Dir, cfg.DiskTTL)
}

// Warnings returns the non-fatal warnings raised while loading templates
func (p *Pipeline) Warnings() []string {
	return p.templates.Warnings
}

// Result is the outcome of a run. Audit is always set; Document is set only
// when the run produced a fully valid verified document.
type Result struct {
	RunID    string
	Document *model.VerifiedDocument
	Audit    *audit.Log
	Warnings []string
	Assess   *assess.Outcome
	Rewrite  *rewrite.Outcome
	Duration time.Duration
}

// Run verifies one script document
func (p *Pipeline) Run(ctx context.Context, doc *model.ScriptDocument) (*Result, error) {
	start := p.now()
	runID := p.newRunID()
	log := audit.NewLog(runID)
	log.SetClock(p.now)

	res := &Result{
		RunID:    runID,
		Audit:    log,
		Warnings: append([]string(nil), p.templates.Warnings...),
	}
	defer func() { res.Duration = p.now().Sub(start) }()

	log.Append(audit.Record{
		Phase:  audit.PhaseRun,
		Action: audit.ActionRunStarted,
		Detail: fmt.Sprintf("thresholds %s", p.engine.Thresholds()),
	})
	for _, w := range res.Warnings {
		log.Append(audit.Record{Phase: audit.PhaseRun, Action: audit.ActionWarning, Detail: w})
	}

	if err := p.validator.Validate(doc, schema.KindInput); err != nil {
		return res, p.fail(log, err)
	}
	items := doc.Items()
	p.logger.Info("verification started", "run_id", runID, "items", len(items))

	assessed, err := p.assessor.Assess(ctx, items, log)
	res.Assess = assessed
	if err != nil {
		return res, p.cancelled(log, err)
	}

	decisions := make(map[string]model.RewriteDecision, len(items))
	var flagged []rewrite.Flagged
	for i, a := range assessed.Assessments {
		if a.Failed() {
			continue
		}
		decision := p.engine.Decide(*a.Score)
		decisions[a.ItemID] = decision
		if decision.NeedsRewrite {
			flagged = append(flagged, rewrite.Flagged{Item: items[i], Score: *a.Score, Decision: decision})
		}
	}
	p.logger.Info("assessment finished",
		"run_id", runID, "assessed", len(decisions), "failed", assessed.Failed(), "flagged", len(flagged))

	var rewrites []model.RewriteOutcome
	switch {
	case len(flagged) == 0:
	case p.config.Pipeline.AssessOnly:
		for _, f := range flagged {
			rewrites = append(rewrites, model.RewriteOutcome{ItemID: f.Item.ID, Failure: assessOnlyFailure})
		}
	default:
		rewritten, err := p.rewriter.Rewrite(ctx, flagged, log)
		res.Rewrite = rewritten
		if err != nil {
			return res, p.cancelled(log, err)
		}
		rewrites = rewritten.Rewrites
		p.logger.Info("rewrite finished", "run_id", runID, "flagged", len(flagged), "failed", rewritten.Failed())
	}

	verified, err := p.aggregator.Aggregate(aggregate.Input{
		RunID:       runID,
		Document:    doc,
		Items:       items,
		Assessments: assessed.Assessments,
		Decisions:   decisions,
		Rewrites:    rewrites,
		Thresholds:  p.engine.Thresholds(),
		Warnings:    res.Warnings,
	}, log)
	if err != nil {
		return res, p.fail(log, err)
	}
	if err := p.validator.Validate(verified, schema.KindVerified); err != nil {
		return res, p.fail(log, fmt.Errorf("verified document: %w", err))
	}

	s := verified.Verification
	summary := fmt.Sprintf("total=%d passed=%d rewritten=%d rewrite_failed=%d assessment_failed=%d",
		s.Total, s.Passed, s.Rewritten, s.RewriteFailed, s.AssessmentFailed)

	failures := s.AssessmentFailed
	if !p.config.Pipeline.AssessOnly {
		failures += s.RewriteFailed
	}
	if failures > 0 && p.config.Pipeline.FailurePolicy == model.FailurePolicyAbort {
		return res, p.fail(log, fmt.Errorf("%w: %s", ErrFailuresPresent, summary))
	}

	log.Append(audit.Record{Phase: audit.PhaseRun, Action: audit.ActionRunFinished, Detail: summary})
	p.logger.Info("verification finished", "run_id", runID, "summary", summary)

	res.Document = verified
	return res, nil
}

// fail records a fatal error in the audit log and returns it
func (p *Pipeline) fail(log *audit.Log, err error) error {
	log.Append(audit.Record{Phase: audit.PhaseRun, Action: audit.ActionRunFinished, Detail: "failed: " + err.Error()})
	p.logger.Error("verification failed", "run_id", log.RunID(), "error", err)
	return err
}

// cancelled records an aborted run; audit records of completed batches are kept
func (p *Pipeline) cancelled(log *audit.Log, err error) error {
	log.Append(audit.Record{Phase: audit.PhaseRun, Action: audit.ActionRunCancelled, Detail: err.Error()})
	p.logger.Warn("verification cancelled", "run_id", log.RunID(), "error", err)
	return err
}
