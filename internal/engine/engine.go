// Package engine orchestrates expense categorization: user preference
// lookup, fuzzy pattern matching, confidence scoring, and write-back.
package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ledgerline/categorizer/internal/breaker"
	"github.com/ledgerline/categorizer/internal/common"
	"github.com/ledgerline/categorizer/internal/confidence"
	"github.com/ledgerline/categorizer/internal/learner"
	"github.com/ledgerline/categorizer/internal/match"
	"github.com/ledgerline/categorizer/internal/model"
	"github.com/ledgerline/categorizer/internal/service"
)

// Caller-safe messages for degraded results. Raw backend error text is
// logged, never returned.
const (
	msgInvalidExpense = "expense must include a merchant name or description"
	msgCircuitOpen    = "categorization is temporarily paused while the backend recovers"
	msgTimeout        = "categorization timed out"
	msgCanceled       = "categorization was canceled"
	msgBackend        = "categorization is unavailable right now"
)

// handler is the shape every pipeline middleware wraps.
type handler func(ctx context.Context, expense *model.Expense, opts Options) model.CategorizationResult

// Engine coordinates the categorization pipeline. A single Engine is safe
// for concurrent use.
type Engine struct {
	storage      service.Storage
	patterns     service.PatternSource
	matcher      *match.Matcher
	calculator   *confidence.Calculator
	learner      *learner.Learner
	breaker      *breaker.CircuitBreaker
	writeLimiter *rate.Limiter
	metrics      service.MetricsSink
	handler      handler
	opts         Options

	mu       sync.Mutex
	counters counters
}

// New creates an engine with default options.
func New(store service.Storage, patterns service.PatternSource) *Engine {
	return NewWithOptions(store, patterns, DefaultOptions())
}

// NewWithOptions creates an engine with the given base options. Per-call
// overrides can still adjust individual runs.
func NewWithOptions(store service.Storage, patterns service.PatternSource, opts Options, overrides ...Override) *Engine {
	e := &Engine{
		storage:      store,
		patterns:     patterns,
		matcher:      match.NewMatcher(),
		calculator:   confidence.New(confidence.DefaultConfig()),
		learner:      learner.New(store, learner.DefaultOptions()),
		breaker:      breaker.New(breaker.DefaultConfig()),
		writeLimiter: rate.NewLimiter(rate.Inf, 0),
		metrics:      slogSink{},
		opts:         opts.normalized(),
	}
	e.opts = e.opts.apply(overrides...)
	// Middleware is composed once here so the call path is explicit.
	e.handler = e.loggingMiddleware(e.timingMiddleware(e.categorizeOnce))
	return e
}

// SetMetricsSink replaces the default slog-backed sink. Call before the
// engine starts serving.
func (e *Engine) SetMetricsSink(sink service.MetricsSink) {
	if sink != nil {
		e.metrics = sink
	}
}

// SetWriteBackLimit throttles step-8 expense updates. The default is
// unlimited.
func (e *Engine) SetWriteBackLimit(limit rate.Limit, burst int) {
	e.writeLimiter = rate.NewLimiter(limit, burst)
}

// Categorize runs the full pipeline for one expense. It never returns an
// error: failures surface as results with method "error" and a caller-safe
// message.
func (e *Engine) Categorize(ctx context.Context, expense *model.Expense, overrides ...Override) model.CategorizationResult {
	opts := e.opts.apply(overrides...)
	return e.handler(ctx, expense, opts)
}

// pipelineOutcome carries the result plus the backend error, if any, so
// the breaker can be fed the true outcome even for abandoned calls.
type pipelineOutcome struct {
	backendErr error
	result     model.CategorizationResult
}

func (e *Engine) categorizeOnce(ctx context.Context, expense *model.Expense, opts Options) model.CategorizationResult {
	correlationID := uuid.NewString()

	if expense == nil || !expense.HasText() {
		return errorResult(correlationID, msgInvalidExpense)
	}

	if err := e.breaker.Allow(); err != nil {
		e.count(func(c *counters) { c.circuitRejections++ })
		common.LogWarn("categorization rejected by open circuit",
			common.Fields{"correlation_id": correlationID, "expense_id": expense.ID})
		return errorResult(correlationID, msgCircuitOpen)
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	outCh := make(chan pipelineOutcome, 1)
	go func() {
		out := e.runPipeline(runCtx, expense, opts, correlationID)
		// The breaker learns the true outcome even if the caller has
		// already given up on this run. Deadline expiry is not a backend
		// failure; recording success releases any half-open permit
		// without counting against the failure threshold.
		if out.backendErr != nil && !isDeadlineError(out.backendErr) {
			e.breaker.RecordFailure()
		} else {
			e.breaker.RecordSuccess()
		}
		outCh <- out
	}()

	select {
	case out := <-outCh:
		if out.backendErr != nil {
			common.LogError(out.backendErr, "categorization backend failure",
				common.Fields{"correlation_id": correlationID, "expense_id": expense.ID})
		}
		return out.result
	case <-runCtx.Done():
		e.count(func(c *counters) { c.timeouts++ })
		msg := msgTimeout
		if errors.Is(runCtx.Err(), context.Canceled) {
			msg = msgCanceled
		}
		common.LogWarn("categorization deadline exceeded",
			common.Fields{
				"correlation_id": correlationID,
				"expense_id":     expense.ID,
				"timeout_ms":     opts.Timeout.Milliseconds(),
			})
		return errorResult(correlationID, msg)
	}
}

func (e *Engine) runPipeline(ctx context.Context, expense *model.Expense, opts Options, correlationID string) pipelineOutcome {
	if opts.CheckUserPreferences && strings.TrimSpace(expense.MerchantName) != "" {
		if out := e.checkPreference(ctx, expense, opts, correlationID); out != nil {
			return *out
		}
	}

	if err := ctx.Err(); err != nil {
		return pipelineOutcome{result: errorResult(correlationID, msgTimeout)}
	}

	candidates, err := e.patterns.GetPatternsForExpense(ctx, expense)
	if err != nil {
		return backendFailure(correlationID, err)
	}

	matches := e.matchCandidates(expense, candidates, opts.MinConfidence)
	if len(matches) == 0 {
		return pipelineOutcome{result: noMatchResult(correlationID)}
	}

	ranked := e.scoreCandidates(expense, matches)
	top := ranked[0]
	if top.confidence < opts.MinConfidence {
		result := noMatchResult(correlationID)
		result.Metadata = map[string]any{"best_rejected_confidence": top.confidence}
		return pipelineOutcome{result: result}
	}

	category, err := e.storage.GetCategoryByID(ctx, top.match.Pattern.CategoryID)
	if err != nil {
		return backendFailure(correlationID, err)
	}

	result := model.CategorizationResult{
		CorrelationID: correlationID,
		Method:        model.MethodFuzzy,
		Category:      category,
		Confidence:    top.confidence,
		PatternsUsed: []model.PatternDescriptor{{
			PatternID: top.match.Pattern.ID,
			Type:      top.match.Pattern.Type,
			Value:     top.match.Pattern.Value,
			Score:     top.match.Score,
		}},
		ConfidenceBreakdown: top.breakdown,
		Metadata: map[string]any{
			"candidate_categories": len(ranked),
			"high_confidence":      top.confidence >= opts.HighConfidenceThreshold,
		},
	}

	if opts.IncludeAlternatives && len(ranked) > 1 {
		alts, altErr := e.loadAlternatives(ctx, ranked[1:], opts.MaxAlternatives)
		if altErr != nil {
			return backendFailure(correlationID, altErr)
		}
		result.Alternatives = alts
	}

	if opts.AutoUpdate && top.confidence >= opts.AutoCategorizeThreshold {
		result.Metadata["auto_applied"] = e.writeBack(ctx, expense, category.ID, top.confidence, correlationID)
	}

	return pipelineOutcome{result: result}
}

// checkPreference resolves the merchant override short-circuit. It returns
// nil when the pipeline should continue to fuzzy matching.
func (e *Engine) checkPreference(ctx context.Context, expense *model.Expense, opts Options, correlationID string) *pipelineOutcome {
	pref, err := e.patterns.GetUserPreference(ctx, expense.MerchantName)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		out := backendFailure(correlationID, err)
		return &out
	}

	category, err := e.storage.GetCategoryByID(ctx, pref.CategoryID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// A preference pointing at a removed category is stale,
			// not fatal. Fall through to fuzzy matching.
			common.LogWarn("user preference references missing category",
				common.Fields{"merchant": pref.MerchantName, "category_id": pref.CategoryID})
			return nil
		}
		out := backendFailure(correlationID, err)
		return &out
	}

	conf := preferenceConfidence(pref.Weight)
	if conf < opts.MinConfidence {
		// A barely-weighted preference cannot clear the confidence floor.
		// Fuzzy matching may still produce a result that does.
		common.LogDebug("user preference below confidence floor",
			common.Fields{
				"correlation_id": correlationID,
				"merchant":       pref.MerchantName,
				"confidence":     conf,
				"min_confidence": opts.MinConfidence,
			})
		return nil
	}

	result := model.CategorizationResult{
		CorrelationID: correlationID,
		Method:        model.MethodUserPreference,
		Category:      category,
		Confidence:    conf,
		Metadata:      map[string]any{"preference_weight": pref.Weight},
	}

	if opts.AutoUpdate && conf >= opts.AutoCategorizeThreshold {
		result.Metadata["auto_applied"] = e.writeBack(ctx, expense, category.ID, conf, correlationID)
	}

	return &pipelineOutcome{result: result}
}

// preferenceConfidence maps a preference weight onto [0,1]. Heavier
// preferences approach certainty.
func preferenceConfidence(weight float64) float64 {
	conf := weight/10.0 + 0.15
	if conf > 1.0 {
		return 1.0
	}
	return conf
}

// matchCandidates runs fuzzy matching with each pattern type against the
// text it targets: merchant and regex patterns against the merchant name,
// keyword and description patterns against the description.
func (e *Engine) matchCandidates(expense *model.Expense, candidates []model.Pattern, floor float64) []match.Match {
	var merchantSide, descriptionSide []model.Pattern
	for _, p := range candidates {
		switch p.Type {
		case model.PatternTypeMerchant, model.PatternTypeRegex:
			merchantSide = append(merchantSide, p)
		case model.PatternTypeKeyword, model.PatternTypeDescription:
			descriptionSide = append(descriptionSide, p)
		}
	}

	var matches []match.Match
	if expense.MerchantName != "" {
		matches = append(matches, e.matcher.MatchPatterns(expense.MerchantName, merchantSide, floor)...)
	}
	if expense.Description != "" {
		matches = append(matches, e.matcher.MatchPatterns(expense.Description, descriptionSide, floor)...)
	}
	return matches
}

type candidate struct {
	breakdown  map[string]model.FactorScore
	match      match.Match
	confidence float64
}

// scoreCandidates keeps the best-scoring match per category, runs the
// confidence calculator over each, and returns candidates ranked by
// confidence descending.
func (e *Engine) scoreCandidates(expense *model.Expense, matches []match.Match) []candidate {
	best := make(map[int64]candidate)
	for _, m := range matches {
		pattern := m.Pattern
		conf, breakdown := e.calculator.Calculate(expense, &pattern, m.Score)
		current, seen := best[pattern.CategoryID]
		if !seen || conf > current.confidence {
			best[pattern.CategoryID] = candidate{match: m, confidence: conf, breakdown: breakdown}
		}
	}

	ranked := make([]candidate, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].confidence != ranked[j].confidence {
			return ranked[i].confidence > ranked[j].confidence
		}
		return ranked[i].match.Pattern.ID < ranked[j].match.Pattern.ID
	})
	return ranked
}

func (e *Engine) loadAlternatives(ctx context.Context, runnersUp []candidate, maxCount int) ([]model.Alternative, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	if len(runnersUp) > maxCount {
		runnersUp = runnersUp[:maxCount]
	}

	alts := make([]model.Alternative, 0, len(runnersUp))
	for _, c := range runnersUp {
		category, err := e.storage.GetCategoryByID(ctx, c.match.Pattern.CategoryID)
		if err != nil {
			return nil, err
		}
		alts = append(alts, model.Alternative{Category: category, Confidence: c.confidence})
	}
	return alts, nil
}

// writeBack persists the winning category onto the expense. Failures are
// logged and absorbed so a storage hiccup never degrades the result the
// caller already earned. Returns whether the update was applied.
func (e *Engine) writeBack(ctx context.Context, expense *model.Expense, categoryID int64, conf float64, correlationID string) bool {
	if expense.ID == "" {
		return false
	}
	if err := e.writeLimiter.Wait(ctx); err != nil {
		e.count(func(c *counters) { c.writeBackFailures++ })
		common.LogWarn("expense write-back throttled past deadline",
			common.Fields{"correlation_id": correlationID, "expense_id": expense.ID})
		return false
	}
	if err := e.storage.UpdateExpenseCategory(ctx, expense.ID, categoryID, conf, true); err != nil {
		e.count(func(c *counters) { c.writeBackFailures++ })
		common.LogError(err, "expense write-back failed",
			common.Fields{"correlation_id": correlationID, "expense_id": expense.ID, "category_id": categoryID})
		return false
	}

	e.count(func(c *counters) { c.writeBacks++ })
	expense.CategoryID = &categoryID
	expense.Confidence = conf
	expense.AutoAssigned = true
	return true
}

// LearnFromCorrection records a user correction and invalidates the
// affected cache buckets so the next categorize call sees fresh patterns.
func (e *Engine) LearnFromCorrection(ctx context.Context, expense *model.Expense, correctCategoryID int64, predictedCategoryID *int64) (model.LearningResult, error) {
	result, err := e.learner.LearnFromCorrection(ctx, expense, correctCategoryID, predictedCategoryID)
	if err != nil {
		return result, err
	}

	e.patterns.InvalidateCategory(correctCategoryID)
	if predictedCategoryID != nil && *predictedCategoryID != correctCategoryID {
		e.patterns.InvalidateCategory(*predictedCategoryID)
	}
	e.count(func(c *counters) { c.corrections++ })
	return result, nil
}

// Healthy probes each collaborator that can report its own health.
// Collaborators without a health check are assumed healthy.
func (e *Engine) Healthy(ctx context.Context) bool {
	for _, collaborator := range []any{e.storage, e.patterns} {
		hc, ok := collaborator.(service.HealthChecker)
		if !ok {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			common.LogWarn("health check failed", common.Fields{"error": err.Error()})
			return false
		}
	}
	return true
}

// BreakerState exposes the circuit state for operational surfaces.
func (e *Engine) BreakerState() breaker.State {
	return e.breaker.State()
}

func errorResult(correlationID, message string) model.CategorizationResult {
	return model.CategorizationResult{
		CorrelationID: correlationID,
		Method:        model.MethodError,
		ErrorMessage:  message,
	}
}

func noMatchResult(correlationID string) model.CategorizationResult {
	return model.CategorizationResult{
		CorrelationID: correlationID,
		Method:        model.MethodNoMatch,
	}
}

func isDeadlineError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func backendFailure(correlationID string, err error) pipelineOutcome {
	return pipelineOutcome{
		backendErr: err,
		result:     errorResult(correlationID, msgBackend),
	}
}

func (e *Engine) count(update func(*counters)) {
	e.mu.Lock()
	update(&e.counters)
	e.mu.Unlock()
}
