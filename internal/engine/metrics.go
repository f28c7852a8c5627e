package engine

import (
	"context"
	"time"

	"github.com/ledgerline/categorizer/internal/breaker"
	"github.com/ledgerline/categorizer/internal/common"
	"github.com/ledgerline/categorizer/internal/model"
	"github.com/ledgerline/categorizer/internal/service"
)

// counters accumulates per-engine totals. Guarded by Engine.mu.
type counters struct {
	requests          int64
	byMethod          map[model.Method]int64
	timeouts          int64
	circuitRejections int64
	writeBacks        int64
	writeBackFailures int64
	corrections       int64
}

// Metrics is a point-in-time snapshot of engine activity.
type Metrics struct {
	ByMethod          map[model.Method]int64 `json:"by_method"`
	BreakerState      breaker.State          `json:"breaker_state"`
	Requests          int64                  `json:"requests"`
	Timeouts          int64                  `json:"timeouts"`
	CircuitRejections int64                  `json:"circuit_rejections"`
	WriteBacks        int64                  `json:"write_backs"`
	WriteBackFailures int64                  `json:"write_back_failures"`
	Corrections       int64                  `json:"corrections"`
	Cache             service.CacheStats     `json:"cache"`
}

// Metrics returns a snapshot of totals, cache effectiveness, and breaker
// state.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	snapshot := Metrics{
		Requests:          e.counters.requests,
		Timeouts:          e.counters.timeouts,
		CircuitRejections: e.counters.circuitRejections,
		WriteBacks:        e.counters.writeBacks,
		WriteBackFailures: e.counters.writeBackFailures,
		Corrections:       e.counters.corrections,
		ByMethod:          make(map[model.Method]int64, len(e.counters.byMethod)),
	}
	for method, n := range e.counters.byMethod {
		snapshot.ByMethod[method] = n
	}
	e.mu.Unlock()

	snapshot.Cache = e.patterns.CacheStats()
	snapshot.BreakerState = e.breaker.State()
	return snapshot
}

// timingMiddleware stamps results with elapsed time, updates counters, and
// feeds the metrics sink.
func (e *Engine) timingMiddleware(next handler) handler {
	return func(ctx context.Context, expense *model.Expense, opts Options) model.CategorizationResult {
		start := time.Now()
		result := next(ctx, expense, opts)
		result.ProcessingTime = time.Since(start)

		e.count(func(c *counters) {
			c.requests++
			if c.byMethod == nil {
				c.byMethod = make(map[model.Method]int64)
			}
			c.byMethod[result.Method]++
		})

		metadata := map[string]any{"method": string(result.Method)}
		if expense != nil {
			metadata["expense_id"] = expense.ID
		}
		e.metrics.Record("categorize", result.ProcessingTime, result.Method != model.MethodError, metadata)
		return result
	}
}

// loggingMiddleware emits one structured line per categorize call.
func (e *Engine) loggingMiddleware(next handler) handler {
	return func(ctx context.Context, expense *model.Expense, opts Options) model.CategorizationResult {
		result := next(ctx, expense, opts)
		fields := common.Fields(result.Flatten())
		if expense != nil {
			fields["expense_id"] = expense.ID
		}
		if result.Method == model.MethodError {
			common.LogWarn("categorization degraded", fields)
		} else {
			common.LogDebug("categorization completed", fields)
		}
		return result
	}
}

// slogSink is the default MetricsSink. It logs timings at debug level so
// an engine without a metrics backend still leaves a trail.
type slogSink struct{}

func (slogSink) Record(operation string, duration time.Duration, success bool, metadata map[string]any) {
	fields := common.Fields{
		"operation":   operation,
		"duration_ms": float64(duration.Microseconds()) / 1000.0,
		"success":     success,
	}
	for k, v := range metadata {
		fields[k] = v
	}
	common.LogDebug("operation recorded", fields)
}
