package engine

import (
	"context"
	"sync"

	"github.com/ledgerline/categorizer/internal/common"
	"github.com/ledgerline/categorizer/internal/model"
)

// BatchCategorize processes a slice of expenses and returns one result per
// expense, in input order. The pattern cache is preloaded before the batch
// and flushed after so batch state never leaks into later calls.
func (e *Engine) BatchCategorize(ctx context.Context, expenses []*model.Expense, overrides ...Override) []model.CategorizationResult {
	opts := e.opts.apply(overrides...)
	results := make([]model.CategorizationResult, len(expenses))
	if len(expenses) == 0 {
		return results
	}

	if err := e.patterns.PreloadForBatch(ctx); err != nil {
		// Preload is an optimization; each item falls back to
		// read-through loading.
		common.LogWarn("batch pattern preload failed", common.Fields{
			"error": err.Error(),
			"size":  len(expenses),
		})
	}
	defer e.patterns.Flush()

	if opts.Parallel && len(expenses) > 1 {
		e.categorizeParallel(ctx, expenses, results, opts)
	} else {
		for i, expense := range expenses {
			results[i] = e.handler(ctx, expense, opts)
		}
	}

	e.logBatchSummary(expenses, results)
	return results
}

// categorizeParallel fans items out to a fixed worker pool. Each worker
// writes to its own index so no result-slice synchronization is needed.
func (e *Engine) categorizeParallel(ctx context.Context, expenses []*model.Expense, results []model.CategorizationResult, opts Options) {
	workers := opts.MaxWorkers
	if workers > len(expenses) {
		workers = len(expenses)
	}

	workChan := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workChan {
				results[idx] = e.handler(ctx, expenses[idx], opts)
			}
		}()
	}

	for i := range expenses {
		workChan <- i
	}
	close(workChan)
	wg.Wait()
}

func (e *Engine) logBatchSummary(expenses []*model.Expense, results []model.CategorizationResult) {
	var categorized, noMatch, failed int
	for _, r := range results {
		switch r.Method {
		case model.MethodUserPreference, model.MethodFuzzy:
			categorized++
		case model.MethodNoMatch:
			noMatch++
		case model.MethodError:
			failed++
		}
	}
	common.LogInfo("batch categorization finished", common.Fields{
		"total":       len(expenses),
		"categorized": categorized,
		"no_match":    noMatch,
		"failed":      failed,
	})
}
