package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ledgerline/categorizer/internal/breaker"
	"github.com/ledgerline/categorizer/internal/common"
	"github.com/ledgerline/categorizer/internal/engine"
	"github.com/ledgerline/categorizer/internal/model"
	"github.com/ledgerline/categorizer/internal/service"
	"github.com/ledgerline/categorizer/internal/storage"
	"github.com/ledgerline/categorizer/internal/testutil"
)

// stubPatternSource lets tests control candidate patterns, latency, and
// failures without a database.
type stubPatternSource struct {
	err      error
	pref     *model.UserPreference
	patterns []model.Pattern
	delay    time.Duration
}

func (s *stubPatternSource) GetPatternsForExpense(ctx context.Context, _ *model.Expense) ([]model.Pattern, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.patterns, nil
}

func (s *stubPatternSource) GetUserPreference(_ context.Context, _ string) (*model.UserPreference, error) {
	if s.pref != nil {
		return s.pref, nil
	}
	return nil, common.ErrNotFound
}

func (s *stubPatternSource) PreloadForBatch(_ context.Context) error { return nil }
func (s *stubPatternSource) InvalidateCategory(_ int64)              {}
func (s *stubPatternSource) Flush()                                  {}
func (s *stubPatternSource) CacheStats() service.CacheStats          { return service.CacheStats{} }

// countingStorage counts expense write-backs while delegating everything
// else to the wrapped storage.
type countingStorage struct {
	service.Storage
	mu         sync.Mutex
	writeBacks int
}

func (c *countingStorage) UpdateExpenseCategory(ctx context.Context, expenseID string, categoryID int64, confidence float64, auto bool) error {
	c.mu.Lock()
	c.writeBacks++
	c.mu.Unlock()
	return c.Storage.UpdateExpenseCategory(ctx, expenseID, categoryID, confidence, auto)
}

func (c *countingStorage) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeBacks
}

func newTestEngine(t *testing.T, categories ...string) (*engine.Engine, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t, categories...)
	cache := storage.NewPatternCache(db.Storage, storage.DefaultCacheTTL)
	eng := engine.NewWithOptions(db.Storage, cache, engine.DefaultOptions(),
		engine.WithTimeout(2*time.Second))
	return eng, db
}

func coffeeExpense(id string) *model.Expense {
	return &model.Expense{
		ID:           id,
		MerchantName: "STARBUCKS #4521",
		Description:  "card purchase",
		Amount:       decimal.NewFromFloat(6.75),
		Date:         time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC),
	}
}

func TestCategorizeKnownMerchant(t *testing.T) {
	eng, db := newTestEngine(t, "Coffee", "Groceries")
	ctx := context.Background()

	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Coffee"),
		Type:             model.PatternTypeMerchant,
		Value:            "starbucks",
		ConfidenceWeight: 1.0,
		UsageCount:       20,
		SuccessCount:     18,
		Active:           true,
	})

	expense := coffeeExpense("exp-1")
	require.NoError(t, db.Storage.SaveExpense(ctx, expense))

	result := eng.Categorize(ctx, expense)

	require.Equal(t, model.MethodFuzzy, result.Method)
	require.NotNil(t, result.Category)
	assert.Equal(t, "Coffee", result.Category.Name)
	assert.GreaterOrEqual(t, result.Confidence, 0.7)
	assert.NotEmpty(t, result.CorrelationID)
	assert.Greater(t, result.ProcessingTime, time.Duration(0))

	require.Len(t, result.PatternsUsed, 1)
	assert.Equal(t, "starbucks", result.PatternsUsed[0].Value)
	assert.InDelta(t, 1.0, result.PatternsUsed[0].Score, 0.001)

	require.Contains(t, result.ConfidenceBreakdown, "text_match")
	require.Contains(t, result.ConfidenceBreakdown, "historical_success")
	totalWeight := 0.0
	for _, f := range result.ConfidenceBreakdown {
		totalWeight += f.Weight
	}
	assert.InDelta(t, 1.0, totalWeight, 0.001)

	// Confidence cleared the auto threshold, so the expense was updated.
	stored, err := db.Storage.GetExpenseByID(ctx, "exp-1")
	require.NoError(t, err)
	require.NotNil(t, stored.CategoryID)
	assert.Equal(t, db.MustCategoryID("Coffee"), *stored.CategoryID)
	assert.True(t, stored.AutoAssigned)
}

func TestCategorizeBlankExpense(t *testing.T) {
	eng, _ := newTestEngine(t, "Coffee")

	tests := []struct {
		expense *model.Expense
		name    string
	}{
		{name: "nil expense", expense: nil},
		{name: "no text", expense: &model.Expense{ID: "e1", Amount: decimal.NewFromInt(10)}},
		{name: "whitespace only", expense: &model.Expense{ID: "e2", MerchantName: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eng.Categorize(context.Background(), tt.expense)
			assert.Equal(t, model.MethodError, result.Method)
			assert.Nil(t, result.Category)
			assert.Zero(t, result.Confidence)
			assert.Contains(t, result.ErrorMessage, "merchant name or description")
		})
	}
}

func TestCategorizeEmptyStore(t *testing.T) {
	eng, _ := newTestEngine(t, "Coffee")

	result := eng.Categorize(context.Background(), coffeeExpense("exp-1"))

	assert.Equal(t, model.MethodNoMatch, result.Method)
	assert.Nil(t, result.Category)
	assert.Zero(t, result.Confidence)
	assert.Empty(t, result.ErrorMessage)
}

func TestCategorizeUserPreferenceShortCircuit(t *testing.T) {
	eng, db := newTestEngine(t, "Coffee", "Groceries")
	ctx := context.Background()

	// A fuzzy pattern points at Groceries, but the preference wins.
	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Groceries"),
		Type:             model.PatternTypeMerchant,
		Value:            "starbucks",
		ConfidenceWeight: 1.0,
		Active:           true,
	})
	require.NoError(t, db.Storage.SaveUserPreference(ctx, &model.UserPreference{
		MerchantName: "STARBUCKS #4521",
		CategoryID:   db.MustCategoryID("Coffee"),
		Weight:       8.0,
	}))

	result := eng.Categorize(ctx, coffeeExpense(""))

	require.Equal(t, model.MethodUserPreference, result.Method)
	require.NotNil(t, result.Category)
	assert.Equal(t, "Coffee", result.Category.Name)
	assert.InDelta(t, 0.95, result.Confidence, 0.001)
	assert.Empty(t, result.PatternsUsed)
}

func TestCategorizePreferenceWeightCapped(t *testing.T) {
	eng, db := newTestEngine(t, "Coffee")
	ctx := context.Background()

	require.NoError(t, db.Storage.SaveUserPreference(ctx, &model.UserPreference{
		MerchantName: "STARBUCKS #4521",
		CategoryID:   db.MustCategoryID("Coffee"),
		Weight:       20.0,
	}))

	result := eng.Categorize(ctx, coffeeExpense(""))
	assert.InDelta(t, 1.0, result.Confidence, 0.001)
}

func TestCategorizeUserPreferenceBelowFloor(t *testing.T) {
	eng, db := newTestEngine(t, "Coffee", "Groceries")
	ctx := context.Background()

	// Weight 1.0 maps to confidence 0.25, under the default 0.5 floor.
	require.NoError(t, db.Storage.SaveUserPreference(ctx, &model.UserPreference{
		MerchantName: "STARBUCKS #4521",
		CategoryID:   db.MustCategoryID("Groceries"),
		Weight:       1.0,
	}))
	require.NoError(t, db.Storage.SaveUserPreference(ctx, &model.UserPreference{
		MerchantName: "LOCAL DINER",
		CategoryID:   db.MustCategoryID("Groceries"),
		Weight:       1.0,
	}))
	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Coffee"),
		Type:             model.PatternTypeMerchant,
		Value:            "starbucks",
		ConfidenceWeight: 1.0,
		UsageCount:       20,
		SuccessCount:     18,
		Active:           true,
	})

	// The weak preference is skipped and fuzzy matching wins instead.
	result := eng.Categorize(ctx, coffeeExpense(""))
	require.Equal(t, model.MethodFuzzy, result.Method)
	require.NotNil(t, result.Category)
	assert.Equal(t, "Coffee", result.Category.Name)
	assert.GreaterOrEqual(t, result.Confidence, 0.5)

	// With nothing to fall through to, the call degrades to no match
	// rather than returning a sub-floor confidence.
	result = eng.Categorize(ctx, &model.Expense{MerchantName: "LOCAL DINER"})
	assert.Equal(t, model.MethodNoMatch, result.Method)
	assert.Nil(t, result.Category)
	assert.Zero(t, result.Confidence)
}

func TestCategorizeTimeout(t *testing.T) {
	db := testutil.SetupTestDB(t, "Coffee")
	slow := &stubPatternSource{delay: 200 * time.Millisecond}
	eng := engine.NewWithOptions(db.Storage, slow, engine.DefaultOptions(),
		engine.WithTimeout(5*time.Millisecond))

	result := eng.Categorize(context.Background(), coffeeExpense("exp-1"))

	assert.Equal(t, model.MethodError, result.Method)
	assert.Equal(t, "categorization timed out", result.ErrorMessage)
	assert.Nil(t, result.Category)

	// The call returned at the deadline, not after the slow backend.
	assert.GreaterOrEqual(t, result.ProcessingTime, 5*time.Millisecond)
	assert.InDelta(t, float64(5*time.Millisecond), float64(result.ProcessingTime), float64(100*time.Millisecond))

	// Timeouts are not backend failures: the breaker stays closed.
	assert.Equal(t, breaker.StateClosed, eng.BreakerState())
	assert.Equal(t, int64(1), eng.Metrics().Timeouts)
}

func TestCategorizeBackendFailureTripsBreaker(t *testing.T) {
	db := testutil.SetupTestDB(t, "Coffee")
	failing := &stubPatternSource{err: errors.New("disk I/O error on patterns table")}
	eng := engine.NewWithOptions(db.Storage, failing, engine.DefaultOptions(),
		engine.WithTimeout(time.Second))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result := eng.Categorize(ctx, coffeeExpense("exp-1"))
		assert.Equal(t, model.MethodError, result.Method)
		// Raw backend error text never reaches the caller.
		assert.NotContains(t, result.ErrorMessage, "disk I/O")
	}
	require.Equal(t, breaker.StateOpen, eng.BreakerState())

	rejected := eng.Categorize(ctx, coffeeExpense("exp-1"))
	assert.Equal(t, model.MethodError, rejected.Method)
	assert.Contains(t, rejected.ErrorMessage, "temporarily paused")
	assert.Equal(t, int64(1), eng.Metrics().CircuitRejections)
}

func TestCategorizeWriteBackThreshold(t *testing.T) {
	db := testutil.SetupTestDB(t, "Coffee")
	counting := &countingStorage{Storage: db.Storage}
	cache := storage.NewPatternCache(db.Storage, storage.DefaultCacheTTL)
	eng := engine.NewWithOptions(counting, cache, engine.DefaultOptions(),
		engine.WithTimeout(2*time.Second))
	ctx := context.Background()

	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Coffee"),
		Type:             model.PatternTypeMerchant,
		Value:            "starbucks",
		ConfidenceWeight: 1.0,
		UsageCount:       20,
		SuccessCount:     18,
		Active:           true,
	})
	expense := coffeeExpense("exp-1")
	require.NoError(t, db.Storage.SaveExpense(ctx, expense))

	// Below threshold: no write-back.
	result := eng.Categorize(ctx, expense, engine.WithAutoCategorizeThreshold(0.99))
	require.Equal(t, model.MethodFuzzy, result.Method)
	assert.Equal(t, 0, counting.count())

	// At default threshold: exactly one write-back.
	result = eng.Categorize(ctx, expense)
	require.Equal(t, model.MethodFuzzy, result.Method)
	assert.Equal(t, 1, counting.count())

	// Repeating the call is idempotent in the store and writes once more.
	again := eng.Categorize(ctx, expense)
	assert.Equal(t, result.Category.ID, again.Category.ID)
	assert.InDelta(t, result.Confidence, again.Confidence, 0.001)
	assert.Equal(t, 2, counting.count())
}

func TestCategorizeWriteBackRateLimited(t *testing.T) {
	db := testutil.SetupTestDB(t, "Coffee")
	counting := &countingStorage{Storage: db.Storage}
	cache := storage.NewPatternCache(db.Storage, storage.DefaultCacheTTL)
	eng := engine.NewWithOptions(counting, cache, engine.DefaultOptions(),
		engine.WithTimeout(2*time.Second))
	eng.SetWriteBackLimit(rate.Every(time.Hour), 1)
	ctx := context.Background()

	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Coffee"),
		Type:             model.PatternTypeMerchant,
		Value:            "starbucks",
		ConfidenceWeight: 1.0,
		UsageCount:       20,
		SuccessCount:     18,
		Active:           true,
	})
	expense := coffeeExpense("exp-1")
	require.NoError(t, db.Storage.SaveExpense(ctx, expense))

	// The burst token covers the first write-back.
	first := eng.Categorize(ctx, expense)
	require.Equal(t, model.MethodFuzzy, first.Method)
	assert.Equal(t, true, first.Metadata["auto_applied"])
	assert.Equal(t, 1, counting.count())

	// The next token is an hour away: the write is skipped and counted,
	// and the categorization itself is unaffected.
	second := eng.Categorize(ctx, expense)
	require.Equal(t, model.MethodFuzzy, second.Method)
	assert.Equal(t, false, second.Metadata["auto_applied"])
	assert.Equal(t, 1, counting.count())
	assert.Equal(t, int64(1), eng.Metrics().WriteBackFailures)
}

func TestCategorizeAutoUpdateDisabled(t *testing.T) {
	eng, db := newTestEngine(t, "Coffee")
	ctx := context.Background()

	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Coffee"),
		Type:             model.PatternTypeMerchant,
		Value:            "starbucks",
		ConfidenceWeight: 1.0,
		UsageCount:       20,
		SuccessCount:     18,
		Active:           true,
	})
	expense := coffeeExpense("exp-1")
	require.NoError(t, db.Storage.SaveExpense(ctx, expense))

	result := eng.Categorize(ctx, expense, engine.WithAutoUpdate(false))
	require.Equal(t, model.MethodFuzzy, result.Method)

	stored, err := db.Storage.GetExpenseByID(ctx, "exp-1")
	require.NoError(t, err)
	assert.Nil(t, stored.CategoryID)
	assert.False(t, stored.AutoAssigned)
}

func TestCategorizeAlternatives(t *testing.T) {
	eng, db := newTestEngine(t, "Food", "Transport")
	ctx := context.Background()

	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Food"),
		Type:             model.PatternTypeMerchant,
		Value:            "uber eats",
		ConfidenceWeight: 1.0,
		Active:           true,
	})
	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Transport"),
		Type:             model.PatternTypeMerchant,
		Value:            "uber",
		ConfidenceWeight: 1.0,
		Active:           true,
	})

	expense := &model.Expense{
		MerchantName: "UBER EATS",
		Amount:       decimal.NewFromFloat(24.50),
	}
	result := eng.Categorize(ctx, expense)

	require.Equal(t, model.MethodFuzzy, result.Method)
	require.NotNil(t, result.Category)
	assert.Equal(t, "Food", result.Category.Name)

	require.Len(t, result.Alternatives, 1)
	assert.Equal(t, "Transport", result.Alternatives[0].Category.Name)
	assert.Less(t, result.Alternatives[0].Confidence, result.Confidence)
}

func TestCategorizeAlternativesDisabled(t *testing.T) {
	eng, db := newTestEngine(t, "Food", "Transport")
	ctx := context.Background()

	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Food"),
		Type:             model.PatternTypeMerchant,
		Value:            "uber eats",
		ConfidenceWeight: 1.0,
		Active:           true,
	})
	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Transport"),
		Type:             model.PatternTypeMerchant,
		Value:            "uber",
		ConfidenceWeight: 1.0,
		Active:           true,
	})

	result := eng.Categorize(ctx, &model.Expense{MerchantName: "UBER EATS"},
		engine.WithAlternatives(false, 0))
	require.Equal(t, model.MethodFuzzy, result.Method)
	assert.Empty(t, result.Alternatives)
}

func TestLearnFromCorrectionRefreshesCache(t *testing.T) {
	eng, db := newTestEngine(t, "Food")
	ctx := context.Background()

	expense := &model.Expense{
		ID:           "exp-1",
		MerchantName: "UBER EATS",
		Description:  "dinner delivery",
		Amount:       decimal.NewFromFloat(31.20),
		Date:         time.Date(2026, 3, 13, 19, 45, 0, 0, time.UTC),
	}
	require.NoError(t, db.Storage.SaveExpense(ctx, expense))

	before := eng.Categorize(ctx, expense)
	require.Equal(t, model.MethodNoMatch, before.Method)

	learned, err := eng.LearnFromCorrection(ctx, expense, db.MustCategoryID("Food"), nil)
	require.NoError(t, err)
	assert.True(t, learned.Success)
	assert.Positive(t, learned.PatternsCreated)

	after := eng.Categorize(ctx, expense)
	require.Equal(t, model.MethodFuzzy, after.Method)
	require.NotNil(t, after.Category)
	assert.Equal(t, "Food", after.Category.Name)
	assert.GreaterOrEqual(t, after.Confidence, 0.5)
}

func TestLearnFromCorrectionUnknownCategory(t *testing.T) {
	eng, db := newTestEngine(t, "Food")
	ctx := context.Background()

	expense := &model.Expense{ID: "exp-1", MerchantName: "UBER EATS"}
	require.NoError(t, db.Storage.SaveExpense(ctx, expense))

	_, err := eng.LearnFromCorrection(ctx, expense, 9999, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrCategoryNotFound)
}

func TestHealthy(t *testing.T) {
	eng, _ := newTestEngine(t, "Coffee")
	assert.True(t, eng.Healthy(context.Background()))
}

func TestHealthyClosedStorage(t *testing.T) {
	db := testutil.SetupTestDB(t, "Coffee")
	cache := storage.NewPatternCache(db.Storage, storage.DefaultCacheTTL)
	eng := engine.NewWithOptions(db.Storage, cache, engine.DefaultOptions())

	require.NoError(t, db.Storage.Close())
	assert.False(t, eng.Healthy(context.Background()))
}

func TestMetricsSnapshot(t *testing.T) {
	eng, db := newTestEngine(t, "Coffee")
	ctx := context.Background()

	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Coffee"),
		Type:             model.PatternTypeMerchant,
		Value:            "starbucks",
		ConfidenceWeight: 1.0,
		Active:           true,
	})

	eng.Categorize(ctx, coffeeExpense(""))
	eng.Categorize(ctx, &model.Expense{MerchantName: "UNKNOWN VENDOR LLC"})
	eng.Categorize(ctx, nil)

	m := eng.Metrics()
	assert.Equal(t, int64(3), m.Requests)
	assert.Equal(t, int64(1), m.ByMethod[model.MethodFuzzy])
	assert.Equal(t, int64(1), m.ByMethod[model.MethodNoMatch])
	assert.Equal(t, int64(1), m.ByMethod[model.MethodError])
	assert.Equal(t, breaker.StateClosed, m.BreakerState)
	assert.Positive(t, m.Cache.Misses+m.Cache.Hits)
}
