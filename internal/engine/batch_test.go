package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/categorizer/internal/engine"
	"github.com/ledgerline/categorizer/internal/model"
	"github.com/ledgerline/categorizer/internal/testutil"
)

func seedBatchPatterns(db *testutil.TestDB) {
	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Coffee"),
		Type:             model.PatternTypeMerchant,
		Value:            "starbucks",
		ConfidenceWeight: 1.0,
		UsageCount:       20,
		SuccessCount:     18,
		Active:           true,
	})
	db.MustCreatePattern(&model.Pattern{
		CategoryID:       db.MustCategoryID("Groceries"),
		Type:             model.PatternTypeMerchant,
		Value:            "whole foods",
		ConfidenceWeight: 1.0,
		UsageCount:       12,
		SuccessCount:     11,
		Active:           true,
	})
}

func TestBatchCategorize(t *testing.T) {
	eng, db := newTestEngine(t, "Coffee", "Groceries")
	seedBatchPatterns(db)

	expenses := []*model.Expense{
		{MerchantName: "STARBUCKS #4521", Amount: decimal.NewFromFloat(6.75)},
		{MerchantName: "WHOLE FOODS MKT 103", Amount: decimal.NewFromFloat(84.12)},
		{MerchantName: "TOTALLY UNKNOWN VENDOR"},
	}

	results := eng.BatchCategorize(context.Background(), expenses)
	require.Len(t, results, 3)

	require.Equal(t, model.MethodFuzzy, results[0].Method)
	assert.Equal(t, "Coffee", results[0].Category.Name)
	require.Equal(t, model.MethodFuzzy, results[1].Method)
	assert.Equal(t, "Groceries", results[1].Category.Name)
	assert.Equal(t, model.MethodNoMatch, results[2].Method)

	// Each item carries its own correlation id.
	assert.NotEqual(t, results[0].CorrelationID, results[1].CorrelationID)
}

func TestBatchCategorizeParallel(t *testing.T) {
	eng, db := newTestEngine(t, "Coffee", "Groceries")
	seedBatchPatterns(db)

	var expenses []*model.Expense
	for i := 0; i < 10; i++ {
		merchant := "STARBUCKS #4521"
		if i%2 == 1 {
			merchant = "WHOLE FOODS MKT 103"
		}
		expenses = append(expenses, &model.Expense{
			ID:           fmt.Sprintf("exp-%d", i),
			MerchantName: merchant,
			Amount:       decimal.NewFromFloat(10.00),
		})
	}

	results := eng.BatchCategorize(context.Background(), expenses,
		engine.WithParallel(4), engine.WithAutoUpdate(false), engine.WithTimeout(5*time.Second))
	require.Len(t, results, len(expenses))

	// Results line up with their input positions regardless of which
	// worker handled them.
	for i, r := range results {
		require.Equal(t, model.MethodFuzzy, r.Method, "expense %d", i)
		want := "Coffee"
		if i%2 == 1 {
			want = "Groceries"
		}
		assert.Equal(t, want, r.Category.Name, "expense %d", i)
	}
}

func TestBatchCategorizeEmpty(t *testing.T) {
	eng, _ := newTestEngine(t, "Coffee")
	results := eng.BatchCategorize(context.Background(), nil)
	assert.Empty(t, results)
}

func TestBatchCategorizePreloadsCache(t *testing.T) {
	eng, db := newTestEngine(t, "Coffee", "Groceries")
	seedBatchPatterns(db)

	eng.BatchCategorize(context.Background(), []*model.Expense{
		{MerchantName: "STARBUCKS #4521"},
		{MerchantName: "STARBUCKS #4521"},
	})

	stats := eng.Metrics().Cache
	assert.Positive(t, stats.Preloads)
	assert.Positive(t, stats.Hits)
}
