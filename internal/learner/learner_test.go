package learner_test

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerline/categorizer/internal/common"
	"github.com/ledgerline/categorizer/internal/learner"
	"github.com/ledgerline/categorizer/internal/model"
	"github.com/ledgerline/categorizer/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func savedExpense(t *testing.T, db *testutil.TestDB, merchant, description string) *model.Expense {
	t.Helper()
	expense := &model.Expense{
		ID:           "exp-" + merchant,
		MerchantName: merchant,
		Description:  description,
		Amount:       decimal.NewFromFloat(15.75),
		Date:         time.Date(2025, 6, 2, 19, 30, 0, 0, time.UTC),
	}
	require.NoError(t, db.Storage.SaveExpense(context.Background(), expense))
	return expense
}

func TestLearnFromCorrection_CreatesMerchantPattern(t *testing.T) {
	db := testutil.SetupTestDB(t, "Food")
	ctx := context.Background()
	foodID := db.MustCategoryID("Food")
	l := learner.New(db.Storage, learner.DefaultOptions())

	expense := savedExpense(t, db, "UBER EATS", "")

	result, err := l.LearnFromCorrection(ctx, expense, foodID, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.PatternsCreated)
	assert.Zero(t, result.PatternsUpdated)

	pattern, err := db.Storage.FindPattern(ctx, foodID, model.PatternTypeMerchant, "uber eats")
	require.NoError(t, err)
	assert.True(t, pattern.UserCreated)
	assert.Equal(t, 1, pattern.UsageCount)
	assert.Equal(t, 1, pattern.SuccessCount)
	require.NotNil(t, pattern.TypicalAmount)
	assert.InDelta(t, 15.75, *pattern.TypicalAmount, 0.001)
	require.NotNil(t, pattern.TypicalDayOfWeek)
	assert.Equal(t, int(time.Monday), *pattern.TypicalDayOfWeek)
}

func TestLearnFromCorrection_ReinforcesExistingPattern(t *testing.T) {
	db := testutil.SetupTestDB(t, "Food")
	ctx := context.Background()
	foodID := db.MustCategoryID("Food")
	l := learner.New(db.Storage, learner.DefaultOptions())

	expense := savedExpense(t, db, "Starbucks", "")

	_, err := l.LearnFromCorrection(ctx, expense, foodID, nil)
	require.NoError(t, err)

	result, err := l.LearnFromCorrection(ctx, expense, foodID, nil)
	require.NoError(t, err)
	assert.Zero(t, result.PatternsCreated)
	assert.Equal(t, 1, result.PatternsUpdated)

	pattern, err := db.Storage.FindPattern(ctx, foodID, model.PatternTypeMerchant, "starbucks")
	require.NoError(t, err)
	assert.Equal(t, 2, pattern.UsageCount)
	assert.Equal(t, 2, pattern.SuccessCount)
	assert.InDelta(t, 1.0, pattern.SuccessRate(), 0.001)
}

func TestLearnFromCorrection_ExtractsKeywords(t *testing.T) {
	db := testutil.SetupTestDB(t, "Food")
	ctx := context.Background()
	foodID := db.MustCategoryID("Food")
	l := learner.New(db.Storage, learner.DefaultOptions())

	expense := savedExpense(t, db, "Corner Deli", "weekly lunch sandwich order with the team")

	result, err := l.LearnFromCorrection(ctx, expense, foodID, nil)
	require.NoError(t, err)

	// Merchant plus significant keywords; stop words ("with", "order",
	// "the") and short tokens are dropped.
	for _, keyword := range []string{"weekly", "lunch", "sandwich", "team"} {
		_, err := db.Storage.FindPattern(ctx, foodID, model.PatternTypeKeyword, keyword)
		assert.NoError(t, err, "expected keyword pattern %q", keyword)
	}
	assert.Equal(t, 5, result.PatternsCreated)

	_, err = db.Storage.FindPattern(ctx, foodID, model.PatternTypeKeyword, "order")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestLearnFromCorrection_PenalizesWrongPrediction(t *testing.T) {
	db := testutil.SetupTestDB(t, "Food", "Transport")
	ctx := context.Background()
	foodID := db.MustCategoryID("Food")
	transportID := db.MustCategoryID("Transport")
	l := learner.New(db.Storage, learner.DefaultOptions())

	// The pattern that produced the wrong Transport prediction.
	wrong := &model.Pattern{
		CategoryID:       transportID,
		Type:             model.PatternTypeMerchant,
		Value:            "uber eats",
		ConfidenceWeight: 1.0,
		UsageCount:       4,
		SuccessCount:     4,
		Active:           true,
	}
	db.MustCreatePattern(wrong)

	expense := savedExpense(t, db, "UBER EATS", "")

	result, err := l.LearnFromCorrection(ctx, expense, foodID, &transportID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.PatternsCreated) // Food merchant pattern

	// The wrong pattern took a usage without a success.
	got, err := db.Storage.GetPatternByID(ctx, wrong.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.UsageCount)
	assert.Equal(t, 4, got.SuccessCount)
	assert.Less(t, got.SuccessRate(), 1.0)

	// And the Food pattern exists with a clean record.
	food, err := db.Storage.FindPattern(ctx, foodID, model.PatternTypeMerchant, "uber eats")
	require.NoError(t, err)
	assert.Equal(t, 1, food.SuccessCount)
}

func TestLearnFromCorrection_Failures(t *testing.T) {
	db := testutil.SetupTestDB(t, "Food")
	ctx := context.Background()
	foodID := db.MustCategoryID("Food")
	l := learner.New(db.Storage, learner.DefaultOptions())

	t.Run("nil expense", func(t *testing.T) {
		result, err := l.LearnFromCorrection(ctx, nil, foodID, nil)
		assert.ErrorIs(t, err, common.ErrExpenseNotPersisted)
		assert.False(t, result.Success)
	})

	t.Run("unsaved expense", func(t *testing.T) {
		result, err := l.LearnFromCorrection(ctx, &model.Expense{}, foodID, nil)
		assert.ErrorIs(t, err, common.ErrExpenseNotPersisted)
		assert.False(t, result.Success)
	})

	t.Run("unknown category", func(t *testing.T) {
		expense := savedExpense(t, db, "Somewhere", "")
		result, err := l.LearnFromCorrection(ctx, expense, 9999, nil)
		assert.ErrorIs(t, err, common.ErrCategoryNotFound)
		assert.False(t, result.Success)
	})
}

func TestLearnFromCorrection_InvariantsHold(t *testing.T) {
	db := testutil.SetupTestDB(t, "Food", "Transport")
	ctx := context.Background()
	foodID := db.MustCategoryID("Food")
	transportID := db.MustCategoryID("Transport")
	l := learner.New(db.Storage, learner.DefaultOptions())

	expense := savedExpense(t, db, "Blue Bottle", "espresso beans")

	for i := 0; i < 3; i++ {
		_, err := l.LearnFromCorrection(ctx, expense, foodID, &transportID)
		require.NoError(t, err)
	}

	patterns, err := db.Storage.GetPatternsByCategory(ctx, foodID)
	require.NoError(t, err)
	require.NotEmpty(t, patterns)
	for _, p := range patterns {
		assert.GreaterOrEqual(t, p.SuccessCount, 0)
		assert.LessOrEqual(t, p.SuccessCount, p.UsageCount)
		assert.GreaterOrEqual(t, p.SuccessRate(), 0.0)
		assert.LessOrEqual(t, p.SuccessRate(), 1.0)
	}
}
