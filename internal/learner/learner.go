// Package learner turns user corrections into pattern creation and
// reinforcement.
package learner

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgerline/categorizer/internal/common"
	"github.com/ledgerline/categorizer/internal/match"
	"github.com/ledgerline/categorizer/internal/model"
	"github.com/ledgerline/categorizer/internal/service"
)

// Options configures learning behavior.
type Options struct {
	// ExtractKeywords controls whether description keywords become
	// keyword patterns alongside the merchant pattern.
	ExtractKeywords bool
	// MaxKeywords caps how many keyword patterns one correction creates.
	MaxKeywords int
	// MinKeywordLength drops short tokens that carry little signal.
	MinKeywordLength int
}

// DefaultOptions returns the default learning options.
func DefaultOptions() Options {
	return Options{
		ExtractKeywords:  true,
		MaxKeywords:      5,
		MinKeywordLength: 4,
	}
}

// Learner consumes corrections and mutates the pattern library.
type Learner struct {
	storage service.Storage
	opts    Options
}

// New creates a learner with the given options.
func New(storage service.Storage, opts Options) *Learner {
	if opts.MaxKeywords <= 0 {
		opts.MaxKeywords = 5
	}
	if opts.MinKeywordLength <= 0 {
		opts.MinKeywordLength = 4
	}
	return &Learner{storage: storage, opts: opts}
}

// LearnFromCorrection records that expense belongs to correctCategoryID.
// When predictedCategoryID names a different category, the patterns that
// produced the wrong prediction take a negative outcome. All pattern
// mutation for one correction happens in a single transaction.
func (l *Learner) LearnFromCorrection(ctx context.Context, expense *model.Expense, correctCategoryID int64, predictedCategoryID *int64) (model.LearningResult, error) {
	if expense == nil || expense.ID == "" {
		return model.LearningError("expense is not persisted"), common.ErrExpenseNotPersisted
	}

	if _, err := l.storage.GetCategoryByID(ctx, correctCategoryID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return model.LearningError("category does not exist"), common.ErrCategoryNotFound
		}
		return model.LearningError("could not verify category"), err
	}

	tx, err := l.storage.BeginTx(ctx)
	if err != nil {
		return model.LearningError("learning temporarily unavailable"), err
	}
	defer func() { _ = tx.Rollback() }()

	var created, updated int

	merchant := match.Normalize(expense.MerchantName)
	if merchant != "" {
		c, u, err := l.reinforce(ctx, tx, correctCategoryID, model.PatternTypeMerchant, merchant, expense)
		if err != nil {
			return model.LearningError("learning temporarily unavailable"), err
		}
		created += c
		updated += u
	}

	if l.opts.ExtractKeywords {
		for _, keyword := range l.keywords(expense.Description) {
			c, u, err := l.reinforce(ctx, tx, correctCategoryID, model.PatternTypeKeyword, keyword, expense)
			if err != nil {
				return model.LearningError("learning temporarily unavailable"), err
			}
			created += c
			updated += u
		}
	}

	if predictedCategoryID != nil && *predictedCategoryID != correctCategoryID {
		n, err := l.penalize(ctx, tx, *predictedCategoryID, merchant, expense)
		if err != nil {
			return model.LearningError("learning temporarily unavailable"), err
		}
		updated += n
	}

	if err := tx.Commit(); err != nil {
		return model.LearningError("learning temporarily unavailable"), err
	}

	return model.LearningResult{
		Success:         true,
		PatternsCreated: created,
		PatternsUpdated: updated,
		Message:         fmt.Sprintf("learned %d new and reinforced %d existing patterns", created, updated),
	}, nil
}

// reinforce finds or creates a pattern and records a successful use.
func (l *Learner) reinforce(ctx context.Context, tx service.Transaction, categoryID int64, patternType model.PatternType, value string, expense *model.Expense) (created, updated int, err error) {
	existing, err := tx.FindPattern(ctx, categoryID, patternType, value)
	if errors.Is(err, common.ErrNotFound) {
		pattern := l.newPattern(categoryID, patternType, value, expense)
		if createErr := tx.CreatePattern(ctx, pattern); createErr != nil {
			return 0, 0, createErr
		}
		return 1, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	if err := tx.RecordPatternOutcome(ctx, existing.ID, true); err != nil {
		return 0, 0, err
	}

	// Fold the new observation into the pattern's typical amount.
	if patternType == model.PatternTypeMerchant {
		if err := l.updateTypicalAmount(ctx, tx, existing, expense); err != nil {
			return 0, 0, err
		}
	}

	return 0, 1, nil
}

// penalize records usage-without-success against the patterns that drove a
// wrong prediction, lowering their success rate.
func (l *Learner) penalize(ctx context.Context, tx service.Transaction, predictedCategoryID int64, merchant string, expense *model.Expense) (int, error) {
	penalized := 0

	if merchant != "" {
		wrong, err := tx.FindPattern(ctx, predictedCategoryID, model.PatternTypeMerchant, merchant)
		if err == nil {
			if err := tx.RecordPatternOutcome(ctx, wrong.ID, false); err != nil {
				return penalized, err
			}
			penalized++
		} else if !errors.Is(err, common.ErrNotFound) {
			return penalized, err
		}
	}

	for _, keyword := range l.keywords(expense.Description) {
		wrong, err := tx.FindPattern(ctx, predictedCategoryID, model.PatternTypeKeyword, keyword)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return penalized, err
		}
		if err := tx.RecordPatternOutcome(ctx, wrong.ID, false); err != nil {
			return penalized, err
		}
		penalized++
	}

	return penalized, nil
}

func (l *Learner) newPattern(categoryID int64, patternType model.PatternType, value string, expense *model.Expense) *model.Pattern {
	pattern := &model.Pattern{
		CategoryID:       categoryID,
		Type:             patternType,
		Value:            value,
		ConfidenceWeight: 1.0,
		UsageCount:       1,
		SuccessCount:     1,
		Active:           true,
		UserCreated:      true,
	}

	if patternType == model.PatternTypeMerchant {
		if amount := expense.Amount.Abs().InexactFloat64(); amount > 0 {
			pattern.TypicalAmount = &amount
		}
		if !expense.Date.IsZero() {
			day := int(expense.Date.Weekday())
			hour := expense.Date.Hour()
			pattern.TypicalDayOfWeek = &day
			pattern.TypicalHour = &hour
		}
	}

	return pattern
}

// updateTypicalAmount keeps a running mean of observed amounts on merchant
// patterns.
func (l *Learner) updateTypicalAmount(ctx context.Context, tx service.Transaction, pattern *model.Pattern, expense *model.Expense) error {
	amount := expense.Amount.Abs().InexactFloat64()
	if amount <= 0 {
		return nil
	}

	fresh, err := tx.GetPatternByID(ctx, pattern.ID)
	if err != nil {
		return err
	}

	if fresh.TypicalAmount == nil {
		fresh.TypicalAmount = &amount
	} else {
		n := float64(fresh.UsageCount)
		mean := (*fresh.TypicalAmount*(n-1) + amount) / n
		fresh.TypicalAmount = &mean
	}

	return tx.UpdatePattern(ctx, fresh)
}

// keywords extracts significant tokens from a description: stop words and
// short tokens dropped, numeric runs already removed by normalization.
func (l *Learner) keywords(description string) []string {
	var keywords []string
	seen := make(map[string]bool)

	for _, token := range match.Tokens(description) {
		if len(keywords) >= l.opts.MaxKeywords {
			break
		}
		if len(token) < l.opts.MinKeywordLength || stopWords[token] || seen[token] {
			continue
		}
		seen[token] = true
		keywords = append(keywords, token)
	}

	return keywords
}

var stopWords = map[string]bool{
	"about": true, "after": true, "also": true, "been": true, "before": true,
	"card": true, "cash": true, "charge": true, "credit": true, "debit": true,
	"from": true, "have": true, "into": true, "misc": true, "online": true,
	"order": true, "payment": true, "point": true, "purchase": true,
	"sale": true, "that": true, "this": true, "transaction": true,
	"transfer": true, "with": true, "your": true,
}
