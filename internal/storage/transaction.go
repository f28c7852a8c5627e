package storage

import (
	"context"

	"github.com/ledgerline/categorizer/internal/model"
)

// The sqliteTransaction methods below mirror the Storage surface, running
// against the open transaction so learning mutations stay atomic.

func (t *sqliteTransaction) CreatePattern(ctx context.Context, pattern *model.Pattern) error {
	return t.storage.createPattern(ctx, t.tx, pattern)
}

func (t *sqliteTransaction) UpdatePattern(ctx context.Context, pattern *model.Pattern) error {
	return t.storage.updatePattern(ctx, t.tx, pattern)
}

func (t *sqliteTransaction) FindPattern(ctx context.Context, categoryID int64, patternType model.PatternType, value string) (*model.Pattern, error) {
	return t.storage.findPattern(ctx, t.tx, categoryID, patternType, value)
}

func (t *sqliteTransaction) GetPatternByID(ctx context.Context, id int64) (*model.Pattern, error) {
	return t.storage.getPatternByID(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetActivePatternsByTypes(ctx context.Context, types []model.PatternType) ([]model.Pattern, error) {
	return t.storage.getActivePatternsByTypes(ctx, t.tx, types)
}

func (t *sqliteTransaction) GetPatternsByCategory(ctx context.Context, categoryID int64) ([]model.Pattern, error) {
	return t.storage.getPatternsByCategory(ctx, t.tx, categoryID)
}

func (t *sqliteTransaction) RecordPatternOutcome(ctx context.Context, id int64, success bool) error {
	return t.storage.recordPatternOutcome(ctx, t.tx, id, success)
}

func (t *sqliteTransaction) DeactivatePattern(ctx context.Context, id int64) error {
	return t.storage.deactivatePattern(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetCategories(ctx context.Context) ([]model.Category, error) {
	return t.storage.getCategories(ctx, t.tx)
}

func (t *sqliteTransaction) GetCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	return t.storage.getCategoryByID(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	return t.storage.getCategoryByName(ctx, t.tx, name)
}

func (t *sqliteTransaction) CreateCategory(ctx context.Context, name, description string) (*model.Category, error) {
	return t.storage.createCategory(ctx, t.tx, name, description)
}

func (t *sqliteTransaction) GetUserPreference(ctx context.Context, merchantName string) (*model.UserPreference, error) {
	return t.storage.getUserPreference(ctx, t.tx, merchantName)
}

func (t *sqliteTransaction) SaveUserPreference(ctx context.Context, pref *model.UserPreference) error {
	return t.storage.saveUserPreference(ctx, t.tx, pref)
}

func (t *sqliteTransaction) SaveExpense(ctx context.Context, expense *model.Expense) error {
	return t.storage.saveExpense(ctx, t.tx, expense)
}

func (t *sqliteTransaction) GetExpenseByID(ctx context.Context, id string) (*model.Expense, error) {
	return t.storage.getExpenseByID(ctx, t.tx, id)
}

func (t *sqliteTransaction) UpdateExpenseCategory(ctx context.Context, expenseID string, categoryID int64, confidence float64, auto bool) error {
	return t.storage.updateExpenseCategory(ctx, t.tx, expenseID, categoryID, confidence, auto)
}
