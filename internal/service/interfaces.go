// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/ledgerline/categorizer/internal/model"
)

// Storage defines the contract for the persistence layer.
type Storage interface {
	// Pattern operations
	CreatePattern(ctx context.Context, pattern *model.Pattern) error
	UpdatePattern(ctx context.Context, pattern *model.Pattern) error
	FindPattern(ctx context.Context, categoryID int64, patternType model.PatternType, value string) (*model.Pattern, error)
	GetPatternByID(ctx context.Context, id int64) (*model.Pattern, error)
	GetActivePatternsByTypes(ctx context.Context, types []model.PatternType) ([]model.Pattern, error)
	GetPatternsByCategory(ctx context.Context, categoryID int64) ([]model.Pattern, error)
	RecordPatternOutcome(ctx context.Context, id int64, success bool) error
	DeactivatePattern(ctx context.Context, id int64) error

	// Category operations
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryByID(ctx context.Context, id int64) (*model.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	CreateCategory(ctx context.Context, name, description string) (*model.Category, error)

	// User preference operations
	GetUserPreference(ctx context.Context, merchantName string) (*model.UserPreference, error)
	SaveUserPreference(ctx context.Context, pref *model.UserPreference) error

	// Expense operations
	SaveExpense(ctx context.Context, expense *model.Expense) error
	GetExpenseByID(ctx context.Context, id string) (*model.Expense, error)
	UpdateExpenseCategory(ctx context.Context, expenseID string, categoryID int64, confidence float64, auto bool) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction. It exposes the full
// Storage surface so learning mutations stay atomic.
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}

// PatternSource supplies candidate patterns and preferences to the engine,
// typically through a read-through cache.
type PatternSource interface {
	GetPatternsForExpense(ctx context.Context, expense *model.Expense) ([]model.Pattern, error)
	GetUserPreference(ctx context.Context, merchantName string) (*model.UserPreference, error)
	PreloadForBatch(ctx context.Context) error
	InvalidateCategory(categoryID int64)
	Flush()
	CacheStats() CacheStats
}

// CacheStats reports pattern cache effectiveness.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Preloads  int64
	Evictions int64
}

// MetricsSink accepts timing and outcome tuples for each engine operation.
// The engine never depends on a concrete backend, only on this shape.
type MetricsSink interface {
	Record(operation string, duration time.Duration, success bool, metadata map[string]any)
}

// HealthChecker is optionally implemented by collaborators that can probe
// their own health. Services that do not implement it are assumed healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
