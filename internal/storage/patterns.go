package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerline/categorizer/internal/common"
	"github.com/ledgerline/categorizer/internal/model"
)

const patternColumns = `id, category_id, pattern_type, pattern_value,
	confidence_weight, usage_count, success_count,
	typical_amount, typical_day_of_week, typical_hour,
	active, user_created, created_at, updated_at`

// CreatePattern creates a new pattern.
func (s *SQLiteStorage) CreatePattern(ctx context.Context, pattern *model.Pattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.createPattern(ctx, s.db, pattern)
}

func (s *SQLiteStorage) createPattern(ctx context.Context, q queryable, pattern *model.Pattern) error {
	if err := validatePattern(pattern); err != nil {
		return err
	}

	// Verify category exists
	var categoryCount int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM categories WHERE id = ? AND is_active = 1",
		pattern.CategoryID).Scan(&categoryCount)
	if err != nil {
		return fmt.Errorf("failed to verify category: %w", err)
	}
	if categoryCount == 0 {
		return fmt.Errorf("%w: id %d", common.ErrCategoryNotFound, pattern.CategoryID)
	}

	query := `
		INSERT INTO patterns (
			category_id, pattern_type, pattern_value, confidence_weight,
			usage_count, success_count, typical_amount,
			typical_day_of_week, typical_hour, active, user_created
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := q.ExecContext(ctx, query,
		pattern.CategoryID, pattern.Type, pattern.Value, pattern.ConfidenceWeight,
		pattern.UsageCount, pattern.SuccessCount, pattern.TypicalAmount,
		pattern.TypicalDayOfWeek, pattern.TypicalHour, pattern.Active, pattern.UserCreated,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: pattern (%d, %s, %q)", common.ErrDuplicateEntry,
				pattern.CategoryID, pattern.Type, pattern.Value)
		}
		return fmt.Errorf("failed to create pattern: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get pattern ID: %w", err)
	}

	pattern.ID = id
	pattern.CreatedAt = time.Now()
	pattern.UpdatedAt = time.Now()

	return nil
}

// UpdatePattern updates an existing pattern's mutable fields.
func (s *SQLiteStorage) UpdatePattern(ctx context.Context, pattern *model.Pattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updatePattern(ctx, s.db, pattern)
}

func (s *SQLiteStorage) updatePattern(ctx context.Context, q queryable, pattern *model.Pattern) error {
	if err := validatePattern(pattern); err != nil {
		return err
	}
	if pattern.ID <= 0 {
		return fmt.Errorf("%w: pattern has no id", ErrInvalidPattern)
	}

	query := `
		UPDATE patterns
		SET confidence_weight = ?, usage_count = ?, success_count = ?,
			typical_amount = ?, typical_day_of_week = ?, typical_hour = ?,
			active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := q.ExecContext(ctx, query,
		pattern.ConfidenceWeight, pattern.UsageCount, pattern.SuccessCount,
		pattern.TypicalAmount, pattern.TypicalDayOfWeek, pattern.TypicalHour,
		pattern.Active, pattern.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update pattern: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: pattern %d", common.ErrNotFound, pattern.ID)
	}

	return nil
}

// FindPattern looks up a pattern by its unique (category, type, value) key.
func (s *SQLiteStorage) FindPattern(ctx context.Context, categoryID int64, patternType model.PatternType, value string) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findPattern(ctx, s.db, categoryID, patternType, value)
}

func (s *SQLiteStorage) findPattern(ctx context.Context, q queryable, categoryID int64, patternType model.PatternType, value string) (*model.Pattern, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM patterns
		WHERE category_id = ? AND pattern_type = ? AND pattern_value = ?
	`, patternColumns)

	row := q.QueryRowContext(ctx, query, categoryID, patternType, value)
	pattern, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: pattern (%d, %s, %q)", common.ErrNotFound, categoryID, patternType, value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pattern: %w", err)
	}

	return pattern, nil
}

// GetPatternByID retrieves a pattern by ID.
func (s *SQLiteStorage) GetPatternByID(ctx context.Context, id int64) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getPatternByID(ctx, s.db, id)
}

func (s *SQLiteStorage) getPatternByID(ctx context.Context, q queryable, id int64) (*model.Pattern, error) {
	query := fmt.Sprintf("SELECT %s FROM patterns WHERE id = ?", patternColumns)

	pattern, err := scanPattern(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: pattern %d", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}

	return pattern, nil
}

// GetActivePatternsByTypes retrieves all active patterns of the given types.
func (s *SQLiteStorage) GetActivePatternsByTypes(ctx context.Context, types []model.PatternType) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getActivePatternsByTypes(ctx, s.db, types)
}

func (s *SQLiteStorage) getActivePatternsByTypes(ctx context.Context, q queryable, types []model.PatternType) ([]model.Pattern, error) {
	if len(types) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(types))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`
		SELECT %s FROM patterns
		WHERE active = 1 AND pattern_type IN (%s)
		ORDER BY usage_count DESC, id ASC
	`, patternColumns, placeholders)

	args := make([]any, len(types))
	for i, t := range types {
		args[i] = t
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanPatterns(rows)
}

// GetPatternsByCategory retrieves all patterns for a category, active or not.
func (s *SQLiteStorage) GetPatternsByCategory(ctx context.Context, categoryID int64) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getPatternsByCategory(ctx, s.db, categoryID)
}

func (s *SQLiteStorage) getPatternsByCategory(ctx context.Context, q queryable, categoryID int64) ([]model.Pattern, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM patterns
		WHERE category_id = ?
		ORDER BY pattern_type, pattern_value
	`, patternColumns)

	rows, err := q.QueryContext(ctx, query, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns by category: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanPatterns(rows)
}

// RecordPatternOutcome atomically bumps a pattern's usage count, and its
// success count when the use was confirmed correct. The success <= usage
// invariant is enforced by the single UPDATE.
func (s *SQLiteStorage) RecordPatternOutcome(ctx context.Context, id int64, success bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.recordPatternOutcome(ctx, s.db, id, success)
}

func (s *SQLiteStorage) recordPatternOutcome(ctx context.Context, q queryable, id int64, success bool) error {
	successIncrement := 0
	if success {
		successIncrement = 1
	}

	result, err := q.ExecContext(ctx, `
		UPDATE patterns
		SET usage_count = usage_count + 1,
			success_count = success_count + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, successIncrement, id)
	if err != nil {
		return fmt.Errorf("failed to record pattern outcome: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check outcome result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: pattern %d", common.ErrNotFound, id)
	}

	return nil
}

// DeactivatePattern marks a pattern inactive; patterns are retained for
// audit, never hard-deleted.
func (s *SQLiteStorage) DeactivatePattern(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deactivatePattern(ctx, s.db, id)
}

func (s *SQLiteStorage) deactivatePattern(ctx context.Context, q queryable, id int64) error {
	result, err := q.ExecContext(ctx,
		"UPDATE patterns SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate pattern: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deactivate result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: pattern %d", common.ErrNotFound, id)
	}

	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanPattern(row scanner) (*model.Pattern, error) {
	var p model.Pattern
	err := row.Scan(
		&p.ID, &p.CategoryID, &p.Type, &p.Value,
		&p.ConfidenceWeight, &p.UsageCount, &p.SuccessCount,
		&p.TypicalAmount, &p.TypicalDayOfWeek, &p.TypicalHour,
		&p.Active, &p.UserCreated, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPatterns(rows *sql.Rows) ([]model.Pattern, error) {
	var patterns []model.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		patterns = append(patterns, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patterns: %w", err)
	}
	return patterns, nil
}
