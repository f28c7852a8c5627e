package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ledgerline/categorizer/internal/common"
	"github.com/ledgerline/categorizer/internal/match"
	"github.com/ledgerline/categorizer/internal/model"
)

// GetUserPreference retrieves the account-level category override for a
// merchant. Lookup is by normalized merchant name.
func (s *SQLiteStorage) GetUserPreference(ctx context.Context, merchantName string) (*model.UserPreference, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(merchantName, "merchantName"); err != nil {
		return nil, err
	}
	return s.getUserPreference(ctx, s.db, merchantName)
}

func (s *SQLiteStorage) getUserPreference(ctx context.Context, q queryable, merchantName string) (*model.UserPreference, error) {
	var pref model.UserPreference
	err := q.QueryRowContext(ctx, `
		SELECT merchant_name, category_id, weight, updated_at
		FROM user_preferences WHERE merchant_name = ?
	`, match.Normalize(merchantName)).Scan(
		&pref.MerchantName, &pref.CategoryID, &pref.Weight, &pref.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: preference for %q", common.ErrNotFound, merchantName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user preference: %w", err)
	}

	return &pref, nil
}

// SaveUserPreference inserts or updates a merchant preference.
func (s *SQLiteStorage) SaveUserPreference(ctx context.Context, pref *model.UserPreference) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if pref == nil {
		return fmt.Errorf("%w: preference", ErrNilParameter)
	}
	if err := validateString(pref.MerchantName, "merchantName"); err != nil {
		return err
	}
	return s.saveUserPreference(ctx, s.db, pref)
}

func (s *SQLiteStorage) saveUserPreference(ctx context.Context, q queryable, pref *model.UserPreference) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO user_preferences (merchant_name, category_id, weight, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(merchant_name) DO UPDATE SET
			category_id = excluded.category_id,
			weight = excluded.weight,
			updated_at = CURRENT_TIMESTAMP
	`, match.Normalize(pref.MerchantName), pref.CategoryID, pref.Weight)
	if err != nil {
		return fmt.Errorf("failed to save user preference: %w", err)
	}

	return nil
}
