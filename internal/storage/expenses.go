package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ledgerline/categorizer/internal/common"
	"github.com/ledgerline/categorizer/internal/model"
	"github.com/shopspring/decimal"
)

// SaveExpense inserts or replaces an expense record.
func (s *SQLiteStorage) SaveExpense(ctx context.Context, expense *model.Expense) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.saveExpense(ctx, s.db, expense)
}

func (s *SQLiteStorage) saveExpense(ctx context.Context, q queryable, expense *model.Expense) error {
	if err := validateExpense(expense); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO expenses (id, merchant_name, description, amount, transaction_date,
			category_id, confidence, auto_assigned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			merchant_name = excluded.merchant_name,
			description = excluded.description,
			amount = excluded.amount,
			transaction_date = excluded.transaction_date,
			category_id = excluded.category_id,
			confidence = excluded.confidence,
			auto_assigned = excluded.auto_assigned
	`, expense.ID, expense.MerchantName, expense.Description, expense.Amount.String(),
		expense.Date, expense.CategoryID, expense.Confidence, expense.AutoAssigned)
	if err != nil {
		return fmt.Errorf("failed to save expense: %w", err)
	}

	return nil
}

// GetExpenseByID retrieves an expense by ID.
func (s *SQLiteStorage) GetExpenseByID(ctx context.Context, id string) (*model.Expense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getExpenseByID(ctx, s.db, id)
}

func (s *SQLiteStorage) getExpenseByID(ctx context.Context, q queryable, id string) (*model.Expense, error) {
	var (
		e      model.Expense
		amount string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, merchant_name, description, amount, transaction_date,
			category_id, confidence, auto_assigned
		FROM expenses WHERE id = ?
	`, id).Scan(&e.ID, &e.MerchantName, &e.Description, &amount, &e.Date,
		&e.CategoryID, &e.Confidence, &e.AutoAssigned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: expense %q", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expense amount %q: %w", amount, err)
	}

	return &e, nil
}

// UpdateExpenseCategory writes a categorization result back onto an
// expense. A single idempotent UPDATE, safe to apply after a timeout.
func (s *SQLiteStorage) UpdateExpenseCategory(ctx context.Context, expenseID string, categoryID int64, confidence float64, auto bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(expenseID, "expenseID"); err != nil {
		return err
	}
	return s.updateExpenseCategory(ctx, s.db, expenseID, categoryID, confidence, auto)
}

func (s *SQLiteStorage) updateExpenseCategory(ctx context.Context, q queryable, expenseID string, categoryID int64, confidence float64, auto bool) error {
	result, err := q.ExecContext(ctx, `
		UPDATE expenses
		SET category_id = ?, confidence = ?, auto_assigned = ?
		WHERE id = ?
	`, categoryID, confidence, auto, expenseID)
	if err != nil {
		return fmt.Errorf("failed to update expense category: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check expense update: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: expense %q", common.ErrNotFound, expenseID)
	}

	return nil
}
