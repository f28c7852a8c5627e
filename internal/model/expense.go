package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Expense represents a single financial transaction to categorize.
type Expense struct {
	Date         time.Time
	CategoryID   *int64
	ID           string
	MerchantName string
	Description  string
	Amount       decimal.Decimal
	Confidence   float64
	AutoAssigned bool
}

// HasText reports whether the expense carries any matchable text.
// Expenses with neither merchant nor description cannot be categorized.
func (e *Expense) HasText() bool {
	return strings.TrimSpace(e.MerchantName) != "" || strings.TrimSpace(e.Description) != ""
}

// Category represents a valid spending category.
type Category struct {
	CreatedAt   time.Time
	Name        string
	Description string
	ID          int64
	IsActive    bool
}

// UserPreference is an account-level merchant override that short-circuits
// fuzzy matching entirely.
type UserPreference struct {
	UpdatedAt    time.Time
	MerchantName string
	CategoryID   int64
	Weight       float64
}
