// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"time"
)

// PatternType indicates what part of an expense a pattern matches against.
type PatternType string

// Pattern type constants.
const (
	PatternTypeMerchant    PatternType = "merchant"
	PatternTypeKeyword     PatternType = "keyword"
	PatternTypeDescription PatternType = "description"
	PatternTypeAmountRange PatternType = "amount_range"
	PatternTypeRegex       PatternType = "regex"
	PatternTypeTime        PatternType = "time"
)

// Pattern represents a learned categorization rule mapping a normalized
// text signature to a category.
type Pattern struct {
	CreatedAt        time.Time
	UpdatedAt        time.Time
	TypicalAmount    *float64
	TypicalDayOfWeek *int
	TypicalHour      *int
	Value            string
	Type             PatternType
	ID               int64
	CategoryID       int64
	ConfidenceWeight float64
	UsageCount       int
	SuccessCount     int
	Active           bool
	UserCreated      bool
}

// SuccessRate returns the fraction of uses that were confirmed correct.
// Returns 0 when the pattern has never been used.
func (p *Pattern) SuccessRate() float64 {
	if p.UsageCount == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.UsageCount)
}

// Validate ensures the pattern has valid data.
func (p *Pattern) Validate() error {
	switch p.Type {
	case PatternTypeMerchant, PatternTypeKeyword, PatternTypeDescription,
		PatternTypeAmountRange, PatternTypeRegex, PatternTypeTime:
	default:
		return fmt.Errorf("unknown pattern type %q", p.Type)
	}

	if p.Value == "" {
		return fmt.Errorf("pattern value is required")
	}
	if p.CategoryID <= 0 {
		return fmt.Errorf("pattern category is required")
	}
	if p.ConfidenceWeight < 0.1 || p.ConfidenceWeight > 5.0 {
		return fmt.Errorf("confidence weight must be between 0.1 and 5.0")
	}
	if p.SuccessCount < 0 || p.UsageCount < 0 {
		return fmt.Errorf("usage counts must be non-negative")
	}
	if p.SuccessCount > p.UsageCount {
		return fmt.Errorf("success count %d exceeds usage count %d", p.SuccessCount, p.UsageCount)
	}

	return nil
}
