package model

import "time"

// Method indicates how a categorization result was produced.
type Method string

// Result method constants.
const (
	MethodUserPreference Method = "user_preference"
	MethodFuzzy          Method = "fuzzy"
	MethodNoMatch        Method = "no_match"
	MethodError          Method = "error"
)

// FactorScore is one entry of a result's confidence breakdown.
type FactorScore struct {
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// PatternDescriptor records a pattern's contribution to a result.
type PatternDescriptor struct {
	Value     string      `json:"value"`
	Type      PatternType `json:"type"`
	PatternID int64       `json:"pattern_id"`
	Score     float64     `json:"score"`
}

// Alternative is a runner-up category with its confidence.
type Alternative struct {
	Category   *Category `json:"category"`
	Confidence float64   `json:"confidence"`
}

// CategorizationResult is the immutable outcome of a single categorize call.
// Category is nil for no_match and error results.
type CategorizationResult struct {
	Category            *Category              `json:"category"`
	ConfidenceBreakdown map[string]FactorScore `json:"confidence_breakdown,omitempty"`
	Metadata            map[string]any         `json:"metadata,omitempty"`
	CorrelationID       string                 `json:"correlation_id"`
	ErrorMessage        string                 `json:"error,omitempty"`
	Method              Method                 `json:"method"`
	PatternsUsed        []PatternDescriptor    `json:"patterns_used,omitempty"`
	Alternatives        []Alternative          `json:"alternative_categories,omitempty"`
	ProcessingTime      time.Duration          `json:"-"`
	Confidence          float64                `json:"confidence"`
}

// ProcessingTimeMS returns the elapsed pipeline time in milliseconds for
// logging and serialization.
func (r *CategorizationResult) ProcessingTimeMS() float64 {
	return float64(r.ProcessingTime.Microseconds()) / 1000.0
}

// Flatten converts the result to a flat record suitable for structured
// logging or API responses.
func (r *CategorizationResult) Flatten() map[string]any {
	flat := map[string]any{
		"method":             string(r.Method),
		"confidence":         r.Confidence,
		"processing_time_ms": r.ProcessingTimeMS(),
		"correlation_id":     r.CorrelationID,
	}
	if r.Category != nil {
		flat["category"] = r.Category.Name
		flat["category_id"] = r.Category.ID
	}
	if r.ErrorMessage != "" {
		flat["error"] = r.ErrorMessage
	}
	return flat
}

// LearningResult summarizes the effect of one learning event.
type LearningResult struct {
	Message         string `json:"message"`
	PatternsCreated int    `json:"patterns_created"`
	PatternsUpdated int    `json:"patterns_updated"`
	Success         bool   `json:"success"`
}

// LearningError builds a failed LearningResult with a caller-safe message.
func LearningError(message string) LearningResult {
	return LearningResult{Message: message}
}
