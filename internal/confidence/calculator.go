// Package confidence turns raw match scores and pattern history into
// calibrated confidence values with an explainable per-factor breakdown.
package confidence

import (
	"math"

	"github.com/ledgerline/categorizer/internal/model"
)

// Factor names used in result breakdowns.
const (
	FactorTextMatch         = "text_match"
	FactorHistoricalSuccess = "historical_success"
	FactorUsageFrequency    = "usage_frequency"
	FactorAmountSimilarity  = "amount_similarity"
	FactorTemporalPattern   = "temporal_pattern"
)

// Config tunes the calculator. Zero values fall back to defaults.
type Config struct {
	// MinUsageForHistory is how many recorded uses a pattern needs before
	// its success rate is trusted as a factor.
	MinUsageForHistory int
	// SigmoidSteepness controls how sharply scores separate around the
	// midpoint.
	SigmoidSteepness float64
}

// DefaultConfig returns the default calculator configuration.
func DefaultConfig() Config {
	return Config{
		MinUsageForHistory: 5,
		SigmoidSteepness:   8.0,
	}
}

// Calculator blends weighted factors into a single calibrated confidence.
type Calculator struct {
	minUsage  int
	steepness float64
}

// New creates a calculator with the given configuration.
func New(cfg Config) *Calculator {
	if cfg.MinUsageForHistory <= 0 {
		cfg.MinUsageForHistory = 5
	}
	if cfg.SigmoidSteepness <= 0 {
		cfg.SigmoidSteepness = 8.0
	}
	return &Calculator{
		minUsage:  cfg.MinUsageForHistory,
		steepness: cfg.SigmoidSteepness,
	}
}

// Base factor weights. Missing optional factors renormalize the remainder
// so the weights in play always sum to 1.
var factorWeights = map[string]float64{
	FactorTextMatch:         0.35,
	FactorHistoricalSuccess: 0.25,
	FactorUsageFrequency:    0.15,
	FactorAmountSimilarity:  0.15,
	FactorTemporalPattern:   0.10,
}

// Calculate scores how confident we are that pattern correctly categorizes
// expense, given the fuzzy match score. The returned breakdown lists each
// contributing factor's raw score and normalized weight.
func (c *Calculator) Calculate(expense *model.Expense, pattern *model.Pattern, matchScore float64) (float64, map[string]model.FactorScore) {
	raw := map[string]float64{
		FactorTextMatch: clamp01(matchScore),
	}

	if pattern.UsageCount > c.minUsage {
		raw[FactorHistoricalSuccess] = pattern.SuccessRate()
	}

	if pattern.UsageCount > 0 {
		freq := math.Log10(float64(pattern.UsageCount)+1) / 4
		raw[FactorUsageFrequency] = clamp01(freq)
	}

	if s, ok := amountSimilarity(expense, pattern); ok {
		raw[FactorAmountSimilarity] = s
	}

	if s, ok := temporalSimilarity(expense, pattern); ok {
		raw[FactorTemporalPattern] = s
	}

	totalWeight := 0.0
	for name := range raw {
		totalWeight += factorWeights[name]
	}

	breakdown := make(map[string]model.FactorScore, len(raw))
	weighted := 0.0
	for name, score := range raw {
		w := factorWeights[name] / totalWeight
		weighted += score * w
		breakdown[name] = model.FactorScore{Score: score, Weight: w}
	}

	// Pattern weight amplifies or dampens the blended score before
	// calibration.
	weighted *= pattern.ConfidenceWeight

	return clamp01(c.sigmoid(weighted)), breakdown
}

// sigmoid sharpens separation between confident and uncertain matches,
// centered at 0.5.
func (c *Calculator) sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-c.steepness*(x-0.5)))
}

// amountSimilarity measures log-scale closeness between the expense amount
// and the pattern's typical amount, when one is known.
func amountSimilarity(expense *model.Expense, pattern *model.Pattern) (float64, bool) {
	if pattern.TypicalAmount == nil || *pattern.TypicalAmount <= 0 {
		return 0, false
	}

	amount := expense.Amount.Abs().InexactFloat64()
	if amount <= 0 {
		return 0, false
	}

	diff := math.Abs(math.Log10(amount) - math.Log10(*pattern.TypicalAmount))
	// One order of magnitude apart scores zero.
	return clamp01(1 - diff), true
}

// temporalSimilarity scores how well the transaction's timing matches the
// pattern's typical day-of-week and hour, when recorded.
func temporalSimilarity(expense *model.Expense, pattern *model.Pattern) (float64, bool) {
	if pattern.TypicalDayOfWeek == nil && pattern.TypicalHour == nil {
		return 0, false
	}
	if expense.Date.IsZero() {
		return 0, false
	}

	score := 0.0
	parts := 0

	if pattern.TypicalDayOfWeek != nil {
		parts++
		dist := cyclicDistance(int(expense.Date.Weekday()), *pattern.TypicalDayOfWeek, 7)
		score += 1 - float64(dist)/3.0
	}

	if pattern.TypicalHour != nil {
		parts++
		dist := cyclicDistance(expense.Date.Hour(), *pattern.TypicalHour, 24)
		score += 1 - float64(dist)/12.0
	}

	return clamp01(score / float64(parts)), true
}

func cyclicDistance(a, b, period int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if period-d < d {
		d = period - d
	}
	return d
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
