package match

import (
	"testing"

	"github.com/ledgerline/categorizer/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func merchantPattern(id int64, value string) model.Pattern {
	return model.Pattern{
		ID:               id,
		Type:             model.PatternTypeMerchant,
		Value:            value,
		CategoryID:       1,
		ConfidenceWeight: 1.0,
		Active:           true,
	}
}

func TestMatcher_MatchPatterns(t *testing.T) {
	m := NewMatcher()

	tests := []struct {
		name          string
		text          string
		patterns      []model.Pattern
		minConfidence float64
		wantIDs       []int64
		wantTopScore  float64
	}{
		{
			name:          "exact match after normalization",
			text:          "STARBUCKS #4521",
			patterns:      []model.Pattern{merchantPattern(1, "starbucks")},
			minConfidence: 0.5,
			wantIDs:       []int64{1},
			wantTopScore:  1.0,
		},
		{
			name:          "close variant scores high",
			text:          "STARBUCKS COFFEE",
			patterns:      []model.Pattern{merchantPattern(1, "starbucks")},
			minConfidence: 0.5,
			wantIDs:       []int64{1},
		},
		{
			name:          "unrelated merchant filtered out",
			text:          "home depot",
			patterns:      []model.Pattern{merchantPattern(1, "starbucks")},
			minConfidence: 0.5,
			wantIDs:       nil,
		},
		{
			name: "best match sorts first",
			text: "uber eats",
			patterns: []model.Pattern{
				merchantPattern(1, "uber"),
				merchantPattern(2, "uber eats"),
			},
			minConfidence: 0.3,
			wantIDs:       []int64{2, 1},
			wantTopScore:  1.0,
		},
		{
			name: "inactive pattern skipped",
			text: "starbucks",
			patterns: []model.Pattern{
				{ID: 1, Type: model.PatternTypeMerchant, Value: "starbucks", Active: false},
			},
			minConfidence: 0.5,
			wantIDs:       nil,
		},
		{
			name:          "empty text matches nothing",
			text:          "   ",
			patterns:      []model.Pattern{merchantPattern(1, "starbucks")},
			minConfidence: 0.1,
			wantIDs:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := m.MatchPatterns(tt.text, tt.patterns, tt.minConfidence)

			ids := make([]int64, 0, len(matches))
			for _, match := range matches {
				assert.GreaterOrEqual(t, match.Score, tt.minConfidence)
				assert.LessOrEqual(t, match.Score, 1.0)
				ids = append(ids, match.Pattern.ID)
			}

			if tt.wantIDs == nil {
				assert.Empty(t, ids)
			} else {
				assert.Equal(t, tt.wantIDs, ids)
			}

			if tt.wantTopScore > 0 {
				require.NotEmpty(t, matches)
				assert.InDelta(t, tt.wantTopScore, matches[0].Score, 0.001)
			}
		})
	}
}

func TestMatcher_KeywordTokens(t *testing.T) {
	m := NewMatcher()
	keyword := model.Pattern{
		ID:     7,
		Type:   model.PatternTypeKeyword,
		Value:  "coffee",
		Active: true,
	}

	matches := m.MatchPatterns("morning coffee downtown", []model.Pattern{keyword}, 0.8)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 0.001)

	matches = m.MatchPatterns("grocery run", []model.Pattern{keyword}, 0.8)
	assert.Empty(t, matches)
}

func TestMatcher_RegexPatterns(t *testing.T) {
	m := NewMatcher()
	regex := model.Pattern{
		ID:     3,
		Type:   model.PatternTypeRegex,
		Value:  `amzn( mktp)?`,
		Active: true,
	}

	matches := m.MatchPatterns("AMZN Mktp US", []model.Pattern{regex}, 0.5)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.95, matches[0].Score, 0.001)

	// Invalid regex never matches and never panics.
	bad := model.Pattern{ID: 4, Type: model.PatternTypeRegex, Value: `frands(`, Active: true}
	assert.Empty(t, m.MatchPatterns("frands", []model.Pattern{bad}, 0.1))
}

func TestJaroWinkler(t *testing.T) {
	assert.InDelta(t, 1.0, jaroWinkler("starbucks", "starbucks"), 0.001)
	assert.Greater(t, jaroWinkler("starbucks", "starbuck"), 0.9)
	assert.Less(t, jaroWinkler("starbucks", "walmart"), 0.6)
	assert.Zero(t, jaroWinkler("", "starbucks"))
}

func TestJaroWinklerPrefixCountsRunes(t *testing.T) {
	// A multi-byte leading rune earns the same prefix bonus as a
	// single-byte one.
	assert.InDelta(t, jaroWinkler("xa", "xb"), jaroWinkler("éa", "éb"), 0.001)
	assert.InDelta(t, 1.0, jaroWinkler("café", "café"), 0.001)
}

func TestTrigramJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, trigramJaccard("coffee", "coffee"), 0.001)
	assert.Greater(t, trigramJaccard("whole foods market", "whole foods"), 0.5)
	assert.Zero(t, trigramJaccard("abc", "xyz"))
	assert.InDelta(t, 1.0, trigramJaccard("ab", "ab"), 0.001)
}
