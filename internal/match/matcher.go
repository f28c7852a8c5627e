package match

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ledgerline/categorizer/internal/model"
)

// Weights for blending the two similarity measures. Edit distance carries
// most of the signal; trigram overlap catches word reorderings that
// character alignment misses.
const (
	editWeight    = 0.7
	trigramWeight = 0.3

	// regexScore is the fixed score awarded to a regex pattern hit; regex
	// authorship implies intent, but exact text equality still outranks it.
	regexScore = 0.95
)

// Match pairs a pattern with its similarity score against some text.
type Match struct {
	Pattern model.Pattern
	Score   float64
}

// Matcher scores similarity between expense text and pattern values.
// Safe for concurrent use; compiled regexes are cached per pattern.
type Matcher struct {
	compiledRegex map[int64]*regexp.Regexp
	mu            sync.RWMutex
}

// NewMatcher creates a new fuzzy matcher.
func NewMatcher() *Matcher {
	return &Matcher{
		compiledRegex: make(map[int64]*regexp.Regexp),
	}
}

// MatchPatterns scores text against each pattern and returns matches at or
// above minConfidence, best first. Inactive patterns are skipped.
func (m *Matcher) MatchPatterns(text string, patterns []model.Pattern, minConfidence float64) []Match {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	var matches []Match
	for _, p := range patterns {
		if !p.Active {
			continue
		}

		score := m.score(normalized, p)
		if score >= minConfidence && score > 0 {
			matches = append(matches, Match{Pattern: p, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	return matches
}

// Score returns the similarity of text to a single pattern in [0, 1].
func (m *Matcher) Score(text string, p model.Pattern) float64 {
	return m.score(Normalize(text), p)
}

func (m *Matcher) score(normalized string, p model.Pattern) float64 {
	if p.Type == model.PatternTypeRegex {
		if re := m.compile(p); re != nil && re.MatchString(normalized) {
			return regexScore
		}
		return 0
	}

	value := Normalize(p.Value)
	if value == "" {
		return 0
	}

	if normalized == value {
		return 1.0
	}

	// Keywords are matched per token: "coffee" should hit anywhere inside
	// "morning coffee downtown", not against the whole string.
	if p.Type == model.PatternTypeKeyword {
		return bestTokenScore(normalized, value)
	}

	return blend(normalized, value)
}

func blend(a, b string) float64 {
	return editWeight*jaroWinkler(a, b) + trigramWeight*trigramJaccard(a, b)
}

func bestTokenScore(normalized, value string) float64 {
	var best float64
	for _, tok := range strings.Fields(normalized) {
		if tok == value {
			return 1.0
		}
		if s := blend(tok, value); s > best {
			best = s
		}
	}
	return best
}

func (m *Matcher) compile(p model.Pattern) *regexp.Regexp {
	m.mu.RLock()
	re, ok := m.compiledRegex[p.ID]
	m.mu.RUnlock()
	if ok {
		return re
	}

	compiled, err := regexp.Compile("(?i)" + p.Value)
	if err != nil {
		compiled = nil // Cache the failure so a bad pattern compiles once.
	}

	m.mu.Lock()
	m.compiledRegex[p.ID] = compiled
	m.mu.Unlock()

	return compiled
}
