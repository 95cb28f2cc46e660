package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.85
	defaultFuzzyThreshold    = 0.92

	// minFuzzyRunes is the shortest span that may match other than exactly.
	minFuzzyRunes = 3
)

// Matcher decides whether a span of transcript words refers to a keyword,
// tolerating speech-to-text misspellings ("Ana" for "Anna", "Jon" for
// "John"). A span matches when it is equal ignoring case, or when its Double
// Metaphone codes overlap the keyword's and their Jaro-Winkler similarity
// reaches the phonetic threshold, or, without phonetic overlap, when the
// similarity reaches the higher fuzzy threshold.
//
// A Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for phonetic candidates.
// Default: 0.85.
func WithPhoneticThreshold(v float64) MatcherOption {
	return func(m *Matcher) { m.phoneticThreshold = v }
}

// WithFuzzyThreshold sets the minimum similarity when codes do not overlap.
// Default: 0.92.
func WithFuzzyThreshold(v float64) MatcherOption {
	return func(m *Matcher) { m.fuzzyThreshold = v }
}

// NewMatcher returns a matcher with default thresholds.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{phoneticThreshold: defaultPhoneticThreshold, fuzzyThreshold: defaultFuzzyThreshold}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Kind tells how a span matched.
type Kind string

const (
	KindExact    Kind = "exact"
	KindPhonetic Kind = "phonetic"
	KindFuzzy    Kind = "fuzzy"
)

// Match compares span (one or more words) with keyword.
func (m *Matcher) Match(span, keyword string) (Kind, float64, bool) {
	span = strings.ToLower(strings.TrimSpace(span))
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if span == "" || keyword == "" {
		return "", 0, false
	}
	if span == keyword {
		return KindExact, 1, true
	}
	if utf8.RuneCountInString(span) < minFuzzyRunes {
		return "", 0, false
	}

	spanTokens := strings.Fields(span)
	kwTokens := strings.Fields(keyword)
	score := similarity(spanTokens, kwTokens, span, keyword)

	if codesOverlap(codes(spanTokens), codes(kwTokens)) {
		if score >= m.phoneticThreshold {
			return KindPhonetic, score, true
		}
		return "", 0, false
	}
	if score >= m.fuzzyThreshold {
		return KindFuzzy, score, true
	}
	return "", 0, false
}

func codes(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			set[p] = struct{}{}
		}
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the Jaro-Winkler score of the full strings, or of the
// strings with spaces removed for multi-word input, whichever is higher.
// Single tokens are never compared pairwise against multi-word keywords,
// so "anna" alone does not match "anna schmidt".
func similarity(spanTokens, kwTokens []string, span, keyword string) float64 {
	score := matchr.JaroWinkler(span, keyword, false)
	if len(spanTokens) > 1 || len(kwTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(spanTokens, ""), strings.Join(kwTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}
