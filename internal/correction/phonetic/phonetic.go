// Package phonetic scores how close a spoken phrase sounds to the phrase the
// speaker was expected to say.
//
// Two signals are combined:
//
//   - Double Metaphone codes decide whether the phrases "sound alike": at least
//     one token of each side must share a primary or secondary code.
//   - Jaro-Winkler similarity (case-insensitive) gives a graded score in
//     [0, 1]. The best of three comparisons is used: full strings,
//     space-stripped strings, and the best token pair.
//
// A [Scorer] is read-only after construction and safe for concurrent use.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultAlikeThreshold = 0.70

// Option is a functional option for configuring a [Scorer].
type Option func(*Scorer)

// WithAlikeThreshold sets the minimum Jaro-Winkler score two phonetically
// overlapping phrases need before they are reported as sounding alike.
// Default: 0.70.
func WithAlikeThreshold(threshold float64) Option {
	return func(s *Scorer) {
		s.alikeThreshold = threshold
	}
}

// Scorer rates pronunciation closeness of word pairs.
type Scorer struct {
	alikeThreshold float64
}

// New returns a [Scorer] configured with opts.
func New(opts ...Option) *Scorer {
	s := &Scorer{alikeThreshold: defaultAlikeThreshold}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score compares what was said with what was expected. similarity is in
// [0, 1]; alike reports phonetic overlap at or above the alike threshold.
// Empty input on either side scores 0.
func (s *Scorer) Score(said, expected string) (similarity float64, alike bool) {
	saidLower := strings.ToLower(strings.TrimSpace(said))
	expLower := strings.ToLower(strings.TrimSpace(expected))
	if saidLower == "" || expLower == "" {
		return 0, false
	}
	if saidLower == expLower {
		return 1, true
	}

	saidTokens := strings.Fields(saidLower)
	expTokens := strings.Fields(expLower)

	similarity = bestJWScore(saidTokens, expTokens, saidLower, expLower)
	overlap := codesOverlap(codesForTokens(saidTokens), codesForTokens(expTokens))
	return similarity, overlap && similarity >= s.alikeThreshold
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
// Empty codes (words without consonants) are skipped.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, sec := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity across full strings,
// concatenated tokens, and every token pair.
func bestJWScore(aTokens, bTokens []string, aFull, bFull string) float64 {
	score := matchr.JaroWinkler(aFull, bFull, false)

	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}

	// A perfect token pair inside a longer phrase is capped below 1.
	if len(aTokens) > 1 || len(bTokens) > 1 {
		for _, at := range aTokens {
			for _, bt := range bTokens {
				s := matchr.JaroWinkler(at, bt, false)
				if s >= 1 {
					s = 0.99
				}
				if s > score {
					score = s
				}
			}
		}
	}
	return score
}
