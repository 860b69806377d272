// Package similarity scores how alike two code fragments are. The score
// blends token-set overlap with length similarity; it is symmetric and
// bounded to [0,1].
package similarity

import (
	"math"
	"sort"

	"github.com/lessonbase/llkb/internal/knowledge"
	"github.com/lessonbase/llkb/internal/normalize"
)

// DefaultThreshold is the near-duplicate cutoff used across the engine.
const DefaultThreshold = 0.8

const (
	jaccardWeight = 0.8
	lengthWeight  = 0.2
)

// Score returns the similarity between two fragments in [0,1].
//
// Whitespace-identical fragments score exactly 1.0 (short-circuit, avoids
// floating noise). Otherwise the score is 0.8·Jaccard(token sets) +
// 0.2·lineSimilarity, rounded to 2 decimals. Line counts are taken from
// the raw fragments, not their normal forms, so a one-liner never scores
// full length similarity against a ten-line block.
func Score(a, b string) float64 {
	if normalize.CollapseWhitespace(a) == normalize.CollapseWhitespace(b) {
		return 1.0
	}
	j := jaccard(normalize.Tokenize(a), normalize.Tokenize(b))
	l := lineSimilarity(normalize.CountLines(a), normalize.CountLines(b))
	return round2(jaccardWeight*j + lengthWeight*l)
}

// IsNearDuplicate reports whether a and b score at or above threshold.
// A threshold <= 0 falls back to DefaultThreshold.
func IsNearDuplicate(a, b string, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Score(a, b) >= threshold
}

// Match pairs a candidate index with its similarity score.
type Match struct {
	Index int
	Text  string
	Score float64
}

// FindNearDuplicates scores code against every candidate and returns the
// matches at or above threshold, sorted by score descending. Tie order is
// not guaranteed and must not be relied on by callers.
func FindNearDuplicates(code string, candidates []string, threshold float64) []Match {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var matches []Match
	for i, c := range candidates {
		if s := Score(code, c); s >= threshold {
			matches = append(matches, Match{Index: i, Text: c, Score: s})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// PatternMatch pairs a lesson with how closely its pattern text matches
// a fragment.
type PatternMatch struct {
	Lesson knowledge.Lesson
	Score  float64
}

// FindSimilarPatterns scores code against the pattern text of every
// non-archived lesson and returns the matches at or above threshold,
// sorted by score descending.
func FindSimilarPatterns(code string, lessons []knowledge.Lesson, threshold float64) []PatternMatch {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var matches []PatternMatch
	for _, l := range lessons {
		if l.Archived || l.Pattern == "" {
			continue
		}
		if s := Score(code, l.Pattern); s >= threshold {
			matches = append(matches, PatternMatch{Lesson: l, Score: s})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	smaller, larger := a, b
	if len(smaller) > len(larger) {
		smaller, larger = larger, smaller
	}
	intersection := 0
	for t := range smaller {
		if _, ok := larger[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func lineSimilarity(a, b int) float64 {
	if a == 0 && b == 0 {
		return 1.0
	}
	max := a
	if b > max {
		max = b
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return 1.0 - float64(diff)/float64(max)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
