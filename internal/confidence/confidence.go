// Package confidence derives a lesson's trust score from its usage
// history. The score combines how often a lesson fired, how recently it
// last succeeded, its success rate, and whether a human vetted it; a
// bounded, time-windowed history of past scores supports decline
// detection and trend classification.
package confidence

import (
	"math"
	"time"

	"github.com/lessonbase/llkb/internal/knowledge"
)

const (
	// HistoryCap bounds the confidence history length.
	HistoryCap = 100
	// RetentionWindow is how long history entries are kept.
	RetentionWindow = 90 * 24 * time.Hour

	occurrenceWeight = 0.4
	recencyWeight    = 0.3
	successWeight    = 0.2
	validatedBoost   = 0.1

	// occurrenceSaturation is the count at which the occurrence term
	// stops growing.
	occurrenceSaturation = 10
	// recencyHorizonDays is the age at which the recency term reaches zero.
	recencyHorizonDays = 30

	// rollingWindow is the span of history considered by decline detection.
	rollingWindow = 30 * 24 * time.Hour
	// declineRatio flags a current score at or more than 20% below the
	// rolling average.
	declineRatio = 0.8

	trendEpsilon = 0.05
	trendWindow  = 3
)

// Trend classifies the direction of a confidence history.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendUnknown    Trend = "unknown"
)

// Calculate computes a lesson's confidence in [0,1] as of now.
//
// The occurrence term saturates: the first few sightings matter most and
// growth stops at occurrenceSaturation. The recency term decays linearly
// to zero recencyHorizonDays after the last success. A human-validated
// lesson gets a fixed boost. The sum is clamped to [0,1].
func Calculate(l knowledge.Lesson, now time.Time) float64 {
	occ := l.Metrics.Occurrences
	if occ > occurrenceSaturation {
		occ = occurrenceSaturation
	}
	if occ < 0 {
		occ = 0
	}
	score := float64(occ) / occurrenceSaturation * occurrenceWeight

	if !l.Metrics.LastSuccess.IsZero() {
		age := float64(DaysBetween(l.Metrics.LastSuccess, now))
		freshness := 1.0 - age/recencyHorizonDays
		if freshness > 0 {
			score += freshness * recencyWeight
		}
	}

	score += l.Metrics.SuccessRate * successWeight

	if l.HumanValidated {
		score += validatedBoost
	}

	return clamp01(score)
}

// DetectDeclining reports whether the lesson's latest sampled confidence
// sits 20% or more below its 30-day rolling average. Lessons with fewer
// than two in-window samples are never flagged.
func DetectDeclining(l knowledge.Lesson, now time.Time) bool {
	cutoff := now.Add(-rollingWindow)
	var sum float64
	var n int
	for _, p := range l.History {
		if p.Timestamp.Before(cutoff) {
			continue
		}
		sum += p.Score
		n++
	}
	if n < 2 {
		return false
	}
	current := l.History[len(l.History)-1].Score
	avg := sum / float64(n)
	return avg > 0 && current <= avg*declineRatio
}

// UpdateHistory appends a freshly calculated confidence point and returns
// the pruned history: entries older than the retention window are dropped,
// then the oldest entries are truncated until the cap holds. The input
// slice is not modified; history stays chronological and append-only.
func UpdateHistory(l knowledge.Lesson, now time.Time) []knowledge.ConfidencePoint {
	point := knowledge.ConfidencePoint{Timestamp: now, Score: Calculate(l, now)}

	cutoff := now.Add(-RetentionWindow)
	pruned := make([]knowledge.ConfidencePoint, 0, len(l.History)+1)
	for _, p := range l.History {
		if p.Timestamp.Before(cutoff) {
			continue
		}
		pruned = append(pruned, p)
	}
	pruned = append(pruned, point)

	if excess := len(pruned) - HistoryCap; excess > 0 {
		pruned = pruned[excess:]
	}
	return pruned
}

// TrendOf classifies a history by comparing the average of the most recent
// points against the average of the points just before them, inside an
// epsilon stability band. Fewer than 2 points is unknown.
func TrendOf(history []knowledge.ConfidencePoint) Trend {
	if len(history) < 2 {
		return TrendUnknown
	}

	recentStart := len(history) - trendWindow
	if recentStart < 1 {
		recentStart = 1
	}
	recent := mean(history[recentStart:])

	earlierStart := recentStart - trendWindow
	if earlierStart < 0 {
		earlierStart = 0
	}
	earlier := mean(history[earlierStart:recentStart])

	switch diff := recent - earlier; {
	case diff > trendEpsilon:
		return TrendIncreasing
	case diff < -trendEpsilon:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// DaysBetween returns the whole number of days separating two instants,
// always non-negative.
func DaysBetween(a, b time.Time) int {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// NeedsReview reports whether a lesson has fallen below the review
// threshold or is in decline. A threshold <= 0 defaults to 0.4.
func NeedsReview(l knowledge.Lesson, threshold float64, now time.Time) bool {
	if threshold <= 0 {
		threshold = 0.4
	}
	return Calculate(l, now) < threshold || DetectDeclining(l, now)
}

func mean(points []knowledge.ConfidencePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Score
	}
	return sum / float64(len(points))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
