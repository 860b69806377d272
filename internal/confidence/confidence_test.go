package confidence

import (
	"testing"
	"time"

	"github.com/lessonbase/llkb/internal/knowledge"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func lessonWith(metrics knowledge.LessonMetrics, validated bool) knowledge.Lesson {
	return knowledge.Lesson{
		ID:             "l1",
		Category:       knowledge.CategoryTiming,
		Scope:          knowledge.ScopeUniversal,
		Metrics:        metrics,
		HumanValidated: validated,
	}
}

func TestCalculateBounded(t *testing.T) {
	cases := []struct {
		name    string
		metrics knowledge.LessonMetrics
		valid   bool
	}{
		{"zero lesson", knowledge.LessonMetrics{}, false},
		{"max everything", knowledge.LessonMetrics{Occurrences: 1000, SuccessRate: 1.0, LastSuccess: testNow}, true},
		{"negative occurrences", knowledge.LessonMetrics{Occurrences: -5}, false},
		{"stale success", knowledge.LessonMetrics{Occurrences: 3, SuccessRate: 0.5, LastSuccess: testNow.AddDate(-1, 0, 0)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Calculate(lessonWith(tc.metrics, tc.valid), testNow)
			if got < 0 || got > 1 {
				t.Errorf("Calculate = %v outside [0,1]", got)
			}
		})
	}
}

func TestCalculateZeroOccurrenceLesson(t *testing.T) {
	got := Calculate(lessonWith(knowledge.LessonMetrics{}, false), testNow)
	if got != 0 {
		t.Errorf("lesson with no history should score 0, got %v", got)
	}
}

func TestCalculateComponents(t *testing.T) {
	// Occurrences saturate at 10.
	ten := Calculate(lessonWith(knowledge.LessonMetrics{Occurrences: 10}, false), testNow)
	hundred := Calculate(lessonWith(knowledge.LessonMetrics{Occurrences: 100}, false), testNow)
	if ten != hundred {
		t.Errorf("occurrence term should saturate: %v vs %v", ten, hundred)
	}
	if ten != 0.4 {
		t.Errorf("saturated occurrence term = %v, want 0.4", ten)
	}

	// A success today earns the full recency term.
	fresh := Calculate(lessonWith(knowledge.LessonMetrics{LastSuccess: testNow}, false), testNow)
	if fresh != 0.3 {
		t.Errorf("fresh success = %v, want 0.3", fresh)
	}

	// A success 30+ days ago earns nothing.
	stale := Calculate(lessonWith(knowledge.LessonMetrics{LastSuccess: testNow.AddDate(0, 0, -31)}, false), testNow)
	if stale != 0 {
		t.Errorf("stale success = %v, want 0", stale)
	}

	// Validation is a flat boost.
	validated := Calculate(lessonWith(knowledge.LessonMetrics{}, true), testNow)
	if validated != 0.1 {
		t.Errorf("validated boost = %v, want 0.1", validated)
	}
}

func TestCalculateMoreRecentScoresHigher(t *testing.T) {
	recent := Calculate(lessonWith(knowledge.LessonMetrics{LastSuccess: testNow.AddDate(0, 0, -2)}, false), testNow)
	older := Calculate(lessonWith(knowledge.LessonMetrics{LastSuccess: testNow.AddDate(0, 0, -20)}, false), testNow)
	if recent <= older {
		t.Errorf("recency should decay: %v (2d) vs %v (20d)", recent, older)
	}
}

func historyAt(scores []float64, start time.Time, step time.Duration) []knowledge.ConfidencePoint {
	points := make([]knowledge.ConfidencePoint, len(scores))
	for i, s := range scores {
		points[i] = knowledge.ConfidencePoint{Timestamp: start.Add(time.Duration(i) * step), Score: s}
	}
	return points
}

func TestDetectDecliningDrop(t *testing.T) {
	// High scores followed by a collapse, sampled across >30 days: the
	// in-window samples average well above the latest point.
	l := lessonWith(knowledge.LessonMetrics{}, false)
	l.History = historyAt([]float64{0.9, 0.9, 0.9, 0.4}, testNow.AddDate(0, 0, -35), 11*24*time.Hour)

	if !DetectDeclining(l, testNow) {
		t.Error("collapse from 0.9 to 0.4 should be flagged as declining")
	}
}

func TestDetectDecliningStable(t *testing.T) {
	l := lessonWith(knowledge.LessonMetrics{}, false)
	l.History = historyAt([]float64{0.8, 0.82, 0.79, 0.81}, testNow.AddDate(0, 0, -20), 5*24*time.Hour)

	if DetectDeclining(l, testNow) {
		t.Error("stable history should not be flagged")
	}
}

func TestDetectDecliningNeedsTwoPoints(t *testing.T) {
	l := lessonWith(knowledge.LessonMetrics{}, false)
	l.History = historyAt([]float64{0.2}, testNow.AddDate(0, 0, -1), time.Hour)

	if DetectDeclining(l, testNow) {
		t.Error("a single in-window sample must not be flagged")
	}
	l.History = nil
	if DetectDeclining(l, testNow) {
		t.Error("empty history must not be flagged")
	}
}

func TestUpdateHistoryAppends(t *testing.T) {
	l := lessonWith(knowledge.LessonMetrics{Occurrences: 5, SuccessRate: 0.9, LastSuccess: testNow}, false)
	l.History = historyAt([]float64{0.5, 0.6}, testNow.AddDate(0, 0, -10), 24*time.Hour)

	got := UpdateHistory(l, testNow)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	last := got[len(got)-1]
	if !last.Timestamp.Equal(testNow) {
		t.Errorf("appended entry timestamp = %v, want %v", last.Timestamp, testNow)
	}
	if want := Calculate(l, testNow); last.Score != want {
		t.Errorf("appended score = %v, want %v", last.Score, want)
	}
}

func TestUpdateHistoryCapsLength(t *testing.T) {
	l := lessonWith(knowledge.LessonMetrics{}, false)
	// 150 recent entries, all inside the retention window.
	scores := make([]float64, 150)
	for i := range scores {
		scores[i] = 0.5
	}
	l.History = historyAt(scores, testNow.Add(-80*24*time.Hour), 30*time.Minute)

	got := UpdateHistory(l, testNow)
	if len(got) > HistoryCap {
		t.Errorf("history length %d exceeds cap %d", len(got), HistoryCap)
	}
	// Oldest entries are the ones dropped.
	if got[0].Timestamp.Before(l.History[len(l.History)-HistoryCap+1].Timestamp) {
		t.Error("truncation should drop the oldest entries")
	}
}

func TestUpdateHistoryPrunesOldEntries(t *testing.T) {
	l := lessonWith(knowledge.LessonMetrics{}, false)
	l.History = []knowledge.ConfidencePoint{
		{Timestamp: testNow.AddDate(0, 0, -120), Score: 0.9},
		{Timestamp: testNow.AddDate(0, 0, -10), Score: 0.7},
	}

	got := UpdateHistory(l, testNow)
	cutoff := testNow.Add(-RetentionWindow)
	for _, p := range got {
		if p.Timestamp.Before(cutoff) {
			t.Errorf("entry at %v older than retention cutoff %v", p.Timestamp, cutoff)
		}
	}
	if len(got) != 2 {
		t.Errorf("expected 2 entries (1 kept + 1 appended), got %d", len(got))
	}
}

func TestTrendOf(t *testing.T) {
	base := testNow.AddDate(0, 0, -10)
	cases := []struct {
		name   string
		scores []float64
		want   Trend
	}{
		{"empty", nil, TrendUnknown},
		{"single", []float64{0.5}, TrendUnknown},
		{"increasing", []float64{0.2, 0.3, 0.4, 0.6, 0.7, 0.8}, TrendIncreasing},
		{"decreasing", []float64{0.8, 0.7, 0.6, 0.4, 0.3, 0.2}, TrendDecreasing},
		{"stable", []float64{0.5, 0.51, 0.49, 0.5, 0.52, 0.5}, TrendStable},
		{"two points up", []float64{0.3, 0.6}, TrendIncreasing},
		{"two points flat", []float64{0.5, 0.52}, TrendStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TrendOf(historyAt(tc.scores, base, time.Hour))
			if got != tc.want {
				t.Errorf("TrendOf(%v) = %v, want %v", tc.scores, got, tc.want)
			}
		})
	}
}

func TestDaysBetween(t *testing.T) {
	a := testNow
	b := testNow.AddDate(0, 0, 7)
	if got := DaysBetween(a, b); got != 7 {
		t.Errorf("DaysBetween = %d, want 7", got)
	}
	if got := DaysBetween(b, a); got != 7 {
		t.Errorf("DaysBetween should be symmetric, got %d", got)
	}
	if got := DaysBetween(a, a); got != 0 {
		t.Errorf("same instant should be 0 days, got %d", got)
	}
}

func TestNeedsReview(t *testing.T) {
	weak := lessonWith(knowledge.LessonMetrics{Occurrences: 1}, false)
	if !NeedsReview(weak, 0.4, testNow) {
		t.Error("low-confidence lesson should need review")
	}

	strong := lessonWith(knowledge.LessonMetrics{Occurrences: 10, SuccessRate: 1.0, LastSuccess: testNow}, true)
	if NeedsReview(strong, 0.4, testNow) {
		t.Error("high-confidence lesson should not need review")
	}

	// Declining history forces review even with decent current confidence.
	declining := lessonWith(knowledge.LessonMetrics{Occurrences: 10, SuccessRate: 1.0, LastSuccess: testNow}, true)
	declining.History = historyAt([]float64{0.9, 0.9, 0.9, 0.4}, testNow.AddDate(0, 0, -20), 5*24*time.Hour)
	if !NeedsReview(declining, 0.4, testNow) {
		t.Error("declining lesson should need review")
	}
}
