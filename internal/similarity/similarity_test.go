package similarity

import (
	"math"
	"testing"

	"github.com/lessonbase/llkb/internal/knowledge"
)

func TestScoreIdentical(t *testing.T) {
	fragments := []string{
		"await page.click('#submit');",
		"const a = 1;\nconst b = 2;",
		"",
	}
	for _, f := range fragments {
		if got := Score(f, f); got != 1.0 {
			t.Errorf("Score(x, x) = %v for %q, want 1.0", got, f)
		}
	}
}

func TestScoreWhitespaceInsensitive(t *testing.T) {
	a := "await page.click('#submit');"
	b := "await   page.click('#submit');  "
	if got := Score(a, b); got != 1.0 {
		t.Errorf("whitespace-only difference should score 1.0, got %v", got)
	}
}

func TestScoreSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"await page.click('#submit');", "await page.click('#cancel');"},
		{"const a = 1;", "let b = 'two';"},
		{"", "something"},
	}
	for _, p := range pairs {
		ab, ba := Score(p[0], p[1]), Score(p[1], p[0])
		if ab != ba {
			t.Errorf("Score(%q, %q) = %v but reversed = %v", p[0], p[1], ab, ba)
		}
	}
}

// Same shape with a different literal should score high but strictly
// below identity.
func TestScoreSameShapeDifferentLiteral(t *testing.T) {
	got := Score("await page.click('#submit');", "await page.click('#cancel');")
	if got < 0.85 {
		t.Errorf("score %v, want >= 0.85", got)
	}
	if got >= 1.0 {
		t.Errorf("score %v, want < 1.0", got)
	}
}

func TestScoreEmptyCases(t *testing.T) {
	if got := Score("", ""); got != 1.0 {
		t.Errorf("both empty should score 1.0, got %v", got)
	}
	if got := Score("", "await page.click('#x');"); got != 0.0 {
		t.Errorf("one empty should score 0.0, got %v", got)
	}
}

func TestScoreBounded(t *testing.T) {
	pairs := [][2]string{
		{"a", "completely different content here"},
		{"line one\nline two\nline three", "x"},
		{"await page.goto('/');", "await page.goto('/');\nawait page.click('#a');"},
	}
	for _, p := range pairs {
		got := Score(p[0], p[1])
		if got < 0 || got > 1 {
			t.Errorf("Score(%q, %q) = %v outside [0,1]", p[0], p[1], got)
		}
	}
}

func TestScoreRoundedToTwoDecimals(t *testing.T) {
	got := Score("await page.click('#submit');", "await page.click('#cancel');")
	if math.Abs(got*100-math.Round(got*100)) > 1e-9 {
		t.Errorf("score %v not rounded to 2 decimals", got)
	}
}

func TestIsNearDuplicate(t *testing.T) {
	a := "await page.click('#submit');"
	b := "await page.click('#cancel');"
	if !IsNearDuplicate(a, b, 0.8) {
		t.Error("structurally identical fragments should be near-duplicates at 0.8")
	}
	if IsNearDuplicate(a, "const x = fetch(url);", 0.8) {
		t.Error("unrelated fragments should not be near-duplicates")
	}
	// Zero threshold falls back to the default.
	if !IsNearDuplicate(a, a, 0) {
		t.Error("identical fragments should pass the default threshold")
	}
}

func TestFindNearDuplicatesSorted(t *testing.T) {
	code := "await page.click('#submit');"
	candidates := []string{
		"const x = 1;",
		"await page.click('#cancel');",
		"await page.click('#submit');",
	}

	matches := FindNearDuplicates(code, candidates, 0.8)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Score < matches[1].Score {
		t.Errorf("matches not sorted by score descending: %v", matches)
	}
	if matches[0].Index != 2 {
		t.Errorf("exact match should rank first, got index %d", matches[0].Index)
	}
}

func TestFindSimilarPatterns(t *testing.T) {
	lessons := []knowledge.Lesson{
		{ID: "l-unrelated", Pattern: "const x = fetch(url);"},
		{ID: "l-close", Pattern: "await page.click('#cancel');"},
		{ID: "l-exact", Pattern: "await page.click('#submit');"},
		{ID: "l-archived", Pattern: "await page.click('#submit');", Archived: true},
		{ID: "l-empty"},
	}

	matches := FindSimilarPatterns("await page.click('#submit');", lessons, 0.8)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(matches), matches)
	}
	if matches[0].Lesson.ID != "l-exact" || matches[0].Score != 1.0 {
		t.Errorf("exact pattern should rank first, got %s (%v)", matches[0].Lesson.ID, matches[0].Score)
	}
	if matches[1].Lesson.ID != "l-close" {
		t.Errorf("near pattern should rank second, got %s", matches[1].Lesson.ID)
	}
}

func TestFindNearDuplicatesEmpty(t *testing.T) {
	if got := FindNearDuplicates("await page.click('#x');", nil, 0.8); got != nil {
		t.Errorf("no candidates should yield nil, got %v", got)
	}
}
