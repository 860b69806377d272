package storage

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/lessonbase/llkb/internal/knowledge"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing store: %v", err)
		}
	})
	return s
}

func sampleLesson() knowledge.Lesson {
	return knowledge.Lesson{
		Category:   knowledge.CategoryTiming,
		Scope:      knowledge.ScopeUniversal,
		Trigger:    "totals render after a delay",
		Pattern:    "await expect(totals).toBeVisible()",
		Tags:       []string{"checkout", "spa"},
		JourneyIDs: []string{"checkout-flow"},
		Metrics: knowledge.LessonMetrics{
			Confidence:  0.5,
			Occurrences: 3,
			SuccessRate: 0.75,
			LastSuccess: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		},
	}
}

func TestMigrationsApplied(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("listing migrations: %v", err)
	}
	if len(versions) == 0 || versions[0] != 1 {
		t.Errorf("applied versions = %v, want [1, ...]", versions)
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// migrations are not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	first, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("listing migrations: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()
	second, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("listing migrations: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reopening applied migrations twice: %v vs %v", first, second)
	}
}

func TestLessonRoundTrip(t *testing.T) {
	s := openTestStore(t)

	saved, err := s.SaveLesson(sampleLesson())
	if err != nil {
		t.Fatalf("saving lesson: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("SaveLesson should mint an id")
	}

	got, err := s.GetLesson(saved.ID)
	if err != nil {
		t.Fatalf("getting lesson: %v", err)
	}
	if got.Category != saved.Category || got.Scope != saved.Scope {
		t.Errorf("category/scope = %s/%s, want %s/%s", got.Category, got.Scope, saved.Category, saved.Scope)
	}
	if got.Trigger != saved.Trigger || got.Pattern != saved.Pattern {
		t.Errorf("text fields did not round-trip: %+v", got)
	}
	if !reflect.DeepEqual(got.Tags, saved.Tags) {
		t.Errorf("tags = %v, want %v", got.Tags, saved.Tags)
	}
	if !reflect.DeepEqual(got.JourneyIDs, saved.JourneyIDs) {
		t.Errorf("journey ids = %v, want %v", got.JourneyIDs, saved.JourneyIDs)
	}
	if got.Metrics.Occurrences != 3 || got.Metrics.SuccessRate != 0.75 || got.Metrics.Confidence != 0.5 {
		t.Errorf("metrics did not round-trip: %+v", got.Metrics)
	}
	if !got.Metrics.LastSuccess.Equal(saved.Metrics.LastSuccess) {
		t.Errorf("last success = %v, want %v", got.Metrics.LastSuccess, saved.Metrics.LastSuccess)
	}
}

func TestLessonUpsert(t *testing.T) {
	s := openTestStore(t)

	saved, err := s.SaveLesson(sampleLesson())
	if err != nil {
		t.Fatalf("saving lesson: %v", err)
	}

	saved.Trigger = "totals render after a long delay"
	saved.Metrics.Occurrences = 4
	if _, err := s.SaveLesson(saved); err != nil {
		t.Fatalf("updating lesson: %v", err)
	}

	got, err := s.GetLesson(saved.ID)
	if err != nil {
		t.Fatalf("getting lesson: %v", err)
	}
	if got.Trigger != saved.Trigger || got.Metrics.Occurrences != 4 {
		t.Errorf("upsert did not stick: %+v", got)
	}

	lessons, err := s.ListLessons(true)
	if err != nil {
		t.Fatalf("listing lessons: %v", err)
	}
	if len(lessons) != 1 {
		t.Errorf("upsert should not create a second row, got %d", len(lessons))
	}
}

func TestSaveLessonRejectsInvalid(t *testing.T) {
	s := openTestStore(t)

	bad := sampleLesson()
	bad.Category = "nonsense"
	if _, err := s.SaveLesson(bad); err == nil {
		t.Error("unknown category should be rejected")
	}

	bad = sampleLesson()
	bad.Metrics.SuccessRate = 1.5
	if _, err := s.SaveLesson(bad); err == nil {
		t.Error("out-of-range success rate should be rejected")
	}
}

func TestGetLessonNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetLesson("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListLessonsArchiveFilter(t *testing.T) {
	s := openTestStore(t)

	active, err := s.SaveLesson(sampleLesson())
	if err != nil {
		t.Fatalf("saving lesson: %v", err)
	}
	archived, err := s.SaveLesson(sampleLesson())
	if err != nil {
		t.Fatalf("saving lesson: %v", err)
	}
	if err := s.ArchiveLesson(archived.ID); err != nil {
		t.Fatalf("archiving: %v", err)
	}

	lessons, err := s.ListLessons(false)
	if err != nil {
		t.Fatalf("listing lessons: %v", err)
	}
	if len(lessons) != 1 || lessons[0].ID != active.ID {
		t.Errorf("active-only list = %+v, want just %s", lessons, active.ID)
	}

	all, err := s.ListLessons(true)
	if err != nil {
		t.Fatalf("listing all lessons: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("full list has %d lessons, want 2", len(all))
	}
}

func TestArchiveLessonNotFound(t *testing.T) {
	s := openTestStore(t)

	if err := s.ArchiveLesson("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordLessonOutcome(t *testing.T) {
	s := openTestStore(t)

	l := sampleLesson()
	l.Metrics = knowledge.LessonMetrics{}
	saved, err := s.SaveLesson(l)
	if err != nil {
		t.Fatalf("saving lesson: %v", err)
	}

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	after, err := s.RecordLessonOutcome(saved.ID, true, now)
	if err != nil {
		t.Fatalf("recording outcome: %v", err)
	}
	if after.Metrics.Occurrences != 1 || after.Metrics.SuccessRate != 1.0 {
		t.Errorf("metrics after success = %+v", after.Metrics)
	}
	if !after.Metrics.LastSuccess.Equal(now) {
		t.Errorf("last success = %v, want %v", after.Metrics.LastSuccess, now)
	}
	if after.Metrics.Confidence <= 0 {
		t.Errorf("confidence should rise after a success, got %v", after.Metrics.Confidence)
	}
	if len(after.History) != 1 {
		t.Errorf("history length = %d, want 1", len(after.History))
	}

	after, err = s.RecordLessonOutcome(saved.ID, false, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("recording outcome: %v", err)
	}
	if after.Metrics.Occurrences != 2 || after.Metrics.SuccessRate != 0.5 {
		t.Errorf("metrics after failure = %+v", after.Metrics)
	}
	if !after.Metrics.LastSuccess.Equal(now) {
		t.Errorf("failure must not advance last success, got %v", after.Metrics.LastSuccess)
	}
	if len(after.History) != 2 {
		t.Errorf("history length = %d, want 2", len(after.History))
	}

	// The update is persisted, not just returned.
	got, err := s.GetLesson(saved.ID)
	if err != nil {
		t.Fatalf("getting lesson: %v", err)
	}
	if got.Metrics.Occurrences != 2 {
		t.Errorf("persisted occurrences = %d, want 2", got.Metrics.Occurrences)
	}
}

func TestComponentRoundTrip(t *testing.T) {
	s := openTestStore(t)

	saved, err := s.SaveComponent(knowledge.Component{
		Name:        "loginAs",
		Category:    knowledge.CategoryAuth,
		Scope:       knowledge.ScopeUniversal,
		Description: "log in as a given user",
		FilePath:    "helpers/auth.ts",
		SourceCode:  "async function loginAs(page, user) {}",
		Metrics:     knowledge.ComponentMetrics{SuccessRate: 0.9, TotalUses: 4},
	})
	if err != nil {
		t.Fatalf("saving component: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("SaveComponent should mint an id")
	}

	got, err := s.GetComponent(saved.ID)
	if err != nil {
		t.Fatalf("getting component: %v", err)
	}
	if !reflect.DeepEqual(got, saved) {
		t.Errorf("component did not round-trip:\ngot  %+v\nwant %+v", got, saved)
	}
}

func TestListComponentsOrderedByName(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"openDashboard", "loginAs", "expectToast"} {
		if _, err := s.SaveComponent(knowledge.Component{
			Name:     name,
			Category: knowledge.CategoryUIInteraction,
			Scope:    knowledge.ScopeUniversal,
		}); err != nil {
			t.Fatalf("saving %s: %v", name, err)
		}
	}

	components, err := s.ListComponents(false)
	if err != nil {
		t.Fatalf("listing components: %v", err)
	}
	var names []string
	for _, c := range components {
		names = append(names, c.Name)
	}
	want := []string{"expectToast", "loginAs", "openDashboard"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestRecordComponentUse(t *testing.T) {
	s := openTestStore(t)

	saved, err := s.SaveComponent(knowledge.Component{
		Name:     "loginAs",
		Category: knowledge.CategoryAuth,
		Scope:    knowledge.ScopeUniversal,
	})
	if err != nil {
		t.Fatalf("saving component: %v", err)
	}

	after, err := s.RecordComponentUse(saved.ID, true)
	if err != nil {
		t.Fatalf("recording use: %v", err)
	}
	if after.Metrics.TotalUses != 1 || after.Metrics.SuccessRate != 1.0 {
		t.Errorf("metrics after success = %+v", after.Metrics)
	}

	after, err = s.RecordComponentUse(saved.ID, false)
	if err != nil {
		t.Fatalf("recording use: %v", err)
	}
	if after.Metrics.TotalUses != 2 || after.Metrics.SuccessRate != 0.5 {
		t.Errorf("metrics after failure = %+v", after.Metrics)
	}
}

func TestSelectorPatternsOrderedByConfidence(t *testing.T) {
	s := openTestStore(t)

	for _, p := range []knowledge.SelectorPattern{
		{Selector: ".low", Confidence: 0.3},
		{Selector: "[data-testid]", Confidence: 0.95, Keywords: []string{"testid"}},
		{Selector: "#mid", Confidence: 0.6, AppID: "shop-app"},
	} {
		if _, err := s.SaveSelectorPattern(p); err != nil {
			t.Fatalf("saving selector pattern: %v", err)
		}
	}

	patterns, err := s.ListSelectorPatterns()
	if err != nil {
		t.Fatalf("listing selector patterns: %v", err)
	}
	var selectors []string
	for _, p := range patterns {
		selectors = append(selectors, p.Selector)
	}
	want := []string{"[data-testid]", "#mid", ".low"}
	if !reflect.DeepEqual(selectors, want) {
		t.Errorf("selectors = %v, want %v", selectors, want)
	}
	if !reflect.DeepEqual(patterns[0].Keywords, []string{"testid"}) {
		t.Errorf("keywords did not round-trip: %v", patterns[0].Keywords)
	}
}

func TestTimingPatternRoundTrip(t *testing.T) {
	s := openTestStore(t)

	saved, err := s.SaveTimingPattern(knowledge.TimingPattern{
		Context:        []string{"checkout", "payment"},
		Recommendation: "wait for the totals region to settle",
		Confidence:     0.7,
	})
	if err != nil {
		t.Fatalf("saving timing pattern: %v", err)
	}

	patterns, err := s.ListTimingPatterns()
	if err != nil {
		t.Fatalf("listing timing patterns: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	if !reflect.DeepEqual(patterns[0], saved) {
		t.Errorf("timing pattern did not round-trip:\ngot  %+v\nwant %+v", patterns[0], saved)
	}
}

func TestAppProfile(t *testing.T) {
	s := openTestStore(t)

	// No profile yet.
	p, err := s.DefaultAppProfile()
	if err != nil {
		t.Fatalf("default profile: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil default profile, got %+v", p)
	}
	if _, err := s.GetAppProfile("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	saved, err := s.SaveAppProfile(knowledge.AppProfile{
		Name:      "Shop",
		Framework: "react",
		Keywords:  []string{"checkout", "cart"},
	})
	if err != nil {
		t.Fatalf("saving profile: %v", err)
	}

	got, err := s.GetAppProfile(saved.ID)
	if err != nil {
		t.Fatalf("getting profile: %v", err)
	}
	if !reflect.DeepEqual(got, saved) {
		t.Errorf("profile did not round-trip:\ngot  %+v\nwant %+v", got, saved)
	}

	p, err = s.DefaultAppProfile()
	if err != nil {
		t.Fatalf("default profile: %v", err)
	}
	if p == nil || p.ID != saved.ID {
		t.Errorf("default profile = %+v, want %s", p, saved.ID)
	}
}

func TestLoadSnapshotExcludesArchived(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.SaveLesson(sampleLesson()); err != nil {
		t.Fatalf("saving lesson: %v", err)
	}
	archived, err := s.SaveLesson(sampleLesson())
	if err != nil {
		t.Fatalf("saving lesson: %v", err)
	}
	if err := s.ArchiveLesson(archived.ID); err != nil {
		t.Fatalf("archiving: %v", err)
	}
	if _, err := s.SaveComponent(knowledge.Component{
		Name:     "loginAs",
		Category: knowledge.CategoryAuth,
		Scope:    knowledge.ScopeUniversal,
	}); err != nil {
		t.Fatalf("saving component: %v", err)
	}
	if _, err := s.SaveAppProfile(knowledge.AppProfile{Name: "Shop"}); err != nil {
		t.Fatalf("saving profile: %v", err)
	}

	snap, err := s.LoadSnapshot()
	if err != nil {
		t.Fatalf("loading snapshot: %v", err)
	}
	if len(snap.Lessons) != 1 {
		t.Errorf("snapshot has %d lessons, want 1 (archived excluded)", len(snap.Lessons))
	}
	if len(snap.Components) != 1 {
		t.Errorf("snapshot has %d components, want 1", len(snap.Components))
	}
	if snap.Profile == nil || snap.Profile.Name != "Shop" {
		t.Errorf("snapshot profile = %+v", snap.Profile)
	}
}
