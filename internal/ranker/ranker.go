// Package ranker filters and orders the knowledge base against a journey
// and renders the result as a bounded digest for prompt injection. Ranking
// never errors: missing profiles, patterns, or history just shrink the
// output.
package ranker

import (
	"sort"
	"strings"

	"github.com/lessonbase/llkb/internal/knowledge"
)

// Options tunes ranking.
type Options struct {
	// PrioritizeByConfidence sorts survivors by stored confidence (lessons)
	// or success rate (components) before relevance instead of by relevance
	// alone.
	PrioritizeByConfidence bool
}

const (
	maxLessons          = 10
	maxComponents       = 10
	maxQuirks           = 5
	maxSelectorPatterns = 5
	maxTimingPatterns   = 5

	// relevanceFloor discards items that barely relate to the journey.
	relevanceFloor = 0.2

	scopeUniversalBonus = 0.2
	scopeFrameworkBonus = 0.25
	scopeAppBonus       = 0.3

	keywordHitBonus = 0.05
	keywordHitCap   = 0.25

	triggerBonus        = 0.2
	journeyIDBonus      = 0.25
	similarJourneyBonus = 0.15
	categoryBonus       = 0.15
	successRateBonus    = 0.1
	recentSuccessBonus  = 0.05

	// trustedSelectorConfidence admits a selector pattern regardless of
	// keyword overlap.
	trustedSelectorConfidence = 0.9
)

// RankedLesson pairs a lesson with its computed relevance.
type RankedLesson struct {
	Lesson    knowledge.Lesson `json:"lesson"`
	Relevance float64          `json:"relevance"`
}

// RankedComponent pairs a component with its computed relevance.
type RankedComponent struct {
	Component knowledge.Component `json:"component"`
	Relevance float64             `json:"relevance"`
}

// Summary aggregates what made it into a context.
type Summary struct {
	LessonCount    int      `json:"lessonCount"`
	ComponentCount int      `json:"componentCount"`
	AvgConfidence  float64  `json:"avgConfidence"`
	AvgSuccessRate float64  `json:"avgSuccessRate"`
	TopCategories  []string `json:"topCategories,omitempty"`
}

// Context is the ranked, capped knowledge selected for one journey.
type Context struct {
	Journey          knowledge.Journey           `json:"journey"`
	Lessons          []RankedLesson              `json:"lessons"`
	Components       []RankedComponent           `json:"components"`
	Quirks           []knowledge.Lesson          `json:"quirks,omitempty"`
	SelectorPatterns []knowledge.SelectorPattern `json:"selectorPatterns,omitempty"`
	TimingPatterns   []knowledge.TimingPattern   `json:"timingPatterns,omitempty"`
	Summary          Summary                     `json:"summary"`
}

// DeriveKeywords computes a journey's keyword set when the caller did not
// supply one: lower-cased title words longer than 3 chars, the scope
// string, and route segments longer than 2 chars. First appearance wins.
func DeriveKeywords(j knowledge.Journey) []string {
	if len(j.Keywords) > 0 {
		out := make([]string, 0, len(j.Keywords))
		seen := make(map[string]struct{})
		for _, k := range j.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		return out
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(w string) {
		w = strings.ToLower(w)
		if w == "" {
			return
		}
		if _, ok := seen[w]; ok {
			return
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}

	for _, w := range strings.Fields(j.Title) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) > 3 {
			add(w)
		}
	}
	if j.Scope != "" {
		add(j.Scope)
	}
	for _, route := range j.Routes {
		for _, seg := range strings.FieldsFunc(route, func(r rune) bool {
			return r == '/' || r == '-'
		}) {
			if len(seg) > 2 {
				add(seg)
			}
		}
	}
	return out
}

// Rank selects and orders the knowledge relevant to a journey. Archived
// records never appear; everything else is scored, floored, sorted, and
// capped.
func Rank(
	j knowledge.Journey,
	lessons []knowledge.Lesson,
	components []knowledge.Component,
	opts Options,
	profile *knowledge.AppProfile,
	selectors []knowledge.SelectorPattern,
	timings []knowledge.TimingPattern,
) Context {
	keywords := DeriveKeywords(j)
	framework := ""
	if profile != nil {
		framework = profile.Framework
	}
	if fw := knowledge.Scope(j.Scope).Framework(); fw != "" {
		framework = fw
	}

	var ranked []RankedLesson
	for _, l := range lessons {
		if l.Archived || l.Category == knowledge.CategoryQuirk {
			continue
		}
		r := lessonRelevance(l, j, keywords, framework)
		if r <= relevanceFloor {
			continue
		}
		ranked = append(ranked, RankedLesson{Lesson: l, Relevance: r})
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if opts.PrioritizeByConfidence {
			ca, cb := ranked[a].Lesson.Metrics.Confidence, ranked[b].Lesson.Metrics.Confidence
			if ca != cb {
				return ca > cb
			}
		}
		return ranked[a].Relevance > ranked[b].Relevance
	})
	if len(ranked) > maxLessons {
		ranked = ranked[:maxLessons]
	}

	var rankedComponents []RankedComponent
	for _, c := range components {
		if c.Archived {
			continue
		}
		r := componentRelevance(c, keywords, framework)
		if r <= relevanceFloor {
			continue
		}
		rankedComponents = append(rankedComponents, RankedComponent{Component: c, Relevance: r})
	}
	sort.SliceStable(rankedComponents, func(a, b int) bool {
		if opts.PrioritizeByConfidence {
			sa, sb := rankedComponents[a].Component.Metrics.SuccessRate, rankedComponents[b].Component.Metrics.SuccessRate
			if sa != sb {
				return sa > sb
			}
		}
		return rankedComponents[a].Relevance > rankedComponents[b].Relevance
	})
	if len(rankedComponents) > maxComponents {
		rankedComponents = rankedComponents[:maxComponents]
	}

	ctx := Context{
		Journey:          j,
		Lessons:          ranked,
		Components:       rankedComponents,
		Quirks:           selectQuirks(lessons, j, keywords),
		SelectorPatterns: selectSelectorPatterns(selectors, profile, keywords),
		TimingPatterns:   selectTimingPatterns(timings, keywords),
	}
	ctx.Summary = summarize(ctx)
	return ctx
}

func lessonRelevance(l knowledge.Lesson, j knowledge.Journey, keywords []string, framework string) float64 {
	score := scopeBonus(l.Scope, framework)

	hits := 0.0
	for _, k := range keywords {
		if hits >= keywordHitCap {
			break
		}
		if containsFold(l.Tags, k) || strings.Contains(strings.ToLower(l.Pattern), k) {
			hits += keywordHitBonus
		}
	}
	score += hits

	trigger := strings.ToLower(l.Trigger)
	for _, k := range keywords {
		if trigger != "" && strings.Contains(trigger, k) {
			score += triggerBonus
			break
		}
	}

	if j.ID != "" {
		matched := false
		for _, id := range l.JourneyIDs {
			if id == j.ID {
				score += journeyIDBonus
				matched = true
				break
			}
		}
		if !matched {
			for _, id := range l.JourneyIDs {
				if id != "" && (strings.Contains(id, j.ID) || strings.Contains(j.ID, id)) {
					score += similarJourneyBonus
					break
				}
			}
		}
	}

	for _, cat := range j.Categories {
		if knowledge.Category(strings.ToLower(cat)) == l.Category {
			score += categoryBonus
			break
		}
	}

	if l.Metrics.SuccessRate >= 0.8 {
		score += successRateBonus
	}
	if !l.Metrics.LastSuccess.IsZero() {
		score += recentSuccessBonus
	}

	if score > 1 {
		score = 1
	}
	return score
}

func componentRelevance(c knowledge.Component, keywords []string, framework string) float64 {
	score := scopeBonus(c.Scope, framework)

	target := strings.ToLower(c.Name + " " + c.Description)
	hits := 0.0
	for _, k := range keywords {
		if hits >= keywordHitCap {
			break
		}
		if strings.Contains(target, k) {
			hits += keywordHitBonus
		}
	}
	score += hits

	if c.Metrics.SuccessRate >= 0.8 {
		score += successRateBonus
	}
	if c.Metrics.TotalUses > 0 {
		score += recentSuccessBonus
	}

	if score > 1 {
		score = 1
	}
	return score
}

func scopeBonus(s knowledge.Scope, framework string) float64 {
	switch {
	case s.IsUniversal():
		return scopeUniversalBonus
	case s.IsApp():
		return scopeAppBonus
	case s.Framework() != "" && strings.EqualFold(s.Framework(), framework):
		return scopeFrameworkBonus
	}
	return 0
}

// selectQuirks picks up to 5 quirk-category lessons touching the journey
// via scope, trigger, pattern text, or a shared journey id.
func selectQuirks(lessons []knowledge.Lesson, j knowledge.Journey, keywords []string) []knowledge.Lesson {
	var out []knowledge.Lesson
	for _, l := range lessons {
		if l.Archived || l.Category != knowledge.CategoryQuirk {
			continue
		}
		if !quirkApplies(l, j, keywords) {
			continue
		}
		out = append(out, l)
		if len(out) == maxQuirks {
			break
		}
	}
	return out
}

func quirkApplies(l knowledge.Lesson, j knowledge.Journey, keywords []string) bool {
	if l.Scope.IsApp() || l.Scope.IsUniversal() {
		return true
	}
	for _, id := range l.JourneyIDs {
		if id == j.ID {
			return true
		}
	}
	text := strings.ToLower(l.Trigger + " " + l.Pattern)
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func selectSelectorPatterns(patterns []knowledge.SelectorPattern, profile *knowledge.AppProfile, keywords []string) []knowledge.SelectorPattern {
	var out []knowledge.SelectorPattern
	for _, p := range patterns {
		if p.Archived {
			continue
		}
		if !selectorApplies(p, profile, keywords) {
			continue
		}
		out = append(out, p)
		if len(out) == maxSelectorPatterns {
			break
		}
	}
	return out
}

func selectorApplies(p knowledge.SelectorPattern, profile *knowledge.AppProfile, keywords []string) bool {
	if p.Confidence >= trustedSelectorConfidence {
		return true
	}
	if profile != nil && p.AppID != "" && p.AppID == profile.ID {
		return true
	}
	for _, pk := range p.Keywords {
		if containsFold(keywords, pk) {
			return true
		}
	}
	return false
}

func selectTimingPatterns(patterns []knowledge.TimingPattern, keywords []string) []knowledge.TimingPattern {
	var out []knowledge.TimingPattern
	for _, p := range patterns {
		if p.Archived {
			continue
		}
		matched := false
		for _, ctx := range p.Context {
			if containsFold(keywords, ctx) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		out = append(out, p)
		if len(out) == maxTimingPatterns {
			break
		}
	}
	return out
}

func summarize(ctx Context) Summary {
	s := Summary{
		LessonCount:    len(ctx.Lessons),
		ComponentCount: len(ctx.Components),
	}

	if len(ctx.Lessons) > 0 {
		var sum float64
		for _, rl := range ctx.Lessons {
			sum += rl.Lesson.Metrics.Confidence
		}
		s.AvgConfidence = sum / float64(len(ctx.Lessons))
	}
	if len(ctx.Components) > 0 {
		var sum float64
		for _, rc := range ctx.Components {
			sum += rc.Component.Metrics.SuccessRate
		}
		s.AvgSuccessRate = sum / float64(len(ctx.Components))
	}

	counts := make(map[string]int)
	var order []string
	bump := func(cat string) {
		if cat == "" {
			return
		}
		if _, ok := counts[cat]; !ok {
			order = append(order, cat)
		}
		counts[cat]++
	}
	for _, rl := range ctx.Lessons {
		bump(string(rl.Lesson.Category))
	}
	for _, rc := range ctx.Components {
		bump(string(rc.Component.Category))
	}
	sort.SliceStable(order, func(a, b int) bool {
		return counts[order[a]] > counts[order[b]]
	})
	if len(order) > 3 {
		order = order[:3]
	}
	s.TopCategories = order
	return s
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
