// Package match recommends existing reusable components for the steps of a
// journey under generation. For each step it scores every compatible
// component and classifies the best score into use / suggest / none.
package match

import (
	"sort"
	"strings"

	"github.com/lessonbase/llkb/internal/knowledge"
)

// Step is one candidate usage site: a described action the generator is
// about to write code for.
type Step struct {
	ID          string             `json:"id"`
	Description string             `json:"description"`
	Keywords    []string           `json:"keywords,omitempty"`
	Category    knowledge.Category `json:"category,omitempty"`
	Framework   string             `json:"framework,omitempty"`
}

// Options tunes matching. Zero thresholds fall back to the defaults.
type Options struct {
	UseThreshold     float64
	SuggestThreshold float64
	// Categories restricts candidates to an allowlist when non-empty.
	Categories []knowledge.Category
}

func (o Options) withDefaults() Options {
	if o.UseThreshold <= 0 {
		o.UseThreshold = 0.7
	}
	if o.SuggestThreshold <= 0 {
		o.SuggestThreshold = 0.4
	}
	return o
}

// Action classifies a recommendation.
type Action string

const (
	ActionUse     Action = "USE"
	ActionSuggest Action = "SUGGEST"
	ActionNone    Action = "NONE"
)

// Recommendation pairs a step with its best component, if any. Component is
// nil when Action is NONE, even if some component scored above zero.
type Recommendation struct {
	Step      Step                 `json:"step"`
	Action    Action               `json:"action"`
	Score     float64              `json:"score"`
	Component *knowledge.Component `json:"component,omitempty"`
}

const (
	categoryWeight = 0.3
	keywordWeight  = 0.4
	bagWeight      = 0.3
)

// actionVerbs is the fixed vocabulary of verbs recognized in step
// descriptions. Matched as substrings so inflections ("clicking",
// "navigates") still hit.
var actionVerbs = []string{
	"click", "fill", "select", "check", "uncheck", "submit", "open",
	"close", "navigate", "goto", "verify", "assert", "expect", "search",
	"filter", "sort", "upload", "download", "login", "logout", "wait",
	"hover", "drag", "scroll", "type", "press",
}

// uiNouns is the fixed vocabulary of UI element nouns.
var uiNouns = []string{
	"button", "form", "input", "field", "table", "grid", "modal",
	"dialog", "menu", "sidebar", "dropdown", "select", "checkbox",
	"radio", "tab", "link", "page", "list", "row", "card", "toast",
	"banner", "header", "footer", "icon", "label",
}

// StepKeywords derives the keyword set for a step: recognized action verbs
// and UI nouns found in the description, plus any explicit keywords. Order
// is first appearance; duplicates collapse.
func StepKeywords(step Step) []string {
	lower := strings.ToLower(step.Description)
	seen := make(map[string]struct{})
	var out []string
	add := func(w string) {
		if _, ok := seen[w]; ok {
			return
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	for _, v := range actionVerbs {
		if strings.Contains(lower, v) {
			add(v)
		}
	}
	for _, n := range uiNouns {
		if strings.Contains(lower, n) {
			add(n)
		}
	}
	for _, k := range step.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			add(k)
		}
	}
	return out
}

// scopeCompatible reports whether a component's scope can serve a step.
// Universal always can; framework-qualified scopes need the same framework;
// app scope always matches within the installation that owns the store.
func scopeCompatible(scope knowledge.Scope, framework string) bool {
	if scope.IsUniversal() || scope.IsApp() {
		return true
	}
	fw := scope.Framework()
	return fw != "" && strings.EqualFold(fw, framework)
}

// Score rates how well a component fits a step, in [0,1]: category match,
// keyword overlap, and bag-of-words overlap against the component's name
// and description.
func Score(step Step, c knowledge.Component) float64 {
	keywords := StepKeywords(step)

	var score float64
	if step.Category != "" && step.Category == c.Category {
		score += categoryWeight
	}

	if len(keywords) > 0 {
		target := strings.ToLower(c.Name + " " + c.Description)
		hits := 0
		for _, k := range keywords {
			if strings.Contains(target, k) {
				hits++
			}
		}
		score += keywordWeight * float64(hits) / float64(len(keywords))
	}

	score += bagWeight * bagOverlap(step.Description, c.Name+" "+c.Description)

	if score > 1 {
		score = 1
	}
	return score
}

// bagOverlap is the fraction of words from a that also occur in b, after
// lower-casing and dropping words of 2 chars or fewer.
func bagOverlap(a, b string) float64 {
	aWords := significantWords(a)
	if len(aWords) == 0 {
		return 0
	}
	bSet := make(map[string]struct{})
	for _, w := range significantWords(b) {
		bSet[w] = struct{}{}
	}
	hits := 0
	for _, w := range aWords {
		if _, ok := bSet[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(aWords))
}

func significantWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	var out []string
	seen := make(map[string]struct{})
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// MatchStep finds the best component for one step.
func MatchStep(step Step, components []knowledge.Component, opts Options) Recommendation {
	opts = opts.withDefaults()

	var best *knowledge.Component
	var bestScore float64
	for i := range components {
		c := &components[i]
		if c.Archived {
			continue
		}
		if len(opts.Categories) > 0 && !containsCategory(opts.Categories, c.Category) {
			continue
		}
		if !scopeCompatible(c.Scope, step.Framework) {
			continue
		}
		if s := Score(step, *c); s > bestScore {
			best, bestScore = c, s
		}
	}

	rec := Recommendation{Step: step, Score: bestScore, Action: ActionNone}
	switch {
	case bestScore >= opts.UseThreshold:
		rec.Action = ActionUse
		rec.Component = best
	case bestScore >= opts.SuggestThreshold:
		rec.Action = ActionSuggest
		rec.Component = best
	default:
		// Below the suggest threshold the component reference is dropped
		// even when something scored above zero.
		rec.Component = nil
	}
	return rec
}

// MatchSteps runs MatchStep over a batch, preserving step order.
func MatchSteps(steps []Step, components []knowledge.Component, opts Options) []Recommendation {
	recs := make([]Recommendation, 0, len(steps))
	for _, s := range steps {
		recs = append(recs, MatchStep(s, components, opts))
	}
	return recs
}

// TopMatches scores every compatible component against a step and returns
// those at or above the suggest threshold, best first.
func TopMatches(step Step, components []knowledge.Component, opts Options) []Recommendation {
	opts = opts.withDefaults()
	var recs []Recommendation
	for i := range components {
		c := components[i]
		if c.Archived || !scopeCompatible(c.Scope, step.Framework) {
			continue
		}
		s := Score(step, c)
		if s < opts.SuggestThreshold {
			continue
		}
		action := ActionSuggest
		if s >= opts.UseThreshold {
			action = ActionUse
		}
		recs = append(recs, Recommendation{Step: step, Action: action, Score: s, Component: &c})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Score > recs[j].Score
	})
	return recs
}

func containsCategory(list []knowledge.Category, c knowledge.Category) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
