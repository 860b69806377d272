// Package knowledge defines the shared data model of the lessons-learned
// knowledge base: lessons, reusable components, journeys, and the pattern
// records consumed by the ranking and detection engines. The JSON tags on
// these types define the document schema used by persistence.
package knowledge

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category classifies what kind of behavior a lesson or component captures.
type Category string

const (
	CategoryNavigation    Category = "navigation"
	CategoryAssertion     Category = "assertion"
	CategoryTiming        Category = "timing"
	CategoryAuth          Category = "auth"
	CategorySelector      Category = "selector"
	CategoryUIInteraction Category = "ui-interaction"
	CategoryData          Category = "data"
	// CategoryQuirk marks app-specific oddities. Valid for lessons only;
	// components never carry it.
	CategoryQuirk Category = "quirk"
)

// LessonCategories lists every valid lesson category.
var LessonCategories = []Category{
	CategoryNavigation, CategoryAssertion, CategoryTiming, CategoryAuth,
	CategorySelector, CategoryUIInteraction, CategoryData, CategoryQuirk,
}

// ComponentCategories lists every valid component category (no quirk).
var ComponentCategories = []Category{
	CategoryNavigation, CategoryAssertion, CategoryTiming, CategoryAuth,
	CategorySelector, CategoryUIInteraction, CategoryData,
}

// Valid reports whether c is a known category. forLesson additionally
// admits the lesson-only quirk category.
func (c Category) Valid(forLesson bool) bool {
	for _, known := range ComponentCategories {
		if c == known {
			return true
		}
	}
	return forLesson && c == CategoryQuirk
}

// Scope is the visibility tier of a lesson or component.
//
//	"universal"            applies everywhere
//	"framework:<name>"     applies to one framework (e.g. "framework:react")
//	"app"                  applies only to the current application
type Scope string

const (
	ScopeUniversal Scope = "universal"
	ScopeApp       Scope = "app"
)

const frameworkScopePrefix = "framework:"

// FrameworkScope builds a framework-qualified scope.
func FrameworkScope(framework string) Scope {
	return Scope(frameworkScopePrefix + framework)
}

// IsUniversal reports whether the scope applies everywhere.
func (s Scope) IsUniversal() bool { return s == ScopeUniversal }

// IsApp reports whether the scope is app-specific.
func (s Scope) IsApp() bool { return s == ScopeApp }

// Framework returns the framework name of a framework-qualified scope,
// or "" for universal and app scopes.
func (s Scope) Framework() string {
	if strings.HasPrefix(string(s), frameworkScopePrefix) {
		return string(s)[len(frameworkScopePrefix):]
	}
	return ""
}

// LessonMetrics holds the outcome statistics recorded for a lesson.
type LessonMetrics struct {
	Confidence  float64   `json:"confidence"`
	Occurrences int       `json:"occurrences"`
	SuccessRate float64   `json:"successRate"`
	LastSuccess time.Time `json:"lastSuccess,omitzero"`
}

// ConfidencePoint is one sampled confidence score in a lesson's history.
type ConfidencePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
}

// Lesson is a recorded fix or behavior pattern with outcome statistics.
// History is chronological (oldest first) and append-only; entries are
// pruned from the oldest end but never edited in place.
type Lesson struct {
	ID             string            `json:"id"`
	Category       Category          `json:"category"`
	Scope          Scope             `json:"scope"`
	Trigger        string            `json:"trigger"`
	Pattern        string            `json:"pattern"`
	Workaround     string            `json:"workaround,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	JourneyIDs     []string          `json:"journeyIds,omitempty"`
	Metrics        LessonMetrics     `json:"metrics"`
	History        []ConfidencePoint `json:"confidenceHistory,omitempty"`
	HumanValidated bool              `json:"humanValidated,omitempty"`
	Archived       bool              `json:"archived,omitempty"`
}

// ComponentMetrics holds usage statistics for a reusable component.
type ComponentMetrics struct {
	SuccessRate float64 `json:"successRate"`
	TotalUses   int     `json:"totalUses"`
}

// Component is a reusable, named code unit extracted from test suites.
type Component struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Category    Category         `json:"category"`
	Scope       Scope            `json:"scope"`
	Description string           `json:"description"`
	FilePath    string           `json:"filePath"`
	SourceCode  string           `json:"sourceCode"`
	Metrics     ComponentMetrics `json:"metrics"`
	Archived    bool             `json:"archived,omitempty"`
}

// Journey describes what is currently being generated. It is transient
// caller input, never persisted by the engine.
type Journey struct {
	ID         string   `json:"id"`
	Scope      string   `json:"scope"`
	Title      string   `json:"title"`
	Routes     []string `json:"routes,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// SelectorPattern records a selector strategy that worked for an app.
type SelectorPattern struct {
	ID         string   `json:"id"`
	AppID      string   `json:"appId,omitempty"`
	Selector   string   `json:"selector"`
	Keywords   []string `json:"keywords,omitempty"`
	Confidence float64  `json:"confidence"`
	Archived   bool     `json:"archived,omitempty"`
}

// TimingPattern records a timing/wait strategy tied to a context.
type TimingPattern struct {
	ID             string   `json:"id"`
	Context        []string `json:"context,omitempty"`
	Recommendation string   `json:"recommendation"`
	Confidence     float64  `json:"confidence"`
	Archived       bool     `json:"archived,omitempty"`
}

// AppProfile describes the application under test.
type AppProfile struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Framework string   `json:"framework,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
}

// ValidateLesson reports the first contract violation in a lesson, or nil.
// Malformed metrics are a caller-level error and are rejected at this
// boundary rather than deep inside scoring.
func ValidateLesson(l Lesson) error {
	if l.ID == "" {
		return errors.New("lesson id is required")
	}
	if !l.Category.Valid(true) {
		return fmt.Errorf("lesson %s: unknown category %q", l.ID, l.Category)
	}
	if l.Metrics.Confidence < 0 || l.Metrics.Confidence > 1 {
		return fmt.Errorf("lesson %s: confidence %v outside [0,1]", l.ID, l.Metrics.Confidence)
	}
	if l.Metrics.SuccessRate < 0 || l.Metrics.SuccessRate > 1 {
		return fmt.Errorf("lesson %s: success rate %v outside [0,1]", l.ID, l.Metrics.SuccessRate)
	}
	if l.Metrics.Occurrences < 0 {
		return fmt.Errorf("lesson %s: negative occurrence count", l.ID)
	}
	return nil
}

// ValidateComponent reports the first contract violation in a component.
func ValidateComponent(c Component) error {
	if c.ID == "" {
		return errors.New("component id is required")
	}
	if !c.Category.Valid(false) {
		return fmt.Errorf("component %s: invalid category %q", c.ID, c.Category)
	}
	if c.Metrics.SuccessRate < 0 || c.Metrics.SuccessRate > 1 {
		return fmt.Errorf("component %s: success rate %v outside [0,1]", c.ID, c.Metrics.SuccessRate)
	}
	return nil
}
