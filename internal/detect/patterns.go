package detect

import (
	"regexp"
	"strings"

	"github.com/lessonbase/llkb/internal/knowledge"
)

// UIPattern is one entry in the reusable-UI table: fragments matching its
// regex are considered reusable-by-shape even before they repeat.
type UIPattern struct {
	Name     string
	Category knowledge.Category
	Regexp   *regexp.Regexp
}

// uiPatterns is the static reusable-UI table. Matching is case-insensitive
// and intentionally loose: it recognizes common page furniture, it does not
// parse the fragment. Kept as data so it can be tested and extended without
// touching the decision logic.
var uiPatterns = []UIPattern{
	{"navigation", knowledge.CategoryNavigation, regexp.MustCompile(`(?i)\b(nav|navbar|sidebar|menu|breadcrumb)\b`)},
	{"form", knowledge.CategoryUIInteraction, regexp.MustCompile(`(?i)\b(form|input|textarea|field)\b`)},
	{"table", knowledge.CategoryData, regexp.MustCompile(`(?i)\b(table|grid|row|cell|thead|tbody)\b`)},
	{"modal", knowledge.CategoryUIInteraction, regexp.MustCompile(`(?i)\b(modal|dialog|popup|overlay)\b`)},
	{"notification", knowledge.CategoryUIInteraction, regexp.MustCompile(`(?i)\b(toast|notification|alert|snackbar)\b`)},
	{"auth", knowledge.CategoryAuth, regexp.MustCompile(`(?i)\b(login|logout|signin|signup|password|auth)\b`)},
	{"loading", knowledge.CategoryTiming, regexp.MustCompile(`(?i)\b(loading|spinner|skeleton|progress)\b`)},
	{"select", knowledge.CategoryUIInteraction, regexp.MustCompile(`(?i)\b(select|dropdown|combobox|option)\b`)},
	{"tabs", knowledge.CategoryUIInteraction, regexp.MustCompile(`(?i)\b(tab|tabs|accordion|collaps)`)},
	{"search", knowledge.CategoryData, regexp.MustCompile(`(?i)\b(search|filter|sort|paginat)`)},
}

// MatchUIPattern returns the first reusable-UI table entry matching the
// fragment, or nil. Table order is fixed, so earlier entries win when a
// fragment mentions several kinds of furniture.
func MatchUIPattern(code string) *UIPattern {
	for i := range uiPatterns {
		if uiPatterns[i].Regexp.MatchString(code) {
			return &uiPatterns[i]
		}
	}
	return nil
}

// keywordRule maps trigger words to a category for fragments the UI table
// does not recognize. First matching rule wins.
type keywordRule struct {
	words    []string
	category knowledge.Category
}

var keywordRules = []keywordRule{
	{[]string{"goto", "navigate", "url", "route"}, knowledge.CategoryNavigation},
	{[]string{"expect", "assert", "tohave", "tobe", "should"}, knowledge.CategoryAssertion},
	{[]string{"click", "fill", "press", "type", "hover", "drag"}, knowledge.CategoryUIInteraction},
	{[]string{"fetch", "api", "request", "response", "payload"}, knowledge.CategoryData},
	{[]string{"wait", "timeout", "sleep", "delay", "retry"}, knowledge.CategoryTiming},
	{[]string{"login", "password", "credential", "session", "token"}, knowledge.CategoryAuth},
}

// ClassifyCategory infers the category of a code fragment. A reusable-UI
// table hit wins outright; otherwise the keyword rules decide, falling back
// to quirk when nothing fires.
func ClassifyCategory(code string) knowledge.Category {
	if p := MatchUIPattern(code); p != nil {
		return p.Category
	}
	lower := strings.ToLower(code)
	for _, rule := range keywordRules {
		for _, w := range rule.words {
			if strings.Contains(lower, w) {
				return rule.category
			}
		}
	}
	return knowledge.CategoryQuirk
}
