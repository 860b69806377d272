package ranker

import (
	"fmt"
	"strings"

	"github.com/lessonbase/llkb/internal/knowledge"
)

// Truncation lengths for digest text. Downstream prompt consumers depend
// on the digest's exact shape, so these are wire-format constants, not
// presentation preferences.
const (
	maxDescriptionLen = 50
	maxSnippetLen     = 100
)

const (
	tierHighThreshold   = 0.8
	tierMediumThreshold = 0.5
)

// ConfidenceTier labels a confidence score for human readers.
func ConfidenceTier(score float64) string {
	switch {
	case score >= tierHighThreshold:
		return "HIGH"
	case score >= tierMediumThreshold:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Digest renders a context as the bounded, human-readable block injected
// into generation prompts. Section order and truncation lengths are part
// of the contract: components grouped by source file, numbered lessons
// with tier labels, quirk bullets, selector patterns, timing hints. Empty
// sections are omitted entirely; an empty context yields "".
func Digest(ctx Context) string {
	var b strings.Builder

	writeComponents(&b, ctx.Components)
	writeLessons(&b, ctx.Lessons)
	writeQuirks(&b, ctx.Quirks)
	writeSelectors(&b, ctx.SelectorPatterns)
	writeTimings(&b, ctx.TimingPatterns)

	return strings.TrimRight(b.String(), "\n")
}

func writeComponents(b *strings.Builder, components []RankedComponent) {
	if len(components) == 0 {
		return
	}
	b.WriteString("## Reusable components\n\n")

	// Group by source file so the consumer can emit one import per file.
	// First-appearance order keeps the rendering deterministic.
	byFile := make(map[string][]RankedComponent)
	var files []string
	for _, rc := range components {
		path := rc.Component.FilePath
		if path == "" {
			path = "(unfiled)"
		}
		if _, ok := byFile[path]; !ok {
			files = append(files, path)
		}
		byFile[path] = append(byFile[path], rc)
	}

	for _, path := range files {
		fmt.Fprintf(b, "From %s:\n", path)
		for _, rc := range byFile[path] {
			c := rc.Component
			fmt.Fprintf(b, "| %s | %s | %s | success %.0f%% |\n",
				c.Name, c.Category, truncate(c.Description, maxDescriptionLen),
				c.Metrics.SuccessRate*100)
		}
		b.WriteString("\n")
	}
}

func writeLessons(b *strings.Builder, lessons []RankedLesson) {
	if len(lessons) == 0 {
		return
	}
	b.WriteString("## Lessons\n\n")
	for i, rl := range lessons {
		l := rl.Lesson
		fmt.Fprintf(b, "%d. [%s] (%s) %s\n", i+1,
			ConfidenceTier(l.Metrics.Confidence), l.Category,
			truncate(l.Trigger, maxDescriptionLen))
		if l.Pattern != "" {
			fmt.Fprintf(b, "   Pattern: %s\n", truncate(l.Pattern, maxSnippetLen))
		}
	}
	b.WriteString("\n")
}

func writeQuirks(b *strings.Builder, quirks []knowledge.Lesson) {
	if len(quirks) == 0 {
		return
	}
	b.WriteString("## App quirks\n\n")
	for _, q := range quirks {
		fmt.Fprintf(b, "- %s\n", truncate(q.Trigger, maxSnippetLen))
		if q.Workaround != "" {
			fmt.Fprintf(b, "  Workaround: %s\n", truncate(q.Workaround, maxSnippetLen))
		}
	}
	b.WriteString("\n")
}

func writeSelectors(b *strings.Builder, patterns []knowledge.SelectorPattern) {
	if len(patterns) == 0 {
		return
	}
	b.WriteString("## Selector patterns\n\n")
	for _, p := range patterns {
		fmt.Fprintf(b, "- %s (confidence %.2f)\n", truncate(p.Selector, maxSnippetLen), p.Confidence)
	}
	b.WriteString("\n")
}

func writeTimings(b *strings.Builder, patterns []knowledge.TimingPattern) {
	if len(patterns) == 0 {
		return
	}
	b.WriteString("## Timing hints\n\n")
	for _, p := range patterns {
		fmt.Fprintf(b, "- %s\n", truncate(p.Recommendation, maxSnippetLen))
	}
	b.WriteString("\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
