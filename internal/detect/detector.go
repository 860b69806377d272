// Package detect finds near-duplicate code fragments across a test corpus
// and turns repeated shapes into extraction recommendations. Grouping is
// greedy first-match over the caller-supplied fragment order; callers that
// need reproducible candidates must feed fragments in a stable order.
package detect

import (
	"fmt"
	"math"
	"sort"

	"github.com/lessonbase/llkb/internal/knowledge"
	"github.com/lessonbase/llkb/internal/normalize"
	"github.com/lessonbase/llkb/internal/similarity"
)

// Fragment is one step-labelled slice of a test file.
type Fragment struct {
	File      string `json:"file"`
	JourneyID string `json:"journeyId"`
	StepLabel string `json:"stepLabel"`
	Code      string `json:"code"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// Options tunes detection. Zero values fall back to the defaults.
type Options struct {
	SimilarityThreshold  float64
	MinOccurrences       int
	MinLines             int
	PredictiveExtraction bool
}

func (o Options) withDefaults() Options {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = similarity.DefaultThreshold
	}
	if o.MinOccurrences <= 0 {
		o.MinOccurrences = 2
	}
	if o.MinLines <= 0 {
		o.MinLines = 3
	}
	return o
}

// Group is a cluster of near-duplicate fragments. Representative is the
// normalized text of the first fragment seen; later members matched it at
// or above the similarity threshold.
type Group struct {
	Representative string
	Hash           string
	Category       knowledge.Category
	Fragments      []Fragment
	// InternalSimilarity is the mean score of each member against the
	// representative; 1.0 for a single-member group.
	InternalSimilarity float64
}

// Occurrences returns the number of fragments in the group.
func (g *Group) Occurrences() int { return len(g.Fragments) }

// DistinctJourneys counts the distinct journey ids across members.
func (g *Group) DistinctJourneys() int {
	seen := make(map[string]struct{}, len(g.Fragments))
	for _, f := range g.Fragments {
		if f.JourneyID != "" {
			seen[f.JourneyID] = struct{}{}
		}
	}
	return len(seen)
}

// DistinctFiles counts the distinct source files across members.
func (g *Group) DistinctFiles() int {
	seen := make(map[string]struct{}, len(g.Fragments))
	for _, f := range g.Fragments {
		seen[f.File] = struct{}{}
	}
	return len(seen)
}

// GroupFragments clusters fragments by normalized similarity. Each fragment
// joins the FIRST group (in creation order) whose representative scores at
// or above the threshold against it; otherwise it founds a new group. The
// policy is greedy and order-sensitive on purpose: downstream ranking
// depends on exactly this clustering, so do not replace it with a global
// optimum.
func GroupFragments(fragments []Fragment, opts Options) []*Group {
	opts = opts.withDefaults()

	var groups []*Group
	for _, frag := range fragments {
		norm := normalize.Normalize(frag.Code)
		hash := normalize.HashCode(norm)

		var target *Group
		for _, g := range groups {
			// Equal hashes can collide, so identity still goes through the
			// text comparison.
			if g.Hash == hash && g.Representative == norm {
				target = g
				break
			}
			if similarity.Score(g.Representative, norm) >= opts.SimilarityThreshold {
				target = g
				break
			}
		}
		if target == nil {
			groups = append(groups, &Group{
				Representative: norm,
				Hash:           hash,
				Category:       ClassifyCategory(frag.Code),
				Fragments:      []Fragment{frag},
			})
			continue
		}
		target.Fragments = append(target.Fragments, frag)
	}

	for _, g := range groups {
		g.InternalSimilarity = internalSimilarity(g)
	}
	return groups
}

func internalSimilarity(g *Group) float64 {
	if len(g.Fragments) < 2 {
		return 1.0
	}
	var sum float64
	for _, f := range g.Fragments {
		sum += similarity.Score(g.Representative, normalize.Normalize(f.Code))
	}
	return sum / float64(len(g.Fragments))
}

// Decision is the outcome of an extraction check for one fragment shape.
type Decision struct {
	ShouldExtract bool    `json:"shouldExtract"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
}

const (
	// maxExtractionConfidence caps how sure repetition alone can make us.
	maxExtractionConfidence = 0.95
	// predictiveConfidence is the fixed confidence for fragments accepted
	// only because they match a reusable-UI shape.
	predictiveConfidence = 0.6
)

// ShouldExtract decides whether a fragment with the given occurrence stats
// deserves promotion into a component. The checks run in a fixed order:
// length gate, already-exists gate, repetition, then the predictive-shape
// fallback.
func ShouldExtract(code string, occurrences, distinctJourneys int, components []knowledge.Component, opts Options) Decision {
	opts = opts.withDefaults()

	if normalize.CountLines(code) < opts.MinLines {
		return Decision{Reason: fmt.Sprintf("fragment shorter than %d lines", opts.MinLines)}
	}

	for _, c := range components {
		if c.Archived {
			continue
		}
		if similarity.IsNearDuplicate(code, c.SourceCode, opts.SimilarityThreshold) {
			return Decision{Reason: fmt.Sprintf("already exists as component %q", c.Name)}
		}
	}

	if occurrences >= opts.MinOccurrences {
		conf := 0.7 + 0.05*float64(distinctJourneys-1)
		if distinctJourneys < 1 {
			conf = 0.7
		}
		if conf > maxExtractionConfidence {
			conf = maxExtractionConfidence
		}
		return Decision{
			ShouldExtract: true,
			Confidence:    conf,
			Reason:        fmt.Sprintf("repeated %d times across %d journeys", occurrences, distinctJourneys),
		}
	}

	if opts.PredictiveExtraction {
		if p := MatchUIPattern(code); p != nil {
			return Decision{
				ShouldExtract: true,
				Confidence:    predictiveConfidence,
				Reason:        fmt.Sprintf("matches reusable %s pattern", p.Name),
			}
		}
	}

	if occurrences <= 1 {
		return Decision{Reason: "not common enough to extract"}
	}
	return Decision{Reason: "insufficient evidence"}
}

// Tier labels an extraction candidate's urgency.
type Tier string

const (
	TierExtractNow Tier = "EXTRACT_NOW"
	TierConsider   Tier = "CONSIDER"
	TierSkip       Tier = "SKIP"
)

// Candidate is a ranked extraction proposal derived from one group.
type Candidate struct {
	Group            *Group             `json:"-"`
	Representative   string             `json:"representative"`
	Category         knowledge.Category `json:"category"`
	Occurrences      int                `json:"occurrences"`
	DistinctJourneys int                `json:"distinctJourneys"`
	DistinctFiles    int                `json:"distinctFiles"`
	Decision         Decision           `json:"decision"`
	Score            float64            `json:"score"`
	Tier             Tier               `json:"tier"`
	Locations        []Fragment         `json:"locations"`
}

const (
	occurrenceScoreWeight = 0.3
	journeyScoreWeight    = 0.4
	confidenceScoreWeight = 0.3

	// Saturation points for the count terms: five sightings or three
	// journeys is "everywhere" as far as ranking cares.
	occurrenceSaturation = 5.0
	journeySaturation    = 3.0

	extractNowScore = 0.7
	considerScore   = 0.5
)

// FindExtractionCandidates groups the fragments, decides extraction per
// group, and returns candidates ranked by combined score descending.
func FindExtractionCandidates(fragments []Fragment, components []knowledge.Component, opts Options) []Candidate {
	opts = opts.withDefaults()

	groups := GroupFragments(fragments, opts)
	candidates := make([]Candidate, 0, len(groups))
	for _, g := range groups {
		occ := g.Occurrences()
		journeys := g.DistinctJourneys()
		decision := ShouldExtract(g.Fragments[0].Code, occ, journeys, components, opts)

		score := occurrenceScoreWeight*saturate(float64(occ), occurrenceSaturation) +
			journeyScoreWeight*saturate(float64(journeys), journeySaturation) +
			confidenceScoreWeight*decision.Confidence

		tier := TierSkip
		switch {
		case decision.ShouldExtract && score >= extractNowScore:
			tier = TierExtractNow
		case decision.ShouldExtract || score >= considerScore:
			tier = TierConsider
		}

		candidates = append(candidates, Candidate{
			Group:            g,
			Representative:   g.Representative,
			Category:         g.Category,
			Occurrences:      occ,
			DistinctJourneys: journeys,
			DistinctFiles:    g.DistinctFiles(),
			Decision:         decision,
			Score:            round2(score),
			Tier:             tier,
			Locations:        g.Fragments,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

func saturate(v, at float64) float64 {
	if v >= at {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v / at
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
