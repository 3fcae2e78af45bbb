package search

import (
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/kalambet/v2v/internal/storage"
)

// Scores is the per-signal breakdown of a match. Total is the maximum of
// the individual signals, with the fuzzy ratio weighted by 0.7.
type Scores struct {
	ExactName   float64 `json:"exact_name"`
	PartialName float64 `json:"partial_name"`
	FuzzyName   float64 `json:"fuzzy_name"`
	Summary     float64 `json:"summary"`
	Tags        float64 `json:"tags"`
	Total       float64 `json:"total"`
}

// threshold is the minimum Total for a candidate to be returned.
const threshold = 0.3

// Score rates how well idea matches query. Matching is case-insensitive.
func Score(idea storage.Idea, query string) Scores {
	var s Scores
	q := strings.ToLower(query)

	folder := strings.ToLower(idea.FolderName)
	switch {
	case q == folder:
		s.ExactName = 1.0
	case strings.Contains(folder, q):
		s.PartialName = 0.8
	default:
		s.FuzzyName = ratio(q, folder)
	}

	if strings.Contains(strings.ToLower(idea.Title), q) {
		s.PartialName = max(s.PartialName, 0.7)
	}

	summary := strings.ToLower(idea.Summary)
	if i := strings.Index(summary, q); i >= 0 {
		pos := utf8.RuneCountInString(summary[:i])
		s.Summary = max(0, 0.5-float64(pos)/1000)
	}

	words := strings.Fields(q)
	matching := 0
	for _, tag := range idea.Tags {
		t := strings.ToLower(tag)
		for _, w := range words {
			if strings.Contains(t, w) {
				matching++
				break
			}
		}
	}
	if matching > 0 {
		s.Tags = min(0.6, float64(matching)*0.3)
	}

	s.Total = max(s.ExactName, s.PartialName, s.FuzzyName*0.7, s.Summary, s.Tags)
	return s
}

// ratio is the character-level similarity of a and b in [0, 1].
func ratio(a, b string) float64 {
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}
