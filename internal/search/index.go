// Package search ranks stored ideas against free-text queries and offers
// suggestions, filtered listings and recency views on top of the store.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/v2v/internal/result"
	"github.com/kalambet/v2v/internal/security"
	"github.com/kalambet/v2v/internal/storage"
)

const (
	DefaultLimit         = 20
	DefaultSuggestLimit  = 5
	DefaultAdvancedLimit = 50
	DefaultRecentDays    = 7
	DefaultRecentLimit   = 10

	minSuggestLength = 2
	suggestPool      = 200
)

// Source is the read side of the metadata store.
type Source interface {
	SearchIdeas(f storage.SearchFilter) ([]storage.Idea, error)
	ListIdeas(limit, offset int) ([]storage.Idea, error)
	Statistics(now time.Time) (storage.Stats, error)
	LogOperation(userID, action, target string, details map[string]any) error
}

// Filters narrow the candidate set before scoring.
type Filters struct {
	Category string   `json:"category,omitempty"`
	Maturity string   `json:"maturity,omitempty"`
	Creator  string   `json:"creator,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Hit is a scored idea.
type Hit struct {
	Idea   storage.Idea `json:"idea"`
	Scores Scores       `json:"scores"`
}

// Results is the answer to a search.
type Results struct {
	Query      string `json:"query"`
	TotalFound int    `json:"total_found"`
	Hits       []Hit  `json:"hits"`
}

// Index answers search queries for authorized callers.
type Index struct {
	source Source
	access *security.Access
	now    func() time.Time
}

// New creates an Index reading from source.
func New(source Source, access *security.Access) *Index {
	return &Index{source: source, access: access, now: time.Now}
}

func (x *Index) authorize(callerID string) error {
	if !x.access.Authorize(callerID).CanSearch {
		return result.Errorf(result.KindUnauthorized, "caller %q is not authorized", callerID)
	}
	return nil
}

// Search fetches up to 2×limit candidates matching query and filters,
// scores them and returns those above the threshold, best first. Ties keep
// the store order (newest first).
func (x *Index) Search(ctx context.Context, callerID, query string, f Filters, limit int) (Results, error) {
	if err := x.authorize(callerID); err != nil {
		return Results{}, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	candidates, err := x.source.SearchIdeas(storage.SearchFilter{
		Text:     query,
		Category: f.Category,
		Maturity: f.Maturity,
		Creator:  f.Creator,
		Tags:     f.Tags,
		Limit:    limit * 2,
	})
	if err != nil {
		return Results{}, result.Wrap(result.KindPersistence, err, "searching ideas")
	}

	hits := rank(candidates, query)
	res := Results{Query: query, TotalFound: len(hits), Hits: hits[:min(limit, len(hits))]}

	if err := x.source.LogOperation(callerID, "search", query, map[string]any{"results": len(res.Hits)}); err != nil {
		slog.Warn("recording search", "error", err)
	}
	slog.Debug("search", "query", query, "caller", callerID, "found", res.TotalFound)
	return res, nil
}

// rank scores candidates and keeps those above the threshold, best first.
func rank(candidates []storage.Idea, query string) []Hit {
	hits := make([]Hit, 0, len(candidates))
	for _, idea := range candidates {
		s := Score(idea, query)
		if s.Total > threshold {
			hits = append(hits, Hit{Idea: idea, Scores: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Scores.Total > hits[j].Scores.Total
	})
	return hits
}

// Suggest returns up to limit folder names containing prefix, names starting
// with it first, then alphabetically. Prefixes shorter than two characters
// yield no suggestions.
func (x *Index) Suggest(ctx context.Context, callerID, prefix string, limit int) ([]string, error) {
	if err := x.authorize(callerID); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(prefix) < minSuggestLength {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}

	ideas, err := x.source.ListIdeas(suggestPool, 0)
	if err != nil {
		return nil, result.Wrap(result.KindPersistence, err, "listing ideas")
	}

	p := strings.ToLower(prefix)
	suggestions := []string{}
	for _, idea := range ideas {
		if strings.Contains(strings.ToLower(idea.FolderName), p) {
			suggestions = append(suggestions, idea.FolderName)
		}
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		a, b := strings.ToLower(suggestions[i]), strings.ToLower(suggestions[j])
		ap, bp := strings.HasPrefix(a, p), strings.HasPrefix(b, p)
		if ap != bp {
			return ap
		}
		return a < b
	})
	return suggestions[:min(limit, len(suggestions))], nil
}

// SortKey orders advanced search results.
type SortKey string

const (
	SortRelevance SortKey = "relevance"
	SortDate      SortKey = "date"
	SortViability SortKey = "viability"
	SortName      SortKey = "name"
)

// Criteria drive an advanced search. Nil bounds and zero times are unbounded.
type Criteria struct {
	Query        string    `json:"query,omitempty"`
	Filters      Filters   `json:"filters"`
	ViabilityMin *int      `json:"viability_min,omitempty"`
	ViabilityMax *int      `json:"viability_max,omitempty"`
	From         time.Time `json:"from,omitempty"`
	To           time.Time `json:"to,omitempty"`
	SortBy       SortKey   `json:"sort_by,omitempty"`
}

// Advanced applies viability and date windows on top of a coarse store
// query and orders the result by the requested key. Relevance ranks by
// match score when a query is given and keeps store order otherwise.
func (x *Index) Advanced(ctx context.Context, callerID string, c Criteria, limit int) (Results, error) {
	if err := x.authorize(callerID); err != nil {
		return Results{}, err
	}
	if limit <= 0 {
		limit = DefaultAdvancedLimit
	}
	if c.SortBy == "" {
		c.SortBy = SortRelevance
	}
	switch c.SortBy {
	case SortRelevance, SortDate, SortViability, SortName:
	default:
		return Results{}, result.Errorf(result.KindInvalidInput, "unknown sort key %q", c.SortBy)
	}

	candidates, err := x.source.SearchIdeas(storage.SearchFilter{
		Text:     c.Query,
		Category: c.Filters.Category,
		Maturity: c.Filters.Maturity,
		Creator:  c.Filters.Creator,
		Tags:     c.Filters.Tags,
		Limit:    limit * 2,
	})
	if err != nil {
		return Results{}, result.Wrap(result.KindPersistence, err, "searching ideas")
	}

	hits := make([]Hit, 0, len(candidates))
	for _, idea := range candidates {
		if c.ViabilityMin != nil && idea.Viability < *c.ViabilityMin {
			continue
		}
		if c.ViabilityMax != nil && idea.Viability > *c.ViabilityMax {
			continue
		}
		if !c.From.IsZero() && idea.CreatedAt.Before(c.From) {
			continue
		}
		if !c.To.IsZero() && idea.CreatedAt.After(c.To) {
			continue
		}
		hits = append(hits, Hit{Idea: idea, Scores: Score(idea, c.Query)})
	}

	switch c.SortBy {
	case SortRelevance:
		if c.Query != "" {
			sort.SliceStable(hits, func(i, j int) bool { return hits[i].Scores.Total > hits[j].Scores.Total })
		}
	case SortDate:
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Idea.CreatedAt.After(hits[j].Idea.CreatedAt) })
	case SortViability:
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Idea.Viability > hits[j].Idea.Viability })
	case SortName:
		sort.SliceStable(hits, func(i, j int) bool {
			return strings.ToLower(hits[i].Idea.Title) < strings.ToLower(hits[j].Idea.Title)
		})
	}

	return Results{Query: c.Query, TotalFound: len(hits), Hits: hits[:min(limit, len(hits))]}, nil
}

// Recent returns ideas created in the last days days, newest first.
func (x *Index) Recent(ctx context.Context, callerID string, days, limit int) ([]storage.Idea, error) {
	if err := x.authorize(callerID); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = DefaultRecentDays
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	ideas, err := x.source.SearchIdeas(storage.SearchFilter{
		Since: x.now().Add(-time.Duration(days) * 24 * time.Hour),
		Limit: limit,
	})
	if err != nil {
		return nil, result.Wrap(result.KindPersistence, err, "listing recent ideas")
	}
	if ideas == nil {
		ideas = []storage.Idea{}
	}
	return ideas, nil
}

// Stats extends the store statistics with index status.
type Stats struct {
	storage.Stats
	SearchAvailable bool `json:"search_available"`
	TotalIndexed    int  `json:"total_indexed"`
}

// Statistics reports aggregate counts over the indexed ideas.
func (x *Index) Statistics(ctx context.Context, callerID string) (Stats, error) {
	if err := x.authorize(callerID); err != nil {
		return Stats{}, err
	}
	st, err := x.source.Statistics(x.now())
	if err != nil {
		return Stats{}, result.Wrap(result.KindPersistence, err, "computing statistics")
	}
	return Stats{Stats: st, SearchAvailable: true, TotalIndexed: st.Total}, nil
}

// String renders a hit for logs and chat replies.
func (h Hit) String() string {
	return fmt.Sprintf("%s (%.0f%%)", h.Idea.FolderName, h.Scores.Total*100)
}
