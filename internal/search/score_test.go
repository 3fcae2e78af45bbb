package search

import (
	"math"
	"slices"
	"testing"

	"github.com/kalambet/v2v/internal/storage"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScore_ExactFolder(t *testing.T) {
	s := Score(storage.Idea{FolderName: "Mobile_Delivery_App"}, "mobile_delivery_app")
	if s.ExactName != 1.0 || s.Total != 1.0 || s.FuzzyName != 0 {
		t.Errorf("scores = %+v", s)
	}
}

func TestScore_PartialFolderAndTitle(t *testing.T) {
	s := Score(storage.Idea{FolderName: "Mobile_Delivery_App", Title: "Mobile Delivery App"}, "Delivery")
	if s.PartialName != 0.8 || s.Total != 0.8 {
		t.Errorf("folder substring: %+v", s)
	}

	s = Score(storage.Idea{FolderName: "Idea_v2", Title: "Mobile Delivery App"}, "delivery")
	if s.PartialName != 0.7 || s.Total != 0.7 {
		t.Errorf("title substring: %+v", s)
	}
}

func TestScore_Fuzzy(t *testing.T) {
	s := Score(storage.Idea{FolderName: "garden_planner"}, "garden planer")
	want := 2.0 * 12 / 27
	if !near(s.FuzzyName, want) || !near(s.Total, want*0.7) {
		t.Errorf("scores = %+v, want fuzzy %v", s, want)
	}
}

func TestScore_SummaryPosition(t *testing.T) {
	tests := []struct {
		name    string
		summary string
		want    float64
	}{
		{"ascii", "A smart delivery network", 0.492},
		// Positions count characters, not bytes.
		{"multibyte prefix", "ñññ delivery", 0.496},
		{"past the window", string(make([]byte, 600)) + "delivery", 0},
	}
	for _, tt := range tests {
		s := Score(storage.Idea{FolderName: "x", Summary: tt.summary}, "delivery")
		if !near(s.Summary, tt.want) {
			t.Errorf("%s: Summary = %v, want %v", tt.name, s.Summary, tt.want)
		}
	}
}

func TestScore_Tags(t *testing.T) {
	tests := []struct {
		tags  []string
		query string
		want  float64
	}{
		{[]string{"Delivery", "logistics"}, "delivery app", 0.3},
		{[]string{"Delivery", "apps", "appliance"}, "delivery app", 0.6},
		{nil, "delivery", 0},
	}
	for _, tt := range tests {
		if got := Score(storage.Idea{FolderName: "x", Tags: tt.tags}, tt.query).Tags; got != tt.want {
			t.Errorf("tags %v: score = %v, want %v", tt.tags, got, tt.want)
		}
	}
}

func TestRank_ThresholdAndStableOrder(t *testing.T) {
	candidates := []storage.Idea{
		{FolderName: "Zebra_Farm"},
		{FolderName: "Delivery_Tracker"},
		{FolderName: "Mobile_Delivery_App"},
		{FolderName: "delivery"},
	}
	hits := rank(candidates, "delivery")

	want := []string{"delivery", "Delivery_Tracker", "Mobile_Delivery_App"}
	if got := folders(hits); !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	for _, h := range hits {
		if h.Scores.Total <= threshold {
			t.Errorf("%s scored %v, below threshold", h.Idea.FolderName, h.Scores.Total)
		}
	}
}
