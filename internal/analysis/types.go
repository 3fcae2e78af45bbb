package analysis

import "strings"

// Category classifies an idea.
type Category string

const (
	CategoryApp        Category = "App"
	CategoryBusiness   Category = "Business"
	CategoryAutomation Category = "Automation"
	CategoryContent    Category = "Content"
	CategoryOther      Category = "Other"
)

// Categories lists every valid Category.
var Categories = []Category{CategoryApp, CategoryBusiness, CategoryAutomation, CategoryContent, CategoryOther}

// Maturity is how far an idea has been thought through.
type Maturity string

const (
	MaturityConcept   Maturity = "concept"
	MaturityDeveloped Maturity = "developed"
	MaturityAdvanced  Maturity = "advanced"
)

// Maturities lists every valid Maturity.
var Maturities = []Maturity{MaturityConcept, MaturityDeveloped, MaturityAdvanced}

// ParseCategory matches s case-insensitively against the known categories.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, true
		}
	}
	return "", false
}

// ParseMaturity matches s case-insensitively against the known levels.
func ParseMaturity(s string) (Maturity, bool) {
	for _, m := range Maturities {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, true
		}
	}
	return "", false
}

// Analysis is the structured view of one voice memo.
type Analysis struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Explanation string   `json:"explanation"`
	Category    Category `json:"category"`
	Tags        []string `json:"tags"`
	Maturity    Maturity `json:"maturity"`
	Viability   int      `json:"viability"`
	NextSteps   []string `json:"next_steps"`
	Risks       []string `json:"risks"`

	// Warnings lists the corrections applied to the model output.
	Warnings []string `json:"warnings,omitempty"`
}
