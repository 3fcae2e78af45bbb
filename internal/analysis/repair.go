package analysis

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const maxTitleWords = 5

func missingFields(fields map[string]any) []string {
	var missing []string
	for _, f := range requiredFields {
		if _, ok := fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// normalize converts the decoded model output into an Analysis, repairing
// out-of-range values and recording a warning for each correction.
func normalize(fields map[string]any) Analysis {
	var a Analysis
	warn := func(format string, args ...any) {
		a.Warnings = append(a.Warnings, fmt.Sprintf(format, args...))
	}

	a.Title = strings.TrimSpace(text(fields["title"]))
	if words := strings.Fields(a.Title); len(words) > maxTitleWords {
		a.Title = strings.Join(words[:maxTitleWords], " ")
		warn("title truncated to %d words", maxTitleWords)
	}
	a.Summary = text(fields["summary"])
	a.Explanation = text(fields["explanation"])

	rawCategory := text(fields["category"])
	if c, ok := ParseCategory(rawCategory); ok {
		a.Category = c
	} else {
		a.Category = CategoryOther
		warn("category %q is not valid, using %q", rawCategory, CategoryOther)
	}

	rawMaturity := text(fields["maturity"])
	if m, ok := ParseMaturity(rawMaturity); ok {
		a.Maturity = m
	} else {
		a.Maturity = MaturityConcept
		warn("maturity %q is not valid, using %q", rawMaturity, MaturityConcept)
	}

	if v, ok := integer(fields["viability"]); ok {
		a.Viability = v
		if v < 1 || v > 10 {
			a.Viability = min(max(v, 1), 10)
			warn("viability clamped to 1-10: %d", a.Viability)
		}
	} else {
		a.Viability = 5
		warn("viability is not numeric, using 5")
	}

	var wrapped bool
	if a.Tags, wrapped = list(fields["tags"]); wrapped {
		warn("tags converted to a list")
	}
	if a.NextSteps, wrapped = list(fields["next_steps"]); wrapped {
		warn("next_steps converted to a list")
	}
	if a.Risks, wrapped = list(fields["risks"]); wrapped {
		warn("risks converted to a list")
	}
	return a
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// integer accepts JSON numbers and numeric strings; fractions are truncated.
func integer(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), true
		}
	}
	return 0, false
}

// list returns v as a string slice. wrapped reports that a non-list value
// had to be converted.
func list(v any) (items []string, wrapped bool) {
	switch t := v.(type) {
	case []any:
		items = make([]string, 0, len(t))
		for _, e := range t {
			if s := strings.TrimSpace(text(e)); s != "" {
				items = append(items, s)
			}
		}
		return items, false
	case nil:
		return []string{}, false
	case string:
		if t == "" {
			return []string{}, true
		}
		return []string{t}, true
	default:
		return []string{text(t)}, true
	}
}
