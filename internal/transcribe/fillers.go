package transcribe

import (
	"regexp"
	"strings"
)

// DefaultFillers are removed from transcripts unless configured otherwise.
var DefaultFillers = []string{"um", "uh", "uhm", "erm", "hmm", "eh", "ehm", "este", "o sea"}

// Cleaner strips filler words from transcripts.
type Cleaner struct {
	re *regexp.Regexp
}

// NewCleaner builds a Cleaner for words. An empty list disables cleaning.
func NewCleaner(words []string) *Cleaner {
	var quoted []string
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	if len(quoted) == 0 {
		return &Cleaner{}
	}
	// A filler swallows the comma or ellipsis that usually follows it.
	return &Cleaner{re: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b(?:,|\.\.\.)?`)}
}

// Clean removes whole-word fillers case-insensitively and collapses the
// remaining whitespace.
func (c *Cleaner) Clean(text string) string {
	if c.re == nil {
		return text
	}
	return strings.Join(strings.Fields(c.re.ReplaceAllString(text, " ")), " ")
}
