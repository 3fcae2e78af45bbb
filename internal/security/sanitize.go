package security

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultName replaces names that sanitize down to nothing.
	DefaultName = "unnamed_idea"

	// DefaultMaxNameLength bounds sanitized names, in runes.
	DefaultMaxNameLength = 50

	invalidChars = `<>:"/\|?*`

	maxVersion = 999
)

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// now is swapped in tests that exercise the timestamp fallback of VersionName.
var now = time.Now

// SanitizeName turns arbitrary user text into a single safe path component of
// at most maxLen runes. The result never contains a separator, never starts
// with a dot and is never empty. SanitizeName is idempotent.
//
// maxLen <= 0 selects DefaultMaxNameLength. Names that sanitize down to
// nothing become DefaultName, cut to maxLen like any other name.
func SanitizeName(raw string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLength
	}

	s := foldMarks(raw)

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(invalidChars, r), unicode.IsSpace(r):
			b.WriteByte('_')
		case unicode.IsControl(r), r == utf8.RuneError:
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	s = truncate(strings.TrimLeft(b.String(), "."), maxLen)

	if s == "" || s == "_" {
		return truncate(DefaultName, maxLen)
	}
	if isReserved(s) {
		s = truncate("_"+s, maxLen)
	}
	return s
}

// foldMarks decomposes compatibility characters and drops combining marks,
// so "Café" becomes "Cafe".
func foldMarks(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// truncate cuts s to maxLen runes, keeping a short trailing extension intact.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	ext := filepath.Ext(s)
	extLen := utf8.RuneCountInString(ext)
	if ext == "" || ext == s || extLen >= maxLen/2 {
		return string([]rune(s)[:maxLen])
	}
	stem := []rune(strings.TrimSuffix(s, ext))
	return string(stem[:maxLen-extLen]) + ext
}

func isReserved(s string) bool {
	stem := s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		stem = s[:i]
	}
	return reservedNames[strings.ToUpper(stem)]
}

// VersionName returns base if it is free, otherwise the first free name in
// base_v2 ... base_v999, otherwise base suffixed with the current Unix time.
func VersionName(base string, exists func(name string) bool) string {
	if !exists(base) {
		return base
	}
	for v := 2; v <= maxVersion; v++ {
		candidate := fmt.Sprintf("%s_v%d", base, v)
		if !exists(candidate) {
			return candidate
		}
	}
	return fmt.Sprintf("%s_%d", base, now().Unix())
}

// NameSet adapts a list of names to the exists callback of VersionName.
func NameSet(names []string) func(string) bool {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(name string) bool {
		_, ok := set[name]
		return ok
	}
}
