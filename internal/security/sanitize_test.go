package security

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"spaces", "Mobile Delivery App", "Mobile_Delivery_App"},
		{"invalid chars", `a<b>c:d"e/f\g|h?i*j`, "a_b_c_d_e_f_g_h_i_j"},
		{"accents", "Café Montaña", "Cafe_Montana"},
		{"control chars", "idea\x00\x07name", "ideaname"},
		{"leading dots", "...hidden", "hidden"},
		{"traversal", "../../etc/passwd", "_.._etc_passwd"},
		{"empty", "", DefaultName},
		{"only dots", "....", DefaultName},
		{"single underscore", " ", DefaultName},
		{"reserved", "CON", "_CON"},
		{"reserved lowercase", "lpt1", "_lpt1"},
		{"reserved with extension", "nul.txt", "_nul.txt"},
		{"not reserved", "CONSOLE", "CONSOLE"},
		{"tabs and newlines", "a\tb\nc", "a_b_c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.in, 0); got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeName_Truncates(t *testing.T) {
	if got := SanitizeName(strings.Repeat("x", 80), 50); utf8.RuneCountInString(got) != 50 {
		t.Errorf("len = %d, want 50", utf8.RuneCountInString(got))
	}

	got := SanitizeName(strings.Repeat("y", 60)+".mp3", 20)
	if utf8.RuneCountInString(got) != 20 || !strings.HasSuffix(got, ".mp3") {
		t.Errorf("SanitizeName = %q, want 20 runes ending in .mp3", got)
	}

	if got := SanitizeName(strings.Repeat("ñ", 70), 0); utf8.RuneCountInString(got) != DefaultMaxNameLength {
		t.Errorf("len = %d, want %d", utf8.RuneCountInString(got), DefaultMaxNameLength)
	}
}

func TestSanitizeName_SmallLimits(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"", 3, "unn"},
		{"....", 5, "unnam"},
		{strings.Repeat("z", 40), 3, "zzz"},
		{"CON", 3, "_CO"},
		{"_abc", 1, "u"},
		{"Idea", 1, "I"},
		{"", len(DefaultName), DefaultName},
	}
	for _, tt := range tests {
		got := SanitizeName(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("SanitizeName(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if n := utf8.RuneCountInString(got); n > tt.max {
			t.Errorf("SanitizeName(%q, %d) has %d runes", tt.in, tt.max, n)
		}
	}
}

func TestSanitizeName_Idempotent(t *testing.T) {
	inputs := []string{
		"Mobile Delivery App",
		"../../etc/passwd",
		"..\\..\\windows",
		"CON",
		"com9.log",
		"Ünïcödé ｆｕｌｌｗｉｄｔｈ ／ slash",
		"   ",
		"\u2100 account",
		strings.Repeat("a", 49) + " " + strings.Repeat("b", 10),
		strings.Repeat("long name ", 10) + ".wav",
		"_",
		".",
		"idea?*with|junk",
	}
	for _, in := range inputs {
		for _, max := range []int{0, 1, 3, 12, 20, 50} {
			once := SanitizeName(in, max)
			if twice := SanitizeName(once, max); twice != once {
				t.Errorf("not idempotent for %q (max %d): %q then %q", in, max, once, twice)
			}
			if max > 0 && utf8.RuneCountInString(once) > max {
				t.Errorf("SanitizeName(%q, %d) = %q is too long", in, max, once)
			}
		}
	}
}

func TestSanitizeName_Safe(t *testing.T) {
	inputs := []string{"../x", "/abs/path", "a/../../b", "..", "C:\\Windows", "x\x00y", "..."}
	for _, in := range inputs {
		got := SanitizeName(in, 0)
		if got == "" || got == ".." || strings.HasPrefix(got, ".") || strings.ContainsAny(got, `/\`) {
			t.Errorf("SanitizeName(%q) = %q is not a safe component", in, got)
		}
		for _, r := range got {
			if r < 0x20 {
				t.Errorf("control char in %q", got)
			}
		}
	}
}

func TestVersionName(t *testing.T) {
	tests := []struct {
		taken []string
		want  string
	}{
		{nil, "Idea"},
		{[]string{"Idea"}, "Idea_v2"},
		{[]string{"Idea", "Idea_v2", "Idea_v3"}, "Idea_v4"},
		{[]string{"Idea", "Idea_v3"}, "Idea_v2"},
	}
	for _, tt := range tests {
		if got := VersionName("Idea", NameSet(tt.taken)); got != tt.want {
			t.Errorf("VersionName with %v = %q, want %q", tt.taken, got, tt.want)
		}
	}
}

func TestVersionName_TimestampFallback(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := now
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = orig })

	taken := func(name string) bool { return true }
	if got := VersionName("Idea", taken); got != "Idea_1772366400" {
		t.Errorf("VersionName = %q, want Idea_1772366400", got)
	}
}
