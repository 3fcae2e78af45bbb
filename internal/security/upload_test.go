package security

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/kalambet/v2v/internal/result"
)

func TestCheckExtension(t *testing.T) {
	for _, name := range []string{"memo.MP3", "voice.ogg"} {
		if err := CheckExtension(name, DefaultAudioFormats); err != nil {
			t.Errorf("CheckExtension(%q): %v", name, err)
		}
	}
	for _, name := range []string{"notes.txt", "noext"} {
		if err := CheckExtension(name, DefaultAudioFormats); !result.Is(err, result.KindInvalidInput) {
			t.Errorf("CheckExtension(%q) = %v, want invalid input", name, err)
		}
	}
}

func TestCheckSize(t *testing.T) {
	if err := CheckSize(25*1024*1024, 25); err != nil {
		t.Errorf("at limit: %v", err)
	}
	if err := CheckSize(25*1024*1024+1, 25); !result.Is(err, result.KindInvalidInput) {
		t.Errorf("over limit = %v, want invalid input", err)
	}
}

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	b, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if a == b {
		t.Error("two tokens are equal")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("decoding token: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("token has %d bytes, want 32", len(raw))
	}
}

func TestHashFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(p, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := HashFile(p)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"; got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}
}
