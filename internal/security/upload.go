package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kalambet/v2v/internal/result"
)

// DefaultAudioFormats lists the extensions accepted by default.
var DefaultAudioFormats = []string{".mp3", ".wav", ".ogg", ".m4a"}

// DefaultMaxUploadMB bounds accepted uploads.
const DefaultMaxUploadMB = 25

// CheckExtension rejects filenames whose extension is not in allowed.
// Comparison is case-insensitive.
func CheckExtension(filename string, allowed []string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || !slices.Contains(allowed, ext) {
		return result.Errorf(result.KindInvalidInput, "unsupported format %q (allowed: %s)", ext, strings.Join(allowed, ", "))
	}
	return nil
}

// CheckSize rejects uploads larger than maxMB megabytes.
func CheckSize(size int64, maxMB int) error {
	limit := int64(maxMB) * 1024 * 1024
	if size > limit {
		return result.Errorf(result.KindInvalidInput, "file too large: %.1f MB (max %d MB)", float64(size)/1024/1024, maxMB)
	}
	return nil
}

// NewToken returns 32 random bytes encoded as unpadded URL-safe base64.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
