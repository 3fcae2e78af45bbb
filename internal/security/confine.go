package security

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/v2v/internal/result"
)

// Confiner keeps resolved paths inside a base directory.
type Confiner struct {
	base string
}

// NewConfiner resolves base to an absolute, symlink-free path. The directory
// does not have to exist yet.
func NewConfiner(base string) (*Confiner, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	resolved, err := resolve(filepath.Clean(abs))
	if err != nil {
		return nil, err
	}
	return &Confiner{base: resolved}, nil
}

// Base returns the resolved base directory.
func (c *Confiner) Base() string {
	return c.base
}

// Confine resolves path (relative paths are taken relative to the base) and
// returns it if it is the base itself or one of its descendants. Anything
// else is a KindUnsafePath error.
func (c *Confiner) Confine(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.base, path)
	}
	resolved, err := resolve(filepath.Clean(path))
	if err != nil {
		return "", result.Wrap(result.KindUnsafePath, err, "resolving path")
	}
	rel, err := filepath.Rel(c.base, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", result.Errorf(result.KindUnsafePath, "path escapes %s", filepath.Base(c.base))
	}
	return resolved, nil
}

// ConfineChild is Confine for paths that must be strictly below the base.
func (c *Confiner) ConfineChild(path string) (string, error) {
	resolved, err := c.Confine(path)
	if err != nil {
		return "", err
	}
	if resolved == c.base {
		return "", result.Errorf(result.KindUnsafePath, "path is the base directory")
	}
	return resolved, nil
}

// resolve evaluates symlinks on the longest existing prefix of p.
func resolve(p string) (string, error) {
	r, err := filepath.EvalSymlinks(p)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	parent := filepath.Dir(p)
	if parent == p {
		return p, nil
	}
	rp, err := resolve(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(rp, filepath.Base(p)), nil
}

// DirExists reports whether path exists as a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
