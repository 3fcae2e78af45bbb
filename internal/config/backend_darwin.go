//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.v2v.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "v2v-data"
	}
	return filepath.Join(home, "Library", "Application Support", "v2v")
}

// defaultsBackend shells out to defaults(1).
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() Backend {
	return &defaultsBackend{domain: defaultsDomain}
}

func (b *defaultsBackend) Location() string {
	return "defaults domain " + b.domain
}

func (b *defaultsBackend) run(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	out, err := b.run("read", b.domain, key)
	if err == nil {
		return out, true, nil
	}
	// defaults exits 1 when the domain or key does not exist.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", false, nil
	}
	return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, out)
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, true, nil
}

func (b *defaultsBackend) write(key, typ, val string) error {
	if out, err := b.run("write", b.domain, key, typ, val); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, out)
	}
	return nil
}

func (b *defaultsBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *defaultsBackend) Delete(key string) error {
	if _, ok, err := b.GetString(key); err != nil || !ok {
		return err
	}
	if out, err := b.run("delete", b.domain, key); err != nil {
		return fmt.Errorf("defaults delete %s: %w: %s", key, err, out)
	}
	return nil
}
