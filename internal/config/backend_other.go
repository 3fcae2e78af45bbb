//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// xdgDir returns $env, or ~/fallback when it is unset.
func xdgDir(env, fallback string) (string, bool) {
	if dir := os.Getenv(env); dir != "" {
		return dir, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, fallback), true
}

func defaultDataDir() string {
	dir, ok := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if !ok {
		return "v2v-data"
	}
	return filepath.Join(dir, "v2v")
}

func configFilePath() string {
	dir, ok := xdgDir("XDG_CONFIG_HOME", ".config")
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, "v2v", "config.json")
}

// fileBackend keeps values in a flat JSON object. Writes replace the file
// atomically.
type fileBackend struct {
	path string

	mu   sync.Mutex
	data map[string]any
}

func newPlatformBackend() Backend {
	return newFileBackend(configFilePath())
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]any)}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		slog.Warn("could not read config file, using defaults", "path", path, "error", err)
	default:
		if err := json.Unmarshal(raw, &b.data); err != nil {
			slog.Warn("could not parse config file, using defaults", "path", path, "error", err)
		}
	}
	return b
}

func (b *fileBackend) Location() string { return b.path }

// save must be called with mu held.
func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	raw, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch v := b.data[key].(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	default:
		return "", true, fmt.Errorf("unsupported value %v for %s", v, key)
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch v := b.data[key].(type) {
	case nil:
		return 0, false, nil
	case float64:
		if v < math.MinInt || v > math.MaxInt || v != math.Trunc(v) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer or is out of range", v, key)
		}
		return int(v), true, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return n, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type for %s", key)
	}
}

func (b *fileBackend) set(key string, val any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = val
	return b.save()
}

func (b *fileBackend) SetString(key, val string) error { return b.set(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.set(key, val) }

func (b *fileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; !ok {
		return nil
	}
	delete(b.data, key)
	return b.save()
}
