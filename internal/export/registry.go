package export

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
)

const registryFile = ".links_registry.json"

func (e *Exporter) registryPath() string {
	return filepath.Join(e.downloads.Base(), registryFile)
}

// load restores the registry from disk. An unreadable registry is logged
// and replaced by an empty one.
func (e *Exporter) load() {
	data, err := os.ReadFile(e.registryPath())
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Error("reading link registry", "error", err)
		return
	}

	var links map[string]*Link
	if err := json.Unmarshal(data, &links); err != nil {
		slog.Error("decoding link registry", "error", err)
		return
	}
	now := e.now()
	for token, link := range links {
		if link == nil || now.After(link.ExpiresAt) {
			continue
		}
		e.links[token] = link
	}
	slog.Debug("link registry loaded", "links", len(e.links), "dropped", len(links)-len(e.links))
}

// saveLocked writes the registry through a temporary file so a crash never
// leaves a truncated registry behind. Failures are logged; the in-memory
// registry stays authoritative.
func (e *Exporter) saveLocked() {
	data, err := json.MarshalIndent(e.links, "", "  ")
	if err != nil {
		slog.Error("encoding link registry", "error", err)
		return
	}

	tmp, err := os.CreateTemp(e.downloads.Base(), registryFile+".*.tmp")
	if err != nil {
		slog.Error("saving link registry", "error", err)
		return
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		slog.Error("saving link registry", "error", errors.Join(werr, cerr))
		return
	}
	if err := os.Rename(tmp.Name(), e.registryPath()); err != nil {
		os.Remove(tmp.Name())
		slog.Error("saving link registry", "error", err)
	}
}
