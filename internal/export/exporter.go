// Package export bundles idea folders into zip archives reachable through
// random, time-limited download tokens.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/v2v/internal/result"
	"github.com/kalambet/v2v/internal/security"
)

const (
	DefaultTTL = 30 * time.Minute

	lookupNameLength = 255
	tokenPreview     = 16
)

// Link is one outstanding download.
type Link struct {
	Token         string    `json:"token"`
	ArchivePath   string    `json:"archive_path"`
	ArchiveName   string    `json:"archive_name"`
	FolderName    string    `json:"folder_name"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Files         []string  `json:"files"`
	SizeBytes     int64     `json:"size_bytes"`
	Checksum      string    `json:"sha256"`
	DownloadCount int       `json:"download_count"`
	LastDownload  time.Time `json:"last_download,omitzero"`
}

// Package is returned to the requester of an export.
type Package struct {
	Token     string    `json:"token"`
	URL       string    `json:"download_url"`
	ExpiresAt time.Time `json:"expires_at"`
	FileCount int       `json:"file_count"`
	SizeBytes int64     `json:"size_bytes"`
	Files     []string  `json:"files"`
	Checksum  string    `json:"sha256"`
}

// Options configures an Exporter. Zero values select defaults.
type Options struct {
	IdeasDir     string
	DownloadsDir string
	TTL          time.Duration
	Access       *security.Access
	Now          func() time.Time
}

// Exporter owns the link registry. All methods are safe for concurrent use.
type Exporter struct {
	ideas     *security.Confiner
	downloads *security.Confiner
	ttl       time.Duration
	access    *security.Access
	now       func() time.Time

	mu    sync.Mutex
	links map[string]*Link
}

// New creates the downloads directory if needed and loads the persisted
// registry, dropping links that expired while the process was down.
func New(opts Options) (*Exporter, error) {
	if opts.IdeasDir == "" || opts.DownloadsDir == "" {
		return nil, fmt.Errorf("export: ideas and downloads directories are required")
	}
	if err := os.MkdirAll(opts.DownloadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating downloads directory: %w", err)
	}
	ideas, err := security.NewConfiner(opts.IdeasDir)
	if err != nil {
		return nil, fmt.Errorf("resolving ideas directory: %w", err)
	}
	downloads, err := security.NewConfiner(opts.DownloadsDir)
	if err != nil {
		return nil, fmt.Errorf("resolving downloads directory: %w", err)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Exporter{
		ideas:     ideas,
		downloads: downloads,
		ttl:       opts.TTL,
		access:    opts.Access,
		now:       opts.Now,
		links:     make(map[string]*Link),
	}
	e.load()
	return e, nil
}

// TTL returns how long new links stay valid.
func (e *Exporter) TTL() time.Duration {
	return e.ttl
}

// Export archives files from the idea folder (all non-hidden regular files
// when files is empty) and registers a download link for requester.
// Requested names that do not resolve to a file inside the folder are skipped.
func (e *Exporter) Export(ctx context.Context, folder, requester string, files []string) (Package, error) {
	if !e.access.Authorize(requester).CanRead {
		return Package{}, result.Errorf(result.KindUnauthorized, "caller %q is not authorized", requester)
	}

	name := security.SanitizeName(folder, lookupNameLength)
	dir, err := e.ideas.ConfineChild(name)
	if err != nil {
		return Package{}, err
	}
	if !security.DirExists(dir) {
		return Package{}, result.Errorf(result.KindNotFound, "idea %q does not exist", name)
	}

	paths, err := selectFiles(dir, files)
	if err != nil {
		return Package{}, err
	}
	if len(paths) == 0 {
		return Package{}, result.Errorf(result.KindInvalidInput, "no files available to export from %q", name)
	}

	token, err := security.NewToken()
	if err != nil {
		return Package{}, result.Wrap(result.KindInternal, err, "generating token")
	}
	now := e.now()
	archiveName := fmt.Sprintf("%s_%s_%s.zip", name, now.Format("20060102_150405"), token[:8])
	archivePath := filepath.Join(e.downloads.Base(), archiveName)

	size, err := writeArchive(ctx, archivePath, name, paths)
	if err != nil {
		os.Remove(archivePath)
		return Package{}, result.Wrap(result.KindFilesystem, err, "creating archive for %q", name)
	}
	sum, err := security.HashFile(archivePath)
	if err != nil {
		os.Remove(archivePath)
		return Package{}, result.Wrap(result.KindFilesystem, err, "hashing archive")
	}

	included := make([]string, len(paths))
	for i, p := range paths {
		included[i] = filepath.Base(p)
	}
	link := &Link{
		Token:       token,
		ArchivePath: archivePath,
		ArchiveName: archiveName,
		FolderName:  name,
		CreatedBy:   requester,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.ttl),
		Files:       included,
		SizeBytes:   size,
		Checksum:    sum,
	}

	e.mu.Lock()
	e.links[token] = link
	e.saveLocked()
	e.mu.Unlock()

	slog.Info("export created", "folder", name, "caller", requester, "files", len(included), "bytes", size)
	return Package{
		Token:     token,
		URL:       "/downloads/" + token,
		ExpiresAt: link.ExpiresAt,
		FileCount: len(included),
		SizeBytes: size,
		Files:     included,
		Checksum:  sum,
	}, nil
}

func selectFiles(dir string, requested []string) ([]string, error) {
	if len(requested) == 0 {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, result.Wrap(result.KindFilesystem, err, "listing %s", filepath.Base(dir))
		}
		var paths []string
		for _, entry := range entries {
			if entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".") {
				paths = append(paths, filepath.Join(dir, entry.Name()))
			}
		}
		return paths, nil
	}

	folder, err := security.NewConfiner(dir)
	if err != nil {
		return nil, result.Wrap(result.KindFilesystem, err, "resolving %s", filepath.Base(dir))
	}
	seen := make(map[string]bool)
	var paths []string
	for _, raw := range requested {
		p, err := folder.ConfineChild(security.SanitizeName(raw, lookupNameLength))
		if err != nil {
			slog.Warn("skipping export file", "file", raw, "error", err)
			continue
		}
		info, err := os.Lstat(p)
		if err != nil || !info.Mode().IsRegular() || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	return paths, nil
}

// Resolve returns the link for token. Expired links are swept first; a link
// whose archive has disappeared is evicted and reported as not found.
func (e *Exporter) Resolve(token string) (Link, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	link, ok := e.links[token]
	expired := ok && now.After(link.ExpiresAt)
	if n := e.sweepLocked(now); n > 0 {
		e.saveLocked()
	}
	if expired {
		return Link{}, result.Errorf(result.KindExpired, "download link has expired")
	}
	if !ok {
		return Link{}, result.Errorf(result.KindNotFound, "download link not found or expired")
	}

	if _, err := os.Stat(link.ArchivePath); err != nil {
		delete(e.links, token)
		e.saveLocked()
		slog.Warn("archive missing, link evicted", "token", preview(token), "archive", link.ArchiveName)
		return Link{}, result.Errorf(result.KindNotFound, "archive for download link is missing")
	}
	return *link, nil
}

// RecordDownload counts a completed download of token.
func (e *Exporter) RecordDownload(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	link, ok := e.links[token]
	if !ok {
		return
	}
	link.DownloadCount++
	link.LastDownload = e.now()
	e.saveLocked()
}

// Revoke deletes the link and its archive. Only the link's creator or an
// admin may revoke it.
func (e *Exporter) Revoke(token, requester string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	link, ok := e.links[token]
	if !ok {
		return result.Errorf(result.KindNotFound, "download link not found")
	}
	if link.CreatedBy != requester && !e.access.IsAdmin(requester) {
		return result.Errorf(result.KindForbidden, "only the creator or an admin may revoke this link")
	}

	e.removeArchive(link.ArchivePath)
	delete(e.links, token)
	e.saveLocked()
	slog.Info("export revoked", "token", preview(token), "folder", link.FolderName, "caller", requester)
	return nil
}

// Sweep evicts every expired link and returns how many were removed.
func (e *Exporter) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.sweepLocked(e.now())
	if n > 0 {
		e.saveLocked()
	}
	return n
}

// sweepLocked removes expired links. The archive is deleted on a best-effort
// basis; the entry is dropped regardless.
func (e *Exporter) sweepLocked(now time.Time) int {
	n := 0
	for token, link := range e.links {
		if !now.After(link.ExpiresAt) {
			continue
		}
		e.removeArchive(link.ArchivePath)
		delete(e.links, token)
		slog.Info("expired link removed", "token", preview(token))
		n++
	}
	return n
}

func (e *Exporter) removeArchive(path string) {
	p, err := e.downloads.ConfineChild(path)
	if err != nil {
		slog.Error("refusing to delete archive", "path", path, "error", err)
		return
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("deleting archive", "path", p, "error", err)
	}
}

// LinkSummary is a link as shown to its owner. The token is truncated.
type LinkSummary struct {
	Token         string    `json:"token"`
	FolderName    string    `json:"folder_name"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresIn     int       `json:"expires_in_minutes"`
	FileCount     int       `json:"file_count"`
	SizeMB        float64   `json:"size_mb"`
	DownloadCount int       `json:"download_count"`
}

// UserLinks lists the live links created by user, newest first.
func (e *Exporter) UserLinks(user string) []LinkSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	out := []LinkSummary{}
	for token, link := range e.links {
		if link.CreatedBy != user || now.After(link.ExpiresAt) {
			continue
		}
		out = append(out, LinkSummary{
			Token:         preview(token),
			FolderName:    link.FolderName,
			CreatedAt:     link.CreatedAt,
			ExpiresIn:     int(link.ExpiresAt.Sub(now).Minutes()),
			FileCount:     len(link.Files),
			SizeMB:        megabytes(link.SizeBytes),
			DownloadCount: link.DownloadCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Stats summarizes the registry.
type Stats struct {
	ActiveLinks int     `json:"active_links"`
	TotalSizeMB float64 `json:"total_size_mb"`
	Downloaded  int     `json:"downloaded_count"`
	Pending     int     `json:"pending_count"`
	TTLMinutes  int     `json:"expiry_minutes"`
}

// Stats reports counts over the links currently held.
func (e *Exporter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Stats{ActiveLinks: len(e.links), TTLMinutes: int(e.ttl.Minutes())}
	var total int64
	for _, link := range e.links {
		total += link.SizeBytes
		if link.DownloadCount > 0 {
			st.Downloaded++
		}
	}
	st.TotalSizeMB = megabytes(total)
	st.Pending = st.ActiveLinks - st.Downloaded
	return st
}

func preview(token string) string {
	if len(token) <= tokenPreview {
		return token
	}
	return token[:tokenPreview] + "..."
}

func megabytes(n int64) float64 {
	return float64(n) / (1024 * 1024)
}
