// Package ideas owns the on-disk representation of ideas: one folder per
// idea holding the transcript, the analysis, a summary, a metadata document
// and the original audio, kept in sync with the metadata store.
package ideas

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kalambet/v2v/internal/analysis"
	"github.com/kalambet/v2v/internal/result"
	"github.com/kalambet/v2v/internal/security"
	"github.com/kalambet/v2v/internal/storage"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 5 * time.Minute

	// lookupNameLength bounds names of existing folders, which may carry a
	// version suffix beyond the configured maximum.
	lookupNameLength = 255

	maxReserveAttempts = 16
)

// Store is the subset of the metadata store the repository writes through.
type Store interface {
	InsertIdea(i storage.Idea) (string, error)
	RecordFile(ideaID string, f storage.FileRecord) error
	FindIdeaByFolder(folder string) (storage.Idea, error)
	RenameIdea(id, newFolder, newPath, newTitle string) error
	DeleteIdea(id string) error
	ListIdeas(limit, offset int) ([]storage.Idea, error)
	ListVersions(ideaID string) ([]storage.Version, error)
	LogOperation(userID, action, target string, details map[string]any) error
}

// Config configures a Repository. Zero values select defaults.
type Config struct {
	BaseDir       string
	MaxNameLength int
	CacheSize     int
	CacheTTL      time.Duration
}

// Repository creates, renames, deletes and describes idea folders.
type Repository struct {
	store    Store
	access   *security.Access
	confiner *security.Confiner
	maxLen   int
	cache    *expirable.LRU[string, Info]
	now      func() time.Time
}

// New creates the base directory if needed and returns a Repository rooted there.
func New(store Store, access *security.Access, cfg Config) (*Repository, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("ideas: base directory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ideas directory: %w", err)
	}
	confiner, err := security.NewConfiner(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving ideas directory: %w", err)
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = security.DefaultMaxNameLength
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Repository{
		store:    store,
		access:   access,
		confiner: confiner,
		maxLen:   cfg.MaxNameLength,
		cache:    expirable.NewLRU[string, Info](cfg.CacheSize, nil, cfg.CacheTTL),
		now:      time.Now,
	}, nil
}

// BaseDir returns the resolved directory holding all idea folders.
func (r *Repository) BaseDir() string {
	return r.confiner.Base()
}

// CreateRequest carries everything needed to persist a processed memo.
type CreateRequest struct {
	Title         string // defaults to Analysis.Title
	Analysis      analysis.Analysis
	Transcript    string
	Language      string
	AudioPath     string // copied, never moved
	AudioDuration float64
	CreatorID     string
}

// Created describes a newly persisted idea.
type Created struct {
	ID         string   `json:"id"`
	FolderName string   `json:"folder_name"`
	Path       string   `json:"path"`
	Files      []string `json:"files"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Create writes a new idea folder and registers it with the store. A folder
// written to disk but not registered is reported as KindPersistence; the
// folder is left in place for reconciliation and its path is in Created.
func (r *Repository) Create(ctx context.Context, req CreateRequest) (Created, error) {
	title := req.Title
	if title == "" {
		title = req.Analysis.Title
	}
	folder, dir, err := r.reserveFolder(security.SanitizeName(title, r.maxLen))
	if err != nil {
		return Created{}, err
	}

	created := Created{ID: uuid.New().String(), FolderName: folder, Path: dir}
	now := r.now().UTC()

	files, warnings, err := r.writeArtifacts(dir, created.ID, folder, title, now, req)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			slog.Error("removing partial idea folder", "folder", folder, "error", rmErr)
		}
		return Created{}, result.Wrap(result.KindFilesystem, err, "writing idea %s", folder)
	}
	created.Files = files
	created.Warnings = warnings

	if err := r.register(created, title, now, req); err != nil {
		slog.Error("idea created on disk but not registered", "folder", folder, "path", dir, "error", err)
		return created, result.Wrap(result.KindPersistence, err, "idea %s was written to %s but could not be registered", folder, dir)
	}

	r.logOperation(req.CreatorID, "create", folder, map[string]any{"id": created.ID, "files": len(files)})
	slog.Info("idea created", "folder", folder, "id", created.ID, "creator", req.CreatorID)
	return created, nil
}

// reserveFolder claims a free folder name derived from base with an
// exclusive mkdir, so concurrent creations never share a folder.
func (r *Repository) reserveFolder(base string) (string, string, error) {
	claimed := make(map[string]bool)
	exists := func(name string) bool {
		if claimed[name] {
			return true
		}
		if _, err := os.Lstat(filepath.Join(r.confiner.Base(), name)); err == nil {
			return true
		}
		_, err := r.store.FindIdeaByFolder(name)
		return err == nil
	}

	for range maxReserveAttempts {
		name := security.VersionName(base, exists)
		dir, err := r.confiner.ConfineChild(name)
		if err != nil {
			return "", "", err
		}
		err = os.Mkdir(dir, 0o755)
		if err == nil {
			return name, dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", result.Wrap(result.KindFilesystem, err, "creating folder %s", name)
		}
		claimed[name] = true
	}
	return "", "", result.Errorf(result.KindConflict, "no free folder name for %s", base)
}

func (r *Repository) register(c Created, title string, now time.Time, req CreateRequest) error {
	analysisJSON, err := encodeAnalysis(req.Analysis)
	if err != nil {
		return err
	}
	if _, err := r.store.InsertIdea(storage.Idea{
		ID:         c.ID,
		FolderName: c.FolderName,
		Title:      title,
		Path:       c.Path,
		CreatedAt:  now,
		UpdatedAt:  now,
		CreatorID:  req.CreatorID,
		Category:   string(req.Analysis.Category),
		Maturity:   string(req.Analysis.Maturity),
		Viability:  req.Analysis.Viability,
		Tags:       req.Analysis.Tags,
		Summary:    req.Analysis.Summary,
		Analysis:   analysisJSON,
	}); err != nil {
		return err
	}

	for _, name := range c.Files {
		info, err := os.Stat(filepath.Join(c.Path, name))
		if err != nil {
			return fmt.Errorf("stat %s: %w", name, err)
		}
		if err := r.store.RecordFile(c.ID, storage.FileRecord{
			Name:         name,
			RelativePath: name,
			SizeKB:       float64(info.Size()) / 1024,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Renamed describes the outcome of a rename.
type Renamed struct {
	OldFolder string   `json:"old_folder"`
	NewFolder string   `json:"new_folder"`
	Path      string   `json:"path"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Rename moves an idea folder to a name derived from newTitle. Only admins
// may rename. A destination collision is resolved by versioning. If the store
// cannot be updated after the move the error is KindPersistence and the
// folder stays at its new location.
func (r *Repository) Rename(ctx context.Context, folder, newTitle, requester string) (Renamed, error) {
	if err := r.requireAdmin(requester, "rename"); err != nil {
		return Renamed{}, err
	}

	oldName := security.SanitizeName(folder, lookupNameLength)
	oldDir, err := r.confiner.ConfineChild(oldName)
	if err != nil {
		return Renamed{}, err
	}
	if !security.DirExists(oldDir) {
		return Renamed{}, result.Errorf(result.KindNotFound, "idea %q not found", oldName)
	}

	base := security.SanitizeName(newTitle, r.maxLen)
	if base == oldName {
		return Renamed{}, result.Errorf(result.KindInvalidInput, "idea is already named %q", oldName)
	}
	newName := security.VersionName(base, func(name string) bool {
		_, err := os.Lstat(filepath.Join(r.confiner.Base(), name))
		return err == nil
	})
	newDir, err := r.confiner.ConfineChild(newName)
	if err != nil {
		return Renamed{}, err
	}

	record, lookupErr := r.store.FindIdeaByFolder(oldName)
	if lookupErr != nil && !errors.Is(lookupErr, storage.ErrNotFound) {
		return Renamed{}, result.Wrap(result.KindPersistence, lookupErr, "looking up idea %s", oldName)
	}

	if err := os.Rename(oldDir, newDir); err != nil {
		return Renamed{}, result.Wrap(result.KindFilesystem, err, "moving %s to %s", oldName, newName)
	}
	r.invalidate(oldName, newName)

	out := Renamed{OldFolder: oldName, NewFolder: newName, Path: newDir}
	if lookupErr == nil {
		if err := r.store.RenameIdea(record.ID, newName, newDir, newTitle); err != nil {
			slog.Error("folder renamed but store not updated", "old", oldName, "new", newName, "error", err)
			return out, result.Wrap(result.KindPersistence, err, "folder moved to %s but the index still points at %s", newName, oldName)
		}
	} else {
		out.Warnings = append(out.Warnings, "idea was not indexed; only the folder was renamed")
	}

	if err := patchMetadata(newDir, newName, newTitle, r.now().UTC()); err != nil {
		slog.Warn("updating metadata after rename", "folder", newName, "error", err)
		out.Warnings = append(out.Warnings, "metadata.json could not be updated")
	}

	r.logOperation(requester, "rename", oldName, map[string]any{"new_folder": newName})
	slog.Info("idea renamed", "old", oldName, "new", newName, "by", requester)
	return out, nil
}

// Deleted describes a removed idea.
type Deleted struct {
	FolderName string `json:"folder_name"`
	Path       string `json:"path"`
	Indexed    bool   `json:"indexed"`
}

// Delete removes an idea folder and its store rows. Only admins may delete.
// The store is consulted before anything is removed; a store failure aborts.
func (r *Repository) Delete(ctx context.Context, folder, requester string) (Deleted, error) {
	if err := r.requireAdmin(requester, "delete"); err != nil {
		return Deleted{}, err
	}

	name := security.SanitizeName(folder, lookupNameLength)
	dir, err := r.confiner.ConfineChild(name)
	if err != nil {
		return Deleted{}, err
	}
	if !security.DirExists(dir) {
		return Deleted{}, result.Errorf(result.KindNotFound, "idea %q not found", name)
	}

	record, err := r.store.FindIdeaByFolder(name)
	indexed := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Deleted{}, result.Wrap(result.KindPersistence, err, "looking up idea %s", name)
	}

	// Re-check right before removal: the entry must still be a real
	// directory inside the base, not a symlink swapped in meanwhile.
	link := filepath.Join(r.confiner.Base(), name)
	if info, err := os.Lstat(link); err != nil || info.Mode()&fs.ModeSymlink != 0 || !info.IsDir() {
		return Deleted{}, result.Errorf(result.KindUnsafePath, "idea %q is not a regular folder", name)
	}
	if dir, err = r.confiner.ConfineChild(name); err != nil {
		return Deleted{}, err
	}

	if err := os.RemoveAll(dir); err != nil {
		return Deleted{}, result.Wrap(result.KindFilesystem, err, "removing %s", name)
	}
	r.invalidate(name)

	if indexed {
		if err := r.store.DeleteIdea(record.ID); err != nil {
			slog.Error("folder removed but store row kept", "folder", name, "id", record.ID, "error", err)
			return Deleted{FolderName: name, Path: dir, Indexed: true}, result.Wrap(result.KindPersistence, err, "folder %s removed but its index entry remains", name)
		}
	} else {
		slog.Warn("deleted folder had no store row", "folder", name)
	}

	r.logOperation(requester, "delete", name, map[string]any{"indexed": indexed})
	slog.Info("idea deleted", "folder", name, "by", requester)
	return Deleted{FolderName: name, Path: dir, Indexed: indexed}, nil
}

// List returns stored ideas newest first.
func (r *Repository) List(limit, offset int) ([]storage.Idea, error) {
	ideas, err := r.store.ListIdeas(limit, offset)
	if err != nil {
		return nil, result.Wrap(result.KindPersistence, err, "listing ideas")
	}
	return ideas, nil
}

func (r *Repository) requireAdmin(requester, op string) error {
	p := r.access.Authorize(requester)
	if !p.Authenticated {
		return result.Errorf(result.KindUnauthorized, "caller %q is not authorized", requester)
	}
	if (op == "rename" && !p.CanRename) || (op == "delete" && !p.CanDelete) {
		return result.Errorf(result.KindForbidden, "only administrators may %s ideas", op)
	}
	return nil
}

func (r *Repository) invalidate(folders ...string) {
	for _, f := range folders {
		r.cache.Remove(f)
	}
}

func (r *Repository) logOperation(user, action, target string, details map[string]any) {
	if err := r.store.LogOperation(user, action, target, details); err != nil {
		slog.Warn("recording operation", "action", action, "target", target, "error", err)
	}
}
