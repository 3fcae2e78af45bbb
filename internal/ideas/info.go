package ideas

import (
	"errors"
	"os"
	"sort"
	"time"

	"github.com/kalambet/v2v/internal/result"
	"github.com/kalambet/v2v/internal/security"
	"github.com/kalambet/v2v/internal/storage"
)

// FileInfo is one entry of an idea folder listing.
type FileInfo struct {
	Name     string    `json:"name"`
	SizeKB   float64   `json:"size_kb"`
	Modified time.Time `json:"modified"`
}

// Info aggregates what is known about an idea: its metadata document, the
// folder contents, the store row and its previous names. Metadata and Record
// are nil when unavailable.
type Info struct {
	FolderName string            `json:"folder_name"`
	Path       string            `json:"path"`
	Metadata   *Metadata         `json:"metadata,omitempty"`
	Files      []FileInfo        `json:"files"`
	Record     *storage.Idea     `json:"record,omitempty"`
	History    []storage.Version `json:"history,omitempty"`
}

// GetInfo describes the idea stored in folder. Results are cached briefly;
// rename and delete invalidate the affected entries.
func (r *Repository) GetInfo(folder string) (Info, error) {
	name := security.SanitizeName(folder, lookupNameLength)
	if info, ok := r.cache.Get(name); ok {
		return info, nil
	}

	dir, err := r.confiner.ConfineChild(name)
	if err != nil {
		return Info{}, err
	}
	if !security.DirExists(dir) {
		return Info{}, result.Errorf(result.KindNotFound, "idea %q not found", name)
	}

	info := Info{FolderName: name, Path: dir, Files: []FileInfo{}}
	if meta, err := readMetadata(dir); err == nil {
		info.Metadata = meta
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Info{}, result.Wrap(result.KindFilesystem, err, "listing %s", name)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info.Files = append(info.Files, FileInfo{
			Name:     e.Name(),
			SizeKB:   float64(fi.Size()) / 1024,
			Modified: fi.ModTime().UTC(),
		})
	}
	sort.Slice(info.Files, func(i, j int) bool { return info.Files[i].Name < info.Files[j].Name })

	record, err := r.store.FindIdeaByFolder(name)
	switch {
	case err == nil:
		info.Record = &record
		if info.History, err = r.store.ListVersions(record.ID); err != nil {
			return Info{}, result.Wrap(result.KindPersistence, err, "reading history of %s", name)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return Info{}, result.Wrap(result.KindPersistence, err, "looking up idea %s", name)
	}

	r.cache.Add(name, info)
	return info, nil
}
