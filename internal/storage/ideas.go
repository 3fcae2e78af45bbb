package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const ideaColumns = `id, folder_name, title, path, created_at, updated_at, creator_id, version,
	category, maturity, viability, tags, summary, total_size_kb, file_count, analysis`

// immutableFields are silently dropped from UpdateIdea change sets.
var immutableFields = map[string]bool{
	"id":         true,
	"creator_id": true,
	"created_at": true,
}

// updatableFields maps accepted UpdateIdea keys to their columns. Folder name,
// path and version only change through RenameIdea.
var updatableFields = map[string]string{
	"title":         "title",
	"category":      "category",
	"maturity":      "maturity",
	"viability":     "viability",
	"tags":          "tags",
	"summary":       "summary",
	"analysis":      "analysis",
	"total_size_kb": "total_size_kb",
	"file_count":    "file_count",
}

// InsertIdea stores a new idea and returns its id. An empty ID is replaced by
// a fresh UUID; zero timestamps default to now and a zero version to 1.
func (s *Store) InsertIdea(i Idea) (string, error) {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	now := s.now()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = i.CreatedAt
	}
	if i.Version == 0 {
		i.Version = 1
	}
	if i.Analysis == "" {
		i.Analysis = "{}"
	}
	tags, err := encodeTags(i.Tags)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(`
		INSERT INTO ideas (`+ideaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.FolderName, i.Title, i.Path, formatTime(i.CreatedAt), formatTime(i.UpdatedAt),
		i.CreatorID, i.Version, i.Category, i.Maturity, i.Viability, tags, i.Summary,
		i.TotalSizeKB, i.FileCount, i.Analysis,
	)
	if err != nil {
		return "", fmt.Errorf("inserting idea %s: %w", i.FolderName, err)
	}
	return i.ID, nil
}

// FindIdea returns the idea with the given id.
func (s *Store) FindIdea(id string) (Idea, error) {
	return scanIdea(s.db.QueryRow(`SELECT `+ideaColumns+` FROM ideas WHERE id = ?`, id))
}

// FindIdeaByFolder returns the idea stored under folder name.
func (s *Store) FindIdeaByFolder(folder string) (Idea, error) {
	return scanIdea(s.db.QueryRow(`SELECT `+ideaColumns+` FROM ideas WHERE folder_name = ?`, folder))
}

// SearchIdeas returns ideas matching f, newest first. Text matches
// case-insensitively anywhere in title, summary or folder name; tags match if
// the idea carries any of the requested tags.
func (s *Store) SearchIdeas(f SearchFilter) ([]Idea, error) {
	var (
		where []string
		args  []any
	)
	if f.Text != "" {
		pattern := "%" + escapeLike(f.Text) + "%"
		where = append(where, `(title LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\' OR folder_name LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Maturity != "" {
		where = append(where, "maturity = ?")
		args = append(args, f.Maturity)
	}
	if f.Creator != "" {
		where = append(where, "creator_id = ?")
		args = append(args, f.Creator)
	}
	if len(f.Tags) > 0 {
		placeholders := make([]string, len(f.Tags))
		for i, tag := range f.Tags {
			placeholders[i] = "?"
			args = append(args, strings.ToLower(tag))
		}
		where = append(where, `EXISTS (SELECT 1 FROM json_each(ideas.tags) WHERE lower(json_each.value) IN (`+strings.Join(placeholders, ", ")+`))`)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.Since))
	}

	query := `SELECT ` + ideaColumns + ` FROM ideas`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limitArg(f.Limit))

	return s.queryIdeas(query, args...)
}

// ListIdeas returns ideas newest first. limit <= 0 means no limit.
func (s *Store) ListIdeas(limit, offset int) ([]Idea, error) {
	return s.queryIdeas(`SELECT `+ideaColumns+` FROM ideas
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limitArg(limit), max(offset, 0))
}

// UpdateIdea applies changes to the idea with the given id. Immutable fields
// (id, creator_id, created_at) are dropped silently; other unknown fields are
// rejected. updated_at is always refreshed. applied is false when nothing was
// left to change.
func (s *Store) UpdateIdea(id string, changes map[string]any) (applied bool, err error) {
	var (
		sets []string
		args []any
	)
	for key, value := range changes {
		if immutableFields[key] {
			continue
		}
		col, ok := updatableFields[key]
		if !ok {
			return false, fmt.Errorf("field %q cannot be updated", key)
		}
		v, err := columnValue(key, value)
		if err != nil {
			return false, err
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return false, nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.now()), id)

	res, err := s.db.Exec(`UPDATE ideas SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("updating idea %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return true, nil
}

// RenameIdea records the current folder as a Version and moves the idea to
// newFolder in a single transaction. newTitle is applied when non-empty.
func (s *Store) RenameIdea(id, newFolder, newPath, newTitle string) error {
	return s.inTx(func(tx *sql.Tx) error {
		var (
			version          int
			folder, path, mt string
		)
		err := tx.QueryRow(`SELECT version, folder_name, path, updated_at FROM ideas WHERE id = ?`, id).
			Scan(&version, &folder, &path, &mt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reading idea %s: %w", id, err)
		}

		if _, err := tx.Exec(`
			INSERT INTO idea_versions (idea_id, version, folder_name, path, created_at, reason)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, version, folder, path, mt, "renamed by user",
		); err != nil {
			return fmt.Errorf("recording version: %w", err)
		}

		now := formatTime(s.now())
		if newTitle != "" {
			_, err = tx.Exec(`UPDATE ideas SET folder_name = ?, path = ?, title = ?, version = version + 1, updated_at = ? WHERE id = ?`,
				newFolder, newPath, newTitle, now, id)
		} else {
			_, err = tx.Exec(`UPDATE ideas SET folder_name = ?, path = ?, version = version + 1, updated_at = ? WHERE id = ?`,
				newFolder, newPath, now, id)
		}
		if err != nil {
			return fmt.Errorf("renaming idea %s: %w", id, err)
		}
		return nil
	})
}

// DeleteIdea removes the idea together with its file records and versions.
func (s *Store) DeleteIdea(id string) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM idea_files WHERE idea_id = ?`, id); err != nil {
			return fmt.Errorf("deleting file records: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM idea_versions WHERE idea_id = ?`, id); err != nil {
			return fmt.Errorf("deleting versions: %w", err)
		}
		res, err := tx.Exec(`DELETE FROM ideas WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting idea: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// RecordFile adds a file record and bumps the idea's file count and total size.
// Kind defaults to the extension of Name without the dot.
func (s *Store) RecordFile(ideaID string, f FileRecord) error {
	if f.Kind == "" {
		f.Kind = fileKind(f.Name)
	}
	if f.RelativePath == "" {
		f.RelativePath = f.Name
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	return s.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE ideas SET file_count = file_count + 1, total_size_kb = total_size_kb + ? WHERE id = ?`,
			f.SizeKB, ideaID)
		if err != nil {
			return fmt.Errorf("updating counters: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(`
			INSERT INTO idea_files (idea_id, name, kind, relative_path, size_kb, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ideaID, f.Name, f.Kind, f.RelativePath, f.SizeKB, formatTime(f.CreatedAt),
		); err != nil {
			return fmt.Errorf("recording file %s: %w", f.Name, err)
		}
		return nil
	})
}

// ListFiles returns the file records of an idea in insertion order.
func (s *Store) ListFiles(ideaID string) ([]FileRecord, error) {
	rows, err := s.db.Query(`
		SELECT idea_id, name, kind, relative_path, size_kb, created_at
		FROM idea_files WHERE idea_id = ? ORDER BY id ASC`, ideaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		var f FileRecord
		var created string
		if err := rows.Scan(&f.IdeaID, &f.Name, &f.Kind, &f.RelativePath, &f.SizeKB, &created); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ListVersions returns the rename history of an idea, oldest first.
func (s *Store) ListVersions(ideaID string) ([]Version, error) {
	rows, err := s.db.Query(`
		SELECT idea_id, version, folder_name, path, created_at, reason
		FROM idea_versions WHERE idea_id = ? ORDER BY id ASC`, ideaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		var created string
		if err := rows.Scan(&v.IdeaID, &v.Version, &v.FolderName, &v.Path, &created, &v.Reason); err != nil {
			return nil, err
		}
		if v.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdea(row rowScanner) (Idea, error) {
	var (
		i                Idea
		created, updated string
		tags             string
	)
	err := row.Scan(&i.ID, &i.FolderName, &i.Title, &i.Path, &created, &updated, &i.CreatorID, &i.Version,
		&i.Category, &i.Maturity, &i.Viability, &tags, &i.Summary, &i.TotalSizeKB, &i.FileCount, &i.Analysis)
	if errors.Is(err, sql.ErrNoRows) {
		return Idea{}, ErrNotFound
	}
	if err != nil {
		return Idea{}, err
	}
	if i.CreatedAt, err = parseTime(created); err != nil {
		return Idea{}, err
	}
	if i.UpdatedAt, err = parseTime(updated); err != nil {
		return Idea{}, err
	}
	if err := json.Unmarshal([]byte(tags), &i.Tags); err != nil {
		return Idea{}, fmt.Errorf("decoding tags of %s: %w", i.ID, err)
	}
	return i, nil
}

func (s *Store) queryIdeas(query string, args ...any) ([]Idea, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ideas []Idea
	for rows.Next() {
		i, err := scanIdea(rows)
		if err != nil {
			return nil, err
		}
		ideas = append(ideas, i)
	}
	return ideas, rows.Err()
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(b), nil
}

// columnValue converts an UpdateIdea value to its stored form.
func columnValue(key string, value any) (any, error) {
	switch key {
	case "tags":
		switch v := value.(type) {
		case []string:
			return encodeTags(v)
		case string:
			return v, nil
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encoding tags: %w", err)
			}
			return string(b), nil
		}
	case "analysis":
		if v, ok := value.(string); ok {
			return v, nil
		}
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding analysis: %w", err)
		}
		return string(b), nil
	}
	return value, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func fileKind(name string) string {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return "unknown"
	}
	return strings.ToLower(ext)
}

// setClock pins the clock in tests.
func (s *Store) setClock(now func() time.Time) {
	s.now = now
}
