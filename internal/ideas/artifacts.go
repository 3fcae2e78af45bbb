package ideas

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/v2v/internal/analysis"
)

// Artifact file names inside an idea folder.
const (
	TranscriptFile = "transcript.txt"
	AnalysisFile   = "analysis.json"
	SummaryFile    = "summary.txt"
	MetadataFile   = "metadata.json"

	audioBaseName = "audio_original"
)

// Metadata is the document stored as metadata.json.
type Metadata struct {
	System   SystemInfo        `json:"system"`
	Analysis analysis.Analysis `json:"analysis"`
	Stats    MetadataStats     `json:"stats"`
}

// SystemInfo identifies an idea independently of the store.
type SystemInfo struct {
	ID            string  `json:"id"`
	CreatedAt     string  `json:"created_at"`
	CreatorID     string  `json:"creator_id"`
	Version       int     `json:"version"`
	OriginalTitle string  `json:"original_title"`
	FolderName    string  `json:"folder_name"`
	Path          string  `json:"path"`
	Language      string  `json:"language,omitempty"`
	AudioSeconds  float64 `json:"audio_seconds,omitempty"`
}

// MetadataStats summarizes the folder contents.
type MetadataStats struct {
	TranscriptLength int    `json:"transcript_length"`
	FileCount        int    `json:"file_count"`
	UpdatedAt        string `json:"updated_at"`
}

// writeArtifacts writes the text artifacts, copies the audio and writes
// metadata.json last. A failed audio copy is reported as a warning.
func (r *Repository) writeArtifacts(dir, id, folder, title string, now time.Time, req CreateRequest) ([]string, []string, error) {
	var (
		files    []string
		warnings []string
	)
	stamp := now.Format(time.RFC3339)

	transcript := textDocument("VOICE MEMO TRANSCRIPT", req.Transcript, stamp)
	if err := writeFile(dir, TranscriptFile, []byte(transcript)); err != nil {
		return nil, nil, err
	}
	files = append(files, TranscriptFile)

	analysisJSON, err := json.MarshalIndent(req.Analysis, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding analysis: %w", err)
	}
	if err := writeFile(dir, AnalysisFile, analysisJSON); err != nil {
		return nil, nil, err
	}
	files = append(files, AnalysisFile)

	summary := textDocument("IDEA SUMMARY: "+title, req.Analysis.Summary, stamp)
	if err := writeFile(dir, SummaryFile, []byte(summary)); err != nil {
		return nil, nil, err
	}
	files = append(files, SummaryFile)

	if req.AudioPath != "" {
		name, err := copyAudio(dir, req.AudioPath)
		if err != nil {
			slog.Warn("copying source audio", "folder", folder, "error", err)
			warnings = append(warnings, "original audio could not be copied")
		} else {
			files = append(files, name)
		}
	}

	meta := Metadata{
		System: SystemInfo{
			ID:            id,
			CreatedAt:     stamp,
			CreatorID:     req.CreatorID,
			Version:       1,
			OriginalTitle: title,
			FolderName:    folder,
			Path:          dir,
			Language:      req.Language,
			AudioSeconds:  req.AudioDuration,
		},
		Analysis: req.Analysis,
		Stats: MetadataStats{
			TranscriptLength: len([]rune(req.Transcript)),
			FileCount:        len(files) + 1,
			UpdatedAt:        stamp,
		},
	}
	if err := writeJSON(filepath.Join(dir, MetadataFile), meta); err != nil {
		return nil, nil, err
	}
	files = append(files, MetadataFile)

	return files, warnings, nil
}

func textDocument(heading, body, stamp string) string {
	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\nGenerated: ")
	b.WriteString(stamp)
	b.WriteString("\n")
	return b.String()
}

func writeFile(dir, name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// copyAudio copies src into dir as audio_original<ext>, adding _1, _2, ...
// when the name is taken. It returns the name used.
func copyAudio(dir, src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	ext := strings.ToLower(filepath.Ext(src))
	name := audioBaseName + ext
	var out *os.File
	for i := 1; ; i++ {
		out, err = os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) || i > 100 {
			return "", err
		}
		name = fmt.Sprintf("%s_%d%s", audioBaseName, i, ext)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("copying audio: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("closing audio copy: %w", err)
	}
	return name, nil
}

// patchMetadata rewrites the identity fields of metadata.json after a rename.
func patchMetadata(dir, folder, title string, now time.Time) error {
	path := filepath.Join(dir, MetadataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("decoding metadata: %w", err)
	}

	meta.System.FolderName = folder
	meta.System.Path = dir
	meta.System.Version++
	if title != "" {
		meta.System.OriginalTitle = title
	}
	meta.Stats.UpdatedAt = now.Format(time.RFC3339)
	return writeJSON(path, meta)
}

func readMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func encodeAnalysis(a analysis.Analysis) (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encoding analysis: %w", err)
	}
	return string(b), nil
}
