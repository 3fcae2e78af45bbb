package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Idea is one row of the ideas table.
type Idea struct {
	ID          string    `json:"id"`
	FolderName  string    `json:"folder_name"`
	Title       string    `json:"title"`
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatorID   string    `json:"creator_id"`
	Version     int       `json:"version"`
	Category    string    `json:"category"`
	Maturity    string    `json:"maturity"`
	Viability   int       `json:"viability"`
	Tags        []string  `json:"tags"`
	Summary     string    `json:"summary"`
	TotalSizeKB float64   `json:"total_size_kb"`
	FileCount   int       `json:"file_count"`
	Analysis    string    `json:"analysis"` // JSON object stored as text
}

// Version is an append-only snapshot written when an idea is renamed.
type Version struct {
	IdeaID     string    `json:"idea_id"`
	Version    int       `json:"version"`
	FolderName string    `json:"folder_name"`
	Path       string    `json:"path"`
	CreatedAt  time.Time `json:"created_at"`
	Reason     string    `json:"reason"`
}

// FileRecord describes one artifact inside an idea folder.
type FileRecord struct {
	IdeaID       string    `json:"idea_id"`
	Name         string    `json:"name"`
	Kind         string    `json:"kind"`
	RelativePath string    `json:"relative_path"`
	SizeKB       float64   `json:"size_kb"`
	CreatedAt    time.Time `json:"created_at"`
}

// SearchFilter narrows SearchIdeas. Zero values mean "any".
type SearchFilter struct {
	Text     string
	Category string
	Maturity string
	Creator  string
	Tags     []string
	Since    time.Time
	Limit    int
}

// Stats aggregates the ideas table.
type Stats struct {
	Total           int            `json:"total_ideas"`
	ByCategory      map[string]int `json:"by_category"`
	ByMaturity      map[string]int `json:"by_maturity"`
	TotalSizeMB     float64        `json:"total_size_mb"`
	CreatedLastWeek int            `json:"created_last_7_days"`
}

// Operation is one entry of the audit log.
type Operation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Details   string    `json:"details"` // JSON object stored as text
	CreatedAt time.Time `json:"created_at"`
}
