package intake

import (
	"time"

	"github.com/kalambet/v2v/internal/ideas"
)

// State is the position of a job in the processing state machine.
type State string

const (
	StateQueued       State = "queued"
	StateValidating   State = "validating"
	StateTranscoding  State = "transcoding"
	StateTranscribing State = "transcribing"
	StateAnalyzing    State = "analyzing"
	StatePersisting   State = "persisting"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Stage names the step a failed job stopped at.
type Stage string

const (
	StageValidation    Stage = "validation"
	StageTranscoding   Stage = "transcoding"
	StageTranscription Stage = "transcription"
	StageAnalysis      Stage = "analysis"
	StagePersistence   Stage = "persistence"
	StageInternal      Stage = "internal"
)

// Job is one submitted voice memo. AudioPath is a temporary upload owned by
// the pipeline from Submit on; it is deleted when the job ends.
type Job struct {
	ID          string
	CallerID    string
	DisplayName string
	AudioPath   string
	Filename    string
	SubmittedAt time.Time
	Notify      func(Outcome)
}

// Outcome is the terminal result of a job, delivered to Job.Notify.
type Outcome struct {
	JobID    string `json:"job_id"`
	CallerID string `json:"caller_id"`
	State    State  `json:"state"`

	// Set when State is StateFailed.
	Stage         Stage  `json:"stage,omitempty"`
	Error         string `json:"error,omitempty"`
	AnalysisStage string `json:"analysis_stage,omitempty"`

	// Idea is set on success, and on persistence failures that left a
	// folder on disk.
	Idea      *ideas.Created `json:"idea,omitempty"`
	Title     string         `json:"title,omitempty"`
	Category  string         `json:"category,omitempty"`
	Viability int            `json:"viability,omitempty"`
	Language  string         `json:"language,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

// Succeeded reports whether the job produced an idea.
func (o Outcome) Succeeded() bool {
	return o.State == StateDone
}
