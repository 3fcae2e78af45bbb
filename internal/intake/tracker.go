package intake

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultStatusTTL is how long a job's status stays queryable.
const DefaultStatusTTL = time.Hour

// Status is the externally visible view of a job.
type Status struct {
	JobID       string    `json:"job_id"`
	CallerID    string    `json:"caller_id"`
	Filename    string    `json:"filename,omitempty"`
	State       State     `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Outcome     *Outcome  `json:"outcome,omitempty"`
}

// Tracker keeps recent job statuses in memory with a TTL.
type Tracker struct {
	c *cache.Cache
}

// NewTracker creates a Tracker whose entries expire after ttl.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &Tracker{c: cache.New(ttl, ttl/2)}
}

func (t *Tracker) set(s Status) {
	t.c.Set(s.JobID, s, cache.DefaultExpiration)
}

// Get returns the status of jobID.
func (t *Tracker) Get(jobID string) (Status, bool) {
	v, ok := t.c.Get(jobID)
	if !ok {
		return Status{}, false
	}
	return v.(Status), true
}
