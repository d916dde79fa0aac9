package pipeline

import (
	"errors"
	"sync"
	"time"
)

// State is a run's position in planning → {transcoding → verifying →
// delivering}* → completed | failed.
type State string

const (
	StatePlanning    State = "planning"
	StateTranscoding State = "transcoding"
	StateVerifying   State = "verifying"
	StateDelivering  State = "delivering"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// Run is a snapshot of one pipeline run.
type Run struct {
	ID          string     `json:"run_id"`
	Recipient   string     `json:"recipient"`
	Filename    string     `json:"file_name,omitempty"`
	SourcePath  string     `json:"-"`
	OutputDir   string     `json:"-"`
	State       State      `json:"state"`
	Parts       int        `json:"parts"`
	CurrentPart int        `json:"current_part,omitempty"`
	Delivered   int        `json:"delivered"`
	Regenerated int        `json:"regenerated"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Registry keeps run snapshots for status queries. Finished runs are retained
// until the registry is pruned.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run), now: time.Now}
}

func (r *Registry) add(run Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := run
	r.runs[run.ID] = &cp
}

func (r *Registry) update(id string, fn func(*Run)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return
	}
	fn(run)
	run.UpdatedAt = r.now().UTC()
	if run.State.Terminal() && run.FinishedAt == nil {
		at := run.UpdatedAt
		run.FinishedAt = &at
	}
}

// Get returns a copy of the run.
func (r *Registry) Get(id string) (Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return *run, nil
}

// Prune drops finished runs older than age and returns how many were removed.
func (r *Registry) Prune(age time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().UTC().Add(-age)
	removed := 0
	for id, run := range r.runs {
		if run.FinishedAt != nil && run.FinishedAt.Before(cutoff) {
			delete(r.runs, id)
			removed++
		}
	}
	return removed
}
