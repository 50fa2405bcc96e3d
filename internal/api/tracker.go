// Package api exposes a small local HTTP surface for monitoring a pipeline
// run in progress and browsing past runs.
package api

import (
	"sync"
	"time"

	"github.com/vidsift/vidsift/internal/pipeline"
)

// JobState is the externally visible progress of one job.
type JobState struct {
	JobID       string `json:"job_id"`
	DisplayName string `json:"display_name"`
	Stage       string `json:"stage"`
	Done        bool   `json:"done"`
	Failed      bool   `json:"failed"`
}

// RunStatus is the snapshot served by the status endpoint.
type RunStatus struct {
	State     string     `json:"state"` // idle, running, done
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
	Running   []JobState `json:"running"`
	StartedAt time.Time  `json:"started_at,omitempty"`
}

// Tracker aggregates orchestrator progress events for the status API.
// Safe for concurrent use: workers write, HTTP handlers read.
type Tracker struct {
	mu        sync.Mutex
	total     int
	startedAt time.Time
	jobs      map[string]*JobState
	report    *pipeline.Report
}

func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*JobState)}
}

// StartRun resets the tracker for a run over total jobs.
func (t *Tracker) StartRun(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
	t.startedAt = time.Now().UTC()
	t.jobs = make(map[string]*JobState, total)
	t.report = nil
}

// Update consumes one orchestrator progress event. Its signature matches
// pipeline.Deps.OnUpdate.
func (t *Tracker) Update(u pipeline.Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[u.JobID] = &JobState{
		JobID:       u.JobID,
		DisplayName: u.DisplayName,
		Stage:       string(u.Stage),
		Done:        u.Done,
		Failed:      u.Failed,
	}
}

// SetReport records the final report once the run completes.
func (t *Tracker) SetReport(r *pipeline.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report = r
}

// Report returns the final report, or nil while the run is in flight.
func (t *Tracker) Report() *pipeline.Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report
}

// Snapshot returns the current run status.
func (t *Tracker) Snapshot() RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := RunStatus{
		State:     "idle",
		Total:     t.total,
		Running:   []JobState{},
		StartedAt: t.startedAt,
	}
	if t.total > 0 {
		status.State = "running"
	}

	for _, j := range t.jobs {
		switch {
		case j.Done && j.Failed:
			status.Failed++
			status.Completed++
		case j.Done:
			status.Completed++
		default:
			status.Running = append(status.Running, *j)
		}
	}

	if t.report != nil {
		status.State = "done"
	}
	return status
}
