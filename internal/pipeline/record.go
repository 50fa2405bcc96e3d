// Package pipeline orchestrates the per-video stage sequence — download,
// probe, scene detection, AI description, tagging, classification, export —
// across a bounded worker pool with per-job fail isolation.
package pipeline

import (
	"fmt"
	"time"

	"github.com/vidsift/vidsift/internal/probe"
	"github.com/vidsift/vidsift/internal/source"
)

// Stage is one discrete processing step in a job's lifecycle.
type Stage string

const (
	StageDownload Stage = "download"
	StageProbe    Stage = "probe"
	StageScene    Stage = "scene_detect"
	StageAnalyze  Stage = "analyze"
	StageTag      Stage = "tag"
	StageClassify Stage = "classify"
	StageExport   Stage = "export"
)

// Kind categorizes a failure for reporting and retry decisions.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindMalformedInput Kind = "malformed_input"
	KindDownload       Kind = "download"
	KindProbe          Kind = "probe"
	KindSceneDetect    Kind = "scene_detect"
	KindAnalysis       Kind = "analysis"
	KindExport         Kind = "export"
	KindCancelled      Kind = "cancelled"
	KindTimeout        Kind = "timeout"
)

// Error is the structured failure attached to a record. Once set, the
// record is terminal and no further stage runs.
type Error struct {
	Stage   Stage  `json:"stage"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %s", e.Stage, e.Kind, e.Message)
}

// Record accumulates results for one job as it passes through the stages.
// Each record is exclusively owned by the worker processing its job.
type Record struct {
	Job          source.VideoJob `json:"job"`
	LocalPath    string          `json:"local_path,omitempty"`
	Metadata     *probe.Metadata `json:"metadata,omitempty"`
	Scenes       []float64       `json:"scenes"`
	Description  string          `json:"description,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Category     string          `json:"category,omitempty"`
	StageReached Stage           `json:"stage_reached,omitempty"`
	Attempts     map[Stage]int   `json:"attempts,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Err          *Error          `json:"error,omitempty"`
}

// NewRecord creates an empty record for the job.
func NewRecord(job source.VideoJob) *Record {
	return &Record{
		Job:       job,
		Attempts:  make(map[Stage]int),
		StartedAt: time.Now().UTC(),
	}
}

// Failed reports whether the record reached a terminal failure.
func (r *Record) Failed() bool { return r.Err != nil }

// fail marks the record terminal. The first failure wins; later calls are
// ignored so a failed record is never mutated again.
func (r *Record) fail(stage Stage, kind Kind, message string) {
	if r.Err != nil {
		return
	}
	r.Err = &Error{Stage: stage, Kind: kind, Message: message}
	r.FinishedAt = time.Now().UTC()
}

// Failure pairs a job with its terminal error in the run report.
type Failure struct {
	Job source.VideoJob `json:"job"`
	Err *Error          `json:"error"`
}

// Report is the aggregate outcome over all jobs in one invocation.
// Succeeded and Failed are in completion order; every input job appears in
// exactly one of the two, exactly once.
type Report struct {
	Succeeded []*Record `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// Total returns the number of jobs the report covers.
func (r *Report) Total() int { return len(r.Succeeded) + len(r.Failed) }

// AllSucceeded reports whether every job completed without error.
func (r *Report) AllSucceeded() bool { return len(r.Failed) == 0 }
