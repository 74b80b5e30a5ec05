// Package build defines index build job status and reporting.
package build

import "time"

// JobStatus is the lifecycle state of an index build job.
type JobStatus string

// Build job states.
const (
	StatusQueued   JobStatus = "queued"
	StatusIndexing JobStatus = "indexing"
	StatusReady    JobStatus = "ready"
	StatusError    JobStatus = "error"
)

// Terminal reports whether the job has finished, successfully or not.
func (s JobStatus) Terminal() bool { return s == StatusReady || s == StatusError }

// ItemFailure records one skipped patch during a build.
type ItemFailure struct {
	patchID uint32
	reason  string
}

// NewItemFailure creates a per-patch failure record.
func NewItemFailure(patchID uint32, reason string) ItemFailure {
	return ItemFailure{patchID: patchID, reason: reason}
}

// PatchID returns the failed patch id.
func (f ItemFailure) PatchID() uint32 { return f.patchID }

// Reason returns the failure description.
func (f ItemFailure) Reason() string { return f.reason }

// Report aggregates the counters of one index build. Per-item failures are
// skipped, counted, and listed; they never abort the build.
type Report struct {
	Sampled  int
	Encoded  int
	Indexed  int
	Skipped  int
	Failures []ItemFailure
}

// AddFailure records a skipped patch.
func (r *Report) AddFailure(patchID uint32, reason string) {
	r.Skipped++
	r.Failures = append(r.Failures, NewItemFailure(patchID, reason))
}

// Job is a pollable handle to one index build.
type Job struct {
	ID         string     `json:"id"`
	DatasetID  string     `json:"dataset_id"`
	Status     JobStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Report     *Report    `json:"-"`
}
