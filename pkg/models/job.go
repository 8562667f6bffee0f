package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the overall health of a job. It is orthogonal to Step.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusExecuting JobStatus = "executing"
	JobStatusComplete  JobStatus = "complete"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further advancement is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusExecuting, JobStatusComplete, JobStatusFailed:
		return true
	}
	return false
}

// JobKind tags which payload a Job carries. The set is closed.
type JobKind string

const (
	JobKindAnalysis      JobKind = "analysis"
	JobKindVersionUpdate JobKind = "version_update"
)

// Job is a unit of orchestrated work. Exactly one payload pointer is set,
// matching Kind. Engines never hold a Job between calls: the caller
// rehydrates it from the store, passes it in, and persists what comes back.
type Job struct {
	ID     uuid.UUID `json:"id"`
	Kind   JobKind   `json:"kind"`
	Status JobStatus `json:"status"`

	Analysis      *AnalysisJob      `json:"analysis,omitempty"`
	VersionUpdate *VersionUpdateJob `json:"version_update,omitempty"`

	ErrorMessage *string    `json:"error_message,omitempty"`
	HaltedAt     *time.Time `json:"halted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewAnalysisJob returns a pending analysis job with a fresh ID.
func NewAnalysisJob(payload AnalysisJob) Job {
	now := time.Now().UTC()
	return Job{
		ID:        uuid.New(),
		Kind:      JobKindAnalysis,
		Status:    JobStatusPending,
		Analysis:  &payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewVersionUpdateJob returns a pending version-update job positioned at
// StepStarting.
func NewVersionUpdateJob(payload VersionUpdateJob) Job {
	now := time.Now().UTC()
	payload.Step = StepStarting
	return Job{
		ID:            uuid.New(),
		Kind:          JobKindVersionUpdate,
		Status:        JobStatusPending,
		VersionUpdate: &payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Validate checks that the payload matches the kind tag.
func (j Job) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("job id is required")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("job %s: unknown status %q", j.ID, j.Status)
	}
	switch j.Kind {
	case JobKindAnalysis:
		if j.Analysis == nil || j.VersionUpdate != nil {
			return fmt.Errorf("job %s: kind %s requires only an analysis payload", j.ID, j.Kind)
		}
	case JobKindVersionUpdate:
		if j.VersionUpdate == nil || j.Analysis != nil {
			return fmt.Errorf("job %s: kind %s requires only a version update payload", j.ID, j.Kind)
		}
		if !j.VersionUpdate.Step.Valid() {
			return fmt.Errorf("job %s: unknown step %q", j.ID, j.VersionUpdate.Step)
		}
	default:
		return fmt.Errorf("job %s: unknown kind %q", j.ID, j.Kind)
	}
	return nil
}

// Clone returns a deep copy so that mutating the result never touches j.
func (j Job) Clone() Job {
	c := j
	if j.Analysis != nil {
		a := *j.Analysis
		c.Analysis = &a
	}
	if j.VersionUpdate != nil {
		v := j.VersionUpdate.clone()
		c.VersionUpdate = &v
	}
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		c.ErrorMessage = &msg
	}
	if j.HaltedAt != nil {
		t := *j.HaltedAt
		c.HaltedAt = &t
	}
	return c
}

// Position returns a short human-readable location of the job, used in logs
// and failure notifications.
func (j Job) Position() string {
	if j.VersionUpdate != nil {
		return string(j.VersionUpdate.Step)
	}
	return string(j.Status)
}
