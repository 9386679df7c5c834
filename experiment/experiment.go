// Package experiment defines the job model and the persistence contract for
// a workerbee experiment.
//
// An experiment is a named collection of jobs, stored as one table keyed by
// job ID. It has no status of its own: its state is the aggregate of its
// jobs' states, and it is finished exactly when every job is complete.
package experiment

import "time"

// Status is the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job has never been claimed and is waiting for
	// a worker.
	StatusPending Status = "pending"
	// StatusClaimed means a worker holds the exclusive right to execute the
	// job right now.
	StatusClaimed Status = "claimed"
	// StatusComplete means the job finished successfully. Terminal: a
	// complete job never transitions again.
	StatusComplete Status = "complete"
	// StatusFailed means the most recent execution returned an error. Failed
	// jobs become claimable again once no pending job remains.
	StatusFailed Status = "failed"
)

// Job is one unit of work within an experiment.
type Job struct {
	// ID is unique within the experiment and chosen by the caller.
	ID string `json:"id"`

	Status Status `json:"status"`

	// Payload is the caller-defined job data, stored as raw JSON and passed
	// through the core uninterpreted. Nil for jobs seeded without data.
	Payload []byte `json:"payload,omitempty"`

	// Attempts counts how many times the job has been claimed.
	Attempts int `json:"attempts"`
	// Failures counts how many executions ended in an error.
	Failures int `json:"failures"`
	// LastError holds the message from the most recent failure.
	LastError string `json:"last_error,omitempty"`

	// ClaimedBy and ClaimedAt identify the worker holding the live claim.
	// They stay populated after completion as a record of who did the work.
	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewJob returns a pending job ready for seeding.
func NewJob(id string, payload []byte) Job {
	now := time.Now().UTC()
	return Job{
		ID:        id,
		Status:    StatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
