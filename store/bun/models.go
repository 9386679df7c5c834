package bunstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/Vagver/workerbee/experiment"
)

// jobModel maps a job row. The table name in the tag is a placeholder; every
// query targets the per-experiment table explicitly via bun.Ident.
type jobModel struct {
	bun.BaseModel `bun:"table:workerbee_jobs"`

	JobID       string     `bun:"job_id,pk"`
	Status      string     `bun:"status"`
	JobData     []byte     `bun:"job_data,nullzero"`
	Attempts    int        `bun:"attempts"`
	Failures    int        `bun:"failures"`
	LastError   string     `bun:"last_error"`
	ClaimedBy   string     `bun:"claimed_by"`
	ClaimedAt   *time.Time `bun:"claimed_at"`
	CompletedAt *time.Time `bun:"completed_at"`
	CreatedAt   time.Time  `bun:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at"`
}

func fromJobModel(m *jobModel) *experiment.Job {
	return &experiment.Job{
		ID:          m.JobID,
		Status:      experiment.Status(m.Status),
		Payload:     m.JobData,
		Attempts:    m.Attempts,
		Failures:    m.Failures,
		LastError:   m.LastError,
		ClaimedBy:   m.ClaimedBy,
		ClaimedAt:   m.ClaimedAt,
		CompletedAt: m.CompletedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
