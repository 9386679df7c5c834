package experiment

import "context"

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// Store is the persistence contract an experiment backend must satisfy.
// Implementations: store/postgres, store/bun, store/memory.
//
// All coordination between workers happens through these operations; the
// backend's transactional isolation on a single row is the sole
// serialization mechanism.
type Store interface {
	// CreateExperiment idempotently creates the job table for an experiment.
	// A concurrent creation by another worker is not an error.
	CreateExperiment(ctx context.Context, experimentID string) error

	// SeedJobs inserts one pending row per job whose ID is absent from the
	// table. Duplicate inserts from racing workers are no-ops.
	SeedJobs(ctx context.Context, experimentID string, jobs []Job) error

	// ClaimOne atomically selects one eligible job and transitions it to
	// claimed, recording workerID as the owner. Any pending job is eligible;
	// a failed job becomes eligible only when no pending job exists. The
	// selection and the transition are a single indivisible operation: two
	// concurrent callers can never both claim the same row. Returns
	// (nil, nil) when nothing is eligible.
	ClaimOne(ctx context.Context, experimentID, workerID string) (*Job, error)

	// MarkComplete transitions a job claimed→complete, guarded so the write
	// only applies if the job is still claimed by workerID. Returns
	// workerbee.ErrClaimLost if the guard fails.
	MarkComplete(ctx context.Context, experimentID, jobID, workerID string) error

	// MarkFailed transitions a job claimed→failed under the same guard as
	// MarkComplete, recording cause and incrementing the failure counter.
	MarkFailed(ctx context.Context, experimentID, jobID, workerID string, cause error) error

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, experimentID string, opts CountOpts) (int64, error)

	// IsExhausted reports whether every job in the experiment is complete.
	// A claimed job held by another worker keeps the experiment alive.
	IsExhausted(ctx context.Context, experimentID string) (bool, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
