package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Vagver/workerbee"
	"github.com/Vagver/workerbee/experiment"
)

// jobColumns is the column list every job query returns, in scanJob order.
const jobColumns = `job_id, status, job_data, attempts, failures, last_error,
	claimed_by, claimed_at, completed_at, created_at, updated_at`

// tableName validates the experiment ID and returns it as the table name.
// Validation restricts IDs to [a-z0-9_], which is what makes the direct
// interpolation into SQL below safe.
func tableName(experimentID string) (string, error) {
	if err := workerbee.ValidateExperimentID(experimentID); err != nil {
		return "", err
	}
	return experimentID, nil
}

// CreateExperiment idempotently creates the job table for an experiment.
// Two workers racing through CREATE TABLE IF NOT EXISTS can still both reach
// the create; the loser's duplicate_table error is swallowed.
func (s *Store) CreateExperiment(ctx context.Context, experimentID string) error {
	tbl, err := tableName(experimentID)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			job_id       TEXT PRIMARY KEY,
			status       TEXT NOT NULL DEFAULT 'pending',
			job_data     JSONB,
			attempts     INTEGER NOT NULL DEFAULT 0,
			failures     INTEGER NOT NULL DEFAULT 0,
			last_error   TEXT NOT NULL DEFAULT '',
			claimed_by   TEXT NOT NULL DEFAULT '',
			claimed_at   TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, tbl))
	if err != nil {
		if isDuplicateTable(err) || isDuplicateKey(err) {
			return nil
		}
		return fmt.Errorf("workerbee/postgres: create experiment %q: %w", experimentID, err)
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s (status)`, tbl))
	if err != nil && !isDuplicateTable(err) {
		return fmt.Errorf("workerbee/postgres: index experiment %q: %w", experimentID, err)
	}
	return nil
}

// SeedJobs inserts one pending row per job absent from the table, in a
// single transaction. Rows that already exist are left untouched, so racing
// seeders are no-ops against each other.
func (s *Store) SeedJobs(ctx context.Context, experimentID string, jobs []experiment.Job) error {
	tbl, err := tableName(experimentID)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("workerbee/postgres: seed begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	query := fmt.Sprintf(`
		INSERT INTO %s (job_id, job_data)
		VALUES ($1, $2)
		ON CONFLICT (job_id) DO NOTHING`, tbl)

	for _, j := range jobs {
		if _, err := tx.Exec(ctx, query, j.ID, j.Payload); err != nil {
			if isUndefinedTable(err) {
				return workerbee.ErrExperimentNotFound
			}
			return fmt.Errorf("workerbee/postgres: seed job %q: %w", j.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("workerbee/postgres: seed commit: %w", err)
	}
	return nil
}

// ClaimOne atomically claims one eligible job. The SKIP LOCKED subquery has
// no ORDER BY: the planner returns an arbitrary unlocked row, which spreads
// concurrent claimers across the table instead of stacking them on the first
// ID. Failed jobs are considered only when no pending row exists, so fresh
// work is always attempted before any retry.
func (s *Store) ClaimOne(ctx context.Context, experimentID, workerID string) (*experiment.Job, error) {
	tbl, err := tableName(experimentID)
	if err != nil {
		return nil, err
	}

	j, err := s.claimByStatus(ctx, tbl, workerID, fmt.Sprintf(
		`SELECT job_id FROM %s
		 WHERE status = 'pending'
		 FOR UPDATE SKIP LOCKED
		 LIMIT 1`, tbl))
	if err != nil || j != nil {
		return j, err
	}

	// No pending work anywhere; failed jobs become eligible. The NOT EXISTS
	// guard re-checks inside the same statement so the pending-first rule
	// holds even against a concurrent seeder.
	return s.claimByStatus(ctx, tbl, workerID, fmt.Sprintf(
		`SELECT job_id FROM %[1]s
		 WHERE status = 'failed'
		   AND NOT EXISTS (SELECT 1 FROM %[1]s WHERE status = 'pending')
		 FOR UPDATE SKIP LOCKED
		 LIMIT 1`, tbl))
}

func (s *Store) claimByStatus(ctx context.Context, tbl, workerID, candidateQuery string) (*experiment.Job, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET
			status = 'claimed',
			claimed_by = $1,
			claimed_at = NOW(),
			attempts = attempts + 1,
			updated_at = NOW()
		WHERE job_id = (%s)
		RETURNING `+jobColumns, tbl, candidateQuery),
		workerID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		if isUndefinedTable(err) {
			return nil, workerbee.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("workerbee/postgres: claim: %w", err)
	}
	return j, nil
}

// MarkComplete transitions a job claimed→complete, guarded on the claim
// still belonging to workerID.
func (s *Store) MarkComplete(ctx context.Context, experimentID, jobID, workerID string) error {
	tbl, err := tableName(experimentID)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET
			status = 'complete',
			completed_at = NOW(),
			updated_at = NOW()
		WHERE job_id = $1 AND status = 'claimed' AND claimed_by = $2`, tbl),
		jobID, workerID,
	)
	if err != nil {
		if isUndefinedTable(err) {
			return workerbee.ErrExperimentNotFound
		}
		return fmt.Errorf("workerbee/postgres: mark complete %q: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardFailure(ctx, tbl, jobID)
	}
	return nil
}

// MarkFailed transitions a job claimed→failed under the same guard as
// MarkComplete, recording the cause.
func (s *Store) MarkFailed(ctx context.Context, experimentID, jobID, workerID string, cause error) error {
	tbl, err := tableName(experimentID)
	if err != nil {
		return err
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET
			status = 'failed',
			failures = failures + 1,
			last_error = $3,
			updated_at = NOW()
		WHERE job_id = $1 AND status = 'claimed' AND claimed_by = $2`, tbl),
		jobID, workerID, msg,
	)
	if err != nil {
		if isUndefinedTable(err) {
			return workerbee.ErrExperimentNotFound
		}
		return fmt.Errorf("workerbee/postgres: mark failed %q: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardFailure(ctx, tbl, jobID)
	}
	return nil
}

// guardFailure distinguishes a missing row from a row whose state moved on.
func (s *Store) guardFailure(ctx context.Context, tbl, jobID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE job_id = $1)`, tbl), jobID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("workerbee/postgres: guard check %q: %w", jobID, err)
	}
	if !exists {
		return workerbee.ErrJobNotFound
	}
	return workerbee.ErrClaimLost
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, experimentID string, opts experiment.CountOpts) (int64, error) {
	tbl, err := tableName(experimentID)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tbl)
	args := []any{}
	if opts.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(opts.Status))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		if isUndefinedTable(err) {
			return 0, workerbee.ErrExperimentNotFound
		}
		return 0, fmt.Errorf("workerbee/postgres: count jobs: %w", err)
	}
	return count, nil
}

// IsExhausted reports whether every job in the experiment is complete.
func (s *Store) IsExhausted(ctx context.Context, experimentID string) (bool, error) {
	tbl, err := tableName(experimentID)
	if err != nil {
		return false, err
	}

	var exhausted bool
	err = s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT NOT EXISTS (SELECT 1 FROM %s WHERE status <> 'complete')`, tbl),
	).Scan(&exhausted)
	if err != nil {
		if isUndefinedTable(err) {
			return false, workerbee.ErrExperimentNotFound
		}
		return false, fmt.Errorf("workerbee/postgres: is exhausted: %w", err)
	}
	return exhausted, nil
}

// GetJob retrieves a job by ID. Not part of experiment.Store; used by
// operational tooling and tests.
func (s *Store) GetJob(ctx context.Context, experimentID, jobID string) (*experiment.Job, error) {
	tbl, err := tableName(experimentID)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT `+jobColumns+` FROM %s WHERE job_id = $1`, tbl), jobID)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, workerbee.ErrJobNotFound
		}
		if isUndefinedTable(err) {
			return nil, workerbee.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("workerbee/postgres: get job %q: %w", jobID, err)
	}
	return j, nil
}

// scanJob scans a single job row in jobColumns order.
func scanJob(row pgx.Row) (*experiment.Job, error) {
	var (
		j         experiment.Job
		statusStr string
	)
	err := row.Scan(
		&j.ID, &statusStr, &j.Payload, &j.Attempts, &j.Failures, &j.LastError,
		&j.ClaimedBy, &j.ClaimedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = experiment.Status(statusStr)
	return &j, nil
}
