package bunstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/Vagver/workerbee"
	"github.com/Vagver/workerbee/experiment"
)

// ident validates the experiment ID and returns it as a quoted identifier.
func ident(experimentID string) (bun.Ident, error) {
	if err := workerbee.ValidateExperimentID(experimentID); err != nil {
		return "", err
	}
	return bun.Ident(experimentID), nil
}

// CreateExperiment idempotently creates the job table for an experiment.
func (s *Store) CreateExperiment(ctx context.Context, experimentID string) error {
	tbl, err := ident(experimentID)
	if err != nil {
		return err
	}

	_, err = s.db.NewRaw(`
		CREATE TABLE IF NOT EXISTS ? (
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
		)`, tbl).Exec(ctx)
	if err != nil {
		if isDuplicateTable(err) || isDuplicateKey(err) {
			return nil
		}
		return fmt.Errorf("workerbee/bun: create experiment %q: %w", experimentID, err)
	}

	_, err = s.db.NewRaw(`CREATE INDEX IF NOT EXISTS ? ON ? (status)`,
		bun.Ident(experimentID+"_status_idx"), tbl).Exec(ctx)
	if err != nil && !isDuplicateTable(err) {
		return fmt.Errorf("workerbee/bun: index experiment %q: %w", experimentID, err)
	}
	return nil
}

// SeedJobs inserts one pending row per job absent from the table, in a
// single transaction.
func (s *Store) SeedJobs(ctx context.Context, experimentID string, jobs []experiment.Job) error {
	tbl, err := ident(experimentID)
	if err != nil {
		return err
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, j := range jobs {
			// A bare []byte would be rendered as a bytea literal, which the
			// JSONB column rejects; json.RawMessage renders as JSON text.
			var data any
			if len(j.Payload) > 0 {
				data = json.RawMessage(j.Payload)
			}
			_, err := tx.NewRaw(`
				INSERT INTO ? (job_id, job_data)
				VALUES (?, ?)
				ON CONFLICT (job_id) DO NOTHING`,
				tbl, j.ID, data).Exec(ctx)
			if err != nil {
				if isUndefinedTable(err) {
					return workerbee.ErrExperimentNotFound
				}
				return fmt.Errorf("workerbee/bun: seed job %q: %w", j.ID, err)
			}
		}
		return nil
	})
	return err
}

// ClaimOne atomically claims one eligible job: any pending row first, a
// failed row only once no pending row exists. The unordered SKIP LOCKED
// subquery keeps concurrent claimers off each other's rows.
func (s *Store) ClaimOne(ctx context.Context, experimentID, workerID string) (*experiment.Job, error) {
	tbl, err := ident(experimentID)
	if err != nil {
		return nil, err
	}

	j, err := s.claim(ctx, s.db.NewRaw(`
		UPDATE ? SET
			status = 'claimed',
			claimed_by = ?,
			claimed_at = NOW(),
			attempts = attempts + 1,
			updated_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM ?
			WHERE status = 'pending'
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`, tbl, workerID, tbl))
	if err != nil || j != nil {
		return j, err
	}

	return s.claim(ctx, s.db.NewRaw(`
		UPDATE ? SET
			status = 'claimed',
			claimed_by = ?,
			claimed_at = NOW(),
			attempts = attempts + 1,
			updated_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM ?
			WHERE status = 'failed'
			  AND NOT EXISTS (SELECT 1 FROM ? WHERE status = 'pending')
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`, tbl, workerID, tbl, tbl))
}

func (s *Store) claim(ctx context.Context, q *bun.RawQuery) (*experiment.Job, error) {
	var m jobModel
	if err := q.Scan(ctx, &m); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		if isUndefinedTable(err) {
			return nil, workerbee.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("workerbee/bun: claim: %w", err)
	}
	return fromJobModel(&m), nil
}

// MarkComplete transitions a job claimed→complete, guarded on the claim
// still belonging to workerID.
func (s *Store) MarkComplete(ctx context.Context, experimentID, jobID, workerID string) error {
	tbl, err := ident(experimentID)
	if err != nil {
		return err
	}

	res, err := s.db.NewRaw(`
		UPDATE ? SET
			status = 'complete',
			completed_at = NOW(),
			updated_at = NOW()
		WHERE job_id = ? AND status = 'claimed' AND claimed_by = ?`,
		tbl, jobID, workerID).Exec(ctx)
	if err != nil {
		if isUndefinedTable(err) {
			return workerbee.ErrExperimentNotFound
		}
		return fmt.Errorf("workerbee/bun: mark complete %q: %w", jobID, err)
	}
	return s.guardResult(ctx, tbl, jobID, res)
}

// MarkFailed transitions a job claimed→failed under the same guard,
// recording the cause.
func (s *Store) MarkFailed(ctx context.Context, experimentID, jobID, workerID string, cause error) error {
	tbl, err := ident(experimentID)
	if err != nil {
		return err
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	res, err := s.db.NewRaw(`
		UPDATE ? SET
			status = 'failed',
			failures = failures + 1,
			last_error = ?,
			updated_at = NOW()
		WHERE job_id = ? AND status = 'claimed' AND claimed_by = ?`,
		tbl, msg, jobID, workerID).Exec(ctx)
	if err != nil {
		if isUndefinedTable(err) {
			return workerbee.ErrExperimentNotFound
		}
		return fmt.Errorf("workerbee/bun: mark failed %q: %w", jobID, err)
	}
	return s.guardResult(ctx, tbl, jobID, res)
}

// guardResult maps a zero-row guarded update to the right sentinel.
func (s *Store) guardResult(ctx context.Context, tbl bun.Ident, jobID string, res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("workerbee/bun: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = s.db.NewRaw(`SELECT EXISTS (SELECT 1 FROM ? WHERE job_id = ?)`, tbl, jobID).
		Scan(ctx, &exists)
	if err != nil {
		return fmt.Errorf("workerbee/bun: guard check %q: %w", jobID, err)
	}
	if !exists {
		return workerbee.ErrJobNotFound
	}
	return workerbee.ErrClaimLost
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, experimentID string, opts experiment.CountOpts) (int64, error) {
	tbl, err := ident(experimentID)
	if err != nil {
		return 0, err
	}

	var (
		count int64
		q     *bun.RawQuery
	)
	if opts.Status != "" {
		q = s.db.NewRaw(`SELECT COUNT(*) FROM ? WHERE status = ?`, tbl, string(opts.Status))
	} else {
		q = s.db.NewRaw(`SELECT COUNT(*) FROM ?`, tbl)
	}
	if err := q.Scan(ctx, &count); err != nil {
		if isUndefinedTable(err) {
			return 0, workerbee.ErrExperimentNotFound
		}
		return 0, fmt.Errorf("workerbee/bun: count jobs: %w", err)
	}
	return count, nil
}

// IsExhausted reports whether every job in the experiment is complete.
func (s *Store) IsExhausted(ctx context.Context, experimentID string) (bool, error) {
	tbl, err := ident(experimentID)
	if err != nil {
		return false, err
	}

	var exhausted bool
	err = s.db.NewRaw(`SELECT NOT EXISTS (SELECT 1 FROM ? WHERE status <> 'complete')`, tbl).
		Scan(ctx, &exhausted)
	if err != nil {
		if isUndefinedTable(err) {
			return false, workerbee.ErrExperimentNotFound
		}
		return false, fmt.Errorf("workerbee/bun: is exhausted: %w", err)
	}
	return exhausted, nil
}

// GetJob retrieves a job by ID. Not part of experiment.Store; used by
// operational tooling and tests.
func (s *Store) GetJob(ctx context.Context, experimentID, jobID string) (*experiment.Job, error) {
	tbl, err := ident(experimentID)
	if err != nil {
		return nil, err
	}

	var m jobModel
	err = s.db.NewRaw(`SELECT * FROM ? WHERE job_id = ?`, tbl, jobID).Scan(ctx, &m)
	if err != nil {
		if isNoRows(err) {
			return nil, workerbee.ErrJobNotFound
		}
		if isUndefinedTable(err) {
			return nil, workerbee.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("workerbee/bun: get job %q: %w", jobID, err)
	}
	return fromJobModel(&m), nil
}
