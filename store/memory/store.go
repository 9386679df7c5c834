// Package memory provides a fully in-memory implementation of
// experiment.Store. Safe for concurrent access. Intended for unit testing
// and development; a process restart loses everything.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Vagver/workerbee"
	"github.com/Vagver/workerbee/experiment"
)

var _ experiment.Store = (*Store)(nil)

// Store keeps one job map per experiment behind a single mutex. Holding the
// lock across the whole claim makes select-and-transition indivisible, the
// same guarantee the SQL backends get from row locking.
type Store struct {
	mu          sync.Mutex
	experiments map[string]map[string]*experiment.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		experiments: make(map[string]map[string]*experiment.Job),
	}
}

// CreateExperiment idempotently creates the job table for an experiment.
func (m *Store) CreateExperiment(_ context.Context, experimentID string) error {
	if err := workerbee.ValidateExperimentID(experimentID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.experiments[experimentID]; !exists {
		m.experiments[experimentID] = make(map[string]*experiment.Job)
	}
	return nil
}

// SeedJobs inserts one pending row per job absent from the table.
func (m *Store) SeedJobs(_ context.Context, experimentID string, jobs []experiment.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, ok := m.experiments[experimentID]
	if !ok {
		return workerbee.ErrExperimentNotFound
	}

	now := time.Now().UTC()
	for _, j := range jobs {
		if _, exists := table[j.ID]; exists {
			continue
		}
		cp := j
		cp.Status = experiment.StatusPending
		cp.CreatedAt = now
		cp.UpdatedAt = now
		table[j.ID] = &cp
	}
	return nil
}

// ClaimOne atomically claims one eligible job. Go's random map iteration
// order supplies the "any eligible row" selection policy.
func (m *Store) ClaimOne(_ context.Context, experimentID, workerID string) (*experiment.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, ok := m.experiments[experimentID]
	if !ok {
		return nil, workerbee.ErrExperimentNotFound
	}

	candidate := pickByStatus(table, experiment.StatusPending)
	if candidate == nil {
		// Fresh work is exhausted; failed jobs become eligible.
		candidate = pickByStatus(table, experiment.StatusFailed)
	}
	if candidate == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	candidate.Status = experiment.StatusClaimed
	candidate.ClaimedBy = workerID
	candidate.ClaimedAt = &now
	candidate.Attempts++
	candidate.UpdatedAt = now

	return copyJob(candidate), nil
}

// MarkComplete transitions claimed→complete if workerID still owns the claim.
func (m *Store) MarkComplete(_ context.Context, experimentID, jobID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lookup(experimentID, jobID)
	if err != nil {
		return err
	}
	if j.Status != experiment.StatusClaimed || j.ClaimedBy != workerID {
		return workerbee.ErrClaimLost
	}

	now := time.Now().UTC()
	j.Status = experiment.StatusComplete
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// MarkFailed transitions claimed→failed under the same guard as MarkComplete.
func (m *Store) MarkFailed(_ context.Context, experimentID, jobID, workerID string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lookup(experimentID, jobID)
	if err != nil {
		return err
	}
	if j.Status != experiment.StatusClaimed || j.ClaimedBy != workerID {
		return workerbee.ErrClaimLost
	}

	j.Status = experiment.StatusFailed
	j.Failures++
	if cause != nil {
		j.LastError = cause.Error()
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, experimentID string, opts experiment.CountOpts) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, ok := m.experiments[experimentID]
	if !ok {
		return 0, workerbee.ErrExperimentNotFound
	}

	var count int64
	for _, j := range table {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		count++
	}
	return count, nil
}

// IsExhausted reports whether every job in the experiment is complete.
func (m *Store) IsExhausted(_ context.Context, experimentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, ok := m.experiments[experimentID]
	if !ok {
		return false, workerbee.ErrExperimentNotFound
	}

	for _, j := range table {
		if j.Status != experiment.StatusComplete {
			return false, nil
		}
	}
	return true, nil
}

// GetJob retrieves a copy of a job. Test helper, not part of experiment.Store.
func (m *Store) GetJob(_ context.Context, experimentID, jobID string) (*experiment.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lookup(experimentID, jobID)
	if err != nil {
		return nil, err
	}
	return copyJob(j), nil
}

// copyJob deep-copies a job so callers cannot mutate stored state through the
// shared payload backing array.
func copyJob(j *experiment.Job) *experiment.Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	return &cp
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// lookup must be called with the lock held.
func (m *Store) lookup(experimentID, jobID string) (*experiment.Job, error) {
	table, ok := m.experiments[experimentID]
	if !ok {
		return nil, workerbee.ErrExperimentNotFound
	}
	j, ok := table[jobID]
	if !ok {
		return nil, workerbee.ErrJobNotFound
	}
	return j, nil
}

func pickByStatus(table map[string]*experiment.Job, status experiment.Status) *experiment.Job {
	for _, j := range table {
		if j.Status == status {
			return j
		}
	}
	return nil
}
