package workerbee

import (
	"context"
	"fmt"

	"github.com/Vagver/workerbee/experiment"
)

// ValidateExperimentID checks that id is usable as a store table name.
// Allowed characters are [a-z0-9_], and the first character must not be a
// digit. Violations are Configuration errors wrapping ErrInvalidExperimentID.
func ValidateExperimentID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidExperimentID)
	}
	if id[0] >= '0' && id[0] <= '9' {
		return fmt.Errorf("%w: %q starts with a digit", ErrInvalidExperimentID, id)
	}
	for _, c := range id {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return fmt.Errorf("%w: %q contains %q (allowed [a-z0-9_])", ErrInvalidExperimentID, id, c)
		}
	}
	return nil
}

// BuildJobs converts a seed description into pending jobs. Payloads are
// encoded as JSON once here and pass through the core uninterpreted from then
// on. A payload keyed by an unknown job ID, or a repeated job ID, is a
// Configuration error.
func BuildJobs(jobIDs []string, payloads map[string]any) ([]experiment.Job, error) {
	seen := make(map[string]struct{}, len(jobIDs))
	jobs := make([]experiment.Job, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		if jobID == "" {
			return nil, fmt.Errorf("%w: empty job id", ErrDuplicateJob)
		}
		if _, dup := seen[jobID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateJob, jobID)
		}
		seen[jobID] = struct{}{}

		var data []byte
		if v, ok := payloads[jobID]; ok {
			encoded, err := experiment.EncodePayload(v)
			if err != nil {
				return nil, fmt.Errorf("workerbee: encode payload for job %q: %w", jobID, err)
			}
			data = encoded
		}
		jobs = append(jobs, experiment.NewJob(jobID, data))
	}
	for jobID := range payloads {
		if _, ok := seen[jobID]; !ok {
			return nil, fmt.Errorf("%w: payload for unknown job %q", ErrDuplicateJob, jobID)
		}
	}
	return jobs, nil
}

// Setup idempotently creates the experiment's job table and seeds the given
// jobs. Safe to call from any number of racing workers: concurrent creation
// conflicts are swallowed by the store, and duplicate seed inserts are no-ops.
// Callers that only submit work (and never claim any) can use Setup alone.
func Setup(ctx context.Context, st experiment.Store, experimentID string, jobIDs []string, payloads map[string]any) error {
	if st == nil {
		return ErrNoStore
	}
	if err := ValidateExperimentID(experimentID); err != nil {
		return err
	}
	jobs, err := BuildJobs(jobIDs, payloads)
	if err != nil {
		return err
	}
	if err := st.CreateExperiment(ctx, experimentID); err != nil {
		return fmt.Errorf("workerbee: create experiment %q: %w", experimentID, err)
	}
	if len(jobs) == 0 {
		return nil
	}
	if err := st.SeedJobs(ctx, experimentID, jobs); err != nil {
		return fmt.Errorf("workerbee: seed %d jobs into %q: %w", len(jobs), experimentID, err)
	}
	return nil
}
