// Package worker provides the per-process claim/execute/terminate loop.
//
// A Worker is a single-threaded state machine: bootstrap once, then claim a
// job, execute it, record the outcome, and repeat until the store reports
// every job complete. Concurrency comes solely from running more loops —
// in-process via Run's concurrency option, or as more OS processes pointed
// at the same experiment. Loops never signal each other; all coordination is
// committed row state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Vagver/workerbee"
	"github.com/Vagver/workerbee/backoff"
	"github.com/Vagver/workerbee/experiment"
	"github.com/Vagver/workerbee/id"
)

// JobFunc performs one unit of work. It receives the job's ID and its seeded
// payload (raw JSON, nil if the job was seeded without data). A non-nil error
// marks the job failed; it will be retried once no pending job remains. The
// function runs with no store-side lock held and is not preempted: a hung
// JobFunc blocks exactly the one worker that claimed it.
type JobFunc func(ctx context.Context, jobID string, payload []byte) error

// Worker is one loop instance with its own identity.
type Worker struct {
	store           experiment.Store
	experimentID    string
	fn              JobFunc
	workerID        id.WorkerID
	idle            backoff.Strategy
	failure         backoff.Strategy
	maxStoreRetries int
	logger          *slog.Logger
}

// New creates a single worker loop. Most callers want Run instead, which
// bootstraps the experiment and manages one or more loops.
func New(st experiment.Store, experimentID string, fn JobFunc, opts ...Option) *Worker {
	o := buildOptions(opts)
	return newWorker(st, experimentID, fn, o)
}

func newWorker(st experiment.Store, experimentID string, fn JobFunc, o options) *Worker {
	return &Worker{
		store:           st,
		experimentID:    experimentID,
		fn:              fn,
		workerID:        id.NewWorkerID(),
		idle:            o.idle,
		failure:         o.failure,
		maxStoreRetries: o.cfg.MaxStoreRetries,
		logger:          o.logger,
	}
}

// WorkerID returns this loop's unique identity, recorded as the claim owner
// on every row it claims.
func (w *Worker) WorkerID() id.WorkerID { return w.workerID }

// Run drives the loop until the experiment is exhausted or an unrecoverable
// error occurs. Job-function errors never stop the loop; only configuration
// errors and persistent store failure do. Returns nil once every job in the
// experiment is complete.
func (w *Worker) Run(ctx context.Context) error {
	log := w.logger.With(
		slog.String("worker_id", w.workerID.String()),
		slog.String("experiment", w.experimentID),
	)
	log.Info("worker starting")

	var idleWaits, storeFailures, jobFailures int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		j, err := w.store.ClaimOne(ctx, w.experimentID, w.workerID.String())
		if err != nil {
			if isFatal(err) {
				return err
			}
			storeFailures++
			if storeFailures >= w.maxStoreRetries {
				return fmt.Errorf("worker %s: claim: %w", w.workerID, err)
			}
			log.Warn("claim failed, backing off",
				slog.String("error", err.Error()),
				slog.Int("consecutive_failures", storeFailures),
			)
			if serr := sleep(ctx, w.idle.Delay(storeFailures)); serr != nil {
				return serr
			}
			continue
		}
		storeFailures = 0

		if j == nil {
			done, derr := w.store.IsExhausted(ctx, w.experimentID)
			if derr != nil {
				if isFatal(derr) {
					return derr
				}
				storeFailures++
				if storeFailures >= w.maxStoreRetries {
					return fmt.Errorf("worker %s: exhaustion check: %w", w.workerID, derr)
				}
				if serr := sleep(ctx, w.idle.Delay(storeFailures)); serr != nil {
					return serr
				}
				continue
			}
			if done {
				log.Info("experiment exhausted, terminating")
				return nil
			}
			// Nothing eligible but jobs remain: another worker may be
			// mid-claim, or a failed job is about to become eligible.
			idleWaits++
			if serr := sleep(ctx, w.idle.Delay(idleWaits)); serr != nil {
				return serr
			}
			continue
		}
		idleWaits = 0

		failed, execErr := w.execute(ctx, log, j)
		if execErr != nil {
			return execErr
		}
		if failed {
			jobFailures++
			if serr := sleep(ctx, w.failure.Delay(jobFailures)); serr != nil {
				return serr
			}
		} else {
			jobFailures = 0
		}
	}
}

// execute runs one claimed job and records its outcome. The returned error
// is non-nil only for unrecoverable store faults; a job-function failure is
// reported through the failed flag and absorbed into store state.
func (w *Worker) execute(ctx context.Context, log *slog.Logger, j *experiment.Job) (failed bool, err error) {
	log.Info("claimed job",
		slog.String("job_id", j.ID),
		slog.Int("attempt", j.Attempts),
	)

	start := time.Now()
	jobErr := w.invoke(ctx, log, j)
	elapsed := time.Since(start)

	if jobErr != nil {
		log.Error("job failed",
			slog.String("job_id", j.ID),
			slog.String("error", jobErr.Error()),
			slog.Duration("duration", elapsed),
		)
		markErr := w.mark(ctx, log, j.ID, func(ctx context.Context) error {
			return w.store.MarkFailed(ctx, w.experimentID, j.ID, w.workerID.String(), jobErr)
		})
		return true, markErr
	}

	markErr := w.mark(ctx, log, j.ID, func(ctx context.Context) error {
		return w.store.MarkComplete(ctx, w.experimentID, j.ID, w.workerID.String())
	})
	if markErr != nil {
		return false, markErr
	}

	log.Info("completed job",
		slog.String("job_id", j.ID),
		slog.Duration("duration", elapsed),
	)
	return false, nil
}

// invoke calls the job function, converting panics to errors so a bad job
// can never take the loop down.
func (w *Worker) invoke(ctx context.Context, log *slog.Logger, j *experiment.Job) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job function panicked",
				slog.String("job_id", j.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			retErr = fmt.Errorf("panic in job %s: %v", j.ID, r)
		}
	}()
	return w.fn(ctx, j.ID, j.Payload)
}

// mark records a job outcome, retrying transient store faults. A lost claim
// means another owner already moved the row on; the outcome write is dropped
// rather than clobbering the newer state.
func (w *Worker) mark(ctx context.Context, log *slog.Logger, jobID string, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, workerbee.ErrClaimLost):
			log.Warn("claim lost, outcome not recorded", slog.String("job_id", jobID))
			return nil
		case isFatal(err):
			return err
		}
		if attempt >= w.maxStoreRetries {
			return fmt.Errorf("worker %s: record outcome for %s: %w", w.workerID, jobID, err)
		}
		log.Warn("outcome write failed, retrying",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		if serr := sleep(ctx, w.idle.Delay(attempt)); serr != nil {
			return serr
		}
	}
}

// isFatal reports whether err can never succeed on retry.
func isFatal(err error) bool {
	return errors.Is(err, workerbee.ErrInvalidExperimentID) ||
		errors.Is(err, workerbee.ErrExperimentNotFound) ||
		errors.Is(err, workerbee.ErrJobNotFound)
}

// sleep blocks for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
