package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Vagver/workerbee"
	"github.com/Vagver/workerbee/backoff"
	"github.com/Vagver/workerbee/experiment"
)

type options struct {
	cfg      workerbee.Config
	logger   *slog.Logger
	idle     backoff.Strategy
	failure  backoff.Strategy
	jobIDs   []string
	payloads map[string]any
}

// Option configures Run or New.
type Option func(*options)

// WithConfig replaces the whole Config at once. Later options still apply on
// top of it.
func WithConfig(cfg workerbee.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithConcurrency sets the number of independent worker loops Run manages
// in-process. Each loop has its own worker identity.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cfg.Concurrency = n
		}
	}
}

// WithMaxStoreRetries sets how many consecutive store failures a loop
// tolerates before giving up.
func WithMaxStoreRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cfg.MaxStoreRetries = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIdleBackoff overrides the delay strategy applied while no job is
// eligible and between store-fault retries.
func WithIdleBackoff(s backoff.Strategy) Option {
	return func(o *options) { o.idle = s }
}

// WithFailureBackoff overrides the delay strategy applied after a failed job
// execution.
func WithFailureBackoff(s backoff.Strategy) Option {
	return func(o *options) { o.failure = s }
}

// WithJobs sets the job IDs seeded during bootstrap. Only the first worker
// to reach the store actually inserts anything; the rest are no-ops.
func WithJobs(jobIDs []string) Option {
	return func(o *options) { o.jobIDs = jobIDs }
}

// WithPayloads attaches per-job payloads to the seed, keyed by job ID. Each
// value is JSON-encoded once at seed time and delivered to the job function
// byte-for-byte.
func WithPayloads(payloads map[string]any) Option {
	return func(o *options) { o.payloads = payloads }
}

func buildOptions(opts []Option) options {
	o := options{
		cfg:    workerbee.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.idle == nil {
		o.idle = backoff.NewExponentialWithJitter(o.cfg.IdleMinDelay, o.cfg.IdleMaxDelay)
	}
	if o.failure == nil {
		o.failure = backoff.NewExponentialWithJitter(o.cfg.FailureMinDelay, o.cfg.FailureMaxDelay)
	}
	return o
}

// Run is the blocking entry point: bootstrap the experiment, then drive
// worker loops until every job is complete. Safe to call from any number of
// processes with the same arguments; the bootstrap race is benign and each
// job still executes exactly once across all of them.
//
// Run returns nil once the experiment is exhausted. Configuration errors and
// persistent store failure are the only other ways out; job-function errors
// are recorded per job and never surface here.
func Run(ctx context.Context, st experiment.Store, experimentID string, fn JobFunc, opts ...Option) error {
	if st == nil {
		return workerbee.ErrNoStore
	}
	if fn == nil {
		return workerbee.ErrNoJobFunction
	}
	o := buildOptions(opts)

	if err := workerbee.Setup(ctx, st, experimentID, o.jobIDs, o.payloads); err != nil {
		return err
	}

	if o.cfg.Concurrency <= 1 {
		return newWorker(st, experimentID, fn, o).Run(ctx)
	}

	workers := make([]*Worker, o.cfg.Concurrency)
	for i := range workers {
		workers[i] = newWorker(st, experimentID, fn, o)
	}

	// One goroutine per loop. A loop that dies does not stop its siblings:
	// the experiment belongs to whoever is left.
	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = w.Run(ctx)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
