package workerbee

import "time"

// Config holds tuning knobs for a worker loop.
type Config struct {
	// Concurrency is the number of independent worker loops run in-process.
	// Each loop claims and executes jobs on its own; loops share nothing but
	// the store handle.
	Concurrency int

	// MaxStoreRetries is the number of consecutive store failures tolerated
	// before a worker loop gives up. Transient faults below this threshold
	// are retried with backoff.
	MaxStoreRetries int

	// IdleMinDelay and IdleMaxDelay bound the backoff applied while no job
	// is eligible but the experiment is not yet exhausted (another worker
	// may be mid-claim, or a failed job may be about to become eligible).
	IdleMinDelay time.Duration
	IdleMaxDelay time.Duration

	// FailureMinDelay and FailureMaxDelay bound the backoff applied after a
	// job function returns an error, before the next claim attempt.
	FailureMinDelay time.Duration
	FailureMaxDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     1,
		MaxStoreRetries: 10,
		IdleMinDelay:    250 * time.Millisecond,
		IdleMaxDelay:    30 * time.Second,
		FailureMinDelay: 250 * time.Millisecond,
		FailureMaxDelay: 1 * time.Minute,
	}
}
