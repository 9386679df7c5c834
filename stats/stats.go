// Package stats reports experiment progress from store state. Read-only: it
// issues only count queries, so an operator can watch a running experiment
// without disturbing the workers.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Vagver/workerbee/experiment"
)

// Snapshot is the per-status job census of an experiment at one instant.
type Snapshot struct {
	Total    int64
	Pending  int64
	Claimed  int64
	Complete int64
	Failed   int64
	At       time.Time
}

// Take counts jobs by status.
func Take(ctx context.Context, st experiment.Store, experimentID string) (Snapshot, error) {
	s := Snapshot{At: time.Now().UTC()}

	counts := []struct {
		status experiment.Status
		dst    *int64
	}{
		{experiment.StatusPending, &s.Pending},
		{experiment.StatusClaimed, &s.Claimed},
		{experiment.StatusComplete, &s.Complete},
		{experiment.StatusFailed, &s.Failed},
	}
	for _, c := range counts {
		n, err := st.CountJobs(ctx, experimentID, experiment.CountOpts{Status: c.status})
		if err != nil {
			return Snapshot{}, fmt.Errorf("stats: count %s jobs: %w", c.status, err)
		}
		*c.dst = n
	}
	s.Total = s.Pending + s.Claimed + s.Complete + s.Failed
	return s, nil
}

// Remaining is the number of jobs not yet complete.
func (s Snapshot) Remaining() int64 { return s.Total - s.Complete }

// Done reports whether every job is complete.
func (s Snapshot) Done() bool { return s.Total > 0 && s.Remaining() == 0 }

// Fraction is the completed share in [0, 1]. Zero-job experiments report 0.
func (s Snapshot) Fraction() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Complete) / float64(s.Total)
}

// Tracker derives throughput and an ETA from snapshots observed over time.
// Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	first  Snapshot
	last   Snapshot
	seeded bool
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe records a snapshot. Snapshots should be taken from the same
// experiment; the tracker measures completion growth between the first and
// most recent one.
func (t *Tracker) Observe(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seeded {
		t.first = s
		t.seeded = true
	}
	t.last = s
}

// Rate returns completed jobs per second over the observed window, or 0 when
// fewer than two distinct observations exist.
func (t *Tracker) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rateLocked()
}

func (t *Tracker) rateLocked() float64 {
	if !t.seeded {
		return 0
	}
	window := t.last.At.Sub(t.first.At).Seconds()
	if window <= 0 {
		return 0
	}
	return float64(t.last.Complete-t.first.Complete) / window
}

// ETA estimates when the experiment finishes at the observed rate. The
// second return is false when no rate is measurable yet.
func (t *Tracker) ETA() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rate := t.rateLocked()
	if rate <= 0 {
		return time.Time{}, false
	}
	secs := float64(t.last.Remaining()) / rate
	return t.last.At.Add(time.Duration(secs * float64(time.Second))), true
}

// Report renders a one-line human-readable progress summary, e.g.
// "42/1,000 complete (4.2%), 1.33 jobs/sec, finishes 12 minutes from now".
func (t *Tracker) Report() string {
	t.mu.Lock()
	last := t.last
	seeded := t.seeded
	t.mu.Unlock()

	if !seeded {
		return "no observations yet"
	}

	line := fmt.Sprintf("%s/%s complete (%.1f%%)",
		humanize.Comma(last.Complete),
		humanize.Comma(last.Total),
		100*last.Fraction(),
	)
	if last.Failed > 0 {
		line += fmt.Sprintf(", %s failed", humanize.Comma(last.Failed))
	}
	if rate := t.Rate(); rate > 0 {
		line += fmt.Sprintf(", %.2f jobs/sec", rate)
		if eta, ok := t.ETA(); ok && last.Remaining() > 0 {
			line += ", finishes " + humanize.Time(eta)
		}
	}
	return line
}
