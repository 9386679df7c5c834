package stats_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Vagver/workerbee"
	"github.com/Vagver/workerbee/stats"
	"github.com/Vagver/workerbee/store/memory"
)

func TestTake(t *testing.T) {
	t.Parallel()
	st := memory.New()
	ctx := context.Background()

	if err := workerbee.Setup(ctx, st, "exp", []string{"a", "b", "c", "d"}, nil); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	j, err := st.ClaimOne(ctx, "exp", "w1")
	if err != nil || j == nil {
		t.Fatalf("claim: %v, %v", j, err)
	}
	if err := st.MarkComplete(ctx, "exp", j.ID, "w1"); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	j2, err := st.ClaimOne(ctx, "exp", "w1")
	if err != nil || j2 == nil {
		t.Fatalf("claim: %v, %v", j2, err)
	}
	if err := st.MarkFailed(ctx, "exp", j2.ID, "w1", errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if _, err := st.ClaimOne(ctx, "exp", "w2"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	s, err := stats.Take(ctx, st, "exp")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	if s.Total != 4 {
		t.Errorf("Total = %d, want 4", s.Total)
	}
	if s.Pending != 1 || s.Claimed != 1 || s.Complete != 1 || s.Failed != 1 {
		t.Errorf("census = pending %d claimed %d complete %d failed %d, want 1 each",
			s.Pending, s.Claimed, s.Complete, s.Failed)
	}
	if s.Remaining() != 3 {
		t.Errorf("Remaining = %d, want 3", s.Remaining())
	}
	if s.Done() {
		t.Error("Done = true with work outstanding")
	}
	if got, want := s.Fraction(), 0.25; got != want {
		t.Errorf("Fraction = %v, want %v", got, want)
	}
}

func TestTake_UnknownExperiment(t *testing.T) {
	t.Parallel()
	_, err := stats.Take(context.Background(), memory.New(), "ghost")
	if !errors.Is(err, workerbee.ErrExperimentNotFound) {
		t.Fatalf("got %v, want ErrExperimentNotFound", err)
	}
}

func TestSnapshotDone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    stats.Snapshot
		want bool
	}{
		{"empty", stats.Snapshot{}, false},
		{"in progress", stats.Snapshot{Total: 2, Complete: 1}, false},
		{"all complete", stats.Snapshot{Total: 2, Complete: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Done(); got != tt.want {
				t.Errorf("Done = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrackerRateAndETA(t *testing.T) {
	t.Parallel()
	tr := stats.NewTracker()

	if rate := tr.Rate(); rate != 0 {
		t.Errorf("empty tracker rate = %v, want 0", rate)
	}
	if _, ok := tr.ETA(); ok {
		t.Error("empty tracker reported an ETA")
	}

	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr.Observe(stats.Snapshot{Total: 100, Complete: 10, At: base})
	tr.Observe(stats.Snapshot{Total: 100, Complete: 30, At: base.Add(10 * time.Second)})

	if got, want := tr.Rate(), 2.0; got != want {
		t.Errorf("Rate = %v, want %v", got, want)
	}

	eta, ok := tr.ETA()
	if !ok {
		t.Fatal("no ETA despite measurable rate")
	}
	// 70 remaining at 2 jobs/sec: 35s past the last observation.
	want := base.Add(45 * time.Second)
	if !eta.Equal(want) {
		t.Errorf("ETA = %v, want %v", eta, want)
	}
}

func TestTrackerReport(t *testing.T) {
	t.Parallel()
	tr := stats.NewTracker()

	if got := tr.Report(); got != "no observations yet" {
		t.Errorf("empty report = %q", got)
	}

	base := time.Now().UTC()
	tr.Observe(stats.Snapshot{Total: 1000, Complete: 0, At: base})
	tr.Observe(stats.Snapshot{Total: 1000, Complete: 420, Failed: 3, At: base.Add(time.Minute)})

	got := tr.Report()
	for _, want := range []string{"420/1,000 complete", "(42.0%)", "3 failed", "jobs/sec"} {
		if !strings.Contains(got, want) {
			t.Errorf("report %q missing %q", got, want)
		}
	}
}
