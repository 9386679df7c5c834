package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Vagver/workerbee"
	"github.com/Vagver/workerbee/experiment"
	"github.com/Vagver/workerbee/store/memory"
)

func seedStore(t *testing.T, jobIDs ...string) *memory.Store {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	if err := s.CreateExperiment(ctx, "exp"); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	jobs := make([]experiment.Job, len(jobIDs))
	for i, id := range jobIDs {
		jobs[i] = experiment.NewJob(id, nil)
	}
	if err := s.SeedJobs(ctx, "exp", jobs); err != nil {
		t.Fatalf("SeedJobs: %v", err)
	}
	return s
}

func TestCreateExperiment(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{"create", "exp", nil},
		{"create again is a no-op", "exp", nil},
		{"invalid id", "Not Valid", workerbee.ErrInvalidExperimentID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.CreateExperiment(ctx, tt.id); !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSeedJobs_Idempotent(t *testing.T) {
	t.Parallel()
	s := seedStore(t, "a", "b", "c")
	ctx := context.Background()

	// Concurrent re-seeding must neither error nor duplicate.
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs := []experiment.Job{
				experiment.NewJob("a", nil),
				experiment.NewJob("b", nil),
				experiment.NewJob("c", nil),
			}
			if err := s.SeedJobs(ctx, "exp", jobs); err != nil {
				t.Errorf("SeedJobs: %v", err)
			}
		}()
	}
	wg.Wait()

	n, err := s.CountJobs(ctx, "exp", experiment.CountOpts{})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 3 {
		t.Errorf("got %d jobs, want 3", n)
	}
}

func TestSeedJobs_UnknownExperiment(t *testing.T) {
	t.Parallel()
	s := memory.New()
	err := s.SeedJobs(context.Background(), "ghost", []experiment.Job{experiment.NewJob("a", nil)})
	if !errors.Is(err, workerbee.ErrExperimentNotFound) {
		t.Fatalf("got %v, want ErrExperimentNotFound", err)
	}
}

func TestClaimOne_Uniqueness(t *testing.T) {
	t.Parallel()
	const jobs = 50
	ids := make([]string, jobs)
	for i := range ids {
		ids[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
	}
	s := seedStore(t, ids...)
	ctx := context.Background()

	// 20 claimers race for 50 jobs; every job must be handed out exactly once.
	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			workerID := "wkr_" + string(rune('a'+w))
			for {
				j, err := s.ClaimOne(ctx, "exp", workerID)
				if err != nil {
					t.Errorf("ClaimOne: %v", err)
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Fatalf("claimed %d distinct jobs, want %d", len(claimed), jobs)
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times, want 1", id, n)
		}
	}
}

func TestClaimOne_FailedOnlyAfterPendingExhausted(t *testing.T) {
	t.Parallel()
	s := seedStore(t, "a", "b")
	ctx := context.Background()

	first, err := s.ClaimOne(ctx, "exp", "w1")
	if err != nil || first == nil {
		t.Fatalf("first claim: %v, %v", first, err)
	}
	if err := s.MarkFailed(ctx, "exp", first.ID, "w1", errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	// One pending job remains; the failed one must not be eligible yet.
	second, err := s.ClaimOne(ctx, "exp", "w1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second == nil || second.ID == first.ID {
		t.Fatalf("second claim = %+v, want the remaining pending job", second)
	}
	if err := s.MarkComplete(ctx, "exp", second.ID, "w1"); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	// Pending exhausted; the failed job becomes eligible.
	third, err := s.ClaimOne(ctx, "exp", "w1")
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if third == nil || third.ID != first.ID {
		t.Fatalf("third claim = %+v, want failed job %q", third, first.ID)
	}
	if third.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", third.Attempts)
	}
	if third.Failures != 1 {
		t.Errorf("failures = %d, want 1", third.Failures)
	}
}

func TestClaimOne_NothingEligible(t *testing.T) {
	t.Parallel()
	s := seedStore(t, "a")
	ctx := context.Background()

	j, err := s.ClaimOne(ctx, "exp", "w1")
	if err != nil || j == nil {
		t.Fatalf("claim: %v, %v", j, err)
	}

	// The only job is claimed by w1; another worker gets nothing.
	j2, err := s.ClaimOne(ctx, "exp", "w2")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if j2 != nil {
		t.Fatalf("second claim = %+v, want nil", j2)
	}
}

func TestMarkComplete_Guard(t *testing.T) {
	t.Parallel()
	s := seedStore(t, "a")
	ctx := context.Background()

	j, err := s.ClaimOne(ctx, "exp", "w1")
	if err != nil || j == nil {
		t.Fatalf("claim: %v, %v", j, err)
	}

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{
			"wrong owner",
			func() error { return s.MarkComplete(ctx, "exp", "a", "w2") },
			workerbee.ErrClaimLost,
		},
		{
			"missing job",
			func() error { return s.MarkComplete(ctx, "exp", "ghost", "w1") },
			workerbee.ErrJobNotFound,
		},
		{
			"owner succeeds",
			func() error { return s.MarkComplete(ctx, "exp", "a", "w1") },
			nil,
		},
		{
			"complete is terminal",
			func() error { return s.MarkComplete(ctx, "exp", "a", "w1") },
			workerbee.ErrClaimLost,
		},
		{
			"cannot fail a complete job",
			func() error { return s.MarkFailed(ctx, "exp", "a", "w1", errors.New("late")) },
			workerbee.ErrClaimLost,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, err := s.GetJob(ctx, "exp", "a")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != experiment.StatusComplete {
		t.Errorf("status = %q, want complete", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestMarkFailed_RecordsCause(t *testing.T) {
	t.Parallel()
	s := seedStore(t, "a")
	ctx := context.Background()

	j, _ := s.ClaimOne(ctx, "exp", "w1")
	if j == nil {
		t.Fatal("claim returned nil")
	}
	if err := s.MarkFailed(ctx, "exp", "a", "w1", errors.New("solver diverged")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, err := s.GetJob(ctx, "exp", "a")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != experiment.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.LastError != "solver diverged" {
		t.Errorf("LastError = %q", got.LastError)
	}
}

func TestIsExhausted(t *testing.T) {
	t.Parallel()
	s := seedStore(t, "a", "b")
	ctx := context.Background()

	assertExhausted := func(want bool) {
		t.Helper()
		got, err := s.IsExhausted(ctx, "exp")
		if err != nil {
			t.Fatalf("IsExhausted: %v", err)
		}
		if got != want {
			t.Fatalf("IsExhausted = %v, want %v", got, want)
		}
	}

	assertExhausted(false)

	j1, _ := s.ClaimOne(ctx, "exp", "w1")
	_ = s.MarkComplete(ctx, "exp", j1.ID, "w1")
	assertExhausted(false)

	// A job claimed by another worker keeps the experiment alive.
	j2, _ := s.ClaimOne(ctx, "exp", "w2")
	assertExhausted(false)

	_ = s.MarkComplete(ctx, "exp", j2.ID, "w2")
	assertExhausted(true)
}

func TestCountJobs(t *testing.T) {
	t.Parallel()
	s := seedStore(t, "a", "b", "c")
	ctx := context.Background()

	j, _ := s.ClaimOne(ctx, "exp", "w1")
	_ = s.MarkComplete(ctx, "exp", j.ID, "w1")

	tests := []struct {
		name string
		opts experiment.CountOpts
		want int64
	}{
		{"all", experiment.CountOpts{}, 3},
		{"pending", experiment.CountOpts{Status: experiment.StatusPending}, 2},
		{"complete", experiment.CountOpts{Status: experiment.StatusComplete}, 1},
		{"failed", experiment.CountOpts{Status: experiment.StatusFailed}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CountJobs(ctx, "exp", tt.opts)
			if err != nil {
				t.Fatalf("CountJobs: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPayloadSurvivesClaim(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	if err := s.CreateExperiment(ctx, "exp"); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	payload := []byte(`{"resolution":512,"tags":["smooth"]}`)
	if err := s.SeedJobs(ctx, "exp", []experiment.Job{experiment.NewJob("a", payload)}); err != nil {
		t.Fatalf("SeedJobs: %v", err)
	}

	j, err := s.ClaimOne(ctx, "exp", "w1")
	if err != nil || j == nil {
		t.Fatalf("claim: %v, %v", j, err)
	}
	if string(j.Payload) != string(payload) {
		t.Errorf("payload = %s, want %s", j.Payload, payload)
	}

	// A job function scribbling over its payload must not reach stored state.
	for i := range j.Payload {
		j.Payload[i] = 'x'
	}
	stored, err := s.GetJob(ctx, "exp", "a")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if string(stored.Payload) != string(payload) {
		t.Errorf("stored payload mutated to %s", stored.Payload)
	}
}
