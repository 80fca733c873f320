package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"rankscope/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitFor(t *testing.T, r *Runner, id string, status types.JobStatus) types.JobState {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		st, err := r.Status(id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.Status == status {
			return st
		}
		select {
		case <-deadline:
			t.Fatalf("job never reached %s, last state %+v", status, st)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	r := NewRunner(func(context.Context, Request, func(int, int)) (*Result, error) { return &Result{}, nil })
	defer r.Shutdown()

	if _, err := r.Submit(Request{Keyword: "k"}); !types.IsKind(err, types.KindConfig) {
		t.Errorf("missing target_url: err=%v", err)
	}
	if _, err := r.Submit(Request{TargetURL: "https://x.test"}); !types.IsKind(err, types.KindConfig) {
		t.Errorf("missing keyword: err=%v", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	release := make(chan struct{})
	r := NewRunner(func(_ context.Context, req Request, onProgress func(int, int)) (*Result, error) {
		onProgress(1, 4)
		onProgress(2, 4)
		<-release
		onProgress(4, 4)
		return &Result{Recommendations: []string{"Add 'alpha beta' to your content"}}, nil
	})
	defer r.Shutdown()

	id, err := r.Submit(Request{TargetURL: "https://x.test", Keyword: "alpha"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := waitFor(t, r, id, types.JobProcessing)
	if _, err := r.Results(id); err == nil {
		t.Error("Results must fail while the job is processing")
	}
	if st.ProgressPercent > 50 {
		t.Errorf("progress=%d before release", st.ProgressPercent)
	}

	close(release)
	st = waitFor(t, r, id, types.JobCompleted)
	if st.ProgressPercent != 100 {
		t.Errorf("final progress=%d, want 100", st.ProgressPercent)
	}

	res, err := r.Results(id)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(res.Recommendations) != 1 {
		t.Errorf("Recommendations=%v", res.Recommendations)
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	r := NewRunner(func(_ context.Context, _ Request, onProgress func(int, int)) (*Result, error) {
		onProgress(3, 4)
		onProgress(1, 4) // stale update must not lower the percentage
		return &Result{}, nil
	})
	defer r.Shutdown()

	id, err := r.Submit(Request{TargetURL: "https://x.test", Keyword: "k"})
	if err != nil {
		t.Fatal(err)
	}
	r.Wait()

	st, err := r.Status(id)
	if err != nil {
		t.Fatal(err)
	}
	if st.ProgressPercent != 100 {
		t.Errorf("progress=%d, want 100", st.ProgressPercent)
	}
}

func TestFailedJob(t *testing.T) {
	r := NewRunner(func(context.Context, Request, func(int, int)) (*Result, error) {
		return nil, errors.New("serp provider unavailable")
	})
	defer r.Shutdown()

	id, err := r.Submit(Request{TargetURL: "https://x.test", Keyword: "k"})
	if err != nil {
		t.Fatal(err)
	}

	st := waitFor(t, r, id, types.JobFailed)
	if st.ErrorMessage != "serp provider unavailable" {
		t.Errorf("ErrorMessage=%q", st.ErrorMessage)
	}
	if _, err := r.Results(id); err == nil {
		t.Error("Results must fail for a failed job")
	}
}

func TestUnknownJobID(t *testing.T) {
	r := NewRunner(func(context.Context, Request, func(int, int)) (*Result, error) { return &Result{}, nil })
	defer r.Shutdown()

	if _, err := r.Status("nope"); !types.IsKind(err, types.KindConfig) {
		t.Errorf("Status: err=%v", err)
	}
	if _, err := r.Results("nope"); !types.IsKind(err, types.KindConfig) {
		t.Errorf("Results: err=%v", err)
	}
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	started := make(chan struct{})
	r := NewRunner(func(ctx context.Context, _ Request, _ func(int, int)) (*Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	id, err := r.Submit(Request{TargetURL: "https://x.test", Keyword: "k"})
	if err != nil {
		t.Fatal(err)
	}
	<-started
	r.Shutdown()

	st, err := r.Status(id)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != types.JobFailed {
		t.Errorf("status=%q after shutdown, want failed", st.Status)
	}
}
