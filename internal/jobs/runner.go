// Package jobs exposes the analysis pipeline as submit/status/results jobs
// for embedding in an external service layer.
package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"rankscope/internal/logging"
	"rankscope/internal/types"
)

// Request describes one analysis job.
type Request struct {
	TargetURL     string
	Keyword       string
	Optimize      bool
	MaxIterations int
}

// Result is the payload returned for a completed job.
type Result struct {
	Score           *types.ContentScore `json:"score"`
	Gaps            []types.SemanticGap `json:"gaps"`
	Recommendations []string            `json:"recommendations"`
}

// RunFunc executes one analysis. Implementations report step completion
// through onProgress(completed, total).
type RunFunc func(ctx context.Context, req Request, onProgress func(completed, total int)) (*Result, error)

type job struct {
	state  types.JobState
	result *Result
}

// Runner tracks submitted jobs and runs each in its own goroutine.
type Runner struct {
	mu   sync.Mutex
	jobs map[string]*job
	run  RunFunc
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner creates a runner executing jobs with run.
func NewRunner(run RunFunc) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		jobs:   make(map[string]*job),
		run:    run,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit registers a job and starts it. The returned id is immediately
// pollable via Status.
func (r *Runner) Submit(req Request) (string, error) {
	if req.TargetURL == "" || req.Keyword == "" {
		return "", types.E(types.KindConfig, "target_url and keyword are required")
	}

	id := uuid.NewString()
	j := &job{state: types.JobState{ID: id, Status: types.JobPending}}

	r.mu.Lock()
	r.jobs[id] = j
	r.mu.Unlock()

	r.wg.Add(1)
	go r.execute(id, req)

	logging.Jobs("job %s submitted for %s (%q)", id, req.TargetURL, req.Keyword)
	return id, nil
}

func (r *Runner) execute(id string, req Request) {
	defer r.wg.Done()

	r.setStatus(id, types.JobProcessing, "")

	res, err := r.run(r.ctx, req, func(completed, total int) {
		if total <= 0 {
			return
		}
		r.setProgress(id, 100*completed/total)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	if err != nil {
		j.state.Status = types.JobFailed
		j.state.ErrorMessage = err.Error()
		logging.Jobs("job %s failed: %v", id, err)
		return
	}
	j.state.Status = types.JobCompleted
	j.state.ProgressPercent = 100
	j.result = res
	logging.Jobs("job %s completed", id)
}

func (r *Runner) setStatus(id string, status types.JobStatus, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.state.Status = status
	if errMsg != "" {
		j.state.ErrorMessage = errMsg
	}
}

// setProgress only ever raises the reported percentage.
func (r *Runner) setProgress(id string, pct int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	if pct > j.state.ProgressPercent {
		j.state.ProgressPercent = pct
	}
}

// Status returns the current job state.
func (r *Runner) Status(id string) (types.JobState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return types.JobState{}, types.E(types.KindConfig, "unknown job id %q", id)
	}
	return j.state, nil
}

// Results returns the payload of a completed job.
func (r *Runner) Results(id string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, types.E(types.KindConfig, "unknown job id %q", id)
	}
	switch j.state.Status {
	case types.JobCompleted:
		return j.result, nil
	case types.JobFailed:
		return nil, types.E(types.KindScoring, "job %s failed: %s", id, j.state.ErrorMessage)
	default:
		return nil, types.E(types.KindScoring, "job %s is %s", id, j.state.Status)
	}
}

// Shutdown cancels running jobs and waits for their goroutines to exit.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

// Wait blocks until all submitted jobs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
