package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncview/syncview-agent/internal/encoder"
	"github.com/syncview/syncview-agent/internal/logging"
)

var (
	ErrFFmpegUnavailable = errors.New("ffmpeg not available")
	ErrNoVideos          = errors.New("no videos loaded")
	ErrNoMarkers         = errors.New("no markers to export")
	ErrNoJobs            = errors.New("no exportable jobs")
	ErrRunActive         = errors.New("an export run is already active")
)

// Engine encodes marker clips in parallel over a worker pool. One run
// may be active at a time; every retry decision happens on the
// coordinator goroutine, and workers touch the queue only to flip a
// resubmitted job back to in progress when they pick it up.
type Engine struct {
	runner   encoder.Runner
	detector *encoder.CachedDetector
	queue    *Queue
	workers  int
	logger   *slog.Logger

	mu     sync.Mutex
	active *runState
}

type runState struct {
	status RunStatus
	cancel context.CancelFunc
}

type encodeResult struct {
	job *Job
	res encoder.RunResult
}

// runPlan is the outcome of preflight: everything dispatch needs, fixed
// before the first encode starts.
type runPlan struct {
	runID     string
	jobs      []*Job
	outDir    string
	enc       encoder.Encoder
	quality   encoder.Quality
	workers   int
	startedAt time.Time
}

// NewEngine creates an export engine. workers <= 0 sizes the pool from
// the CPU count at run time.
func NewEngine(runner encoder.Runner, detector *encoder.CachedDetector, queue *Queue, workers int, logger *slog.Logger) *Engine {
	return &Engine{
		runner:   runner,
		detector: detector,
		queue:    queue,
		workers:  workers,
		logger:   logging.WithComponent(logger, "export_engine"),
	}
}

// Run expands markers into clip jobs and encodes them in parallel,
// blocking until every job reaches a terminal status or the run is
// cancelled. Cancellation is reported through the summary, not as an
// error; errors are returned only when the run never starts.
func (e *Engine) Run(ctx context.Context, req Request) (*RunSummary, error) {
	runCtx, release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	plan, err := e.planRun(runCtx, req)
	if err != nil {
		return nil, err
	}
	e.seedActive(plan)
	return e.dispatch(runCtx, plan), nil
}

// Start runs the same preflight as Run, then dispatches the run on a
// background goroutine and returns its initial status. Progress is
// observable through Active and the queue; Cancel stops it.
func (e *Engine) Start(req Request) (RunStatus, error) {
	runCtx, release, err := e.acquire(context.Background())
	if err != nil {
		return RunStatus{}, err
	}

	plan, err := e.planRun(runCtx, req)
	if err != nil {
		release()
		return RunStatus{}, err
	}

	status := e.seedActive(plan)
	go func() {
		defer release()
		e.dispatch(runCtx, plan)
	}()
	return status, nil
}

// RunPending re-runs everything still waiting in the queue, giving
// failed jobs a fresh retry budget first. Jobs keep the output paths
// they were created with.
func (e *Engine) RunPending(ctx context.Context, opts RetryOptions) (*RunSummary, error) {
	runCtx, release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	plan, err := e.planPending(runCtx, opts)
	if err != nil {
		return nil, err
	}
	e.seedActive(plan)
	return e.dispatch(runCtx, plan), nil
}

// StartPending is the background variant of RunPending.
func (e *Engine) StartPending(opts RetryOptions) (RunStatus, error) {
	runCtx, release, err := e.acquire(context.Background())
	if err != nil {
		return RunStatus{}, err
	}

	plan, err := e.planPending(runCtx, opts)
	if err != nil {
		release()
		return RunStatus{}, err
	}

	status := e.seedActive(plan)
	go func() {
		defer release()
		e.dispatch(runCtx, plan)
	}()
	return status, nil
}

func (e *Engine) planRun(ctx context.Context, req Request) (*runPlan, error) {
	if !e.runner.Available() {
		return nil, ErrFFmpegUnavailable
	}
	if len(req.Videos) == 0 {
		return nil, ErrNoVideos
	}
	if len(req.Markers) == 0 {
		return nil, ErrNoMarkers
	}
	if err := ValidateOutputDir(req.OutputDir); err != nil {
		return nil, err
	}

	runDir := filepath.Join(req.OutputDir, RunDirName(time.Now()))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export folder: %w", err)
	}

	jobs := ExpandJobs(ExpandParams{
		Markers:   req.Markers,
		Videos:    e.existingVideos(req.Videos),
		BeforeMs:  req.BeforeMs,
		AfterMs:   req.AfterMs,
		OutputDir: runDir,
	})
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}
	e.queue.Add(jobs...)

	enc, quality := e.resolveEncoding(ctx, req.Encoder, req.Quality, req.DisableHardware)
	return &runPlan{
		runID:     uuid.NewString(),
		jobs:      jobs,
		outDir:    runDir,
		enc:       enc,
		quality:   quality,
		workers:   req.Workers,
		startedAt: time.Now(),
	}, nil
}

func (e *Engine) planPending(ctx context.Context, opts RetryOptions) (*runPlan, error) {
	if !e.runner.Available() {
		return nil, ErrFFmpegUnavailable
	}

	if reset := e.queue.ResumeFailed(); reset > 0 {
		e.logger.Info("failed jobs rescheduled", "count", reset)
	}
	jobs := e.queue.Pending()
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}

	enc, quality := e.resolveEncoding(ctx, opts.Encoder, opts.Quality, opts.DisableHardware)
	return &runPlan{
		runID:     uuid.NewString(),
		jobs:      jobs,
		outDir:    filepath.Dir(jobs[0].OutputPath),
		enc:       enc,
		quality:   quality,
		workers:   opts.Workers,
		startedAt: time.Now(),
	}, nil
}

// Cancel stops the active run. Completed jobs stay completed; every
// other job of the run is marked cancelled. It reports whether a run
// was active.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return false
	}
	e.active.cancel()
	return true
}

// Active returns a snapshot of the run in flight, if any.
func (e *Engine) Active() (RunStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return RunStatus{}, false
	}
	return e.active.status, true
}

// acquire claims the single run slot. The returned release func must
// be called on every exit path so the slot and the run context are
// freed.
func (e *Engine) acquire(ctx context.Context) (context.Context, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return nil, nil, ErrRunActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.active = &runState{cancel: cancel}

	release := func() {
		cancel()
		e.mu.Lock()
		e.active = nil
		e.mu.Unlock()
	}
	return runCtx, release, nil
}

func (e *Engine) updateActive(fn func(*RunStatus)) {
	e.mu.Lock()
	if e.active != nil {
		fn(&e.active.status)
	}
	e.mu.Unlock()
}

// seedActive publishes the initial run snapshot so Active reports the
// run before the first encode lands.
func (e *Engine) seedActive(plan *runPlan) RunStatus {
	status := RunStatus{
		RunID:     plan.runID,
		OutputDir: plan.outDir,
		Encoder:   plan.enc,
		Total:     len(plan.jobs),
		StartedAt: plan.startedAt,
	}
	e.updateActive(func(s *RunStatus) { *s = status })
	return status
}

func (e *Engine) resolveEncoding(ctx context.Context, enc encoder.Encoder, quality encoder.Quality, disableHW bool) (encoder.Encoder, encoder.Quality) {
	caps := e.detector.Get(ctx)
	if enc == "" {
		enc = caps.SelectBest(disableHW)
	} else if !caps.Has(enc) {
		fallback := caps.SelectBest(disableHW)
		e.logger.Warn("requested encoder not available, falling back",
			"requested", string(enc),
			"selected", string(fallback))
		enc = fallback
	}
	if quality == "" {
		quality = encoder.QualityMedium
	}
	return enc, quality
}

func (e *Engine) existingVideos(videos map[int]string) map[int]string {
	out := make(map[int]string, len(videos))
	for slot, path := range videos {
		if _, err := os.Stat(path); err != nil {
			e.logger.Warn("skipping missing video", "slot", slot, "path", path)
			continue
		}
		out[slot] = path
	}
	return out
}

func (e *Engine) poolSize(requested, jobCount int) int {
	workers := requested
	if workers <= 0 {
		workers = e.workers
	}
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
	}
	if workers < 1 {
		workers = 1
	}
	if workers > jobCount {
		workers = jobCount
	}
	return workers
}

// dispatch drives one run to completion. Every retry decision happens
// here, on the coordinator goroutine; a job travels to exactly one
// worker at a time and comes back through the results channel before
// it is touched again.
func (e *Engine) dispatch(ctx context.Context, plan *runPlan) *RunSummary {
	jobs := plan.jobs
	summary := &RunSummary{
		RunID:     plan.runID,
		OutputDir: plan.outDir,
		Encoder:   plan.enc,
		Total:     len(jobs),
		StartedAt: plan.startedAt,
	}

	runLogger := logging.WithRunID(e.logger, plan.runID)

	workerCount := e.poolSize(plan.workers, len(jobs))
	runLogger.Info("export run started",
		"jobs", len(jobs),
		"workers", workerCount,
		"encoder", string(plan.enc),
		"quality", string(plan.quality))

	// Each job is pushed at most 1+MaxRetries times, so sized this way
	// no send on either channel can block.
	capacity := 0
	for _, job := range jobs {
		capacity += 1 + job.MaxRetries
	}
	jobCh := make(chan *Job, capacity)
	results := make(chan encodeResult, capacity)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.encodeWorker(ctx, plan.enc, plan.quality, jobCh, results)
		}()
	}

	for _, job := range jobs {
		e.markDispatched(job)
		jobCh <- job
	}

	outstanding := len(jobs)
	for outstanding > 0 && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case r := <-results:
			if e.handleResult(r, jobCh, summary) {
				outstanding--
			}
		}
	}

	close(jobCh)
	wg.Wait()
	summary.DurationMs = time.Since(plan.startedAt).Milliseconds()

	if ctx.Err() != nil {
		summary.Cancelled = e.cancelRemaining(jobs)
		runLogger.Warn("export run cancelled",
			"completed", summary.Completed,
			"failed", summary.Failed,
			"cancelled", summary.Cancelled)
		return summary
	}

	pruned := e.queue.RemoveCompleted()
	runLogger.Info("export run finished",
		"completed", summary.Completed,
		"failed", summary.Failed,
		"duration_ms", summary.DurationMs,
		"pruned", pruned)
	return summary
}

func (e *Engine) markDispatched(job *Job) {
	now := time.Now()
	status := StatusInProgress
	e.queue.Update(job.ID, JobUpdate{Status: &status, StartedAt: &now})
	job.Status = StatusInProgress
	job.StartedAt = &now
}

// handleResult settles one encode attempt and reports whether the job
// reached a terminal status. Failed attempts with retry budget left go
// back on the job channel.
func (e *Engine) handleResult(r encodeResult, jobCh chan<- *Job, summary *RunSummary) bool {
	job := r.job
	jobLogger := logging.WithJobID(e.logger, job.ID)

	if r.res.IsSuccess() {
		now := time.Now()
		status := StatusCompleted
		progress := 1.0
		e.queue.Update(job.ID, JobUpdate{Status: &status, Progress: &progress, CompletedAt: &now})
		summary.Completed++
		e.updateActive(func(s *RunStatus) { s.Done++; s.Completed++ })
		jobLogger.Info("clip exported",
			"output", job.OutputPath,
			"duration_ms", r.res.Duration.Milliseconds())
		return true
	}

	detail := r.res.ErrorDetail()
	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.Status = StatusRetrying
		status := StatusRetrying
		e.queue.Update(job.ID, JobUpdate{Status: &status, RetryCount: &job.RetryCount, Error: &detail})
		jobLogger.Warn("clip export failed, retrying",
			"attempt", job.RetryCount,
			"max_retries", job.MaxRetries,
			"error", detail)
		jobCh <- job
		return false
	}

	now := time.Now()
	status := StatusFailed
	e.queue.Update(job.ID, JobUpdate{Status: &status, Error: &detail, CompletedAt: &now})
	summary.Failed++
	e.updateActive(func(s *RunStatus) { s.Done++; s.Failed++ })
	jobLogger.Error("clip export failed",
		"retries", job.RetryCount,
		"error", detail)
	return true
}

func (e *Engine) encodeWorker(ctx context.Context, enc encoder.Encoder, quality encoder.Quality, jobCh <-chan *Job, results chan<- encodeResult) {
	for job := range jobCh {
		// A resubmitted job waited in the channel as retrying; it is
		// in progress again once a worker actually has it.
		if job.Status == StatusRetrying {
			status := StatusInProgress
			e.queue.Update(job.ID, JobUpdate{Status: &status})
			job.Status = StatusInProgress
		}
		res := e.runner.EncodeClip(ctx, encoder.ClipSpec{
			InputPath:  job.VideoPath,
			OutputPath: job.OutputPath,
			StartMs:    job.StartMs,
			EndMs:      job.EndMs,
			Encoder:    enc,
			Quality:    quality,
		})
		results <- encodeResult{job: job, res: res}
	}
}

func (e *Engine) cancelRemaining(jobs []*Job) int {
	now := time.Now()
	cancelled := 0
	for _, job := range jobs {
		current := e.queue.Get(job.ID)
		if current == nil || current.Status.Terminal() {
			continue
		}
		status := StatusCancelled
		e.queue.Update(job.ID, JobUpdate{Status: &status, CompletedAt: &now})
		cancelled++
	}
	return cancelled
}
