package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/internal/observability"
	"github.com/noah-isme/gema-review-api/internal/repository"
)

const defaultQueueCapacity = 64

var (
	// ErrQueueFull is returned when the run channel has no free slot.
	ErrQueueFull = errors.New("run queue is full")
	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidRunRequest is returned when a run is enqueued without identifiers.
	ErrInvalidRunRequest = errors.New("project id and submission id are required")
)

// RunExecutor runs the pipeline for one request and returns the reviewer report id.
type RunExecutor interface {
	Run(ctx context.Context, req RunRequest) (string, error)
}

// RunFailureHandler records a failed run.
type RunFailureHandler interface {
	HandleRunError(ctx context.Context, err error, failure RunFailure) models.ErrorInfo
}

// EnqueueResult is returned to callers that enqueue a run.
type EnqueueResult struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// RunStatus is the externally visible state of a run.
type RunStatus struct {
	RunID      string `json:"runId"`
	Status     string `json:"status"`
	DurationMs *int64 `json:"durationMs,omitempty"`
	ReportID   string `json:"reportId,omitempty"`
}

// RunQueue accepts runs and executes them one at a time.
type RunQueue interface {
	Enqueue(ctx context.Context, projectID, submissionID, toolchain string) (EnqueueResult, error)
	Status(ctx context.Context, runID string) (RunStatus, error)
	Start(ctx context.Context)
	Stop()
}

type runQueue struct {
	stores   repository.Stores
	executor RunExecutor
	failures RunFailureHandler
	timeline TimelineService
	tasks    chan RunRequest
	logger   zerolog.Logger
	now      func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRunQueue constructs a queue with a bounded task channel of the given capacity.
func NewRunQueue(stores repository.Stores, executor RunExecutor, failures RunFailureHandler, timeline TimelineService, capacity int, logger zerolog.Logger) RunQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &runQueue{
		stores:   stores,
		executor: executor,
		failures: failures,
		timeline: timeline,
		tasks:    make(chan RunRequest, capacity),
		logger:   logger.With().Str("component", "run_queue").Logger(),
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Enqueue records a queued run and hands it to the worker without blocking.
func (q *runQueue) Enqueue(ctx context.Context, projectID, submissionID, toolchain string) (EnqueueResult, error) {
	projectID = strings.TrimSpace(projectID)
	submissionID = strings.TrimSpace(submissionID)
	if projectID == "" || submissionID == "" {
		return EnqueueResult{}, ErrInvalidRunRequest
	}
	toolchain = strings.TrimSpace(toolchain)
	if toolchain == "" {
		toolchain = models.DefaultToolchain
	}

	req := RunRequest{
		ProjectID:    projectID,
		SubmissionID: submissionID,
		RunID:        uuid.NewString(),
		Toolchain:    toolchain,
	}
	logger := q.logger.With().Str("run_id", req.RunID).Str("submission_id", submissionID).Logger()

	persisted := q.markQueued(ctx, req, logger)

	select {
	case q.tasks <- req:
	default:
		if persisted {
			q.forget(ctx, req, logger)
		}
		return EnqueueResult{}, ErrQueueFull
	}

	observability.QueueDepth().Inc()
	logger.Info().Str("toolchain", toolchain).Msg("run queued")

	return EnqueueResult{RunID: req.RunID, Status: models.RunStatusQueued}, nil
}

func (q *runQueue) markQueued(ctx context.Context, req RunRequest, logger zerolog.Logger) bool {
	run := models.SubmissionRun{
		ID:           req.RunID,
		SubmissionID: req.SubmissionID,
		CreatedAt:    q.now().UTC(),
		Toolchain:    req.Toolchain,
		Status:       models.RunStatusQueued,
	}
	if _, err := q.stores.Submissions.Update(ctx, req.SubmissionID, func(s *models.Submission) error {
		s.Runs = append(s.Runs, run)
		return nil
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to persist queued run")
		return false
	}

	if err := q.stores.Runs.Save(ctx, models.RunIndex{
		RunID:        req.RunID,
		SubmissionID: req.SubmissionID,
		ProjectID:    req.ProjectID,
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to index queued run")
	}
	return true
}

// forget removes a run that was persisted but could not be queued.
func (q *runQueue) forget(ctx context.Context, req RunRequest, logger zerolog.Logger) {
	if _, err := q.stores.Submissions.Update(ctx, req.SubmissionID, func(s *models.Submission) error {
		runs := s.Runs[:0]
		for _, run := range s.Runs {
			if run.ID != req.RunID {
				runs = append(runs, run)
			}
		}
		s.Runs = runs
		return nil
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to drop rejected run")
	}
	if _, err := q.stores.Runs.Remove(ctx, req.RunID); err != nil {
		logger.Warn().Err(err).Msg("failed to drop rejected run index")
	}
}

// Status resolves a run through the run index and its submission.
func (q *runQueue) Status(ctx context.Context, runID string) (RunStatus, error) {
	index, err := q.stores.Runs.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RunStatus{}, ErrRunNotFound
		}
		return RunStatus{}, err
	}

	submission, err := q.stores.Submissions.Get(ctx, index.SubmissionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RunStatus{}, ErrRunNotFound
		}
		return RunStatus{}, err
	}

	run := submission.FindRun(runID)
	if run == nil {
		return RunStatus{}, ErrRunNotFound
	}

	return RunStatus{
		RunID:      run.ID,
		Status:     run.Status,
		DurationMs: run.DurationMs,
		ReportID:   run.ReportID,
	}, nil
}

// Start launches the single worker. Calling it more than once has no effect.
func (q *runQueue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		workerCtx, cancel := context.WithCancel(ctx)
		q.cancel = cancel
		go q.work(workerCtx)
	})
}

// Stop ends the worker and waits for the current run to return. A queue that
// was never started cannot be started afterwards.
func (q *runQueue) Stop() {
	q.stopOnce.Do(func() {
		q.startOnce.Do(func() { close(q.done) })
		if q.cancel != nil {
			q.cancel()
		}
		<-q.done
	})
}

func (q *runQueue) work(ctx context.Context) {
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			if pending := len(q.tasks); pending > 0 {
				q.logger.Warn().Int("pending", pending).Msg("worker stopped with queued runs")
			}
			return
		case req := <-q.tasks:
			observability.QueueDepth().Dec()
			q.process(ctx, req)
		}
	}
}

func (q *runQueue) process(ctx context.Context, req RunRequest) {
	start := q.now()
	logger := q.logger.With().
		Str("run_id", req.RunID).
		Str("submission_id", req.SubmissionID).
		Str("project_id", req.ProjectID).
		Logger()

	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("run panicked: %v", recovered)
			q.finishWithError(context.WithoutCancel(ctx), req, err, "worker", q.now().Sub(start))
		}
	}()

	if err := q.updateRun(ctx, req, func(run *models.SubmissionRun) {
		run.Status = models.RunStatusRunning
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to mark run as running")
	}
	q.emit(ctx, models.TimelineEvent{
		Type:    models.EventRunStarted,
		Message: fmt.Sprintf("Check %s started", req.Toolchain),
		Details: models.TimelineDetails{Toolchain: req.Toolchain, Status: models.RunStatusRunning},
	}, req)

	reportID, err := q.executor.Run(ctx, req)
	duration := q.now().Sub(start)

	// Outcomes are recorded even when shutdown interrupted the run.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		q.finishWithError(ctx, req, err, "", duration)
		return
	}

	durationMs := duration.Milliseconds()
	if err := q.updateRun(ctx, req, func(run *models.SubmissionRun) {
		run.Status = models.RunStatusReady
		run.DurationMs = &durationMs
		run.ReportID = reportID
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to mark run as ready")
	}

	observability.RunsTotal().WithLabelValues(models.RunStatusReady).Inc()
	observability.RunDuration().Observe(duration.Seconds())

	q.emit(ctx, models.TimelineEvent{
		Type:    models.EventRunFinished,
		Message: fmt.Sprintf("Check %s finished successfully", req.Toolchain),
		Details: models.TimelineDetails{Toolchain: req.Toolchain, DurationMs: durationMs, Status: models.RunStatusReady},
	}, req)
	q.emit(ctx, models.TimelineEvent{
		Type:    models.EventChecksReady,
		Message: fmt.Sprintf("Results of check %s are ready", req.Toolchain),
		Details: models.TimelineDetails{Toolchain: req.Toolchain},
	}, req)
	q.emit(ctx, models.TimelineEvent{
		Type:    models.EventFeedbackReady,
		Message: fmt.Sprintf("Feedback for check %s is ready", req.Toolchain),
		Details: models.TimelineDetails{Toolchain: req.Toolchain},
	}, req)

	logger.Info().Int64("duration_ms", durationMs).Str("report_id", reportID).Msg("run ready")
}

func (q *runQueue) finishWithError(ctx context.Context, req RunRequest, err error, operation string, duration time.Duration) {
	observability.RunsTotal().WithLabelValues(models.RunStatusErrors).Inc()
	observability.RunDuration().Observe(duration.Seconds())

	q.failures.HandleRunError(ctx, err, RunFailure{
		ProjectID:    req.ProjectID,
		SubmissionID: req.SubmissionID,
		RunID:        req.RunID,
		Toolchain:    req.Toolchain,
		Operation:    operation,
		Duration:     duration,
	})
}

func (q *runQueue) updateRun(ctx context.Context, req RunRequest, mutate func(*models.SubmissionRun)) error {
	_, err := q.stores.Submissions.Update(ctx, req.SubmissionID, func(s *models.Submission) error {
		run := s.FindRun(req.RunID)
		if run == nil {
			return fmt.Errorf("run %s: %w", req.RunID, repository.ErrNotFound)
		}
		mutate(run)
		return nil
	})
	return err
}

func (q *runQueue) emit(ctx context.Context, event models.TimelineEvent, req RunRequest) {
	if q.timeline == nil {
		return
	}
	event.ProjectID = req.ProjectID
	event.SubmissionID = req.SubmissionID
	event.RunID = req.RunID
	if _, err := q.timeline.Emit(ctx, event); err != nil {
		q.logger.Warn().Err(err).Str("run_id", req.RunID).Str("event_type", event.Type).Msg("failed to emit timeline event")
	}
}
