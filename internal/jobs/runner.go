package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitescope/scanner/internal/metrics"
	"github.com/sitescope/scanner/internal/scan"
)

// Scanner runs one scan to completion. Failures degrade inside the report.
type Scanner interface {
	Scan(ctx context.Context, req scan.Request, screenshotPrefix string) scan.Report
}

// RunnerConfig controls the worker pool.
type RunnerConfig struct {
	Workers   int
	QueueSize int
	// Topic receives a lifecycle event when a job reaches a terminal state.
	// Empty disables publishing.
	Topic string
	// Heartbeat is the progress update cadence while a scan runs.
	Heartbeat time.Duration
}

// Runner consumes queued scan jobs with a bounded worker pool and drives
// their lifecycle in the Store.
type Runner struct {
	cfg     RunnerConfig
	store   *Store
	scanner Scanner
	ids     scan.IDGenerator
	events  scan.Publisher
	clock   scan.Clock
	logger  *zap.Logger

	queue chan submission
	wg    sync.WaitGroup
}

type submission struct {
	id  string
	req scan.Request
}

// CompletionEvent is the payload published when a job finishes.
type CompletionEvent struct {
	JobID      string            `json:"jobId"`
	Status     Status            `json:"status"`
	ScanStatus scan.ReportStatus `json:"scanStatus,omitempty"`
	StartURL   string            `json:"startUrl"`
	DurationMs int64             `json:"durationMs"`
}

// NewRunner builds a Runner. events may be nil.
func NewRunner(cfg RunnerConfig, store *Store, scanner Scanner, ids scan.IDGenerator, events scan.Publisher, clock scan.Clock, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Runner{
		cfg:     cfg,
		store:   store,
		scanner: scanner,
		ids:     ids,
		events:  events,
		clock:   clock,
		logger:  logger,
		queue:   make(chan submission, cfg.QueueSize),
	}
}

// Submit creates a queued job and hands it to the pool. A full queue is a
// submission error; nothing is persisted in that case.
func (r *Runner) Submit(ctx context.Context, req scan.Request) (Job, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job, err := r.store.Create(ctx, id, req)
	if err != nil {
		return Job{}, err
	}
	select {
	case r.queue <- submission{id: id, req: req}:
	default:
		_ = r.store.Delete(ctx, id)
		return Job{}, fmt.Errorf("job queue is full")
	}
	return job, nil
}

// Start launches the worker pool. Workers exit when ctx is canceled.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go func(worker int) {
			defer r.wg.Done()
			r.work(ctx, worker)
		}(i)
	}
}

// Wait blocks until all workers exit.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) work(ctx context.Context, worker int) {
	logger := r.logger.With(zap.Int("worker", worker))
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-r.queue:
			r.process(ctx, sub, logger)
		}
	}
}

func (r *Runner) process(ctx context.Context, sub submission, logger *zap.Logger) {
	logger = logger.With(zap.String("job_id", sub.id), zap.String("start_url", sub.req.StartURL))
	started := r.clock.Now()

	if _, err := r.store.MarkRunning(ctx, sub.id); err != nil {
		logger.Error("mark running failed", zap.Error(err))
		return
	}

	heartbeatDone := make(chan struct{})
	heartbeatExited := make(chan struct{})
	go func() {
		defer close(heartbeatExited)
		r.heartbeat(ctx, sub, heartbeatDone)
	}()

	metrics.IncActiveScans()
	report := r.scanner.Scan(ctx, sub.req, sub.id)
	metrics.DecActiveScans()

	// The heartbeat must be fully stopped before the terminal write: a
	// progress put landing afterwards would rewrite the job as running.
	close(heartbeatDone)
	<-heartbeatExited

	var job Job
	var err error
	if report.Status == scan.ReportFailed {
		job, err = r.store.Fail(ctx, sub.id, report.Message)
	} else {
		job, err = r.store.Complete(ctx, sub.id, &report)
	}
	if err != nil {
		logger.Error("store terminal state failed", zap.Error(err))
		return
	}

	metrics.ObserveJob(string(job.Status))
	metrics.ObserveReport(report, string(sub.req.Mode), r.clock.Now().Sub(started))
	logger.Info("job finished",
		zap.String("status", string(job.Status)),
		zap.String("scan_status", string(report.Status)),
		zap.Int("pages", len(report.Pages)),
	)
	r.publish(ctx, job, report, started)
}

// heartbeat refreshes progress (and thereby the TTL) while the scan runs.
// Percent approximates elapsed share of the time budget, held below 100.
func (r *Runner) heartbeat(ctx context.Context, sub submission, done <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.Heartbeat)
	defer ticker.Stop()
	started := r.clock.Now()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			percent := 0
			if sub.req.TotalBudget > 0 {
				percent = int(float64(r.clock.Now().Sub(started)) / float64(sub.req.TotalBudget) * 100)
			}
			if percent > 95 {
				percent = 95
			}
			if _, err := r.store.SetProgress(ctx, sub.id, percent, "scanning"); err != nil && !IsNotFound(err) {
				r.logger.Warn("progress update failed", zap.String("job_id", sub.id), zap.Error(err))
			}
		}
	}
}

func (r *Runner) publish(ctx context.Context, job Job, report scan.Report, started time.Time) {
	if r.events == nil || r.cfg.Topic == "" {
		return
	}
	event := CompletionEvent{
		JobID:      job.ID,
		Status:     job.Status,
		ScanStatus: report.Status,
		StartURL:   job.Request.StartURL,
		DurationMs: r.clock.Now().Sub(started).Milliseconds(),
	}
	if _, err := r.events.Publish(ctx, r.cfg.Topic, event); err != nil {
		r.logger.Warn("completion event publish failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
