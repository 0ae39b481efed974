// Package jobs implements the async scan job lifecycle on top of the generic
// key-value store: queued, running, complete or failed, all TTL-bounded.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sitescope/scanner/internal/scan"
)

// DefaultTTL is how long a job outlives its last write.
const DefaultTTL = 30 * time.Minute

// Status is the job lifecycle state.
type Status string

// Job statuses.
const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Progress is the heartbeat payload attached to running jobs.
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Job is one async scan submission.
type Job struct {
	ID        string       `json:"jobId"`
	Status    Status       `json:"status"`
	Progress  Progress     `json:"progress"`
	Request   scan.Request `json:"request"`
	Report    *scan.Report `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// Terminal reports whether the job reached a final state.
func (j Job) Terminal() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

// Store persists jobs with a TTL refreshed on every write. Reads past expiry
// behave as not-found.
type Store struct {
	kv    scan.KVStore
	ttl   time.Duration
	clock scan.Clock
}

// NewStore builds a Store. Non-positive ttl selects DefaultTTL.
func NewStore(kv scan.KVStore, ttl time.Duration, clock scan.Clock) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl, clock: clock}
}

func jobKey(id string) string { return "job:" + id }

// Create persists a fresh queued job.
func (s *Store) Create(ctx context.Context, id string, req scan.Request) (Job, error) {
	now := s.clock.Now()
	job := Job{
		ID:        id,
		Status:    StatusQueued,
		Progress:  Progress{Percent: 0, Message: "queued"},
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.put(ctx, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Get returns the job, or scan.ErrNotFound for missing and expired ids. An
// expired job is deleted on read.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	raw, err := s.kv.Get(ctx, jobKey(id))
	if err != nil {
		return Job{}, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	if !s.clock.Now().Before(job.ExpiresAt) {
		_ = s.kv.Delete(ctx, jobKey(id))
		return Job{}, scan.ErrNotFound
	}
	return job, nil
}

// MarkRunning transitions a queued job to running.
func (s *Store) MarkRunning(ctx context.Context, id string) (Job, error) {
	return s.mutate(ctx, id, func(job *Job) {
		job.Status = StatusRunning
		job.Progress = Progress{Percent: 0, Message: "starting scan"}
	})
}

// SetProgress records a heartbeat on a running job.
func (s *Store) SetProgress(ctx context.Context, id string, percent int, message string) (Job, error) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return s.mutate(ctx, id, func(job *Job) {
		job.Progress = Progress{Percent: percent, Message: message}
	})
}

// Complete stores the finished report.
func (s *Store) Complete(ctx context.Context, id string, report *scan.Report) (Job, error) {
	return s.mutate(ctx, id, func(job *Job) {
		job.Status = StatusComplete
		job.Progress = Progress{Percent: 100, Message: "complete"}
		job.Report = report
		job.Error = ""
	})
}

// Fail stores the terminal error.
func (s *Store) Fail(ctx context.Context, id string, errText string) (Job, error) {
	return s.mutate(ctx, id, func(job *Job) {
		job.Status = StatusFailed
		job.Error = errText
	})
}

// Delete removes a job before its TTL, typically after the caller collected
// a terminal result.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, jobKey(id))
}

// mutate applies fn and refreshes the expiry; every write extends the TTL.
func (s *Store) mutate(ctx context.Context, id string, fn func(*Job)) (Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	fn(&job)
	now := s.clock.Now()
	job.UpdatedAt = now
	job.ExpiresAt = now.Add(s.ttl)
	if err := s.put(ctx, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (s *Store) put(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := s.kv.Set(ctx, jobKey(job.ID), raw); err != nil {
		return fmt.Errorf("store job %s: %w", job.ID, err)
	}
	return nil
}

// IsNotFound reports whether err means the job does not exist (or expired).
func IsNotFound(err error) bool {
	return errors.Is(err, scan.ErrNotFound)
}
