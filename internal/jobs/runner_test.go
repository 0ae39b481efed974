package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sitescope/scanner/internal/scan"
	"github.com/sitescope/scanner/internal/store/memory"
)

type seqIDs struct {
	mu   sync.Mutex
	next int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("job-%d", s.next), nil
}

type fakeScanner struct {
	mu      sync.Mutex
	reports map[string]scan.Report
	delay   time.Duration
	calls   int
}

func (f *fakeScanner) Scan(ctx context.Context, req scan.Request, screenshotPrefix string) scan.Report {
	f.mu.Lock()
	f.calls++
	report, ok := f.reports[req.StartURL]
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if !ok {
		report = scan.Report{StartURL: req.StartURL, Status: scan.ReportComplete}
	}
	return report
}

type capturingPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (c *capturingPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, raw)
	return fmt.Sprintf("msg-%d", len(c.topics)), nil
}

func (c *capturingPublisher) published() []CompletionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]CompletionEvent, 0, len(c.payloads))
	for _, raw := range c.payloads {
		var ev CompletionEvent
		if json.Unmarshal(raw, &ev) == nil {
			events = append(events, ev)
		}
	}
	return events
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func waitForTerminal(t *testing.T, store *Store, id string) Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Get(context.Background(), id)
		if err == nil && job.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return Job{}
}

func TestRunnerProcessesSubmission(t *testing.T) {
	t.Parallel()

	store := NewStore(memory.NewKV(), time.Hour, systemClock{})
	scanner := &fakeScanner{reports: map[string]scan.Report{
		"https://example.com/": {StartURL: "https://example.com/", Status: scan.ReportComplete},
	}}
	events := &capturingPublisher{}
	runner := NewRunner(RunnerConfig{Workers: 1, Topic: "scan-events"}, store, scanner, &seqIDs{}, events, systemClock{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	job, err := runner.Submit(ctx, scan.Request{StartURL: "https://example.com/", Mode: scan.ModeSingle})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("submitted job must start queued, got %s", job.Status)
	}

	done := waitForTerminal(t, store, job.ID)
	if done.Status != StatusComplete {
		t.Fatalf("expected complete, got %s (error %q)", done.Status, done.Error)
	}
	if done.Report == nil || done.Report.StartURL != "https://example.com/" {
		t.Fatalf("report missing from completed job: %+v", done)
	}

	cancel()
	runner.Wait()

	published := events.published()
	if len(published) != 1 {
		t.Fatalf("expected one completion event, got %d", len(published))
	}
	if published[0].JobID != job.ID || published[0].Status != StatusComplete {
		t.Fatalf("unexpected event %+v", published[0])
	}
}

func TestRunnerFailedReportMarksJobFailed(t *testing.T) {
	t.Parallel()

	store := NewStore(memory.NewKV(), time.Hour, systemClock{})
	scanner := &fakeScanner{reports: map[string]scan.Report{
		"https://broken.example/": {
			StartURL: "https://broken.example/",
			Status:   scan.ReportFailed,
			Message:  "start url unreachable",
		},
	}}
	runner := NewRunner(RunnerConfig{Workers: 1}, store, scanner, &seqIDs{}, nil, systemClock{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	job, err := runner.Submit(ctx, scan.Request{StartURL: "https://broken.example/", Mode: scan.ModeSingle})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := waitForTerminal(t, store, job.ID)
	if done.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", done.Status)
	}
	if done.Error != "start url unreachable" {
		t.Fatalf("error text not carried over: %q", done.Error)
	}
}

func TestRunnerFullQueueRejectsAndCleansUp(t *testing.T) {
	t.Parallel()

	store := NewStore(memory.NewKV(), time.Hour, systemClock{})
	scanner := &fakeScanner{delay: time.Minute}
	runner := NewRunner(RunnerConfig{Workers: 1, QueueSize: 1}, store, scanner, &seqIDs{}, nil, systemClock{}, nil)

	// No workers started, so the single queue slot fills on the first submit.
	ctx := context.Background()
	first, err := runner.Submit(ctx, scan.Request{StartURL: "https://example.com/", Mode: scan.ModeSingle})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	rejected, err := runner.Submit(ctx, scan.Request{StartURL: "https://example.com/two/", Mode: scan.ModeSingle})
	if err == nil {
		t.Fatalf("second submit should fail with a full queue, got %+v", rejected)
	}

	if _, err := store.Get(ctx, first.ID); err != nil {
		t.Fatalf("accepted job must stay persisted: %v", err)
	}
	if _, err := store.Get(ctx, "job-2"); !IsNotFound(err) {
		t.Fatalf("rejected job must not linger in the store, got %v", err)
	}
}

// gatedKV stalls the first progress write so the test can interleave it with
// the scan finishing.
type gatedKV struct {
	scan.KVStore
	mu      sync.Mutex
	stalled bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedKV) Set(ctx context.Context, key string, value []byte) error {
	if bytes.Contains(value, []byte(`"message":"scanning"`)) {
		g.mu.Lock()
		first := !g.stalled
		g.stalled = true
		g.mu.Unlock()
		if first {
			close(g.entered)
			<-g.release
		}
	}
	return g.KVStore.Set(ctx, key, value)
}

type blockingScanner struct {
	release chan struct{}
}

func (b *blockingScanner) Scan(ctx context.Context, req scan.Request, _ string) scan.Report {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return scan.Report{StartURL: req.StartURL, Status: scan.ReportComplete}
}

func TestRunnerLateHeartbeatCannotRewriteTerminalJob(t *testing.T) {
	t.Parallel()

	kv := &gatedKV{
		KVStore: memory.NewKV(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := NewStore(kv, time.Hour, systemClock{})
	scanner := &blockingScanner{release: make(chan struct{})}
	runner := NewRunner(RunnerConfig{Workers: 1, Heartbeat: 10 * time.Millisecond}, store, scanner, &seqIDs{}, nil, systemClock{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	job, err := runner.Submit(ctx, scan.Request{
		StartURL:    "https://example.com/",
		Mode:        scan.ModeSingle,
		TotalBudget: time.Second,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// A progress write is mid-flight when the scan finishes; the stalled write
	// lands only after the worker has moved on to the terminal state.
	<-kv.entered
	close(scanner.release)
	time.Sleep(50 * time.Millisecond)
	close(kv.release)

	done := waitForTerminal(t, store, job.ID)
	if done.Status != StatusComplete || done.Report == nil {
		t.Fatalf("expected a completed job with a report, got %+v", done)
	}

	time.Sleep(50 * time.Millisecond)
	again, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get after completion: %v", err)
	}
	if again.Status != StatusComplete {
		t.Fatalf("terminal state was rewritten to %s", again.Status)
	}
}

func TestRunnerHeartbeatUpdatesProgress(t *testing.T) {
	t.Parallel()

	store := NewStore(memory.NewKV(), time.Hour, systemClock{})
	scanner := &fakeScanner{delay: 300 * time.Millisecond}
	runner := NewRunner(RunnerConfig{Workers: 1, Heartbeat: 50 * time.Millisecond}, store, scanner, &seqIDs{}, nil, systemClock{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	job, err := runner.Submit(ctx, scan.Request{
		StartURL:    "https://example.com/",
		Mode:        scan.ModeSingle,
		TotalBudget: time.Second,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	sawScanning := false
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := store.Get(ctx, job.ID)
		if err == nil && got.Status == StatusRunning && got.Progress.Message == "scanning" {
			sawScanning = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !sawScanning {
		t.Fatal("heartbeat never recorded progress on the running job")
	}
	waitForTerminal(t, store, job.ID)
}
