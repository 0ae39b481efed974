package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sitescope/scanner/internal/budget"
	"github.com/sitescope/scanner/internal/heuristics"
	"github.com/sitescope/scanner/internal/rules"
	"github.com/sitescope/scanner/internal/scan"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// scriptResponse pairs a script substring with canned JSON.
type scriptResponse struct {
	marker string
	body   string
}

type fakePage struct {
	navResult scan.NavResult
	navErr    error
	responses []scriptResponse
	evalErr   error
	shot      []byte
	shotErr   error
	closed    bool
}

func (f *fakePage) Navigate(context.Context, string) (scan.NavResult, error) {
	return f.navResult, f.navErr
}

func (f *fakePage) Evaluate(_ context.Context, script string, out any) error {
	if f.evalErr != nil {
		return f.evalErr
	}
	for _, r := range f.responses {
		if strings.Contains(script, r.marker) {
			return json.Unmarshal([]byte(r.body), out)
		}
	}
	return json.Unmarshal([]byte(`true`), out)
}

func (f *fakePage) Screenshot(context.Context) ([]byte, error) { return f.shot, f.shotErr }
func (f *fakePage) Close() error                               { f.closed = true; return nil }

type fakeRunner struct {
	out    scan.RuleOutput
	err    error
	called bool
}

func (f *fakeRunner) Run(context.Context, scan.Page, scan.RuleScope, []string) (scan.RuleOutput, error) {
	f.called = true
	return f.out, f.err
}

type fakeBlobs struct {
	paths []string
}

func (f *fakeBlobs) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	f.paths = append(f.paths, path)
	return "mem://" + path, nil
}

func settledPage() *fakePage {
	return &fakePage{
		navResult: scan.NavResult{StatusCode: 200, FinalURL: "https://example.com/"},
		responses: []scriptResponse{
			{marker: "scrollHeight", body: `{"height":1600,"viewport":800}`},
			{marker: "scrollTo", body: `true`},
			{marker: "readyState", body: `true`},
			{marker: "fonts", body: `true`},
			{marker: "Tap target", body: `[]`},
			{marker: "Fixed element", body: `[]`},
			{marker: "largest-contentful-paint", body: `{"totalBytes":1000,"requestCount":5,"domNodes":100,"ttfbMs":100,"lcpMs":900,"cls":0.01}`},
			{marker: "loading", body: `0`},
			{marker: "a[href]", body: `["https://example.com/about","https://other.example/x","https://example.com/logout"]`},
		},
	}
}

func newPipeline(runner scan.RuleRunner, blobs scan.BlobStore) *Pipeline {
	return New(runner, rules.NewAdapter(scan.Caps{}), heuristics.NewRunner(), blobs, systemClock{}, nil)
}

func newBudget() *budget.Budget {
	return budget.New(systemClock{}, time.Minute, 0)
}

func TestScanPageHappyPath(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{out: scan.RuleOutput{Violations: []scan.RawRule{{
		ID:     "image-alt",
		Impact: "critical",
		Nodes:  []scan.RuleNode{{Target: []string{"#hero"}}},
	}}}}
	p := newPipeline(runner, nil)

	result := p.ScanPage(context.Background(), settledPage(), newBudget(), "https://example.com/", 100, Options{
		Mode: scan.ModeSingle,
		Tags: []string{"wcag2a"},
	})
	if result.Status != scan.PageStatusOK {
		t.Fatalf("expected ok, got %s (%s)", result.Status, result.Error)
	}
	if len(result.Issues) != 1 || result.Issues[0].RuleID != "image-alt" {
		t.Fatalf("unexpected issues: %+v", result.Issues)
	}
	if len(result.PerformanceIssues) != 0 {
		t.Fatalf("clean metrics must yield no perf issues: %+v", result.PerformanceIssues)
	}
	if result.DiscoveredLinks != nil {
		t.Fatal("single mode must not discover links")
	}
}

func TestScanPageCrawlModeDiscoversLinks(t *testing.T) {
	t.Parallel()

	p := newPipeline(&fakeRunner{}, nil)
	result := p.ScanPage(context.Background(), settledPage(), newBudget(), "https://example.com/", 100, Options{
		Mode: scan.ModeCrawl,
	})
	if len(result.DiscoveredLinks) != 1 || result.DiscoveredLinks[0] != "https://example.com/about" {
		t.Fatalf("cross-origin and skip-list links must be dropped: %+v", result.DiscoveredLinks)
	}
}

func TestScanPageNavigationErrorIsFatal(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	p := newPipeline(runner, nil)
	page := &fakePage{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}

	result := p.ScanPage(context.Background(), page, newBudget(), "https://nxdomain.example/", 100, Options{})
	if result.Status != scan.PageStatusError || result.Error == "" {
		t.Fatalf("expected error status with message, got %+v", result)
	}
	if runner.called {
		t.Fatal("rule evaluation must not run after a failed navigation")
	}
}

func TestScanPageNavigationTimeout(t *testing.T) {
	t.Parallel()

	p := newPipeline(&fakeRunner{}, nil)
	page := &fakePage{navErr: context.DeadlineExceeded}

	result := p.ScanPage(context.Background(), page, newBudget(), "https://slow.example/", 100, Options{})
	if result.Status != scan.PageStatusTimeout {
		t.Fatalf("deadline failure must classify as timeout, got %+v", result)
	}
}

func TestScanPageHTTPErrorStatus(t *testing.T) {
	t.Parallel()

	p := newPipeline(&fakeRunner{}, nil)
	page := &fakePage{navResult: scan.NavResult{StatusCode: 404}}

	result := p.ScanPage(context.Background(), page, newBudget(), "https://example.com/gone", 100, Options{})
	if result.Status != scan.PageStatusError || !strings.Contains(result.Error, "404") {
		t.Fatalf("expected HTTP 404 error, got %+v", result)
	}
}

func TestScanPageRulesTimeoutIsFatal(t *testing.T) {
	t.Parallel()

	p := newPipeline(&fakeRunner{err: context.DeadlineExceeded}, nil)
	result := p.ScanPage(context.Background(), settledPage(), newBudget(), "https://example.com/", 100, Options{})
	if result.Status != scan.PageStatusTimeout {
		t.Fatalf("rule timeout must be fatal for the page, got %+v", result)
	}
	if result.Error == "" {
		t.Fatal("non-ok page must carry an error message")
	}
}

func TestScanPageRulesErrorIsFatal(t *testing.T) {
	t.Parallel()

	p := newPipeline(&fakeRunner{err: errors.New("injection blocked")}, nil)
	result := p.ScanPage(context.Background(), settledPage(), newBudget(), "https://example.com/", 100, Options{})
	if result.Status != scan.PageStatusError {
		t.Fatalf("rule failure must be fatal for the page, got %+v", result)
	}
}

func TestScanPageSettleFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	// The page rejects every script except through the rule runner, which is
	// independent of Evaluate here.
	page := &fakePage{
		navResult: scan.NavResult{StatusCode: 200},
		evalErr:   errors.New("execution contexts destroyed"),
	}
	p := newPipeline(&fakeRunner{}, nil)
	result := p.ScanPage(context.Background(), page, newBudget(), "https://example.com/", 100, Options{})
	if result.Status != scan.PageStatusOK {
		t.Fatalf("settle and metrics failures must not change page status, got %+v", result)
	}
}

func TestScanPageRespectsIssueHeadroom(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{out: scan.RuleOutput{Violations: []scan.RawRule{{
		ID: "label",
		Nodes: []scan.RuleNode{
			{Target: []string{"#a"}},
			{Target: []string{"#b"}},
			{Target: []string{"#c"}},
		},
	}}}}
	p := newPipeline(runner, nil)
	result := p.ScanPage(context.Background(), settledPage(), newBudget(), "https://example.com/", 2, Options{})
	if len(result.Issues) != 2 || !result.TruncatedBy.TotalIssues {
		t.Fatalf("overall headroom must bound issues, got %+v", result)
	}
}

func TestScanPageSurfacesIncompleteResults(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{out: scan.RuleOutput{
		Violations: []scan.RawRule{{
			ID:    "image-alt",
			Nodes: []scan.RuleNode{{Target: []string{"#hero"}}},
		}},
		Incomplete: []scan.RawRule{{
			ID: "color-contrast",
			Nodes: []scan.RuleNode{
				{Target: []string{"#banner"}},
				{Target: []string{"#footer"}},
			},
		}},
	}}
	p := newPipeline(runner, nil)

	result := p.ScanPage(context.Background(), settledPage(), newBudget(), "https://example.com/", 2, Options{})
	if len(result.Issues) != 1 {
		t.Fatalf("expected 1 violation, got %+v", result.Issues)
	}
	if len(result.Incomplete) != 1 || result.Incomplete[0].RuleID != "color-contrast" {
		t.Fatalf("incomplete results must surface on the page, got %+v", result.Incomplete)
	}
	// Incompletes share the headroom, so the cap flag matches what is reported.
	if !result.TruncatedBy.TotalIssues {
		t.Fatal("headroom spent on incompletes must flag total issues truncation")
	}
}

func TestScanPageScreenshot(t *testing.T) {
	t.Parallel()

	blobs := &fakeBlobs{}
	page := settledPage()
	page.shot = []byte{0x89, 'P', 'N', 'G'}
	p := newPipeline(&fakeRunner{}, blobs)

	result := p.ScanPage(context.Background(), page, newBudget(), "https://example.com/", 100, Options{
		IncludeScreenshots: true,
		ScreenshotPrefix:   "job-123",
	})
	if result.ScreenshotURI == "" {
		t.Fatal("expected a screenshot URI")
	}
	if len(blobs.paths) != 1 || !strings.HasPrefix(blobs.paths[0], "screenshots/job-123/") {
		t.Fatalf("unexpected blob path: %v", blobs.paths)
	}
}

func TestScanPageScreenshotFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	blobs := &fakeBlobs{}
	page := settledPage()
	page.shotErr = errors.New("tab crashed")
	p := newPipeline(&fakeRunner{}, blobs)

	result := p.ScanPage(context.Background(), page, newBudget(), "https://example.com/", 100, Options{
		IncludeScreenshots: true,
	})
	if result.Status != scan.PageStatusOK || result.ScreenshotURI != "" {
		t.Fatalf("screenshot failure must only drop the URI, got %+v", result)
	}
}
