package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sitescope/scanner/internal/budget"
	"github.com/sitescope/scanner/internal/pipeline"
	"github.com/sitescope/scanner/internal/rules"
	"github.com/sitescope/scanner/internal/scan"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// site maps canonical URLs to the links they expose.
type site struct {
	links   map[string][]string
	failNav map[string]error
}

type sitePage struct {
	site    *site
	current string
}

func (p *sitePage) Navigate(_ context.Context, url string) (scan.NavResult, error) {
	if err := p.site.failNav[url]; err != nil {
		return scan.NavResult{}, err
	}
	p.current = url
	return scan.NavResult{StatusCode: 200, FinalURL: url}, nil
}

func (p *sitePage) Evaluate(_ context.Context, script string, out any) error {
	respond := func(body string) error { return json.Unmarshal([]byte(body), out) }
	switch {
	case strings.Contains(script, "scrollHeight"):
		return respond(`{"height":0,"viewport":800}`)
	case strings.Contains(script, "readyState"), strings.Contains(script, "fonts"),
		strings.Contains(script, "scrollTo"):
		return respond(`true`)
	case strings.Contains(script, "Tap target"), strings.Contains(script, "Fixed element"):
		return respond(`[]`)
	case strings.Contains(script, "largest-contentful-paint"):
		return respond(`{"totalBytes":1000,"requestCount":3,"domNodes":50,"ttfbMs":50,"lcpMs":500,"cls":0}`)
	case strings.Contains(script, "loading"):
		return respond(`0`)
	case strings.Contains(script, "a[href]"):
		raw, err := json.Marshal(p.site.links[p.current])
		if err != nil {
			return err
		}
		return respond(string(raw))
	default:
		return respond(`true`)
	}
}

func (p *sitePage) Screenshot(context.Context) ([]byte, error) { return nil, nil }
func (p *sitePage) Close() error                               { return nil }

type siteBrowser struct {
	site    *site
	pageErr error
}

func (b *siteBrowser) NewPage(context.Context) (scan.Page, error) {
	if b.pageErr != nil {
		return nil, b.pageErr
	}
	return &sitePage{site: b.site}, nil
}

func (b *siteBrowser) Close() error { return nil }

type noRules struct{}

func (noRules) Run(context.Context, scan.Page, scan.RuleScope, []string) (scan.RuleOutput, error) {
	return scan.RuleOutput{}, nil
}

type staticLinks struct {
	links map[string][]string
}

func (s *staticLinks) Links(_ context.Context, pageURL string) ([]string, error) {
	return s.links[pageURL], nil
}

func newScheduler(s *site, fallback LinkDiscoverer) *Scheduler {
	pipe := pipeline.New(noRules{}, rules.NewAdapter(scan.Caps{}), nil, nil, systemClock{}, nil)
	return New(&siteBrowser{site: s}, pipe, fallback, nil)
}

func crawlRequest(maxPages int) scan.Request {
	return scan.Request{
		StartURL: "https://example.com/",
		Mode:     scan.ModeCrawl,
		MaxPages: maxPages,
	}
}

func normalize(t *testing.T, req scan.Request) scan.Request {
	t.Helper()
	if err := req.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return req
}

func crawlOpts() pipeline.Options {
	return pipeline.Options{Mode: scan.ModeCrawl, Tags: []string{"wcag2a"}}
}

func TestRunStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	links := make([]string, 10)
	for i := range links {
		links[i] = fmt.Sprintf("https://example.com/p%d", i)
	}
	s := &site{links: map[string][]string{"https://example.com/": links}}

	result := newScheduler(s, nil).Run(context.Background(),
		budget.New(systemClock{}, time.Minute, 0),
		normalize(t, crawlRequest(3)), scan.Caps{}, crawlOpts())

	if len(result.Pages) != 3 {
		t.Fatalf("expected exactly 3 pages, got %d", len(result.Pages))
	}
	if result.StopReason != scan.StopMaxPages || !result.Truncated {
		t.Fatalf("expected truncated max_pages_reached, got %+v", result)
	}
	if result.Pages[0].URL != "https://example.com/" {
		t.Fatalf("results must be in visit order, got %+v", result.Pages[0].URL)
	}
}

func TestRunCompletesWhenQueueDrains(t *testing.T) {
	t.Parallel()

	s := &site{links: map[string][]string{
		"https://example.com/":      {"https://example.com/about"},
		"https://example.com/about": {"https://example.com/"},
	}}
	result := newScheduler(s, nil).Run(context.Background(),
		budget.New(systemClock{}, time.Minute, 0),
		normalize(t, crawlRequest(10)), scan.Caps{}, crawlOpts())

	if len(result.Pages) != 2 {
		t.Fatalf("already-visited links must not requeue, got %d pages", len(result.Pages))
	}
	if result.StopReason != scan.StopCompleted || result.Truncated {
		t.Fatalf("expected clean completion, got %+v", result)
	}
}

func TestRunDepthCap(t *testing.T) {
	t.Parallel()

	s := &site{links: map[string][]string{
		"https://example.com/":  {"https://example.com/a"},
		"https://example.com/a": {"https://example.com/b"},
		"https://example.com/b": {"https://example.com/c"},
		"https://example.com/c": {"https://example.com/d"},
	}}
	result := newScheduler(s, nil).Run(context.Background(),
		budget.New(systemClock{}, time.Minute, 0),
		normalize(t, crawlRequest(10)), scan.Caps{}, crawlOpts())

	if len(result.Pages) != 3 {
		t.Fatalf("depth cap of %d must visit 3 pages, got %d", MaxDepth, len(result.Pages))
	}
	last := result.Pages[len(result.Pages)-1]
	if last.URL != "https://example.com/b" {
		t.Fatalf("unexpected last page %s", last.URL)
	}
}

func TestRunLowBudgetAdmitsNoPages(t *testing.T) {
	t.Parallel()

	s := &site{links: map[string][]string{}}
	// Total below the low-water mark: admission must refuse immediately.
	result := newScheduler(s, nil).Run(context.Background(),
		budget.New(systemClock{}, time.Second, 5*time.Second),
		normalize(t, crawlRequest(5)), scan.Caps{}, crawlOpts())

	if len(result.Pages) != 0 {
		t.Fatalf("no page may start on a low budget, got %d", len(result.Pages))
	}
	if result.StopReason != scan.StopTimeBudgetLow || !result.Truncated {
		t.Fatalf("expected time_budget_low, got %+v", result)
	}
}

func TestRunBrowserFailureAborts(t *testing.T) {
	t.Parallel()

	pipe := pipeline.New(noRules{}, rules.NewAdapter(scan.Caps{}), nil, nil, systemClock{}, nil)
	sched := New(&siteBrowser{pageErr: errors.New("chrome exited")}, pipe, nil, nil)

	result := sched.Run(context.Background(),
		budget.New(systemClock{}, time.Minute, 0),
		normalize(t, crawlRequest(5)), scan.Caps{}, crawlOpts())

	if result.StopReason != scan.StopBrowserFailure || len(result.Pages) != 0 {
		t.Fatalf("expected browser_failure with no pages, got %+v", result)
	}
}

func TestRunSingleModeVisitsOnlyStart(t *testing.T) {
	t.Parallel()

	s := &site{links: map[string][]string{
		"https://example.com/": {"https://example.com/a", "https://example.com/b"},
	}}
	req := scan.Request{StartURL: "https://example.com/", Mode: scan.ModeSingle}
	result := newScheduler(s, nil).Run(context.Background(),
		budget.New(systemClock{}, time.Minute, 0),
		normalize(t, req), scan.Caps{}, pipeline.Options{Mode: scan.ModeSingle})

	if len(result.Pages) != 1 || result.StopReason != scan.StopCompleted {
		t.Fatalf("single mode must visit exactly the start URL, got %+v", result)
	}
}

func TestRunFallbackDiscoveryOnDegradedPage(t *testing.T) {
	t.Parallel()

	s := &site{
		links:   map[string][]string{},
		failNav: map[string]error{"https://example.com/": errors.New("net::ERR_CONNECTION_RESET")},
	}
	fallback := &staticLinks{links: map[string][]string{
		"https://example.com/": {"https://example.com/contact"},
	}}
	result := newScheduler(s, fallback).Run(context.Background(),
		budget.New(systemClock{}, time.Minute, 0),
		normalize(t, crawlRequest(5)), scan.Caps{}, crawlOpts())

	if len(result.Pages) != 2 {
		t.Fatalf("fallback links must extend the crawl, got %+v", result.Pages)
	}
	if result.Pages[0].Status != scan.PageStatusError || result.Pages[1].URL != "https://example.com/contact" {
		t.Fatalf("unexpected pages: %+v", result.Pages)
	}
}
