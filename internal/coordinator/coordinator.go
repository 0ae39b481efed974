// Package coordinator fans a scan out to the four report engines and merges
// their independently degradable results into one report.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitescope/scanner/internal/budget"
	"github.com/sitescope/scanner/internal/crawl"
	"github.com/sitescope/scanner/internal/pipeline"
	"github.com/sitescope/scanner/internal/psi"
	"github.com/sitescope/scanner/internal/rules"
	"github.com/sitescope/scanner/internal/scan"
)

// scorerCategories are requested in one shared fetch for the three
// PSI-derived engines.
var scorerCategories = []string{"performance", "seo", "best-practices"}

// Accessibility score deductions per issue impact. The score starts at 100
// and is clamped at zero.
var impactWeights = map[scan.Impact]float64{
	scan.ImpactCritical: 5,
	scan.ImpactSerious:  3,
	scan.ImpactModerate: 1.5,
	scan.ImpactMinor:    0.5,
}

// defaultEngineTimeout bounds each PSI-derived engine's wait for the shared
// scorer fetch.
const defaultEngineTimeout = 25 * time.Second

// Config carries coordinator settings.
type Config struct {
	Caps          scan.Caps
	EngineTimeout time.Duration
	LowWater      time.Duration
	RuleOptions   rules.Options
}

// Coordinator owns one scan end to end.
type Coordinator struct {
	cfg    Config
	sched  *crawl.Scheduler
	scorer scan.CategoryScorer
	clock  scan.Clock
	logger *zap.Logger
}

// New builds a Coordinator.
func New(cfg Config, sched *crawl.Scheduler, scorer scan.CategoryScorer, clock scan.Clock, logger *zap.Logger) *Coordinator {
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = defaultEngineTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:    cfg,
		sched:  sched,
		scorer: scorer,
		clock:  clock,
		logger: logger,
	}
}

// scorerFetch is the shared single fetch of the category scorer payload.
type scorerFetch struct {
	done    chan struct{}
	payload *scan.ScorePayload
	err     error
}

// Scan runs the full scan for a normalized request and assembles the report.
// It never returns an error; every failure degrades into the report body.
func (c *Coordinator) Scan(ctx context.Context, req scan.Request, screenshotPrefix string) scan.Report {
	started := c.clock.Now()
	bud := budget.New(c.clock, req.TotalBudget, c.cfg.LowWater)

	ruleOpts := c.cfg.RuleOptions
	ruleOpts.Profile = req.Profile
	ruleOpts.BestPractice = req.BestPractice
	ruleOpts.Experimental = req.Experimental

	opts := pipeline.Options{
		Mode:               req.Mode,
		Tags:               ruleOpts.Tags(),
		IncludeScreenshots: req.IncludeScreenshots,
		ScreenshotPrefix:   screenshotPrefix,
	}

	// Accessibility crawl and the shared scorer fetch start together; the
	// three PSI engines each race the shared fetch against their own timeout.
	crawlCh := make(chan crawl.Result, 1)
	go func() {
		crawlCh <- c.sched.Run(ctx, bud, req, c.cfg.Caps, opts)
	}()

	fetch := &scorerFetch{done: make(chan struct{})}
	go func() {
		defer close(fetch.done)
		fetchCtx, cancel := bud.StageContext(ctx, c.cfg.EngineTimeout)
		defer cancel()
		fetch.payload, fetch.err = c.scorer.Fetch(fetchCtx, req.StartURL, req.Strategy, scorerCategories)
	}()

	var engines scan.Engines
	var wg sync.WaitGroup
	for _, probe := range []struct {
		category string
		slot     *scan.EngineResult
	}{
		{"performance", &engines.Performance},
		{"seo", &engines.SEO},
		{"best-practices", &engines.BestPractices},
	} {
		wg.Add(1)
		go func(category string, slot *scan.EngineResult) {
			defer wg.Done()
			*slot = c.scoredEngine(ctx, fetch, category)
		}(probe.category, probe.slot)
	}

	crawlResult := <-crawlCh
	wg.Wait()

	engines.Accessibility = accessibilityEngine(crawlResult.Pages)
	attachPerfCounts(&engines.Performance, crawlResult.Pages)

	return c.assemble(req, started, crawlResult, engines)
}

// scoredEngine waits for the shared fetch under this engine's own timeout
// and extracts one category. Completion of the fetch unblocks all three
// engines at once.
func (c *Coordinator) scoredEngine(ctx context.Context, fetch *scorerFetch, category string) scan.EngineResult {
	timer := time.NewTimer(c.cfg.EngineTimeout)
	defer timer.Stop()

	select {
	case <-fetch.done:
	case <-timer.C:
		return scan.EngineResult{Status: scan.EngineUnavailable, Reason: scan.ReasonTimeout}
	case <-ctx.Done():
		return scan.EngineResult{Status: scan.EngineUnavailable, Reason: scan.ReasonTimeout}
	}

	if fetch.err != nil {
		return scan.EngineResult{Status: scan.EngineUnavailable, Reason: psi.ReasonOf(fetch.err)}
	}
	payload := fetch.payload

	score, ok := payload.Categories[category]
	if !ok {
		return scan.EngineResult{
			Status: scan.EnginePartial,
			Reason: scan.ReasonScanFailed,
			Metadata: map[string]any{
				"cacheHit": payload.CacheHit,
			},
		}
	}

	metadata := map[string]any{
		"cacheHit":  payload.CacheHit,
		"fetchedAt": payload.FetchedAt,
	}
	if category == "performance" && len(payload.Audits) > 0 {
		metadata["audits"] = payload.Audits
	}
	return scan.EngineResult{
		Status:   scan.EngineAvailable,
		Score:    scan.ScoreOf(score),
		Metadata: metadata,
	}
}

// accessibilityEngine folds the crawled pages into the accessibility section.
// Zero ok pages leaves the score null and the engine unavailable.
func accessibilityEngine(pages []scan.PageResult) scan.EngineResult {
	var issues []scan.Issue
	okPages, timeouts := 0, 0
	for _, p := range pages {
		issues = append(issues, p.Issues...)
		switch p.Status {
		case scan.PageStatusOK:
			okPages++
		case scan.PageStatusTimeout:
			timeouts++
		}
	}

	result := scan.EngineResult{
		IssueCount: len(issues),
		Issues:     issues,
	}
	if okPages == 0 {
		result.Status = scan.EngineUnavailable
		result.Reason = scan.ReasonScanFailed
		if timeouts > 0 && timeouts == len(pages) {
			result.Reason = scan.ReasonTimeout
		}
		return result
	}

	deduction := 0.0
	for _, issue := range issues {
		deduction += impactWeights[issue.Impact]
	}
	result.Score = scan.ScoreOf(100 - deduction)
	if okPages == len(pages) {
		result.Status = scan.EngineAvailable
	} else {
		result.Status = scan.EnginePartial
		result.Reason = scan.ReasonScanFailed
	}
	return result
}

// attachPerfCounts folds locally audited performance issues into the
// PSI-backed performance engine's issue count.
func attachPerfCounts(engine *scan.EngineResult, pages []scan.PageResult) {
	count := 0
	for _, p := range pages {
		count += len(p.PerformanceIssues)
	}
	engine.IssueCount += count
}

func (c *Coordinator) assemble(req scan.Request, started time.Time, crawlResult crawl.Result, engines scan.Engines) scan.Report {
	report := scan.Report{
		StartURL:   req.StartURL,
		Engines:    engines,
		Pages:      crawlResult.Pages,
		Truncated:  crawlResult.Truncated,
		StopReason: crawlResult.StopReason,
	}
	if report.Pages == nil {
		report.Pages = []scan.PageResult{}
	}

	report.Summary = scan.Summary{
		AccessibilityScore: engines.Accessibility.Score,
		PerformanceScore:   engines.Performance.Score,
		SEOScore:           engines.SEO.Score,
		BestPracticesScore: engines.BestPractices.Score,
	}
	report.Summary.OverallScore = meanScore(
		engines.Accessibility.Score,
		engines.Performance.Score,
		engines.SEO.Score,
		engines.BestPractices.Score,
	)

	if allAvailable(engines) {
		report.Status = scan.ReportComplete
	} else {
		report.Status = scan.ReportPartial
		report.Message = "some engines degraded; partial results returned"
	}

	report.Metadata = scan.ReportMetadata{
		DurationMs:    c.clock.Now().Sub(started).Milliseconds(),
		PagesScanned:  len(crawlResult.Pages),
		Strategy:      req.Strategy,
		ErrorsSummary: scan.ErrorsSummary{Messages: errorMessages(crawlResult.Pages, engines)},
	}
	return report
}

func allAvailable(e scan.Engines) bool {
	for _, r := range []scan.EngineResult{e.Accessibility, e.Performance, e.SEO, e.BestPractices} {
		if r.Status != scan.EngineAvailable {
			return false
		}
	}
	return true
}

func meanScore(scores ...*float64) *float64 {
	sum, n := 0.0, 0
	for _, s := range scores {
		if s == nil {
			continue
		}
		sum += *s
		n++
	}
	if n == 0 {
		return nil
	}
	return scan.ScoreOf(sum / float64(n))
}

// errorMessages builds the deduplicated human-readable degradation list.
func errorMessages(pages []scan.PageResult, engines scan.Engines) []string {
	seen := make(map[string]struct{})
	var messages []string
	add := func(msg string) {
		if msg == "" {
			return
		}
		if _, dup := seen[msg]; dup {
			return
		}
		seen[msg] = struct{}{}
		messages = append(messages, msg)
	}

	for _, p := range pages {
		if p.Status != scan.PageStatusOK {
			add(fmt.Sprintf("%s: %s", p.URL, p.Error))
		}
	}
	named := []struct {
		name   string
		result scan.EngineResult
	}{
		{"accessibility", engines.Accessibility},
		{"performance", engines.Performance},
		{"seo", engines.SEO},
		{"bestPractices", engines.BestPractices},
	}
	var engineMsgs []string
	for _, e := range named {
		if e.result.Status != scan.EngineAvailable && e.result.Reason != "" {
			engineMsgs = append(engineMsgs, fmt.Sprintf("%s engine degraded: %s", e.name, e.result.Reason))
		}
	}
	sort.Strings(engineMsgs)
	for _, m := range engineMsgs {
		add(m)
	}
	if messages == nil {
		messages = []string{}
	}
	return messages
}
