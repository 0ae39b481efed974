// Package pipeline runs the per-page scan sequence: navigate, settle, rule
// evaluation, heuristics, performance audit, link discovery. Every stage is
// admitted against the shared time budget rather than fixed timeouts.
package pipeline

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/sitescope/scanner/internal/budget"
	"github.com/sitescope/scanner/internal/heuristics"
	"github.com/sitescope/scanner/internal/perf"
	"github.com/sitescope/scanner/internal/rules"
	"github.com/sitescope/scanner/internal/scan"
)

// Stage allowances, each a fraction of the remaining budget with a hard cap.
// Later pages automatically receive smaller slices as the budget depletes.
var stageSlices = struct {
	navigate, settle, rules, heuristics, perf, links, screenshot struct {
		fraction float64
		max      time.Duration
	}
}{
	navigate:   sliceOf(0.40, 20*time.Second),
	settle:     sliceOf(0.20, 8*time.Second),
	rules:      sliceOf(0.50, 15*time.Second),
	heuristics: sliceOf(0.15, 4*time.Second),
	perf:       sliceOf(0.15, 4*time.Second),
	links:      sliceOf(0.10, 3*time.Second),
	screenshot: sliceOf(0.10, 5*time.Second),
}

func sliceOf(fraction float64, max time.Duration) struct {
	fraction float64
	max      time.Duration
} {
	return struct {
		fraction float64
		max      time.Duration
	}{fraction, max}
}

// maxDiscoveredLinks bounds the per-page link contribution to the frontier.
const maxDiscoveredLinks = 100

// Options carries the per-scan settings the pipeline needs for each page.
type Options struct {
	Mode               scan.Mode
	Scope              scan.RuleScope
	Tags               []string
	IncludeScreenshots bool
	// ScreenshotPrefix namespaces stored screenshots, typically by job id.
	ScreenshotPrefix string
}

// Pipeline scans single pages. It is safe for reuse across pages and scans;
// all per-scan state travels through arguments.
type Pipeline struct {
	runner  scan.RuleRunner
	adapter *rules.Adapter
	heur    *heuristics.Runner
	blobs   scan.BlobStore
	clock   scan.Clock
	logger  *zap.Logger
}

// New builds a Pipeline. blobs may be nil when screenshots are disabled.
func New(runner scan.RuleRunner, adapter *rules.Adapter, heur *heuristics.Runner, blobs scan.BlobStore, clock scan.Clock, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		runner:  runner,
		adapter: adapter,
		heur:    heur,
		blobs:   blobs,
		clock:   clock,
		logger:  logger,
	}
}

// ScanPage runs the full stage sequence for one URL. remainingIssues is the
// scan-wide issue headroom still available; the caller subtracts both
// len(result.Issues) and len(result.Incomplete) afterwards. The page is
// always closed by the caller.
func (p *Pipeline) ScanPage(ctx context.Context, page scan.Page, bud *budget.Budget, pageURL string, remainingIssues int, opts Options) scan.PageResult {
	start := p.clock.Now()
	result := scan.PageResult{URL: pageURL, Status: scan.PageStatusOK}
	defer func() {
		result.DurationMs = p.clock.Now().Sub(start).Milliseconds()
	}()

	// Stage 1: navigate. Failure here is fatal for the page.
	navCtx, cancel := bud.SliceContext(ctx, stageSlices.navigate.fraction, stageSlices.navigate.max)
	nav, err := page.Navigate(navCtx, pageURL)
	cancel()
	if err != nil {
		result.Status, result.Error = classifyNavFailure(navCtx, err)
		return result
	}
	if nav.StatusCode >= http.StatusBadRequest {
		result.Status = scan.PageStatusError
		result.Error = fmt.Sprintf("page responded with HTTP %d", nav.StatusCode)
		return result
	}

	// Stage 2: settle. Degrades content completeness, never page status.
	settleCtx, cancel := bud.SliceContext(ctx, stageSlices.settle.fraction, stageSlices.settle.max)
	if err := settle(settleCtx, page); err != nil {
		p.logger.Debug("settle incomplete", zap.String("url", pageURL), zap.Error(err))
	}
	cancel()

	// Stage 3: rule evaluation. A timeout here is fatal for the page.
	rulesCtx, cancel := bud.SliceContext(ctx, stageSlices.rules.fraction, stageSlices.rules.max)
	raw, err := p.runner.Run(rulesCtx, page, opts.Scope, opts.Tags)
	cancel()
	if err != nil {
		if deadlineHit(rulesCtx, err) {
			result.Status = scan.PageStatusTimeout
			result.Error = "rule evaluation exceeded its budget slice"
		} else {
			result.Status = scan.PageStatusError
			result.Error = fmt.Sprintf("rule evaluation failed: %v", err)
		}
		return result
	}
	normalized := p.adapter.Normalize(pageURL, raw, remainingIssues)
	result.Issues = normalized.Issues
	result.Incomplete = normalized.Incomplete
	result.TruncatedBy = normalized.Truncated

	// Stage 4: heuristics, advisory only.
	if p.heur != nil && bud.Allows(500*time.Millisecond) {
		heurCtx, cancel := bud.SliceContext(ctx, stageSlices.heuristics.fraction, stageSlices.heuristics.max)
		flags, err := p.heur.Run(heurCtx, page)
		cancel()
		if err != nil {
			p.logger.Debug("heuristics incomplete", zap.String("url", pageURL), zap.Error(err))
		}
		result.HeuristicFlags = flags
	}

	// Stage 5: performance audit over a synchronous metrics snapshot.
	if bud.Allows(500 * time.Millisecond) {
		perfCtx, cancel := bud.SliceContext(ctx, stageSlices.perf.fraction, stageSlices.perf.max)
		var metrics perf.Metrics
		err := page.Evaluate(perfCtx, perf.MetricsScript, &metrics)
		cancel()
		if err != nil {
			p.logger.Debug("metrics collection failed", zap.String("url", pageURL), zap.Error(err))
		} else {
			result.PerformanceIssues = perf.Audit(metrics)
		}
	}

	// Stage 6: link discovery feeds the BFS frontier in crawl mode.
	if opts.Mode == scan.ModeCrawl {
		linksCtx, cancel := bud.SliceContext(ctx, stageSlices.links.fraction, stageSlices.links.max)
		links, err := extractLinks(linksCtx, page, pageURL)
		cancel()
		if err != nil {
			p.logger.Debug("link discovery failed", zap.String("url", pageURL), zap.Error(err))
		}
		result.DiscoveredLinks = links
	}

	if opts.IncludeScreenshots && p.blobs != nil && bud.Allows(time.Second) {
		shotCtx, cancel := bud.SliceContext(ctx, stageSlices.screenshot.fraction, stageSlices.screenshot.max)
		result.ScreenshotURI = p.captureScreenshot(shotCtx, page, pageURL, opts.ScreenshotPrefix)
		cancel()
	}

	return result
}

// captureScreenshot stores the viewport capture and returns its URI. Any
// failure is non-fatal and leaves the URI empty.
func (p *Pipeline) captureScreenshot(ctx context.Context, page scan.Page, pageURL, prefix string) string {
	data, err := page.Screenshot(ctx)
	if err != nil {
		p.logger.Debug("screenshot failed", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	name := p.screenshotPath(pageURL, prefix)
	uri, err := p.blobs.PutObject(ctx, name, "image/png", data)
	if err != nil {
		p.logger.Warn("screenshot upload failed", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	return uri
}

func (p *Pipeline) screenshotPath(pageURL, prefix string) string {
	urlHash := fmt.Sprintf("%x", sha256.Sum256([]byte(pageURL)))
	return path.Join(
		"screenshots",
		prefix,
		p.clock.Now().UTC().Format("2006-01-02"),
		fmt.Sprintf("%s.png", urlHash),
	)
}

func classifyNavFailure(ctx context.Context, err error) (scan.PageStatus, string) {
	if deadlineHit(ctx, err) {
		return scan.PageStatusTimeout, "navigation exceeded its budget slice"
	}
	return scan.PageStatusError, fmt.Sprintf("navigation failed: %v", err)
}

func deadlineHit(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
