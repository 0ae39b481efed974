// Package crawl schedules breadth-first page visits over same-origin links,
// bounded by depth, page count, and the shared time budget.
package crawl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sitescope/scanner/internal/budget"
	"github.com/sitescope/scanner/internal/pipeline"
	"github.com/sitescope/scanner/internal/scan"
)

// MaxDepth is how far the frontier may grow from the start URL. Depth is
// assigned at enqueue time and never reset.
const MaxDepth = 2

// minPageEstimate is the cost estimate used for admission of one more page.
const minPageEstimate = 2 * time.Second

// LinkDiscoverer supplements the frontier when a page degrades before its
// rendered links were collected.
type LinkDiscoverer interface {
	Links(ctx context.Context, pageURL string) ([]string, error)
}

// Scheduler owns the BFS loop for one scan. Pages are visited strictly one
// at a time to bound renderer usage.
type Scheduler struct {
	browser  scan.Browser
	pipe     *pipeline.Pipeline
	fallback LinkDiscoverer
	logger   *zap.Logger
}

// New builds a Scheduler. fallback may be nil.
func New(browser scan.Browser, pipe *pipeline.Pipeline, fallback LinkDiscoverer, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{browser: browser, pipe: pipe, fallback: fallback, logger: logger}
}

// Result is the crawl outcome: page results in visit order plus the terminal
// reason the loop stopped enqueueing.
type Result struct {
	Pages      []scan.PageResult
	StopReason scan.StopReason
	// Truncated is set when the crawl stopped early or any page hit a
	// result cap.
	Truncated bool
}

type frontierEntry struct {
	url   string
	depth int
}

// Run visits pages breadth-first until the queue drains, the page cap is
// reached, or the budget runs low. The request must already be normalized.
func (s *Scheduler) Run(ctx context.Context, bud *budget.Budget, req scan.Request, caps scan.Caps, opts pipeline.Options) Result {
	caps = caps.Clamp()
	remainingIssues := caps.MaxTotalIssues

	queue := []frontierEntry{{url: req.StartURL, depth: 0}}
	visited := map[string]struct{}{req.StartURL: {}}

	var result Result
	result.StopReason = scan.StopCompleted

	for len(queue) > 0 {
		if len(result.Pages) >= req.MaxPages {
			result.StopReason = scan.StopMaxPages
			break
		}
		if bud.IsLow() || !bud.Allows(minPageEstimate) {
			result.StopReason = scan.StopTimeBudgetLow
			break
		}
		if err := ctx.Err(); err != nil {
			result.StopReason = scan.StopTimeBudgetLow
			break
		}

		entry := queue[0]
		queue = queue[1:]

		pageResult, ok := s.visit(ctx, bud, entry.url, remainingIssues, opts)
		if !ok {
			result.StopReason = scan.StopBrowserFailure
			break
		}
		remainingIssues -= len(pageResult.Issues) + len(pageResult.Incomplete)
		if pageResult.TruncatedBy.Any() {
			result.Truncated = true
		}
		result.Pages = append(result.Pages, pageResult)

		if req.Mode != scan.ModeCrawl || entry.depth >= MaxDepth {
			continue
		}
		links := pageResult.DiscoveredLinks
		if len(links) == 0 && pageResult.Status != scan.PageStatusOK {
			links = s.fallbackLinks(ctx, bud, entry.url)
		}
		for _, link := range links {
			if _, seen := visited[link]; seen {
				continue
			}
			visited[link] = struct{}{}
			queue = append(queue, frontierEntry{url: link, depth: entry.depth + 1})
		}
	}

	if result.StopReason != scan.StopCompleted {
		result.Truncated = true
	}
	return result
}

// visit scans one URL on a fresh page. The second return is false only when
// the browser itself could not produce a page, which aborts the crawl.
func (s *Scheduler) visit(ctx context.Context, bud *budget.Budget, pageURL string, remainingIssues int, opts pipeline.Options) (scan.PageResult, bool) {
	page, err := s.browser.NewPage(ctx)
	if err != nil {
		s.logger.Error("browser page unavailable", zap.String("url", pageURL), zap.Error(err))
		return scan.PageResult{}, false
	}
	defer page.Close() //nolint:errcheck

	return s.pipe.ScanPage(ctx, page, bud, pageURL, remainingIssues, opts), true
}

// fallbackLinks grows the frontier over plain HTTP when the rendered page
// degraded before link discovery ran.
func (s *Scheduler) fallbackLinks(ctx context.Context, bud *budget.Budget, pageURL string) []string {
	if s.fallback == nil || !bud.Allows(time.Second) {
		return nil
	}
	linkCtx, cancel := bud.StageContext(ctx, 5*time.Second)
	defer cancel()

	links, err := s.fallback.Links(linkCtx, pageURL)
	if err != nil {
		s.logger.Debug("fallback link discovery failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	return links
}
