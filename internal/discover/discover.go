// Package discover finds same-origin links with a plain HTTP fetch. It backs
// up the rendered-DOM link extraction: when a page scan degrades before its
// links are collected, the crawler can still grow the frontier from here.
package discover

import (
	"context"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/sitescope/scanner/internal/scan"
)

// Config controls the static discoverer.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxLinks  int
}

// Discoverer fetches one page over HTTP and returns its crawlable
// same-origin links, canonicalized and deduplicated.
type Discoverer struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Discoverer.
func New(cfg Config, logger *zap.Logger) *Discoverer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{cfg: cfg, logger: logger}
}

// Links fetches pageURL without rendering and extracts anchor targets. Only
// crawlable same-origin links survive; the page itself is excluded.
func (d *Discoverer) Links(ctx context.Context, pageURL string) ([]string, error) {
	base, err := scan.CanonicalURL(pageURL)
	if err != nil {
		return nil, err
	}

	collector := colly.NewCollector(
		colly.UserAgent(d.cfg.UserAgent),
		colly.MaxDepth(1),
		colly.StdlibContext(ctx),
	)
	collector.AllowURLRevisit = false
	collector.SetRequestTimeout(d.cfg.Timeout)

	seen := make(map[string]struct{})
	var links []string
	var fetchErr error

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if len(links) >= d.cfg.MaxLinks {
			return
		}
		raw := e.Request.AbsoluteURL(e.Attr("href"))
		if raw == "" {
			return
		}
		canonical, err := scan.CanonicalURL(raw)
		if err != nil || canonical == base {
			return
		}
		if !scan.SameOrigin(base, canonical) || !scan.Crawlable(canonical) {
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		links = append(links, canonical)
	})

	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		d.logger.Warn("static link discovery failed",
			zap.String("url", pageURL),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
	})

	if err := collector.Visit(base); err != nil {
		return nil, err
	}
	collector.Wait()

	if fetchErr != nil && len(links) == 0 {
		return nil, fetchErr
	}
	return links, nil
}
