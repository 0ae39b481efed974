// Package browser renders pages with headless Chrome via chromedp.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sitescope/scanner/internal/scan"
)

// Config controls the shared browser process and its pages.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	ViewportWidth     int
	ViewportHeight    int
	// DomainQPS throttles navigations per target host. Zero disables
	// throttling.
	DomainQPS float64
}

// Browser implements scan.Browser on a single headless Chrome allocator.
// Pages share the process; MaxParallel bounds how many are open at once.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Browser backed by a fresh exec allocator.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1366
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 900
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
		limiters:    make(map[string]*rate.Limiter),
	}, nil
}

// Close tears down the allocator and every page spawned from it.
func (b *Browser) Close() error {
	b.allocCancel()
	return nil
}

// NewPage opens a tab, blocking for a slot when MaxParallel is set. The
// returned page must be closed to release the slot.
func (b *Browser) NewPage(ctx context.Context) (scan.Page, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(b.allocator)
	return &tabPage{
		browser:   b,
		ctx:       tabCtx,
		cancel:    tabCancel,
		navCancel: forwardCancel(tabCtx, ctx),
	}, nil
}

// forwardCancel ties the tab lifetime to the caller's context so an aborted
// scan does not leave tabs running.
func forwardCancel(tabCtx, callerCtx context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(callerCtx)
	go func() {
		select {
		case <-ctx.Done():
		case <-tabCtx.Done():
		}
		cancel()
		if ctx.Err() != nil && tabCtx.Err() == nil {
			chromedp.Cancel(tabCtx) //nolint:errcheck
		}
	}()
	return cancel
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("page slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

// domainLimiter returns the per-host navigation limiter, creating it on
// first use.
func (b *Browser) domainLimiter(host string) *rate.Limiter {
	if b.cfg.DomainQPS <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(b.cfg.DomainQPS), 1)
		b.limiters[host] = l
	}
	return l
}

// tabPage is one Chrome tab implementing scan.Page.
type tabPage struct {
	browser   *Browser
	ctx       context.Context
	cancel    context.CancelFunc
	navCancel context.CancelFunc

	closeOnce sync.Once
}

// Navigate loads url and waits for the document to become interactive. The
// reported status comes from the main document response; a page that renders
// without a captured response falls back to 200.
func (p *tabPage) Navigate(ctx context.Context, pageURL string) (scan.NavResult, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return scan.NavResult{}, fmt.Errorf("parse url: %w", err)
	}
	if l := p.browser.domainLimiter(parsed.Hostname()); l != nil {
		if err := l.Wait(ctx); err != nil {
			return scan.NavResult{}, fmt.Errorf("domain rate limit: %w", err)
		}
	}

	navCtx, cancel := p.deadlineCtx(ctx)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(p.ctx, meta.captureEvent)

	var finalURL string
	actions := []chromedp.Action{
		p.setupAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
	}
	if err := p.run(navCtx, actions...); err != nil {
		return scan.NavResult{}, fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	status, responseURL := meta.snapshotWithFallbacks(pageURL, finalURL)
	return scan.NavResult{StatusCode: status, FinalURL: responseURL}, nil
}

// Evaluate runs script in the page and unmarshals the result into out. A nil
// out discards the result.
func (p *tabPage) Evaluate(ctx context.Context, script string, out any) error {
	evalCtx, cancel := p.deadlineCtx(ctx)
	defer cancel()

	if out == nil {
		var discard json.RawMessage
		out = &discard
	}
	if err := p.run(evalCtx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

// Screenshot captures the visible viewport as PNG.
func (p *tabPage) Screenshot(ctx context.Context) ([]byte, error) {
	shotCtx, cancel := p.deadlineCtx(ctx)
	defer cancel()

	var buf []byte
	if err := p.run(shotCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Close releases the tab and its slot. Safe to call more than once.
func (p *tabPage) Close() error {
	p.closeOnce.Do(func() {
		p.navCancel()
		p.cancel()
		p.browser.release()
	})
	return nil
}

// run executes actions on the tab context while honoring the caller's
// deadline, which chromedp otherwise ignores for a long-lived tab.
func (p *tabPage) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(p.ctx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *tabPage) deadlineCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.browser.cfg.NavigationTimeout)
}

func (p *tabPage) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if ua := p.browser.cfg.UserAgent; ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, u := m.status, m.url
	m.mu.RUnlock()

	switch {
	case u != "":
	case finalURL != "":
		u = finalURL
	default:
		u = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, u
}
