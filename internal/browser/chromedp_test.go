package browser

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestNewLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{MaxParallel: -1}, nil); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	b, err := New(Config{MaxParallel: 2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()
	if cap(b.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(b.limiter))
	}
}

func TestNewConfigDefaults(t *testing.T) {
	t.Parallel()

	b, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()
	if b.cfg.NavigationTimeout != 30*time.Second {
		t.Fatalf("expected default nav timeout, got %v", b.cfg.NavigationTimeout)
	}
	if b.cfg.ViewportWidth == 0 || b.cfg.ViewportHeight == 0 {
		t.Fatal("viewport defaults not applied")
	}
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	t.Parallel()

	b, err := New(Config{MaxParallel: 1}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()

	if err := b.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.acquire(ctx); err == nil {
		t.Fatal("second acquire must block until release")
	}
	b.release()
	if err := b.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestDomainLimiterPerHost(t *testing.T) {
	t.Parallel()

	b, err := New(Config{DomainQPS: 2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()

	a := b.domainLimiter("example.com")
	if a == nil {
		t.Fatal("expected a limiter when DomainQPS is set")
	}
	if b.domainLimiter("example.com") != a {
		t.Fatal("same host must reuse its limiter")
	}
	if b.domainLimiter("other.com") == a {
		t.Fatal("different hosts must not share limiters")
	}
}

func TestDomainLimiterDisabled(t *testing.T) {
	t.Parallel()

	b, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()
	if b.domainLimiter("example.com") != nil {
		t.Fatal("zero DomainQPS must disable throttling")
	}
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 204,
			URL:    "https://example.com/rendered",
		},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 204 || url != "https://example.com/rendered" {
		t.Fatalf("unexpected snapshot: status=%d url=%s", status, url)
	}

	// Subresource responses never overwrite the document response.
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://example.com/missing.png"},
	})
	status, _ = meta.snapshotWithFallbacks("https://req", "")
	if status != 204 {
		t.Fatalf("subresource overwrote document status: %d", status)
	}

	meta = newResponseMeta()
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	if status != http.StatusOK || url != "https://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}

func TestNoopBrowser(t *testing.T) {
	t.Parallel()

	b := NewNoop()
	if _, err := b.NewPage(context.Background()); err == nil {
		t.Fatal("expected error from noop browser")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
