package psi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sitescope/scanner/internal/metrics"
	"github.com/sitescope/scanner/internal/scan"
)

// DefaultEndpoint is the public PageSpeed Insights v5 endpoint.
const DefaultEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

// maxAudits bounds how many audit references a payload carries.
const maxAudits = 15

// Error is a classified upstream failure. Reason feeds engine degradation
// directly.
type Error struct {
	Reason     scan.FailureReason
	RetryAfter time.Time
	msg        string
}

func (e *Error) Error() string { return e.msg }

// ReasonOf extracts the failure classification from err, falling back to
// unknown.
func ReasonOf(err error) scan.FailureReason {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return scan.ReasonTimeout
	}
	return scan.ReasonUnknown
}

// Config carries client settings.
type Config struct {
	APIKey   string
	Endpoint string
	CacheTTL time.Duration
	// RequestsPerSecond throttles upstream calls. Zero selects a
	// conservative 1 req/s.
	RequestsPerSecond float64
}

// Client implements scan.CategoryScorer against the PSI API.
type Client struct {
	cfg     Config
	http    *http.Client
	cache   *Cache
	circuit *Circuit
	limiter *rate.Limiter
	clock   scan.Clock
	logger  *zap.Logger
}

// New builds a Client. httpClient may be nil, in which case a default client
// without its own timeout is used; callers control time via ctx.
func New(cfg Config, httpClient *http.Client, clock scan.Clock, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		cache:   NewCache(cfg.CacheTTL, clock),
		circuit: NewCircuit(clock),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 2),
		clock:   clock,
		logger:  logger,
	}
}

// psiResponse mirrors the slice of the PSI v5 response the scanner consumes.
type psiResponse struct {
	LighthouseResult struct {
		Categories map[string]struct {
			Score *float64 `json:"score"`
		} `json:"categories"`
		Audits map[string]struct {
			ID           string   `json:"id"`
			Title        string   `json:"title"`
			Score        *float64 `json:"score"`
			DisplayValue string   `json:"displayValue"`
		} `json:"audits"`
	} `json:"lighthouseResult"`
}

// Fetch implements scan.CategoryScorer. Results are served from cache when
// fresh; quota rejections trip the circuit so later calls fail fast.
func (c *Client) Fetch(ctx context.Context, pageURL string, strategy scan.Strategy, categories []string) (*scan.ScorePayload, error) {
	if c.cfg.APIKey == "" {
		return nil, &Error{Reason: scan.ReasonMissingAPIKey, msg: "psi: no API key configured"}
	}

	// The circuit outranks the cache: once quota is gone, every caller sees
	// the same quota_exceeded degradation until the block lifts.
	if until, blocked := c.circuit.Blocked(); blocked {
		metrics.ObserveScorerRequest("circuit_open")
		return nil, &Error{
			Reason:     scan.ReasonQuotaExceeded,
			RetryAfter: until,
			msg:        fmt.Sprintf("psi: quota circuit open until %s", until.Format(time.RFC3339)),
		}
	}

	key := CacheKey(pageURL, strategy, categories)
	if payload, ok := c.cache.Get(key); ok {
		payload.CacheHit = true
		metrics.ObserveScorerRequest("cache_hit")
		return payload, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Reason: scan.ReasonTimeout, msg: fmt.Sprintf("psi: rate limit wait: %v", err)}
	}

	req, err := c.buildRequest(ctx, pageURL, strategy, categories)
	if err != nil {
		return nil, &Error{Reason: scan.ReasonScanFailed, msg: fmt.Sprintf("psi: build request: %v", err)}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveScorerRequest("error")
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Reason: scan.ReasonTimeout, msg: fmt.Sprintf("psi: request timed out: %v", err)}
		}
		return nil, &Error{Reason: scan.ReasonNetwork, msg: fmt.Sprintf("psi: request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ObserveScorerRequest("error")
		return nil, c.classifyStatus(resp)
	}

	var parsed psiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&parsed); err != nil {
		return nil, &Error{Reason: scan.ReasonScanFailed, msg: fmt.Sprintf("psi: decode response: %v", err)}
	}

	payload := c.toPayload(parsed, categories)
	c.cache.Put(key, *payload)
	metrics.ObserveScorerRequest("success")
	return payload, nil
}

func (c *Client) buildRequest(ctx context.Context, pageURL string, strategy scan.Strategy, categories []string) (*http.Request, error) {
	q := url.Values{}
	q.Set("url", pageURL)
	q.Set("strategy", strings.ToUpper(string(strategy)))
	q.Set("key", c.cfg.APIKey)
	for _, cat := range categories {
		q.Add("category", strings.ToUpper(cat))
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+q.Encode(), nil)
}

func (c *Client) classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(string(body)), "quota"):
		until := c.circuit.TripQuota()
		c.logger.Warn("psi quota exhausted, circuit open",
			zap.Int("status", resp.StatusCode),
			zap.Time("blocked_until", until))
		return &Error{
			Reason:     scan.ReasonQuotaExceeded,
			RetryAfter: until,
			msg:        fmt.Sprintf("psi: quota exceeded (status %d)", resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return &Error{Reason: scan.ReasonNetwork, msg: fmt.Sprintf("psi: upstream error (status %d)", resp.StatusCode)}
	default:
		return &Error{Reason: scan.ReasonScanFailed, msg: fmt.Sprintf("psi: unexpected status %d", resp.StatusCode)}
	}
}

// toPayload scales category scores to 0..100 and keeps the lowest-scoring
// audits as references.
func (c *Client) toPayload(parsed psiResponse, requested []string) *scan.ScorePayload {
	payload := &scan.ScorePayload{
		Categories: make(map[string]float64),
		FetchedAt:  c.clock.Now(),
	}
	for name, cat := range parsed.LighthouseResult.Categories {
		if cat.Score == nil {
			continue
		}
		payload.Categories[strings.ToLower(name)] = *cat.Score * 100
	}

	var audits []scan.AuditRef
	for id, a := range parsed.LighthouseResult.Audits {
		if a.Score == nil || *a.Score >= 1 {
			continue
		}
		score := *a.Score
		audits = append(audits, scan.AuditRef{
			ID:           firstOf(a.ID, id),
			Title:        a.Title,
			Score:        &score,
			DisplayValue: a.DisplayValue,
		})
	}
	sort.Slice(audits, func(i, j int) bool {
		if *audits[i].Score != *audits[j].Score {
			return *audits[i].Score < *audits[j].Score
		}
		return audits[i].ID < audits[j].ID
	})
	if len(audits) > maxAudits {
		audits = audits[:maxAudits]
	}
	payload.Audits = audits
	return payload
}

func firstOf(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
