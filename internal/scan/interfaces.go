package scan

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by KVStore implementations for missing or expired
// keys.
var ErrNotFound = errors.New("key not found")

// NavResult carries the outcome of a page navigation.
type NavResult struct {
	StatusCode int
	FinalURL   string
}

// Page is one renderable browser page. Navigate honors the deadline on ctx;
// Close must be called exactly once regardless of which path exits.
type Page interface {
	Navigate(ctx context.Context, url string) (NavResult, error)
	Evaluate(ctx context.Context, script string, out any) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Browser creates pages. Implementations own the underlying allocator and
// enforce their own concurrency limits.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// RuleScope restricts rule evaluation to a region of the document.
// Empty Include means the whole document.
type RuleScope struct {
	Include []string
	Exclude []string
}

// RuleNode is one DOM sample attached to a raw rule result.
type RuleNode struct {
	Target         []string
	HTML           string
	FailureSummary string
	BBox           *BBox
}

// RawRule is one un-normalized rule result from a rule engine backend.
type RawRule struct {
	ID     string
	Impact string
	Help   string
	Nodes  []RuleNode
}

// RuleOutput is the raw result set of one rule engine run.
type RuleOutput struct {
	Violations []RawRule
	Incomplete []RawRule
}

// RuleRunner is the pluggable rule-evaluation capability. Both the
// browser-injected backend and the first-party static backend satisfy it, so
// downstream shapes never change with the backend.
type RuleRunner interface {
	Run(ctx context.Context, page Page, scope RuleScope, tags []string) (RuleOutput, error)
}

// AuditRef is one audit entry surfaced by the category scorer.
type AuditRef struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Score        *float64 `json:"score"`
	DisplayValue string   `json:"displayValue,omitempty"`
}

// ScorePayload is the pre-computed category score report fetched from the
// remote scorer, plus cache bookkeeping.
type ScorePayload struct {
	Categories map[string]float64 `json:"categories"`
	Audits     []AuditRef         `json:"audits"`
	CacheHit   bool               `json:"cacheHit"`
	FetchedAt  time.Time          `json:"fetchedAt"`
}

// CategoryScorer fetches pre-computed category scores for a URL. It is
// rate-limited upstream and must classify its own failures.
type CategoryScorer interface {
	Fetch(ctx context.Context, url string, strategy Strategy, categories []string) (*ScorePayload, error)
}

// KVStore is the generic persistent key-value capability backing the job
// store. Get returns ErrNotFound for missing keys.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// BlobStore writes binary artifacts (screenshots) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes scan lifecycle events to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (injectable for TTL and circuit tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
