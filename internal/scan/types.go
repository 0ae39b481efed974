// Package scan defines core types shared across the scanner subsystems.
package scan

import "time"

// Mode selects between a single-page scan and a shallow site crawl.
type Mode string

// Supported scan modes.
const (
	ModeSingle Mode = "single"
	ModeCrawl  Mode = "crawl"
)

// Strategy selects the category-scorer emulation profile.
type Strategy string

// Supported scorer strategies.
const (
	StrategyMobile  Strategy = "mobile"
	StrategyDesktop Strategy = "desktop"
)

// Impact is the severity bucket assigned to an issue.
type Impact string

// Impact levels, ordered from least to most severe.
const (
	ImpactMinor    Impact = "minor"
	ImpactModerate Impact = "moderate"
	ImpactSerious  Impact = "serious"
	ImpactCritical Impact = "critical"
)

// PageStatus is the terminal state of a single page scan.
type PageStatus string

// Page statuses.
const (
	PageStatusOK      PageStatus = "ok"
	PageStatusTimeout PageStatus = "timeout"
	PageStatusError   PageStatus = "error"
)

// EngineStatus describes how much of an engine's result is usable.
type EngineStatus string

// Engine statuses.
const (
	EngineAvailable   EngineStatus = "available"
	EnginePartial     EngineStatus = "partial"
	EngineUnavailable EngineStatus = "unavailable"
)

// ReportStatus is the top-level outcome communicated to the caller.
type ReportStatus string

// Report statuses.
const (
	ReportComplete ReportStatus = "complete"
	ReportPartial  ReportStatus = "partial"
	ReportFailed   ReportStatus = "failed"
)

// StopReason records why a crawl stopped enqueueing pages.
type StopReason string

// Crawl stop reasons.
const (
	StopCompleted      StopReason = "completed"
	StopMaxPages       StopReason = "max_pages_reached"
	StopTimeBudgetLow  StopReason = "time_budget_low"
	StopBrowserFailure StopReason = "browser_failure"
)

// FailureReason classifies why an engine or probe degraded.
type FailureReason string

// Failure reasons surfaced on degraded engine results.
const (
	ReasonTimeout       FailureReason = "timeout"
	ReasonNetwork       FailureReason = "network"
	ReasonQuotaExceeded FailureReason = "quota_exceeded"
	ReasonMissingAPIKey FailureReason = "missing_api_key"
	ReasonScanFailed    FailureReason = "scan_failed"
	ReasonUnknown       FailureReason = "unknown"
)

// Caps bounds how many results a scan may accumulate. Hard ceilings are
// enforced by Clamp so a caller cannot request unbounded reports.
type Caps struct {
	MaxViolationsPerPage int `json:"maxViolationsPerPage"`
	MaxNodesPerViolation int `json:"maxNodesPerViolation"`
	MaxTotalIssues       int `json:"maxTotalIssues"`
}

// Hard ceilings and defaults for result caps.
const (
	DefaultViolationsPerPage = 50
	DefaultNodesPerViolation = 6
	DefaultTotalIssues       = 400
	CeilingViolationsPerPage = 100
	CeilingNodesPerViolation = 10
	CeilingTotalIssues       = 1000
)

// Clamp fills in defaults and enforces the hard ceilings.
func (c Caps) Clamp() Caps {
	if c.MaxViolationsPerPage <= 0 {
		c.MaxViolationsPerPage = DefaultViolationsPerPage
	}
	if c.MaxViolationsPerPage > CeilingViolationsPerPage {
		c.MaxViolationsPerPage = CeilingViolationsPerPage
	}
	if c.MaxNodesPerViolation <= 0 {
		c.MaxNodesPerViolation = DefaultNodesPerViolation
	}
	if c.MaxNodesPerViolation > CeilingNodesPerViolation {
		c.MaxNodesPerViolation = CeilingNodesPerViolation
	}
	if c.MaxTotalIssues <= 0 {
		c.MaxTotalIssues = DefaultTotalIssues
	}
	if c.MaxTotalIssues > CeilingTotalIssues {
		c.MaxTotalIssues = CeilingTotalIssues
	}
	return c
}

// Request captures a validated scan submission.
type Request struct {
	StartURL           string   `json:"startUrl"`
	Mode               Mode     `json:"mode"`
	MaxPages           int      `json:"maxPages"`
	IncludeScreenshots bool     `json:"includeScreenshots"`
	Profile            Profile  `json:"rulesetProfile"`
	BestPractice       bool     `json:"bestPractice"`
	Experimental       bool     `json:"experimental"`
	Strategy           Strategy `json:"psiStrategy"`
	TotalBudget        time.Duration
}

// BBox is the viewport-relative bounding box of an offending element.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Issue is one normalized rule violation attributed to a page.
type Issue struct {
	PageURL        string   `json:"pageUrl"`
	RuleID         string   `json:"ruleId"`
	Impact         Impact   `json:"impact"`
	Selectors      []string `json:"targetSelectors"`
	HTMLSnippet    string   `json:"htmlSnippet,omitempty"`
	FailureSummary string   `json:"failureSummary,omitempty"`
	BBox           *BBox    `json:"bbox,omitempty"`
}

// Key identifies an issue for deduplication purposes.
func (i Issue) Key() string {
	first := ""
	if len(i.Selectors) > 0 {
		first = i.Selectors[0]
	}
	return i.PageURL + "\x00" + i.RuleID + "\x00" + first
}

// HeuristicFlag is an advisory finding that needs human review; it is never
// counted as a hard violation.
type HeuristicFlag struct {
	Check       string `json:"check"`
	Selector    string `json:"selector"`
	Message     string `json:"message"`
	NeedsReview bool   `json:"needsReview"`
}

// PerfIssue is one performance finding produced by the threshold table.
type PerfIssue struct {
	Metric    string `json:"metric"`
	Impact    Impact `json:"impact"`
	Value     string `json:"value"`
	Threshold string `json:"threshold"`
	Summary   string `json:"summary"`
}

// TruncatedBy records which cap stopped accepting further results.
type TruncatedBy struct {
	Violations  bool `json:"violations"`
	Nodes       bool `json:"nodes"`
	TotalIssues bool `json:"totalIssues"`
}

// Any reports whether any cap fired.
func (t TruncatedBy) Any() bool {
	return t.Violations || t.Nodes || t.TotalIssues
}

// PageResult is the immutable outcome of one page's pipeline run. Incomplete
// holds rule results that need manual verification; they share the result
// caps with Issues but never count as hard violations.
type PageResult struct {
	URL               string          `json:"url"`
	Status            PageStatus      `json:"status"`
	Error             string          `json:"error,omitempty"`
	Issues            []Issue         `json:"issues"`
	Incomplete        []Issue         `json:"incomplete,omitempty"`
	HeuristicFlags    []HeuristicFlag `json:"heuristicFlags,omitempty"`
	PerformanceIssues []PerfIssue     `json:"performanceIssues,omitempty"`
	DiscoveredLinks   []string        `json:"discoveredLinks,omitempty"`
	ScreenshotURI     string          `json:"screenshotUri,omitempty"`
	DurationMs        int64           `json:"durationMs"`
	TruncatedBy       TruncatedBy     `json:"truncatedBy"`
}

// EngineResult is one independently sourced, independently degradable
// section of the report. Unavailable or partial results never propagate as
// errors; they degrade the fields instead.
type EngineResult struct {
	Status     EngineStatus   `json:"status"`
	Reason     FailureReason  `json:"reason,omitempty"`
	Score      *float64       `json:"score"`
	IssueCount int            `json:"issueCount"`
	Issues     []Issue        `json:"issues,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Engines holds the four report sections in their fixed merge order.
type Engines struct {
	Accessibility EngineResult `json:"accessibility"`
	Performance   EngineResult `json:"performance"`
	SEO           EngineResult `json:"seo"`
	BestPractices EngineResult `json:"bestPractices"`
}

// Summary carries the per-engine scores plus the overall mean.
type Summary struct {
	AccessibilityScore *float64 `json:"accessibilityScore"`
	PerformanceScore   *float64 `json:"performanceScore"`
	SEOScore           *float64 `json:"seoScore"`
	BestPracticesScore *float64 `json:"bestPracticesScore"`
	OverallScore       *float64 `json:"overallScore"`
}

// ErrorsSummary aggregates deduplicated human-readable degradation notes.
type ErrorsSummary struct {
	Messages []string `json:"messages"`
}

// ReportMetadata carries scan-level bookkeeping.
type ReportMetadata struct {
	DurationMs    int64         `json:"durationMs"`
	PagesScanned  int           `json:"pagesScanned"`
	Strategy      Strategy      `json:"strategy,omitempty"`
	ErrorsSummary ErrorsSummary `json:"errorsSummary"`
}

// Report is the terminal object returned to the caller. It is never mutated
// after assembly.
type Report struct {
	StartURL   string         `json:"startUrl"`
	Status     ReportStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Engines    Engines        `json:"engines"`
	Summary    Summary        `json:"summary"`
	Pages      []PageResult   `json:"pages"`
	Truncated  bool           `json:"truncated"`
	StopReason StopReason     `json:"stopReason,omitempty"`
	Metadata   ReportMetadata `json:"metadata"`
}

// ScoreOf returns a pointer to a clamped [0,100] copy of v.
func ScoreOf(v float64) *float64 {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}
