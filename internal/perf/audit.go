// Package perf converts in-page metrics into ranked performance issues via a
// fixed threshold table.
package perf

import (
	"fmt"
	"sort"

	"github.com/sitescope/scanner/internal/scan"
)

// Metrics is the snapshot collected synchronously in the page. Fields map
// 1:1 to the JSON produced by MetricsScript.
type Metrics struct {
	TotalBytes         int64            `json:"totalBytes"`
	RequestCount       int              `json:"requestCount"`
	ThirdPartyRequests int              `json:"thirdPartyRequests"`
	ScriptBytes        int64            `json:"scriptBytes"`
	RenderBlocking     int              `json:"renderBlocking"`
	DOMNodes           int              `json:"domNodes"`
	TTFBMs             float64          `json:"ttfbMs"`
	LCPMs              float64          `json:"lcpMs"`
	CLS                float64          `json:"cls"`
	LongTaskMs         float64          `json:"longTaskMs"`
	OffscreenEagerImgs int              `json:"offscreenEagerImgs"`
	OversizedImages    []OversizedImage `json:"oversizedImages"`
}

// OversizedImage identifies a single image whose transfer size crossed the
// per-image threshold.
type OversizedImage struct {
	Selector string `json:"selector"`
	Bytes    int64  `json:"bytes"`
}

// Per-image thresholds, applied independently of the aggregate table.
const (
	imageModerateBytes = 300 * 1024
	imageSeriousBytes  = 1024 * 1024
)

type threshold struct {
	metric   string
	summary  string
	moderate float64
	serious  float64
	format   func(v float64) string
	unit     string
}

func formatBytes(v float64) string {
	switch {
	case v >= 1024*1024:
		return fmt.Sprintf("%.1f MB", v/(1024*1024))
	case v >= 1024:
		return fmt.Sprintf("%.0f KB", v/1024)
	default:
		return fmt.Sprintf("%.0f B", v)
	}
}

func formatMs(v float64) string {
	if v >= 1000 {
		return fmt.Sprintf("%.1f s", v/1000)
	}
	return fmt.Sprintf("%.0f ms", v)
}

func formatCount(v float64) string {
	return fmt.Sprintf("%.0f", v)
}

func formatRatio(v float64) string {
	return fmt.Sprintf("%.3f", v)
}

// The threshold table. Each metric is judged independently:
// value >= serious  => serious, value >= moderate => moderate, else no issue.
var thresholds = []threshold{
	{"total_byte_weight", "Total page weight is high", 2 * 1024 * 1024, 4 * 1024 * 1024, formatBytes, "bytes"},
	{"request_count", "Page issues many network requests", 75, 150, formatCount, "requests"},
	{"third_party_requests", "Heavy reliance on third-party requests", 25, 60, formatCount, "requests"},
	{"script_bytes", "JavaScript payload is large", 750 * 1024, 1536 * 1024, formatBytes, "bytes"},
	{"render_blocking_resources", "Render-blocking stylesheets or scripts", 3, 8, formatCount, "resources"},
	{"dom_size", "Excessive DOM size", 1500, 3000, formatCount, "nodes"},
	{"ttfb", "Slow server response (TTFB)", 800, 1800, formatMs, "ms"},
	{"lcp", "Largest Contentful Paint is slow", 2500, 4000, formatMs, "ms"},
	{"cls", "Layout shifts during load", 0.1, 0.25, formatRatio, "score"},
	{"long_tasks", "Main thread blocked by long tasks", 250, 600, formatMs, "ms"},
	{"offscreen_eager_images", "Offscreen images loaded eagerly", 3, 10, formatCount, "images"},
}

func (t threshold) judge(value float64) (scan.Impact, bool) {
	switch {
	case value >= t.serious:
		return scan.ImpactSerious, true
	case value >= t.moderate:
		return scan.ImpactModerate, true
	default:
		return "", false
	}
}

func (t threshold) thresholdText(impact scan.Impact) string {
	if impact == scan.ImpactSerious {
		return fmt.Sprintf(">= %s", t.format(t.serious))
	}
	return fmt.Sprintf(">= %s", t.format(t.moderate))
}

func (m Metrics) value(metric string) float64 {
	switch metric {
	case "total_byte_weight":
		return float64(m.TotalBytes)
	case "request_count":
		return float64(m.RequestCount)
	case "third_party_requests":
		return float64(m.ThirdPartyRequests)
	case "script_bytes":
		return float64(m.ScriptBytes)
	case "render_blocking_resources":
		return float64(m.RenderBlocking)
	case "dom_size":
		return float64(m.DOMNodes)
	case "ttfb":
		return m.TTFBMs
	case "lcp":
		return m.LCPMs
	case "cls":
		return m.CLS
	case "long_tasks":
		return m.LongTaskMs
	case "offscreen_eager_images":
		return float64(m.OffscreenEagerImgs)
	default:
		return 0
	}
}

// Audit is a pure function from metrics to ranked issues: serious findings
// first, then moderate, stable within each band by table order.
func Audit(m Metrics) []scan.PerfIssue {
	var issues []scan.PerfIssue
	for _, t := range thresholds {
		value := m.value(t.metric)
		impact, hit := t.judge(value)
		if !hit {
			continue
		}
		issues = append(issues, scan.PerfIssue{
			Metric:    t.metric,
			Impact:    impact,
			Value:     t.format(value),
			Threshold: t.thresholdText(impact),
			Summary:   t.summary,
		})
	}

	for _, img := range m.OversizedImages {
		if img.Bytes < imageModerateBytes {
			continue
		}
		impact := scan.ImpactModerate
		thresholdText := fmt.Sprintf(">= %s", formatBytes(imageModerateBytes))
		if img.Bytes >= imageSeriousBytes {
			impact = scan.ImpactSerious
			thresholdText = fmt.Sprintf(">= %s", formatBytes(imageSeriousBytes))
		}
		issues = append(issues, scan.PerfIssue{
			Metric:    "oversized_image",
			Impact:    impact,
			Value:     formatBytes(float64(img.Bytes)),
			Threshold: thresholdText,
			Summary:   fmt.Sprintf("Oversized image %s", img.Selector),
		})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return rank(issues[i].Impact) > rank(issues[j].Impact)
	})
	return issues
}

func rank(i scan.Impact) int {
	switch i {
	case scan.ImpactCritical:
		return 3
	case scan.ImpactSerious:
		return 2
	case scan.ImpactModerate:
		return 1
	default:
		return 0
	}
}
