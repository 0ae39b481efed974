package rules

import (
	"strings"

	"github.com/sitescope/scanner/internal/scan"
)

// Truncation limits applied to every normalized issue.
const (
	maxSelectors   = 6
	maxHTMLChars   = 600
	maxSummaryRune = 500
)

// Adapter normalizes raw rule engine output into canonical issues,
// independent of which backend produced it.
type Adapter struct {
	caps scan.Caps
}

// NewAdapter builds an Adapter with clamped caps.
func NewAdapter(caps scan.Caps) *Adapter {
	return &Adapter{caps: caps.Clamp()}
}

// Normalized is the adapter output for one page.
type Normalized struct {
	Issues     []scan.Issue
	Incomplete []scan.Issue
	Truncated  scan.TruncatedBy
}

// Normalize converts raw output to issues for pageURL. remainingOverall is
// how many more issues the whole scan may still accept; the adapter never
// emits more than that, setting TotalIssues truncation instead. Earlier
// pages therefore keep more of their issues by construction.
func (a *Adapter) Normalize(pageURL string, out scan.RuleOutput, remainingOverall int) Normalized {
	var n Normalized
	n.Issues = a.normalizeRules(pageURL, out.Violations, &n.Truncated, &remainingOverall)
	// Incomplete results are advisory; they share the caps but are tracked
	// separately so they never count as hard violations.
	n.Incomplete = a.normalizeRules(pageURL, out.Incomplete, &n.Truncated, &remainingOverall)
	return n
}

func (a *Adapter) normalizeRules(
	pageURL string,
	raws []scan.RawRule,
	truncated *scan.TruncatedBy,
	remainingOverall *int,
) []scan.Issue {
	var issues []scan.Issue
	seen := make(map[string]struct{})

	if len(raws) > a.caps.MaxViolationsPerPage {
		raws = raws[:a.caps.MaxViolationsPerPage]
		truncated.Violations = true
	}

	for _, raw := range raws {
		nodes := raw.Nodes
		if len(nodes) > a.caps.MaxNodesPerViolation {
			nodes = nodes[:a.caps.MaxNodesPerViolation]
			truncated.Nodes = true
		}
		for _, node := range nodes {
			if *remainingOverall <= 0 {
				truncated.TotalIssues = true
				return issues
			}
			issue := scan.Issue{
				PageURL:        pageURL,
				RuleID:         raw.ID,
				Impact:         BucketImpact(raw.Impact),
				Selectors:      trimSelectors(node.Target),
				HTMLSnippet:    truncateString(node.HTML, maxHTMLChars),
				FailureSummary: truncateString(firstNonEmpty(node.FailureSummary, raw.Help), maxSummaryRune),
				BBox:           node.BBox,
			}
			key := issue.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			issues = append(issues, issue)
			*remainingOverall--
		}
	}
	return issues
}

// BucketImpact maps a backend impact string to the four canonical levels.
// Unknown strings land on moderate rather than silently vanishing.
func BucketImpact(raw string) scan.Impact {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return scan.ImpactCritical
	case "serious", "severe", "high":
		return scan.ImpactSerious
	case "minor", "low", "info":
		return scan.ImpactMinor
	default:
		return scan.ImpactModerate
	}
}

func trimSelectors(targets []string) []string {
	if len(targets) == 0 {
		return []string{"html"}
	}
	if len(targets) > maxSelectors {
		targets = targets[:maxSelectors]
	}
	return append([]string(nil), targets...)
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
