package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sitescope/scanner/internal/scan"
)

// BrowserRunner evaluates an in-page rule library. The library is injected
// once per page and returns results shaped like ruleReport, including
// viewport bounding boxes the static backend cannot produce.
type BrowserRunner struct {
	library string
}

// NewBrowserRunner builds a runner around the given rule library source. An
// empty source selects the built-in library.
func NewBrowserRunner(library string) *BrowserRunner {
	if library == "" {
		library = ruleLibraryScript
	}
	return &BrowserRunner{library: library}
}

type ruleReport struct {
	Violations []reportedRule `json:"violations"`
	Incomplete []reportedRule `json:"incomplete"`
}

type reportedRule struct {
	ID     string         `json:"id"`
	Impact string         `json:"impact"`
	Help   string         `json:"help"`
	Nodes  []reportedNode `json:"nodes"`
}

type reportedNode struct {
	Target         []string   `json:"target"`
	HTML           string     `json:"html"`
	FailureSummary string     `json:"failureSummary"`
	BBox           *scan.BBox `json:"bbox"`
}

type runSpec struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
	Tags    []string `json:"tags"`
}

// Run implements scan.RuleRunner. The library is injected and invoked in one
// evaluation so a page that blocks script injection fails fast with a single
// error.
func (b *BrowserRunner) Run(ctx context.Context, page scan.Page, scope scan.RuleScope, tags []string) (scan.RuleOutput, error) {
	spec, err := json.Marshal(runSpec{Include: scope.Include, Exclude: scope.Exclude, Tags: tags})
	if err != nil {
		return scan.RuleOutput{}, fmt.Errorf("marshal run spec: %w", err)
	}

	script := fmt.Sprintf("(() => { %s; return __siteRules.run(%s); })()", b.library, spec)

	var report ruleReport
	if err := page.Evaluate(ctx, script, &report); err != nil {
		return scan.RuleOutput{}, fmt.Errorf("evaluate rule library: %w", err)
	}
	return scan.RuleOutput{
		Violations: convertReported(report.Violations),
		Incomplete: convertReported(report.Incomplete),
	}, nil
}

func convertReported(rules []reportedRule) []scan.RawRule {
	out := make([]scan.RawRule, 0, len(rules))
	for _, r := range rules {
		raw := scan.RawRule{ID: r.ID, Impact: r.Impact, Help: r.Help}
		for _, n := range r.Nodes {
			raw.Nodes = append(raw.Nodes, scan.RuleNode{
				Target:         n.Target,
				HTML:           n.HTML,
				FailureSummary: n.FailureSummary,
				BBox:           n.BBox,
			})
		}
		out = append(out, raw)
	}
	return out
}
