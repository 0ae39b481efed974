// Package heuristics runs advisory in-page probes whose findings need human
// review. Flags from this package never count as hard violations.
package heuristics

import (
	"context"
	"fmt"

	"github.com/sitescope/scanner/internal/scan"
)

// Caps applied to the probe output before it reaches the report.
const (
	maxFlagsPerCheck = 20
	maxMessageChars  = 300
)

type probe struct {
	check  string
	script string
}

type probeFinding struct {
	Selector string `json:"selector"`
	Message  string `json:"message"`
}

// Runner evaluates the built-in probe set against a live page.
type Runner struct {
	probes []probe
}

// NewRunner builds the runner with the tap-target and overlay probes.
func NewRunner() *Runner {
	return &Runner{probes: []probe{
		{check: "tap-target-size", script: tapTargetScript},
		{check: "blocking-overlay", script: overlayScript},
	}}
}

// Run evaluates every probe. A probe that fails to evaluate degrades to a
// single needs-review flag for that check rather than failing the page.
func (r *Runner) Run(ctx context.Context, page scan.Page) ([]scan.HeuristicFlag, error) {
	var flags []scan.HeuristicFlag
	for _, p := range r.probes {
		if err := ctx.Err(); err != nil {
			return flags, err
		}
		var findings []probeFinding
		if err := page.Evaluate(ctx, p.script, &findings); err != nil {
			flags = append(flags, scan.HeuristicFlag{
				Check:       p.check,
				Selector:    "html",
				Message:     fmt.Sprintf("probe did not run: %v", err),
				NeedsReview: true,
			})
			continue
		}
		if len(findings) > maxFlagsPerCheck {
			findings = findings[:maxFlagsPerCheck]
		}
		for _, f := range findings {
			msg := f.Message
			if len([]rune(msg)) > maxMessageChars {
				msg = string([]rune(msg)[:maxMessageChars])
			}
			sel := f.Selector
			if sel == "" {
				sel = "html"
			}
			flags = append(flags, scan.HeuristicFlag{
				Check:       p.check,
				Selector:    sel,
				Message:     msg,
				NeedsReview: true,
			})
		}
	}
	return flags, nil
}
