package perf

import (
	"testing"

	"github.com/sitescope/scanner/internal/scan"
)

func TestAuditCleanPageHasNoIssues(t *testing.T) {
	t.Parallel()

	m := Metrics{
		TotalBytes:   500 * 1024,
		RequestCount: 20,
		DOMNodes:     400,
		TTFBMs:       120,
		LCPMs:        1400,
		CLS:          0.01,
	}
	if issues := Audit(m); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestAuditThresholdBands(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		m      Metrics
		metric string
		impact scan.Impact
	}{
		{"moderate weight", Metrics{TotalBytes: 3 * 1024 * 1024}, "total_byte_weight", scan.ImpactModerate},
		{"serious weight", Metrics{TotalBytes: 5 * 1024 * 1024}, "total_byte_weight", scan.ImpactSerious},
		{"moderate lcp", Metrics{LCPMs: 3000}, "lcp", scan.ImpactModerate},
		{"serious lcp", Metrics{LCPMs: 4500}, "lcp", scan.ImpactSerious},
		{"serious cls", Metrics{CLS: 0.3}, "cls", scan.ImpactSerious},
		{"moderate dom", Metrics{DOMNodes: 2000}, "dom_size", scan.ImpactModerate},
		{"serious requests", Metrics{RequestCount: 150}, "request_count", scan.ImpactSerious},
		{"moderate offscreen images", Metrics{OffscreenEagerImgs: 4}, "offscreen_eager_images", scan.ImpactModerate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			issues := Audit(tc.m)
			if len(issues) != 1 {
				t.Fatalf("expected exactly one issue, got %+v", issues)
			}
			got := issues[0]
			if got.Metric != tc.metric || got.Impact != tc.impact {
				t.Fatalf("got %s/%s, want %s/%s", got.Metric, got.Impact, tc.metric, tc.impact)
			}
			if got.Value == "" || got.Threshold == "" {
				t.Fatalf("issue must carry value and threshold text: %+v", got)
			}
		})
	}
}

func TestAuditBoundaryIsInclusive(t *testing.T) {
	t.Parallel()

	issues := Audit(Metrics{TTFBMs: 1800})
	if len(issues) != 1 || issues[0].Impact != scan.ImpactSerious {
		t.Fatalf("value equal to serious threshold must rank serious, got %+v", issues)
	}
}

func TestAuditOversizedImagesPerImage(t *testing.T) {
	t.Parallel()

	m := Metrics{
		OversizedImages: []OversizedImage{
			{Selector: "#hero", Bytes: 2 * 1024 * 1024},
			{Selector: "img:nth-of-type(3)", Bytes: 400 * 1024},
			{Selector: "img:nth-of-type(4)", Bytes: 100 * 1024}, // below threshold
		},
	}
	issues := Audit(m)
	if len(issues) != 2 {
		t.Fatalf("expected two oversized-image issues, got %+v", issues)
	}
	// Serious first.
	if issues[0].Impact != scan.ImpactSerious || issues[1].Impact != scan.ImpactModerate {
		t.Fatalf("expected serious then moderate ranking, got %+v", issues)
	}
}

func TestAuditRanksSeriousFirst(t *testing.T) {
	t.Parallel()

	issues := Audit(Metrics{TotalBytes: 3 * 1024 * 1024, LCPMs: 4500, DOMNodes: 1600})
	if len(issues) != 3 {
		t.Fatalf("expected three issues, got %+v", issues)
	}
	if issues[0].Metric != "lcp" {
		t.Fatalf("expected serious lcp ranked first, got %+v", issues)
	}
}
