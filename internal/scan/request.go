package scan

import (
	"fmt"
	"time"
)

// Request limits applied during normalization.
const (
	MaxPagesLimit      = 10
	DefaultTotalBudget = 60 * time.Second
	MaxTotalBudget     = 5 * time.Minute
	MinTotalBudget     = 5 * time.Second
)

// Normalize validates the request once at entry and canonicalizes it in
// place. It is the only place a structural input error can abort a scan.
func (r *Request) Normalize() error {
	canonical, err := CanonicalURL(r.StartURL)
	if err != nil {
		return fmt.Errorf("invalid start url: %w", err)
	}
	r.StartURL = canonical

	switch r.Mode {
	case ModeSingle, "":
		r.Mode = ModeSingle
		r.MaxPages = 1
	case ModeCrawl:
		if r.MaxPages <= 0 {
			r.MaxPages = MaxPagesLimit
		}
		if r.MaxPages > MaxPagesLimit {
			r.MaxPages = MaxPagesLimit
		}
	default:
		return fmt.Errorf("unknown scan mode %q", r.Mode)
	}

	profile, err := ParseProfile(string(r.Profile))
	if err != nil {
		return err
	}
	r.Profile = profile

	switch r.Strategy {
	case StrategyMobile, StrategyDesktop:
	case "":
		r.Strategy = StrategyMobile
	default:
		return fmt.Errorf("unknown psi strategy %q", r.Strategy)
	}

	if r.TotalBudget <= 0 {
		r.TotalBudget = DefaultTotalBudget
	}
	if r.TotalBudget < MinTotalBudget {
		r.TotalBudget = MinTotalBudget
	}
	if r.TotalBudget > MaxTotalBudget {
		r.TotalBudget = MaxTotalBudget
	}
	return nil
}
