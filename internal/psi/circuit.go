package psi

import (
	"sync"
	"time"

	"github.com/sitescope/scanner/internal/scan"
)

// maxQuotaBlock caps how long a quota trip may block requests, even when the
// next quota reset is further away.
const maxQuotaBlock = 12 * time.Hour

// Circuit blocks upstream calls after a quota rejection. The PSI daily quota
// resets at UTC midnight, so a trip blocks until then, capped at
// maxQuotaBlock.
type Circuit struct {
	mu           sync.Mutex
	clock        scan.Clock
	blockedUntil time.Time
}

// NewCircuit builds an open (passing) circuit.
func NewCircuit(clock scan.Clock) *Circuit {
	return &Circuit{clock: clock}
}

// Blocked reports whether calls are currently rejected, and until when.
func (c *Circuit) Blocked() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blockedUntil.IsZero() || !c.clock.Now().Before(c.blockedUntil) {
		return time.Time{}, false
	}
	return c.blockedUntil, true
}

// TripQuota records a quota rejection. Repeated trips never shorten an
// existing block.
func (c *Circuit) TripQuota() time.Time {
	now := c.clock.Now()
	until := nextUTCMidnight(now)
	if until.Sub(now) > maxQuotaBlock {
		until = now.Add(maxQuotaBlock)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if until.After(c.blockedUntil) {
		c.blockedUntil = until
	}
	return c.blockedUntil
}

func nextUTCMidnight(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
