// Package budget implements the shared wall-clock deadline that gates
// admission of every scan stage.
package budget

import (
	"context"
	"time"

	"github.com/sitescope/scanner/internal/scan"
)

// SafetyMargin is subtracted from every stage allowance so a stage that runs
// to its deadline still leaves room to record its result.
const SafetyMargin = 250 * time.Millisecond

// DefaultLowWater is the remaining-time threshold below which no new page
// scan is admitted.
const DefaultLowWater = 5 * time.Second

// Budget tracks a single deadline shared by all stages of one scan. It is
// immutable after creation; reads are cheap and side-effect free.
type Budget struct {
	total    time.Duration
	started  time.Time
	lowWater time.Duration
	clock    scan.Clock
}

// New starts a budget of the given total duration.
func New(clock scan.Clock, total, lowWater time.Duration) *Budget {
	if lowWater <= 0 {
		lowWater = DefaultLowWater
	}
	return &Budget{
		total:    total,
		started:  clock.Now(),
		lowWater: lowWater,
		clock:    clock,
	}
}

// Elapsed returns how long the scan has been running.
func (b *Budget) Elapsed() time.Duration {
	return b.clock.Now().Sub(b.started)
}

// Remaining returns the time left before the deadline, floored at zero.
// It is monotonically non-increasing.
func (b *Budget) Remaining() time.Duration {
	rem := b.total - b.Elapsed()
	if rem < 0 {
		return 0
	}
	return rem
}

// Deadline returns the absolute point at which the budget expires.
func (b *Budget) Deadline() time.Time {
	return b.started.Add(b.total)
}

// IsLow reports whether the remaining budget has dropped below the low-water
// mark. Once low, no new page scan may begin.
func (b *Budget) IsLow() bool {
	return b.Remaining() < b.lowWater
}

// Allows reports whether an operation with the given cost estimate fits in
// the remaining budget with the safety margin. Callers that get false must
// skip the operation and report budget exhaustion rather than attempt it.
func (b *Budget) Allows(estimate time.Duration) bool {
	return b.Remaining() >= estimate+SafetyMargin
}

// StageContext derives a context whose deadline is the smaller of max and the
// remaining budget less the safety margin. A zero or negative allowance
// yields an already-expired context, which callers detect as budget
// exhaustion before doing any work.
func (b *Budget) StageContext(ctx context.Context, max time.Duration) (context.Context, context.CancelFunc) {
	allowance := b.Remaining() - SafetyMargin
	if max > 0 && max < allowance {
		allowance = max
	}
	if allowance < 0 {
		allowance = 0
	}
	return context.WithTimeout(ctx, allowance)
}

// SliceContext derives a stage context sized as a fraction of the remaining
// budget, capped at max. Later stages automatically receive smaller
// allowances as the budget depletes.
func (b *Budget) SliceContext(ctx context.Context, fraction float64, max time.Duration) (context.Context, context.CancelFunc) {
	slice := time.Duration(float64(b.Remaining()) * fraction)
	if max > 0 && slice > max {
		slice = max
	}
	return b.StageContext(ctx, slice)
}
