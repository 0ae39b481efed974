package psi

import (
	"testing"
	"time"
)

func TestCircuitStartsOpen(t *testing.T) {
	t.Parallel()

	c := NewCircuit(newFakeClock())
	if _, blocked := c.Blocked(); blocked {
		t.Fatal("new circuit must pass requests")
	}
}

func TestCircuitTripBlocksUntilUTCMidnight(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	clock.SetUTC(time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC))
	c := NewCircuit(clock)

	until := c.TripQuota()
	want := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if !until.Equal(want) {
		t.Fatalf("block must end at next UTC midnight, got %s", until)
	}
	if _, blocked := c.Blocked(); !blocked {
		t.Fatal("circuit must block after a trip")
	}
}

func TestCircuitTripCappedAtTwelveHours(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	// Just past midnight: next midnight is almost 24h away.
	clock.SetUTC(time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC))
	c := NewCircuit(clock)

	until := c.TripQuota()
	want := clock.Now().Add(maxQuotaBlock)
	if !until.Equal(want) {
		t.Fatalf("block must be capped at %s, got %s", maxQuotaBlock, until.Sub(clock.Now()))
	}
}

func TestCircuitReopensAfterBlock(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	clock.SetUTC(time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))
	c := NewCircuit(clock)

	c.TripQuota()
	clock.Advance(2 * time.Hour)
	if _, blocked := c.Blocked(); blocked {
		t.Fatal("circuit must reopen once the block passes")
	}
}

func TestCircuitRepeatTripsNeverShorten(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	clock.SetUTC(time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC))
	c := NewCircuit(clock)

	first := c.TripQuota()
	clock.Advance(time.Hour)
	second := c.TripQuota()
	if second.Before(first) {
		t.Fatalf("later trip shortened the block: %s -> %s", first, second)
	}
}
