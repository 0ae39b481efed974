package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/sitescope/scanner/internal/scan"
)

func TestKVRoundTrip(t *testing.T) {
	t.Parallel()

	kv := NewKV()
	ctx := context.Background()

	if err := kv.Set(ctx, "job:1", []byte(`{"status":"queued"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := kv.Get(ctx, "job:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"status":"queued"}` {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestKVMissingKey(t *testing.T) {
	t.Parallel()

	kv := NewKV()
	if _, err := kv.Get(context.Background(), "absent"); !errors.Is(err, scan.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKVDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	kv := NewKV()
	ctx := context.Background()
	if err := kv.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := kv.Get(ctx, "k"); !errors.Is(err, scan.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestKVReturnsCopies(t *testing.T) {
	t.Parallel()

	kv := NewKV()
	ctx := context.Background()
	original := []byte("original")
	if err := kv.Set(ctx, "k", original); err != nil {
		t.Fatalf("set: %v", err)
	}
	original[0] = 'X'

	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got[0] = 'Y'

	again, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(again) != "original" {
		t.Fatalf("stored value must be isolated from callers, got %q", again)
	}
}
