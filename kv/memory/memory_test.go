package memory

import (
	"context"
	"testing"

	"github.com/yeying-community/ucansync/kv"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	if v, err := s.Get(ctx, "missing"); err != nil || v != nil {
		t.Fatalf("missing key: %v, %v", v, err)
	}
	if err := s.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := s.Get(ctx, "a")
	if err != nil || string(v) != "1" {
		t.Fatalf("get: %q, %v", v, err)
	}

	// Stored values are isolated from later mutation of the returned
	// slice.
	v[0] = 'x'
	v2, _ := s.Get(ctx, "a")
	if string(v2) != "1" {
		t.Fatalf("stored value aliased: %q", v2)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v, _ := s.Get(ctx, "a"); v != nil {
		t.Fatalf("deleted key still present")
	}
}

func TestStoreClosed(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Close()
	if _, err := s.Get(ctx, "a"); err != kv.ErrClosed {
		t.Fatalf("get after close: %v", err)
	}
	if err := s.Set(ctx, "a", nil); err != kv.ErrClosed {
		t.Fatalf("set after close: %v", err)
	}
}
