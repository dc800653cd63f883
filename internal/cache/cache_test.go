package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryCache_GetSetDelete(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := c.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "v1" {
		t.Fatalf("Expected v1, got %q (%v)", got, err)
	}

	// Callers must not be able to mutate the stored value.
	got[0] = 'X'
	again, _ := c.Get(ctx, "k")
	if string(again) != "v1" {
		t.Errorf("Stored value was mutated through a returned slice: %q", again)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestInMemoryCache_TTL(t *testing.T) {
	c := NewInMemoryCache()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	now = now.Add(59 * time.Second)
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Errorf("Expected value before expiry, got %v", err)
	}

	now = now.Add(2 * time.Second)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after expiry, got %v", err)
	}
}

func TestInMemoryCache_SetPrunesExpired(t *testing.T) {
	c := NewInMemoryCache()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, key, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := c.Set(ctx, "keep", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := c.Set(ctx, "d", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := c.Len(); got != 2 {
		t.Errorf("Expected expired entries to be dropped leaving 2, got %d", got)
	}
}

func TestInMemoryCache_Incr(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := c.Incr(ctx, "gen")
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if n != want {
			t.Errorf("Expected %d, got %d", want, n)
		}
	}

	if err := c.Set(ctx, "text", []byte("abc"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := c.Incr(ctx, "text"); err == nil {
		t.Error("Expected error incrementing a non-integer value")
	}
}

func TestJSONHelpers(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	type board struct {
		IDs []string `json:"ids"`
	}

	if err := SetJSON(ctx, c, "board", board{IDs: []string{"a", "b"}}, 0); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var got board
	if err := GetJSON(ctx, c, "board", &got); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if len(got.IDs) != 2 || got.IDs[1] != "b" {
		t.Errorf("Unexpected board: %+v", got)
	}

	if err := GetJSON(ctx, c, "other", &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
