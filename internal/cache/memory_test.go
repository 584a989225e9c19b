package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	store := NewMemory(MemoryConfig{TTL: time.Minute, MaxEntries: 10})
	ctx := context.Background()

	if _, ok := store.Get(ctx, "missing"); ok {
		t.Fatal("expected miss")
	}
	store.Set(ctx, "k", []byte("v"))
	value, ok := store.Get(ctx, "k")
	if !ok || string(value) != "v" {
		t.Fatalf("expected hit, got %q %v", value, ok)
	}
}

func TestMemoryExpiresEntries(t *testing.T) {
	store := NewMemory(MemoryConfig{TTL: time.Minute})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	store.Set(context.Background(), "k", []byte("v"))

	now = now.Add(2 * time.Minute)
	if _, ok := store.Get(context.Background(), "k"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if store.Len() != 0 {
		t.Fatalf("expected expired entry to be dropped, len=%d", store.Len())
	}
}

func TestMemoryEvictsOldest(t *testing.T) {
	store := NewMemory(MemoryConfig{TTL: time.Hour, MaxEntries: 2})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { now = now.Add(time.Second); return now }
	ctx := context.Background()

	store.Set(ctx, "a", []byte("1"))
	store.Set(ctx, "b", []byte("2"))
	store.Set(ctx, "c", []byte("3"))

	if _, ok := store.Get(ctx, "a"); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
	if _, ok := store.Get(ctx, "c"); !ok {
		t.Fatal("expected newest entry to be kept")
	}
}

func TestBuildSignatureNormalizes(t *testing.T) {
	if BuildSignature(" A ", "b") != BuildSignature("a", "B") {
		t.Fatal("expected case and whitespace to be ignored")
	}
	if BuildSignature("a", "b") == BuildSignature("ab") {
		t.Fatal("expected part boundaries to matter")
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	store := NewMemory(MemoryConfig{})
	ctx := context.Background()
	store.Set(ctx, "k", []byte("abc"))
	value, _ := store.Get(ctx, "k")
	value[0] = 'z'
	again, _ := store.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("cached value was mutated: %q", again)
	}
}
