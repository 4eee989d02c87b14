package cache

import (
	"context"
	"testing"
	"time"
)

func newTestMemoryCache(t *testing.T, opts ...MemoryOption) *MemoryCache {
	t.Helper()
	mc := NewMemoryCache(opts...)
	t.Cleanup(func() { _ = mc.Close() })
	return mc
}

func TestMemoryCacheSetGetString(t *testing.T) {
	mc := newTestMemoryCache(t)
	ctx := context.Background()

	if err := mc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got string
	if err := mc.Get(ctx, "k", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "v" {
		t.Fatalf("got %q, want %q", got, "v")
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	mc := newTestMemoryCache(t)
	var got string
	if err := mc.Get(context.Background(), "absent", &got); err != ErrCacheMiss {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryCacheExpiration(t *testing.T) {
	mc := newTestMemoryCache(t)
	ctx := context.Background()

	if err := mc.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	var got string
	if err := mc.Get(ctx, "k", &got); err != ErrCacheMiss {
		t.Fatalf("expected miss after TTL, got %v", err)
	}
}

func TestMemoryCacheEvictsLRU(t *testing.T) {
	mc := newTestMemoryCache(t, WithMemoryMaxSize(2))
	ctx := context.Background()

	_ = mc.Set(ctx, "a", "1", time.Minute)
	_ = mc.Set(ctx, "b", "2", time.Minute)
	_ = mc.Set(ctx, "c", "3", time.Minute) // evicts "a"

	var got string
	if err := mc.Get(ctx, "a", &got); err != ErrCacheMiss {
		t.Fatalf("expected oldest key evicted, got %v", err)
	}
	if err := mc.Get(ctx, "c", &got); err != nil || got != "3" {
		t.Fatalf("newest key lost: err=%v got=%q", err, got)
	}
}

func TestMemoryCacheUnsupportedDest(t *testing.T) {
	mc := newTestMemoryCache(t)
	ctx := context.Background()

	_ = mc.Set(ctx, "k", "v", time.Minute)
	var n int
	if err := mc.Get(ctx, "k", &n); err == nil {
		t.Fatal("expected error for unsupported destination type")
	}
}

func TestMemoryCacheTryLock(t *testing.T) {
	mc := newTestMemoryCache(t)
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "lock", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if ok, _ = mc.TryLock(ctx, "lock", time.Minute); ok {
		t.Fatal("second lock acquired while held")
	}
	if err := mc.Unlock(ctx, "lock"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if ok, _ = mc.TryLock(ctx, "lock", time.Minute); !ok {
		t.Fatal("lock not reacquirable after unlock")
	}
}

func TestGenerateKeyWithParams(t *testing.T) {
	if got := GenerateKeyWithParams("candle:latest", "BTC", "5m"); got != "candle:latest:BTC:5m" {
		t.Fatalf("got %q", got)
	}
	if got := GenerateKey("latest", "BTC"); got != "latest:BTC" {
		t.Fatalf("got %q", got)
	}
}
