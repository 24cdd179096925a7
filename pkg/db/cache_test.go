package db

import (
	"testing"
	"time"
)

func TestMemoryCacheBasics(t *testing.T) {
	t.Parallel()

	cache, err := NewMemoryCache[CacheKey, any](100, &struct{}{}, time.Minute, time.Hour, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	ctx := t.Context()
	key := userByNameCacheKey("alice")

	if _, err := cache.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("expected cache miss, got %v", err)
	}

	user := &User{ID: 1, UserName: "alice"}
	if err := cache.Set(ctx, key, user); err != nil {
		t.Fatal(err)
	}

	cached, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if cached.(*User) != user {
		t.Error("cache returned a different value")
	}

	if err := cache.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("expected cache miss after delete, got %v", err)
	}
}

func TestMemoryCacheNegativeHit(t *testing.T) {
	t.Parallel()

	cache, err := NewMemoryCache[CacheKey, any](100, &struct{}{}, time.Minute, time.Hour, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	ctx := t.Context()
	key := userByIDCacheKey(42)

	if err := cache.SetMissing(ctx, key); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.Get(ctx, key); err != ErrNegativeCacheHit {
		t.Errorf("expected negative hit, got %v", err)
	}
}

func TestCacheKeyString(t *testing.T) {
	t.Parallel()

	if s := userByNameCacheKey("bob").String(); s != "userName/bob" {
		t.Errorf("unexpected key string %q", s)
	}

	if s := propertiesCacheKey(7).String(); s != "props/7" {
		t.Errorf("unexpected key string %q", s)
	}
}
