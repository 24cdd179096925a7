package db

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
	"github.com/shiftwatch/shiftwatch/pkg/common"
)

var (
	ErrNegativeCacheHit = errors.New("negative hit")
	ErrCacheMiss        = errors.New("cache miss")
	ErrSetMissing       = errors.New("cannot set missing value directly")
)

type memcache[TKey comparable, TValue comparable] struct {
	store        *otter.Cache[TKey, TValue]
	counter      *stats.Counter
	missingValue TValue
	missingTTL   time.Duration
}

func NewMemoryCache[TKey comparable, TValue comparable](maxCacheSize int, missingValue TValue, expiryTTL, refreshTTL, missingTTL time.Duration) (*memcache[TKey, TValue], error) {
	counter := stats.NewCounter()
	store, err := otter.New(&otter.Options[TKey, TValue]{
		MaximumSize:       maxCacheSize,
		ExpiryCalculator:  otter.ExpiryAccessing[TKey, TValue](expiryTTL),
		RefreshCalculator: otter.RefreshWriting[TKey, TValue](refreshTTL),
		StatsRecorder:     counter,
	})

	if err != nil {
		return nil, err
	}

	return &memcache[TKey, TValue]{
		store:        store,
		counter:      counter,
		missingValue: missingValue,
		missingTTL:   missingTTL,
	}, nil
}

var _ common.Cache[int, any] = (*memcache[int, any])(nil)

func (c *memcache[TKey, TValue]) HitRatio() float64 {
	return c.counter.Snapshot().HitRatio()
}

func (c *memcache[TKey, TValue]) Get(ctx context.Context, key TKey) (TValue, error) {
	data, found := c.store.GetIfPresent(key)
	if !found {
		slog.Log(ctx, common.LevelTrace, "Item not found in memory cache", "key", key)
		var zero TValue
		return zero, ErrCacheMiss
	}

	if data == c.missingValue {
		slog.Log(ctx, common.LevelTrace, "Item set as missing in memory cache", "key", key)
		var zero TValue
		return zero, ErrNegativeCacheHit
	}

	slog.Log(ctx, common.LevelTrace, "Found item in memory cache", "key", key)

	return data, nil
}

func (c *memcache[TKey, TValue]) SetMissing(ctx context.Context, key TKey) error {
	c.store.Set(key, c.missingValue)
	c.store.SetExpiresAfter(key, c.missingTTL)

	slog.Log(ctx, common.LevelTrace, "Set item as missing in memory cache", "key", key)

	return nil
}

func (c *memcache[TKey, TValue]) Set(ctx context.Context, key TKey, t TValue) error {
	if t == c.missingValue {
		return ErrSetMissing
	}

	c.store.Set(key, t)

	slog.Log(ctx, common.LevelTrace, "Saved item to memory cache", "key", key)

	return nil
}

func (c *memcache[TKey, TValue]) SetTTL(ctx context.Context, key TKey, t TValue, ttl time.Duration) error {
	if t == c.missingValue {
		return ErrSetMissing
	}

	c.store.Set(key, t)
	c.store.SetExpiresAfter(key, ttl)

	slog.Log(ctx, common.LevelTrace, "Saved item to memory cache", "key", key, "ttl", ttl)

	return nil
}

func (c *memcache[TKey, TValue]) Delete(ctx context.Context, key TKey) error {
	_, found := c.store.Invalidate(key)

	slog.Log(ctx, common.LevelTrace, "Deleted item from memory cache", "key", key, "found", found)

	return nil
}

type cacheKeyPrefix byte

const (
	userByNameCacheKeyPrefix cacheKeyPrefix = iota
	userByIDCacheKeyPrefix
	propertiesCacheKeyPrefix
	userNamesCacheKeyPrefix
)

// CacheKey is a small "union" key, cheaper than string concatenation.
type CacheKey struct {
	Prefix   cacheKeyPrefix
	IntValue int32
	StrValue string
}

func (ck CacheKey) String() string {
	var prefix string
	switch ck.Prefix {
	case userByNameCacheKeyPrefix:
		prefix = "userName/"
	case userByIDCacheKeyPrefix:
		prefix = "userID/"
	case propertiesCacheKeyPrefix:
		prefix = "props/"
	case userNamesCacheKeyPrefix:
		prefix = "userNames/"
	}

	if len(ck.StrValue) != 0 {
		return prefix + ck.StrValue
	}

	return prefix + strconv.Itoa(int(ck.IntValue))
}

func userByNameCacheKey(name string) CacheKey {
	return CacheKey{Prefix: userByNameCacheKeyPrefix, StrValue: name}
}

func userByIDCacheKey(id int32) CacheKey {
	return CacheKey{Prefix: userByIDCacheKeyPrefix, IntValue: id}
}

func propertiesCacheKey(id int32) CacheKey {
	return CacheKey{Prefix: propertiesCacheKeyPrefix, IntValue: id}
}
