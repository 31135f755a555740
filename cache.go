package sqlcoord

import (
	"context"
	"time"
)

// LockKey identifies a single distributed lock attempt: a cache key plus the random LockID
// this attempt claims it with, and whether this process turned out to own it.
type LockKey struct {
	Key         string
	LockID      UUID
	IsLockOwner bool
}

// Cache is the minimal read/write contract shared by the in-process and Redis-backed L2
// caches used for the query cache, cursor cache, and cross-replica conflict negotiation
// state. Methods mirror Redis semantics (TTL, JSON-struct helpers, bulk get/set) so either
// backing can be swapped in without changing callers.
type Cache interface {
	Ping(ctx context.Context) error
	Clear(ctx context.Context) error

	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Get(ctx context.Context, key string) (bool, string, error)
	GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error)

	SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetStruct(ctx context.Context, key string, target interface{}) (bool, error)
	GetStructEx(ctx context.Context, key string, target interface{}, expiration time.Duration) (bool, error)

	SetStructs(ctx context.Context, keys []string, values []interface{}, expiration time.Duration) error
	GetStructs(ctx context.Context, keys []string, targets []interface{}, expiration time.Duration) ([]bool, error)

	Delete(ctx context.Context, keys []string) (bool, error)

	// FormatLockKey prefixes k so it cannot collide with a value cache key.
	FormatLockKey(k string) string
	// CreateLockKeys allocates fresh LockIDs for a set of lock key names.
	CreateLockKeys(keys ...string) []*LockKey
	// Lock attempts to atomically claim every key in lockKeys for duration. All-or-nothing.
	Lock(ctx context.Context, duration time.Duration, lockKeys ...*LockKey) (bool, error)
	// Unlock releases every lockKey this process owns.
	Unlock(ctx context.Context, lockKeys ...*LockKey) error
	// IsLocked reports whether lockKeys are still claimed by their recorded LockID.
	IsLocked(ctx context.Context, lockKeys ...*LockKey) (bool, error)
	// IsLockedByOthers reports whether every one of the named keys is locked, ownership aside.
	IsLockedByOthers(ctx context.Context, lockKeyNames ...string) (bool, error)
}

// L2Cache is a Cache that also exposes restart detection, used to invalidate process-local
// state (the query cache snapshot, replica conflict negotiation state) when the backing
// cache process has restarted and lost its contents without the local process noticing.
type L2Cache interface {
	Cache
	// IsRestarted reports whether the backing cache has restarted since the previous call.
	IsRestarted(ctx context.Context) bool
}

// CloseableCache is an L2Cache that owns a dedicated connection the caller must Close.
type CloseableCache interface {
	L2Cache
	Close() error
}

// CacheType identifies a concrete L2Cache backend.
type CacheType int

const (
	// NoCache disables L2 caching.
	NoCache CacheType = iota
	// InMemory selects the process-local in-memory L2Cache.
	InMemory
	// Redis selects the Redis-backed L2Cache.
	Redis
)

// CacheFactory constructs an L2Cache instance.
type CacheFactory func() L2Cache

var (
	globalCacheFactory     CacheFactory
	globalCacheFactoryType CacheType
	cacheRegistry          = make(map[CacheType]CacheFactory)
)

// RegisterCacheFactory registers a constructor for a given cache backend. Backend packages
// (redis, an in-memory implementation) call this from an init() so the root package never
// has to import them directly — the process-wide cache strategy is a trait object selected
// at startup, not a compile-time dependency.
func RegisterCacheFactory(t CacheType, f CacheFactory) {
	cacheRegistry[t] = f
}

// SetCacheFactory selects the registered factory for t as the process-wide default.
func SetCacheFactory(t CacheType) {
	if f, ok := cacheRegistry[t]; ok {
		globalCacheFactory = f
		globalCacheFactoryType = t
	}
}

// GetCacheFactoryType returns the currently selected cache backend.
func GetCacheFactoryType() CacheType {
	return globalCacheFactoryType
}

// NewCacheClient creates a cache client using the currently selected factory, or nil if none
// has been selected yet.
func NewCacheClient() L2Cache {
	if globalCacheFactory == nil {
		return nil
	}
	return globalCacheFactory()
}
