package resource

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sqlcoord/sessioncore"
)

// PreparedStatement is the minimal view QueryCache needs of a cached statement — the rest of
// its surface (setLocal, setFetchSize, isDDL, ...) belongs to the external Parser collaborator.
type PreparedStatement interface {
	CanReuse() bool
	Reuse()
}

// QueryCache is an LRU, keyed by SQL text, holding prepared statements across a schema
// snapshot. It is invalidated wholesale whenever the database's
// modificationMetaID advances past the snapshot it was built under. An optional L2Cache
// receives a marker per newly parsed SQL text under the current snapshot; the prepared
// statements themselves are held only in this process and are not read back from L2.
// Concurrent identical-SQL cache misses are collapsed into one parse with
// golang.org/x/sync/singleflight.
type QueryCache struct {
	mu       sync.Mutex
	snapshot int64
	local    *statementCache

	l2  sqlcoord.L2Cache
	sfg singleflight.Group
}

// NewQueryCache creates a QueryCache bounded to [minCapacity, maxCapacity] entries, optionally
// backed by l2 (pass nil to disable L2 backing). snapshot is the modificationMetaID the cache
// is built under.
func NewQueryCache(minCapacity, maxCapacity int, snapshot int64, l2 sqlcoord.L2Cache) *QueryCache {
	return &QueryCache{
		snapshot: snapshot,
		local:    newStatementCache(minCapacity, maxCapacity),
		l2:       l2,
	}
}

// Get returns a cache hit only if canReuse() holds, resetting its reusable state before
// returning it.
func (c *QueryCache) Get(sql string) (PreparedStatement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stmt, ok := c.local.get(sql)
	if !ok {
		return nil, false
	}
	if !stmt.CanReuse() {
		c.local.delete(sql)
		return nil, false
	}
	stmt.Reuse()
	return stmt, true
}

// Put inserts a freshly parsed statement under sql.
func (c *QueryCache) Put(sql string, stmt PreparedStatement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local.put(sql, stmt)
}

// InvalidateIfStale clears the entire cache if currentModificationMetaID has advanced past the
// snapshot it was built under, adopting currentModificationMetaID as the new snapshot. Returns
// true if invalidation occurred.
func (c *QueryCache) InvalidateIfStale(currentModificationMetaID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if currentModificationMetaID <= c.snapshot {
		return false
	}
	c.local.clear()
	c.snapshot = currentModificationMetaID
	return true
}

// PrepareOnce parses sql via parse exactly once even under concurrent identical-SQL misses
// from other goroutines (other sessions preparing the same statement at the same time),
// collapsing them with singleflight before populating the cache. A miss on the local cache goes
// straight to parse; the L2 cache is not consulted.
func (c *QueryCache) PrepareOnce(ctx context.Context, sql string, parse func(ctx context.Context) (PreparedStatement, error)) (PreparedStatement, error) {
	if stmt, ok := c.Get(sql); ok {
		return stmt, nil
	}
	v, err, _ := c.sfg.Do(sql, func() (interface{}, error) {
		if stmt, ok := c.Get(sql); ok {
			return stmt, nil
		}
		stmt, err := parse(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(sql, stmt)
		c.announceL2(ctx, sql)
		return stmt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(PreparedStatement), nil
}

// announceL2 records in L2 that this node has sql cached under the current snapshot.
// Best-effort: errors are not fatal to PrepareOnce.
func (c *QueryCache) announceL2(ctx context.Context, sql string) {
	if c.l2 == nil {
		return
	}
	_ = c.l2.Set(ctx, snapshotCacheKey(c.snapshot, sql), "1", 10*time.Minute)
}

// snapshotCacheKey namespaces the L2-backed mirror of a query cache entry by schema snapshot,
// so a stale snapshot never satisfies a lookup against a newer one.
func snapshotCacheKey(snapshot int64, sql string) string {
	return "qc:" + strconv.FormatInt(snapshot, 10) + ":" + sql
}
