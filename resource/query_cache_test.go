package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeStatement struct {
	reusable int32
	reuses   int32
}

func (s *fakeStatement) CanReuse() bool { return atomic.LoadInt32(&s.reusable) != 0 }
func (s *fakeStatement) Reuse()         { atomic.AddInt32(&s.reuses, 1) }

func TestQueryCacheGetMissThenHit(t *testing.T) {
	c := NewQueryCache(4, 16, 0, nil)
	if _, ok := c.Get("select 1"); ok {
		t.Fatal("expected miss on empty cache")
	}
	stmt := &fakeStatement{reusable: 1}
	c.Put("select 1", stmt)
	got, ok := c.Get("select 1")
	if !ok || got != stmt {
		t.Fatalf("expected cache hit returning the same statement, got (%v, %v)", got, ok)
	}
	if stmt.reuses != 1 {
		t.Fatalf("expected Reuse() called on hit, got %d calls", stmt.reuses)
	}
}

func TestQueryCacheGetEvictsWhenNotReusable(t *testing.T) {
	c := NewQueryCache(4, 16, 0, nil)
	stmt := &fakeStatement{reusable: 0}
	c.Put("select 1", stmt)
	if _, ok := c.Get("select 1"); ok {
		t.Fatal("expected a non-reusable cache entry to be treated as a miss")
	}
	if _, ok := c.Get("select 1"); ok {
		t.Fatal("expected the non-reusable entry to have been evicted, not just skipped")
	}
}

func TestQueryCacheInvalidateIfStaleClearsOnSchemaChange(t *testing.T) {
	c := NewQueryCache(4, 16, 5, nil)
	c.Put("select 1", &fakeStatement{reusable: 1})

	if c.InvalidateIfStale(5) {
		t.Fatal("expected no invalidation when the metaID has not advanced")
	}
	if _, ok := c.Get("select 1"); !ok {
		t.Fatal("expected entry to survive a non-advancing metaID check")
	}

	if !c.InvalidateIfStale(6) {
		t.Fatal("expected invalidation once the metaID advances past the snapshot")
	}
	if _, ok := c.Get("select 1"); ok {
		t.Fatal("expected cache cleared after invalidation")
	}
}

func TestQueryCachePrepareOnceCollapsesConcurrentMisses(t *testing.T) {
	c := NewQueryCache(4, 16, 0, nil)
	var parseCount int32
	stmt := &fakeStatement{reusable: 1}

	var wg sync.WaitGroup
	results := make([]PreparedStatement, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.PrepareOnce(context.Background(), "select * from t", func(ctx context.Context) (PreparedStatement, error) {
				atomic.AddInt32(&parseCount, 1)
				return stmt, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if parseCount != 1 {
		t.Fatalf("expected exactly one parse for concurrent identical-SQL misses, got %d", parseCount)
	}
	for _, r := range results {
		if r != stmt {
			t.Fatal("expected every caller to receive the same parsed statement")
		}
	}
}

func TestQueryCachePrepareOnceReturnsParseError(t *testing.T) {
	c := NewQueryCache(4, 16, 0, nil)
	wantErr := contextCanceledErr{}
	_, err := c.PrepareOnce(context.Background(), "select bad", func(ctx context.Context) (PreparedStatement, error) {
		return nil, wantErr
	})
	if err != wantErr {
		t.Fatalf("expected parse error propagated, got %v", err)
	}
	if _, ok := c.Get("select bad"); ok {
		t.Fatal("expected nothing cached after a failed parse")
	}
}

type contextCanceledErr struct{}

func (contextCanceledErr) Error() string { return "parse failed" }
