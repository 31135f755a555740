package lock

import (
	"context"
	"testing"
	"time"

	"github.com/sqlcoord/sessioncore"
	"github.com/sqlcoord/sessioncore/redis"
)

type countingObserver struct {
	waits    []time.Duration
	timeouts int
}

func (o *countingObserver) ObserveLockWait(objectID string, waited time.Duration, timedOut bool) {
	o.waits = append(o.waits, waited)
	if timedOut {
		o.timeouts++
	}
}

func TestManagerLockReportsToObserver(t *testing.T) {
	m := NewManager(nil)
	obs := &countingObserver{}
	m.SetObserver(obs)

	sessionID := sqlcoord.NewUUID()
	_, err := m.Lock(context.Background(), "tbl", Holder{SessionID: sessionID}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obs.waits) != 1 || obs.timeouts != 0 {
		t.Fatalf("expected one successful wait observation, got %+v", obs)
	}
}

func TestManagerLockReportsTimeoutToObserver(t *testing.T) {
	m := NewManager(nil)
	obs := &countingObserver{}
	m.SetObserver(obs)

	_, err := m.Lock(context.Background(), "tbl", Holder{SessionID: sqlcoord.NewUUID()}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error acquiring first lock: %v", err)
	}

	_, err = m.Lock(context.Background(), "tbl", Holder{SessionID: sqlcoord.NewUUID()}, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected a lock-timeout error")
	}
	if obs.timeouts != 1 {
		t.Fatalf("expected the timeout observed, got %+v", obs)
	}
}

func TestManagerGetOrCreateReusesSameLock(t *testing.T) {
	m := NewManager(nil)
	l1 := m.GetOrCreate("tbl")
	l2 := m.GetOrCreate("tbl")
	if l1 != l2 {
		t.Fatal("expected GetOrCreate to return the same lock for the same object id")
	}
}

func TestVerifyNoExternalWriterNoopWithoutVersionCache(t *testing.T) {
	m := NewManager(nil)
	if err := m.VerifyNoExternalWriter(context.Background(), "tbl", 5); err != nil {
		t.Fatalf("expected no-op success without a version cache, got %v", err)
	}
}

func TestVerifyNoExternalWriterDetectsVersionMismatch(t *testing.T) {
	m := NewManager(redis.NewMockClient())
	ctx := context.Background()

	if err := m.BumpVersion(ctx, "tbl", 1); err != nil {
		t.Fatalf("unexpected error bumping version: %v", err)
	}
	if err := m.VerifyNoExternalWriter(ctx, "tbl", 1); err != nil {
		t.Fatalf("expected verification to succeed when versions match, got %v", err)
	}

	if err := m.BumpVersion(ctx, "tbl", 2); err != nil {
		t.Fatalf("unexpected error bumping version: %v", err)
	}
	if err := m.VerifyNoExternalWriter(ctx, "tbl", 1); err == nil {
		t.Fatal("expected verification to fail once a concurrent writer bumped the version")
	}
}

func TestVerifyNoExternalWriterNoopWhenNeverBumped(t *testing.T) {
	m := NewManager(redis.NewMockClient())
	if err := m.VerifyNoExternalWriter(context.Background(), "tbl", 99); err != nil {
		t.Fatalf("expected no-op success for a never-bumped object, got %v", err)
	}
}
