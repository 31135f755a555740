package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestActiveSessionsGauge(t *testing.T) {
	c := NewCollector()
	c.SessionRegistered()
	c.SessionRegistered()
	c.SessionUnregistered()
	if got := testutil.ToFloat64(c.activeSessions); got != 1 {
		t.Fatalf("expected active sessions gauge 1, got %v", got)
	}
}

func TestDispatchLatencyAndErrors(t *testing.T) {
	c := NewCollector()
	c.ObserveDispatch(0, 5*time.Millisecond, nil)
	c.ObserveDispatch(0, 5*time.Millisecond, context.DeadlineExceeded)
	if got := testutil.ToFloat64(c.dispatchErrors.WithLabelValues("0")); got != 1 {
		t.Fatalf("expected 1 dispatch error, got %v", got)
	}
}

func TestLockWaitTimeoutCounter(t *testing.T) {
	c := NewCollector()
	c.ObserveLockWait("obj:1", time.Millisecond, false)
	c.ObserveLockWait("obj:2", time.Second, true)
	if got := testutil.ToFloat64(c.lockTimeouts); got != 1 {
		t.Fatalf("expected 1 lock timeout, got %v", got)
	}
}

func TestCommitAndRollbackCounters(t *testing.T) {
	c := NewCollector()
	c.ObserveCommit(true, 2)
	c.ObserveCommit(false, 0)
	c.ObserveRollback(true, 1)
	if got := testutil.ToFloat64(c.commitsTotal.WithLabelValues("true")); got != 1 {
		t.Fatalf("expected 1 distributed commit, got %v", got)
	}
	if got := testutil.ToFloat64(c.commitsTotal.WithLabelValues("false")); got != 1 {
		t.Fatalf("expected 1 local commit, got %v", got)
	}
	if got := testutil.ToFloat64(c.rollbacksTotal.WithLabelValues("true")); got != 1 {
		t.Fatalf("expected 1 distributed rollback, got %v", got)
	}
}
