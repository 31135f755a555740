package txn

import (
	"context"
	"testing"

	"github.com/sqlcoord/sessioncore/txlog"
)

func TestCoordinatorRollbackStaleRollsBackTrackedTransaction(t *testing.T) {
	c := NewCoordinator()
	tx := New(ReadCommitted, false, true, 0, txlog.NewInMemoryLog(), nil)
	tx.Begin()
	c.Track(tx)

	if err := c.RollbackStale(context.Background(), tx.ID(), txlog.StepParticipantsPrepared); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Status() != StatusRolledBack {
		t.Fatalf("expected the tracked transaction to be rolled back, got status %v", tx.Status())
	}
}

func TestCoordinatorRollbackStaleUntrackedIsNoop(t *testing.T) {
	c := NewCoordinator()
	tx := New(ReadCommitted, false, true, 0, txlog.NewInMemoryLog(), nil)
	tx.Begin()
	// Not tracked: simulates a process restart that lost in-memory Transaction state.
	if err := c.RollbackStale(context.Background(), tx.ID(), txlog.StepGlobalDecisionWritten); err != nil {
		t.Fatalf("expected a no-op, nil-error result for an untracked transaction, got %v", err)
	}
}

func TestCoordinatorTrackUntrack(t *testing.T) {
	c := NewCoordinator()
	tx := New(ReadCommitted, false, true, 0, txlog.NewInMemoryLog(), nil)
	tx.Begin()
	c.Track(tx)
	c.Untrack(tx)

	// After Untrack, RollbackStale should treat it as unknown (no-op) rather than rolling it
	// back a second time.
	if err := c.RollbackStale(context.Background(), tx.ID(), txlog.StepUnknown); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Status() == StatusRolledBack {
		t.Fatal("expected Untrack to prevent a redundant rollback from mutating the transaction again")
	}
}

func TestRecoverStaleTransactionsDrainsLoggedEntry(t *testing.T) {
	ctx := context.Background()
	log := txlog.NewInMemoryLog()
	c := NewCoordinator()

	tx := New(ReadCommitted, false, true, 0, log, nil)
	tx.Begin()
	c.Track(tx)
	if err := log.Add(ctx, tx.ID(), txlog.StepParticipantsPrepared, nil); err != nil {
		t.Fatalf("unexpected error logging a step: %v", err)
	}

	found, err := txlog.RecoverStaleTransactions(ctx, log, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected the logged transaction to be found")
	}
	if tx.Status() != StatusRolledBack {
		t.Fatalf("expected recovery to roll back the crashed transaction, got status %v", tx.Status())
	}

	found, err = txlog.RecoverStaleTransactions(ctx, log, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected the log to be drained after the first recovery pass")
	}
}
