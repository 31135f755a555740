package txn

import (
	"context"
	"testing"
	"time"

	"github.com/sqlcoord/sessioncore"
	"github.com/sqlcoord/sessioncore/txlog"
)

type fakeParticipant struct {
	addr          string
	phase1Err     error
	phase2Err     error
	phase1Called  bool
	phase2Called  bool
	rollbackCalled bool
}

func (p *fakeParticipant) Phase1Commit(ctx context.Context) error { p.phase1Called = true; return p.phase1Err }
func (p *fakeParticipant) Phase2Commit(ctx context.Context) error { p.phase2Called = true; return p.phase2Err }
func (p *fakeParticipant) Rollback(ctx context.Context) error     { p.rollbackCalled = true; return nil }
func (p *fakeParticipant) PeerAddress() string                    { return p.addr }

func TestCommitLocalNoParticipants(t *testing.T) {
	tx := New(ReadCommitted, true, true, 0, txlog.NewInMemoryLog(), nil)
	if err := tx.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Commit(context.Background(), 0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if tx.Status() != StatusCommitted {
		t.Fatalf("expected StatusCommitted, got %v", tx.Status())
	}
}

func TestCommitDistributedAllParticipants(t *testing.T) {
	tx := New(ReadCommitted, true, true, 0, txlog.NewInMemoryLog(), nil)
	tx.Begin()
	p1 := &fakeParticipant{addr: "10.0.0.1:9000"}
	p2 := &fakeParticipant{addr: "10.0.0.2:9000"}
	tx.AddParticipant(p1)
	tx.AddParticipant(p2)
	tx.BuildGlobalName("local-tx-1")

	if err := tx.Commit(context.Background(), 0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !p1.phase1Called || !p1.phase2Called || !p2.phase1Called || !p2.phase2Called {
		t.Fatalf("expected both phases called on all participants: %+v %+v", p1, p2)
	}
	if tx.GlobalName() != "local-tx-1,10.0.0.1:9000,10.0.0.2:9000" {
		t.Fatalf("unexpected global name: %q", tx.GlobalName())
	}
}

func TestCommitPhase1FailureRollsBackAllParticipants(t *testing.T) {
	tx := New(ReadCommitted, true, true, 0, txlog.NewInMemoryLog(), nil)
	tx.Begin()
	p1 := &fakeParticipant{addr: "a", phase1Err: context.DeadlineExceeded}
	p2 := &fakeParticipant{addr: "b"}
	tx.AddParticipant(p1)
	tx.AddParticipant(p2)

	if err := tx.Commit(context.Background(), 0); err == nil {
		t.Fatalf("expected commit to fail")
	}
	if !p2.rollbackCalled {
		t.Fatalf("expected surviving participant to be rolled back")
	}
	if tx.Status() != StatusRolledBack {
		t.Fatalf("expected StatusRolledBack, got %v", tx.Status())
	}
}

func TestCommitRollbackNotAllowedWhileLocksHeldAndDisabled(t *testing.T) {
	tx := New(ReadCommitted, true, true, 0, nil, nil)
	tx.Begin()
	tx.SetCommitDisabled(true)
	if err := tx.Commit(context.Background(), 1); err == nil {
		t.Fatalf("expected COMMIT_ROLLBACK_NOT_ALLOWED")
	}
	if err := tx.Commit(context.Background(), 0); err != nil {
		t.Fatalf("commit should be allowed once locksHeld is 0: %v", err)
	}
}

func TestSavepointRoundTrip(t *testing.T) {
	tx := New(ReadCommitted, true, true, 0, nil, nil)
	tx.Begin()
	before := tx.savepointSeq
	id, err := tx.AddSavepoint("a", 0)
	if err != nil {
		t.Fatalf("addSavepoint: %v", err)
	}
	if _, err := tx.RollbackToSavepoint("a", 0); err != nil {
		t.Fatalf("rollbackToSavepoint: %v", err)
	}
	if tx.savepointSeq != id {
		t.Fatalf("expected savepointSeq %d, got %d", id, tx.savepointSeq)
	}
	tx.RollbackTo(before)
	if tx.savepointSeq != before {
		t.Fatalf("expected savepointSeq reset to %d, got %d", before, tx.savepointSeq)
	}
}

type fakeWaiter struct{ id sqlcoord.UUID }

func (w fakeWaiter) SessionID() sqlcoord.UUID { return w.id }

func TestWaitingTransactionIndexKeyedByRowKey(t *testing.T) {
	tx := New(ReadCommitted, true, true, 0, nil, nil)
	tx.Begin()

	w1 := fakeWaiter{id: sqlcoord.NewUUID()}
	w2 := fakeWaiter{id: sqlcoord.NewUUID()}
	tx.AddWaitingTransaction("row-1", w1)
	tx.AddWaitingTransaction("row-1", w2)
	tx.AddWaitingTransaction("row-2", fakeWaiter{id: sqlcoord.NewUUID()})

	got := tx.TakeWaitingTransactions("row-1")
	if len(got) != 2 || got[0].SessionID() != w1.id || got[1].SessionID() != w2.id {
		t.Fatalf("expected row-1 waiters drained in arrival order, got %v", got)
	}
	if got := tx.TakeWaitingTransactions("row-1"); len(got) != 0 {
		t.Fatal("expected row-1 empty after the first take")
	}
	if got := tx.TakeWaitingTransactions("row-2"); len(got) != 1 {
		t.Fatalf("expected the row-2 waiter untouched by row-1's drain, got %d", len(got))
	}
}

func TestCheckTimeout(t *testing.T) {
	tx := New(ReadCommitted, true, true, 10*time.Millisecond, nil, nil)
	tx.Begin()
	if err := tx.CheckTimeout(); err != nil {
		t.Fatalf("expected no timeout yet: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := tx.CheckTimeout(); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestRollbackRestoresCatalogOnDDL(t *testing.T) {
	tx := New(ReadCommitted, true, true, 0, txlog.NewInMemoryLog(), nil)
	tx.Begin()
	var restored interface{}
	tx.SetCatalogRestorer(fakeCatalog{snap: "schema-v1", restoreFn: func(v interface{}) { restored = v }})
	tx.MarkLastStatement(true, false)
	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if restored != "schema-v1" {
		t.Fatalf("expected catalog restored with snapshot, got %v", restored)
	}
}

type fakeCatalog struct {
	snap      interface{}
	restoreFn func(interface{})
}

func (f fakeCatalog) Snapshot() interface{}        { return f.snap }
func (f fakeCatalog) Restore(saved interface{})    { f.restoreFn(saved) }
