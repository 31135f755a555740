package replication

import (
	"context"
	"testing"

	"github.com/sqlcoord/sessioncore"
)

type fakeHolder struct {
	sessionID            sqlcoord.UUID
	replicationName      string
	rolledBack           bool
	transferredTo        sqlcoord.UUID
	retryNames           []string
	retrying             bool
	retryingReturnResult bool
	enqueuedRowKey       string
	enqueuedWaiter       RowLockHolder
}

func (h *fakeHolder) SessionID() sqlcoord.UUID { return h.sessionID }
func (h *fakeHolder) ReplicationName() string  { return h.replicationName }
func (h *fakeHolder) RollbackToLockedRowSavepoint(ctx context.Context) error {
	h.rolledBack = true
	return nil
}
func (h *fakeHolder) TransferLockTo(ctx context.Context, winner sqlcoord.UUID) error {
	h.transferredTo = winner
	return nil
}
func (h *fakeHolder) SetRetryReplicationNames(names []string) { h.retryNames = names }
func (h *fakeHolder) MarkRetrying()                           { h.retrying = true }
func (h *fakeHolder) MarkRetryingReturnResult()               { h.retryingReturnResult = true }
func (h *fakeHolder) EnqueueRowWaiter(rowKey string, waiter RowLockHolder) {
	h.enqueuedRowKey = rowKey
	h.enqueuedWaiter = waiter
}

type fakeAppendIndex struct {
	assignment map[string]int64
	maxKey     int64
}

func (a *fakeAppendIndex) SetKeyRange(assignment map[string]int64, maxKey int64) {
	a.assignment = assignment
	a.maxKey = maxKey
}

func TestNextAckVersionIncrementsPerStatement(t *testing.T) {
	r := NewResolver()
	if v := r.NextAckVersion("stmt-1"); v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
	if v := r.NextAckVersion("stmt-1"); v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
	if v := r.NextAckVersion("stmt-2"); v != 1 {
		t.Fatalf("expected a fresh counter per statement id, got %d", v)
	}
}

func TestShouldSuppressRetryingReturnResult(t *testing.T) {
	r := NewResolver()
	r.NextAckVersion("stmt-1")
	if r.ShouldSuppressRetryingReturnResult("stmt-1", ConflictAppend, false) {
		t.Fatal("first ack should never suppress")
	}
	r.NextAckVersion("stmt-1")
	if !r.ShouldSuppressRetryingReturnResult("stmt-1", ConflictAppend, false) {
		t.Fatal("second APPEND ack should suppress")
	}
	if !r.ShouldSuppressRetryingReturnResult("stmt-1", ConflictRowLock, true) {
		t.Fatal("second ack for an IF-DDL statement should suppress regardless of conflict type")
	}
	if r.ShouldSuppressRetryingReturnResult("stmt-1", ConflictRowLock, false) {
		t.Fatal("second ack for a plain ROW_LOCK, non-IF-DDL statement should not suppress")
	}
}

func TestHandleReplicaConflictRowLockTransfersOwnership(t *testing.T) {
	r := NewResolver()
	winnerID := sqlcoord.NewUUID()
	winner := &fakeHolder{sessionID: winnerID, replicationName: "rn-winner"}
	holder := &fakeHolder{sessionID: sqlcoord.NewUUID()}

	if err := r.HandleReplicaConflict(context.Background(), ConflictRowLock, winner, holder, "row-7", []string{"rn-earlier"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !holder.rolledBack {
		t.Fatal("expected holder to roll back to its locked-row savepoint")
	}
	if holder.transferredTo != winnerID {
		t.Fatalf("expected lock transferred to winner %s, got %s", winnerID, holder.transferredTo)
	}
	if len(winner.retryNames) != 2 || winner.retryNames[0] != "rn-winner" {
		t.Fatalf("expected winner's replication name prepended to the retry list, got %v", winner.retryNames)
	}
	if winner.enqueuedRowKey != "row-7" || winner.enqueuedWaiter != RowLockHolder(holder) {
		t.Fatalf("expected the rolled-back holder re-queued as a waiter keyed by the row key, got (%q, %v)",
			winner.enqueuedRowKey, winner.enqueuedWaiter)
	}
}

func TestWrapAckSelectsDistributedVariantForParticipantManualCommit(t *testing.T) {
	ack := NewNoneAck(3)
	if _, ok := WrapAck(ack, false, false).(DTransactionUpdateAck); !ok {
		t.Fatal("expected the DTransaction variant for a participant session under manual commit")
	}
	if _, ok := WrapAck(ack, true, false).(UpdateAck); !ok {
		t.Fatal("expected the plain ack for a root session")
	}
	if _, ok := WrapAck(ack, false, true).(UpdateAck); !ok {
		t.Fatal("expected the plain ack under auto-commit")
	}
}

func TestHandleReplicaConflictDBObjectLockMarksRetrying(t *testing.T) {
	r := NewResolver()
	winner := &fakeHolder{sessionID: sqlcoord.NewUUID(), replicationName: "rn-winner"}
	holder := &fakeHolder{sessionID: sqlcoord.NewUUID()}

	if err := r.HandleReplicaConflict(context.Background(), ConflictDBObjectLock, winner, holder, "", []string{"rn-a", "rn-b"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !holder.retrying {
		t.Fatal("expected holder marked RETRYING")
	}
	if holder.retryingReturnResult {
		t.Fatal("an object-lock conflict must set RETRYING, not RETRYING_RETURN_RESULT")
	}
	if len(holder.retryNames) != 2 {
		t.Fatalf("expected retry names propagated to holder, got %v", holder.retryNames)
	}
}

// TestHandleReplicaConflictAppendDeterministicAcrossOrdering exercises the S4 property: two
// replicas computing the same key assignment from the same retry-name set regardless of the
// order the names arrive in.
func TestHandleReplicaConflictAppendDeterministicAcrossOrdering(t *testing.T) {
	r := NewResolver()
	names := []string{
		EncodeAppendRetryName(100, 10, "replica-b"),
		EncodeAppendRetryName(50, 5, "replica-a"),
	}
	reordered := []string{names[1], names[0]}

	winner := &fakeHolder{sessionID: sqlcoord.NewUUID()}
	holder := &fakeHolder{sessionID: sqlcoord.NewUUID()}
	idx1 := &fakeAppendIndex{}
	if err := r.HandleReplicaConflict(context.Background(), ConflictAppend, winner, holder, "", names, idx1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idx2 := &fakeAppendIndex{}
	if err := r.HandleReplicaConflict(context.Background(), ConflictAppend, winner, holder, "", reordered, idx2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if idx1.maxKey != idx2.maxKey {
		t.Fatalf("expected identical maxKey regardless of ordering, got %d vs %d", idx1.maxKey, idx2.maxKey)
	}
	for k, v := range idx1.assignment {
		if idx2.assignment[k] != v {
			t.Fatalf("key assignment diverged for %q: %d vs %d", k, v, idx2.assignment[k])
		}
	}
	if !winner.retryingReturnResult || !holder.retryingReturnResult {
		t.Fatal("expected both sides marked RETRYING_RETURN_RESULT for an APPEND conflict")
	}
}

func TestHandleReplicaConflictNoneIsNoop(t *testing.T) {
	r := NewResolver()
	winner := &fakeHolder{sessionID: sqlcoord.NewUUID()}
	holder := &fakeHolder{sessionID: sqlcoord.NewUUID()}
	if err := r.HandleReplicaConflict(context.Background(), ConflictNone, winner, holder, "", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if holder.rolledBack || holder.retrying || holder.retryingReturnResult {
		t.Fatal("expected no side effects for ConflictNone")
	}
}
