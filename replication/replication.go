// Package replication implements the ReplicationResolver: conflict detection and the retry
// negotiation protocol that lets multiple replicas race to apply the same logical write and
// deterministically agree on a winner.
package replication

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sqlcoord/sessioncore"
)

// ConflictType classifies why a replicated write could not apply cleanly on this replica.
type ConflictType uint8

const (
	ConflictNone ConflictType = iota
	ConflictRowLock
	ConflictDBObjectLock
	ConflictAppend
)

// UpdateAck is the logical payload of a replication acknowledgement packet, mirroring the
// wire schema field-for-field. The wire encoding itself is out of scope; this struct is what
// the session layer hands to the (external) wire codec.
type UpdateAck struct {
	UpdateCount                int64
	First                      int64 // append start key, else -1
	UncommittedReplicationName string
	ConflictType                ConflictType
	AckVersion                  int32
	IsIfDDL                     bool
	IsFinalResult               bool
}

// NewNoneAck builds the ack payload for the non-conflict case.
func NewNoneAck(updateCount int64) UpdateAck {
	return UpdateAck{UpdateCount: updateCount, First: -1, ConflictType: ConflictNone, IsFinalResult: true}
}

// DTransactionUpdateAck is the distributed-transaction variant of UpdateAck, emitted by a
// participant session under manual commit. Payload is identical; the distinct type lets the
// wire codec frame it as its own packet kind.
type DTransactionUpdateAck struct {
	UpdateAck
}

// PreparedUpdateAck wraps either ack shape with the phase bit used by two-phase replication:
// Phase2 is false on the prepare ack and true on the finalize ack.
type PreparedUpdateAck struct {
	UpdateAck
	Phase2 bool
}

// WrapAck selects the packet shape for ack: the DTransactionUpdateAck variant iff the emitting
// session is a participant (not root) under manual commit, the plain UpdateAck otherwise.
func WrapAck(ack UpdateAck, isRoot, autoCommit bool) interface{} {
	if !isRoot && !autoCommit {
		return DTransactionUpdateAck{UpdateAck: ack}
	}
	return ack
}

// RowLockHolder is the minimal view the resolver needs of whichever session currently holds a
// contended row or object lock, so it can transfer ownership without the replication package
// depending on the session package (which would create an import cycle: session depends on
// replication for conflict acks).
type RowLockHolder interface {
	// SessionID identifies the holder.
	SessionID() sqlcoord.UUID
	// ReplicationName returns the holder's current replication attempt name, if any.
	ReplicationName() string
	// RollbackToLockedRowSavepoint rolls the holder's transaction back to the savepoint taken
	// just before the contended row/object was locked, per the ROW_LOCK contract.
	RollbackToLockedRowSavepoint(ctx context.Context) error
	// TransferLockTo hands the contended lock to the winning session atomically.
	TransferLockTo(ctx context.Context, winner sqlcoord.UUID) error
	// SetRetryReplicationNames applies names to every lock currently held by the holder — this
	// overwrites unrelated locks' retry lists too, and that behavior is preserved deliberately
	// rather than "fixed".
	SetRetryReplicationNames(names []string)
	// MarkRetrying transitions the holder to RETRYING.
	MarkRetrying()
	// MarkRetryingReturnResult transitions the holder to RETRYING_RETURN_RESULT.
	MarkRetryingReturnResult()
	// EnqueueRowWaiter parks waiter in this session's transaction's waiting-transaction index
	// under rowKey, so a holder rolled back off a contended row is re-dispatched for that row
	// once this session releases it.
	EnqueueRowWaiter(rowKey string, waiter RowLockHolder)
}

// AppendIndex is the minimal view the resolver needs of the catalog append index involved in
// an APPEND conflict.
type AppendIndex interface {
	// SetKeyRange publishes the deterministic per-replica key assignment derived from the
	// retry list, keyed by replicationName, plus the computed maxKey.
	SetKeyRange(assignment map[string]int64, maxKey int64)
}

// appendEntry is one decoded "<first>,<count>:<replicationName>" retry-list entry.
type appendEntry struct {
	first           int64
	count           int64
	replicationName string
}

// Resolver runs the deterministic conflict-resolution negotiation. It holds no
// session-specific state itself — callers pass in the holder/session views for the two
// sessions in conflict.
type Resolver struct {
	mu         sync.Mutex
	ackVersion map[string]int32 // keyed by statement id: ackVersion is scoped per statement
}

// NewResolver creates an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{ackVersion: make(map[string]int32)}
}

// NextAckVersion increments and returns the ack version for statementID. Used by the caller to
// populate UpdateAck.AckVersion; retries are deduped on this counter.
func (r *Resolver) NextAckVersion(statementID string) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ackVersion[statementID]++
	return r.ackVersion[statementID]
}

// ShouldSuppressRetryingReturnResult reports whether a second RETRYING_RETURN_RESULT
// transition should be suppressed for statementID — true for APPEND and for IF-DDL statements
// once the ack version has already advanced past the first ack.
func (r *Resolver) ShouldSuppressRetryingReturnResult(statementID string, conflict ConflictType, isIfDDL bool) bool {
	r.mu.Lock()
	v := r.ackVersion[statementID]
	r.mu.Unlock()
	if v <= 1 {
		return false
	}
	return conflict == ConflictAppend || isIfDDL
}

// HandleReplicaConflict negotiates resolution of a conflict seen by winner against holder.
// retryNames is the incoming retry-names list (already including prior entries); winner's own
// replicationName is prepended for ROW_LOCK before transfer, preserving the ordering guarantee
// that the first name in the list is the deterministic winner. rowKey identifies the contended
// row for ROW_LOCK conflicts and is ignored otherwise.
func (r *Resolver) HandleReplicaConflict(ctx context.Context, conflict ConflictType, winner RowLockHolder, holder RowLockHolder, rowKey string, retryNames []string, appendIdx AppendIndex) error {
	switch conflict {
	case ConflictRowLock:
		names := append([]string{winner.ReplicationName()}, retryNames...)
		winner.SetRetryReplicationNames(names)
		if err := holder.RollbackToLockedRowSavepoint(ctx); err != nil {
			return err
		}
		if err := holder.TransferLockTo(ctx, winner.SessionID()); err != nil {
			return err
		}
		winner.EnqueueRowWaiter(rowKey, holder)
		return nil

	case ConflictDBObjectLock:
		holder.SetRetryReplicationNames(retryNames)
		if err := holder.RollbackToLockedRowSavepoint(ctx); err != nil {
			return err
		}
		if err := holder.TransferLockTo(ctx, winner.SessionID()); err != nil {
			return err
		}
		holder.MarkRetrying()
		return nil

	case ConflictAppend:
		entries, err := decodeAppendRetryNames(retryNames)
		if err != nil {
			return err
		}
		minKey, sum := deriveAppendRange(entries)
		assignment := assignAppendKeys(entries, minKey)
		if appendIdx != nil {
			appendIdx.SetKeyRange(assignment, minKey+sum)
		}
		winner.MarkRetryingReturnResult()
		holder.MarkRetryingReturnResult()
		return nil

	case ConflictNone:
		return nil

	default:
		return fmt.Errorf("unknown conflict type %d", conflict)
	}
}

// EncodeAppendRetryName formats one replica's contribution in the
// "<first>,<count>:<replicationName>" wire format.
func EncodeAppendRetryName(first, count int64, replicationName string) string {
	return fmt.Sprintf("%d,%d:%s", first, count, replicationName)
}

func decodeAppendRetryNames(retryNames []string) ([]appendEntry, error) {
	entries := make([]appendEntry, 0, len(retryNames))
	for _, rn := range retryNames {
		parts := strings.SplitN(rn, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed append retry name %q", rn)
		}
		fc := strings.SplitN(parts[0], ",", 2)
		if len(fc) != 2 {
			return nil, fmt.Errorf("malformed append retry name %q", rn)
		}
		first, err := strconv.ParseInt(fc[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed append retry name %q: %w", rn, err)
		}
		count, err := strconv.ParseInt(fc[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed append retry name %q: %w", rn, err)
		}
		entries = append(entries, appendEntry{first: first, count: count, replicationName: parts[1]})
	}
	return entries, nil
}

// deriveAppendRange computes minKey (the smallest first-key among all participants) and the
// sum of append counts, used to derive maxKey = minKey + sum. Deterministic regardless of
// entries' input ordering, so concurrent replicas converge on the same key assignment no
// matter what order their retry-name contributions arrive in.
func deriveAppendRange(entries []appendEntry) (minKey, sum int64) {
	if len(entries) == 0 {
		return 0, 0
	}
	minKey = entries[0].first
	for _, e := range entries {
		if e.first < minKey {
			minKey = e.first
		}
		sum += e.count
	}
	return minKey, sum
}

// assignAppendKeys deterministically assigns each replica a contiguous key range within
// [minKey, minKey+sum), ordered by (first key, replicationName) so every replica computes the
// identical assignment from the identical retry list irrespective of list order.
func assignAppendKeys(entries []appendEntry, minKey int64) map[string]int64 {
	ordered := make([]appendEntry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].first != ordered[j].first {
			return ordered[i].first < ordered[j].first
		}
		return ordered[i].replicationName < ordered[j].replicationName
	})

	assignment := make(map[string]int64, len(ordered))
	cursor := minKey
	for _, e := range ordered {
		assignment[e.replicationName] = cursor
		cursor += e.count
	}
	return assignment
}
