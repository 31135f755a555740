// Package txn implements the TransactionCoordinator: lazy transaction begin, local commit,
// distributed two-phase commit across nested remote-session participants, savepoints, and
// rollback with DDL/database-statement catalog restore.
package txn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sqlcoord/sessioncore"
	"github.com/sqlcoord/sessioncore/lock"
	"github.com/sqlcoord/sessioncore/txlog"
)

// IsolationLevel enumerates the transaction isolation levels recognized by the
// TRANSACTION_ISOLATION_LEVEL session setting.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// DefaultIsolationLevel is READ_COMMITTED.
const DefaultIsolationLevel = ReadCommitted

// Status enumerates the lifecycle states of a Transaction.
type Status int

const (
	StatusOpen Status = iota
	StatusCommitting
	StatusCommitted
	StatusRolledBack
	StatusWaiting
)

// Participant is the two-phase-commit surface the coordinator drives on a nested remote
// session, narrowed from transaction.go's TwoPhaseCommitTransaction interface to avoid this
// package importing session (which owns and constructs a Transaction).
type Participant interface {
	Phase1Commit(ctx context.Context) error
	Phase2Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// PeerAddress returns this participant's "host:port", used to build the global transaction
	// name.
	PeerAddress() string
}

// WaitingTransaction identifies a transaction parked on a row key until the row's current
// lock holder releases or transfers it. The session layer implements this.
type WaitingTransaction interface {
	SessionID() sqlcoord.UUID
}

// CatalogRestorer captures and restores catalog state around a DDL or database-level
// statement's rollback, via a copy() snapshot taken before the statement runs. Ownership of
// what a "snapshot" actually contains belongs to the (external)
// catalog/storage layer; the coordinator only calls Snapshot before the statement runs and
// Restore if it must roll back.
type CatalogRestorer interface {
	Snapshot() interface{}
	Restore(saved interface{})
}

// Transaction is the engine-facing object a Session lazily begins on first write or explicit
// begin(): one phaseDone state machine driving Phase1Commit/Phase2Commit/Rollback over the
// local statement effects plus any nested-session participants.
type Transaction struct {
	mu sync.Mutex

	id         sqlcoord.UUID
	globalName string
	isolation  IsolationLevel
	status     Status
	phaseDone  int // -1 not begun, 0 began, 1 phase1 done, 2 done

	savepointSeq int
	savepoints   map[string]int

	participants          []Participant
	replicationName       string
	retryReplicationNames []string

	// waitingByKey indexes transactions parked on a row key this transaction holds, appended
	// by the replication resolver when it rolls a losing holder off a contended row. Lazily
	// allocated: only replicated row-lock conflicts ever populate it.
	waitingByKey map[string][]WaitingTransaction

	isRoot         bool
	autoCommit     bool
	commitDisabled bool

	log         txlog.TransactionLog
	lockManager *lock.Manager

	lastStatementWasDDL               bool
	lastStatementWasDatabaseStatement bool
	catalog                           CatalogRestorer
	catalogSnapshot                   interface{}

	maxDuration time.Duration
	startedAt   time.Time

	observer Observer
}

// Observer is notified of terminal transaction outcomes, so the metrics package can feed
// commit/rollback counters without this package depending on prometheus directly.
type Observer interface {
	ObserveCommit(isRoot bool, participantCount int)
	ObserveRollback(isRoot bool, participantCount int)
}

// SetObserver installs o to receive commit/rollback observations. Passing nil disables
// observation.
func (t *Transaction) SetObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = o
}

// New creates a not-yet-begun Transaction. maxDuration bounds how long the transaction may
// remain open before CheckTimeout reports it expired; log and lockManager may be nil. With a
// nil log commit steps are not logged; lockManager is stored, but Commit does not use it (no
// VerifyNoExternalWriter check runs during commit).
func New(isolation IsolationLevel, autoCommit, isRoot bool, maxDuration time.Duration, log txlog.TransactionLog, lockManager *lock.Manager) *Transaction {
	if maxDuration <= 0 {
		maxDuration = 15 * time.Minute
	}
	if maxDuration > time.Hour {
		maxDuration = time.Hour
	}
	return &Transaction{
		isolation:   isolation,
		autoCommit:  autoCommit,
		isRoot:      isRoot,
		phaseDone:   -1,
		log:         log,
		lockManager: lockManager,
		maxDuration: maxDuration,
	}
}

// Begin assigns a fresh transaction id and moves the coordinator into the OPEN state.
// getTransaction() calls this lazily on first write or explicit begin().
func (t *Transaction) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phaseDone == 0 || t.phaseDone == 1 {
		return fmt.Errorf("transaction is ongoing, can't begin again")
	}
	t.id = sqlcoord.NewUUID()
	t.phaseDone = 0
	t.status = StatusOpen
	t.startedAt = time.Now()
	return nil
}

// ID returns the transaction's engine-assigned id.
func (t *Transaction) ID() sqlcoord.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Status returns the transaction's current status.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// GlobalName returns the distributed transaction's global name, empty until BuildGlobalName
// has run (only the root session of a distributed commit builds one).
func (t *Transaction) GlobalName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalName
}

// AddParticipant registers a nested remote session as a two-phase-commit participant. A
// given participant should be added exactly once; the caller (the session layer, when it
// opens a nested remote session) is responsible for that.
func (t *Transaction) AddParticipant(p Participant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.participants = append(t.participants, p)
}

// SetCommitDisabled toggles the "commit disabled" flag that protects nested statements; while
// set and locks are held, Commit/AddSavepoint/RollbackToSavepoint fail with
// COMMIT_ROLLBACK_NOT_ALLOWED. Transaction.Rollback does not check the flag; Session.Rollback
// checks it before calling.
func (t *Transaction) SetCommitDisabled(disabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commitDisabled = disabled
}

// MarkLastStatement records whether the most recently executed statement was DDL and/or a
// database-level statement (CREATE/DROP DATABASE), so Rollback knows whether to restore a
// catalog snapshot.
func (t *Transaction) MarkLastStatement(isDDL, isDatabaseStatement bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastStatementWasDDL = isDDL
	t.lastStatementWasDatabaseStatement = isDatabaseStatement
	if (isDDL || isDatabaseStatement) && t.catalog != nil {
		t.catalogSnapshot = t.catalog.Snapshot()
	}
}

// SetCatalogRestorer installs the catalog snapshot/restore collaborator used by Rollback.
func (t *Transaction) SetCatalogRestorer(c CatalogRestorer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.catalog = c
}

// ReplicationName returns the transaction's current replication attempt name, if any.
func (t *Transaction) ReplicationName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.replicationName
}

// SetReplicationName sets the transaction's current replication attempt name.
func (t *Transaction) SetReplicationName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replicationName = name
}

// RetryReplicationNames returns the transaction's retry-replication-names list.
func (t *Transaction) RetryReplicationNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.retryReplicationNames...)
}

// SetRetryReplicationNames replaces the transaction's retry-replication-names list.
func (t *Transaction) SetRetryReplicationNames(names []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryReplicationNames = names
}

// AddWaitingTransaction parks w in the waiting-transaction index under key, the row key whose
// lock w just lost to this transaction.
func (t *Transaction) AddWaitingTransaction(key string, w WaitingTransaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.waitingByKey == nil {
		t.waitingByKey = make(map[string][]WaitingTransaction)
	}
	t.waitingByKey[key] = append(t.waitingByKey[key], w)
}

// TakeWaitingTransactions removes and returns the transactions parked under key, in arrival
// order, for re-dispatch once this transaction releases the row.
func (t *Transaction) TakeWaitingTransactions(key string) []WaitingTransaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws := t.waitingByKey[key]
	delete(t.waitingByKey, key)
	return ws
}

// CheckCommitRollbackAllowed fails commit/rollback with COMMIT_ROLLBACK_NOT_ALLOWED when the
// commit-disabled flag is set and locksHeld > 0.
func (t *Transaction) CheckCommitRollbackAllowed(locksHeld int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.commitDisabled && locksHeld > 0 {
		return sqlcoord.NewError(sqlcoord.CommitRollbackNotAllowed, nil, t.id)
	}
	return nil
}

// CheckTimeout reports a timeout error if the transaction has been open longer than its
// configured maxDuration, for the scheduler's cooperative "checked only when considering
// dispatching a WAITING session" timeout contract.
func (t *Transaction) CheckTimeout() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phaseDone != 0 && t.phaseDone != 1 {
		return nil
	}
	if time.Since(t.startedAt) <= t.maxDuration {
		return nil
	}
	return sqlcoord.NewError(sqlcoord.LockTimeout, fmt.Errorf("transaction exceeded max commit duration"), t.id)
}

// AddSavepoint records a new numeric savepoint under name and returns its id, guarded by
// CheckCommitRollbackAllowed.
func (t *Transaction) AddSavepoint(name string, locksHeld int) (int, error) {
	if err := t.CheckCommitRollbackAllowed(locksHeld); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.savepointSeq++
	if t.savepoints == nil {
		t.savepoints = make(map[string]int)
	}
	t.savepoints[name] = t.savepointSeq
	return t.savepointSeq, nil
}

// RollbackToSavepoint rewinds the coordinator's savepoint counter to the id recorded under
// name. Actual undo of the underlying storage effects is the (external) TransactionMap
// collaborator's responsibility; this bookkeeping only tracks "as of which savepoint" the
// transaction now stands.
func (t *Transaction) RollbackToSavepoint(name string, locksHeld int) (int, error) {
	if err := t.CheckCommitRollbackAllowed(locksHeld); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.savepoints[name]
	if !ok {
		return 0, fmt.Errorf("savepoint %q not found", name)
	}
	t.savepointSeq = id
	return id, nil
}

// RollbackTo rewinds the savepoint counter directly to a previously issued numeric id, used by
// Session.rollbackCurrentCommand which records the id rather than a name.
func (t *Transaction) RollbackTo(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.savepointSeq = id
}

// CurrentSavepoint returns the transaction's current savepoint counter value, used by
// Session.startCurrentCommand to record "as of which savepoint" a statement began, so a later
// rollbackCurrentCommand can rewind to exactly that point.
func (t *Transaction) CurrentSavepoint() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.savepointSeq
}

// BuildGlobalName constructs the distributed transaction's global name as
// "<localTxName> (',' <peer-host:port>)*". Only the root session of a distributed commit
// calls this.
func (t *Transaction) BuildGlobalName(localTxName string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	peers := make([]string, 0, len(t.participants))
	for _, p := range t.participants {
		peers = append(peers, p.PeerAddress())
	}
	name := localTxName
	if len(peers) > 0 {
		name = localTxName + "," + strings.Join(peers, ",")
	}
	t.globalName = name
	return name
}

// Commit runs the full commit protocol: local-only if there are no participants, distributed
// two-phase commit otherwise. locksHeld gates the COMMIT_ROLLBACK_NOT_ALLOWED failure mode.
// Phase 1 runs across every participant before any participant's phase 2, preserving the
// "never commit a participant before the coordinator" ordering guarantee.
func (t *Transaction) Commit(ctx context.Context, locksHeld int) error {
	if err := t.CheckCommitRollbackAllowed(locksHeld); err != nil {
		return err
	}

	t.mu.Lock()
	if t.phaseDone == 2 {
		t.mu.Unlock()
		return fmt.Errorf("transaction is done, create a new one")
	}
	if t.phaseDone == -1 {
		t.mu.Unlock()
		return fmt.Errorf("no transaction to commit, call Begin first")
	}
	t.status = StatusCommitting
	participants := append([]Participant{}, t.participants...)
	isRoot := t.isRoot
	id := t.id
	t.mu.Unlock()

	if err := t.logStep(ctx, id, txlog.StepLockTrackedItems); err != nil {
		return err
	}

	if isRoot && len(participants) > 0 {
		eg, egCtx := errgroup.WithContext(ctx)
		for _, p := range participants {
			p := p
			eg.Go(func() error { return p.Phase1Commit(egCtx) })
		}
		if err := eg.Wait(); err != nil {
			t.Rollback(ctx)
			return fmt.Errorf("phase 1 commit failed: %w", err)
		}
	}
	if err := t.logStep(ctx, id, txlog.StepParticipantsPrepared); err != nil {
		return err
	}

	if err := t.logStep(ctx, id, txlog.StepGlobalDecisionWritten); err != nil {
		return err
	}

	if isRoot && len(participants) > 0 {
		eg, egCtx := errgroup.WithContext(ctx)
		for _, p := range participants {
			p := p
			eg.Go(func() error { return p.Phase2Commit(egCtx) })
		}
		if err := eg.Wait(); err != nil {
			t.Rollback(ctx)
			return fmt.Errorf("phase 2 commit failed: %w", err)
		}
	}
	if err := t.logStep(ctx, id, txlog.StepParticipantsFinalized); err != nil {
		return err
	}

	t.mu.Lock()
	t.status = StatusCommitted
	t.phaseDone = 2
	t.mu.Unlock()

	if t.log != nil {
		_ = t.log.Remove(ctx, id)
	}
	if t.observer != nil {
		t.observer.ObserveCommit(isRoot, len(participants))
	}
	return nil
}

// Rollback aborts the transaction: restores the catalog snapshot taken before the last DDL or
// database-level statement (if any), best-effort rolls back every participant, and logs the
// rollback step.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	if t.phaseDone == 2 {
		t.mu.Unlock()
		return fmt.Errorf("transaction is done, create a new one")
	}
	if t.phaseDone == -1 {
		t.mu.Unlock()
		return fmt.Errorf("no transaction to rollback, call Begin first")
	}
	id := t.id
	isRoot := t.isRoot
	participants := append([]Participant{}, t.participants...)
	if (t.lastStatementWasDDL || t.lastStatementWasDatabaseStatement) && t.catalog != nil {
		t.catalog.Restore(t.catalogSnapshot)
	}
	t.status = StatusRolledBack
	t.phaseDone = 2
	obs := t.observer
	t.mu.Unlock()

	var lastErr error
	for _, p := range participants {
		if err := p.Rollback(ctx); err != nil {
			lastErr = err
		}
	}

	if t.log != nil {
		_ = t.log.Add(ctx, id, txlog.StepRolledBack, nil)
		_ = t.log.Remove(ctx, id)
	}
	if obs != nil {
		obs.ObserveRollback(isRoot, len(participants))
	}
	return lastErr
}

func (t *Transaction) logStep(ctx context.Context, id sqlcoord.UUID, step txlog.Step) error {
	if t.log == nil {
		return nil
	}
	return t.log.Add(ctx, id, step, nil)
}
