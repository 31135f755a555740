// Package session implements Session: the per-connection state that owns a lazily-started
// Transaction, prepares and executes statements against the query cache, holds object locks in
// submission order, and exposes the status state machine the scheduler dispatches against.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "log/slog"

	"github.com/sqlcoord/sessioncore"
	"github.com/sqlcoord/sessioncore/lock"
	"github.com/sqlcoord/sessioncore/replication"
	"github.com/sqlcoord/sessioncore/resource"
	"github.com/sqlcoord/sessioncore/scheduler"
	"github.com/sqlcoord/sessioncore/txlog"
	"github.com/sqlcoord/sessioncore/txn"
)

// Database is the minimal view of the owning database handle a Session needs: the schema
// modification counter that invalidates the query cache, and deregistration on close. The
// storage/catalog engine itself is out of scope here.
type Database interface {
	ModificationMetaID() int64
	Deregister(sessionID sqlcoord.UUID)
}

// LOB is the minimal view of a large-object value a Session needs to unlink and close when it
// is evicted from a session variable or from the commit-time unlink set.
type LOB interface {
	Identity() string
	Close() error
}

// ParsedStatement is produced by Parser.Parse and turned into a PreparedStatement.
type ParsedStatement interface {
	Prepare() (PreparedStatement, error)
}

// Parser is the external SQL parser/expression-tree collaborator, out of scope here and
// consumed only through this interface.
type Parser interface {
	Parse(ctx context.Context, sql string) (ParsedStatement, error)
}

// PreparedStatement is the full surface a prepared statement needs to expose. It embeds
// resource.PreparedStatement so a QueryCache (which only needs CanReuse/Reuse) can hold these
// values directly.
type PreparedStatement interface {
	resource.PreparedStatement
	SetLocal(bool)
	SetFetchSize(int)
	IsDDL() bool
	IsDatabaseStatement() bool
	IsIfDDL() bool
	IsCacheable() bool
	ID() string
	SQL() string
	Cancel()
	Close() error
}

// Status aliases scheduler.Status so callers outside this package need only import one status
// type for both Session and the scheduler's dispatch gate.
type Status = scheduler.Status

const (
	StatusTransactionNotStart    = scheduler.StatusTransactionNotStart
	StatusTransactionNotCommit   = scheduler.StatusTransactionNotCommit
	StatusStatementRunning       = scheduler.StatusStatementRunning
	StatusStatementCompleted     = scheduler.StatusStatementCompleted
	StatusWaiting                = scheduler.StatusWaiting
	StatusTransactionCommitting  = scheduler.StatusTransactionCommitting
	StatusRetrying               = scheduler.StatusRetrying
	StatusRetryingReturnResult   = scheduler.StatusRetryingReturnResult
	StatusExclusiveMode          = scheduler.StatusExclusiveMode
)

// statementMark records the bookkeeping startCurrentCommand takes at the beginning of a
// statement, so rollbackCurrentCommand and stopCurrentCommand know what to undo/finalize.
type statementMark struct {
	savepointID    int
	lockIndex      int
	cancelDeadline time.Time
	stmt           PreparedStatement
}

// Session is a single connection's transaction/statement coordination state. Exactly one
// yieldable command is in flight at a time (scheduler.GetYieldableCommand enforces this),
// except while InReplicationFlow.
type Session struct {
	mu sync.Mutex

	id         sqlcoord.UUID
	db         Database
	user       string
	schema     string
	searchPath []string

	lockTimeout       time.Duration
	queryTimeout      time.Duration
	throttleDelay     time.Duration
	isolation         txn.IsolationLevel
	autoCommit        bool
	isRoot            bool
	commitMaxDuration time.Duration

	status          atomic.Int32
	replicationName string

	variables  map[string]interface{}
	procedures map[string]interface{}

	lockManager  *lock.Manager
	locks        []*lock.DbObjectLock // append-only between statement boundaries, insertion order significant
	contendedLock *lock.DbObjectLock  // the lock most recently granted through AcquireLock, used by RowLockHolder transfer

	registry   *resource.Registry
	queryCache *resource.QueryCache

	nestedSessions map[string]*Session // peer URL -> session

	tx          *txn.Transaction
	coordinator *txn.Coordinator
	txLog       txlog.TransactionLog
	resolver    *replication.Resolver

	sched          *scheduler.Scheduler
	currentCommand scheduler.Yieldable
	txObserver     txn.Observer
	directory      *Directory

	current *statementMark

	cancelAt              time.Time
	statusBeforeExclusive Status
	closed                bool

	modCounter int64
}

// Options configures a new Session. Database, LockManager and Scheduler are external
// collaborators (the Parser is passed to Prepare on each call). TxLog and Resolver may be nil:
// without a TxLog commit steps are not logged, and without a Resolver replication conflict
// handling is a no-op.
type Options struct {
	User              string
	Schema            string
	SearchPath        []string
	LockTimeout       time.Duration
	QueryTimeout      time.Duration
	ThrottleDelay     time.Duration
	Isolation         txn.IsolationLevel
	AutoCommit        bool
	IsRoot            bool
	Database          Database
	LockManager       *lock.Manager
	Scheduler         *scheduler.Scheduler
	Coordinator       *txn.Coordinator
	TxLog             txlog.TransactionLog
	Resolver          *replication.Resolver
	QueryCacheSize    [2]int // [minCapacity, maxCapacity]
	L2Cache           sqlcoord.L2Cache
	TxObserver        txn.Observer
	Directory         *Directory
	CommitMaxDuration time.Duration
}

// New creates a Session in status TRANSACTION_NOT_START and registers it with the scheduler.
func New(opts Options) *Session {
	min, max := 16, 256
	if opts.QueryCacheSize[1] > 0 {
		min, max = opts.QueryCacheSize[0], opts.QueryCacheSize[1]
	}
	isolation := opts.Isolation
	s := &Session{
		id:                sqlcoord.NewUUID(),
		db:                opts.Database,
		user:              opts.User,
		schema:            opts.Schema,
		searchPath:        opts.SearchPath,
		lockTimeout:       opts.LockTimeout,
		queryTimeout:      opts.QueryTimeout,
		throttleDelay:     opts.ThrottleDelay,
		isolation:         isolation,
		autoCommit:        opts.AutoCommit,
		isRoot:            opts.IsRoot,
		commitMaxDuration: opts.CommitMaxDuration,
		lockManager:       opts.LockManager,
		registry:          resource.NewRegistry(),
		queryCache:        resource.NewQueryCache(min, max, 0, opts.L2Cache),
		coordinator:       opts.Coordinator,
		txLog:             opts.TxLog,
		resolver:          opts.Resolver,
		sched:             opts.Scheduler,
		txObserver:        opts.TxObserver,
		directory:         opts.Directory,
	}
	s.status.Store(int32(scheduler.StatusTransactionNotStart))
	if s.sched != nil {
		s.sched.Register(s)
	}
	if s.directory != nil {
		s.directory.add(s)
	}
	return s
}

// ID returns the session's process-unique identity.
func (s *Session) ID() sqlcoord.UUID { return s.id }

// Status returns the session's current dispatch status.
func (s *Session) Status() Status { return Status(s.status.Load()) }

func (s *Session) setStatus(v Status) { s.status.Store(int32(v)) }

// InReplicationFlow reports whether the session is mid replication-conflict handling.
func (s *Session) InReplicationFlow() bool {
	st := s.Status()
	return st == StatusRetrying || st == StatusRetryingReturnResult
}

// YieldableCommand returns the session's single in-flight command, or nil.
func (s *Session) YieldableCommand() scheduler.Yieldable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentCommand
}

// SetYieldableCommand installs the session's single in-flight command, called by the wire
// layer when it submits a new unit of work.
func (s *Session) SetYieldableCommand(cmd scheduler.Yieldable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentCommand = cmd
}

// CheckTransactionTimeout rolls back the transaction if it has exceeded its max commit
// duration, for the scheduler's WAITING-session timeout check.
func (s *Session) CheckTransactionTimeout(ctx context.Context) error {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx == nil {
		return nil
	}
	if err := tx.CheckTimeout(); err != nil {
		_ = tx.Rollback(ctx)
		s.setStatus(StatusStatementCompleted)
		return err
	}
	return nil
}

// checkNotClosed returns CONNECTION_BROKEN if the session has been closed.
func (s *Session) checkNotClosed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sqlcoord.NewError(sqlcoord.ConnectionBroken, nil, s.id)
	}
	return nil
}

// getTransaction lazily begins a Transaction if none is active.
func (s *Session) getTransaction() *txn.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		s.tx = txn.New(s.isolation, s.autoCommit, s.isRoot, s.commitMaxDuration, s.txLog, s.lockManager)
		s.tx.SetObserver(s.txObserver)
		s.tx.Begin()
		if s.coordinator != nil {
			s.coordinator.Track(s.tx)
		}
		s.setStatus(StatusTransactionNotCommit)
	}
	return s.tx
}

// Prepare parses and prepares sql via parser, consulting the query cache first. Fails with
// CONNECTION_BROKEN if the session is closed.
func (s *Session) Prepare(ctx context.Context, parser Parser, sql string, fetchSize int) (PreparedStatement, error) {
	if err := s.checkNotClosed(); err != nil {
		return nil, err
	}
	if s.db != nil {
		s.queryCache.InvalidateIfStale(s.db.ModificationMetaID())
	}
	v, err := s.queryCache.PrepareOnce(ctx, sql, func(ctx context.Context) (resource.PreparedStatement, error) {
		parsed, err := parser.Parse(ctx, sql)
		if err != nil {
			return nil, err
		}
		prepared, err := parsed.Prepare()
		if err != nil {
			return nil, err
		}
		return prepared, nil
	})
	if err != nil {
		return nil, err
	}
	ps := v.(PreparedStatement)
	ps.SetFetchSize(fetchSize)
	return ps, nil
}

// SetVariable replaces (or, if value is nil, removes) a session variable by name. A LOB value
// being evicted this way is unlinked and closed immediately. Increments the session's
// modification counter.
func (s *Session) SetVariable(name string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.variables[name]; ok {
		if lob, isLOB := old.(LOB); isLOB {
			if err := lob.Close(); err != nil {
				log.Warn("failed closing evicted LOB session variable", "name", name, "error", err)
			}
		}
	}
	if value == nil {
		delete(s.variables, name)
	} else {
		if s.variables == nil {
			s.variables = make(map[string]interface{})
		}
		s.variables[name] = value
	}
	s.modCounter++
	return nil
}

// GetVariable returns the named session variable, or (nil, false) if absent.
func (s *Session) GetVariable(name string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[name]
	return v, ok
}

// SetProcedure registers a session-local stored procedure by name, lazily allocating the
// procedures map.
func (s *Session) SetProcedure(name string, proc interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.procedures == nil {
		s.procedures = make(map[string]interface{})
	}
	s.procedures[name] = proc
}

// GetProcedure returns the named session-local procedure, or (nil, false) if absent.
func (s *Session) GetProcedure(name string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procedures[name]
	return p, ok
}

// OpenNestedSession registers a remote session opened against peer (a "lealone:" URL) as a
// participant of the current transaction, joining it exactly once, and adds it to the
// nested-sessions map keyed by peer URL.
func (s *Session) OpenNestedSession(peer string, nested *Session, participant txn.Participant) {
	tx := s.getTransaction()
	s.mu.Lock()
	if s.nestedSessions == nil {
		s.nestedSessions = make(map[string]*Session)
	}
	if _, exists := s.nestedSessions[peer]; exists {
		s.mu.Unlock()
		return
	}
	s.nestedSessions[peer] = nested
	s.mu.Unlock()
	tx.AddParticipant(participant)
}

// AddSavepoint creates a named savepoint in the current transaction (lazily beginning one if
// needed), guarded by the commit/rollback-disabled flag while locks are held.
func (s *Session) AddSavepoint(name string) (int, error) {
	tx := s.getTransaction()
	return tx.AddSavepoint(name, s.lockCount())
}

// RollbackToSavepoint rewinds the current transaction to a previously added named savepoint.
func (s *Session) RollbackToSavepoint(name string) (int, error) {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx == nil {
		return 0, sqlcoord.NewError(sqlcoord.InvalidValue, nil, name)
	}
	return tx.RollbackToSavepoint(name, s.lockCount())
}

// RollbackTo rewinds the current transaction to a previously issued numeric savepoint id.
func (s *Session) RollbackTo(id int) {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx != nil {
		tx.RollbackTo(id)
	}
}

func (s *Session) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// Commit commits the current transaction. If globalTxName is non-empty and the session is
// root, it is used as the basis for the distributed transaction's global name. On success
// this runs commitFinal, resetting the session to TRANSACTION_NOT_START.
func (s *Session) Commit(ctx context.Context, globalTxName string) error {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx == nil {
		// Nothing to commit: a no-op when transaction == None, i.e. status is
		// TRANSACTION_NOT_START or TRANSACTION_COMMITTING after commitFinal.
		return nil
	}

	s.setStatus(StatusTransactionCommitting)
	if s.isRoot && globalTxName != "" {
		tx.BuildGlobalName(globalTxName)
	}
	if err := tx.Commit(ctx, s.lockCount()); err != nil {
		s.setStatus(StatusStatementCompleted)
		return err
	}
	s.commitFinal(ctx, tx)
	return nil
}

// AsyncCommit commits the current transaction and passes the result to onDone. Both run
// synchronously on the calling goroutine, so AsyncCommit returns only after the commit has
// finished and onDone has run; it does not hand the commit to an executor of its own.
func (s *Session) AsyncCommit(ctx context.Context, onDone func(error)) {
	err := s.Commit(ctx, "")
	if onDone != nil {
		onDone(err)
	}
}

// Rollback rolls back the current transaction and runs the same post-rollback cleanup as
// commitFinal's lock release, minus LOB unlinking (rolled-back LOBs are not committed).
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx == nil {
		return nil
	}
	if err := tx.CheckCommitRollbackAllowed(s.lockCount()); err != nil {
		return err
	}
	err := tx.Rollback(ctx)
	s.releaseAllLocks(false, nil)
	s.clearTransaction()
	return err
}

// commitFinal runs the post-commit phase: remove OnCommitDrop temp objects from the registry
// (on every commit, whether or not the last statement was DDL; no storage drop or truncate
// callback is passed), unlink LOBs (after the log flush Transaction.Commit already performed),
// release all locks, and clear the transaction, which empties the yieldable-command slot and
// resets status to TRANSACTION_NOT_START.
func (s *Session) commitFinal(ctx context.Context, tx *txn.Transaction) {
	if err := s.registry.CommitTempObjects(nil, nil); err != nil {
		log.Warn("commitFinal: temp object cleanup failed", "session", s.id.String(), "error", err)
	}
	for identity, lobVal := range s.registry.UnlinkLOBs() {
		if lob, ok := lobVal.(LOB); ok {
			if err := lob.Close(); err != nil {
				log.Warn("commitFinal: failed closing unlinked LOB", "identity", identity, "error", err)
			}
		}
	}
	s.releaseAllLocks(true, nil)
	s.clearTransaction()
}

func (s *Session) clearTransaction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coordinator != nil && s.tx != nil {
		s.coordinator.Untrack(s.tx)
	}
	s.tx = nil
	s.currentCommand = nil
	s.status.Store(int32(StatusTransactionNotStart))
}

func (s *Session) releaseAllLocks(succeeded bool, newOwner *lock.Holder) {
	s.mu.Lock()
	locks := s.locks
	s.locks = nil
	sessionID := s.id
	s.mu.Unlock()
	for _, l := range locks {
		l.Unlock(sessionID, succeeded, newOwner)
	}
}

// AcquireLock blocks until objectID's lock is granted to this session, registers it at the end
// of the session's locks list, and reflects the wait as session status WAITING while blocked.
func (s *Session) AcquireLock(ctx context.Context, objectID string) error {
	if s.lockManager == nil {
		return nil
	}
	prevStatus := s.Status()
	s.setStatus(StatusWaiting)
	l, err := s.lockManager.Lock(ctx, objectID, lock.Holder{SessionID: s.id, Listener: s}, s.lockTimeout)
	if err != nil {
		s.setStatus(StatusStatementCompleted)
		return err
	}
	s.setStatus(prevStatus)
	s.mu.Lock()
	s.locks = append(s.locks, l)
	s.contendedLock = l
	s.mu.Unlock()
	return nil
}

// OnLockGranted implements lock.TransactionListener: flips status back to dispatchable so the
// scheduler can pick this session back up.
func (s *Session) OnLockGranted() {
	s.setStatus(StatusStatementRunning)
}

// OnTimeout implements lock.TransactionListener: the lock package has already rolled the
// waiter out of the queue; this only needs to reflect the failure in session status.
func (s *Session) OnTimeout(err error) {
	s.setStatus(StatusStatementCompleted)
}

// Cancel records the wall-clock timestamp at which CheckCanceled will raise. Canceling a
// committing transaction is disallowed; the call is ignored in that state.
func (s *Session) Cancel() {
	if s.Status() == StatusTransactionCommitting {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAt = time.Now()
}

// CancelStatement cancels the currently running statement iff its id matches statementID.
// Returns whether a statement was canceled.
func (s *Session) CancelStatement(statementID string) bool {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil || cur.stmt == nil || cur.stmt.ID() != statementID {
		return false
	}
	cur.stmt.Cancel()
	s.Cancel()
	return true
}

// CheckCanceled raises STATEMENT_WAS_CANCELED if Cancel has been called since the current
// statement started.
func (s *Session) CheckCanceled() error {
	s.mu.Lock()
	cancelAt := s.cancelAt
	running := s.current != nil
	var deadline time.Time
	if s.current != nil {
		deadline = s.current.cancelDeadline
	}
	s.mu.Unlock()
	if !deadline.IsZero() && time.Now().After(deadline) {
		return sqlcoord.NewError(sqlcoord.StatementWasCanceled, nil, s.id)
	}
	if cancelAt.IsZero() || !running {
		return nil
	}
	return sqlcoord.NewError(sqlcoord.StatementWasCanceled, nil, s.id)
}

// EnterExclusiveMode puts the session in EXCLUSIVE_MODE: the dispatch gate stops dispatching
// it, and the wire layer stalls every other session until ExitExclusiveMode. Reentrant — a
// second call by the session already in exclusive mode is a no-op.
func (s *Session) EnterExclusiveMode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if Status(s.status.Load()) == StatusExclusiveMode {
		return
	}
	s.statusBeforeExclusive = Status(s.status.Load())
	s.status.Store(int32(StatusExclusiveMode))
}

// ExitExclusiveMode restores the status the session held before entering exclusive mode. A
// call on a session not in exclusive mode is a no-op.
func (s *Session) ExitExclusiveMode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if Status(s.status.Load()) != StatusExclusiveMode {
		return
	}
	s.status.Store(int32(s.statusBeforeExclusive))
}

// Close is idempotent: closes nested sessions, removes OnCommitDrop temp objects from the
// registry (other temp objects stay registered), rolls back any open transaction, releases the
// session's locks, and deregisters the session. A second call is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	nested := s.nestedSessions
	s.nestedSessions = nil
	s.mu.Unlock()

	for _, n := range nested {
		if err := n.Close(); err != nil {
			log.Warn("close: failed closing nested session", "peer", n.id.String(), "error", err)
		}
	}
	_ = s.registry.CommitTempObjects(func(string) error { return nil }, nil)
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx != nil {
		_ = tx.Rollback(context.Background())
	}
	s.releaseAllLocks(false, nil)
	if tx != nil {
		s.clearTransaction()
	}
	if s.sched != nil {
		s.sched.Unregister(s)
	}
	if s.directory != nil {
		s.directory.remove(s)
	}
	if s.db != nil {
		s.db.Deregister(s.id)
	}
	return nil
}

// startCurrentCommand records the savepoint id, the locks-list index marking where this
// statement began taking locks, and the query-timeout cancel deadline, and clears any cancel
// request left over from an earlier statement.
func (s *Session) startCurrentCommand(stmt PreparedStatement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAt = time.Time{}
	savepointID := 0
	if s.tx != nil {
		savepointID = s.tx.CurrentSavepoint()
	}
	var deadline time.Time
	if s.queryTimeout > 0 {
		deadline = time.Now().Add(s.queryTimeout)
	}
	s.current = &statementMark{
		savepointID:    savepointID,
		lockIndex:      len(s.locks),
		cancelDeadline: deadline,
		stmt:           stmt,
	}
	s.setStatus(StatusStatementRunning)
}

// stopCurrentCommand closes the current statement, flushes temporary results, and then acts
// on the session's commit mode: auto-commit async schedules asyncCommit; auto-commit sync
// commits immediately; manual-commit just invokes onResult; RETRYING suppresses the callback
// and silently commits if auto-commit.
func (s *Session) stopCurrentCommand(ctx context.Context, async bool, onResult func(result interface{}, err error), result interface{}) {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()
	if cur != nil && cur.stmt != nil {
		if err := cur.stmt.Close(); err != nil {
			log.Warn("stopCurrentCommand: failed closing statement", "session", s.id.String(), "error", err)
		}
	}
	for _, h := range s.registry.TemporaryResults() {
		if c, ok := h.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	s.registry.ClearTemporaryResults()

	status := s.Status()
	s.setStatus(StatusStatementCompleted)

	if status == StatusRetrying {
		if s.autoCommit {
			_ = s.Commit(ctx, "")
		}
		return
	}

	if !s.autoCommit {
		onResult(result, nil)
		return
	}
	if s.replicationNameSet() {
		onResult(result, nil)
		return
	}
	if async {
		s.AsyncCommit(ctx, func(err error) { onResult(result, err) })
		return
	}
	err := s.Commit(ctx, "")
	onResult(result, err)
}

func (s *Session) replicationNameSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replicationName != ""
}

// rollbackCurrentCommand rolls the transaction back to the statement's saved savepoint and
// releases only the locks acquired at indices at or beyond the statement's starting index —
// locks taken by earlier statements in the same transaction are preserved. newOwner, if
// non-nil, transfers the
// released locks to that session instead of waking their wait queues, used when a replication
// conflict must move ownership atomically.
func (s *Session) rollbackCurrentCommand(newOwner *lock.Holder) {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	if cur == nil {
		s.mu.Unlock()
		return
	}
	tx := s.tx
	startIdx := cur.lockIndex
	toRelease := append([]*lock.DbObjectLock{}, s.locks[startIdx:]...)
	s.locks = s.locks[:startIdx]
	sessionID := s.id
	s.mu.Unlock()

	if tx != nil {
		tx.RollbackTo(cur.savepointID)
	}
	for _, l := range toRelease {
		l.Unlock(sessionID, false, newOwner)
	}
	s.setStatus(StatusStatementCompleted)
}

// ---- replication.RowLockHolder ----

// SessionID implements replication.RowLockHolder.
func (s *Session) SessionID() sqlcoord.UUID { return s.id }

// ReplicationName implements replication.RowLockHolder.
func (s *Session) ReplicationName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replicationName
}

// SetReplicationName sets the session's current replication attempt name.
func (s *Session) SetReplicationName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replicationName = name
}

// RollbackToLockedRowSavepoint implements replication.RowLockHolder: rolls the current
// statement back to the savepoint taken just before the contended row/object was locked —
// which is exactly the savepoint recorded by startCurrentCommand for the statement that took
// the now-contended lock.
func (s *Session) RollbackToLockedRowSavepoint(ctx context.Context) error {
	s.rollbackCurrentCommand(nil)
	return nil
}

// TransferLockTo implements replication.RowLockHolder: atomically hands the session's
// currently contended lock to winner without a window where the object is unlocked.
func (s *Session) TransferLockTo(ctx context.Context, winner sqlcoord.UUID) error {
	s.mu.Lock()
	l := s.contendedLock
	sessionID := s.id
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	l.Unlock(sessionID, true, &lock.Holder{SessionID: winner})
	return nil
}

// SetRetryReplicationNames implements replication.RowLockHolder. This applies names to every
// lock currently held by the session, not only the conflicting one; that behavior is
// preserved deliberately.
func (s *Session) SetRetryReplicationNames(names []string) {
	s.mu.Lock()
	locks := append([]*lock.DbObjectLock{}, s.locks...)
	if s.tx != nil {
		s.tx.SetRetryReplicationNames(names)
	}
	s.mu.Unlock()
	for _, l := range locks {
		l.RetryReplicationNames = names
	}
}

// MarkRetrying implements replication.RowLockHolder.
func (s *Session) MarkRetrying() {
	s.setStatus(StatusRetrying)
}

// MarkRetryingReturnResult implements replication.RowLockHolder.
func (s *Session) MarkRetryingReturnResult() {
	s.setStatus(StatusRetryingReturnResult)
}

// EnqueueRowWaiter implements replication.RowLockHolder: parks waiter in this session's
// transaction's waiting-transaction index keyed by the contended row key, so the rolled-back
// holder is re-dispatched for that row once this session releases it.
func (s *Session) EnqueueRowWaiter(rowKey string, waiter replication.RowLockHolder) {
	s.getTransaction().AddWaitingTransaction(rowKey, waiter)
}

// HandleReplicationConflict negotiates a conflict this session (as winner) encountered against
// holder, delegating to the configured ReplicationResolver. A nil resolver makes this a no-op,
// matching a single-node (non-replicated) configuration.
func (s *Session) HandleReplicationConflict(ctx context.Context, conflict replication.ConflictType, holder replication.RowLockHolder, rowKey string, retryNames []string, appendIdx replication.AppendIndex) error {
	if s.resolver == nil {
		return nil
	}
	return s.resolver.HandleReplicaConflict(ctx, conflict, s, holder, rowKey, retryNames, appendIdx)
}

// NextAckVersion returns the next ack version for statementID, for the wire layer to populate
// an outgoing UpdateAck. Returns 0 if no resolver is configured.
func (s *Session) NextAckVersion(statementID string) int32 {
	if s.resolver == nil {
		return 0
	}
	return s.resolver.NextAckVersion(statementID)
}

// ShouldSuppressRetryingReturnResult reports whether the wire layer should suppress a second
// RETRYING_RETURN_RESULT transition for statementID. Returns false if no resolver is configured.
func (s *Session) ShouldSuppressRetryingReturnResult(statementID string, conflict replication.ConflictType, isIfDDL bool) bool {
	if s.resolver == nil {
		return false
	}
	return s.resolver.ShouldSuppressRetryingReturnResult(statementID, conflict, isIfDDL)
}

// Registry exposes the session's ResourceRegistry to the wire layer (temp objects, cursors).
func (s *Session) Registry() *resource.Registry { return s.registry }

// ModificationCounter returns how many setVariable calls have mutated this session, for
// operator introspection.
func (s *Session) ModificationCounter() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modCounter
}
