// Package lock implements the in-process object-lock manager: DbObjectLock handles with a
// wait queue, lock-timeout semantics, and ownership transfer used when a replication conflict
// must move a lock from one session to another without releasing it in between.
package lock

import (
	"context"
	"sync"
	"time"

	log "log/slog"

	"github.com/sqlcoord/sessioncore"
)

// TransactionListener is woken when a lock it is waiting on becomes available, or times out.
// The session component implements this to re-enter the scheduler's dispatch queue.
type TransactionListener interface {
	// OnLockGranted is invoked on the goroutine that released the lock; implementations must
	// not block — they should flip session status and let the scheduler pick the session back up.
	OnLockGranted()
	// OnTimeout is invoked when the wait exceeds the session's lockTimeout.
	OnTimeout(err error)
}

// Holder identifies the current lock owner: an opaque session identity plus the listener used
// to wake waiters once this holder releases or transfers the lock.
type Holder struct {
	SessionID sqlcoord.UUID
	Listener  TransactionListener
}

type waiter struct {
	holder  Holder
	granted chan struct{}
	timedOut bool
}

// DbObjectLock is a single catalog-object lock: at most one holder at a time, with waiters
// queued in arrival order. Keeping the holder present in its Session's locks list exactly
// once is the caller's responsibility — DbObjectLock only tracks the holder/waiter
// relationship, not the session's locks list.
type DbObjectLock struct {
	mu      sync.Mutex
	objectID string
	holder  *Holder
	waiters []*waiter

	// RetryReplicationNames is propagated here by replication.Resolver.HandleReplicaConflict
	// for DB_OBJECT_LOCK conflicts. SetRetryReplicationNames overwrites this on *every*
	// currently held lock of the session, not just the conflicting one — see
	// session.Session.SetRetryReplicationNames.
	RetryReplicationNames []string
}

// NewDbObjectLock creates an unheld lock for the named catalog object.
func NewDbObjectLock(objectID string) *DbObjectLock {
	return &DbObjectLock{objectID: objectID}
}

// ObjectID returns the catalog object identity this lock guards.
func (l *DbObjectLock) ObjectID() string {
	return l.objectID
}

// Holder returns the current holder, or nil if unheld.
func (l *DbObjectLock) Holder() *Holder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

// TryLock attempts to acquire the lock immediately without blocking. It returns true on
// success, or false if another session currently holds it.
func (l *DbObjectLock) TryLock(h Holder) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != nil {
		return false
	}
	l.holder = &h
	return true
}

// Lock blocks, cooperatively, until the lock is acquired, ctx is done, or lockTimeout elapses
// — whichever comes first. A timeout surfaces as sqlcoord.LockTimeout; the engine's deadlock
// detector is expected to also ultimately fail the wait with a timeout-shaped error, so a
// deadlock surfaces to the caller looking just like a timeout.
func (l *DbObjectLock) Lock(ctx context.Context, h Holder, lockTimeout time.Duration) error {
	if l.TryLock(h) {
		return nil
	}

	w := &waiter{holder: h, granted: make(chan struct{})}
	l.mu.Lock()
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	timeoutCtx := ctx
	var cancel context.CancelFunc
	if lockTimeout > 0 {
		timeoutCtx, cancel = context.WithTimeout(ctx, lockTimeout)
		defer cancel()
	}

	select {
	case <-w.granted:
		return nil
	case <-timeoutCtx.Done():
		l.removeWaiter(w)
		err := sqlcoord.NewError(sqlcoord.LockTimeout, timeoutCtx.Err(), l.objectID)
		if h.Listener != nil {
			h.Listener.OnTimeout(err)
		}
		return err
	}
}

func (l *DbObjectLock) removeWaiter(w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, ww := range l.waiters {
		if ww == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// Unlock releases the lock held by session. succeeded reports whether the transaction that
// held it committed or rolled back; newOwner, when non-nil, transfers the lock atomically to
// that session instead of waking the wait queue — used by the replication resolver to move a
// row or object lock to the winning replica without a window where the object is unlocked.
func (l *DbObjectLock) Unlock(session sqlcoord.UUID, succeeded bool, newOwner *Holder) {
	l.mu.Lock()
	if l.holder == nil || l.holder.SessionID != session {
		l.mu.Unlock()
		log.Warn("unlock called by non-holder", "object", l.objectID, "session", session.String())
		return
	}

	if newOwner != nil {
		l.holder = newOwner
		l.mu.Unlock()
		if newOwner.Listener != nil {
			newOwner.Listener.OnLockGranted()
		}
		return
	}

	var next *waiter
	if len(l.waiters) > 0 {
		next = l.waiters[0]
		l.waiters = l.waiters[1:]
		l.holder = &next.holder
	} else {
		l.holder = nil
	}
	l.mu.Unlock()

	if next != nil {
		close(next.granted)
		if next.holder.Listener != nil {
			next.holder.Listener.OnLockGranted()
		}
	}
}

// IsHeldBy reports whether session currently holds this lock.
func (l *DbObjectLock) IsHeldBy(session sqlcoord.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder != nil && l.holder.SessionID == session
}
