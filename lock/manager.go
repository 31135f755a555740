package lock

import (
	"context"
	"sync"
	"time"

	"github.com/sqlcoord/sessioncore"
	"github.com/sqlcoord/sessioncore/encoding"
)

// Manager owns the process-wide map of catalog-object identity to DbObjectLock, and the
// optimistic-version cache used by VerifyNoExternalWriter. It plays the role of the
// storage/catalog layer that owns DbObjectLock handles; the session component only tracks
// membership in its own locks list.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*DbObjectLock

	// versionCache backs VerifyNoExternalWriter: a L2Cache-held version stamp per object,
	// compared against the version a caller read earlier.
	versionCache sqlcoord.L2Cache

	observer WaitObserver
}

// WaitObserver is notified after every Manager.Lock call resolves, win or lose. Implementations
// must not block. The metrics package implements this to feed a lock-wait histogram and a
// timeout counter.
type WaitObserver interface {
	ObserveLockWait(objectID string, waited time.Duration, timedOut bool)
}

// SetObserver installs o to receive lock-wait observations. Passing nil disables observation.
func (m *Manager) SetObserver(o WaitObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// NewManager creates a lock Manager. versionCache may be nil, in which case
// VerifyNoExternalWriter is a no-op (always succeeds) — acceptable for single-node
// deployments where DbObjectLock's mutual exclusion is already sufficient.
func NewManager(versionCache sqlcoord.L2Cache) *Manager {
	return &Manager{
		locks:        make(map[string]*DbObjectLock),
		versionCache: versionCache,
	}
}

// GetOrCreate returns the DbObjectLock for objectID, creating it on first reference.
func (m *Manager) GetOrCreate(objectID string) *DbObjectLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[objectID]
	if !ok {
		l = NewDbObjectLock(objectID)
		m.locks[objectID] = l
	}
	return l
}

// Lock acquires the named object's lock for holder, respecting lockTimeout. Blocking happens
// here at the storage layer and is reflected upward via session status: the caller
// (Session.AcquireLock) sets Session status to WAITING before calling, and restores the status
// it had before the wait after this returns without error.
func (m *Manager) Lock(ctx context.Context, objectID string, h Holder, lockTimeout time.Duration) (*DbObjectLock, error) {
	l := m.GetOrCreate(objectID)
	start := time.Now()
	err := l.Lock(ctx, h, lockTimeout)
	m.mu.Lock()
	obs := m.observer
	m.mu.Unlock()
	if obs != nil {
		obs.ObserveLockWait(objectID, time.Since(start), err != nil)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

type versionRecord struct {
	Version int64 `json:"version"`
}

// VerifyNoExternalWriter checks that the version stamp a caller read at lock-acquisition time
// still matches the version stamp in the shared cache, detecting a concurrent writer elsewhere
// in the cluster that bumped the object's version without going through this process's own
// DbObjectLock (e.g. a different node's lock manager). Transaction.Commit does not call it.
func (m *Manager) VerifyNoExternalWriter(ctx context.Context, objectID string, expectedVersion int64) error {
	if m.versionCache == nil {
		return nil
	}
	var rec versionRecord
	found, err := m.versionCache.GetStruct(ctx, versionCacheKey(objectID), &rec)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if rec.Version != expectedVersion {
		return sqlcoord.NewError(sqlcoord.LockTimeout, nil, objectID)
	}
	return nil
}

// BumpVersion records a new version stamp for objectID, called by the owning holder right
// after it mutates the object under lock.
func (m *Manager) BumpVersion(ctx context.Context, objectID string, version int64) error {
	if m.versionCache == nil {
		return nil
	}
	ba, err := encoding.DefaultMarshaler.Marshal(versionRecord{Version: version})
	if err != nil {
		return err
	}
	return m.versionCache.Set(ctx, versionCacheKey(objectID), string(ba), 0)
}

func versionCacheKey(objectID string) string {
	return "objver:" + objectID
}
