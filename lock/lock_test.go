package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sqlcoord/sessioncore"
)

type recordingListener struct {
	mu      sync.Mutex
	granted bool
	timeout error
}

func (l *recordingListener) OnLockGranted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.granted = true
}

func (l *recordingListener) OnTimeout(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeout = err
}

func TestTryLockThenContendedLockBlocksUntilReleased(t *testing.T) {
	l := NewDbObjectLock("t1")
	owner := Holder{SessionID: sqlcoord.NewUUID()}
	if !l.TryLock(owner) {
		t.Fatal("expected first TryLock to succeed")
	}
	if l.TryLock(Holder{SessionID: sqlcoord.NewUUID()}) {
		t.Fatal("expected a second TryLock on a held object to fail")
	}

	waiterListener := &recordingListener{}
	waiterID := sqlcoord.NewUUID()
	done := make(chan error, 1)
	go func() {
		done <- l.Lock(context.Background(), Holder{SessionID: waiterID, Listener: waiterListener}, 0)
	}()

	time.Sleep(20 * time.Millisecond)
	l.Unlock(owner.SessionID, true, nil)

	if err := <-done; err != nil {
		t.Fatalf("unexpected error waiting for the lock: %v", err)
	}
	if !l.IsHeldBy(waiterID) {
		t.Fatal("expected the waiter to now hold the lock")
	}
	waiterListener.mu.Lock()
	granted := waiterListener.granted
	waiterListener.mu.Unlock()
	if !granted {
		t.Fatal("expected OnLockGranted called on the waiter's listener")
	}
}

func TestLockTimesOutAndNotifiesListener(t *testing.T) {
	l := NewDbObjectLock("t1")
	owner := Holder{SessionID: sqlcoord.NewUUID()}
	l.TryLock(owner)

	listener := &recordingListener{}
	err := l.Lock(context.Background(), Holder{SessionID: sqlcoord.NewUUID(), Listener: listener}, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected a lock-timeout error")
	}
	got, ok := err.(sqlcoord.Error)
	if !ok || got.Code != sqlcoord.LockTimeout {
		t.Fatalf("expected sqlcoord.LockTimeout, got %v", err)
	}
	listener.mu.Lock()
	defer listener.mu.Unlock()
	if listener.timeout == nil {
		t.Fatal("expected OnTimeout called on the waiting listener")
	}
}

func TestUnlockTransfersOwnershipWithoutWakingQueue(t *testing.T) {
	l := NewDbObjectLock("t1")
	owner := Holder{SessionID: sqlcoord.NewUUID()}
	l.TryLock(owner)

	queuedListener := &recordingListener{}
	queuedID := sqlcoord.NewUUID()
	waitDone := make(chan error, 1)
	go func() {
		waitDone <- l.Lock(context.Background(), Holder{SessionID: queuedID, Listener: queuedListener}, time.Second)
	}()
	time.Sleep(20 * time.Millisecond)

	winnerListener := &recordingListener{}
	winnerID := sqlcoord.NewUUID()
	l.Unlock(owner.SessionID, true, &Holder{SessionID: winnerID, Listener: winnerListener})

	time.Sleep(20 * time.Millisecond)
	if !l.IsHeldBy(winnerID) {
		t.Fatal("expected the lock transferred directly to the named winner")
	}
	winnerListener.mu.Lock()
	wonGrant := winnerListener.granted
	winnerListener.mu.Unlock()
	if !wonGrant {
		t.Fatal("expected the winner's listener notified")
	}
	queuedListener.mu.Lock()
	queueGranted := queuedListener.granted
	queuedListener.mu.Unlock()
	if queueGranted {
		t.Fatal("expected the queued waiter to remain unwoken by an ownership transfer")
	}

	l.Unlock(winnerID, true, nil)
	if err := <-waitDone; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUnlockByNonHolderIsIgnored(t *testing.T) {
	l := NewDbObjectLock("t1")
	owner := Holder{SessionID: sqlcoord.NewUUID()}
	l.TryLock(owner)
	l.Unlock(sqlcoord.NewUUID(), true, nil)
	if !l.IsHeldBy(owner.SessionID) {
		t.Fatal("expected a non-holder's Unlock call to have no effect")
	}
}
