package txn

import (
	"context"
	"sync"

	log "log/slog"

	"github.com/sqlcoord/sessioncore"
	"github.com/sqlcoord/sessioncore/txlog"
)

// Coordinator tracks every Transaction currently open in this process and implements
// txlog.RecoveryHandler, so txlog.RecoverStaleTransactions can roll back transactions a crash
// left logged but unfinished.
type Coordinator struct {
	mu  sync.Mutex
	txs map[sqlcoord.UUID]*Transaction
}

// NewCoordinator creates an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{txs: make(map[sqlcoord.UUID]*Transaction)}
}

// Track registers t so RollbackStale can find it if this process crashes mid-commit and is
// later restarted against the same log (tracking only helps within a single process lifetime;
// a genuine crash recovery after restart falls to the log-only branch below).
func (c *Coordinator) Track(t *Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[t.ID()] = t
}

// Untrack removes t once it has committed or rolled back.
func (c *Coordinator) Untrack(t *Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.txs, t.ID())
}

// RollbackStale implements txlog.RecoveryHandler. If the transaction is still tracked in this
// process (the common case: a commit hung or the handler goroutine is slow, not a crash), it
// is rolled back normally. Otherwise — the actual crash-recovery case, where the Go process
// restarted and lost all in-memory Transaction state — there is nothing left to roll back in
// memory; the log entry itself is the only record, and removing it (done by the caller,
// RecoverStaleTransactions) is what "recovers" the slot. lastStep is logged so an operator can
// see how far the crashed commit got.
func (c *Coordinator) RollbackStale(ctx context.Context, transactionID sqlcoord.UUID, lastStep txlog.Step) error {
	c.mu.Lock()
	t, ok := c.txs[transactionID]
	c.mu.Unlock()
	if !ok {
		log.Warn("recovering transaction log entry with no in-memory transaction (process restarted mid-commit)",
			"transaction", transactionID.String(), "lastStep", lastStep)
		return nil
	}
	if err := t.Rollback(ctx); err != nil {
		log.Error("rollback of stale transaction failed", "transaction", transactionID.String(), "error", err)
		return err
	}
	c.Untrack(t)
	return nil
}
