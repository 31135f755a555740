// Package txlog implements the crash-recoverable transaction log used by the two-phase commit
// coordinator: each commit-relevant step is logged before it takes effect, so a process
// restart can detect in-flight transactions and roll them back deterministically. Recovery is
// hour-bucketed: one time bucket is processed to exhaustion before moving to the next.
package txlog

import (
	"context"
	"time"

	"github.com/sqlcoord/sessioncore"
)

// Step identifies a commit-relevant step of the two-phase commit protocol, logged before it
// takes effect so RecoverStaleTransactions can reconstruct how far a crashed transaction got.
type Step int

const (
	StepUnknown Step = iota
	// StepLockTrackedItems marks that the coordinator has taken all locks needed to commit.
	StepLockTrackedItems
	// StepParticipantsPrepared marks that every participant has logged a commit-ready record.
	StepParticipantsPrepared
	// StepGlobalDecisionWritten marks that the coordinator wrote the global commit decision.
	StepGlobalDecisionWritten
	// StepParticipantsFinalized marks that every participant has run commitFinal.
	StepParticipantsFinalized
	// StepRolledBack marks that the transaction was rolled back.
	StepRolledBack
)

// Entry is one logged step for a transaction, as read back during recovery.
type Entry struct {
	TransactionID sqlcoord.UUID
	Step          Step
	Payload       []byte
}

// TransactionLog is the durable log backend the TransactionCoordinator writes to before each
// commit-relevant step, and consults on startup to recover in-flight transactions left behind
// by a crash. Implemented by a Cassandra-backed Log and, for tests or single-node deployments
// without Cassandra configured, an in-memory InMemoryLog.
type TransactionLog interface {
	// Add appends a logged step for transactionID. Steps accumulate; they are not overwritten.
	Add(ctx context.Context, transactionID sqlcoord.UUID, step Step, payload []byte) error
	// Remove deletes all logged steps for transactionID, called once a commit or rollback
	// completes and the log is no longer needed for recovery.
	Remove(ctx context.Context, transactionID sqlcoord.UUID) error
	// GetOne returns one transaction's logged steps along with the hour bucket it was filed
	// under, or a nil transactionID if no logged transaction remains. Used to seed recovery's
	// "process one hour to exhaustion" loop.
	GetOne(ctx context.Context) (sqlcoord.UUID, string, []Entry, error)
	// GetOneOfHour behaves like GetOne but restricts the search to a specific hour bucket,
	// returning a nil transactionID once that bucket is exhausted.
	GetOneOfHour(ctx context.Context, hour string) (sqlcoord.UUID, []Entry, error)
}

// RecoveryHandler rolls back a transaction discovered by RecoverStaleTransactions. The
// TransactionCoordinator implements this; it is passed in rather than imported directly to
// avoid a cycle between txlog and txn.
type RecoveryHandler interface {
	RollbackStale(ctx context.Context, transactionID sqlcoord.UUID, lastStep Step) error
}

// hourBeingProcessed tracks which hour bucket RecoverStaleTransactions is currently draining:
// staying within one bucket until it is exhausted avoids repeatedly re-scanning buckets that
// still have work.
var hourBeingProcessed string

// RecoverStaleTransactions drains one logged-but-incomplete transaction per call, rolling it
// back via handler. Callers loop this until it reports no transaction found (cmd/sessiond does
// so once, at process start).
//
// Returns (found, error). found is false once the current hour bucket — and, once that first
// GetOne call returns no bucket at all, the whole log — has been drained.
func RecoverStaleTransactions(ctx context.Context, log TransactionLog, handler RecoveryHandler) (bool, error) {
	var tid sqlcoord.UUID
	var hour string
	var entries []Entry
	var err error

	if hourBeingProcessed == "" {
		tid, hour, entries, err = log.GetOne(ctx)
		if err != nil {
			return false, err
		}
		hourBeingProcessed = hour
	} else {
		tid, entries, err = log.GetOneOfHour(ctx, hourBeingProcessed)
		if err != nil {
			return false, err
		}
	}

	if tid.IsNil() {
		hourBeingProcessed = ""
		return false, nil
	}

	lastStep := StepUnknown
	for _, e := range entries {
		if e.Step > lastStep {
			lastStep = e.Step
		}
	}

	if err := handler.RollbackStale(ctx, tid, lastStep); err != nil {
		return true, err
	}
	return true, log.Remove(ctx, tid)
}

// hourBucket formats t into the same hour-granularity bucket key the log partitions by,
// keeping related entries co-located for efficient recovery scans.
func hourBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}
