// Package sqlcoord defines the core interfaces, types, and helpers shared across the
// session/transaction coordination core of a distributed SQL engine: session and
// transaction identifiers, the coordinator-wide error type, retry/backoff helpers, logging
// setup, and process configuration. Concrete coordination logic lives in the sibling
// packages session, txn, lock, replication, scheduler, resource, and txlog; this package is
// their common foundation and is not meant to be used directly by SQL clients.
package sqlcoord

// Timeout model
//
// Coordinator operations (notably transaction commits and lock acquisition) are bounded by
// two timers:
//  1. The caller-provided context deadline/cancellation, which propagates across subsystems.
//  2. An operation-specific maximum duration (query timeout, lock timeout, commit max
//     duration) used as an internal safety limit independent of the caller's context.
//
// The effective wait is the earlier of the context deadline and the operation's own maximum
// duration. Object locks have no TTL: a lock stays held until its holder unlocks it (commit,
// rollback, statement rollback or session close); the lock timeout bounds only the wait for a
// lock, and the commit max duration bounds how long a transaction may stay open
// (Transaction.CheckTimeout). Timeouts surface as sqlcoord.Error{Code: LockTimeout} or StatementWasCanceled,
// wrapping the underlying context error where applicable so errors.Is(err,
// context.DeadlineExceeded) still holds.
