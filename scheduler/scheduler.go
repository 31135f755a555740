// Package scheduler implements the YieldableScheduler: a pool of worker handlers that each
// dispatch one session's single in-flight yieldable command at a time, cooperatively, without
// blocking on I/O.
package scheduler

import (
	"context"
	"sync"
	"time"

	log "log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sqlcoord/sessioncore"
)

// Status enumerates a Session's dispatch-relevant lifecycle states. The scheduler only needs
// to read it to decide dispatchability; the session package owns all transitions.
type Status int32

const (
	StatusTransactionNotStart Status = iota
	StatusTransactionNotCommit
	StatusStatementRunning
	StatusStatementCompleted
	StatusWaiting
	StatusTransactionCommitting
	StatusRetrying
	StatusRetryingReturnResult
	StatusExclusiveMode
)

// Yieldable is a resumable unit of work dispatched by the scheduler. Run must be non-blocking
// and return promptly — at most one work quantum per call — yielding at one of three suspension
// points: (a) lock wait, (b) nested-session RPC, (c) voluntary quantum yield.
type Yieldable interface {
	Run(ctx context.Context) error
	Stop()
	// Back rewinds one step, used when a statement must be retried from its prior state.
	Back()
}

// TimeoutListener is notified when a WAITING session's transaction timeout check, performed
// at dispatch-gate time, finds the wait has exceeded its bound.
type TimeoutListener interface {
	OnTimeout(sessionID sqlcoord.UUID, err error)
}

// Dispatchable is the subset of Session the scheduler needs to drive dispatch, kept narrow to
// avoid a scheduler→session import cycle (session imports scheduler; cmd/sessiond constructs
// the scheduler and hands it to each session).
type Dispatchable interface {
	ID() sqlcoord.UUID
	Status() Status
	// InReplicationFlow reports whether the session is mid replication-conflict handling — in
	// that mode a second concurrent piece of work (e.g. an async commit) may proceed even
	// though a yieldable command is already in flight.
	InReplicationFlow() bool
	// YieldableCommand returns the session's single in-flight command, or nil.
	YieldableCommand() Yieldable
	// CheckTransactionTimeout is invoked for a WAITING session when checkTimeout is requested;
	// it rolls back the transaction and returns the resulting error on timeout, nil otherwise.
	CheckTransactionTimeout(ctx context.Context) error
}

// GetYieldableCommand implements the scheduler's dispatch gate:
//  1. no command in flight → nil
//  2. status not dispatchable (WAITING/TRANSACTION_COMMITTING/EXCLUSIVE_MODE/STATEMENT_RUNNING)
//     → nil, with a timeout check for WAITING sessions not under replication
//  3. otherwise → the command
func GetYieldableCommand(ctx context.Context, s Dispatchable, checkTimeout bool, timeoutListener TimeoutListener) Yieldable {
	cmd := s.YieldableCommand()
	if cmd == nil {
		return nil
	}

	switch s.Status() {
	case StatusWaiting:
		if checkTimeout && !s.InReplicationFlow() {
			if err := s.CheckTransactionTimeout(ctx); err != nil {
				if timeoutListener != nil {
					timeoutListener.OnTimeout(s.ID(), err)
				}
			}
		}
		return nil
	case StatusTransactionCommitting, StatusExclusiveMode, StatusStatementRunning:
		return nil
	default:
		return cmd
	}
}

// Scheduler owns a pool of handlers, each an errgroup-bounded goroutine that repeatedly polls
// its own queue of assigned sessions for dispatchable work. A session is assigned to the
// least-loaded handler at Register time and stays there until Unregister.
type Scheduler struct {
	handlerCount int
	pollInterval time.Duration

	mu      sync.Mutex
	queues  [][]Dispatchable // one queue per handler
	cursors []int            // per-handler round-robin cursor within its queue

	timeoutListener TimeoutListener
	observer        DispatchObserver
}

// DispatchObserver is notified around every dispatched Yieldable.Run call and every
// Register/Unregister, so the metrics package can feed a dispatch-latency histogram and an
// active-session gauge without this package depending on prometheus directly.
type DispatchObserver interface {
	ObserveDispatch(handlerID int, d time.Duration, err error)
	SessionRegistered()
	SessionUnregistered()
}

// SetObserver installs o to receive dispatch observations. Passing nil disables observation.
func (sc *Scheduler) SetObserver(o DispatchObserver) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.observer = o
}

// New creates a Scheduler with handlerCount worker handlers, each polling every pollInterval
// for dispatchable sessions. handlerCount and pollInterval both come from
// sqlcoord.Configuration.SchedulerHandlerCount and a fixed small poll interval respectively.
func New(handlerCount int, pollInterval time.Duration, timeoutListener TimeoutListener) *Scheduler {
	if handlerCount <= 0 {
		handlerCount = 1
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Millisecond
	}
	return &Scheduler{
		handlerCount:    handlerCount,
		pollInterval:    pollInterval,
		queues:          make([][]Dispatchable, handlerCount),
		cursors:         make([]int, handlerCount),
		timeoutListener: timeoutListener,
	}
}

// leastLoadedHandler returns the index of the handler with the fewest assigned sessions.
// Caller holds sc.mu.
func (sc *Scheduler) leastLoadedHandler() int {
	best := 0
	minLoad := len(sc.queues[0])
	for i := 1; i < len(sc.queues); i++ {
		if len(sc.queues[i]) < minLoad {
			minLoad = len(sc.queues[i])
			best = i
		}
	}
	return best
}

// Register assigns s to the least-loaded handler's queue.
func (sc *Scheduler) Register(s Dispatchable) {
	sc.mu.Lock()
	h := sc.leastLoadedHandler()
	sc.queues[h] = append(sc.queues[h], s)
	obs := sc.observer
	sc.mu.Unlock()
	if obs != nil {
		obs.SessionRegistered()
	}
}

// Unregister removes s from its handler's queue, called from Session.close as part of session
// teardown.
func (sc *Scheduler) Unregister(s Dispatchable) {
	sc.mu.Lock()
	removed := false
	for h, q := range sc.queues {
		for i, ss := range q {
			if ss.ID() == s.ID() {
				sc.queues[h] = append(q[:i], q[i+1:]...)
				removed = true
				break
			}
		}
		if removed {
			break
		}
	}
	obs := sc.observer
	sc.mu.Unlock()
	if removed && obs != nil {
		obs.SessionUnregistered()
	}
}

// Run starts handlerCount handlers and blocks until ctx is done or a handler returns an
// unrecoverable error.
func (sc *Scheduler) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for h := 0; h < sc.handlerCount; h++ {
		handlerID := h
		eg.Go(func() error {
			sc.runHandler(egCtx, handlerID)
			return nil
		})
	}
	return eg.Wait()
}

func (sc *Scheduler) runHandler(ctx context.Context, handlerID int) {
	ticker := time.NewTicker(sc.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.dispatchOne(ctx, handlerID)
		}
	}
}

// dispatchOne picks the next session in handlerID's queue in round-robin order and runs its
// yieldable command once, if dispatchable. Checking the transaction timeout is requested on
// every poll (checkTimeout=true); no dispatch path in the scheduler passes false.
func (sc *Scheduler) dispatchOne(ctx context.Context, handlerID int) {
	sc.mu.Lock()
	q := sc.queues[handlerID]
	if len(q) == 0 {
		sc.mu.Unlock()
		return
	}
	sc.cursors[handlerID] = (sc.cursors[handlerID] + 1) % len(q)
	s := q[sc.cursors[handlerID]]
	obs := sc.observer
	sc.mu.Unlock()

	cmd := GetYieldableCommand(ctx, s, true, sc.timeoutListener)
	if cmd == nil {
		return
	}
	start := time.Now()
	err := cmd.Run(ctx)
	if obs != nil {
		obs.ObserveDispatch(handlerID, time.Since(start), err)
	}
	if err != nil {
		log.Warn("yieldable command failed", "session", s.ID().String(), "error", err)
	}
}
