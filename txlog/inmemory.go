package txlog

import (
	"context"
	"sync"
	"time"

	"github.com/sqlcoord/sessioncore"
)

type bucket struct {
	entries map[sqlcoord.UUID][]Entry
}

// InMemoryLog is a process-local TransactionLog used in tests and single-node deployments
// that have not configured Cassandra. It has no durability across restarts, so
// RecoverStaleTransactions against it only recovers transactions logged earlier in the same
// process lifetime.
type InMemoryLog struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewInMemoryLog creates an empty InMemoryLog.
func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{buckets: make(map[string]*bucket)}
}

func (l *InMemoryLog) Add(ctx context.Context, transactionID sqlcoord.UUID, step Step, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	hr := hourBucket(time.Now())
	b, ok := l.buckets[hr]
	if !ok {
		b = &bucket{entries: make(map[sqlcoord.UUID][]Entry)}
		l.buckets[hr] = b
	}
	b.entries[transactionID] = append(b.entries[transactionID], Entry{
		TransactionID: transactionID,
		Step:          step,
		Payload:       payload,
	})
	return nil
}

func (l *InMemoryLog) Remove(ctx context.Context, transactionID sqlcoord.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.buckets {
		delete(b.entries, transactionID)
	}
	return nil
}

func (l *InMemoryLog) GetOne(ctx context.Context) (sqlcoord.UUID, string, []Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for hr, b := range l.buckets {
		for tid, entries := range b.entries {
			return tid, hr, entries, nil
		}
	}
	return sqlcoord.NilUUID, "", nil, nil
}

func (l *InMemoryLog) GetOneOfHour(ctx context.Context, hour string) (sqlcoord.UUID, []Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[hour]
	if !ok {
		return sqlcoord.NilUUID, nil, nil
	}
	for tid, entries := range b.entries {
		return tid, entries, nil
	}
	return sqlcoord.NilUUID, nil, nil
}
