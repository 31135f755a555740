package session

import (
	"sync"

	"github.com/sqlcoord/sessioncore"
)

// Directory is a process-wide registry of live Sessions, keyed by id, used by the admin API to
// list and look up sessions for operator introspection and cancel/kill actions.
type Directory struct {
	mu       sync.RWMutex
	sessions map[sqlcoord.UUID]*Session
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{sessions: make(map[sqlcoord.UUID]*Session)}
}

func (d *Directory) add(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[s.id] = s
}

func (d *Directory) remove(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, s.id)
}

// Get returns the session registered under id, or (nil, false) if none is live.
func (d *Directory) Get(id sqlcoord.UUID) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	return s, ok
}

// List returns every currently live session, in no particular order.
func (d *Directory) List() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}

// Snapshot is the introspection-safe view of a Session's state the admin API renders.
type Snapshot struct {
	ID              string
	User            string
	Schema          string
	Status          Status
	LockCount       int
	TransactionID   string
	ReplicationName string
	Closed          bool
}

// Snapshot captures a point-in-time, lock-consistent view of this session's state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:              s.id.String(),
		User:            s.user,
		Schema:          s.schema,
		Status:          Status(s.status.Load()),
		LockCount:       len(s.locks),
		ReplicationName: s.replicationName,
		Closed:          s.closed,
	}
	if s.tx != nil {
		snap.TransactionID = s.tx.ID().String()
	}
	return snap
}
