// Package resource implements the ResourceRegistry: per-session temp table/index/constraint
// maps, the bounded temporary-result set, the LOB unlink set, the query cache, and the
// cursor/prepared-statement cache. Per-session collections allocate lazily: most short-lived
// sessions never touch them.
package resource

import (
	"sync"
	"time"

	"github.com/sqlcoord/sessioncore"
)

// maxTemporaryResults is the bounded cap on temporary result handles: further
// adds beyond this are silently ignored.
const maxTemporaryResults = 100

// TempObjectKind distinguishes the three per-name catalog maps a session can hold.
type TempObjectKind int

const (
	TempTable TempObjectKind = iota
	TempIndex
	TempConstraint
)

// OnCommitAction controls what happens to a temp table at commit time.
type OnCommitAction int

const (
	OnCommitKeep OnCommitAction = iota
	OnCommitDrop
	OnCommitTruncate
)

// TempObject is a lazily-created session-scoped temp table, index, or constraint.
type TempObject struct {
	Name       string
	Kind       TempObjectKind
	OnCommit   OnCommitAction
}

// CursorEntry is a cached prepared statement or result set held by integer id for the wire
// layer, with an external time-based expiry.
type CursorEntry struct {
	ID        int
	Payload   interface{}
	ExpiresAt time.Time
}

// Registry holds one session's temp-object maps, bounded temp-result set, LOB unlink set, and
// cursor cache. The query cache is process-wide (shared across sessions, keyed by schema
// snapshot) and lives separately in QueryCache: both are session-owned collections, but the
// query cache's invalidation rule ("cleared whenever the database's modification-meta-id
// advances") only makes sense shared across the database, so prepare() consults "the query
// cache" rather than "this session's query cache".
type Registry struct {
	mu sync.Mutex

	// Lazily allocated: most short-lived sessions never create temp objects.
	tempObjects map[string]*TempObject

	temporaryResults []interface{}
	lobUnlinkSet     map[string]interface{}

	cursorCache map[int]*CursorEntry
	nextCursorID int
}

// NewRegistry creates an empty Registry. All internal maps start nil and are allocated lazily
// on first write.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddTempObject creates name with the given kind, failing with a duplicate-object error code
// if name already exists — the specific code depends on kind.
func (r *Registry) AddTempObject(name string, kind TempObjectKind, onCommit OnCommitAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tempObjects == nil {
		r.tempObjects = make(map[string]*TempObject)
	}
	if _, exists := r.tempObjects[name]; exists {
		return sqlcoord.NewError(duplicateCodeFor(kind), nil, name)
	}
	r.tempObjects[name] = &TempObject{Name: name, Kind: kind, OnCommit: onCommit}
	return nil
}

func duplicateCodeFor(kind TempObjectKind) sqlcoord.ErrorCode {
	switch kind {
	case TempIndex:
		return sqlcoord.IndexAlreadyExists
	case TempConstraint:
		return sqlcoord.ConstraintAlreadyExists
	default:
		return sqlcoord.TableOrViewAlreadyExists
	}
}

// GetTempObject looks up a previously added temp object by name.
func (r *Registry) GetTempObject(name string) (*TempObject, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tempObjects == nil {
		return nil, false
	}
	t, ok := r.tempObjects[name]
	return t, ok
}

// AddTemporaryResult appends a cursor handle to the bounded temporary-result set, silently
// ignoring adds beyond maxTemporaryResults.
func (r *Registry) AddTemporaryResult(handle interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.temporaryResults) >= maxTemporaryResults {
		return
	}
	r.temporaryResults = append(r.temporaryResults, handle)
}

// TemporaryResults returns the current bounded set, to be closed on commit.
func (r *Registry) TemporaryResults() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}{}, r.temporaryResults...)
}

// ClearTemporaryResults empties the bounded set after it has been drained.
func (r *Registry) ClearTemporaryResults() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.temporaryResults = nil
}

// LinkLOBForUnlink records identity → lob in the unlink-at-commit set. Only a
// previously-linked LOB may be added here; callers are responsible for that precondition.
func (r *Registry) LinkLOBForUnlink(identity string, lob interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lobUnlinkSet == nil {
		r.lobUnlinkSet = make(map[string]interface{})
	}
	r.lobUnlinkSet[identity] = lob
}

// UnlinkLOBs returns and clears the unlink set. The caller must run this strictly after the
// commit log flush.
func (r *Registry) UnlinkLOBs() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.lobUnlinkSet
	r.lobUnlinkSet = nil
	return set
}

// PutCursor stores payload under a freshly allocated cursor id with the given expiry and
// returns the id, in an expiring map keyed by integer.
func (r *Registry) PutCursor(payload interface{}, ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursorCache == nil {
		r.cursorCache = make(map[int]*CursorEntry)
	}
	r.nextCursorID++
	id := r.nextCursorID
	r.cursorCache[id] = &CursorEntry{ID: id, Payload: payload, ExpiresAt: time.Now().Add(ttl)}
	return id
}

// GetCursor returns the cursor payload for id, evicting it first if its expiry has passed.
func (r *Registry) GetCursor(id int) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursorCache == nil {
		return nil, false
	}
	e, ok := r.cursorCache[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.ExpiresAt) {
		delete(r.cursorCache, id)
		return nil, false
	}
	return e.Payload, true
}

// CloseCursor removes id from the cursor cache. Removal on close is mandatory — unlike
// time-based expiry, this is the caller actively releasing the handle.
func (r *Registry) CloseCursor(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cursorCache, id)
}

// CommitTempObjects drops OnCommitDrop objects and truncates OnCommitTruncate ones, leaving
// OnCommitKeep objects (and everything else) registered; Session.Close runs this same pass, so
// those are not removed at close either. The caller supplies
// truncate/drop callbacks because the actual DDL is an external storage-engine concern.
func (r *Registry) CommitTempObjects(drop func(name string) error, truncate func(name string) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, obj := range r.tempObjects {
		switch obj.OnCommit {
		case OnCommitDrop:
			if drop != nil {
				if err := drop(name); err != nil {
					return err
				}
			}
			delete(r.tempObjects, name)
		case OnCommitTruncate:
			if truncate != nil {
				if err := truncate(name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
