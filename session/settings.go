package session

import (
	"time"

	"github.com/sqlcoord/sessioncore"
	"github.com/sqlcoord/sessioncore/txn"
)

// Names of the settings a session recognizes. Each is read and written through its typed
// getter/setter (SetLockTimeout, SetQueryTimeout, SetSchema, SetSearchPath, SetThrottleDelay,
// SetIsolationLevel); there is no generic setter by name. Engine-hint passthroughs
// (VALUE_VECTOR_FACTORY_NAME, EXPRESSION_COMPILE_THRESHOLD, OLAP_OPERATOR_FACTORY_NAME,
// OLAP_THRESHOLD) are not modeled here: they have no meaning to this coordinator and are the
// query engine's concern to read directly off whatever side-channel it chooses.
const (
	SettingLockTimeout              = "LOCK_TIMEOUT"
	SettingQueryTimeout              = "QUERY_TIMEOUT"
	SettingSchema                    = "SCHEMA"
	SettingSchemaSearchPath          = "SCHEMA_SEARCH_PATH"
	SettingThrottle                  = "THROTTLE"
	SettingTransactionIsolationLevel = "TRANSACTION_ISOLATION_LEVEL"
)

// User returns the session's authenticated user.
func (s *Session) User() string { return s.user }

// Schema returns the session's current schema name.
func (s *Session) Schema() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema
}

// SetSchema sets the session's current schema name.
func (s *Session) SetSchema(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = name
}

// SearchPath returns the session's ordered schema search path.
func (s *Session) SearchPath() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.searchPath...)
}

// SetSearchPath replaces the session's ordered schema search path.
func (s *Session) SetSearchPath(path []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchPath = append([]string{}, path...)
}

// LockTimeout returns the session's lock-wait bound.
func (s *Session) LockTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockTimeout
}

// SetLockTimeout sets the session's lock-wait bound.
func (s *Session) SetLockTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockTimeout = d
}

// QueryTimeout returns the session's per-statement timeout bound.
func (s *Session) QueryTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryTimeout
}

// SetQueryTimeout sets the session's per-statement timeout bound, capped by maxQueryTimeout
// (the database's configured maximum).
func (s *Session) SetQueryTimeout(d, maxQueryTimeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxQueryTimeout > 0 && d > maxQueryTimeout {
		d = maxQueryTimeout
	}
	s.queryTimeout = d
}

// ThrottleDelay returns the sleep interval the wire layer should apply between operations.
func (s *Session) ThrottleDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttleDelay
}

// SetThrottleDelay sets the sleep interval the wire layer should apply between operations.
func (s *Session) SetThrottleDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttleDelay = d
}

// IsolationLevel returns the session's transaction isolation level.
func (s *Session) IsolationLevel() txn.IsolationLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isolation
}

// SetIsolationLevel sets the session's transaction isolation level, failing with INVALID_VALUE
// for an unrecognized level.
func (s *Session) SetIsolationLevel(level txn.IsolationLevel) error {
	switch level {
	case txn.ReadUncommitted, txn.ReadCommitted, txn.RepeatableRead, txn.Serializable:
	default:
		return sqlcoord.NewError(sqlcoord.InvalidValue, nil, level)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isolation = level
	return nil
}

// AutoCommit returns whether the session commits each statement implicitly.
func (s *Session) AutoCommit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoCommit
}

// SetAutoCommit toggles whether the session commits each statement implicitly.
func (s *Session) SetAutoCommit(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoCommit = v
}

// IsRoot reports whether this session coordinates a distributed transaction.
func (s *Session) IsRoot() bool { return s.isRoot }
