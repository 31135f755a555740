package txlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"github.com/sqlcoord/sessioncore"
)

// transactionLoggingConsistency: the log only exists to aid cleanup of crashed transactions,
// a rare and non-urgent path, so the weakest consistency level that still lands on a replica
// is acceptable.
const transactionLoggingConsistency = gocql.LocalOne

// ClusterConfig configures the Cassandra cluster backing a Log.
type ClusterConfig struct {
	Hosts             []string
	Keyspace          string
	Consistency       gocql.Consistency
	ConnectionTimeout time.Duration
}

// Connection wraps a Cassandra session and the keyspace it was opened against.
type Connection struct {
	Session  *gocql.Session
	Keyspace string
}

var connection *Connection
var mux sync.Mutex

// OpenConnection returns the existing global Connection, or opens one and creates the
// keyspace/table if missing.
func OpenConnection(cfg ClusterConfig) (*Connection, error) {
	if connection != nil {
		return connection, nil
	}
	mux.Lock()
	defer mux.Unlock()
	if connection != nil {
		return connection, nil
	}

	keyspace := cfg.Keyspace
	if keyspace == "" {
		keyspace = "sqlcoord"
	}
	consistency := cfg.Consistency
	if consistency == gocql.Any {
		consistency = gocql.LocalQuorum
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = consistency
	if cfg.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = cfg.ConnectionTimeout
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	if err := session.Query(fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = {'class':'SimpleStrategy', 'replication_factor':1};",
		keyspace)).Exec(); err != nil {
		return nil, err
	}
	if err := session.Query(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s.tx_log (id UUID, step int, payload blob, PRIMARY KEY(id, step));",
		keyspace)).Exec(); err != nil {
		return nil, err
	}

	connection = &Connection{Session: session, Keyspace: keyspace}
	return connection, nil
}

// CloseConnection closes and clears the global Connection, if present.
func CloseConnection() {
	if connection == nil {
		return
	}
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		return
	}
	connection.Session.Close()
	connection = nil
}

// Log is a Cassandra-backed TransactionLog, partitioned by time-ordered transaction id so the
// GetOne/GetOneOfHour recovery scan can drain one hour bucket to exhaustion before moving on.
type Log struct {
	conn *Connection
}

// NewLog returns a Log bound to the given Connection.
func NewLog(conn *Connection) *Log {
	return &Log{conn: conn}
}

func (l *Log) Add(ctx context.Context, transactionID sqlcoord.UUID, step Step, payload []byte) error {
	if l.conn == nil {
		return fmt.Errorf("cassandra connection is not open")
	}
	q := fmt.Sprintf("INSERT INTO %s.tx_log (id, step, payload) VALUES (?, ?, ?);", l.conn.Keyspace)
	return l.conn.Session.Query(q, gocql.UUID(transactionID), int(step), payload).
		WithContext(ctx).Consistency(transactionLoggingConsistency).Exec()
}

func (l *Log) Remove(ctx context.Context, transactionID sqlcoord.UUID) error {
	if l.conn == nil {
		return fmt.Errorf("cassandra connection is not open")
	}
	q := fmt.Sprintf("DELETE FROM %s.tx_log WHERE id = ?;", l.conn.Keyspace)
	return l.conn.Session.Query(q, gocql.UUID(transactionID)).
		WithContext(ctx).Consistency(transactionLoggingConsistency).Exec()
}

// GetOne finds the oldest still-logged transaction older than the recovery window and returns
// its steps. The 70-minute cap: commits have a max duration (CommitMaxDuration, capped at 1
// hour) plus a margin against clock/bucket edge effects.
func (l *Log) GetOne(ctx context.Context) (sqlcoord.UUID, string, []Entry, error) {
	if l.conn == nil {
		return sqlcoord.NilUUID, "", nil, fmt.Errorf("cassandra connection is not open")
	}
	cappedHour := time.Now().UTC().Add(-70 * time.Minute)
	cappedHourTID := gocql.UUIDFromTime(cappedHour)

	q := fmt.Sprintf("SELECT id FROM %s.tx_log WHERE id < ? LIMIT 1 ALLOW FILTERING;", l.conn.Keyspace)
	iter := l.conn.Session.Query(q, cappedHourTID).WithContext(ctx).Consistency(transactionLoggingConsistency).Iter()
	var tid gocql.UUID
	for iter.Scan(&tid) {
	}
	if err := iter.Close(); err != nil {
		return sqlcoord.NilUUID, "", nil, err
	}
	if tid == (gocql.UUID{}) {
		return sqlcoord.NilUUID, "", nil, nil
	}

	entries, err := l.entriesFor(ctx, tid)
	if err != nil {
		return sqlcoord.NilUUID, "", nil, err
	}
	return sqlcoord.UUID(tid), hourBucket(cappedHour), entries, nil
}

func (l *Log) GetOneOfHour(ctx context.Context, hour string) (sqlcoord.UUID, []Entry, error) {
	if hour == "" {
		return sqlcoord.NilUUID, nil, nil
	}
	if l.conn == nil {
		return sqlcoord.NilUUID, nil, fmt.Errorf("cassandra connection is not open")
	}
	t, err := time.Parse("2006-01-02T15", hour)
	if err != nil {
		return sqlcoord.NilUUID, nil, err
	}
	if time.Since(t).Hours() > 4 {
		// Cap recovery of any single hour bucket so it can't stall the recovery loop forever.
		return sqlcoord.NilUUID, nil, nil
	}

	hrid := gocql.UUIDFromTime(t)
	q := fmt.Sprintf("SELECT id FROM %s.tx_log WHERE id < ? LIMIT 1 ALLOW FILTERING;", l.conn.Keyspace)
	iter := l.conn.Session.Query(q, hrid).WithContext(ctx).Consistency(transactionLoggingConsistency).Iter()
	var tid gocql.UUID
	for iter.Scan(&tid) {
	}
	if err := iter.Close(); err != nil {
		return sqlcoord.NilUUID, nil, err
	}
	if tid == (gocql.UUID{}) {
		return sqlcoord.NilUUID, nil, nil
	}

	entries, err := l.entriesFor(ctx, tid)
	return sqlcoord.UUID(tid), entries, err
}

func (l *Log) entriesFor(ctx context.Context, tid gocql.UUID) ([]Entry, error) {
	q := fmt.Sprintf("SELECT step, payload FROM %s.tx_log WHERE id = ?;", l.conn.Keyspace)
	iter := l.conn.Session.Query(q, tid).WithContext(ctx).Consistency(transactionLoggingConsistency).Iter()
	entries := make([]Entry, 0, iter.NumRows())
	var step int
	var payload []byte
	for iter.Scan(&step, &payload) {
		entries = append(entries, Entry{
			TransactionID: sqlcoord.UUID(tid),
			Step:          Step(step),
			Payload:       payload,
		})
	}
	if err := iter.Close(); err != nil {
		return entries, err
	}
	return entries, nil
}
