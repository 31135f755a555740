package sqlcoord

import (
	"encoding/json"
	"os"
	"time"
)

// Configuration holds process-wide settings for the session/transaction coordination core:
// the Redis connection backing the query/cursor cache and replica conflict negotiation, the
// Cassandra hosts backing the crash-recoverable transaction log, the admin HTTP API bind
// address and auth settings, and the default per-session timeouts and scheduler sizing.
type Configuration struct {
	RedisAddress      string
	RedisPassword     string
	RedisDB           int
	CassandraHosts    []string
	CassandraKeyspace string

	AdminAPIAddress string
	OktaIssuer      string
	OktaAudience    string

	DefaultLockTimeout  time.Duration
	DefaultQueryTimeout time.Duration
	CommitMaxDuration   time.Duration

	// SchedulerHandlerCount is the size of the YieldableScheduler's worker pool.
	SchedulerHandlerCount int
}

// DefaultConfiguration returns sane defaults: localhost Redis, no Cassandra hosts (the
// transaction log falls back to an in-memory implementation), a 30s lock timeout, a 0
// (disabled) query timeout, a 15 minute commit max duration and 8 scheduler handlers.
func DefaultConfiguration() Configuration {
	return Configuration{
		RedisAddress:          "localhost:6379",
		DefaultLockTimeout:    30 * time.Second,
		DefaultQueryTimeout:   0,
		CommitMaxDuration:     15 * time.Minute,
		SchedulerHandlerCount: 8,
	}
}

// LoadConfiguration reads a JSON file and loads it into memory, falling back to
// DefaultConfiguration's values for anything the file does not specify.
func LoadConfiguration(filename string) (Configuration, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return Configuration{}, err
	}

	c := DefaultConfiguration()
	if err := json.Unmarshal(b, &c); err != nil {
		return Configuration{}, err
	}
	return c, nil
}
