package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	log "log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sqlcoord/sessioncore"
	"github.com/sqlcoord/sessioncore/encoding"
)

type client struct {
	conn    *Connection
	isOwner bool
}

// NewClient returns an L2Cache backed by the default shared Redis connection. The underlying
// connection must have been initialized via OpenConnection first.
func NewClient() sqlcoord.L2Cache {
	return &client{
		conn: connection,
	}
}

// NewConnectionClient opens a new Redis connection with the given options and returns a
// CloseableCache. Call Close on the returned cache when no longer needed. Useful for
// isolating the transaction log's Redis usage from the shared query/cursor cache connection.
func NewConnectionClient(options Options) sqlcoord.CloseableCache {
	log.Info("opening dedicated Redis connection", "address", options.Address, "db", options.DB)
	c := openConnection(options)
	return &client{
		conn:    c,
		isOwner: true,
	}
}

// Close closes the owned Redis connection, if any.
func (c *client) Close() error {
	if !c.isOwner || c.conn == nil {
		return nil
	}
	err := closeConnection(c.conn)
	c.conn = nil
	return err
}

func (c *client) getConnection() (*Connection, error) {
	if c.isOwner {
		if c.conn == nil {
			return nil, fmt.Errorf("redis connection is not open; can't create new client")
		}
		return c.conn, nil
	}
	if connection == nil {
		return nil, fmt.Errorf("redis connection is not open; can't create new client")
	}
	return connection, nil
}

// keyNotFound reports whether the provided error corresponds to a missing key in Redis.
func (c client) keyNotFound(err error) bool {
	return err == redis.Nil
}

// Ping tests connectivity to Redis.
func (c client) Ping(ctx context.Context) error {
	conn, err := c.getConnection()
	if err != nil {
		return err
	}
	if _, err := conn.Client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Clear removes all keys in the current Redis database. Use with caution.
func (c client) Clear(ctx context.Context) error {
	conn, err := c.getConnection()
	if err != nil {
		return err
	}
	if err := conn.Client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("redis clear failed: %w", err)
	}
	return nil
}

// Set stores a string value with the specified expiration; expiration < 0 disables caching.
func (c client) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	conn, err := c.getConnection()
	if err != nil {
		return err
	}
	if expiration < 0 {
		return nil
	}
	if err := conn.Client.Set(ctx, key, value, expiration).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}
	return nil
}

// Get retrieves a string value. Returns (found, value, error-from-backend).
func (c client) Get(ctx context.Context, key string) (bool, string, error) {
	conn, err := c.getConnection()
	if err != nil {
		return false, "", err
	}
	s, err := conn.Client.Get(ctx, key).Result()
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	} else if err != nil {
		err = fmt.Errorf("redis get failed for key %s: %w", key, err)
	}
	return r, s, err
}

// GetEx retrieves a string value and sets its expiration (TTL) at the same time.
func (c client) GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error) {
	conn, err := c.getConnection()
	if err != nil {
		return false, "", err
	}
	s, err := conn.Client.GetEx(ctx, key, expiration).Result()
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	} else if err != nil {
		err = fmt.Errorf("redis getex failed for key %s: %w", key, err)
	}
	return r, s, err
}

// SetStruct marshals a struct and stores it with the specified expiration; expiration < 0 disables caching.
func (c client) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	conn, err := c.getConnection()
	if err != nil {
		return err
	}
	if expiration < 0 {
		return nil
	}
	ba, err := encoding.DefaultMarshaler.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis setstruct marshal failed for key %s: %w", key, err)
	}
	if err := conn.Client.Set(ctx, key, ba, expiration).Err(); err != nil {
		return fmt.Errorf("redis setstruct failed for key %s: %w", key, err)
	}
	return nil
}

// GetStruct retrieves a struct value and unmarshals it into target.
func (c client) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	conn, err := c.getConnection()
	if err != nil {
		return false, err
	}
	if target == nil {
		return false, fmt.Errorf("target can't be nil")
	}
	ba, err := conn.Client.Get(ctx, key).Bytes()
	if err == nil {
		if err = encoding.DefaultMarshaler.Unmarshal(ba, target); err != nil {
			err = fmt.Errorf("redis getstruct unmarshal failed for key %s: %w", key, err)
		}
	}
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	} else if err != nil {
		err = fmt.Errorf("redis getstruct failed for key %s: %w", key, err)
	}
	return r, err
}

// GetStructEx retrieves a struct value with TTL behavior and unmarshals it into target.
func (c client) GetStructEx(ctx context.Context, key string, target interface{}, expiration time.Duration) (bool, error) {
	conn, err := c.getConnection()
	if err != nil {
		return false, err
	}
	if target == nil {
		return false, fmt.Errorf("target can't be nil")
	}
	ba, err := conn.Client.GetEx(ctx, key, expiration).Bytes()
	if err == nil {
		if err = encoding.DefaultMarshaler.Unmarshal(ba, target); err != nil {
			err = fmt.Errorf("redis getstructex unmarshal failed for key %s: %w", key, err)
		}
	}
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	} else if err != nil {
		err = fmt.Errorf("redis getstructex failed for key %s: %w", key, err)
	}
	return r, err
}

// SetStructs marshals and stores multiple struct values in a single pipelined round trip.
// The query cache does not use it; it writes single keys with Set.
func (c client) SetStructs(ctx context.Context, keys []string, values []interface{}, expiration time.Duration) error {
	if len(keys) != len(values) {
		return fmt.Errorf("keys and values length mismatch: %d != %d", len(keys), len(values))
	}
	conn, err := c.getConnection()
	if err != nil {
		return err
	}
	if expiration < 0 {
		return nil
	}
	pipe := conn.Client.Pipeline()
	for i, k := range keys {
		ba, err := encoding.DefaultMarshaler.Marshal(values[i])
		if err != nil {
			return fmt.Errorf("redis setstructs marshal failed for key %s: %w", k, err)
		}
		pipe.Set(ctx, k, ba, expiration)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis setstructs failed: %w", err)
	}
	return nil
}

// GetStructs retrieves multiple struct values in a single pipelined round trip, unmarshaling
// each into the corresponding entry in targets. The returned slice reports which keys were found.
func (c client) GetStructs(ctx context.Context, keys []string, targets []interface{}, expiration time.Duration) ([]bool, error) {
	if len(keys) != len(targets) {
		return nil, fmt.Errorf("keys and targets length mismatch: %d != %d", len(keys), len(targets))
	}
	conn, err := c.getConnection()
	if err != nil {
		return nil, err
	}
	pipe := conn.Client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		if expiration > 0 {
			cmds[i] = pipe.GetEx(ctx, k, expiration)
		} else {
			cmds[i] = pipe.Get(ctx, k)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis getstructs failed: %w", err)
	}
	found := make([]bool, len(keys))
	for i, cmd := range cmds {
		ba, err := cmd.Bytes()
		if err != nil {
			continue
		}
		if err := encoding.DefaultMarshaler.Unmarshal(ba, targets[i]); err == nil {
			found[i] = true
		}
	}
	return found, nil
}

// Delete removes keys and returns whether the operation completed without backend errors.
func (c client) Delete(ctx context.Context, keys []string) (bool, error) {
	conn, err := c.getConnection()
	if err != nil {
		return false, err
	}
	rs := conn.Client.Del(ctx, keys...)
	err = rs.Err()
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	} else if err != nil {
		err = fmt.Errorf("redis delete failed for keys %v: %w", keys, err)
	}
	return r, err
}

// IsRestarted returns true if the Redis server run_id has changed since the previous call.
func (c *client) IsRestarted(ctx context.Context) bool {
	return atomic.SwapInt64(&hasRestarted, 0) == 1
}

func init() {
	sqlcoord.RegisterCacheFactory(sqlcoord.Redis, NewClient)
	sqlcoord.SetCacheFactory(sqlcoord.Redis)
}
