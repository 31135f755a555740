package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sqlcoord/sessioncore"
)

// FormatLockKey prefixes the key with 'L' to form the namespaced Redis key used for locking,
// keeping lock keys out of the same namespace as cached values.
func (c client) FormatLockKey(k string) string {
	return fmt.Sprintf("L%s", k)
}

// CreateLockKeys allocates fresh LockIDs for each provided key name.
func (c client) CreateLockKeys(keys ...string) []*sqlcoord.LockKey {
	lockKeys := make([]*sqlcoord.LockKey, len(keys))
	for i := range keys {
		lockKeys[i] = &sqlcoord.LockKey{
			Key:    c.FormatLockKey(keys[i]),
			LockID: sqlcoord.NewUUID(),
		}
	}
	return lockKeys
}

// Lock attempts to atomically claim every key in lockKeys for duration, all-or-nothing. It
// pipelines SetNX across every key first, then for any that lost the race pipelines a Get
// to determine whether this process actually already owns it (a retry racing itself) versus
// another session holding the lock.
func (c client) Lock(ctx context.Context, duration time.Duration, lockKeys ...*sqlcoord.LockKey) (bool, error) {
	conn, err := c.getConnection()
	if err != nil {
		return false, err
	}

	pipe := conn.Client.Pipeline()
	setCmds := make([]*redis.BoolCmd, len(lockKeys))
	for i, lk := range lockKeys {
		setCmds[i] = pipe.SetNX(ctx, lk.Key, lk.LockID.String(), duration)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, err
	}

	var failedIndices []int
	for i, cmd := range setCmds {
		set, err := cmd.Result()
		if err != nil && err != redis.Nil {
			return false, err
		}
		if set {
			lockKeys[i].IsLockOwner = true
		} else {
			failedIndices = append(failedIndices, i)
		}
	}
	if len(failedIndices) == 0 {
		return true, nil
	}

	pipe = conn.Client.Pipeline()
	getCmds := make([]*redis.StringCmd, len(failedIndices))
	for i, idx := range failedIndices {
		getCmds[i] = pipe.Get(ctx, lockKeys[idx].Key)
	}
	_, _ = pipe.Exec(ctx)

	for i, cmd := range getCmds {
		idx := failedIndices[i]
		readItem, err := cmd.Result()
		if err != nil {
			if err == redis.Nil {
				// Lock was released/expired in the interim; treat as lost the race.
				return false, nil
			}
			return false, err
		}
		if readItem == lockKeys[idx].LockID.String() {
			lockKeys[idx].IsLockOwner = true
			continue
		}
		// Owned by a different session.
		return false, nil
	}
	return true, nil
}

// IsLocked reports whether all provided lock keys are currently owned by this process,
// pipelining the reads.
func (c client) IsLocked(ctx context.Context, lockKeys ...*sqlcoord.LockKey) (bool, error) {
	if len(lockKeys) == 0 {
		return true, nil
	}
	conn, err := c.getConnection()
	if err != nil {
		return false, err
	}

	pipe := conn.Client.Pipeline()
	cmds := make([]*redis.StringCmd, len(lockKeys))
	for i, lk := range lockKeys {
		cmds[i] = pipe.Get(ctx, lk.Key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, err
	}

	r := true
	var lastErr error
	for i, cmd := range cmds {
		lk := lockKeys[i]
		readItem, err := cmd.Result()
		if err != nil {
			lk.IsLockOwner = false
			r = false
			if err != redis.Nil {
				lastErr = err
			}
			continue
		}
		if readItem != lk.LockID.String() {
			lk.IsLockOwner = false
			r = false
			continue
		}
		lk.IsLockOwner = true
	}
	return r, lastErr
}

// IsLockedByOthers reports whether every named key is currently held, ownership aside — used
// to detect contention before attempting a lock acquisition that would just fail.
func (c client) IsLockedByOthers(ctx context.Context, lockKeyNames ...string) (bool, error) {
	if len(lockKeyNames) == 0 {
		return false, nil
	}
	conn, err := c.getConnection()
	if err != nil {
		return false, err
	}
	n, err := conn.Client.Exists(ctx, lockKeyNames...).Result()
	if err != nil {
		return false, err
	}
	return n == int64(len(lockKeyNames)), nil
}

// Unlock releases the provided lock keys, deleting only those owned by this process.
func (c client) Unlock(ctx context.Context, lockKeys ...*sqlcoord.LockKey) error {
	var keysToDelete []string
	for _, lk := range lockKeys {
		if lk.IsLockOwner {
			keysToDelete = append(keysToDelete, lk.Key)
		}
	}
	if len(keysToDelete) == 0 {
		return nil
	}
	_, err := c.Delete(ctx, keysToDelete)
	return err
}
