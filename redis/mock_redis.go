package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/sqlcoord/sessioncore"
	"github.com/sqlcoord/sessioncore/encoding"
)

// mockCache is an in-memory sqlcoord.L2Cache used by unit tests that exercise the lock
// manager and query cache without a live Redis server.
type mockCache struct {
	values map[string]string
	locks  map[string]sqlcoord.UUID
}

// NewMockClient returns an in-memory L2Cache stand-in for Redis.
func NewMockClient() sqlcoord.L2Cache {
	return &mockCache{
		values: make(map[string]string),
		locks:  make(map[string]sqlcoord.UUID),
	}
}

func (m *mockCache) Ping(ctx context.Context) error { return nil }

func (m *mockCache) Clear(ctx context.Context) error {
	m.values = make(map[string]string)
	m.locks = make(map[string]sqlcoord.UUID)
	return nil
}

func (m *mockCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if expiration < 0 {
		return nil
	}
	m.values[key] = value
	return nil
}

func (m *mockCache) Get(ctx context.Context, key string) (bool, string, error) {
	v, ok := m.values[key]
	return ok, v, nil
}

func (m *mockCache) GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error) {
	return m.Get(ctx, key)
}

func (m *mockCache) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if expiration < 0 {
		return nil
	}
	ba, err := encoding.DefaultMarshaler.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = string(ba)
	return nil
}

func (m *mockCache) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	v, ok := m.values[key]
	if !ok {
		return false, nil
	}
	return true, encoding.DefaultMarshaler.Unmarshal([]byte(v), target)
}

func (m *mockCache) GetStructEx(ctx context.Context, key string, target interface{}, expiration time.Duration) (bool, error) {
	return m.GetStruct(ctx, key, target)
}

func (m *mockCache) SetStructs(ctx context.Context, keys []string, values []interface{}, expiration time.Duration) error {
	for i, k := range keys {
		if err := m.SetStruct(ctx, k, values[i], expiration); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockCache) GetStructs(ctx context.Context, keys []string, targets []interface{}, expiration time.Duration) ([]bool, error) {
	found := make([]bool, len(keys))
	for i, k := range keys {
		ok, err := m.GetStruct(ctx, k, targets[i])
		if err != nil {
			return found, err
		}
		found[i] = ok
	}
	return found, nil
}

func (m *mockCache) Delete(ctx context.Context, keys []string) (bool, error) {
	for _, k := range keys {
		delete(m.values, k)
	}
	return true, nil
}

func (m *mockCache) FormatLockKey(k string) string {
	return fmt.Sprintf("L%s", k)
}

func (m *mockCache) CreateLockKeys(keys ...string) []*sqlcoord.LockKey {
	lockKeys := make([]*sqlcoord.LockKey, len(keys))
	for i := range keys {
		lockKeys[i] = &sqlcoord.LockKey{
			Key:    m.FormatLockKey(keys[i]),
			LockID: sqlcoord.NewUUID(),
		}
	}
	return lockKeys
}

func (m *mockCache) Lock(ctx context.Context, duration time.Duration, lockKeys ...*sqlcoord.LockKey) (bool, error) {
	for _, lk := range lockKeys {
		if owner, ok := m.locks[lk.Key]; ok && owner != lk.LockID {
			return false, nil
		}
	}
	for _, lk := range lockKeys {
		m.locks[lk.Key] = lk.LockID
		lk.IsLockOwner = true
	}
	return true, nil
}

func (m *mockCache) Unlock(ctx context.Context, lockKeys ...*sqlcoord.LockKey) error {
	for _, lk := range lockKeys {
		if lk.IsLockOwner {
			delete(m.locks, lk.Key)
		}
	}
	return nil
}

func (m *mockCache) IsLocked(ctx context.Context, lockKeys ...*sqlcoord.LockKey) (bool, error) {
	for _, lk := range lockKeys {
		owner, ok := m.locks[lk.Key]
		if !ok || owner != lk.LockID {
			return false, nil
		}
	}
	return true, nil
}

func (m *mockCache) IsLockedByOthers(ctx context.Context, lockKeyNames ...string) (bool, error) {
	for _, k := range lockKeyNames {
		if _, ok := m.locks[k]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (m *mockCache) IsRestarted(ctx context.Context) bool {
	return false
}
