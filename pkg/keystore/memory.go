package keystore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/illmade-knight/backpack/pkg/types"
)

// Memory is an in-process KeyStore. It is used by tests and dry runs, and for
// single-process deployments that accept losing dedup state on restart.
type Memory struct {
	mu   sync.RWMutex
	keys map[types.DedupKey]struct{}
	// down simulates connectivity loss when set.
	down error
}

// NewMemory returns an empty store seeded with the given keys.
func NewMemory(seed ...types.DedupKey) *Memory {
	m := &Memory{keys: make(map[types.DedupKey]struct{})}
	for _, k := range seed {
		m.keys[k] = struct{}{}
	}
	return m
}

func (m *Memory) Contains(ctx context.Context, key types.DedupKey) (bool, error) {
	if err := m.check(ctx); err != nil {
		return false, unavailable("contains", key, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[key]
	return ok, nil
}

func (m *Memory) Insert(ctx context.Context, key types.DedupKey) error {
	if err := m.check(ctx); err != nil {
		return unavailable("insert", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = struct{}{}
	return nil
}

func (m *Memory) Close() error { return nil }

// SetUnavailable makes every following operation fail with err; nil restores service.
func (m *Memory) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = err
}

// Keys returns the stored keys in their "topic:id" form, sorted.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.keys))
	for k := range m.keys {
		out = append(out, k.String())
	}
	sort.Strings(out)
	return out
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down != nil {
		return m.down
	}
	return nil
}

// ErrSimulatedOutage is a convenience error for SetUnavailable.
var ErrSimulatedOutage = errors.New("memory store marked unavailable")
