// Package store provides in-memory backing for the session and application
// scopes of template renders.
package store

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/ardnew/tagscript/lang"
)

// ErrScope is returned when a store is asked for a scope it does not own.
var ErrScope = lang.NewError("scope not held by store")

type bucket struct {
	mu   sync.RWMutex
	vars map[string]any
}

func newBucket() *bucket { return &bucket{vars: make(map[string]any)} }

func (b *bucket) read(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok := b.vars[key]

	return v, ok
}

func (b *bucket) write(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.vars[key] = value
}

func (b *bucket) update(key string, fn func(any, bool) (any, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	old, ok := b.vars[key]

	v, err := fn(old, ok)
	if err != nil {
		return err
	}

	b.vars[key] = v

	return nil
}

func (b *bucket) delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.vars, key)
}

func (b *bucket) keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return slices.Sorted(maps.Keys(b.vars))
}

func (b *bucket) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.vars)
}

// Memory holds one session's variables and a (possibly shared) application
// map. It implements [lang.Store], [lang.Updater] and [lang.Lister].
type Memory struct {
	session     *bucket
	application *bucket
}

// NewMemory returns a store with its own session and application maps.
func NewMemory() *Memory {
	return &Memory{session: newBucket(), application: newBucket()}
}

func (m *Memory) bucket(kind lang.ScopeKind) (*bucket, error) {
	switch kind {
	case lang.ScopeSession:
		return m.session, nil
	case lang.ScopeApplication:
		return m.application, nil
	default:
		return nil, ErrScope.With(slog.String("scope", kind.String()))
	}
}

// Read implements [lang.Store].
func (m *Memory) Read(kind lang.ScopeKind, key string) (any, bool, error) {
	b, err := m.bucket(kind)
	if err != nil {
		return nil, false, err
	}

	v, ok := b.read(key)

	return v, ok, nil
}

// Write implements [lang.Store].
func (m *Memory) Write(kind lang.ScopeKind, key string, value any) error {
	b, err := m.bucket(kind)
	if err != nil {
		return err
	}

	b.write(key, value)

	return nil
}

// Update implements [lang.Updater]. fn runs with the key locked, so
// concurrent compound operations on one key do not lose updates.
func (m *Memory) Update(
	kind lang.ScopeKind,
	key string,
	fn func(old any, ok bool) (any, error),
) error {
	b, err := m.bucket(kind)
	if err != nil {
		return err
	}

	return b.update(key, fn)
}

// Keys implements [lang.Lister].
func (m *Memory) Keys(kind lang.ScopeKind) ([]string, error) {
	b, err := m.bucket(kind)
	if err != nil {
		return nil, err
	}

	return b.keys(), nil
}

// Delete removes key from the scope.
func (m *Memory) Delete(kind lang.ScopeKind, key string) error {
	b, err := m.bucket(kind)
	if err != nil {
		return err
	}

	b.delete(key)

	return nil
}
