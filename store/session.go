package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ardnew/tagscript/log"
)

type session struct {
	store *Memory
	seen  atomic.Int64 // unix nanoseconds
}

// Manager hands out per-session stores that share one application map.
type Manager struct {
	application *bucket
	sessions    sync.Map // id -> *session

	logger log.Logger
	now    func() time.Time
}

// Option configures a [Manager].
type Option func(*Manager)

// WithLogger sets the logger used for session lifecycle events.
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock replaces the time source used to track session activity.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns a manager with an empty application scope.
func NewManager(opts ...Option) *Manager {
	m := &Manager{application: newBucket(), now: time.Now}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// NewSession creates a session with a random id.
func (m *Manager) NewSession() (string, *Memory) {
	id := uuid.NewString()

	return id, m.Session(id)
}

// Session returns the store for id, creating the session if needed, and
// marks it active.
func (m *Manager) Session(id string) *Memory {
	fresh := &session{store: &Memory{session: newBucket(), application: m.application}}

	v, loaded := m.sessions.LoadOrStore(id, fresh)
	s := v.(*session)
	s.seen.Store(m.now().UnixNano())

	if !loaded {
		m.logger.Debug("session started", slog.String("session", id))
	}

	return s.store
}

// End discards a session.
func (m *Manager) End(id string) {
	if _, ok := m.sessions.LoadAndDelete(id); ok {
		m.logger.Debug("session ended", slog.String("session", id))
	}
}

// Sweep ends every session idle for longer than maxIdle and returns how many
// were removed.
func (m *Manager) Sweep(ctx context.Context, maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle).UnixNano()
	n := 0

	m.sessions.Range(func(k, v any) bool {
		if v.(*session).seen.Load() < cutoff {
			if m.sessions.CompareAndDelete(k, v) {
				n++
			}
		}

		return ctx.Err() == nil
	})

	if n > 0 {
		m.logger.DebugContext(ctx, "swept sessions",
			slog.Int("removed", n),
			slog.Duration("max_idle", maxIdle))
	}

	return n
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	n := 0

	m.sessions.Range(func(_, _ any) bool {
		n++

		return true
	})

	return n
}

// Application returns a store view of the shared application scope. Its
// session scope is empty and private to the returned value.
func (m *Manager) Application() *Memory {
	return &Memory{session: newBucket(), application: m.application}
}

// ApplicationLen returns the number of application variables.
func (m *Manager) ApplicationLen() int { return m.application.len() }
