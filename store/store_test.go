package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/tagscript/lang"
)

var (
	_ lang.Store   = (*Memory)(nil)
	_ lang.Updater = (*Memory)(nil)
	_ lang.Lister  = (*Memory)(nil)
)

func TestMemoryReadWrite(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Write(lang.ScopeSession, "user", "ann"))
	require.NoError(t, m.Write(lang.ScopeApplication, "hits", 3))

	v, ok, err := m.Read(lang.ScopeSession, "user")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ann", v)

	_, ok, err = m.Read(lang.ScopeApplication, "user")
	require.NoError(t, err)
	assert.False(t, ok, "scopes must not share keys")

	keys, err := m.Keys(lang.ScopeApplication)
	require.NoError(t, err)
	assert.Equal(t, []string{"hits"}, keys)

	require.NoError(t, m.Delete(lang.ScopeSession, "user"))

	_, ok, _ = m.Read(lang.ScopeSession, "user")
	assert.False(t, ok)
}

func TestMemoryRejectsLocalScopes(t *testing.T) {
	m := NewMemory()

	for _, kind := range []lang.ScopeKind{lang.ScopeRequest, lang.ScopeBlock} {
		err := m.Write(kind, "x", 1)
		assert.ErrorIs(t, err, ErrScope, kind.String())

		_, _, err = m.Read(kind, "x")
		assert.ErrorIs(t, err, ErrScope, kind.String())
	}
}

func TestMemoryUpdateIsAtomic(t *testing.T) {
	m := NewMemory()

	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := m.Update(lang.ScopeApplication, "n", func(old any, ok bool) (any, error) {
				if !ok {
					return 1, nil
				}

				return old.(int) + 1, nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	v, _, err := m.Read(lang.ScopeApplication, "n")
	require.NoError(t, err)
	assert.Equal(t, 100, v)
}

func TestMemoryUpdateErrorLeavesValue(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Write(lang.ScopeSession, "n", 1))

	boom := errors.New("boom")
	err := m.Update(lang.ScopeSession, "n", func(any, bool) (any, error) { return 2, boom })
	require.ErrorIs(t, err, boom)

	v, _, _ := m.Read(lang.ScopeSession, "n")
	assert.Equal(t, 1, v)
}

func TestManagerSharesApplication(t *testing.T) {
	mgr := NewManager()

	a := mgr.Session("a")
	b := mgr.Session("b")

	require.NoError(t, a.Write(lang.ScopeApplication, "greeting", "hi"))
	require.NoError(t, a.Write(lang.ScopeSession, "name", "ann"))

	v, ok, _ := b.Read(lang.ScopeApplication, "greeting")
	assert.True(t, ok)
	assert.Equal(t, "hi", v)

	_, ok, _ = b.Read(lang.ScopeSession, "name")
	assert.False(t, ok, "sessions must be isolated")

	assert.Same(t, a, mgr.Session("a"))
	assert.Equal(t, 2, mgr.Len())
	assert.Equal(t, 1, mgr.ApplicationLen())

	v, _, _ = mgr.Application().Read(lang.ScopeApplication, "greeting")
	assert.Equal(t, "hi", v)
}

func TestManagerNewSessionAndEnd(t *testing.T) {
	mgr := NewManager()

	id, s := mgr.NewSession()
	require.NotEmpty(t, id)
	assert.Same(t, s, mgr.Session(id))

	mgr.End(id)
	assert.Equal(t, 0, mgr.Len())
	assert.NotSame(t, s, mgr.Session(id))
}

func TestManagerSweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr := NewManager(WithClock(func() time.Time { return now }))

	mgr.Session("old")

	now = now.Add(10 * time.Minute)
	mgr.Session("new")

	now = now.Add(time.Minute)

	assert.Equal(t, 1, mgr.Sweep(t.Context(), 5*time.Minute))
	assert.Equal(t, 1, mgr.Len())

	now = now.Add(time.Hour)

	assert.Equal(t, 1, mgr.Sweep(t.Context(), 5*time.Minute))
	assert.Equal(t, 0, mgr.Len())
}

func TestManagerWithEngine(t *testing.T) {
	mgr := NewManager()
	e := lang.New(lang.NewMemoryLoader(map[string]string{
		"count.html": `<t:set name="visits" value="(visits ?? 0) + 1" scope="session"/>` +
			`<t:set name="total" value="(total ?? 0) + 1" scope="application"/>` +
			`{session.visits}/{application.total}`,
	}), lang.WithUndefinedPolicy(lang.UndefinedEmpty))

	render := func(id string) string {
		t.Helper()

		out, err := e.Render(t.Context(), lang.Request{Source: "count.html", Store: mgr.Session(id)})
		require.NoError(t, err)

		return out
	}

	assert.Equal(t, "1/1", render("a"))
	assert.Equal(t, "2/2", render("a"))
	assert.Equal(t, "1/3", render("b"))
}
