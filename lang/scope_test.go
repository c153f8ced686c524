package lang

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"
)

// mapStore is an in-memory Store, Updater and Lister for tests.
type mapStore struct {
	mu   sync.Mutex
	data map[ScopeKind]map[string]any
}

func newMapStore() *mapStore {
	return &mapStore{data: map[ScopeKind]map[string]any{
		ScopeSession:     {},
		ScopeApplication: {},
	}}
}

func (s *mapStore) Read(kind ScopeKind, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[kind][key]

	return v, ok, nil
}

func (s *mapStore) Write(kind ScopeKind, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[kind][key] = value

	return nil
}

func (s *mapStore) Update(kind ScopeKind, key string, fn func(any, bool) (any, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.data[kind][key]

	v, err := fn(old, ok)
	if err != nil {
		return err
	}

	s.data[kind][key] = v

	return nil
}

func (s *mapStore) Keys(kind ScopeKind) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.data[kind])), nil
}

func TestParseScopeKind(t *testing.T) {
	tests := []struct {
		in   string
		want ScopeKind
		ok   bool
	}{
		{"local", ScopeBlock, true},
		{"block", ScopeBlock, true},
		{"arguments", ScopeFunction, true},
		{"function", ScopeFunction, true},
		{"variables", ScopeComponent, true},
		{" Component ", ScopeComponent, true},
		{"request", ScopeRequest, true},
		{"session", ScopeSession, true},
		{"APPLICATION", ScopeApplication, true},
		{"global", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseScopeKind(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseScopeKind(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestContextAssign(t *testing.T) {
	c := NewContext(nil, nil)
	c.Assign("a", 1)

	if err := c.Push(ScopeBlock); err != nil {
		t.Fatal(err)
	}

	// Existing name is updated where it lives.
	c.Assign("a", 2)
	// New name is created in the innermost frame.
	c.Assign("b", 3)

	if err := c.Pop(ScopeBlock); err != nil {
		t.Fatal(err)
	}

	if v, err := c.Read("a"); err != nil || v != 2 {
		t.Errorf("a = %v, %v; want 2", v, err)
	}

	if _, err := c.Read("b"); !errors.Is(err, ErrUndefined) {
		t.Errorf("b should be gone with its frame, got %v", err)
	}
}

func TestContextDeclareShadows(t *testing.T) {
	c := NewContext(nil, nil)
	c.Assign("x", "outer")

	_ = c.Push(ScopeBlock)
	c.Declare("x", "inner")

	if v, _ := c.Read("x"); v != "inner" {
		t.Errorf("x = %v, want inner", v)
	}

	_ = c.Pop(ScopeBlock)

	if v, _ := c.Read("x"); v != "outer" {
		t.Errorf("x = %v, want outer", v)
	}
}

func TestContextFunctionFrameHidesCaller(t *testing.T) {
	c := NewContext(map[string]any{"r": "req"}, nil)
	c.Assign("x", 1)

	_ = c.Push(ScopeFunction)
	c.Declare("arg", true)
	_ = c.Push(ScopeBlock)

	if _, _, ok, _ := c.Lookup("x"); ok {
		t.Error("caller block variable visible inside function")
	}

	if v, kind, ok, _ := c.Lookup("arg"); !ok || v != true || kind != ScopeFunction {
		t.Errorf("arg = %v, %v, %v", v, kind, ok)
	}

	if v, kind, ok, _ := c.Lookup("r"); !ok || v != "req" || kind != ScopeRequest {
		t.Errorf("r = %v, %v, %v", v, kind, ok)
	}

	// Unscoped writes land in the function body's block frame.
	c.Assign("x", 2)
	_ = c.Pop(ScopeBlock)
	_ = c.Pop(ScopeFunction)

	if v, _ := c.Read("x"); v != 1 {
		t.Errorf("caller x = %v, want 1", v)
	}
}

func TestContextPrecedence(t *testing.T) {
	tests := []struct {
		name string
		held []ScopeKind
		want ScopeKind
	}{
		{"local over component", []ScopeKind{ScopeComponent, ScopeBlock}, ScopeBlock},
		{"component over request", []ScopeKind{ScopeRequest, ScopeComponent}, ScopeComponent},
		{"request over session", []ScopeKind{ScopeSession, ScopeRequest}, ScopeRequest},
		{"session over application", []ScopeKind{ScopeApplication, ScopeSession}, ScopeSession},
		{"application alone", []ScopeKind{ScopeApplication}, ScopeApplication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext(nil, newMapStore())
			_ = c.Push(ScopeBlock)

			for _, kind := range tt.held {
				if err := c.Write(kind, "k", kind.String()); err != nil {
					t.Fatalf("write %v: %v", kind, err)
				}
			}

			v, kind, ok, err := c.Lookup("k")
			if err != nil || !ok {
				t.Fatalf("lookup k: %v, %v", ok, err)
			}

			if kind != tt.want || v != tt.want.String() {
				t.Errorf("k = %v from %v, want %v", v, kind, tt.want)
			}
		})
	}
}

func TestContextPopRevealsComponent(t *testing.T) {
	c := NewContext(nil, nil)

	if err := c.Write(ScopeComponent, "k", "component"); err != nil {
		t.Fatal(err)
	}

	_ = c.Push(ScopeBlock)
	c.Declare("k", "local")

	if v, kind, _, _ := c.Lookup("k"); v != "local" || kind != ScopeBlock {
		t.Errorf("inside block: k = %v from %v", v, kind)
	}

	_ = c.Pop(ScopeBlock)

	if v, kind, _, _ := c.Lookup("k"); v != "component" || kind != ScopeComponent {
		t.Errorf("after pop: k = %v from %v", v, kind)
	}
}

func TestContextPushPop(t *testing.T) {
	c := NewContext(nil, nil)

	if err := c.Pop(ScopeBlock); !errors.Is(err, ErrScope) {
		t.Errorf("popping the root frame: got %v", err)
	}

	if err := c.Push(ScopeSession); !errors.Is(err, ErrScope) {
		t.Errorf("pushing a session frame: got %v", err)
	}

	_ = c.Push(ScopeFunction)

	if err := c.Pop(ScopeBlock); !errors.Is(err, ErrScope) {
		t.Errorf("mismatched pop: got %v", err)
	}

	if c.Depth() != 2 {
		t.Errorf("depth = %d, want 2", c.Depth())
	}
}

func TestContextWrite(t *testing.T) {
	store := newMapStore()
	c := NewContext(nil, store)

	if err := c.Write(ScopeFunction, "a", 1); !errors.Is(err, ErrScope) {
		t.Errorf("function write outside a function: got %v", err)
	}

	for _, kind := range []ScopeKind{ScopeBlock, ScopeComponent, ScopeRequest, ScopeSession, ScopeApplication} {
		if err := c.Write(kind, "k", kind.String()); err != nil {
			t.Fatalf("write %v: %v", kind, err)
		}

		v, ok, err := c.ReadScope(kind, "k")
		if err != nil || !ok || v != kind.String() {
			t.Errorf("read %v = %v, %v, %v", kind, v, ok, err)
		}
	}

	// Block shadows everything else.
	if v, kind, _, _ := c.Lookup("k"); v != "local" || kind != ScopeBlock {
		t.Errorf("lookup k = %v from %v", v, kind)
	}
}

func TestContextApply(t *testing.T) {
	store := newMapStore()
	store.data[ScopeSession]["n"] = 1

	c := NewContext(nil, store)
	c.Assign("s", "ab")

	kind := ScopeSession
	if err := c.Apply(&kind, "n", OpAdd, 4); err != nil {
		t.Fatal(err)
	}

	if store.data[ScopeSession]["n"] != 5 {
		t.Errorf("session n = %v, want 5", store.data[ScopeSession]["n"])
	}

	if err := c.Apply(nil, "s", OpPrepend, ">"); err != nil {
		t.Fatal(err)
	}

	if v, _ := c.Read("s"); v != ">ab" {
		t.Errorf("s = %v, want >ab", v)
	}

	if err := c.Apply(&kind, "missing", OpIncrement, nil); !errors.Is(err, ErrUndefined) {
		t.Errorf("apply on missing key: got %v", err)
	}
}

func TestContextSnapshot(t *testing.T) {
	store := newMapStore()
	store.data[ScopeApplication]["a"] = 1
	store.data[ScopeApplication]["b"] = 2

	c := NewContext(nil, store)
	c.Assign("x", 1)
	_ = c.Push(ScopeBlock)
	c.Declare("x", 2)
	c.Declare("y", 3)

	local, err := c.Snapshot(ScopeBlock)
	if err != nil {
		t.Fatal(err)
	}

	if !maps.Equal(local, map[string]any{"x": 2, "y": 3}) {
		t.Errorf("local = %v", local)
	}

	app, err := c.Snapshot(ScopeApplication)
	if err != nil {
		t.Fatal(err)
	}

	if len(app) != 2 {
		t.Errorf("application = %v, want both keys", app)
	}
}
