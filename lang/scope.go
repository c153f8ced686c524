package lang

import (
	"log/slog"
	"maps"
	"strings"
)

// ScopeKind names one layer of the variable scope chain.
type ScopeKind int

// Scope kinds in read precedence order, narrowest first.
const (
	ScopeBlock ScopeKind = iota
	ScopeFunction
	ScopeComponent
	ScopeRequest
	ScopeSession
	ScopeApplication
)

var scopeNames = [...]string{
	ScopeBlock:       "local",
	ScopeFunction:    "arguments",
	ScopeComponent:   "variables",
	ScopeRequest:     "request",
	ScopeSession:     "session",
	ScopeApplication: "application",
}

// scopeByName maps the identifier used in expressions to its scope.
var scopeByName = map[string]ScopeKind{
	"local":       ScopeBlock,
	"arguments":   ScopeFunction,
	"variables":   ScopeComponent,
	"request":     ScopeRequest,
	"session":     ScopeSession,
	"application": ScopeApplication,
}

func (k ScopeKind) String() string {
	if k >= 0 && int(k) < len(scopeNames) {
		return scopeNames[k]
	}

	return "unknown"
}

// external reports whether the scope is owned by a [Store].
func (k ScopeKind) external() bool {
	return k == ScopeSession || k == ScopeApplication
}

// ParseScopeKind parses a scope name as written in a scope= attribute.
// Besides the expression names, "block", "function" and "component" are
// accepted.
func ParseScopeKind(s string) (ScopeKind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))

	switch s {
	case "block":
		return ScopeBlock, true
	case "function":
		return ScopeFunction, true
	case "component":
		return ScopeComponent, true
	}

	k, ok := scopeByName[s]

	return k, ok
}

// isReservedName reports whether name may not be used as a variable.
func isReservedName(name string) bool {
	_, ok := scopeByName[name]

	return ok || name == fnIsDefined
}

// Store holds session and application variables outside the engine.
// Implementations must be safe for concurrent use.
type Store interface {
	Read(kind ScopeKind, key string) (any, bool, error)
	Write(kind ScopeKind, key string, value any) error
}

// Updater is implemented by stores that can apply a read-modify-write
// atomically for a single key. Compound operations use it when available.
type Updater interface {
	Update(
		kind ScopeKind,
		key string,
		fn func(old any, ok bool) (any, error),
	) error
}

// Lister is implemented by stores that can enumerate a scope. Without it,
// session and application snapshots contain only the keys an expression
// names literally.
type Lister interface {
	Keys(kind ScopeKind) ([]string, error)
}

// UndefinedPolicy decides how expressions treat names that resolve nowhere.
type UndefinedPolicy int

const (
	// UndefinedStrict fails evaluation with [ErrUndefined].
	UndefinedStrict UndefinedPolicy = iota
	// UndefinedEmpty evaluates undefined names to nil, which renders as "".
	UndefinedEmpty
)

func (p UndefinedPolicy) String() string {
	if p == UndefinedEmpty {
		return "empty"
	}

	return "strict"
}

// ParseUndefinedPolicy parses "strict" or "empty".
func ParseUndefinedPolicy(s string) (UndefinedPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return UndefinedStrict, true
	case "empty":
		return UndefinedEmpty, true
	default:
		return UndefinedStrict, false
	}
}

type frame struct {
	kind ScopeKind
	vars map[string]any
}

// Context is the execution context of one render: a stack of block and
// function frames over the component, request, session and application
// scopes. A Context must not be shared between renders.
type Context struct {
	frames    []*frame
	component map[string]any
	request   map[string]any
	store     Store
	undefined UndefinedPolicy
}

// NewContext creates a context with a single root block frame.
// The request map is used as-is and may be nil. A nil store leaves session
// and application empty and rejects writes to them.
func NewContext(request map[string]any, store Store) *Context {
	if request == nil {
		request = make(map[string]any)
	}

	return &Context{
		frames:    []*frame{{kind: ScopeBlock, vars: make(map[string]any)}},
		component: make(map[string]any),
		request:   request,
		store:     store,
	}
}

// SetUndefinedPolicy selects how undefined names evaluate.
func (c *Context) SetUndefinedPolicy(p UndefinedPolicy) { c.undefined = p }

// Push opens a new block or function frame.
func (c *Context) Push(kind ScopeKind) error {
	if kind != ScopeBlock && kind != ScopeFunction {
		return ErrScope.With(
			slog.String("reason", "only block and function scopes nest"),
			slog.String("scope", kind.String()),
		)
	}

	c.frames = append(c.frames, &frame{kind: kind, vars: make(map[string]any)})

	return nil
}

// Pop closes the innermost frame, which must be of the given kind.
// The root block frame cannot be popped.
func (c *Context) Pop(kind ScopeKind) error {
	n := len(c.frames)
	if n <= 1 || c.frames[n-1].kind != kind {
		return ErrScope.With(
			slog.String("reason", "unbalanced scope pop"),
			slog.String("scope", kind.String()),
		)
	}

	c.frames[n-1] = nil
	c.frames = c.frames[:n-1]

	return nil
}

// Depth returns the number of open frames, including the root.
func (c *Context) Depth() int { return len(c.frames) }

// visible returns the frames a lookup may see, innermost first. Frames below
// the nearest function frame belong to the caller and are hidden.
func (c *Context) visible(yield func(*frame) bool) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		f := c.frames[i]
		if !yield(f) || f.kind == ScopeFunction {
			return
		}
	}
}

// Lookup resolves name through the scope chain in precedence order and
// reports which scope held it.
func (c *Context) Lookup(name string) (any, ScopeKind, bool, error) {
	var (
		val   any
		kind  ScopeKind
		found bool
	)

	c.visible(func(f *frame) bool {
		val, found = f.vars[name]
		kind = f.kind

		return !found
	})

	if found {
		return val, kind, true, nil
	}

	if v, ok := c.component[name]; ok {
		return v, ScopeComponent, true, nil
	}

	if v, ok := c.request[name]; ok {
		return v, ScopeRequest, true, nil
	}

	if c.store != nil {
		for _, k := range []ScopeKind{ScopeSession, ScopeApplication} {
			v, ok, err := c.store.Read(k, name)
			if err != nil {
				return nil, k, false, ErrScope.Wrap(err).
					With(slog.String("scope", k.String()))
			}

			if ok {
				return v, k, true, nil
			}
		}
	}

	return nil, 0, false, nil
}

// Read resolves name or fails with [ErrUndefined].
func (c *Context) Read(name string) (any, error) {
	v, _, ok, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, ErrUndefined.With(slog.String("name", name))
	}

	return v, nil
}

// ReadScope reads name from one specific scope.
func (c *Context) ReadScope(kind ScopeKind, name string) (any, bool, error) {
	switch kind {
	case ScopeBlock, ScopeFunction:
		f := c.nearest(kind)
		if f == nil {
			return nil, false, nil
		}

		v, ok := f.vars[name]

		return v, ok, nil

	case ScopeComponent:
		v, ok := c.component[name]

		return v, ok, nil

	case ScopeRequest:
		v, ok := c.request[name]

		return v, ok, nil

	case ScopeSession, ScopeApplication:
		if c.store == nil {
			return nil, false, nil
		}

		v, ok, err := c.store.Read(kind, name)
		if err != nil {
			return nil, false, ErrScope.Wrap(err).
				With(slog.String("scope", kind.String()))
		}

		return v, ok, nil

	default:
		return nil, false, ErrScope.With(slog.Int("scope", int(kind)))
	}
}

// nearest returns the innermost visible frame of kind.
func (c *Context) nearest(kind ScopeKind) *frame {
	var found *frame

	c.visible(func(f *frame) bool {
		if f.kind == kind {
			found = f
		}

		return found == nil
	})

	return found
}

// Write stores value under name in the given scope.
func (c *Context) Write(kind ScopeKind, name string, value any) error {
	switch kind {
	case ScopeBlock, ScopeFunction:
		f := c.nearest(kind)
		if f == nil {
			return ErrScope.With(
				slog.String("reason", "no enclosing scope"),
				slog.String("scope", kind.String()),
				slog.String("name", name),
			)
		}

		f.vars[name] = value

	case ScopeComponent:
		c.component[name] = value

	case ScopeRequest:
		c.request[name] = value

	case ScopeSession, ScopeApplication:
		if c.store == nil {
			return ErrScope.With(
				slog.String("reason", "no store configured"),
				slog.String("scope", kind.String()),
			)
		}

		if err := c.store.Write(kind, name, value); err != nil {
			return ErrScope.Wrap(err).With(slog.String("scope", kind.String()))
		}

	default:
		return ErrScope.With(slog.Int("scope", int(kind)))
	}

	return nil
}

// Assign performs an unscoped write: the nearest visible block or function
// frame already holding name is updated; otherwise name is created in the
// innermost block frame.
func (c *Context) Assign(name string, value any) {
	var target *frame

	c.visible(func(f *frame) bool {
		if _, ok := f.vars[name]; ok {
			target = f
		}

		return target == nil
	})

	if target == nil {
		target = c.frames[len(c.frames)-1]
	}

	target.vars[name] = value
}

// Declare creates name in the innermost frame, shadowing outer bindings.
// Loop variables and function arguments are declared this way.
func (c *Context) Declare(name string, value any) {
	c.frames[len(c.frames)-1].vars[name] = value
}

// Apply performs a compound operation on an existing variable. With a nil
// kind the variable is modified wherever it currently resolves.
func (c *Context) Apply(kind *ScopeKind, name string, op Op, operand any) error {
	target := ScopeBlock

	if kind != nil {
		target = *kind
	} else {
		_, k, ok, err := c.Lookup(name)
		if err != nil {
			return err
		}

		if !ok {
			return ErrUndefined.With(
				slog.String("name", name),
				slog.String("op", op.String()),
			)
		}

		target = k
	}

	if target.external() {
		if u, ok := c.store.(Updater); ok {
			err := u.Update(target, name, func(old any, ok bool) (any, error) {
				if !ok {
					return nil, ErrUndefined.With(
						slog.String("name", name),
						slog.String("scope", target.String()),
					)
				}

				return op.apply(old, operand)
			})
			if err != nil {
				return WrapError(err).With(slog.String("name", name))
			}

			return nil
		}
	}

	old, ok, err := c.ReadScope(target, name)
	if err != nil {
		return err
	}

	if !ok {
		return ErrUndefined.With(
			slog.String("name", name),
			slog.String("scope", target.String()),
		)
	}

	v, err := op.apply(old, operand)
	if err != nil {
		return WrapError(err).With(slog.String("name", name))
	}

	if kind == nil && (target == ScopeBlock || target == ScopeFunction) {
		c.Assign(name, v)

		return nil
	}

	return c.Write(target, name, v)
}

// Snapshot returns a copy of one scope as a map. For session and application
// only the listed keys are fetched unless the store implements [Lister].
// Block and function snapshots merge every visible frame of that kind,
// inner frames shadowing outer ones.
func (c *Context) Snapshot(kind ScopeKind, keys ...string) (map[string]any, error) {
	switch kind {
	case ScopeBlock, ScopeFunction:
		var stack []*frame

		c.visible(func(f *frame) bool {
			if f.kind == kind {
				stack = append(stack, f)
			}

			return true
		})

		out := make(map[string]any)
		for i := len(stack) - 1; i >= 0; i-- {
			maps.Copy(out, stack[i].vars)
		}

		return out, nil

	case ScopeComponent:
		return maps.Clone(c.component), nil

	case ScopeRequest:
		return maps.Clone(c.request), nil

	case ScopeSession, ScopeApplication:
		out := make(map[string]any)
		if c.store == nil {
			return out, nil
		}

		if l, ok := c.store.(Lister); ok {
			all, err := l.Keys(kind)
			if err != nil {
				return nil, ErrScope.Wrap(err).
					With(slog.String("scope", kind.String()))
			}

			keys = all
		}

		for _, key := range keys {
			v, ok, err := c.store.Read(kind, key)
			if err != nil {
				return nil, ErrScope.Wrap(err).
					With(slog.String("scope", kind.String()))
			}

			if ok {
				out[key] = v
			}
		}

		return out, nil

	default:
		return nil, ErrScope.With(slog.Int("scope", int(kind)))
	}
}
