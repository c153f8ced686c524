package lang

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"

	"github.com/ardnew/tagscript/log"
)

type signalKind int

const (
	sigBreak signalKind = iota
	sigContinue
	sigReturn
)

// signal carries break, continue and return out of nested execution.
// It travels as an error so every executor propagates it unchanged.
type signal struct {
	kind  signalKind
	value any
	at    Position
}

func (s *signal) Error() string {
	switch s.kind {
	case sigBreak:
		return "break"
	case sigContinue:
		return "continue"
	default:
		return "return"
	}
}

func asSignal(err error) (*signal, bool) {
	var s *signal

	ok := errors.As(err, &s)

	return s, ok
}

// Interp walks a template's nodes for one render. Control tag executors
// receive it to evaluate expressions, write output and run child nodes.
type Interp struct {
	ctx     context.Context
	engine  *Engine
	scope   *Context
	querier Querier
	logger  log.Logger

	out   *strings.Builder
	funcs map[string]*FuncDef

	source       string
	callDepth    int
	includeDepth int
	raw          int
	query        *queryState
}

// Context returns the render's context.
func (in *Interp) Context() context.Context { return in.ctx }

// Scope returns the execution context.
func (in *Interp) Scope() *Context { return in.scope }

// Logger returns the render's logger.
func (in *Interp) Logger() log.Logger { return in.logger }

// Eval evaluates e in the current execution context.
func (in *Interp) Eval(e *Expr) (any, error) { return e.Eval(in.scope) }

// Write appends s to the output without escaping.
func (in *Interp) Write(s string) { in.out.WriteString(s) }

// Exec executes nodes in order.
func (in *Interp) Exec(nodes []Node) error {
	for _, n := range nodes {
		if err := in.exec(n); err != nil {
			return err
		}
	}

	return nil
}

// Capture executes nodes and returns their output instead of writing it.
func (in *Interp) Capture(nodes []Node) (string, error) {
	saved := in.out
	in.out = new(strings.Builder)

	defer func() { in.out = saved }()

	if err := in.Exec(nodes); err != nil {
		return "", err
	}

	return in.out.String(), nil
}

func (in *Interp) exec(n Node) error {
	switch n := n.(type) {
	case *Text:
		in.out.WriteString(n.Value)

		return nil

	case *Binding:
		return in.execBinding(n)

	case *Markup:
		return in.execMarkup(n)

	case Control:
		spec, ok := in.engine.registry.Lookup(n.Tag())
		if !ok || spec.Exec == nil {
			return ErrUnknownTag.With(
				slog.String("tag", TagPrefix+n.Tag()),
			).WithPosition(n.Pos())
		}

		if in.query != nil && !spec.core {
			return ErrQueryText.With(
				slog.String("tag", TagPrefix+n.Tag()),
			).WithPosition(n.Pos())
		}

		err := spec.Exec(in, n)
		if _, ok := asSignal(err); ok {
			return err
		}

		return positioned(err, n.Pos())

	default:
		return ErrParse.With(
			slog.String("reason", "unexpected node"),
			slog.String("kind", n.Kind().String()),
		).WithPosition(n.Pos())
	}
}

// render evaluates a binding to text, escaping it unless raw.
func (in *Interp) render(b *Binding, escape func(string) string) (string, error) {
	// Bindings reached through t:call or t:include while a query body is
	// captured would splice values into the SQL text.
	if in.query != nil {
		return "", ErrQueryText.With(slog.String("expr", b.Expr.Source)).WithPosition(b.At)
	}

	v, err := b.Expr.Eval(in.scope)
	if err != nil {
		return "", positioned(err, b.At)
	}

	s, err := Stringify(v)
	if err != nil {
		return "", positioned(WrapError(err).With(slog.String("expr", b.Expr.Source)), b.At)
	}

	if b.Raw || in.raw > 0 {
		return s, nil
	}

	return escape(s), nil
}

func (in *Interp) execBinding(b *Binding) error {
	s, err := in.render(b, in.engine.escaper.Text)
	if err != nil {
		return err
	}

	in.out.WriteString(s)

	return nil
}

func (in *Interp) execMarkup(m *Markup) error {
	in.out.WriteByte('<')
	in.out.WriteString(m.Name)

	for _, a := range m.Attrs {
		in.out.WriteByte(' ')
		in.out.WriteString(a.Name)

		if a.Parts == nil {
			continue
		}

		in.out.WriteByte('=')
		in.out.WriteByte(a.Quote)

		for _, part := range a.Parts {
			switch p := part.(type) {
			case *Text:
				in.out.WriteString(p.Value)

			case *Binding:
				s, err := in.render(p, in.engine.escaper.Attr)
				if err != nil {
					return err
				}

				in.out.WriteString(s)
			}
		}

		in.out.WriteByte(a.Quote)
	}

	if m.SelfClosing {
		in.out.WriteString("/>")

		return nil
	}

	in.out.WriteByte('>')

	if m.Void {
		return nil
	}

	if err := in.Exec(m.Body); err != nil {
		return err
	}

	in.out.WriteString("</")
	in.out.WriteString(m.Name)
	in.out.WriteByte('>')

	return nil
}

// withScope runs fn inside a new frame of kind.
func (in *Interp) withScope(kind ScopeKind, fn func() error) error {
	if err := in.scope.Push(kind); err != nil {
		return err
	}

	err := fn()

	if perr := in.scope.Pop(kind); perr != nil && err == nil {
		err = perr
	}

	return err
}

// store writes a result variable either to an explicit scope or by the
// default write rule.
func (in *Interp) store(name string, kind ScopeKind, scoped bool, v any) error {
	if scoped {
		return in.scope.Write(kind, name, v)
	}

	in.scope.Assign(name, v)

	return nil
}

// hoist makes a template's functions callable. Earlier definitions win.
func (in *Interp) hoist(t *Template) {
	for _, f := range t.Functions {
		if _, ok := in.funcs[f.Name]; !ok {
			in.funcs[f.Name] = f
		}
	}
}

func execAssign(in *Interp, n Node) error {
	a := n.(*Assign)

	switch a.Op {
	case OpSet:
		v, err := a.Value.Eval(in.scope)
		if err != nil {
			return err
		}

		return in.store(a.Name, a.Scope, a.Scoped, v)

	case OpDefault:
		var (
			ok  bool
			err error
		)

		if a.Scoped {
			_, ok, err = in.scope.ReadScope(a.Scope, a.Name)
		} else {
			_, _, ok, err = in.scope.Lookup(a.Name)
		}

		if err != nil || ok {
			return err
		}

		if a.Value == nil {
			return ErrUndefined.With(
				slog.String("name", a.Name),
				slog.String("reason", "required parameter has no default"),
			)
		}

		v, err := a.Value.Eval(in.scope)
		if err != nil {
			return err
		}

		return in.store(a.Name, a.Scope, a.Scoped, v)

	default:
		var operand any

		if a.Value != nil {
			v, err := a.Value.Eval(in.scope)
			if err != nil {
				return err
			}

			operand = v
		}

		var kind *ScopeKind
		if a.Scoped {
			kind = &a.Scope
		}

		return in.scope.Apply(kind, a.Name, a.Op, operand)
	}
}

func execCond(in *Interp, n Node) error {
	c := n.(*Cond)

	for _, b := range c.Branches {
		ok, err := b.Test.EvalBool(in.scope)
		if err != nil {
			return positioned(err, b.At)
		}

		if ok {
			return in.Exec(b.Body)
		}
	}

	if c.HasElse {
		return in.Exec(c.Else)
	}

	return nil
}

func execRaw(in *Interp, n Node) error {
	in.raw++
	defer func() { in.raw-- }()

	return in.Exec(n.(*Raw).Body)
}

func execLoopControl(_ *Interp, n Node) error {
	l := n.(*LoopControl)

	if l.Break {
		return &signal{kind: sigBreak, at: l.At}
	}

	return &signal{kind: sigContinue, at: l.At}
}

func execReturn(in *Interp, n Node) error {
	r := n.(*Return)

	var v any

	if r.Value != nil {
		var err error
		if v, err = r.Value.Eval(in.scope); err != nil {
			return err
		}
	}

	return &signal{kind: sigReturn, value: v, at: r.At}
}

func execInclude(in *Interp, n Node) error {
	inc := n.(*Include)

	if in.includeDepth >= in.engine.maxIncludeDepth {
		return ErrCallDepth.With(
			slog.String("reason", "include depth"),
			slog.Int("limit", in.engine.maxIncludeDepth),
			slog.String("template", inc.Template),
		)
	}

	id := resolveInclude(in.source, inc.Template)

	t, err := in.engine.templates.Get(in.ctx, id)
	if err != nil {
		return err
	}

	in.hoist(t)

	saved := in.source
	in.source = id
	in.includeDepth++

	defer func() {
		in.source = saved
		in.includeDepth--
	}()

	return in.Exec(t.Nodes)
}

// resolveInclude resolves id relative to the including source's directory
// unless it is rooted.
func resolveInclude(from, id string) string {
	if strings.HasPrefix(id, "/") {
		return strings.TrimPrefix(path.Clean(id), "/")
	}

	return path.Join(path.Dir(from), id)
}
