package lang

import (
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
)

// Builtins lists the expr-lang builtins available to template expressions.
// Everything else is disabled so the expression language stays closed.
var Builtins = []string{
	"len", "abs", "ceil", "floor", "round", "int", "float", "string",
	"upper", "lower", "trim", "trimPrefix", "trimSuffix",
	"split", "join", "replace", "repeat", "indexOf", "hasPrefix",
	"hasSuffix", "max", "min", "sum", "mean", "keys", "values", "first",
	"last", "sort", "reverse", "uniq", "filter", "map", "all", "any",
	"none", "count", "toJSON", "now", "date", "duration",
}

// Identifiers with meaning to the evaluator rather than the scope chain.
const (
	fnDiv       = "_div_"
	fnMod       = "_mod_"
	fnIsDefined = "isDefined"
	envIdent    = "$env"
)

// Expr is a compiled binding expression. It is immutable and safe for
// concurrent use; the environment is supplied per evaluation.
type Expr struct {
	Source string

	program *vm.Program

	// names holds the free identifiers the expression reads, in first-use
	// order. Scope names and isDefined appear here too.
	names []string

	// members records the literal keys read from session and application,
	// which are fetched from the store rather than enumerated.
	members map[string][]string
}

// compileOptions returns the expr-lang options shared by every expression.
func compileOptions(v *exprVisitor) []expr.Option {
	opts := []expr.Option{
		expr.DisableAllBuiltins(),
		expr.Function(fnDiv, divide, new(func(any, any) any)),
		expr.Function(fnMod, modulo, new(func(any, any) any)),
		expr.Patch(letVisitor{v}),
		expr.Patch(v),
	}

	for _, name := range Builtins {
		opts = append(opts, expr.EnableBuiltin(name))
	}

	return opts
}

// Compile compiles source into an Expr.
// Compilation does not need to know the variables in scope: identifiers are
// resolved through the execution context each time the expression runs.
func Compile(source string) (*Expr, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, ErrExprCompile.With(slog.String("expr", source)).
			Wrap(errors.New("empty expression"))
	}

	v := newExprVisitor()

	program, err := expr.Compile(trimmed, compileOptions(v)...)
	if err != nil {
		return nil, ErrExprCompile.With(slog.String("expr", source)).Wrap(err)
	}

	return &Expr{
		Source:  source,
		program: program,
		names:   v.free(),
		members: v.members,
	}, nil
}

// Names returns the free identifiers read by the expression.
func (e *Expr) Names() []string { return slices.Clone(e.names) }

func (e *Expr) String() string { return e.Source }

// Eval evaluates the expression against c.
func (e *Expr) Eval(c *Context) (any, error) {
	env, err := e.env(c)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(e.program, env)
	if err != nil {
		return nil, classify(e, err)
	}

	return out, nil
}

// EvalBool evaluates a condition. The result must be a boolean; no other
// type is coerced.
func (e *Expr) EvalBool(c *Context) (bool, error) {
	v, err := e.Eval(c)
	if err != nil {
		return false, err
	}

	b, ok := v.(bool)
	if !ok {
		return false, ErrTypeMismatch.With(
			slog.String("expr", e.Source),
			slog.String("want", "bool"),
			slog.String("got", typeName(v)),
		)
	}

	return b, nil
}

// env builds the evaluation environment from only the names the expression
// reads.
func (e *Expr) env(c *Context) (map[string]any, error) {
	env := make(map[string]any, len(e.names))

	for _, name := range e.names {
		if kind, ok := scopeByName[name]; ok {
			snap, err := c.Snapshot(kind, e.members[name]...)
			if err != nil {
				return nil, err
			}

			env[name] = snap

			continue
		}

		if name == fnIsDefined {
			env[name] = func(n string) bool {
				_, _, ok, err := c.Lookup(n)

				return ok && err == nil
			}

			continue
		}

		v, _, ok, err := c.Lookup(name)
		if err != nil {
			return nil, err
		}

		if !ok {
			if c.undefined == UndefinedStrict {
				return nil, ErrUndefined.With(
					slog.String("name", name),
					slog.String("expr", e.Source),
				)
			}

			v = nil
		}

		env[name] = v
	}

	return env, nil
}

// classify maps an expr-lang runtime error onto a sentinel.
func classify(e *Expr, err error) error {
	attr := slog.String("expr", e.Source)
	msg := err.Error()

	switch {
	case errors.Is(err, ErrDivisionByZero),
		strings.Contains(msg, ErrDivisionByZero.msg),
		strings.Contains(msg, "integer divide by zero"):
		return ErrDivisionByZero.With(attr).Wrap(err)

	case errors.Is(err, ErrTypeMismatch),
		strings.Contains(msg, "invalid operation"),
		strings.Contains(msg, "mismatched types"),
		strings.Contains(msg, "cannot use"),
		strings.Contains(msg, "cannot fetch"):
		return ErrTypeMismatch.With(attr).Wrap(err)

	default:
		return ErrExprEvaluate.With(attr).Wrap(err)
	}
}

// divide implements the / operator with an explicit zero check.
// Like expr-lang's own operator, the quotient is always a float.
func divide(params ...any) (any, error) {
	a, aok := toFloat(params[0])
	b, bok := toFloat(params[1])

	if !aok || !bok {
		return nil, ErrTypeMismatch.With(
			slog.String("operator", "/"),
			slog.String("left", typeName(params[0])),
			slog.String("right", typeName(params[1])),
		)
	}

	if b == 0 {
		return nil, ErrDivisionByZero
	}

	return a / b, nil
}

// modulo implements the % operator on integers.
func modulo(params ...any) (any, error) {
	a, aok := toInt(params[0])
	b, bok := toInt(params[1])

	if !aok || !bok {
		return nil, ErrTypeMismatch.With(
			slog.String("operator", "%"),
			slog.String("left", typeName(params[0])),
			slog.String("right", typeName(params[1])),
		)
	}

	if b == 0 {
		return nil, ErrDivisionByZero
	}

	return a % b, nil
}

// exprVisitor rewrites division operators into checked function calls and
// records the identifiers an expression reads.
//
// expr-lang may walk the tree more than once while applying patches, so the
// collected sets are deduplicated.
type exprVisitor struct {
	order   []string
	seen    map[string]bool
	lets    map[string]bool
	members map[string][]string
}

func newExprVisitor() *exprVisitor {
	return &exprVisitor{
		seen:    make(map[string]bool),
		lets:    make(map[string]bool),
		members: make(map[string][]string),
	}
}

// Visit implements ast.Visitor.
func (v *exprVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.BinaryNode:
		switch n.Operator {
		case "/":
			ast.Patch(node, &ast.CallNode{
				Callee:    &ast.IdentifierNode{Value: fnDiv},
				Arguments: []ast.Node{n.Left, n.Right},
			})
		case "%":
			ast.Patch(node, &ast.CallNode{
				Callee:    &ast.IdentifierNode{Value: fnMod},
				Arguments: []ast.Node{n.Left, n.Right},
			})
		}

	case *ast.IdentifierNode:
		if n.Value == envIdent {
			return
		}

		if !v.seen[n.Value] {
			v.seen[n.Value] = true
			v.order = append(v.order, n.Value)
		}

		// Builtin calls parse as BuiltinNode, so a bare identifier with a
		// builtin's name is a variable. Read it from the environment
		// explicitly or expr-lang binds the builtin function instead.
		if !v.lets[n.Value] && slices.Contains(Builtins, n.Value) {
			ast.Patch(node, &ast.MemberNode{
				Node:     &ast.IdentifierNode{Value: envIdent},
				Property: &ast.StringNode{Value: n.Value},
			})
		}

	case *ast.MemberNode:
		id, ok := n.Node.(*ast.IdentifierNode)
		if !ok {
			return
		}

		if kind, ok := scopeByName[id.Value]; !ok || !kind.external() {
			return
		}

		if key, ok := n.Property.(*ast.StringNode); ok &&
			!slices.Contains(v.members[id.Value], key.Value) {
			v.members[id.Value] = append(v.members[id.Value], key.Value)
		}
	}
}

// letVisitor records let-bound names before exprVisitor runs, since the
// walk reaches a let body before its declarator.
type letVisitor struct{ *exprVisitor }

// Visit implements ast.Visitor.
func (v letVisitor) Visit(node *ast.Node) {
	if n, ok := (*node).(*ast.VariableDeclaratorNode); ok {
		v.lets[n.Name] = true
	}
}

// free returns the collected identifiers that must come from the
// environment.
func (v *exprVisitor) free() []string {
	out := make([]string, 0, len(v.order))

	for _, name := range v.order {
		switch {
		case v.lets[name],
			name == fnDiv,
			name == fnMod:
			continue
		}

		out = append(out, name)
	}

	return out
}
