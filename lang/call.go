package lang

import (
	"log/slog"
	"maps"
	"slices"
)

// DefaultMaxCallDepth caps function recursion.
const DefaultMaxCallDepth = 256

func execCall(in *Interp, n Node) error {
	c := n.(*Call)

	f, ok := in.funcs[c.Name]
	if !ok {
		err := ErrFunctionNotFound.With(slog.String("name", c.Name))
		if s, ok := suggest(c.Name, slices.Sorted(maps.Keys(in.funcs))); ok {
			err = err.With(slog.String("suggestion", s))
		}

		return err
	}

	var args []any

	if c.Args != nil {
		v, err := c.Args.Eval(in.scope)
		if err != nil {
			return err
		}

		args, _ = v.([]any)
	}

	v, err := in.Invoke(f, args)
	if err != nil {
		return err
	}

	if c.Result == "" {
		return nil
	}

	return in.store(c.Result, c.Scope, c.Scoped, v)
}

// Invoke calls f with positional arguments and returns the value of its
// t:return, or nil. The caller's block variables are not visible inside f.
func (in *Interp) Invoke(f *FuncDef, args []any) (any, error) {
	if in.callDepth >= in.engine.maxCallDepth {
		return nil, ErrCallDepth.With(
			slog.String("function", f.Name),
			slog.Int("limit", in.engine.maxCallDepth),
		)
	}

	if len(args) > len(f.Params) {
		return nil, ErrArgument.With(
			slog.String("function", f.Name),
			slog.String("reason", "too many arguments"),
			slog.Int("want", len(f.Params)),
			slog.Int("got", len(args)),
		)
	}

	in.callDepth++
	defer func() { in.callDepth-- }()

	in.logger.TraceContext(in.ctx, "call",
		slog.String("function", f.Name),
		slog.Int("args", len(args)),
		slog.Int("depth", in.callDepth))

	var result any

	err := in.withScope(ScopeFunction, func() error {
		if err := in.bindArgs(f, args); err != nil {
			return err
		}

		return in.withScope(ScopeBlock, func() error {
			err := in.Exec(f.Body)
			if s, ok := asSignal(err); ok && s.kind == sigReturn {
				result = s.value

				return nil
			}

			return err
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// bindArgs declares f's parameters in the function frame. Defaults are
// evaluated in order, so a default may refer to earlier parameters.
func (in *Interp) bindArgs(f *FuncDef, args []any) error {
	for i, p := range f.Params {
		var v any

		switch {
		case i < len(args):
			v = args[i]

		case p.Default != nil:
			d, err := p.Default.Eval(in.scope)
			if err != nil {
				return positioned(err, p.At)
			}

			v = d

		case p.Required:
			return ErrArgument.With(
				slog.String("function", f.Name),
				slog.String("argument", p.Name),
				slog.String("reason", "missing required argument"),
			)

		default:
			continue
		}

		if !argTypeOK(p.Type, v) {
			return ErrArgument.With(
				slog.String("function", f.Name),
				slog.String("argument", p.Name),
				slog.String("want", p.Type),
				slog.String("got", typeName(v)),
			)
		}

		in.scope.Declare(p.Name, v)
	}

	return nil
}

func argTypeOK(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)

		return ok
	case "numeric":
		return isNumber(v)
	case "boolean":
		_, ok := v.(bool)

		return ok
	case "array":
		_, ok := toSlice(v)

		return ok
	case "struct":
		_, ok := toMap(v)

		return ok
	default:
		return true
	}
}
