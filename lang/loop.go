package lang

import (
	"log/slog"
	"slices"
	"strings"
)

// DefaultMaxIterations caps condition loops.
const DefaultMaxIterations = 10000

func execLoop(in *Interp, n Node) error {
	l := n.(*Loop)

	switch l.Variant {
	case LoopRange:
		return in.loopRange(l)
	case LoopSequence:
		return in.loopSequence(l)
	case LoopList:
		return in.loopList(l)
	case LoopMap:
		return in.loopMap(l)
	case LoopCondition:
		return in.loopCondition(l)
	default:
		return ErrInvalidAttribute.With(slog.String("variant", l.Variant.String()))
	}
}

// iteration runs the loop body once in a fresh block scope after declare
// has bound the loop variables there. It reports whether the loop must
// stop.
func (in *Interp) iteration(l *Loop, declare func(*Context)) (bool, error) {
	err := in.withScope(ScopeBlock, func() error {
		declare(in.scope)

		return in.Exec(l.Body)
	})

	if s, ok := asSignal(err); ok {
		switch s.kind {
		case sigBreak:
			return true, nil
		case sigContinue:
			return false, nil
		}
	}

	return err != nil, err
}

func (in *Interp) loopRange(l *Loop) error {
	var bounds [3]any

	for i, e := range []*Expr{l.From, l.To, l.Step} {
		if e == nil {
			bounds[i] = 1

			continue
		}

		v, err := e.Eval(in.scope)
		if err != nil {
			return err
		}

		if !isNumber(v) {
			return ErrTypeMismatch.With(
				slog.String("attribute", [...]string{"from", "to", "step"}[i]),
				slog.String("want", "number"),
				slog.String("got", typeName(v)),
			)
		}

		bounds[i] = v
	}

	from, fInt := toInt(bounds[0])
	to, tInt := toInt(bounds[1])
	step, sInt := toInt(bounds[2])

	if fInt && tInt && sInt {
		if step == 0 {
			return ErrLoopStep
		}

		for i := from; (step > 0 && i <= to) || (step < 0 && i >= to); i += step {
			stop, err := in.iteration(l, func(c *Context) { c.Declare(l.Index, i) })
			if stop || err != nil {
				return err
			}

			if !hasNext(i, to, step) {
				break
			}
		}

		return nil
	}

	ff, _ := toFloat(bounds[0])
	tf, _ := toFloat(bounds[1])
	sf, _ := toFloat(bounds[2])

	if sf == 0 {
		return ErrLoopStep
	}

	for i := ff; (sf > 0 && i <= tf) || (sf < 0 && i >= tf); i += sf {
		stop, err := in.iteration(l, func(c *Context) { c.Declare(l.Index, i) })
		if stop || err != nil {
			return err
		}

		if i+sf == i {
			return ErrLoopStep.With(
				slog.String("reason", "step is below the index precision"),
				slog.Float64("index", i),
			)
		}
	}

	return nil
}

// hasNext reports whether i+step is still within to. The difference is
// taken in uint64 so bounds near the ends of the int range cannot wrap.
func hasNext(i, to, step int) bool {
	if step > 0 {
		return uint64(to)-uint64(i) >= uint64(step)
	}

	return uint64(i)-uint64(to) >= uint64(-step)
}

func (in *Interp) loopSequence(l *Loop) error {
	v, err := l.Array.Eval(in.scope)
	if err != nil {
		return err
	}

	items, ok := toSlice(v)
	if !ok && v != nil {
		return ErrTypeMismatch.With(
			slog.String("attribute", "array"),
			slog.String("want", "array"),
			slog.String("got", typeName(v)),
		)
	}

	return in.each(l, items)
}

func (in *Interp) loopList(l *Loop) error {
	v, err := l.List.Eval(in.scope)
	if err != nil {
		return err
	}

	s, ok := v.(string)
	if !ok {
		return ErrTypeMismatch.With(
			slog.String("attribute", "list"),
			slog.String("want", "string"),
			slog.String("got", typeName(v)),
		)
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(l.Delimiters, r)
	})

	items := make([]any, len(fields))
	for i, f := range fields {
		items[i] = f
	}

	return in.each(l, items)
}

// each iterates items, binding item and the optional 0-based index.
func (in *Interp) each(l *Loop, items []any) error {
	for i, item := range items {
		stop, err := in.iteration(l, func(c *Context) {
			c.Declare(l.Item, item)

			if l.Index != "" {
				c.Declare(l.Index, i)
			}
		})
		if stop || err != nil {
			return err
		}
	}

	return nil
}

func (in *Interp) loopMap(l *Loop) error {
	v, err := l.Collection.Eval(in.scope)
	if err != nil {
		return err
	}

	m, ok := toMap(v)
	if !ok && v != nil {
		return ErrTypeMismatch.With(
			slog.String("attribute", "collection"),
			slog.String("want", "map"),
			slog.String("got", typeName(v)),
		)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	for _, k := range keys {
		stop, err := in.iteration(l, func(c *Context) {
			c.Declare(l.Key, k)

			if l.Value != "" {
				c.Declare(l.Value, m[k])
			}
		})
		if stop || err != nil {
			return err
		}
	}

	return nil
}

func (in *Interp) loopCondition(l *Loop) error {
	limit := in.engine.maxIterations

	for count := 0; ; count++ {
		ok, err := l.Condition.EvalBool(in.scope)
		if err != nil || !ok {
			return err
		}

		if count >= limit {
			return ErrIterationLimit.With(
				slog.Int("limit", limit),
				slog.String("condition", l.Condition.Source),
			)
		}

		stop, err := in.iteration(l, func(*Context) {})
		if stop || err != nil {
			return err
		}
	}
}
