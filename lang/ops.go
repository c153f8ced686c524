package lang

import (
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Op is an assignment operation.
type Op int

const (
	OpSet Op = iota
	OpIncrement
	OpDecrement
	OpAdd
	OpSubtract
	OpAppend
	OpPrepend
	OpUpper
	OpLower
	OpTitle
	OpDefault
)

var opNames = [...]string{
	OpSet:       "set",
	OpIncrement: "increment",
	OpDecrement: "decrement",
	OpAdd:       "add",
	OpSubtract:  "subtract",
	OpAppend:    "append",
	OpPrepend:   "prepend",
	OpUpper:     "upper",
	OpLower:     "lower",
	OpTitle:     "title",
	OpDefault:   "default",
}

func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}

	return "unknown"
}

// ParseOp parses an op= attribute value.
func ParseOp(s string) (Op, bool) {
	i := slices.Index(opNames[:], strings.ToLower(strings.TrimSpace(s)))
	if i < 0 {
		return 0, false
	}

	return Op(i), true
}

// compound reports whether the operation reads the current value.
func (o Op) compound() bool { return o != OpSet && o != OpDefault }

// takesOperand reports whether the operation needs a value= attribute.
func (o Op) takesOperand() bool {
	switch o {
	case OpIncrement, OpDecrement, OpUpper, OpLower, OpTitle:
		return false
	default:
		return true
	}
}

// apply computes the new value of a compound operation. Operand types must
// match the current value; nothing is coerced.
func (o Op) apply(cur, operand any) (any, error) {
	switch o {
	case OpIncrement:
		return arith(o, cur, 1, 1)

	case OpDecrement:
		return arith(o, cur, 1, -1)

	case OpAdd:
		return arith(o, cur, operand, 1)

	case OpSubtract:
		return arith(o, cur, operand, -1)

	case OpAppend, OpPrepend:
		if s, ok := cur.(string); ok {
			t, ok := operand.(string)
			if !ok {
				return nil, mismatch(o, cur, operand)
			}

			if o == OpAppend {
				return s + t, nil
			}

			return t + s, nil
		}

		list, ok := toSlice(cur)
		if !ok {
			return nil, mismatch(o, cur, operand)
		}

		out := make([]any, 0, len(list)+1)
		if o == OpPrepend {
			out = append(out, operand)
		}

		out = append(out, list...)
		if o == OpAppend {
			out = append(out, operand)
		}

		return out, nil

	case OpUpper, OpLower, OpTitle:
		s, ok := cur.(string)
		if !ok {
			return nil, mismatch(o, cur, nil)
		}

		return caser(o).String(s), nil

	case OpSet, OpDefault:
		return operand, nil

	default:
		return nil, ErrOperation.With(slog.Int("op", int(o)))
	}
}

func caser(o Op) cases.Caser {
	switch o {
	case OpUpper:
		return cases.Upper(language.Und)
	case OpLower:
		return cases.Lower(language.Und)
	default:
		return cases.Title(language.Und)
	}
}

// arith adds sign*delta to cur. Integers stay integers; any float operand
// yields a float.
func arith(o Op, cur, delta any, sign int) (any, error) {
	ci, cInt := toInt(cur)
	di, dInt := toInt(delta)

	if cInt && dInt {
		return ci + sign*di, nil
	}

	cf, cNum := toFloat(cur)
	df, dNum := toFloat(delta)

	if !cNum || !dNum {
		return nil, mismatch(o, cur, delta)
	}

	return cf + float64(sign)*df, nil
}

func mismatch(o Op, cur, operand any) error {
	attrs := []slog.Attr{
		slog.String("op", o.String()),
		slog.String("target", typeName(cur)),
	}

	if operand != nil {
		attrs = append(attrs, slog.String("operand", typeName(operand)))
	}

	return ErrTypeMismatch.With(attrs...)
}
