package lang

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
)

// Predefined errors (sentinel values).
//
// Every error produced by this package is an [*Error] derived from one of
// these values, so callers may test for a failure class with [errors.Is]
// regardless of the attributes or position attached to it.
var (
	// Parse-time.
	ErrParse            = NewError("parse error")
	ErrUnknownTag       = NewError("unknown control tag")
	ErrMissingAttribute = NewError("missing required attribute")
	ErrInvalidAttribute = NewError("invalid attribute")
	ErrNesting          = NewError("malformed nesting")
	ErrExprCompile      = NewError("expression compilation failed")

	// Evaluation-time.
	ErrExprEvaluate          = NewError("expression evaluation failed")
	ErrUndefined             = NewError("undefined variable")
	ErrTypeMismatch          = NewError("type mismatch")
	ErrDivisionByZero        = NewError("division by zero")
	ErrOperation             = NewError("invalid operation")
	ErrScope                 = NewError("scope error")
	ErrLoopStep              = NewError("loop step must not be zero")
	ErrIterationLimit        = NewError("loop iteration limit exceeded")
	ErrReturnOutsideFunction = NewError("return outside function")
	ErrFunctionNotFound      = NewError("function not found")
	ErrArgument              = NewError("invalid argument")
	ErrCallDepth             = NewError("maximum call depth exceeded")
	ErrQuery                 = NewError("query failed")
	ErrQueryParam            = NewError("invalid query parameter")
	ErrQueryText             = NewError("query text must be literal; bind values with t:queryparam")
	ErrNoQuerier             = NewError("no query executor configured")

	// Source loading.
	ErrSourceNotFound = NewError("source not found")
	ErrReadInput      = NewError("failed to read input")
)

// Position identifies a location in a source document.
// Line and Column are 1-based; Offset is a 0-based byte offset.
type Position struct {
	File   string
	Offset int
	Line   int
	Column int
}

// IsValid reports whether the position refers to an actual location.
func (p Position) IsValid() bool { return p.Line > 0 }

// String formats the position as file:line:column.
func (p Position) String() string {
	var sb strings.Builder

	if p.File != "" {
		sb.WriteString(p.File)
		sb.WriteByte(':')
	}

	sb.WriteString(strconv.Itoa(p.Line))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(p.Column))

	return sb.String()
}

// LogValue implements slog.LogValuer.
func (p Position) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("file", p.File),
		slog.Int("line", p.Line),
		slog.Int("column", p.Column),
	)
}

// Error represents an error with optional structured logging attributes and
// an optional source position.
// It implements both error and slog.LogValuer interfaces.
type Error struct {
	kind  *Error // sentinel this error derives from
	msg   string
	err   error       // Wrapped error (for errors.Unwrap)
	attrs []slog.Attr // Attributes for structured logging
	pos   Position
}

// NewError creates a new Error with a message.
func NewError(msg string) *Error {
	e := &Error{msg: msg}
	e.kind = e

	return e
}

// WrapError wraps a standard error into an Error.
func WrapError(err error) *Error {
	ee := &Error{}
	if errors.As(err, &ee) {
		return ee
	}

	return &Error{err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	// Build error message using the first available format,
	// depending on which fields are set:
	//
	//   1. "<pos>: <msg>: <err>"
	//   2. "<msg>: <err>"
	//   3. "<msg>"
	//   4. "<err>"
	part := make([]string, 0, 3)

	if e.pos.IsValid() {
		part = append(part, e.pos.String())
	}

	if e.msg != "" {
		part = append(part, e.msg)
	}

	if e.err != nil {
		part = append(part, e.err.Error())
	}

	msg := strings.Join(part, ": ")

	for _, a := range e.attrs {
		if a.Key == "suggestion" {
			msg += " (did you mean " + strconv.Quote(a.Value.String()) + "?)"
		}
	}

	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is the sentinel this error was derived from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.kind == nil {
		return false
	}

	return e.kind == t.kind
}

// Position returns the source position attached to the error, if any.
func (e *Error) Position() Position { return e.pos }

// Attr returns the value of the named attribute.
func (e *Error) Attr(key string) (slog.Value, bool) {
	for i := len(e.attrs) - 1; i >= 0; i-- {
		if e.attrs[i].Key == key {
			return e.attrs[i].Value, true
		}
	}

	return slog.Value{}, false
}

// LogValue implements slog.LogValuer for rich structured logging.
func (e *Error) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(e.attrs)+3)

	if e.msg != "" {
		attrs = append(attrs, slog.String("error", e.msg))
	}

	if e.err != nil {
		attrs = append(attrs, slog.String("cause", e.err.Error()))
	}

	if e.pos.IsValid() {
		attrs = append(attrs, slog.Any("position", e.pos))
	}

	return slog.GroupValue(append(attrs, e.attrs...)...)
}

// Wrap creates a new Error wrapping another error.
func (e *Error) Wrap(err error) *Error {
	c := e.clone()
	c.err = err

	return c
}

// With adds attributes to the error for structured logging.
// This creates a new Error instance to maintain immutability.
func (e *Error) With(attrs ...slog.Attr) *Error {
	c := e.clone()
	c.attrs = make([]slog.Attr, len(e.attrs)+len(attrs))
	copy(c.attrs, e.attrs)
	copy(c.attrs[len(e.attrs):], attrs)

	return c
}

// WithPosition attaches a source position. An error that already carries a
// valid position keeps it, so the innermost location wins.
func (e *Error) WithPosition(pos Position) *Error {
	if e.pos.IsValid() {
		return e
	}

	c := e.clone()
	c.pos = pos

	return c
}

func (e *Error) clone() *Error {
	return &Error{
		kind:  e.kind,
		msg:   e.msg,
		err:   e.err,
		attrs: e.attrs, // Share attrs
		pos:   e.pos,
	}
}

// positioned attaches pos to err, converting foreign errors into an *Error first.
func positioned(err error, pos Position) error {
	if err == nil {
		return nil
	}

	var ee *Error
	if errors.As(err, &ee) {
		if ee.pos.IsValid() {
			return err
		}

		return ee.WithPosition(pos)
	}

	return WrapError(err).WithPosition(pos)
}
