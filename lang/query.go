package lang

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Querier executes SQL on behalf of t:query. Parameters are bound
// positionally to "?" placeholders and are never interpolated into the SQL
// text.
type Querier interface {
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)
}

// QueryRequest is one statement to execute.
type QueryRequest struct {
	SQL        string
	Params     []any
	Datasource string
	// MaxRows limits the rows returned; a negative value means no limit.
	MaxRows int
}

// QueryResult holds a statement's rows and metadata.
type QueryResult struct {
	Columns []string
	Rows    []map[string]any
	Elapsed time.Duration
}

// Value returns the result as the map bound to a t:query name: rows,
// columns, recordCount, columnList and elapsed (milliseconds).
func (r *QueryResult) Value() map[string]any {
	rows := make([]any, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = row
	}

	cols := make([]any, len(r.Columns))
	for i, c := range r.Columns {
		cols[i] = c
	}

	return map[string]any{
		"rows":        rows,
		"columns":     cols,
		"columnList":  strings.Join(r.Columns, ","),
		"recordCount": len(r.Rows),
		"elapsed":     r.Elapsed.Milliseconds(),
	}
}

type queryState struct {
	params []any
}

func execQuery(in *Interp, n Node) error {
	q := n.(*Query)

	if in.querier == nil {
		return ErrNoQuerier.With(slog.String("query", q.Name))
	}

	saved := in.query
	in.query = &queryState{}

	defer func() { in.query = saved }()

	sql, err := in.Capture(q.Body)
	if err != nil {
		return err
	}

	req := QueryRequest{
		SQL:        strings.TrimSpace(sql),
		Params:     in.query.params,
		Datasource: q.Datasource,
		MaxRows:    q.MaxRows,
	}

	start := time.Now()

	res, err := in.querier.Query(in.ctx, req)
	if err != nil {
		return ErrQuery.Wrap(err).With(
			slog.String("query", q.Name),
			slog.String("datasource", q.Datasource),
		)
	}

	if res.Elapsed == 0 {
		res.Elapsed = time.Since(start)
	}

	if q.MaxRows >= 0 && len(res.Rows) > q.MaxRows {
		res.Rows = res.Rows[:q.MaxRows]
	}

	in.logger.DebugContext(in.ctx, "query",
		slog.String("name", q.Name),
		slog.String("datasource", q.Datasource),
		slog.Int("params", len(req.Params)),
		slog.Int("rows", len(res.Rows)),
		slog.Duration("elapsed", res.Elapsed))

	return in.store(q.Name, q.Scope, q.Scoped, res.Value())
}

func execQueryParam(in *Interp, n Node) error {
	qp := n.(*QueryParam)

	if in.query == nil {
		return ErrNesting.With(
			slog.String("tag", TagPrefix+qp.Tag()),
			slog.String("reason", "outside a query"),
		)
	}

	if qp.Null != nil {
		null, err := qp.Null.EvalBool(in.scope)
		if err != nil {
			return err
		}

		if null {
			in.query.params = append(in.query.params, nil)
			in.Write("?")

			return nil
		}
	}

	v, err := qp.Value.Eval(in.scope)
	if err != nil {
		return err
	}

	if !qp.List {
		p, err := qp.convert(v)
		if err != nil {
			return err
		}

		in.query.params = append(in.query.params, p)
		in.Write("?")

		return nil
	}

	items, ok := toSlice(v)
	if !ok {
		s, isString := v.(string)
		if !isString {
			return ErrQueryParam.With(
				slog.String("reason", "list value must be an array or a delimited string"),
				slog.String("got", typeName(v)),
			)
		}

		for _, f := range strings.Split(s, qp.Separator) {
			if f = strings.TrimSpace(f); f != "" {
				items = append(items, f)
			}
		}
	}

	if len(items) == 0 {
		return ErrQueryParam.With(slog.String("reason", "empty list"))
	}

	marks := make([]string, len(items))

	for i, item := range items {
		p, err := qp.convert(item)
		if err != nil {
			return WrapError(err).With(slog.Int("element", i))
		}

		in.query.params = append(in.query.params, p)
		marks[i] = "?"
	}

	in.Write(strings.Join(marks, ", "))

	return nil
}

// ParamType is the declared SQL type of a query parameter.
type ParamType int

const (
	ParamVarchar ParamType = iota
	ParamInteger
	ParamBigint
	ParamNumeric
	ParamFloat
	ParamBit
	ParamDate
	ParamTimestamp
)

var paramTypeNames = map[string]ParamType{
	"varchar":   ParamVarchar,
	"char":      ParamVarchar,
	"string":    ParamVarchar,
	"integer":   ParamInteger,
	"int":       ParamInteger,
	"bigint":    ParamBigint,
	"numeric":   ParamNumeric,
	"decimal":   ParamNumeric,
	"float":     ParamFloat,
	"double":    ParamFloat,
	"bit":       ParamBit,
	"boolean":   ParamBit,
	"date":      ParamDate,
	"timestamp": ParamTimestamp,
}

// ParseParamType parses a type= attribute value.
func ParseParamType(s string) (ParamType, bool) {
	t, ok := paramTypeNames[strings.ToLower(strings.TrimSpace(s))]

	return t, ok
}

func (t ParamType) String() string {
	switch t {
	case ParamInteger:
		return "integer"
	case ParamBigint:
		return "bigint"
	case ParamNumeric:
		return "numeric"
	case ParamFloat:
		return "float"
	case ParamBit:
		return "bit"
	case ParamDate:
		return "date"
	case ParamTimestamp:
		return "timestamp"
	default:
		return "varchar"
	}
}

// Layouts accepted for date and timestamp parameters given as strings.
var (
	dateLayouts      = []string{time.DateOnly, time.RFC3339}
	timestampLayouts = []string{time.RFC3339Nano, time.DateTime, "2006-01-02T15:04:05", time.DateOnly}
)

// convert validates v against the declared type and returns the value to
// bind.
func (qp *QueryParam) convert(v any) (any, error) {
	fail := func(reason string) error {
		return ErrQueryParam.With(
			slog.String("type", qp.Type.String()),
			slog.String("reason", reason),
			slog.String("got", typeName(v)),
		)
	}

	switch qp.Type {
	case ParamInteger, ParamBigint:
		if i, ok := toInt(v); ok {
			return int64(i), nil
		}

		if s, ok := v.(string); ok {
			i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err == nil {
				return i, nil
			}
		}

		return nil, fail("not an integer")

	case ParamNumeric:
		var d decimal.Decimal

		switch x := v.(type) {
		case decimal.Decimal:
			d = x
		case string:
			var err error
			if d, err = decimal.NewFromString(strings.TrimSpace(x)); err != nil {
				return nil, fail("not a decimal number")
			}
		default:
			if i, ok := toInt(v); ok {
				d = decimal.NewFromInt(int64(i))
			} else if f, ok := toFloat(v); ok {
				d = decimal.NewFromFloat(f)
			} else {
				return nil, fail("not a decimal number")
			}
		}

		if qp.Scale >= 0 {
			d = d.Round(int32(qp.Scale))
		}

		return d.String(), nil

	case ParamFloat:
		if f, ok := toFloat(v); ok {
			return f, nil
		}

		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err == nil {
				return f, nil
			}
		}

		return nil, fail("not a number")

	case ParamBit:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err == nil {
				return b, nil
			}
		default:
			if i, ok := toInt(v); ok && (i == 0 || i == 1) {
				return i == 1, nil
			}
		}

		return nil, fail("not a boolean")

	case ParamDate, ParamTimestamp:
		if t, ok := v.(time.Time); ok {
			if qp.Type == ParamDate {
				y, m, d := t.Date()

				return time.Date(y, m, d, 0, 0, 0, 0, t.Location()), nil
			}

			return t, nil
		}

		s, ok := v.(string)
		if !ok {
			return nil, fail("not a date")
		}

		layouts := timestampLayouts
		if qp.Type == ParamDate {
			layouts = dateLayouts
		}

		for _, layout := range layouts {
			if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return t, nil
			}
		}

		return nil, fail("unrecognized date format")

	default:
		s, err := Stringify(v)
		if err != nil {
			return nil, fail("not a string")
		}

		if qp.MaxLength > 0 && utf8.RuneCountInString(s) > qp.MaxLength {
			return nil, ErrQueryParam.With(
				slog.String("type", qp.Type.String()),
				slog.String("reason", "value exceeds maxlength"),
				slog.Int("maxlength", qp.MaxLength),
				slog.Int("length", utf8.RuneCountInString(s)),
			)
		}

		return s, nil
	}
}
