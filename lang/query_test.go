package lang

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// recordingQuerier returns canned rows and remembers the last request.
type recordingQuerier struct {
	req  QueryRequest
	rows []map[string]any
	err  error
}

func (q *recordingQuerier) Query(_ context.Context, req QueryRequest) (*QueryResult, error) {
	q.req = req
	if q.err != nil {
		return nil, q.err
	}

	return &QueryResult{Columns: []string{"name"}, Rows: q.rows}, nil
}

func renderQuery(t *testing.T, src string, q Querier, bindings map[string]any) (string, error) {
	t.Helper()

	e := New(NewMemoryLoader(map[string]string{"q.html": src}))

	return e.Render(t.Context(), Request{Source: "q.html", Bindings: bindings, Querier: q})
}

func TestQuery(t *testing.T) {
	q := &recordingQuerier{rows: []map[string]any{{"name": "ann"}, {"name": "bob"}}}

	src := `<t:query name="users" datasource="main" maxrows="1">
SELECT name FROM users WHERE id IN (<t:queryparam value="ids" type="integer" list/>)
AND tag = <t:queryparam value="tag"/>
</t:query>{users.recordCount}:{users.rows[0].name}:{users.columnList}`

	got, err := renderQuery(t, src, q, map[string]any{
		"ids": []int{1, 2, 3},
		"tag": "x",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if got != "1:ann:name" {
		t.Errorf("got %q, want %q", got, "1:ann:name")
	}

	wantSQL := "SELECT name FROM users WHERE id IN (?, ?, ?)\nAND tag = ?"
	if q.req.SQL != wantSQL {
		t.Errorf("sql = %q, want %q", q.req.SQL, wantSQL)
	}

	wantParams := []any{int64(1), int64(2), int64(3), "x"}
	if !reflect.DeepEqual(q.req.Params, wantParams) {
		t.Errorf("params = %#v, want %#v", q.req.Params, wantParams)
	}

	if q.req.Datasource != "main" || q.req.MaxRows != 1 {
		t.Errorf("request = %+v", q.req)
	}
}

func TestQueryParamNullAndList(t *testing.T) {
	q := &recordingQuerier{}

	src := `<t:query name="r">SELECT <t:queryparam value="v" null="v == ''"/>, ` +
		`<t:queryparam value="'a; b ;c'" list separator=";"/></t:query>`

	if _, err := renderQuery(t, src, q, map[string]any{"v": ""}); err != nil {
		t.Fatalf("render: %v", err)
	}

	if q.req.SQL != "SELECT ?, ?, ?, ?" {
		t.Errorf("sql = %q", q.req.SQL)
	}

	want := []any{nil, "a", "b", "c"}
	if !reflect.DeepEqual(q.req.Params, want) {
		t.Errorf("params = %#v, want %#v", q.req.Params, want)
	}
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		q    *recordingQuerier
		want *Error
	}{
		{
			name: "querier failure",
			src:  `<t:query name="r">SELECT 1</t:query>`,
			q:    &recordingQuerier{err: errors.New("connection refused")},
			want: ErrQuery,
		},
		{
			name: "integer mismatch",
			src:  `<t:query name="r"><t:queryparam value="'abc'" type="integer"/></t:query>`,
			want: ErrQueryParam,
		},
		{
			name: "maxlength",
			src:  `<t:query name="r"><t:queryparam value="'abcdef'" maxlength="3"/></t:query>`,
			want: ErrQueryParam,
		},
		{
			name: "empty list",
			src:  `<t:query name="r"><t:queryparam value="[]" list/></t:query>`,
			want: ErrQueryParam,
		},
		{
			name: "list element mismatch",
			src:  `<t:query name="r"><t:queryparam value="'1,x'" type="integer" list/></t:query>`,
			want: ErrQueryParam,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.q
			if q == nil {
				q = &recordingQuerier{}
			}

			if _, err := renderQuery(t, tt.src, q, nil); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParamConvert(t *testing.T) {
	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		qp   QueryParam
		in   any
		want any
	}{
		{"integer from int", QueryParam{Type: ParamInteger}, 7, int64(7)},
		{"integer from string", QueryParam{Type: ParamBigint}, " 42 ", int64(42)},
		{"numeric scaled", QueryParam{Type: ParamNumeric, Scale: 2}, "3.14159", "3.14"},
		{"numeric from decimal", QueryParam{Type: ParamNumeric, Scale: -1}, decimal.RequireFromString("1.50"), "1.5"},
		{"float from int", QueryParam{Type: ParamFloat}, 2, 2.0},
		{"bit from string", QueryParam{Type: ParamBit}, "true", true},
		{"bit from int", QueryParam{Type: ParamBit}, 0, false},
		{"date from string", QueryParam{Type: ParamDate}, "2024-03-09", day},
		{"timestamp truncated for date", QueryParam{Type: ParamDate}, day.Add(5 * time.Hour), day},
		{"varchar from number", QueryParam{Type: ParamVarchar}, 12, "12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.qp.convert(tt.in)
			if err != nil {
				t.Fatalf("convert: %v", err)
			}

			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseParamType(t *testing.T) {
	for name, want := range paramTypeNames {
		got, ok := ParseParamType(name)
		if !ok || got != want {
			t.Errorf("ParseParamType(%q) = %v, %v", name, got, ok)
		}
	}

	if _, ok := ParseParamType("blob"); ok {
		t.Error("accepted unknown type")
	}
}

func TestQueryTextIsLiteral(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want *Error
	}{
		{
			name: "function output",
			src: `<t:function name="f"><t:argument name="v"/>{v}</t:function>` +
				`<t:query name="r">SELECT * FROM users WHERE id = <t:call name="f" args="uid"/></t:query>`,
			want: ErrQueryText,
		},
		{
			name: "function markup attribute",
			src: `<t:function name="f"><b title="{uid}"></b></t:function>` +
				`<t:query name="r">SELECT <t:call name="f"/></t:query>`,
			want: ErrQueryText,
		},
		{
			name: "included output",
			src:  `<t:query name="r">SELECT * FROM users WHERE id = <t:include template="frag.sql"/></t:query>`,
			want: ErrQueryText,
		},
		{
			name: "extension tag",
			src:  `<t:query name="r">SELECT '<t:markdown>x</t:markdown>'</t:query>`,
			want: ErrNesting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &recordingQuerier{}

			e := New(NewMemoryLoader(map[string]string{
				"q.html":   tt.src,
				"frag.sql": `{uid}`,
			}))

			_, err := e.Render(t.Context(), Request{
				Source:   "q.html",
				Bindings: map[string]any{"uid": "1 OR 1=1"},
				Querier:  q,
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}

			if q.req.SQL != "" {
				t.Errorf("query ran with sql %q", q.req.SQL)
			}
		})
	}
}

func TestQueryLiteralFragments(t *testing.T) {
	q := &recordingQuerier{}

	src := `<t:function name="cols">id, name</t:function>` +
		`<t:query name="r">SELECT <t:call name="cols"/> FROM users WHERE id = <t:queryparam value="7" type="integer"/></t:query>`

	if _, err := renderQuery(t, src, q, nil); err != nil {
		t.Fatalf("render: %v", err)
	}

	if q.req.SQL != "SELECT id, name FROM users WHERE id = ?" {
		t.Errorf("sql = %q", q.req.SQL)
	}

	if !reflect.DeepEqual(q.req.Params, []any{int64(7)}) {
		t.Errorf("params = %#v", q.req.Params)
	}
}
