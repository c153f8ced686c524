package lang

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func render(t *testing.T, src string, bindings map[string]any, opts ...Option) (string, error) {
	t.Helper()

	e := New(NewMemoryLoader(map[string]string{"main.html": src}), opts...)

	return e.Render(t.Context(), Request{Source: "main.html", Bindings: bindings})
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		bindings map[string]any
		want     string
	}{
		{
			name:     "arithmetic binding",
			src:      `<div>{a + b * 2}</div>`,
			bindings: map[string]any{"a": 1, "b": 2},
			want:     `<div>5</div>`,
		},
		{
			name:     "escaped output",
			src:      `<p>{s}</p>`,
			bindings: map[string]any{"s": "<b>&"},
			want:     `<p>&lt;b&gt;&amp;</p>`,
		},
		{
			name:     "raw output",
			src:      `<t:raw>{s}</t:raw>`,
			bindings: map[string]any{"s": "<b>&"},
			want:     `<b>&`,
		},
		{
			name:     "attribute bindings keep quotes",
			src:      `<a href="/u/{id}" class='x' hidden>go</a>`,
			bindings: map[string]any{"id": 7},
			want:     `<a href="/u/7" class='x' hidden>go</a>`,
		},
		{
			name:     "self-closing and void elements",
			src:      `<br><img src="{u}"/>`,
			bindings: map[string]any{"u": "x.png"},
			want:     `<br><img src="x.png"/>`,
		},
		{
			name: "escaped brace",
			src:  `\{a}`,
			want: `{a}`,
		},
		{
			name: "comments pass through",
			src:  `<!-- {a} --><!DOCTYPE html>`,
			want: `<!-- {a} --><!DOCTYPE html>`,
		},
		{
			name:     "script text in a binding is escaped",
			src:      `<p>{s}</p>`,
			bindings: map[string]any{"s": "<script>alert(1)</script>"},
			want:     `<p>&lt;script&gt;alert(1)&lt;/script&gt;</p>`,
		},
		{
			name: "script body is verbatim",
			src:  `<script>if (a) { b() }</script>`,
			want: `<script>if (a) { b() }</script>`,
		},
		{
			name: "division yields float",
			src:  `{10 / 4}`,
			want: `2.5`,
		},
		{
			name: "modulo",
			src:  `{7 % 3}`,
			want: `1`,
		},
		{
			name: "isDefined",
			src:  `{isDefined('a') ? 'y' : 'n'}{isDefined('b') ? 'y' : 'n'}`,
			bindings: map[string]any{
				"b": 1,
			},
			want: `ny`,
		},
		{
			name: "set and increment",
			src:  `<t:set name="n" value="1"/><t:set name="n" op="increment"/>{n}`,
			want: `2`,
		},
		{
			name: "append then upper",
			src: `<t:set name="s" value="'a'"/><t:set name="s" op="append" value="'b'"/>` +
				`<t:set name="s" op="upper"/>{s}`,
			want: `AB`,
		},
		{
			name: "param default",
			src:  `<t:param name="title" default="'Untitled'"/>{title}`,
			want: `Untitled`,
		},
		{
			name:     "param keeps binding",
			src:      `<t:param name="title" default="'Untitled'"/>{title}`,
			bindings: map[string]any{"title": "Hi"},
			want:     `Hi`,
		},
		{
			name: "range loop",
			src:  `<t:loop from="1" to="3" index="i">{i}</t:loop>`,
			want: `123`,
		},
		{
			name: "descending range loop",
			src:  `<t:loop from="3" to="1" step="-1" index="i">{i}</t:loop>`,
			want: `321`,
		},
		{
			name: "loop index does not leak",
			src:  `<t:set name="i" value="'outer'"/><t:loop from="1" to="2" index="i">{i}</t:loop>{i}`,
			want: `12outer`,
		},
		{
			name:     "range ending at max int",
			src:      `<t:loop from="hi - 1" to="hi" index="i">.</t:loop>`,
			bindings: map[string]any{"hi": math.MaxInt},
			want:     `..`,
		},
		{
			name:     "descending range ending at min int",
			src:      `<t:loop from="lo + 1" to="lo" step="-1" index="i">.</t:loop>`,
			bindings: map[string]any{"lo": math.MinInt},
			want:     `..`,
		},
		{
			name:     "step spanning the int range",
			src:      `<t:loop from="0" to="hi" step="hi" index="i">.</t:loop>`,
			bindings: map[string]any{"hi": math.MaxInt},
			want:     `..`,
		},
		{
			name: "variable named like a builtin",
			src:  `<t:set name="count" value="3"/><t:set name="date" value="'today'"/>{count}:{date}`,
			want: `3:today`,
		},
		{
			name:     "bound name shadows a builtin",
			src:      `{count + 1}:{max - min}`,
			bindings: map[string]any{"count": 2, "max": 9, "min": 4},
			want:     `3:5`,
		},
		{
			name:     "builtin calls still resolve",
			src:      `{len(values) + count(values, # > 1)}`,
			bindings: map[string]any{"values": []int{1, 2, 3}},
			want:     `5`,
		},
		{
			name: "let named like a builtin",
			src:  `{let first = 2; first * 3}`,
			want: `6`,
		},
		{
			name: "empty range",
			src:  `[<t:loop from="3" to="1" index="i">{i}</t:loop>]`,
			want: `[]`,
		},
		{
			name:     "array loop",
			src:      `<t:loop array="xs" item="x" index="i">{i}:{x};</t:loop>`,
			bindings: map[string]any{"xs": []string{"a", "b"}},
			want:     `0:a;1:b;`,
		},
		{
			name: "list loop",
			src:  `<t:loop list="'a, b;c'" delimiters=",; " item="x">[{x}]</t:loop>`,
			want: `[a][b][c]`,
		},
		{
			name:     "collection loop is key ordered",
			src:      `<t:loop collection="m" key="k" value="v">{k}={v} </t:loop>`,
			bindings: map[string]any{"m": map[string]any{"b": 2, "a": 1}},
			want:     `a=1 b=2 `,
		},
		{
			name: "condition loop",
			src: `<t:set name="i" value="0"/>` +
				`<t:loop condition="i < 3">{i}<t:set name="i" op="increment"/></t:loop>`,
			want: `012`,
		},
		{
			name: "break and continue",
			src: `<t:loop from="1" to="10" index="i">` +
				`<t:if test="i == 2"><t:continue/></t:if>` +
				`<t:if test="i > 4"><t:break/></t:if>{i}</t:loop>`,
			want: `134`,
		},
		{
			name: "functions are hoisted",
			src: `<t:call name="add" args="1" result="r"/>{r}` +
				`<t:function name="add"><t:argument name="a" required/>` +
				`<t:argument name="b" default="10"/><t:return value="a + b"/></t:function>`,
			want: `11`,
		},
		{
			name: "recursion",
			src: `<t:function name="fact"><t:argument name="n" type="numeric" required/>` +
				`<t:if test="n <= 1"><t:return value="1"/></t:if>` +
				`<t:call name="fact" args="n - 1" result="r"/><t:return value="n * r"/></t:function>` +
				`<t:call name="fact" args="5" result="x"/>{x}`,
			want: `120`,
		},
		{
			name: "function output is emitted",
			src: `<t:function name="hello"><t:argument name="who"/>hi {who}</t:function>` +
				`<t:call name="hello" args="'bo'"/>!`,
			want: `hi bo!`,
		},
		{
			name: "component scope survives functions",
			src: `<t:function name="f"><t:set name="seen" value="true" scope="variables"/></t:function>` +
				`<t:call name="f"/>{variables.seen}`,
			want: `true`,
		},
		{
			name:     "markdown extension",
			src:      `<t:markdown># Hi {name}</t:markdown>`,
			bindings: map[string]any{"name": "Bo"},
			want:     "<h1>Hi Bo</h1>\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := render(t, tt.src, tt.bindings)
			if err != nil {
				t.Fatalf("render error: %v", err)
			}

			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderConditional(t *testing.T) {
	const src = `<t:if test="x > 5">big<t:elseif test="x > 2"/>mid<t:else/>small</t:if>`

	for x, want := range map[int]string{9: "big", 3: "mid", 1: "small"} {
		got, err := render(t, src, map[string]any{"x": x})
		if err != nil {
			t.Fatalf("x=%d: render error: %v", x, err)
		}

		if got != want {
			t.Errorf("x=%d: got %q, want %q", x, got, want)
		}
	}
}

func TestRenderErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		opts []Option
		want *Error
	}{
		{
			name: "undefined variable",
			src:  `{nope}`,
			want: ErrUndefined,
		},
		{
			name: "undefined variable named like a builtin",
			src:  `{count}`,
			want: ErrUndefined,
		},
		{
			name: "float step below precision",
			src:  `<t:loop from="1e20" to="2e20" step="0.5" index="i"></t:loop>`,
			want: ErrLoopStep,
		},
		{
			name: "loop variables end with the loop",
			src:  `<t:loop from="1" to="2" index="i"></t:loop>{i}`,
			want: ErrUndefined,
		},
		{
			name: "functions cannot see caller blocks",
			src: `<t:function name="f"><t:return value="x"/></t:function>` +
				`<t:set name="x" value="1"/><t:call name="f" result="r"/>`,
			want: ErrUndefined,
		},
		{
			name: "division by zero",
			src:  `{1 / 0}`,
			want: ErrDivisionByZero,
		},
		{
			name: "modulo by zero",
			src:  `{1 % 0}`,
			want: ErrDivisionByZero,
		},
		{
			name: "non-boolean condition",
			src:  `<t:if test="1">x</t:if>`,
			want: ErrTypeMismatch,
		},
		{
			name: "zero step",
			src:  `<t:loop from="1" to="3" step="0" index="i">{i}</t:loop>`,
			want: ErrLoopStep,
		},
		{
			name: "iteration limit",
			src:  `<t:loop condition="true">x</t:loop>`,
			opts: []Option{WithMaxIterations(5)},
			want: ErrIterationLimit,
		},
		{
			name: "call depth",
			src:  `<t:function name="f"><t:call name="f"/></t:function><t:call name="f"/>`,
			opts: []Option{WithMaxCallDepth(5)},
			want: ErrCallDepth,
		},
		{
			name: "return outside function",
			src:  `a<t:return value="1"/>`,
			want: ErrReturnOutsideFunction,
		},
		{
			name: "unknown function",
			src:  `<t:function name="format"></t:function><t:call name="fromat"/>`,
			want: ErrFunctionNotFound,
		},
		{
			name: "missing required argument",
			src:  `<t:function name="f"><t:argument name="a" required/></t:function><t:call name="f"/>`,
			want: ErrArgument,
		},
		{
			name: "argument type",
			src:  `<t:function name="f"><t:argument name="a" type="numeric"/></t:function><t:call name="f" args="'x'"/>`,
			want: ErrArgument,
		},
		{
			name: "too many arguments",
			src:  `<t:function name="f"></t:function><t:call name="f" args="1, 2"/>`,
			want: ErrArgument,
		},
		{
			name: "compound op on undefined",
			src:  `<t:set name="n" op="increment"/>`,
			want: ErrUndefined,
		},
		{
			name: "compound op type mismatch",
			src:  `<t:set name="n" value="'a'"/><t:set name="n" op="add" value="1"/>`,
			want: ErrTypeMismatch,
		},
		{
			name: "collection rendered as text",
			src:  `{[1, 2]}`,
			want: ErrTypeMismatch,
		},
		{
			name: "session without store",
			src:  `<t:set name="a" value="1" scope="session"/>`,
			want: ErrScope,
		},
		{
			name: "query without querier",
			src:  `<t:query name="q">SELECT 1</t:query>`,
			want: ErrNoQuerier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := render(t, tt.src, nil, tt.opts...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got error %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRenderUndefinedEmpty(t *testing.T) {
	got, err := render(t, `[{missing}]`, nil, WithUndefinedPolicy(UndefinedEmpty))
	if err != nil {
		t.Fatalf("render error: %v", err)
	}

	if got != "[]" {
		t.Errorf("got %q, want %q", got, "[]")
	}
}

func TestRenderErrorPosition(t *testing.T) {
	_, err := render(t, "line one\n  <b>{nope}</b>", nil)

	var ee *Error
	if !errors.As(err, &ee) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}

	pos := ee.Position()
	if pos.Line != 2 || pos.Column != 6 {
		t.Errorf("got position %d:%d, want 2:6", pos.Line, pos.Column)
	}

	if pos.File != "main.html" {
		t.Errorf("got file %q, want main.html", pos.File)
	}
}

func TestRenderSuggestion(t *testing.T) {
	_, err := render(t, `<t:function name="format"></t:function><t:call name="fromat"/>`, nil)
	if err == nil || !strings.Contains(err.Error(), `did you mean "format"?`) {
		t.Errorf("expected a suggestion, got %v", err)
	}
}

func TestRenderInclude(t *testing.T) {
	loader := NewMemoryLoader(map[string]string{
		"main.html":    `<t:set name="x" value="1"/>a<t:include template="parts/b.html"/>c`,
		"parts/b.html": `{x}<t:include template="c.html"/>`,
		"parts/c.html": `!`,
	})

	got, err := New(loader).Render(t.Context(), Request{Source: "main.html"})
	if err != nil {
		t.Fatalf("render error: %v", err)
	}

	if got != "a1!c" {
		t.Errorf("got %q, want %q", got, "a1!c")
	}
}

func TestRenderIncludeCycle(t *testing.T) {
	loader := NewMemoryLoader(map[string]string{
		"main.html": `x<t:include template="main.html"/>`,
	})

	_, err := New(loader, WithMaxIncludeDepth(3)).
		Render(t.Context(), Request{Source: "main.html"})
	if !errors.Is(err, ErrCallDepth) {
		t.Fatalf("got %v, want %v", err, ErrCallDepth)
	}
}

func TestRenderIncludeFunctions(t *testing.T) {
	loader := NewMemoryLoader(map[string]string{
		"main.html": `<t:include template="lib.html"/><t:call name="twice" args="4" result="r"/>{r}`,
		"lib.html": `<t:function name="twice"><t:argument name="n" required/>` +
			`<t:return value="n * 2"/></t:function>`,
	})

	got, err := New(loader).Render(t.Context(), Request{Source: "main.html"})
	if err != nil {
		t.Fatalf("render error: %v", err)
	}

	if got != "8" {
		t.Errorf("got %q, want %q", got, "8")
	}
}

func TestRenderExternalScopes(t *testing.T) {
	store := newMapStore()
	store.data[ScopeSession]["user"] = "ann"
	store.data[ScopeApplication]["hits"] = 41

	e := New(NewMemoryLoader(map[string]string{
		"main.html": `{session.user}<t:set name="hits" op="increment" scope="application"/>` +
			`<t:set name="theme" value="'dark'" scope="session"/>{hits}`,
	}))

	got, err := e.Render(t.Context(), Request{Source: "main.html", Store: store})
	if err != nil {
		t.Fatalf("render error: %v", err)
	}

	if got != "ann42" {
		t.Errorf("got %q, want %q", got, "ann42")
	}

	if v := store.data[ScopeSession]["theme"]; v != "dark" {
		t.Errorf("session theme = %v, want dark", v)
	}
}

func TestRenderBindingsAreCopied(t *testing.T) {
	bindings := map[string]any{"a": 1}

	_, err := render(t, `<t:set name="a" value="2" scope="request"/>`, bindings)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}

	if bindings["a"] != 1 {
		t.Errorf("caller bindings modified: %v", bindings["a"])
	}
}

func TestRenderString(t *testing.T) {
	e := New(nil)

	for range 2 {
		got, err := e.RenderString(t.Context(), `{1 + 1}`, Request{})
		if err != nil {
			t.Fatalf("render error: %v", err)
		}

		if got != "2" {
			t.Errorf("got %q, want %q", got, "2")
		}
	}

	hits, misses := e.Templates().Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = %d hits, %d misses; want 1, 1", hits, misses)
	}
}

func TestRenderStringSource(t *testing.T) {
	e := New(NewMemoryLoader(map[string]string{
		"a/part.html": "A",
		"b/part.html": "B",
	}))

	const text = `<t:include template="part.html"/>`

	for _, tt := range []struct{ source, want string }{
		{"a/x.html", "A"},
		{"b/x.html", "B"},
		{"a/x.html", "A"},
	} {
		got, err := e.RenderString(t.Context(), text, Request{Source: tt.source})
		if err != nil {
			t.Fatalf("%s: render error: %v", tt.source, err)
		}

		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.source, got, tt.want)
		}
	}

	if n := e.Templates().Len(); n != 4 {
		// Two anonymous entries plus the two included files.
		t.Errorf("cached = %d, want 4", n)
	}
}

func TestRenderStringCacheBounded(t *testing.T) {
	e := New(nil, WithStringCacheSize(2))

	for _, text := range []string{`{1}`, `{2}`, `{3}`, `{3}`} {
		if _, err := e.RenderString(t.Context(), text, Request{}); err != nil {
			t.Fatalf("render %s: %v", text, err)
		}
	}

	if n := e.Templates().Len(); n != 2 {
		t.Errorf("cached = %d, want 2", n)
	}

	hits, misses := e.Templates().Stats()
	if hits != 1 || misses != 3 {
		t.Errorf("stats = %d hits, %d misses; want 1, 3", hits, misses)
	}
}

func TestRenderNoEscaper(t *testing.T) {
	got, err := render(t, `{s}`, map[string]any{"s": "<i>"}, WithEscaper(NoEscaper{}))
	if err != nil {
		t.Fatalf("render error: %v", err)
	}

	if got != "<i>" {
		t.Errorf("got %q, want %q", got, "<i>")
	}
}

func TestRegisterTag(t *testing.T) {
	r := DefaultRegistry()

	err := r.Register(TagSpec{
		Name:  "shout",
		Body:  BodyRequired,
		Build: func(b *Builder) (Node, error) {
			return &Extension{base: base{b.Pos()}, Name: b.Name(), Body: b.Body()}, nil
		},
		Exec: func(in *Interp, n Node) error {
			s, err := in.Capture(n.(*Extension).Body)
			if err != nil {
				return err
			}

			in.Write(strings.ToUpper(s) + "!")

			return nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.Register(TagSpec{Name: "loop", Build: buildLoop}); err == nil {
		t.Error("expected error replacing a core tag")
	}

	got, err := render(t, `<t:shout>hi {n}</t:shout>`, map[string]any{"n": 2}, WithRegistry(r))
	if err != nil {
		t.Fatalf("render error: %v", err)
	}

	if got != "HI 2!" {
		t.Errorf("got %q, want %q", got, "HI 2!")
	}
}
