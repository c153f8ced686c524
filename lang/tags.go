package lang

import (
	"log/slog"
	"slices"
	"strings"
)

// coreTags returns the built-in control tags.
func coreTags() []TagSpec {
	return []TagSpec{
		{
			Name: "set",
			Attrs: []AttrSpec{
				{Name: "name", Required: true},
				{Name: "value"}, {Name: "op"}, {Name: "scope"},
			},
			Build: buildSet,
			Exec:  execAssign,
		},
		{
			Name: "param",
			Attrs: []AttrSpec{
				{Name: "name", Required: true},
				{Name: "default"}, {Name: "scope"},
			},
			Build: buildParam,
			Exec:  execAssign,
		},
		{
			Name:  "if",
			Attrs: []AttrSpec{{Name: "test", Required: true}},
			Body:  BodyRequired,
			Build: buildIf,
			Exec:  execCond,
		},
		{
			Name:   "elseif",
			Attrs:  []AttrSpec{{Name: "test", Required: true}},
			Parent: "if",
			Build:  buildElse,
		},
		{
			Name:   "else",
			Parent: "if",
			Build:  buildElse,
		},
		{
			Name: "loop",
			Attrs: []AttrSpec{
				{Name: "from"}, {Name: "to"}, {Name: "step"},
				{Name: "array"}, {Name: "list"}, {Name: "delimiters"},
				{Name: "collection"}, {Name: "condition"},
				{Name: "index"}, {Name: "item"}, {Name: "key"}, {Name: "value"},
			},
			Body:  BodyRequired,
			Build: buildLoop,
			Exec:  execLoop,
		},
		{
			Name:   "break",
			Within: []string{"loop"},
			Build:  buildLoopControl,
			Exec:   execLoopControl,
		},
		{
			Name:   "continue",
			Within: []string{"loop"},
			Build:  buildLoopControl,
			Exec:   execLoopControl,
		},
		{
			Name:     "function",
			Attrs:    []AttrSpec{{Name: "name", Required: true}},
			Body:     BodyRequired,
			TopLevel: true,
			Build:    buildFunction,
			Exec:     func(*Interp, Node) error { return nil },
		},
		{
			Name: "argument",
			Attrs: []AttrSpec{
				{Name: "name", Required: true},
				{Name: "type"}, {Name: "required"}, {Name: "default"},
			},
			Parent: "function",
			Build:  buildArgument,
		},
		{
			Name: "call",
			Attrs: []AttrSpec{
				{Name: "name", Required: true},
				{Name: "args"}, {Name: "result"}, {Name: "scope"},
			},
			Build: buildCall,
			Exec:  execCall,
		},
		{
			Name:  "return",
			Attrs: []AttrSpec{{Name: "value"}},
			Build: buildReturn,
			Exec:  execReturn,
		},
		{
			Name: "query",
			Attrs: []AttrSpec{
				{Name: "name", Required: true},
				{Name: "datasource"}, {Name: "maxrows"}, {Name: "scope"},
			},
			Body:  BodyRequired,
			Build: buildQuery,
			Exec:  execQuery,
		},
		{
			Name: "queryparam",
			Attrs: []AttrSpec{
				{Name: "value", Required: true},
				{Name: "type"}, {Name: "null"}, {Name: "list"},
				{Name: "separator"}, {Name: "maxlength"}, {Name: "scale"},
			},
			Within: []string{"query"},
			Build:  buildQueryParam,
			Exec:   execQueryParam,
		},
		{
			Name:  "raw",
			Body:  BodyRequired,
			Build: buildRaw,
			Exec:  execRaw,
		},
		{
			Name:  "include",
			Attrs: []AttrSpec{{Name: "template", Required: true}},
			Build: buildInclude,
			Exec:  execInclude,
		},
	}
}

func buildSet(b *Builder) (Node, error) {
	name, err := b.Ident("name")
	if err != nil {
		return nil, err
	}

	op := OpSet
	if s, ok := b.Attr("op"); ok {
		if op, ok = ParseOp(s); !ok || op == OpDefault {
			return nil, b.Fail(ErrInvalidAttribute, "op", slog.String("value", s))
		}
	}

	switch {
	case op.takesOperand() && !b.Has("value"):
		return nil, b.Fail(ErrMissingAttribute, "value",
			slog.String("op", op.String()))

	case !op.takesOperand() && b.Has("value"):
		return nil, b.Fail(ErrInvalidAttribute, "value",
			slog.String("reason", "operation takes no value"),
			slog.String("op", op.String()))
	}

	value, err := b.Expr("value")
	if err != nil {
		return nil, err
	}

	scope, scoped, err := b.Scope()
	if err != nil {
		return nil, err
	}

	return &Assign{
		base:   base{b.Pos()},
		Name:   name,
		Value:  value,
		Op:     op,
		Scope:  scope,
		Scoped: scoped,
	}, nil
}

func buildParam(b *Builder) (Node, error) {
	name, err := b.Ident("name")
	if err != nil {
		return nil, err
	}

	def, err := b.Expr("default")
	if err != nil {
		return nil, err
	}

	scope, scoped, err := b.Scope()
	if err != nil {
		return nil, err
	}

	return &Assign{
		base:   base{b.Pos()},
		Name:   name,
		Value:  def,
		Op:     OpDefault,
		Param:  true,
		Scope:  scope,
		Scoped: scoped,
	}, nil
}

// elseMarker separates the arms of a conditional. It only exists while
// t:if is being built.
type elseMarker struct {
	base
	test *Expr
}

func (*elseMarker) Kind() Kind       { return KindConditional }
func (*elseMarker) Children() []Node { return nil }

func (m *elseMarker) Tag() string {
	if m.test != nil {
		return "elseif"
	}

	return "else"
}

func buildElse(b *Builder) (Node, error) {
	test, err := b.Expr("test")
	if err != nil {
		return nil, err
	}

	return &elseMarker{base: base{b.Pos()}, test: test}, nil
}

func buildIf(b *Builder) (Node, error) {
	test, err := b.Expr("test")
	if err != nil {
		return nil, err
	}

	c := &Cond{base: base{b.Pos()}}
	cur := Branch{At: b.Pos(), Test: test}

	for _, n := range b.Body() {
		m, ok := n.(*elseMarker)
		if !ok {
			if c.HasElse {
				c.Else = append(c.Else, n)
			} else {
				cur.Body = append(cur.Body, n)
			}

			continue
		}

		if c.HasElse {
			return nil, ErrNesting.With(
				slog.String("tag", TagPrefix+m.Tag()),
				slog.String("reason", "follows t:else"),
			).WithPosition(m.At)
		}

		c.Branches = append(c.Branches, cur)

		if m.test == nil {
			c.HasElse = true
		} else {
			cur = Branch{At: m.At, Test: m.test}
		}
	}

	if !c.HasElse {
		c.Branches = append(c.Branches, cur)
	}

	return c, nil
}

// loopVariants maps each discriminator attribute to the loop shape it
// selects and the attributes that shape requires and allows.
var loopVariants = []struct {
	disc     string
	variant  LoopVariant
	required []string
	allowed  []string
}{
	{"from", LoopRange, []string{"to", "index"}, []string{"step"}},
	{"array", LoopSequence, []string{"item"}, []string{"index"}},
	{"list", LoopList, []string{"item"}, []string{"index", "delimiters"}},
	{"collection", LoopMap, []string{"key"}, []string{"value"}},
	{"condition", LoopCondition, nil, nil},
}

func buildLoop(b *Builder) (Node, error) {
	found := -1

	for i, v := range loopVariants {
		if !b.Has(v.disc) {
			continue
		}

		if found >= 0 {
			return nil, b.Fail(ErrInvalidAttribute, v.disc,
				slog.String("reason", "conflicting loop variants"),
				slog.String("other", loopVariants[found].disc))
		}

		found = i
	}

	if found < 0 {
		return nil, b.Fail(ErrMissingAttribute, "",
			slog.String("reason", "loop needs one of from, array, list, collection, condition"))
	}

	v := loopVariants[found]

	for _, name := range v.required {
		if !b.Has(name) {
			return nil, b.Fail(ErrMissingAttribute, name,
				slog.String("variant", v.variant.String()))
		}
	}

	for _, a := range b.attrs {
		if name := a.Name; name != v.disc && !slices.Contains(v.required, name) &&
			!slices.Contains(v.allowed, name) {
			return nil, b.Fail(ErrInvalidAttribute, name,
				slog.String("reason", "not valid for this loop variant"),
				slog.String("variant", v.variant.String()))
		}
	}

	l := &Loop{
		base:       base{b.Pos()},
		Variant:    v.variant,
		Delimiters: ",",
		Body:       b.Body(),
	}

	if d, ok := b.Attr("delimiters"); ok {
		if d == "" {
			return nil, b.Fail(ErrInvalidAttribute, "delimiters",
				slog.String("reason", "empty delimiter set"))
		}

		l.Delimiters = d
	}

	for _, f := range []struct {
		attr string
		dst  *string
	}{
		{"index", &l.Index},
		{"item", &l.Item},
		{"key", &l.Key},
		{"value", &l.Value},
	} {
		name, err := b.Ident(f.attr)
		if err != nil {
			return nil, err
		}

		*f.dst = name
	}

	for _, f := range []struct {
		attr string
		dst  **Expr
	}{
		{"from", &l.From},
		{"to", &l.To},
		{"step", &l.Step},
		{"array", &l.Array},
		{"list", &l.List},
		{"collection", &l.Collection},
		{"condition", &l.Condition},
	} {
		e, err := b.Expr(f.attr)
		if err != nil {
			return nil, err
		}

		*f.dst = e
	}

	return l, nil
}

func buildLoopControl(b *Builder) (Node, error) {
	return &LoopControl{base: base{b.Pos()}, Break: b.Name() == "break"}, nil
}

// argumentMarker carries a parameter declaration up to its t:function.
type argumentMarker struct {
	base
	param *Param
}

func (*argumentMarker) Kind() Kind       { return KindFunctionDef }
func (*argumentMarker) Children() []Node { return nil }
func (*argumentMarker) Tag() string      { return "argument" }

// argumentTypes lists the type= values t:argument accepts.
var argumentTypes = []string{
	"any", "string", "numeric", "boolean", "array", "struct",
}

func buildArgument(b *Builder) (Node, error) {
	name, err := b.Ident("name")
	if err != nil {
		return nil, err
	}

	typ := "any"
	if t, ok := b.Attr("type"); ok {
		typ = strings.ToLower(strings.TrimSpace(t))
		if !slices.Contains(argumentTypes, typ) {
			return nil, b.Fail(ErrInvalidAttribute, "type", slog.String("value", t))
		}
	}

	required, err := b.Bool("required", false)
	if err != nil {
		return nil, err
	}

	def, err := b.Expr("default")
	if err != nil {
		return nil, err
	}

	if required && def != nil {
		return nil, b.Fail(ErrInvalidAttribute, "default",
			slog.String("reason", "required argument cannot have a default"))
	}

	return &argumentMarker{
		base: base{b.Pos()},
		param: &Param{
			At:       b.Pos(),
			Name:     name,
			Type:     typ,
			Required: required,
			Default:  def,
		},
	}, nil
}

func buildFunction(b *Builder) (Node, error) {
	name, err := b.Ident("name")
	if err != nil {
		return nil, err
	}

	f := &FuncDef{base: base{b.Pos()}, Name: name}

	for _, n := range b.Body() {
		m, ok := n.(*argumentMarker)
		if !ok {
			f.Body = append(f.Body, n)

			continue
		}

		for _, p := range f.Params {
			if p.Name == m.param.Name {
				return nil, ErrInvalidAttribute.With(
					slog.String("reason", "duplicate argument"),
					slog.String("name", p.Name),
				).WithPosition(m.At)
			}
		}

		f.Params = append(f.Params, m.param)
	}

	return f, nil
}

func buildCall(b *Builder) (Node, error) {
	name, err := b.Ident("name")
	if err != nil {
		return nil, err
	}

	c := &Call{base: base{b.Pos()}, Name: name}

	if args, ok := b.Attr("args"); ok && strings.TrimSpace(args) != "" {
		// The argument list is compiled as an array literal.
		if c.Args, err = b.Compile("[" + args + "]"); err != nil {
			return nil, b.Fail(WrapError(err), "args")
		}
	}

	if c.Result, err = b.Ident("result"); err != nil {
		return nil, err
	}

	if c.Scope, c.Scoped, err = b.Scope(); err != nil {
		return nil, err
	}

	if c.Scoped && c.Result == "" {
		return nil, b.Fail(ErrMissingAttribute, "result",
			slog.String("reason", "scope given without result"))
	}

	return c, nil
}

func buildReturn(b *Builder) (Node, error) {
	value, err := b.Expr("value")
	if err != nil {
		return nil, err
	}

	return &Return{base: base{b.Pos()}, Value: value}, nil
}

func buildQuery(b *Builder) (Node, error) {
	name, err := b.Ident("name")
	if err != nil {
		return nil, err
	}

	maxRows, err := b.Int("maxrows", -1)
	if err != nil {
		return nil, err
	}

	scope, scoped, err := b.Scope()
	if err != nil {
		return nil, err
	}

	ds, _ := b.Attr("datasource")

	return &Query{
		base:       base{b.Pos()},
		Name:       name,
		Datasource: strings.TrimSpace(ds),
		MaxRows:    maxRows,
		Scope:      scope,
		Scoped:     scoped,
		Body:       b.Body(),
	}, nil
}

func buildQueryParam(b *Builder) (Node, error) {
	q := &QueryParam{base: base{b.Pos()}, Type: ParamVarchar, Separator: ","}

	if t, ok := b.Attr("type"); ok {
		pt, ok := ParseParamType(t)
		if !ok {
			return nil, b.Fail(ErrInvalidAttribute, "type", slog.String("value", t))
		}

		q.Type = pt
	}

	var err error

	if q.Value, err = b.Expr("value"); err != nil {
		return nil, err
	}

	if q.Null, err = b.Expr("null"); err != nil {
		return nil, err
	}

	if q.List, err = b.Bool("list", false); err != nil {
		return nil, err
	}

	if sep, ok := b.Attr("separator"); ok {
		if sep == "" {
			return nil, b.Fail(ErrInvalidAttribute, "separator",
				slog.String("reason", "empty separator"))
		}

		q.Separator = sep
	}

	if q.MaxLength, err = b.Int("maxlength", 0); err != nil {
		return nil, err
	}

	if q.Scale, err = b.Int("scale", -1); err != nil {
		return nil, err
	}

	return q, nil
}

func buildRaw(b *Builder) (Node, error) {
	return &Raw{base: base{b.Pos()}, Body: b.Body()}, nil
}

func buildInclude(b *Builder) (Node, error) {
	t, _ := b.Attr("template")

	t = strings.TrimSpace(t)
	if t == "" {
		return nil, b.Fail(ErrInvalidAttribute, "template",
			slog.String("reason", "empty template id"))
	}

	return &Include{base: base{b.Pos()}, Template: t}, nil
}
