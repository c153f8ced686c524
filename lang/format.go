package lang

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
)

// FormatYAML writes a structural dump of the template as YAML. An indent of
// zero selects flow style.
func (t *Template) FormatYAML(ctx context.Context, w io.Writer, indent int) error {
	var opts []yaml.EncodeOption
	if indent > 0 {
		opts = append(opts, yaml.Indent(indent))
	} else {
		opts = append(opts, yaml.Flow(true))
	}

	doc := yaml.MapSlice{
		{Key: "source", Value: t.Source},
		{Key: "functions", Value: len(t.Functions)},
		{Key: "nodes", Value: describeNodes(t.Nodes)},
	}

	data, err := yaml.MarshalContext(ctx, doc, opts...)
	if err != nil {
		return err
	}

	_, err = fmt.Fprint(w, string(data))

	return err
}

func describeNodes(nodes []Node) []any {
	out := make([]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, describe(n))
	}

	return out
}

func exprSource(e *Expr) any {
	if e == nil {
		return nil
	}

	return e.Source
}

// describe returns an ordered map for one node. Empty fields are omitted.
func describe(n Node) yaml.MapSlice {
	m := yaml.MapSlice{
		{Key: "kind", Value: n.Kind().String()},
		{Key: "at", Value: n.Pos().String()},
	}

	add := func(key string, v any) {
		switch x := v.(type) {
		case nil:
			return
		case string:
			if x == "" {
				return
			}
		case []any:
			if len(x) == 0 {
				return
			}
		case bool:
			if !x {
				return
			}
		}

		m = append(m, yaml.MapItem{Key: key, Value: v})
	}

	scope := func(kind ScopeKind, scoped bool) {
		if scoped {
			add("scope", kind.String())
		}
	}

	switch n := n.(type) {
	case *Text:
		add("value", n.Value)

	case *Binding:
		add("expr", n.Expr.Source)
		add("raw", n.Raw)

	case *Markup:
		add("name", n.Name)

		attrs := make([]any, 0, len(n.Attrs))
		for _, a := range n.Attrs {
			attrs = append(attrs, yaml.MapSlice{
				{Key: "name", Value: a.Name},
				{Key: "parts", Value: describeNodes(a.Parts)},
			})
		}

		add("attrs", attrs)
		add("void", n.Void)

	case *Assign:
		add("tag", TagPrefix+n.Tag())
		add("name", n.Name)
		add("op", n.Op.String())
		add("value", exprSource(n.Value))
		scope(n.Scope, n.Scoped)

	case *Loop:
		add("variant", n.Variant.String())
		add("from", exprSource(n.From))
		add("to", exprSource(n.To))
		add("step", exprSource(n.Step))
		add("array", exprSource(n.Array))
		add("list", exprSource(n.List))
		add("collection", exprSource(n.Collection))
		add("condition", exprSource(n.Condition))
		add("index", n.Index)
		add("item", n.Item)
		add("key", n.Key)
		add("value", n.Value)

	case *Cond:
		branches := make([]any, 0, len(n.Branches))
		for _, b := range n.Branches {
			branches = append(branches, yaml.MapSlice{
				{Key: "test", Value: b.Test.Source},
				{Key: "body", Value: describeNodes(b.Body)},
			})
		}

		add("branches", branches)

		if n.HasElse {
			m = append(m, yaml.MapItem{Key: "else", Value: describeNodes(n.Else)})
		}

		return m

	case *FuncDef:
		add("name", n.Name)

		params := make([]any, 0, len(n.Params))
		for _, p := range n.Params {
			params = append(params, yaml.MapSlice{
				{Key: "name", Value: p.Name},
				{Key: "type", Value: p.Type},
				{Key: "required", Value: p.Required},
				{Key: "default", Value: exprSource(p.Default)},
			})
		}

		add("params", params)

	case *Call:
		add("name", n.Name)
		add("args", exprSource(n.Args))
		add("result", n.Result)
		scope(n.Scope, n.Scoped)

	case *Return:
		add("value", exprSource(n.Value))

	case *Query:
		add("name", n.Name)
		add("datasource", n.Datasource)
		scope(n.Scope, n.Scoped)

	case *QueryParam:
		add("value", exprSource(n.Value))
		add("type", n.Type.String())
		add("null", exprSource(n.Null))
		add("list", n.List)

	case *LoopControl:
		add("tag", TagPrefix+n.Tag())

	case *Include:
		add("template", n.Template)

	case *Extension:
		add("tag", TagPrefix+n.Name)
	}

	add("body", describeNodes(n.Children()))

	return m
}
