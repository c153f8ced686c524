package lang

import (
	"strconv"
	"time"
)

// Kind identifies the variant of an AST node.
type Kind int

const (
	KindText Kind = iota
	KindBinding
	KindMarkup
	KindAssignment
	KindLoop
	KindConditional
	KindFunctionDef
	KindFunctionCall
	KindReturn
	KindQuery
	KindQueryParam
	KindRaw
	KindLoopControl
	KindInclude
	KindExtension
)

var kindNames = [...]string{
	KindText:         "Text",
	KindBinding:      "Binding",
	KindMarkup:       "Markup",
	KindAssignment:   "Assignment",
	KindLoop:         "Loop",
	KindConditional:  "Conditional",
	KindFunctionDef:  "FunctionDef",
	KindFunctionCall: "FunctionCall",
	KindReturn:       "Return",
	KindQuery:        "QueryInvocation",
	KindQueryParam:   "QueryParam",
	KindRaw:          "RawOutput",
	KindLoopControl:  "LoopControl",
	KindInclude:      "Include",
	KindExtension:    "Extension",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Node is an element of a parsed template.
// Nodes are immutable once the parser returns them.
type Node interface {
	Kind() Kind
	Pos() Position
	Children() []Node
}

// Control is implemented by nodes produced from control tags. Tag returns
// the registry name used to dispatch execution.
type Control interface {
	Node
	Tag() string
}

// Template is the parsed form of one source document.
type Template struct {
	Source  string
	ModTime time.Time
	Nodes   []Node

	// Functions lists every top-level function definition in source order.
	Functions []*FuncDef
}

type base struct{ At Position }

func (b base) Pos() Position { return b.At }

// Text is literal output.
type Text struct {
	base
	Value string
}

func (*Text) Kind() Kind       { return KindText }
func (*Text) Children() []Node { return nil }

// Binding is an embedded {expression}. Raw bindings bypass escaping.
type Binding struct {
	base
	Expr *Expr
	Raw  bool
}

func (*Binding) Kind() Kind       { return KindBinding }
func (*Binding) Children() []Node { return nil }

// Attr is a passthrough markup attribute. Parts holds *Text and *Binding
// nodes; a nil Parts means the attribute has no value.
type Attr struct {
	At    Position
	Name  string
	Parts []Node
	Quote byte
}

// Markup is a passthrough element emitted as-is with its bindings evaluated.
type Markup struct {
	base
	Name        string
	Attrs       []Attr
	Body        []Node
	Void        bool
	SelfClosing bool
}

func (*Markup) Kind() Kind         { return KindMarkup }
func (m *Markup) Children() []Node { return m.Body }

// Assign writes a value to a variable (t:set and t:param).
type Assign struct {
	base
	Name  string
	Value *Expr
	Op    Op

	// Param marks a t:param declaration.
	Param bool

	// Scope is meaningful only when Scoped is set.
	Scope  ScopeKind
	Scoped bool
}

func (*Assign) Kind() Kind       { return KindAssignment }
func (*Assign) Children() []Node { return nil }

func (a *Assign) Tag() string {
	if a.Param {
		return "param"
	}

	return "set"
}

// LoopVariant discriminates the shapes a loop may take.
type LoopVariant int

const (
	LoopRange LoopVariant = iota
	LoopSequence
	LoopList
	LoopMap
	LoopCondition
)

var loopVariantNames = [...]string{
	LoopRange:     "range",
	LoopSequence:  "sequence",
	LoopList:      "list",
	LoopMap:       "map",
	LoopCondition: "condition",
}

func (v LoopVariant) String() string {
	if v >= 0 && int(v) < len(loopVariantNames) {
		return loopVariantNames[v]
	}

	return "LoopVariant(" + strconv.Itoa(int(v)) + ")"
}

// Loop is a single node for every loop variant. Which expression and name
// fields are set depends on Variant.
type Loop struct {
	base
	Variant LoopVariant

	From, To, Step *Expr // range
	Array          *Expr // sequence
	List           *Expr // list
	Collection     *Expr // map
	Condition      *Expr // condition

	Index, Item, Key, Value string
	Delimiters              string

	Body []Node
}

func (*Loop) Kind() Kind         { return KindLoop }
func (l *Loop) Children() []Node { return l.Body }
func (*Loop) Tag() string        { return "loop" }

// Branch is one guarded arm of a conditional.
type Branch struct {
	At   Position
	Test *Expr
	Body []Node
}

// Cond executes the first branch whose test is true, or Else.
type Cond struct {
	base
	Branches []Branch
	Else     []Node
	HasElse  bool
}

func (*Cond) Kind() Kind { return KindConditional }
func (*Cond) Tag() string { return "if" }

func (c *Cond) Children() []Node {
	var out []Node
	for _, b := range c.Branches {
		out = append(out, b.Body...)
	}

	return append(out, c.Else...)
}

// Param declares a function argument.
type Param struct {
	At       Position
	Name     string
	Type     string
	Required bool
	Default  *Expr
}

// FuncDef defines a named function. Definitions are hoisted: a function may
// be called before the point where it is defined.
type FuncDef struct {
	base
	Name   string
	Params []*Param
	Body   []Node
}

func (*FuncDef) Kind() Kind         { return KindFunctionDef }
func (f *FuncDef) Children() []Node { return f.Body }
func (*FuncDef) Tag() string        { return "function" }

// Call invokes a function. Args evaluates to the positional argument list.
type Call struct {
	base
	Name   string
	Args   *Expr
	Result string
	Scope  ScopeKind
	Scoped bool
}

func (*Call) Kind() Kind       { return KindFunctionCall }
func (*Call) Children() []Node { return nil }
func (*Call) Tag() string      { return "call" }

// Return ends the enclosing function, optionally with a value.
type Return struct {
	base
	Value *Expr
}

func (*Return) Kind() Kind       { return KindReturn }
func (*Return) Children() []Node { return nil }
func (*Return) Tag() string      { return "return" }

// Query renders its body into SQL text and hands it to the query executor.
type Query struct {
	base
	Name       string
	Datasource string
	MaxRows    int
	Scope      ScopeKind
	Scoped     bool
	Body       []Node
}

func (*Query) Kind() Kind         { return KindQuery }
func (q *Query) Children() []Node { return q.Body }
func (*Query) Tag() string        { return "query" }

// QueryParam binds a validated positional parameter inside a query.
type QueryParam struct {
	base
	Value     *Expr
	Type      ParamType
	Null      *Expr
	List      bool
	Separator string
	MaxLength int
	Scale     int
}

func (*QueryParam) Kind() Kind       { return KindQueryParam }
func (*QueryParam) Children() []Node { return nil }
func (*QueryParam) Tag() string      { return "queryparam" }

// Raw emits its body without escaping bindings.
type Raw struct {
	base
	Body []Node
}

func (*Raw) Kind() Kind         { return KindRaw }
func (r *Raw) Children() []Node { return r.Body }
func (*Raw) Tag() string        { return "raw" }

// LoopControl is t:break or t:continue.
type LoopControl struct {
	base
	Break bool
}

func (*LoopControl) Kind() Kind       { return KindLoopControl }
func (*LoopControl) Children() []Node { return nil }

func (l *LoopControl) Tag() string {
	if l.Break {
		return "break"
	}

	return "continue"
}

// Include renders another source in the current execution context.
type Include struct {
	base
	Template string
}

func (*Include) Kind() Kind       { return KindInclude }
func (*Include) Children() []Node { return nil }
func (*Include) Tag() string      { return "include" }

// Extension is the node built for tags registered by hosts. Data holds
// whatever the tag's Build function attached.
type Extension struct {
	base
	Name  string
	Attrs map[string]string
	Body  []Node
	Data  any
}

func (*Extension) Kind() Kind         { return KindExtension }
func (e *Extension) Children() []Node { return e.Body }
func (e *Extension) Tag() string      { return e.Name }

// Walk calls fn for every node in nodes in depth-first order. Returning
// false from fn skips the node's children.
func Walk(nodes []Node, fn func(Node) bool) {
	for _, n := range nodes {
		if !fn(n) {
			continue
		}

		if m, ok := n.(*Markup); ok {
			for _, a := range m.Attrs {
				Walk(a.Parts, fn)
			}
		}

		Walk(n.Children(), fn)
	}
}
