package lang

import (
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// TagPrefix is the namespace prefix that marks an element as a control tag.
const TagPrefix = "t:"

// BodyMode states whether a control tag encloses content.
type BodyMode int

const (
	// BodyNone tags stand alone. They may be written with or without "/>".
	BodyNone BodyMode = iota
	// BodyRequired tags must be closed with a matching end tag.
	BodyRequired
)

// AttrSpec declares one attribute a control tag accepts.
type AttrSpec struct {
	Name     string
	Required bool
}

// TagSpec describes a control tag: its attribute schema, where it may
// appear, how to build its node and how to execute it.
type TagSpec struct {
	// Name is the tag name without the "t:" prefix.
	Name  string
	Attrs []AttrSpec
	Body  BodyMode

	// Parent, if set, names the control tag that must directly enclose this
	// one.
	Parent string
	// Within, if set, requires one of the named control tags among the
	// enclosing elements.
	Within []string
	// TopLevel tags may not be nested in any element.
	TopLevel bool

	// Build turns the parsed element into a node. Attribute presence and
	// placement have already been validated.
	Build func(b *Builder) (Node, error)
	// Exec runs a node produced by Build. Tags consumed by their parent at
	// build time have no Exec.
	Exec func(in *Interp, n Node) error

	core bool
}

// Registry maps control tag names to their specs. It is safe for concurrent
// use; templates parsed before a Register call are unaffected by it.
type Registry struct {
	mu   sync.RWMutex
	tags map[string]*TagSpec
}

// NewRegistry returns a registry holding the core control tags.
func NewRegistry() *Registry {
	r := &Registry{tags: make(map[string]*TagSpec)}

	for _, spec := range coreTags() {
		spec.core = true
		r.tags[spec.Name] = &spec
	}

	return r
}

// Register adds a control tag. Core tags cannot be replaced.
func (r *Registry) Register(spec TagSpec) error {
	spec.Name = strings.TrimPrefix(spec.Name, TagPrefix)

	if !isIdentifier(spec.Name) || spec.Build == nil {
		return ErrInvalidAttribute.With(
			slog.String("reason", "tag spec needs a name and a Build func"),
			slog.String("tag", spec.Name),
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tags[spec.Name]; ok {
		return ErrInvalidAttribute.With(
			slog.String("reason", "tag already registered"),
			slog.String("tag", TagPrefix+spec.Name),
		)
	}

	spec.core = false
	r.tags[spec.Name] = &spec

	return nil
}

// Lookup returns the spec registered under name (without prefix).
func (r *Registry) Lookup(name string) (*TagSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.tags[name]

	return spec, ok
}

// Names returns the registered tag names, sorted, with the "t:" prefix.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tags))
	for name := range r.tags {
		names = append(names, TagPrefix+name)
	}

	slices.Sort(names)

	return names
}

// rawAttr is a control tag attribute as written in the source.
type rawAttr struct {
	At      Position
	ValueAt Position
	Name    string
	Value   string
	Quote   byte
	Bare    bool
}

// Builder gives a TagSpec's Build function access to the parsed element.
type Builder struct {
	p           *parser
	spec        *TagSpec
	at          Position
	attrs       []rawAttr
	body        []Node
	selfClosing bool
}

// Name returns the tag name without prefix.
func (b *Builder) Name() string { return b.spec.Name }

// Pos returns the position of the element's opening "<".
func (b *Builder) Pos() Position { return b.at }

// Body returns the parsed child nodes.
func (b *Builder) Body() []Node { return b.body }

// Has reports whether the attribute is present.
func (b *Builder) Has(name string) bool {
	_, ok := b.attr(name)

	return ok
}

func (b *Builder) attr(name string) (rawAttr, bool) {
	for _, a := range b.attrs {
		if a.Name == name {
			return a, true
		}
	}

	return rawAttr{}, false
}

// Attr returns the raw value of an attribute.
func (b *Builder) Attr(name string) (string, bool) {
	a, ok := b.attr(name)

	return a.Value, ok
}

// Attrs returns every attribute as a map.
func (b *Builder) Attrs() map[string]string {
	m := make(map[string]string, len(b.attrs))
	for _, a := range b.attrs {
		m[a.Name] = a.Value
	}

	return m
}

// Fail returns kind positioned at the attribute (or the element if the
// attribute is absent).
func (b *Builder) Fail(kind *Error, attr string, attrs ...slog.Attr) error {
	at := b.at
	if a, ok := b.attr(attr); ok {
		at = a.At
	}

	attrs = append([]slog.Attr{slog.String("tag", TagPrefix+b.spec.Name)}, attrs...)
	if attr != "" {
		attrs = append(attrs, slog.String("attribute", attr))
	}

	return kind.With(attrs...).WithPosition(at)
}

// Expr compiles an attribute as a bare expression. It returns nil when the
// attribute is absent.
func (b *Builder) Expr(name string) (*Expr, error) {
	a, ok := b.attr(name)
	if !ok {
		return nil, nil
	}

	e, err := b.p.compile(a.Value)
	if err != nil {
		return nil, positioned(WrapError(err).With(
			slog.String("tag", TagPrefix+b.spec.Name),
			slog.String("attribute", name),
		), a.At)
	}

	return e, nil
}

// Ident returns an attribute that must be a valid, unreserved variable
// name. An absent attribute yields "".
func (b *Builder) Ident(name string) (string, error) {
	v, ok := b.Attr(name)
	if !ok {
		return "", nil
	}

	v = strings.TrimSpace(v)
	if !isIdentifier(v) || isReservedName(v) || isKeyword(v) {
		return "", b.Fail(ErrInvalidAttribute, name,
			slog.String("reason", "not a usable variable name"),
			slog.String("value", v))
	}

	return v, nil
}

// Int parses an integer attribute, returning def when absent.
func (b *Builder) Int(name string, def int) (int, error) {
	v, ok := b.Attr(name)
	if !ok {
		return def, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, b.Fail(ErrInvalidAttribute, name, slog.String("value", v))
	}

	return n, nil
}

// Bool parses a boolean attribute, returning def when absent. A bare
// attribute (no value) is true.
func (b *Builder) Bool(name string, def bool) (bool, error) {
	a, ok := b.attr(name)
	if !ok {
		return def, nil
	}

	if a.Bare {
		return true, nil
	}

	switch strings.ToLower(strings.TrimSpace(a.Value)) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	default:
		return false, b.Fail(ErrInvalidAttribute, name, slog.String("value", a.Value))
	}
}

// Scope parses the scope= attribute.
func (b *Builder) Scope() (ScopeKind, bool, error) {
	v, ok := b.Attr("scope")
	if !ok {
		return ScopeBlock, false, nil
	}

	k, ok := ParseScopeKind(v)
	if !ok {
		return 0, false, b.Fail(ErrInvalidAttribute, "scope", slog.String("value", v))
	}

	return k, true, nil
}

// Compile compiles an expression through the parser's expression cache.
func (b *Builder) Compile(source string) (*Expr, error) {
	return b.p.compile(source)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}

	return true
}

// isKeyword reports whether s is an operator or literal word in the
// expression language and so cannot name a variable.
func isKeyword(s string) bool {
	switch s {
	case "and", "or", "not", "in", "matches", "contains", "startsWith",
		"endsWith", "let", "if", "else", "true", "false", "nil":
		return true
	}

	return false
}
