package lang

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

// voidElements lists the passthrough elements that never have content or a
// closing tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// verbatimElements have bodies that are emitted without binding scans.
var verbatimElements = map[string]bool{"script": true, "style": true}

// ParseOption configures [Parse].
type ParseOption func(*parseConfig)

type parseConfig struct {
	registry *Registry
	exprs    *ExprCache
}

// WithParseRegistry selects the control tag registry. The default is
// [NewRegistry].
func WithParseRegistry(r *Registry) ParseOption {
	return func(c *parseConfig) { c.registry = r }
}

// WithParseExprCache compiles bindings through c instead of compiling each
// one afresh.
func WithParseExprCache(c *ExprCache) ParseOption {
	return func(pc *parseConfig) { pc.exprs = c }
}

// Parse parses one source document. source identifies the document in
// positions and error messages.
func Parse(source, text string, opts ...ParseOption) (*Template, error) {
	var cfg parseConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.registry == nil {
		cfg.registry = NewRegistry()
	}

	p := &parser{
		input: text,
		line:  1,
		col:   1,
		file:  source,
		cfg:   &cfg,
	}

	nodes, err := p.parseNodes("", Position{})
	if err != nil {
		return nil, err
	}

	t := &Template{Source: source, Nodes: nodes}

	for _, n := range nodes {
		f, ok := n.(*FuncDef)
		if !ok {
			continue
		}

		for _, prev := range t.Functions {
			if prev.Name == f.Name {
				return nil, ErrInvalidAttribute.With(
					slog.String("reason", "duplicate function"),
					slog.String("name", f.Name),
					slog.Any("previous", prev.At),
				).WithPosition(f.At)
			}
		}

		t.Functions = append(t.Functions, f)
	}

	return t, nil
}

// ParseReader parses a document read from r.
func ParseReader(source string, r io.Reader, opts ...ParseOption) (*Template, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrReadInput.Wrap(err).With(slog.String("source", source))
	}

	return Parse(source, string(data), opts...)
}

// IsParseError reports whether err is a parse-time failure.
func IsParseError(err error) bool {
	for _, kind := range []*Error{
		ErrParse, ErrUnknownTag, ErrMissingAttribute,
		ErrInvalidAttribute, ErrNesting, ErrExprCompile,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}

	return false
}

type openElem struct {
	name    string
	control bool
}

// parser holds the parser state.
type parser struct {
	input  string
	offset int // offset of input within the document
	pos    int
	line   int
	col    int
	file   string
	cfg    *parseConfig

	open       []openElem
	rawDepth   int
	queryDepth int
}

// parseNodes parses content until the closing tag for closing, or EOF when
// closing is empty. at locates the element being closed.
func (p *parser) parseNodes(closing string, at Position) ([]Node, error) {
	var (
		nodes  []Node
		text   strings.Builder
		textAt Position
	)

	flush := func() {
		if text.Len() > 0 {
			nodes = append(nodes, &Text{base: base{textAt}, Value: text.String()})
			text.Reset()
		}
	}

	literal := func(n int) {
		if text.Len() == 0 {
			textAt = p.position()
		}

		text.WriteString(p.peekN(n))
		p.advanceN(n)
	}

	inQuery := p.queryDepth > 0

	for !p.eof() {
		switch {
		case p.isCloseTagStart():
			if inQuery && !p.hasPrefix("</"+TagPrefix) {
				literal(2)

				continue
			}

			flush()

			pos := p.position()

			name, err := p.parseCloseTag()
			if err != nil {
				return nil, err
			}

			if name != closing {
				return nil, p.closeMismatch(name, closing, pos)
			}

			return nodes, nil

		case !inQuery && p.hasPrefix("<!--"):
			end := strings.Index(p.input[p.pos+4:], "-->")
			if end < 0 {
				return nil, ErrParse.With(
					slog.String("reason", "unterminated comment"),
				).WithPosition(p.position())
			}

			literal(4 + end + 3)

		case !inQuery && (p.hasPrefix("<!") || p.hasPrefix("<?")):
			end := strings.IndexByte(p.input[p.pos:], '>')
			if end < 0 {
				return nil, ErrParse.With(
					slog.String("reason", "unterminated declaration"),
				).WithPosition(p.position())
			}

			literal(end + 1)

		case p.isTagStart():
			if inQuery && !p.hasPrefix("<"+TagPrefix) {
				literal(1)

				continue
			}

			flush()

			node, err := p.parseElement()
			if err != nil {
				return nil, err
			}

			if node != nil {
				nodes = append(nodes, node)
			}

		case p.hasPrefix(`\{`):
			if text.Len() == 0 {
				textAt = p.position()
			}

			text.WriteByte('{')
			p.advanceN(2)

		case p.peek() == '{':
			if inQuery {
				return nil, ErrParse.With(
					slog.String("reason", "bindings are not allowed in a query; use t:queryparam"),
				).WithPosition(p.position())
			}

			flush()

			b, err := p.parseBinding()
			if err != nil {
				return nil, err
			}

			nodes = append(nodes, b)

		default:
			_, size := utf8.DecodeRuneInString(p.input[p.pos:])
			literal(size)
		}
	}

	if closing != "" {
		return nil, ErrNesting.With(
			slog.String("reason", "unclosed element"),
			slog.String("tag", closing),
		).WithPosition(at)
	}

	flush()

	return nodes, nil
}

func (p *parser) closeMismatch(name, expected string, at Position) error {
	attrs := []slog.Attr{slog.String("found", "</"+name+">")}

	switch {
	case voidElements[strings.ToLower(name)]:
		attrs = append(attrs, slog.String("reason", "void element has no closing tag"))
	case expected == "":
		attrs = append(attrs, slog.String("reason", "no element is open"))
	default:
		attrs = append(attrs, slog.String("expected", "</"+expected+">"))
	}

	return ErrNesting.With(attrs...).WithPosition(at)
}

// parseBinding parses {expression} starting at '{'.
func (p *parser) parseBinding() (*Binding, error) {
	at := p.position()

	src, err := p.captureBinding()
	if err != nil {
		return nil, err
	}

	e, err := p.compile(src)
	if err != nil {
		return nil, positioned(err, at)
	}

	return &Binding{base: base{at}, Expr: e, Raw: p.rawDepth > 0}, nil
}

// captureBinding consumes a balanced {...} group and returns its content.
// String literals are skipped so braces inside them do not count.
func (p *parser) captureBinding() (string, error) {
	at := p.position()

	p.advance() // skip '{'

	start := p.pos
	depth := 0

	for !p.eof() {
		switch ch := p.peek(); ch {
		case '"', '\'', '`':
			if err := p.skipString(ch); err != nil {
				return "", err
			}

			continue

		case '{':
			depth++

		case '}':
			if depth == 0 {
				src := p.input[start:p.pos]
				p.advance()

				return src, nil
			}

			depth--
		}

		p.advance()
	}

	return "", ErrParse.With(
		slog.String("reason", "unterminated binding"),
	).WithPosition(at)
}

// parseCloseTag parses </name> and returns name.
func (p *parser) parseCloseTag() (string, error) {
	at := p.position()

	p.advanceN(2) // skip "</"

	name := p.scanName()
	p.skipWhitespace()

	if !p.expect('>') {
		return "", ErrParse.With(
			slog.String("reason", "malformed closing tag"),
			slog.String("tag", name),
		).WithPosition(at)
	}

	return name, nil
}

// parseElement parses an element starting at '<'.
func (p *parser) parseElement() (Node, error) {
	at := p.position()

	p.advance() // skip '<'

	name := p.scanName()
	control := strings.HasPrefix(name, TagPrefix)

	attrs, selfClosing, err := p.parseAttrs(name, at, !control)
	if err != nil {
		return nil, err
	}

	if control {
		return p.parseControl(name, at, attrs, selfClosing)
	}

	return p.parseMarkup(name, at, attrs, selfClosing)
}

func (p *parser) parseMarkup(
	name string,
	at Position,
	raw []rawAttr,
	selfClosing bool,
) (Node, error) {
	m := &Markup{
		base:        base{at},
		Name:        name,
		SelfClosing: selfClosing,
		Void:        voidElements[strings.ToLower(name)],
	}

	for _, a := range raw {
		attr := Attr{At: a.At, Name: a.Name, Quote: a.Quote}
		if attr.Quote == 0 {
			attr.Quote = '"'
		}

		if !a.Bare {
			parts, err := p.splitParts(a.Value, a.ValueAt)
			if err != nil {
				return nil, err
			}

			if parts == nil {
				parts = []Node{}
			}

			attr.Parts = parts
		}

		m.Attrs = append(m.Attrs, attr)
	}

	if selfClosing || m.Void {
		return m, nil
	}

	if verbatimElements[strings.ToLower(name)] {
		return m, p.parseVerbatim(m)
	}

	p.open = append(p.open, openElem{name: name})
	defer func() { p.open = p.open[:len(p.open)-1] }()

	body, err := p.parseNodes(name, at)
	if err != nil {
		return nil, err
	}

	m.Body = body

	return m, nil
}

// parseVerbatim reads a script or style body up to its closing tag.
func (p *parser) parseVerbatim(m *Markup) error {
	closing := "</" + strings.ToLower(m.Name)

	end := strings.Index(strings.ToLower(p.input[p.pos:]), closing)
	if end < 0 {
		return ErrNesting.With(
			slog.String("reason", "unclosed element"),
			slog.String("tag", m.Name),
		).WithPosition(m.At)
	}

	if end > 0 {
		m.Body = []Node{&Text{base: base{p.position()}, Value: p.peekN(end)}}
		p.advanceN(end)
	}

	at := p.position()

	name, err := p.parseCloseTag()
	if err != nil {
		return err
	}

	if !strings.EqualFold(name, m.Name) {
		return p.closeMismatch(name, m.Name, at)
	}

	return nil
}

func (p *parser) parseControl(
	name string,
	at Position,
	attrs []rawAttr,
	selfClosing bool,
) (Node, error) {
	short := strings.TrimPrefix(name, TagPrefix)

	spec, ok := p.cfg.registry.Lookup(short)
	if !ok {
		err := ErrUnknownTag.With(slog.String("tag", name))
		if s, ok := suggest(name, p.cfg.registry.Names()); ok {
			err = err.With(slog.String("suggestion", s))
		}

		return nil, err.WithPosition(at)
	}

	if p.queryDepth > 0 && !spec.core {
		return nil, ErrNesting.With(
			slog.String("tag", name),
			slog.String("reason", "extension tags are not allowed in a query"),
		).WithPosition(at)
	}

	if err := p.checkAttrs(spec, name, at, attrs); err != nil {
		return nil, err
	}

	if err := p.checkPlacement(spec, name, at); err != nil {
		return nil, err
	}

	b := &Builder{
		p:           p,
		spec:        spec,
		at:          at,
		attrs:       attrs,
		selfClosing: selfClosing,
	}

	switch {
	case spec.Body == BodyNone:
		// An explicit, empty closing tag is tolerated.
		if !selfClosing && p.hasPrefix("</"+name+">") {
			p.advanceN(len(name) + 3)
		}

	case !selfClosing:
		body, err := p.parseControlBody(short, name, at)
		if err != nil {
			return nil, err
		}

		b.body = body
	}

	node, err := spec.Build(b)
	if err != nil {
		return nil, positioned(err, at)
	}

	return node, nil
}

func (p *parser) parseControlBody(short, name string, at Position) ([]Node, error) {
	switch short {
	case "raw":
		p.rawDepth++
		defer func() { p.rawDepth-- }()

	case "query":
		if p.queryDepth > 0 {
			return nil, ErrNesting.With(
				slog.String("reason", "queries cannot nest"),
			).WithPosition(at)
		}

		p.queryDepth++
		defer func() { p.queryDepth-- }()
	}

	p.open = append(p.open, openElem{name: name, control: true})
	defer func() { p.open = p.open[:len(p.open)-1] }()

	return p.parseNodes(name, at)
}

// checkAttrs validates attribute names against the tag's schema.
func (p *parser) checkAttrs(spec *TagSpec, name string, at Position, attrs []rawAttr) error {
	known := make([]string, len(spec.Attrs))
	for i, a := range spec.Attrs {
		known[i] = a.Name
	}

	seen := make(map[string]bool, len(attrs))

	for _, a := range attrs {
		if seen[a.Name] {
			return ErrInvalidAttribute.With(
				slog.String("tag", name),
				slog.String("attribute", a.Name),
				slog.String("reason", "duplicate attribute"),
			).WithPosition(a.At)
		}

		seen[a.Name] = true

		if !containsAttr(spec.Attrs, a.Name) {
			err := ErrInvalidAttribute.With(
				slog.String("tag", name),
				slog.String("attribute", a.Name),
				slog.String("reason", "unknown attribute"),
			)
			if s, ok := suggest(a.Name, known); ok {
				err = err.With(slog.String("suggestion", s))
			}

			return err.WithPosition(a.At)
		}
	}

	for _, a := range spec.Attrs {
		if a.Required && !seen[a.Name] {
			return ErrMissingAttribute.With(
				slog.String("tag", name),
				slog.String("attribute", a.Name),
			).WithPosition(at)
		}
	}

	return nil
}

func containsAttr(specs []AttrSpec, name string) bool {
	for _, a := range specs {
		if a.Name == name {
			return true
		}
	}

	return false
}

// checkPlacement enforces where a control tag may appear.
func (p *parser) checkPlacement(spec *TagSpec, name string, at Position) error {
	fail := func(reason string) error {
		return ErrNesting.With(
			slog.String("tag", name),
			slog.String("reason", reason),
		).WithPosition(at)
	}

	if spec.TopLevel && len(p.open) > 0 {
		return fail("must appear at the top level")
	}

	if spec.Parent != "" {
		n := len(p.open)
		if n == 0 || !p.open[n-1].control ||
			p.open[n-1].name != TagPrefix+spec.Parent {
			return fail("must be directly inside <" + TagPrefix + spec.Parent + ">")
		}
	}

	if len(spec.Within) > 0 {
		for i := len(p.open) - 1; i >= 0; i-- {
			o := p.open[i]
			if !o.control {
				continue
			}

			for _, w := range spec.Within {
				if o.name == TagPrefix+w {
					return nil
				}
			}
		}

		return fail("must be inside <" + TagPrefix + strings.Join(spec.Within, ">, <"+TagPrefix) + ">")
	}

	return nil
}

// parseAttrs parses attributes up to and including '>' or "/>".
// Markup attribute values may contain bindings, whose braces are balanced
// so quotes inside an expression do not end the value.
func (p *parser) parseAttrs(tag string, at Position, markup bool) ([]rawAttr, bool, error) {
	var attrs []rawAttr

	for {
		p.skipWhitespace()

		switch {
		case p.eof():
			return nil, false, ErrParse.With(
				slog.String("reason", "unterminated tag"),
				slog.String("tag", tag),
			).WithPosition(at)

		case p.hasPrefix("/>"):
			p.advanceN(2)

			return attrs, true, nil

		case p.peek() == '>':
			p.advance()

			return attrs, false, nil
		}

		a := rawAttr{At: p.position()}

		a.Name = p.scanAttrName()
		if a.Name == "" {
			return nil, false, ErrParse.With(
				slog.String("reason", "unexpected character in tag"),
				slog.String("char", string(p.peek())),
				slog.String("tag", tag),
			).WithPosition(p.position())
		}

		p.skipWhitespace()

		if !p.expect('=') {
			a.Bare = true
			attrs = append(attrs, a)

			continue
		}

		p.skipWhitespace()

		if q := p.peek(); q == '"' || q == '\'' {
			a.Quote = byte(q)
		}

		value, valueAt, err := p.scanAttrValue(tag, markup)
		if err != nil {
			return nil, false, err
		}

		a.Value, a.ValueAt = value, valueAt
		attrs = append(attrs, a)
	}
}

func (p *parser) scanAttrName() string {
	start := p.pos

	for !p.eof() {
		ch := p.peek()
		if unicode.IsSpace(ch) || ch == '=' || ch == '>' || ch == '"' ||
			ch == '\'' || ch == '<' || (ch == '/' && p.hasPrefix("/>")) {
			break
		}

		p.advance()
	}

	return p.input[start:p.pos]
}

func (p *parser) scanAttrValue(tag string, markup bool) (string, Position, error) {
	at := p.position()
	quote := p.peek()

	if quote != '"' && quote != '\'' {
		start := p.pos
		for !p.eof() && !unicode.IsSpace(p.peek()) && p.peek() != '>' {
			p.advance()
		}

		return p.input[start:p.pos], at, nil
	}

	p.advance()

	start, valueAt := p.pos, p.position()

	for !p.eof() {
		switch ch := p.peek(); {
		case ch == quote:
			v := p.input[start:p.pos]
			p.advance()

			return v, valueAt, nil

		case markup && p.hasPrefix(`\{`):
			p.advanceN(2)

		case markup && ch == '{':
			if _, err := p.captureBinding(); err != nil {
				return "", Position{}, err
			}

		default:
			p.advance()
		}
	}

	return "", Position{}, ErrParse.With(
		slog.String("reason", "unterminated attribute value"),
		slog.String("tag", tag),
	).WithPosition(at)
}

// splitParts splits a markup attribute value into text and bindings.
// at is the position of the value's first character.
func (p *parser) splitParts(value string, at Position) ([]Node, error) {
	sp := &parser{
		input:    value,
		offset:   at.Offset,
		line:     at.Line,
		col:      at.Column,
		file:     p.file,
		cfg:      p.cfg,
		rawDepth: p.rawDepth,
	}

	var (
		parts  []Node
		text   strings.Builder
		textAt Position
	)

	flush := func() {
		if text.Len() > 0 {
			parts = append(parts, &Text{base: base{textAt}, Value: text.String()})
			text.Reset()
		}
	}

	for !sp.eof() {
		switch {
		case sp.hasPrefix(`\{`):
			if text.Len() == 0 {
				textAt = sp.position()
			}

			text.WriteByte('{')
			sp.advanceN(2)

		case sp.peek() == '{':
			flush()

			b, err := sp.parseBinding()
			if err != nil {
				return nil, err
			}

			parts = append(parts, b)

		default:
			if text.Len() == 0 {
				textAt = sp.position()
			}

			_, size := utf8.DecodeRuneInString(sp.input[sp.pos:])
			text.WriteString(sp.peekN(size))
			sp.advanceN(size)
		}
	}

	flush()

	return parts, nil
}

func (p *parser) compile(src string) (*Expr, error) {
	if p.cfg.exprs != nil {
		return p.cfg.exprs.Get(src)
	}

	return Compile(src)
}

// Helper methods

func (p *parser) isCloseTagStart() bool {
	if !p.hasPrefix("</") || p.pos+2 >= len(p.input) {
		return false
	}

	c := p.input[p.pos+2]

	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (p *parser) isTagStart() bool {
	if p.peek() != '<' || p.pos+1 >= len(p.input) {
		return false
	}

	c := p.input[p.pos+1]

	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (p *parser) scanName() string {
	start := p.pos

	for !p.eof() {
		ch := p.peek()
		if !(unicode.IsLetter(ch) || unicode.IsDigit(ch) ||
			ch == ':' || ch == '-' || ch == '_' || ch == '.') {
			break
		}

		p.advance()
	}

	return p.input[start:p.pos]
}

func (p *parser) peek() rune {
	if p.eof() {
		return 0
	}

	r, _ := utf8.DecodeRuneInString(p.input[p.pos:])

	return r
}

func (p *parser) peekN(n int) string {
	if p.pos+n > len(p.input) {
		return p.input[p.pos:]
	}

	return p.input[p.pos : p.pos+n]
}

func (p *parser) hasPrefix(s string) bool {
	return strings.HasPrefix(p.input[p.pos:], s)
}

func (p *parser) advance() {
	if p.eof() {
		return
	}

	r, size := utf8.DecodeRuneInString(p.input[p.pos:])

	p.pos += size
	if r == '\n' {
		p.line++
		p.col = 1
	} else {
		p.col++
	}
}

// advanceN advances over n bytes, which must end on a rune boundary.
func (p *parser) advanceN(n int) {
	end := min(p.pos+n, len(p.input))
	for p.pos < end {
		p.advance()
	}
}

func (p *parser) expect(ch rune) bool {
	if p.peek() == ch {
		p.advance()

		return true
	}

	return false
}

func (p *parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *parser) position() Position {
	return Position{
		File:   p.file,
		Offset: p.offset + p.pos,
		Line:   p.line,
		Column: p.col,
	}
}

func (p *parser) skipWhitespace() {
	for !p.eof() && unicode.IsSpace(p.peek()) {
		p.advance()
	}
}

func (p *parser) skipString(quote rune) error {
	at := p.position()

	p.advance() // skip opening quote

	for !p.eof() {
		ch := p.peek()
		if ch == '\\' {
			p.advance() // skip backslash

			if !p.eof() {
				p.advance() // skip escaped char
			}

			continue
		}

		if ch == quote {
			p.advance() // skip closing quote

			return nil
		}

		p.advance()
	}

	return ErrParse.With(
		slog.String("reason", "unterminated string literal"),
	).WithPosition(at)
}
