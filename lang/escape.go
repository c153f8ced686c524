package lang

import "html"

// Escaper escapes binding output. Text is used for element content and
// Attr for attribute values.
type Escaper interface {
	Text(s string) string
	Attr(s string) string
}

// HTMLEscaper escapes the five HTML special characters in both contexts.
type HTMLEscaper struct{}

func (HTMLEscaper) Text(s string) string { return html.EscapeString(s) }
func (HTMLEscaper) Attr(s string) string { return html.EscapeString(s) }

// NoEscaper passes output through unchanged.
type NoEscaper struct{}

func (NoEscaper) Text(s string) string { return s }
func (NoEscaper) Attr(s string) string { return s }
