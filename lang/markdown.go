package lang

import (
	"bytes"
	"log/slog"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// MarkdownTag returns the t:markdown extension tag. Its body is rendered
// first, then converted from Markdown (GitHub flavor) to HTML. With the
// unsafe attribute, raw HTML in the Markdown source is kept.
func MarkdownTag() TagSpec {
	return TagSpec{
		Name:  "markdown",
		Attrs: []AttrSpec{{Name: "unsafe"}},
		Body:  BodyRequired,
		Build: buildMarkdown,
		Exec:  execMarkdown,
	}
}

func buildMarkdown(b *Builder) (Node, error) {
	unsafe, err := b.Bool("unsafe", false)
	if err != nil {
		return nil, err
	}

	opts := []goldmark.Option{goldmark.WithExtensions(extension.GFM)}
	if unsafe {
		opts = append(opts, goldmark.WithRendererOptions(html.WithUnsafe()))
	}

	return &Extension{
		base:  base{At: b.Pos()},
		Name:  b.Name(),
		Attrs: b.Attrs(),
		Body:  b.Body(),
		Data:  goldmark.New(opts...),
	}, nil
}

func execMarkdown(in *Interp, n Node) error {
	ext := n.(*Extension)

	md, ok := ext.Data.(goldmark.Markdown)
	if !ok {
		return ErrInvalidAttribute.With(slog.String("tag", TagPrefix+ext.Name))
	}

	src, err := in.Capture(ext.Body)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return ErrOperation.Wrap(err).With(slog.String("tag", TagPrefix+ext.Name))
	}

	in.Write(buf.String())

	return nil
}
