package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/ardnew/tagscript/log"
)

// inlineSource names templates given on the command line with --inline.
const inlineSource = "<inline>"

// Render renders one or more templates and concatenates their output.
type Render struct {
	Templates []string `arg:"" help:"Template path(s) relative to the template root" name:"template"`

	Output  string `help:"Write output to this file instead of stdout"            short:"o" type:"path"`
	Session string `default:"cli" help:"Session id backing session-scoped variables"`
	Inline  bool   `help:"Treat arguments as template text instead of paths" short:"e"`
}

// Run executes the render command.
func (r *Render) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancelCause(ctx)

	defer func(err *error) { cancel(*err) }(&err)

	env := envFrom(ctx)

	var buf bytes.Buffer

	for _, arg := range r.Templates {
		start := time.Now()

		var out string

		if r.Inline {
			out, err = env.Engine.RenderString(ctx, arg, env.request(inlineSource, r.Session))
		} else {
			out, err = env.Engine.Render(ctx, env.request(SourceID(arg), r.Session))
		}

		if err != nil {
			return ErrRender.With(slog.String("template", arg)).Wrap(err)
		}

		log.DebugContext(ctx, "rendered",
			slog.String("template", arg),
			slog.Int("bytes", len(out)),
			slog.Duration("elapsed", time.Since(start)))

		buf.WriteString(out)
	}

	if r.Output == "" || r.Output == "-" {
		if _, err := buf.WriteTo(env.Stdout); err != nil {
			return ErrWriteOutput.Wrap(err)
		}

		return nil
	}

	if err := atomic.WriteFile(r.Output, &buf); err != nil {
		return ErrWriteOutput.With(slog.String("file", r.Output)).Wrap(err)
	}

	return nil
}

// SourceID converts a command-line template path to the slash-separated,
// root-relative id the template loader expects.
func SourceID(p string) string {
	id := path.Clean(filepath.ToSlash(p))

	return strings.TrimPrefix(id, "/")
}
