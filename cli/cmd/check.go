package cmd

import (
	"context"
	"io"
	"log/slog"

	"github.com/ardnew/tagscript/log"
)

// Check parses templates without rendering them and reports every error.
type Check struct {
	Templates []string `arg:"" help:"Template path(s) relative to the template root" name:"template"`

	AST    bool `help:"Print each parsed tree as YAML"               short:"a"`
	Indent int  `default:"2" help:"Indent width for --ast; 0 selects flow style" short:"i"`
}

// Run executes the check command.
func (c *Check) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancelCause(ctx)

	defer func(err *error) { cancel(*err) }(&err)

	env := envFrom(ctx)
	st := newStyles(env.Stderr)
	failed := 0

	for _, arg := range c.Templates {
		id := SourceID(arg)

		tmpl, err := env.Engine.Check(ctx, id)

		_, _ = io.WriteString(env.Stderr, st.report(id, err))

		if err != nil {
			failed++

			log.DebugContext(ctx, "check failed",
				slog.String("template", id),
				slog.Any("error", err))

			continue
		}

		if c.AST {
			if err := tmpl.FormatYAML(ctx, env.Stdout, c.Indent); err != nil {
				return ErrYAMLMarshal.With(slog.String("template", id)).Wrap(err)
			}
		}
	}

	if failed > 0 {
		return ErrCheck.With(
			slog.Int("failed", failed),
			slog.Int("total", len(c.Templates)),
		)
	}

	return nil
}
