package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/ardnew/tagscript/lang"
)

// Tags lists the registered control tags and their attributes.
type Tags struct{}

// Run executes the tags command.
func (Tags) Run(ctx context.Context) error {
	env := envFrom(ctx)
	reg := env.Engine.Registry()

	for _, name := range reg.Names() {
		spec, ok := reg.Lookup(strings.TrimPrefix(name, lang.TagPrefix))
		if !ok {
			continue
		}

		if _, err := fmt.Fprintln(env.Stdout, describeTag(spec)); err != nil {
			return ErrWriteOutput.Wrap(err)
		}
	}

	return nil
}

// describeTag renders a one-line synopsis such as
// `<t:loop from= to= [index=]>...</t:loop>`.
func describeTag(spec *lang.TagSpec) string {
	var sb strings.Builder

	sb.WriteString("<" + lang.TagPrefix + spec.Name)

	for _, a := range spec.Attrs {
		if a.Required {
			sb.WriteString(" " + a.Name + "=")
		} else {
			sb.WriteString(" [" + a.Name + "=]")
		}
	}

	if spec.Body == lang.BodyRequired {
		sb.WriteString(">...</" + lang.TagPrefix + spec.Name + ">")
	} else {
		sb.WriteString("/>")
	}

	switch {
	case spec.Parent != "":
		sb.WriteString("  (in " + lang.TagPrefix + spec.Parent + ")")
	case len(spec.Within) > 0:
		sb.WriteString("  (within " + lang.TagPrefix + strings.Join(spec.Within, ", "+lang.TagPrefix) + ")")
	case spec.TopLevel:
		sb.WriteString("  (top level)")
	}

	return sb.String()
}
