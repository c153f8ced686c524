package lang

import (
	"bytes"
	"strings"
	"testing"
)

func TestFormatYAML(t *testing.T) {
	tmpl, err := Parse("f.html", `<p>{name}</p><t:set name="n" value="1" scope="request"/>`)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := tmpl.FormatYAML(t.Context(), &buf, 2); err != nil {
		t.Fatal(err)
	}

	out := buf.String()

	for _, want := range []string{
		"source: f.html",
		"kind: Markup",
		"expr: name",
		"kind: Assignment",
		"scope: request",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
