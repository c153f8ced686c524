package cmd

import (
	"errors"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/ardnew/tagscript/lang"
)

// styles renders check reports. Colors are dropped automatically when the
// writer is not a terminal.
type styles struct {
	ok, fail, pos lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)

	return styles{
		ok:   r.NewStyle().Foreground(lipgloss.Color("2")),
		fail: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		pos:  r.NewStyle().Faint(true),
	}
}

// report formats one check outcome for id.
func (s styles) report(id string, err error) string {
	if err == nil {
		return s.ok.Render("ok") + "   " + id + "\n"
	}

	line := s.fail.Render("FAIL") + " " + id

	var le *lang.Error
	if !errors.As(err, &le) {
		return line + ": " + err.Error() + "\n"
	}

	if pos := le.Position(); pos.IsValid() {
		line += " " + s.pos.Render(pos.String())
	}

	return line + "\n     " + le.Error() + "\n"
}
