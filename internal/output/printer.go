// Package output renders the operator views of the distsync CLI.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Printer writes CLI output. Colors are dropped when the writer is not a
// terminal or NO_COLOR is set.
type Printer struct {
	writer   io.Writer
	renderer *lipgloss.Renderer
}

// NewPrinter creates a Printer for w
func NewPrinter(w io.Writer) *Printer {
	renderer := lipgloss.NewRenderer(w)
	if !ColorsEnabled(w) {
		renderer.SetColorProfile(termenv.Ascii)
	}
	return &Printer{writer: w, renderer: renderer}
}

// ColorsEnabled reports whether w is a color-capable terminal
func ColorsEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) style(color lipgloss.Color) lipgloss.Style {
	return p.renderer.NewStyle().Foreground(color)
}

// Info writes a line
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.writer, format+"\n", args...)
}

// Warn writes a highlighted line
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.writer, p.style(colorWarn).Render("warning: "+fmt.Sprintf(format, args...)))
}

// Dim writes a de-emphasized line
func (p *Printer) Dim(format string, args ...any) {
	fmt.Fprintln(p.writer, p.style(colorDim).Render(fmt.Sprintf(format, args...)))
}

// Page writes content as is
func (p *Printer) Page(content string) {
	fmt.Fprint(p.writer, content)
}
