package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"aide/pkg/protocol"
)

// printer writes human output, styled only when w is a terminal.
type printer struct {
	w     io.Writer
	color bool

	ok    lipgloss.Style
	warn  lipgloss.Style
	bad   lipgloss.Style
	muted lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w, color: isTerminal(w)}
	p.ok = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	p.warn = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	p.bad = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	p.muted = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	return p
}

func isTerminal(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

func (p *printer) printf(format string, a ...any) {
	fmt.Fprintf(p.w, format, a...)
}

// table returns a tabwriter over p.w. Callers must Flush it.
func (p *printer) table() *tabwriter.Writer {
	return tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
}

// status colours an activity or approval status.
func (p *printer) status(s string) string {
	switch s {
	case string(protocol.ActivityCompleted), string(protocol.ApprovalApproved):
		return p.style(p.ok, s)
	case string(protocol.ActivityApprovalRequired), string(protocol.ApprovalPending), string(protocol.ActivityCancelled):
		return p.style(p.warn, s)
	case string(protocol.ActivityError), string(protocol.ApprovalRejected), string(protocol.ApprovalExpired):
		return p.style(p.bad, s)
	default:
		return p.style(p.muted, s)
	}
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
