package cmd

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	greenColor = lipgloss.Color("#10B981")
	redColor   = lipgloss.Color("#EF4444")
	amberColor = lipgloss.Color("#F59E0B")
	mutedColor = lipgloss.Color("#6B7280")
	boldColor  = lipgloss.Color("#A78BFA")
)

// outputStyles renders CLI summaries. All styles are plain unless the
// destination is a terminal.
type outputStyles struct {
	Title lipgloss.Style
	Pass  lipgloss.Style
	Fail  lipgloss.Style
	Warn  lipgloss.Style
	Muted lipgloss.Style
	Key   lipgloss.Style
}

func newOutputStyles(w io.Writer) outputStyles {
	if !isTerminal(w) {
		plain := lipgloss.NewStyle()
		return outputStyles{Title: plain, Pass: plain, Fail: plain, Warn: plain, Muted: plain, Key: plain}
	}
	return outputStyles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(boldColor),
		Pass:  lipgloss.NewStyle().Bold(true).Foreground(greenColor),
		Fail:  lipgloss.NewStyle().Bold(true).Foreground(redColor),
		Warn:  lipgloss.NewStyle().Foreground(amberColor),
		Muted: lipgloss.NewStyle().Foreground(mutedColor),
		Key:   lipgloss.NewStyle().Foreground(boldColor),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
