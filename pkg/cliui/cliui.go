// Package cliui provides terminal helpers (spinners, step indicators, styled
// key/value output, markdown rendering) for memsync CLI commands.
package cliui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	SuccessMark = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	WarnMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("!")

	StepStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	KeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	ValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	DimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	IDStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	TitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Bold(true)
	ErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// Step prints an animated spinner while fn runs, then replaces it with
// a ✓ or ✗ and the elapsed time.
func Step(w io.Writer, msg string, fn func() error) error {
	done := make(chan struct{})
	stopped := make(chan struct{})
	var mu sync.Mutex

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for frame := 0; ; frame++ {
			mu.Lock()
			fmt.Fprintf(w, "\r  %s %s", spinnerStyle.Render(spinnerFrames[frame%len(spinnerFrames)]), msg)
			mu.Unlock()

			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	close(done)
	<-stopped

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(w, "\r  %s %s %s\n", Mark(err), msg, StepStyle.Render("("+FormatDuration(elapsed)+")"))

	return err
}

// Mark returns a ✓ for nil errors or ✗ for non-nil errors.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration formats a duration for display (e.g. "12ms", "3.2s", "4m10s").
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Truncate(time.Second).String()
	}
}

// Field is one labelled line of a Fields block.
type Field struct {
	Label string
	Value string
}

// Fields writes aligned "label  value" lines. Empty values render as
// "<not set>".
func Fields(w io.Writer, fields ...Field) {
	width := 0
	for _, f := range fields {
		width = max(width, lipgloss.Width(f.Label))
	}

	for _, f := range fields {
		pad := strings.Repeat(" ", width-lipgloss.Width(f.Label))
		value := ValueStyle.Render(f.Value)
		if f.Value == "" {
			value = DimStyle.Render("<not set>")
		}
		fmt.Fprintf(w, "  %s%s  %s\n", KeyStyle.Render(f.Label), pad, value)
	}
}

// RenderMarkdown renders markdown content for terminal display using glamour.
// The raw content is returned alongside any rendering error.
func RenderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return content, err
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content, err
	}

	return rendered, nil
}
