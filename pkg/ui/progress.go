package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#AD8EE6"})
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#00AA00", Dark: "#00FF00"})
	failureStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"})
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"})
)

// TextProgressBar prints one line per step.
type TextProgressBar struct {
	mu      sync.Mutex
	out     io.Writer
	title   string
	total   int
	current int
	ended   bool
	styled  bool
}

var _ ProgressBar = (*TextProgressBar)(nil)

// NewTextProgressBar creates a plain progress bar writing to out.
func NewTextProgressBar(out io.Writer, title string, totalSteps int) *TextProgressBar {
	return &TextProgressBar{out: out, title: title, total: totalSteps}
}

func newStyledProgressBar(out io.Writer, title string, totalSteps int) *TextProgressBar {
	bar := NewTextProgressBar(out, title, totalSteps)
	bar.styled = true
	return bar
}

func (p *TextProgressBar) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

// Start prints the title line.
func (p *TextProgressBar) Start(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := p.title
	if message != "" {
		line += ": " + message
	}
	fmt.Fprintln(p.out, p.render(stepStyle, line))
}

// Next advances one step.
func (p *TextProgressBar) Next(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended {
		return
	}
	p.current++
	prefix := fmt.Sprintf("(%d/%d)", p.current, p.total)
	fmt.Fprintln(p.out, "  "+p.render(dimStyle, prefix)+" "+message)
}

// End prints the final status. Calls after the first are ignored.
func (p *TextProgressBar) End(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended {
		return
	}
	p.ended = true
	if success {
		fmt.Fprintln(p.out, p.render(successStyle, "✔ "+p.title+" succeeded"))
		return
	}
	fmt.Fprintln(p.out, p.render(failureStyle, "✖ "+p.title+" failed"))
}

// Steps returns the number of Next calls so far.
func (p *TextProgressBar) Steps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Ended reports whether End was called.
func (p *TextProgressBar) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}
