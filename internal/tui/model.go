// Package tui renders live progress for a download session.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// maxLogLines is how much diagnostic history stays on screen.
const maxLogLines = 8

// Messages
type (
	SetMessageMsg struct {
		Name string
		Text string
	}
	TickMsg struct{ Name string }
	PrintlnMsg struct{ Line string }
	FinishMsg struct {
		Name string
		Text string
	}
	DoneMsg  struct{}
	ErrorMsg struct{ Err error }

	frameMsg time.Time
)

type rowState int

const (
	rowActive rowState = iota
	rowDone
)

type row struct {
	name    string
	message string
	ticks   int
	state   rowState
}

// Model is the session progress model: one status row per download loop
// plus a tail of diagnostic lines.
type Model struct {
	streamID string
	mpdURL   string

	rows  map[string]*row
	order []string
	logs  []string

	frame int
	width int
	done  bool
	err   error

	// Cancel is invoked when the user quits before the session finishes.
	Cancel func()
}

// NewModel creates a progress model with one row per loop name, in order.
func NewModel(streamID, mpdURL string, names []string) *Model {
	rows := make(map[string]*row, len(names))
	for _, n := range names {
		rows[n] = &row{name: n, message: "starting..."}
	}
	return &Model{
		streamID: streamID,
		mpdURL:   mpdURL,
		rows:     rows,
		order:    names,
		width:    80,
	}
}

func (m *Model) Init() tea.Cmd {
	return frame()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.Cancel != nil {
				m.Cancel()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case SetMessageMsg:
		if r, ok := m.rows[msg.Name]; ok {
			r.message = msg.Text
		}

	case TickMsg:
		if r, ok := m.rows[msg.Name]; ok {
			r.ticks++
		}

	case PrintlnMsg:
		m.logs = append(m.logs, msg.Line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}

	case FinishMsg:
		if r, ok := m.rows[msg.Name]; ok {
			r.message = msg.Text
			r.state = rowDone
		}

	case DoneMsg:
		m.done = true
		return m, tea.Quit

	case ErrorMsg:
		m.err = msg.Err
		return m, tea.Quit

	case frameMsg:
		m.frame++
		return m, frame()
	}

	return m, nil
}

func (m *Model) View() string {
	w := clamp(m.width-4, 60, 100)

	var b strings.Builder
	b.WriteString(m.viewHeader(w))
	b.WriteString("\n\n")
	b.WriteString(m.viewContent(w))

	return b.String()
}

func (m *Model) viewHeader(w int) string {
	title := titleStyle.Render("↺ relive")
	subtitle := dimStyle.Render(" - live stream archiver")

	idLabel := labelStyle.Render("stream:")
	idValue := valueStyle.Render(m.streamID)

	urlLabel := labelStyle.Render("url:")
	urlValue := dimStyle.Render(truncate(m.mpdURL, w-30))

	line1 := title + subtitle
	line2 := fmt.Sprintf("%s %s  %s %s", idLabel, idValue, urlLabel, urlValue)

	return headerStyle.Width(w).Render(line1 + "\n" + line2)
}

func (m *Model) viewContent(w int) string {
	var b strings.Builder

	for _, name := range m.order {
		b.WriteString(m.renderRow(m.rows[name], w-6))
		b.WriteString("\n")
	}

	if len(m.logs) > 0 {
		b.WriteString("\n")
		for _, line := range m.logs {
			b.WriteString(dimStyle.Render(truncate(line, w-6)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return contentStyle.Width(w).Render(b.String())
}

func (m *Model) renderRow(r *row, w int) string {
	var b strings.Builder

	switch r.name {
	case "video":
		b.WriteString(videoBadge.Render("VIDEO"))
	case "audio":
		b.WriteString(audioBadge.Render("AUDIO"))
	default:
		b.WriteString(liveBadge.Render(strings.ToUpper(r.name)))
	}
	b.WriteString(" ")

	if r.state == rowDone {
		b.WriteString(successStyle.Render("✓"))
	} else {
		b.WriteString(spinnerStyle.Render(spinner[(m.frame+r.ticks)%len(spinner)]))
	}
	b.WriteString(" ")
	b.WriteString(normalStyle.Render(truncate(r.message, w-12)))

	return b.String()
}

func (m *Model) renderStatus() string {
	switch {
	case m.err != nil:
		return errorStyle.Render(fmt.Sprintf("✗ error: %v", m.err))
	case m.done:
		return successStyle.Render("✓ session complete!")
	default:
		return spinnerStyle.Render(spinner[m.frame%len(spinner)]) + dimStyle.Render(" downloading...")
	}
}

func (m *Model) renderHelp() string {
	return helpStyle.Render(
		keyHelpStyle.Render("q") + " quit  " +
			keyHelpStyle.Render("ctrl+c") + " cancel",
	)
}

func frame() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

// Helpers

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
