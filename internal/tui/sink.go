package tui

import tea "github.com/charmbracelet/bubbletea"

// Sink adapts one named progress row to the engine's ProgressSink. All
// methods are safe to call from the download goroutines.
type Sink struct {
	prog *tea.Program
	name string
}

// NewSink returns a sink feeding the row registered under name.
func NewSink(p *tea.Program, name string) *Sink {
	return &Sink{prog: p, name: name}
}

func (s *Sink) SetMessage(msg string) { s.prog.Send(SetMessageMsg{Name: s.name, Text: msg}) }

func (s *Sink) Tick() { s.prog.Send(TickMsg{Name: s.name}) }

func (s *Sink) Println(line string) { s.prog.Send(PrintlnMsg{Line: line}) }

func (s *Sink) FinishWithMessage(msg string) { s.prog.Send(FinishMsg{Name: s.name, Text: msg}) }
