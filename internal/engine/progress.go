package engine

import "github.com/charmbracelet/log"

// ProgressSink receives human-facing progress from a download loop. It is
// the loop's only output channel; implementations decide how to render.
// SetMessage replaces the loop's status line, Tick advances its spinner,
// Println emits a durable diagnostic line, FinishWithMessage closes the
// status line for good.
type ProgressSink interface {
	SetMessage(msg string)
	Tick()
	Println(line string)
	FinishWithMessage(msg string)
}

// LogSink reports progress through the session logger. Used for
// --no-progress runs and anywhere a TUI is not attached.
type LogSink struct {
	Logger *log.Logger
	Name   string
}

func (s *LogSink) SetMessage(msg string) { s.Logger.Debug(msg, "loop", s.Name) }

func (s *LogSink) Tick() {}

func (s *LogSink) Println(line string) { s.Logger.Info(line, "loop", s.Name) }

func (s *LogSink) FinishWithMessage(msg string) { s.Logger.Info(msg, "loop", s.Name) }
