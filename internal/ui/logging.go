package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// LogMsg is one formatted log record on its way to the log panel.
type LogMsg string

type teaProgramProvider interface {
	Send(msg tea.Msg)
}

// TeaLogWriter is an [io.Writer] for a [slog.Handler] that forwards every
// record to a [tea.Program] as a [LogMsg].
type TeaLogWriter struct {
	program teaProgramProvider
	done    chan struct{}
	logs    chan LogMsg
}

// NewTeaLogWriter returns a pointer to a new [TeaLogWriter] and starts
// forwarding. Call [TeaLogWriter.Stop] once no more logs are written.
func NewTeaLogWriter(program teaProgramProvider) *TeaLogWriter {
	wr := &TeaLogWriter{
		program: program,
		done:    make(chan struct{}),
		logs:    make(chan LogMsg, 1000), //nolint:mnd
	}

	go wr.forward()

	return wr
}

// Stop ends forwarding. Records written afterwards are dropped.
func (wr *TeaLogWriter) Stop() {
	close(wr.done)
}

func (wr *TeaLogWriter) forward() {
	for {
		select {
		case <-wr.done:
			return
		case msg := <-wr.logs:
			wr.program.Send(msg)
		}
	}
}

// Write queues p for the log panel. It never fails.
func (wr *TeaLogWriter) Write(p []byte) (int, error) {
	select {
	case <-wr.done:
	case wr.logs <- LogMsg(p):
	}

	return len(p), nil
}
