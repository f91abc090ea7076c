// Package ui shows the progress of an image import in the terminal using
// [tea], with one panel per import stage and a log panel below.
package ui

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertwitch/minixfs/internal/queue"
)

// Handler runs the import user interface.
type Handler struct {
	queueManager *queue.Manager
	program      *tea.Program

	LogWriter *TeaLogWriter

	Initialized atomic.Bool
	Failed      atomic.Bool
}

// NewHandler returns a pointer to a new [Handler] watching queueManager.
// Pressing ctrl+c in the interface calls cancel.
func NewHandler(ctx context.Context, cancel context.CancelFunc, queueManager *queue.Manager) *Handler {
	handler := &Handler{
		queueManager: queueManager,
	}

	handler.program = tea.NewProgram(NewTeaModel(handler, cancel), tea.WithAltScreen(), tea.WithContext(ctx))
	handler.LogWriter = NewTeaLogWriter(handler.program)

	return handler
}

// Launch runs the interface until the user quits or the context ends.
func (h *Handler) Launch() error {
	defer h.LogWriter.Stop()

	if _, err := h.program.Run(); err != nil {
		h.Failed.Store(true)

		return fmt.Errorf("(ui) %w", err)
	}

	return nil
}

// Quit closes the interface.
func (h *Handler) Quit() {
	h.program.Quit()
}

// Run shows the interface while work runs and closes it once work returns.
// If the interface fails, onFailure is called with its error and work keeps
// running. Run returns the error of work.
func (h *Handler) Run(work func() error, onFailure func(error)) error {
	var wg sync.WaitGroup
	var workErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		workErr = work()
		h.Quit()
	}()

	if err := h.Launch(); err != nil && onFailure != nil {
		onFailure(err)
	}

	wg.Wait()

	return workErr
}
