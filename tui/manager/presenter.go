package manager

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/grovetools/virtsession/internal/engine"
)

// Presenter shows the manager in the terminal. Every other surface falls
// through to the embedded headless presenter.
type Presenter struct {
	*engine.HeadlessPresenter

	// NewModel builds the model for each manager surface.
	NewModel func() tea.Model
	// Options are passed to every program.
	Options []tea.ProgramOption
	// OnExit runs when a program ends, whether the user quit or the
	// surface was closed.
	OnExit func(err error)

	mu      sync.Mutex
	windows []*Window
}

// ShowManager starts a bubbletea program for the manager.
func (p *Presenter) ShowManager() (engine.Window, error) {
	prog := tea.NewProgram(p.NewModel(), p.Options...)
	w := &Window{program: prog, done: make(chan struct{})}
	p.mu.Lock()
	p.windows = append(p.windows, w)
	p.mu.Unlock()
	go func() {
		_, err := prog.Run()
		w.err = err
		if p.OnExit != nil {
			p.OnExit(err)
		}
		close(w.done)
	}()
	return w, nil
}

// Wait blocks until every program started so far has exited and the
// terminal is restored, or ctx ends.
func (p *Presenter) Wait(ctx context.Context) error {
	p.mu.Lock()
	windows := append([]*Window(nil), p.windows...)
	p.mu.Unlock()

	for _, w := range windows {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Window is a running manager program.
type Window struct {
	program *tea.Program
	once    sync.Once
	done    chan struct{}
	err     error
}

// Present redraws the manager.
func (w *Window) Present() {
	w.program.Send(tea.ClearScreen())
}

// Close quits the program. It does not wait for the terminal to be
// restored; use Done for that.
func (w *Window) Close() error {
	w.once.Do(w.program.Quit)
	return nil
}

// Done is closed once the program has exited and OnExit has returned.
func (w *Window) Done() <-chan struct{} { return w.done }

// Err is the program's exit error, valid after Done.
func (w *Window) Err() error { return w.err }
