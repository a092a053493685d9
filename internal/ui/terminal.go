// Package ui is the terminal front end: a bubbletea screen with the
// transcript, a status line and the input prompt.
package ui

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"ecchat/internal/dispatch"
)

type Options struct {
	Version string
	Name    string
	Other   string

	// In and Out default to the process terminal.
	In  io.Reader
	Out io.Writer
	Now func() time.Time
}

// Terminal implements dispatch.UI on top of a bubbletea program. Input
// lines are queued without bound so the screen never waits on the
// dispatcher.
type Terminal struct {
	prog *tea.Program
	now  func() time.Time

	lines chan string
	done  chan struct{}
	wake  chan struct{}

	mu    sync.Mutex
	queue []string
}

var _ dispatch.UI = (*Terminal)(nil)

func New(ctx context.Context, opts Options) *Terminal {
	t := &Terminal{
		now:   opts.Now,
		lines: make(chan string),
		done:  make(chan struct{}),
		wake:  make(chan struct{}, 1),
	}
	if t.now == nil {
		t.now = time.Now
	}
	popts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
	if opts.In != nil {
		popts = append(popts, tea.WithInput(opts.In))
	}
	if opts.Out != nil {
		popts = append(popts, tea.WithOutput(opts.Out))
	}
	t.prog = tea.NewProgram(newModel(opts.Version, opts.Name, opts.Other, t.enqueue), popts...)
	return t
}

// Input yields submitted lines. It is closed when the screen exits.
func (t *Terminal) Input() <-chan string { return t.lines }

func (t *Terminal) Append(role dispatch.Role, text string) {
	t.prog.Send(appendMsg{role: role, text: text, at: t.now()})
}

func (t *Terminal) SetStatus(text string) {
	t.prog.Send(statusMsg(text))
}

// Run shows the screen until the user quits or ctx ends.
func (t *Terminal) Run(ctx context.Context) error {
	fwd := make(chan struct{})
	go func() {
		defer close(fwd)
		t.forward()
	}()
	_, err := t.prog.Run()
	close(t.done)
	<-fwd
	close(t.lines)
	if errors.Is(err, tea.ErrProgramKilled) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (t *Terminal) enqueue(line string) {
	t.mu.Lock()
	t.queue = append(t.queue, line)
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Terminal) forward() {
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.mu.Unlock()
			select {
			case <-t.wake:
				continue
			case <-t.done:
				return
			}
		}
		line := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()
		select {
		case t.lines <- line:
		case <-t.done:
			return
		}
	}
}
