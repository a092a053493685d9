package dispatch

import (
	"sync"
	"time"

	"ecchat/internal/negotiate"
)

// TimerSet arms wall-clock timers and reports each firing handle on C. A
// cancelled handle is never reported.
type TimerSet struct {
	mu     sync.Mutex
	next   negotiate.Handle
	active map[negotiate.Handle]*time.Timer
	fired  chan negotiate.Handle
	done   chan struct{}
	closed bool
}

func NewTimerSet() *TimerSet {
	return &TimerSet{
		active: make(map[negotiate.Handle]*time.Timer),
		fired:  make(chan negotiate.Handle, 16),
		done:   make(chan struct{}),
	}
}

func (t *TimerSet) C() <-chan negotiate.Handle { return t.fired }

func (t *TimerSet) Arm(d time.Duration) negotiate.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h := t.next
	if t.closed {
		return h
	}
	t.active[h] = time.AfterFunc(d, func() { t.fire(h) })
	return h
}

func (t *TimerSet) fire(h negotiate.Handle) {
	t.mu.Lock()
	_, ok := t.active[h]
	delete(t.active, h)
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case t.fired <- h:
	case <-t.done:
	}
}

func (t *TimerSet) Cancel(h negotiate.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.active[h]; ok {
		tm.Stop()
		delete(t.active, h)
	}
}

// Len reports the number of armed timers.
func (t *TimerSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Stop cancels every timer. Arm after Stop returns inert handles.
func (t *TimerSet) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for h, tm := range t.active {
		tm.Stop()
		delete(t.active, h)
	}
	close(t.done)
}
