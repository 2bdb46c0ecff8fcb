package session

import (
	"context"
	"sync"
	"time"

	"github.com/quantumportal/quantumportal/internal/quantum"
)

// Loop runs posted functions one at a time on a single goroutine. Everything
// a session owns is touched only from inside its loop.
//
// Loop also implements quantum.Scheduler: timer callbacks are posted into the
// loop, so they never race with user actions.
type Loop struct {
	tasks    chan func()
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

// NewLoop starts a loop with room for buffer queued tasks.
func NewLoop(buffer int) *Loop {
	if buffer < 1 {
		buffer = 1
	}
	l := &Loop{
		tasks:  make(chan func(), buffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.exited)
	for {
		select {
		case <-l.done:
			return
		case f := <-l.tasks:
			select {
			case <-l.done:
				return
			default:
			}
			f()
		}
	}
}

// Post queues f. It returns false if the loop has stopped.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- f:
		return true
	case <-l.done:
		return false
	}
}

// Call runs f on the loop and waits for it to finish. It must not be called
// from inside the loop.
func (l *Loop) Call(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.exited:
		// The loop may have run f just before exiting.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the loop and waits for the running task to return. Queued tasks
// are discarded. It must not be called from inside the loop.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
	<-l.exited
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.exited
}

// AfterFunc schedules f to run on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, f func()) quantum.Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.fired = true
			f()
		})
	})
	return t
}

// loopTimer state is only read and written on the loop goroutine.
type loopTimer struct {
	timer   *time.Timer
	stopped bool
	fired   bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}
