// Package quantumtest provides deterministic time and randomness for tests of
// the quantum state machines.
package quantumtest

import (
	"sort"
	"time"

	"github.com/quantumportal/quantumportal/internal/quantum"
)

// ManualScheduler is a quantum.Scheduler driven by virtual time. Callbacks
// run synchronously inside Advance, in due-time order.
type ManualScheduler struct {
	now     time.Duration
	seq     int
	pending []*manualTimer
}

type manualTimer struct {
	s       *ManualScheduler
	at      time.Duration
	seq     int
	f       func()
	stopped bool
	fired   bool
}

// NewManualScheduler returns a scheduler at virtual time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc schedules f to run d after the current virtual time.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) quantum.Timer {
	s.seq++
	t := &manualTimer{s: s, at: s.now + d, seq: s.seq, f: f}
	s.pending = append(s.pending, t)
	return t
}

// Advance moves virtual time forward by d, running every callback that
// becomes due, including callbacks scheduled by earlier callbacks.
func (s *ManualScheduler) Advance(d time.Duration) {
	target := s.now + d
	for {
		next := s.nextDue(target)
		if next == nil {
			break
		}
		s.remove(next)
		s.now = next.at
		next.fired = true
		next.f()
	}
	s.now = target
}

// Now returns the current virtual time.
func (s *ManualScheduler) Now() time.Duration {
	return s.now
}

// Pending returns the number of scheduled callbacks that have not run or been
// stopped.
func (s *ManualScheduler) Pending() int {
	return len(s.pending)
}

func (s *ManualScheduler) nextDue(limit time.Duration) *manualTimer {
	sort.SliceStable(s.pending, func(i, j int) bool {
		if s.pending[i].at != s.pending[j].at {
			return s.pending[i].at < s.pending[j].at
		}
		return s.pending[i].seq < s.pending[j].seq
	})
	if len(s.pending) == 0 || s.pending[0].at > limit {
		return nil
	}
	return s.pending[0]
}

func (s *ManualScheduler) remove(t *manualTimer) {
	for i, p := range s.pending {
		if p == t {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.s.remove(t)
	return true
}

// Sequence is a quantum.Random that replays fixed values, cycling when it
// runs out. Each value is reduced modulo n.
type Sequence struct {
	values []int
	next   int
}

// NewSequence returns a Random yielding values in order.
func NewSequence(values ...int) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) IntN(n int) int {
	if len(s.values) == 0 || n <= 0 {
		return 0
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return v % n
}

// Calls returns how many values have been drawn.
func (s *Sequence) Calls() int {
	return s.next
}
