package quantum

import (
	"math/rand/v2"
	"time"
)

// Default delays of the demo machines.
const (
	DefaultQubitResetDelay     = 3 * time.Second
	DefaultBoxRevealDelay      = 2 * time.Second
	DefaultBoxResetDelay       = 3 * time.Second
	DefaultCollapseScrollDelay = 1 * time.Second
	DefaultRegisterSuperpose   = 1 * time.Second
	DefaultRegisterCollapse    = 2 * time.Second
)

// Timer is a pending callback created by a Scheduler.
type Timer interface {
	// Stop cancels the callback. It returns false if the callback already
	// ran or was already stopped.
	Stop() bool
}

// Scheduler runs f once after d. Implementations decide which goroutine f
// runs on; the session event loop runs it on the loop itself.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Random draws uniform integers in [0, n).
type Random interface {
	IntN(n int) int
}

type systemRandom struct{}

func (systemRandom) IntN(n int) int { return rand.IntN(n) }

// SystemRandom returns a Random backed by math/rand/v2.
func SystemRandom() Random {
	return systemRandom{}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func orSystem(r Random) Random {
	if r == nil {
		return SystemRandom()
	}
	return r
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
