package quantum

import (
	"math"
	"time"
)

// BoxPhase is the phase of the Schrodinger box demo.
type BoxPhase int

const (
	BoxClosed BoxPhase = iota
	BoxOpening
	BoxAlive
	BoxDead
)

func (p BoxPhase) String() string {
	switch p {
	case BoxOpening:
		return "opening"
	case BoxAlive:
		return "alive"
	case BoxDead:
		return "dead"
	default:
		return "closed"
	}
}

// MarshalText encodes the phase name.
func (p BoxPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// BoxStats summarizes the outcomes recorded by a box.
// AlivePct + DeadPct is 100 whenever Total > 0.
type BoxStats struct {
	AliveCount int `json:"aliveCount"`
	DeadCount  int `json:"deadCount"`
	Total      int `json:"total"`
	AlivePct   int `json:"alivePct"`
	DeadPct    int `json:"deadPct"`
}

// ComputeBoxStats derives statistics from an outcome history.
func ComputeBoxStats(history []BoxPhase) BoxStats {
	var st BoxStats
	for _, p := range history {
		switch p {
		case BoxAlive:
			st.AliveCount++
		case BoxDead:
			st.DeadCount++
		}
	}
	st.Total = st.AliveCount + st.DeadCount
	if st.Total == 0 {
		return st
	}
	st.AlivePct = int(math.Round(float64(st.AliveCount) * 100 / float64(st.Total)))
	st.DeadPct = 100 - st.AlivePct
	return st
}

// BoxConfig wires a SchrodingerBox to its collaborators.
type BoxConfig struct {
	Scheduler Scheduler
	Random    Random

	// RevealDelay is the time spent Opening. Zero means DefaultBoxRevealDelay.
	RevealDelay time.Duration
	// ResetDelay is how long the outcome stays visible. Zero means
	// DefaultBoxResetDelay.
	ResetDelay time.Duration

	// OnChange is called after every timer-driven transition.
	OnChange func()
	// OnResolve is called with each outcome as it is appended to the history.
	OnResolve func(BoxPhase)
}

// SchrodingerBox is the open-the-box demo:
// Closed -> Opening -> Alive|Dead -> Closed.
type SchrodingerBox struct {
	cfg     BoxConfig
	phase   BoxPhase
	history []BoxPhase
	timer   Timer
	closed  bool
}

// NewSchrodingerBox creates a closed box with an empty history.
func NewSchrodingerBox(cfg BoxConfig) *SchrodingerBox {
	cfg.Random = orSystem(cfg.Random)
	cfg.RevealDelay = orDefault(cfg.RevealDelay, DefaultBoxRevealDelay)
	cfg.ResetDelay = orDefault(cfg.ResetDelay, DefaultBoxResetDelay)
	return &SchrodingerBox{cfg: cfg, phase: BoxClosed}
}

// Phase returns the current phase.
func (b *SchrodingerBox) Phase() BoxPhase {
	return b.phase
}

// History returns a copy of the recorded outcomes, oldest first.
func (b *SchrodingerBox) History() []BoxPhase {
	out := make([]BoxPhase, len(b.history))
	copy(out, b.history)
	return out
}

// Stats returns statistics over the history.
func (b *SchrodingerBox) Stats() BoxStats {
	return ComputeBoxStats(b.history)
}

// Open starts opening the box. It returns false and does nothing unless the
// box is Closed.
func (b *SchrodingerBox) Open() bool {
	if b.closed || b.phase != BoxClosed {
		return false
	}
	b.phase = BoxOpening
	b.timer = b.cfg.Scheduler.AfterFunc(b.cfg.RevealDelay, b.reveal)
	return true
}

func (b *SchrodingerBox) reveal() {
	b.timer = nil
	if b.closed {
		return
	}
	outcome := BoxDead
	if b.cfg.Random.IntN(2) == 0 {
		outcome = BoxAlive
	}
	b.phase = outcome
	b.history = append(b.history, outcome)
	if b.cfg.OnResolve != nil {
		b.cfg.OnResolve(outcome)
	}
	b.timer = b.cfg.Scheduler.AfterFunc(b.cfg.ResetDelay, b.reset)
	b.changed()
}

func (b *SchrodingerBox) reset() {
	b.timer = nil
	if b.closed {
		return
	}
	b.phase = BoxClosed
	b.changed()
}

func (b *SchrodingerBox) changed() {
	if b.cfg.OnChange != nil {
		b.cfg.OnChange()
	}
}

// Close cancels pending timers.
func (b *SchrodingerBox) Close() {
	b.closed = true
	stopTimer(&b.timer)
}
