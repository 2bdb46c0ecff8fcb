package quantum

import "time"

// QubitValue is the displayed value of the single-qubit demo.
type QubitValue int

const (
	Superposition QubitValue = iota
	QubitZero
	QubitOne
)

func (v QubitValue) String() string {
	switch v {
	case QubitZero:
		return "0"
	case QubitOne:
		return "1"
	default:
		return "superposition"
	}
}

// MarshalText encodes the value as "superposition", "0" or "1".
func (v QubitValue) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// QubitConfig wires a QubitDemo to its collaborators.
type QubitConfig struct {
	Store     Dispatcher
	Scheduler Scheduler
	Random    Random

	// ResetDelay is how long a measured value stays visible.
	// Zero means DefaultQubitResetDelay.
	ResetDelay time.Duration

	// OnChange is called after the timer returns the qubit to superposition.
	OnChange func()
}

// QubitDemo is the measure-a-qubit demo. A measurement draws 0 or 1, records
// it in the store tally and returns to superposition after ResetDelay.
type QubitDemo struct {
	cfg    QubitConfig
	value  QubitValue
	reset  Timer
	closed bool
}

// NewQubitDemo creates a demo in superposition.
func NewQubitDemo(cfg QubitConfig) *QubitDemo {
	cfg.Random = orSystem(cfg.Random)
	cfg.ResetDelay = orDefault(cfg.ResetDelay, DefaultQubitResetDelay)
	return &QubitDemo{cfg: cfg, value: Superposition}
}

// Value returns the current value.
func (q *QubitDemo) Value() QubitValue {
	return q.value
}

// Measure collapses the qubit. It does nothing and returns false unless the
// qubit is in superposition.
func (q *QubitDemo) Measure() (Outcome, bool) {
	if q.closed || q.value != Superposition {
		return 0, false
	}

	outcome := Outcome(q.cfg.Random.IntN(2))
	if outcome == OutcomeOne {
		q.value = QubitOne
	} else {
		q.value = QubitZero
	}
	q.cfg.Store.Dispatch(IncrementMeasurement{Outcome: outcome})
	q.reset = q.cfg.Scheduler.AfterFunc(q.cfg.ResetDelay, q.returnToSuperposition)
	return outcome, true
}

func (q *QubitDemo) returnToSuperposition() {
	q.reset = nil
	if q.closed {
		return
	}
	q.value = Superposition
	if q.cfg.OnChange != nil {
		q.cfg.OnChange()
	}
}

// Close cancels a pending reset. The demo ignores further measurements.
func (q *QubitDemo) Close() {
	q.closed = true
	stopTimer(&q.reset)
}
