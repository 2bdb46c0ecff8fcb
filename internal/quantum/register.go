package quantum

import (
	"fmt"
	"time"
)

// RegisterSize is the number of qubits in the register demo.
const RegisterSize = 4

// RegisterQubit is the state of one register qubit.
type RegisterQubit int

const (
	Ket0 RegisterQubit = iota
	Ket1
	Psi
)

func (q RegisterQubit) String() string {
	switch q {
	case Ket1:
		return "1"
	case Psi:
		return "ψ"
	default:
		return "0"
	}
}

// MarshalText encodes the qubit as "0", "1" or "ψ".
func (q RegisterQubit) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q RegisterQubit) next() RegisterQubit {
	return (q + 1) % 3
}

// Gate is a single-qubit gate offered by the register demo.
type Gate string

const (
	GateH Gate = "H"
	GateX Gate = "X"
	GateZ Gate = "Z"
)

// Gates lists the available gates in display order.
var Gates = []Gate{GateH, GateX, GateZ}

// ParseGate converts a gate name into a Gate.
func ParseGate(name string) (Gate, error) {
	switch g := Gate(name); g {
	case GateH, GateX, GateZ:
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGate, name)
}

// RegisterConfig wires a Register to its collaborators.
type RegisterConfig struct {
	Scheduler Scheduler
	Random    Random

	// SuperposeDelay is the time until every qubit shows ψ during Compute.
	// Zero means DefaultRegisterSuperpose.
	SuperposeDelay time.Duration
	// CollapseDelay is the time from ψ until the result is drawn.
	// Zero means DefaultRegisterCollapse.
	CollapseDelay time.Duration

	// OnChange is called after every timer-driven transition.
	OnChange func()
}

// Register is the four-qubit quantum computing demo.
type Register struct {
	cfg       RegisterConfig
	qubits    [RegisterSize]RegisterQubit
	computing bool
	timer     Timer
	closed    bool
}

// NewRegister creates a register with every qubit at 0.
func NewRegister(cfg RegisterConfig) *Register {
	cfg.Random = orSystem(cfg.Random)
	cfg.SuperposeDelay = orDefault(cfg.SuperposeDelay, DefaultRegisterSuperpose)
	cfg.CollapseDelay = orDefault(cfg.CollapseDelay, DefaultRegisterCollapse)
	return &Register{cfg: cfg}
}

// Qubits returns the current qubit states.
func (r *Register) Qubits() [RegisterSize]RegisterQubit {
	return r.qubits
}

// Computing reports whether a computation is running.
func (r *Register) Computing() bool {
	return r.computing
}

// Toggle cycles qubit i through 0, 1, ψ. It reports whether anything changed;
// toggles are ignored while computing.
func (r *Register) Toggle(i int) (bool, error) {
	if i < 0 || i >= RegisterSize {
		return false, fmt.Errorf("%w: %d", ErrQubitIndex, i)
	}
	if r.closed || r.computing {
		return false, nil
	}
	r.qubits[i] = r.qubits[i].next()
	return true, nil
}

// Compute runs the two-step computation: all qubits go to ψ, then each
// collapses to 0 or 1. It returns false if a computation is already running.
func (r *Register) Compute() bool {
	if r.closed || r.computing {
		return false
	}
	r.computing = true
	r.timer = r.cfg.Scheduler.AfterFunc(r.cfg.SuperposeDelay, r.superpose)
	return true
}

func (r *Register) superpose() {
	r.timer = nil
	if r.closed {
		return
	}
	for i := range r.qubits {
		r.qubits[i] = Psi
	}
	r.timer = r.cfg.Scheduler.AfterFunc(r.cfg.CollapseDelay, r.collapse)
	r.changed()
}

func (r *Register) collapse() {
	r.timer = nil
	if r.closed {
		return
	}
	for i := range r.qubits {
		r.qubits[i] = RegisterQubit(r.cfg.Random.IntN(2))
	}
	r.computing = false
	r.changed()
}

// ApplyGate redraws every qubit uniformly from {0, 1, ψ}. It is ignored while
// computing.
func (r *Register) ApplyGate(_ Gate) bool {
	if r.closed || r.computing {
		return false
	}
	for i := range r.qubits {
		r.qubits[i] = RegisterQubit(r.cfg.Random.IntN(3))
	}
	return true
}

func (r *Register) changed() {
	if r.cfg.OnChange != nil {
		r.cfg.OnChange()
	}
}

// Close cancels a running computation.
func (r *Register) Close() {
	r.closed = true
	r.computing = false
	stopTimer(&r.timer)
}
