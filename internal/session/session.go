// Package session hosts one portal visitor's state: the UI store and the demo
// machines, confined to a single event loop and addressed by id.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quantumportal/quantumportal/internal/quantum"
)

// Event types published to subscribers.
const (
	EventSnapshot = "snapshot"
	EventScroll   = "scroll"
)

// Event is pushed to subscribers whenever the view should update.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ScrollData asks the view to bring a section into view.
type ScrollData struct {
	Section string `json:"section"`
}

// Snapshot is everything the view needs to render a session.
type Snapshot struct {
	SessionID   string          `json:"sessionId"`
	UI          quantum.UIState `json:"ui"`
	Qubit       QubitView       `json:"qubit"`
	Box         BoxView         `json:"box"`
	Register    RegisterView    `json:"register"`
	Uncertainty UncertaintyView `json:"uncertainty"`
}

type QubitView struct {
	Value quantum.QubitValue `json:"value"`
}

type BoxView struct {
	Phase   quantum.BoxPhase   `json:"phase"`
	History []quantum.BoxPhase `json:"history"`
	Stats   quantum.BoxStats   `json:"stats"`
}

type RegisterView struct {
	Qubits    []quantum.RegisterQubit `json:"qubits"`
	Computing bool                    `json:"computing"`
}

type UncertaintyView struct {
	Position int `json:"position"`
	Momentum int `json:"momentum"`
}

// Timing holds the demo delays. Zero values use the quantum package defaults.
type Timing struct {
	QubitReset        time.Duration
	BoxReveal         time.Duration
	BoxReset          time.Duration
	CollapseScroll    time.Duration
	RegisterSuperpose time.Duration
	RegisterCollapse  time.Duration
}

// Observer receives domain events, typically to update metrics.
// Methods may be called from any goroutine and must not block.
type Observer interface {
	ActionDispatched(a quantum.Action, prev, next quantum.UIState)
	BoxResolved(outcome quantum.BoxPhase)
	SessionsChanged(live int)
}

type nopObserver struct{}

func (nopObserver) ActionDispatched(quantum.Action, quantum.UIState, quantum.UIState) {}
func (nopObserver) BoxResolved(quantum.BoxPhase)                                      {}
func (nopObserver) SessionsChanged(int)                                               {}

// Options configure a session.
type Options struct {
	Timing Timing

	// PointerRate caps pointer updates per second. Updates above the rate
	// are coalesced into one trailing update. Zero disables the cap.
	PointerRate float64

	Random   quantum.Random
	Logger   *zap.Logger
	Observer Observer

	// QueueSize is the loop's task buffer. Zero means 64.
	QueueSize int
}

// Session is one visitor's portal state.
type Session struct {
	id      string
	created time.Time
	loop    *Loop
	logger  *zap.Logger

	// Owned by the loop goroutine.
	store       *quantum.Store
	qubit       *quantum.QubitDemo
	box         *quantum.SchrodingerBox
	gate        *quantum.WaveGate
	register    *quantum.Register
	uncertainty quantum.Uncertainty
	limiter     *rate.Limiter
	pending     *quantum.Pointer
	flush       quantum.Timer
	subs        map[int]func(Event)
	nextSub     int

	lastActive  atomic.Int64
	subscribers atomic.Int32
	closed      atomic.Bool
	closeOnce   sync.Once
}

// New creates a session and starts its loop.
func New(id string, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}

	s := &Session{
		id:          id,
		created:     time.Now(),
		loop:        NewLoop(opts.QueueSize),
		logger:      opts.Logger.With(zap.String("session", id)),
		store:       quantum.NewStore(quantum.InitialState()),
		uncertainty: quantum.NewUncertainty(),
		subs:        make(map[int]func(Event)),
	}
	s.touch()

	if opts.PointerRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.PointerRate), 1)
	}

	observer := opts.Observer
	s.store.Subscribe(func(prev, next quantum.UIState, a quantum.Action) {
		observer.ActionDispatched(a, prev, next)
	})

	s.qubit = quantum.NewQubitDemo(quantum.QubitConfig{
		Store:      s.store,
		Scheduler:  s.loop,
		Random:     opts.Random,
		ResetDelay: opts.Timing.QubitReset,
		OnChange:   s.publishSnapshot,
	})
	s.box = quantum.NewSchrodingerBox(quantum.BoxConfig{
		Scheduler:   s.loop,
		Random:      opts.Random,
		RevealDelay: opts.Timing.BoxReveal,
		ResetDelay:  opts.Timing.BoxReset,
		OnChange:    s.publishSnapshot,
		OnResolve:   observer.BoxResolved,
	})
	s.gate = quantum.NewWaveGate(quantum.GateConfig{
		Store:       s.store,
		Scheduler:   s.loop,
		ScrollDelay: opts.Timing.CollapseScroll,
		Navigate: func(section string) {
			s.publish(Event{Type: EventScroll, Data: ScrollData{Section: section}})
		},
	})
	s.register = quantum.NewRegister(quantum.RegisterConfig{
		Scheduler:      s.loop,
		Random:         opts.Random,
		SuperposeDelay: opts.Timing.RegisterSuperpose,
		CollapseDelay:  opts.Timing.RegisterCollapse,
		OnChange:       s.publishSnapshot,
	})
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Created returns when the session was created.
func (s *Session) Created() time.Time { return s.created }

// LastActive returns the time of the last operation or subscription change.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Subscribers returns the number of live subscriptions.
func (s *Session) Subscribers() int {
	return int(s.subscribers.Load())
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.loop.Done()
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// Dispatch applies a store action. CollapseWave goes through the wave gate so
// the first collapse schedules navigation; pointer updates are rate limited.
func (s *Session) Dispatch(ctx context.Context, a quantum.Action) (Snapshot, error) {
	return s.do(ctx, func() (bool, error) {
		switch a := a.(type) {
		case quantum.CollapseWave:
			s.gate.Collapse()
		case quantum.UpdatePointer:
			return s.updatePointer(a.Pointer), nil
		default:
			s.store.Dispatch(a)
		}
		return true, nil
	})
}

// MeasureQubit measures the single-qubit demo.
func (s *Session) MeasureQubit(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, func() (bool, error) {
		outcome, ok := s.qubit.Measure()
		if ok {
			s.logger.Debug("qubit measured", zap.Int("outcome", int(outcome)))
		}
		return ok, nil
	})
}

// OpenBox opens the Schrodinger box.
func (s *Session) OpenBox(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, func() (bool, error) {
		return s.box.Open(), nil
	})
}

// CollapseWave collapses the hero wave function.
func (s *Session) CollapseWave(ctx context.Context) (Snapshot, error) {
	return s.Dispatch(ctx, quantum.CollapseWave{})
}

// ToggleRegisterQubit cycles register qubit i.
func (s *Session) ToggleRegisterQubit(ctx context.Context, i int) (Snapshot, error) {
	return s.do(ctx, func() (bool, error) {
		return s.register.Toggle(i)
	})
}

// ComputeRegister starts a register computation.
func (s *Session) ComputeRegister(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, func() (bool, error) {
		return s.register.Compute(), nil
	})
}

// ApplyGate applies g to the register.
func (s *Session) ApplyGate(ctx context.Context, g quantum.Gate) (Snapshot, error) {
	return s.do(ctx, func() (bool, error) {
		return s.register.ApplyGate(g), nil
	})
}

// SetPositionCertainty moves the uncertainty meter.
func (s *Session) SetPositionCertainty(ctx context.Context, p int) (Snapshot, error) {
	return s.do(ctx, func() (bool, error) {
		if err := s.uncertainty.SetPosition(p); err != nil {
			return false, err
		}
		return true, nil
	})
}

// UpdatePointer records a pointer position, subject to PointerRate.
func (s *Session) UpdatePointer(ctx context.Context, p quantum.Pointer) (Snapshot, error) {
	return s.Dispatch(ctx, quantum.UpdatePointer{Pointer: p})
}

// Snapshot returns the current state without changing it.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.call(ctx, func() { snap = s.snapshot() })
	return snap, err
}

// Subscribe registers fn for events. fn runs on the session loop and must
// not block. The current snapshot is delivered immediately.
func (s *Session) Subscribe(ctx context.Context, fn func(Event)) (unsubscribe func(), err error) {
	var id int
	err = s.call(ctx, func() {
		s.nextSub++
		id = s.nextSub
		s.subs[id] = fn
		s.subscribers.Add(1)
		fn(Event{Type: EventSnapshot, Data: s.snapshot()})
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.touch()
			s.loop.Post(func() {
				if _, ok := s.subs[id]; ok {
					delete(s.subs, id)
					s.subscribers.Add(-1)
				}
			})
		})
	}, nil
}

// Close cancels every pending timer and stops the loop. It is safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.loop.Call(context.Background(), s.teardown)
		s.closed.Store(true)
		s.loop.Stop()
		s.logger.Debug("session closed")
	})
}

func (s *Session) teardown() {
	s.qubit.Close()
	s.box.Close()
	s.gate.Close()
	s.register.Close()
	if s.flush != nil {
		s.flush.Stop()
		s.flush = nil
	}
	s.pending = nil
	s.subscribers.Add(-int32(len(s.subs)))
	clear(s.subs)
}

func (s *Session) call(ctx context.Context, f func()) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.touch()
	return s.loop.Call(ctx, f)
}

// do runs op on the loop and returns the resulting snapshot. Subscribers get
// the snapshot too when op reports a change.
func (s *Session) do(ctx context.Context, op func() (bool, error)) (Snapshot, error) {
	var (
		snap  Snapshot
		opErr error
	)
	err := s.call(ctx, func() {
		var changed bool
		if changed, opErr = op(); opErr != nil {
			return
		}
		snap = s.snapshot()
		if changed {
			s.publish(Event{Type: EventSnapshot, Data: snap})
		}
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, opErr
}

// updatePointer reports whether p was applied immediately. Otherwise it is
// held until the limiter allows the next update; later positions replace it.
func (s *Session) updatePointer(p quantum.Pointer) bool {
	if s.limiter == nil {
		s.store.Dispatch(quantum.UpdatePointer{Pointer: p})
		return true
	}
	if s.flush != nil {
		s.pending = &p
		return false
	}
	delay := s.limiter.Reserve().Delay()
	if delay == 0 {
		s.store.Dispatch(quantum.UpdatePointer{Pointer: p})
		return true
	}
	s.pending = &p
	s.flush = s.loop.AfterFunc(delay, s.flushPointer)
	return false
}

func (s *Session) flushPointer() {
	s.flush = nil
	if s.pending == nil {
		return
	}
	p := *s.pending
	s.pending = nil
	s.store.Dispatch(quantum.UpdatePointer{Pointer: p})
	s.publishSnapshot()
}

func (s *Session) snapshot() Snapshot {
	qubits := s.register.Qubits()
	return Snapshot{
		SessionID: s.id,
		UI:        s.store.State(),
		Qubit:     QubitView{Value: s.qubit.Value()},
		Box: BoxView{
			Phase:   s.box.Phase(),
			History: s.box.History(),
			Stats:   s.box.Stats(),
		},
		Register: RegisterView{
			Qubits:    qubits[:],
			Computing: s.register.Computing(),
		},
		Uncertainty: UncertaintyView{
			Position: s.uncertainty.Position(),
			Momentum: s.uncertainty.Momentum(),
		},
	}
}

func (s *Session) publishSnapshot() {
	s.publish(Event{Type: EventSnapshot, Data: s.snapshot()})
}

func (s *Session) publish(ev Event) {
	for _, fn := range s.subs {
		fn(ev)
	}
}
