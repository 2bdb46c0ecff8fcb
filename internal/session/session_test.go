package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/quantumportal/quantumportal/internal/quantum"
	"github.com/quantumportal/quantumportal/internal/quantum/quantumtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastTiming() Timing {
	return Timing{
		QubitReset:        30 * time.Millisecond,
		BoxReveal:         20 * time.Millisecond,
		BoxReset:          30 * time.Millisecond,
		CollapseScroll:    10 * time.Millisecond,
		RegisterSuperpose: 10 * time.Millisecond,
		RegisterCollapse:  20 * time.Millisecond,
	}
}

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Timing == (Timing{}) {
		opts.Timing = fastTiming()
	}
	s := New("test-session", opts)
	t.Cleanup(s.Close)
	return s
}

func subscribe(t *testing.T, s *Session) <-chan Event {
	t.Helper()
	ch := make(chan Event, 128)
	unsub, err := s.Subscribe(context.Background(), func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	require.NoError(t, err)
	t.Cleanup(unsub)
	return ch
}

func waitForEvent(t *testing.T, ch <-chan Event, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func isSnapshot(match func(Snapshot) bool) func(Event) bool {
	return func(ev Event) bool {
		snap, ok := ev.Data.(Snapshot)
		return ev.Type == EventSnapshot && ok && match(snap)
	}
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := NewLoop(8)
	defer l.Stop()

	var got []int
	for i := range 5 {
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoopStopped(t *testing.T) {
	l := NewLoop(1)
	l.Stop()
	l.Stop()

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrClosed)
}

func TestLoopCallContextCancelled(t *testing.T) {
	l := NewLoop(1)
	defer l.Stop()

	release := make(chan struct{})
	require.True(t, l.Post(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Call(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestLoopTimerStop(t *testing.T) {
	l := NewLoop(4)
	defer l.Stop()

	var ran atomic.Bool
	var timer quantum.Timer
	require.NoError(t, l.Call(context.Background(), func() {
		timer = l.AfterFunc(20*time.Millisecond, func() { ran.Store(true) })
	}))
	require.NoError(t, l.Call(context.Background(), func() {
		assert.True(t, timer.Stop())
		assert.False(t, timer.Stop())
	}))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestLoopTimerFires(t *testing.T) {
	l := NewLoop(4)
	defer l.Stop()

	fired := make(chan struct{})
	require.NoError(t, l.Call(context.Background(), func() {
		l.AfterFunc(5*time.Millisecond, func() { close(fired) })
	}))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestSessionInitialSnapshot(t *testing.T) {
	s := newTestSession(t, Options{})

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-session", snap.SessionID)
	assert.Equal(t, quantum.InitialState(), snap.UI)
	assert.Equal(t, quantum.Superposition, snap.Qubit.Value)
	assert.Equal(t, quantum.BoxClosed, snap.Box.Phase)
	assert.Empty(t, snap.Box.History)
	assert.Len(t, snap.Register.Qubits, quantum.RegisterSize)
	assert.Equal(t, 50, snap.Uncertainty.Position)
	assert.Equal(t, 50, snap.Uncertainty.Momentum)
}

func TestSessionDispatch(t *testing.T) {
	s := newTestSession(t, Options{})
	ctx := context.Background()

	snap, err := s.Dispatch(ctx, quantum.SetLanguage{Language: quantum.LangFI})
	require.NoError(t, err)
	assert.Equal(t, quantum.LangFI, snap.UI.Language)

	snap, err = s.Dispatch(ctx, quantum.ToggleAccessibility{})
	require.NoError(t, err)
	assert.True(t, snap.UI.AccessibilityMode)
	assert.Equal(t, quantum.LangFI, snap.UI.Language)
}

func TestSessionQubitMeasureAndReset(t *testing.T) {
	s := newTestSession(t, Options{Random: quantumtest.NewSequence(1)})
	events := subscribe(t, s)

	snap, err := s.MeasureQubit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, quantum.QubitOne, snap.Qubit.Value)
	assert.Equal(t, 1, snap.UI.Tally.One)

	snap, err = s.MeasureQubit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.UI.Tally.Total(), "second measurement is ignored")

	waitForEvent(t, events, isSnapshot(func(s Snapshot) bool {
		return s.Qubit.Value == quantum.Superposition && s.UI.Tally.Total() == 1
	}))
}

func TestSessionBoxCycle(t *testing.T) {
	s := newTestSession(t, Options{Random: quantumtest.NewSequence(1)})
	events := subscribe(t, s)

	snap, err := s.OpenBox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, quantum.BoxOpening, snap.Box.Phase)

	waitForEvent(t, events, isSnapshot(func(s Snapshot) bool { return s.Box.Phase == quantum.BoxDead }))
	final := waitForEvent(t, events, isSnapshot(func(s Snapshot) bool { return s.Box.Phase == quantum.BoxClosed }))

	box := final.Data.(Snapshot).Box
	assert.Equal(t, []quantum.BoxPhase{quantum.BoxDead}, box.History)
	assert.Equal(t, 100, box.Stats.DeadPct)
}

func TestSessionCollapseScrollsOnce(t *testing.T) {
	s := newTestSession(t, Options{})
	events := subscribe(t, s)
	ctx := context.Background()

	snap, err := s.CollapseWave(ctx)
	require.NoError(t, err)
	assert.True(t, snap.UI.WaveCollapsed)
	_, err = s.CollapseWave(ctx)
	require.NoError(t, err)

	ev := waitForEvent(t, events, func(ev Event) bool { return ev.Type == EventScroll })
	assert.Equal(t, ScrollData{Section: quantum.ObservationSection}, ev.Data)

	time.Sleep(50 * time.Millisecond)
	for {
		select {
		case ev := <-events:
			assert.NotEqual(t, EventScroll, ev.Type, "only the first collapse scrolls")
			continue
		default:
		}
		break
	}
}

func TestSessionRegister(t *testing.T) {
	s := newTestSession(t, Options{Random: quantumtest.NewSequence(0, 1, 1, 0)})
	events := subscribe(t, s)
	ctx := context.Background()

	snap, err := s.ToggleRegisterQubit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, quantum.Ket1, snap.Register.Qubits[1])

	_, err = s.ToggleRegisterQubit(ctx, 7)
	assert.ErrorIs(t, err, quantum.ErrQubitIndex)

	snap, err = s.ComputeRegister(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Register.Computing)

	waitForEvent(t, events, isSnapshot(func(s Snapshot) bool {
		return s.Register.Computing && s.Register.Qubits[0] == quantum.Psi
	}))
	done := waitForEvent(t, events, isSnapshot(func(s Snapshot) bool { return !s.Register.Computing }))
	assert.Equal(t,
		[]quantum.RegisterQubit{quantum.Ket0, quantum.Ket1, quantum.Ket1, quantum.Ket0},
		done.Data.(Snapshot).Register.Qubits)
}

func TestSessionUncertainty(t *testing.T) {
	s := newTestSession(t, Options{})

	snap, err := s.SetPositionCertainty(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, 10, snap.Uncertainty.Momentum)

	_, err = s.SetPositionCertainty(context.Background(), 101)
	assert.ErrorIs(t, err, quantum.ErrCertaintyRange)
}

func TestSessionPointerCoalescing(t *testing.T) {
	s := newTestSession(t, Options{PointerRate: 20})
	events := subscribe(t, s)
	ctx := context.Background()

	snap, err := s.UpdatePointer(ctx, quantum.Pointer{X: 1, Y: 1})
	require.NoError(t, err)
	assert.Equal(t, quantum.Pointer{X: 1, Y: 1}, snap.UI.Pointer, "first update goes straight through")

	for i := 2; i <= 10; i++ {
		snap, err = s.UpdatePointer(ctx, quantum.Pointer{X: float64(i), Y: float64(i)})
		require.NoError(t, err)
	}
	assert.Equal(t, quantum.Pointer{X: 1, Y: 1}, snap.UI.Pointer, "burst is held back")

	waitForEvent(t, events, isSnapshot(func(s Snapshot) bool {
		return s.UI.Pointer == quantum.Pointer{X: 10, Y: 10}
	}))
}

func TestSessionPointerUnlimited(t *testing.T) {
	s := newTestSession(t, Options{})
	for i := range 5 {
		snap, err := s.UpdatePointer(context.Background(), quantum.Pointer{X: float64(i)})
		require.NoError(t, err)
		assert.Equal(t, float64(i), snap.UI.Pointer.X)
	}
}

func TestSessionClose(t *testing.T) {
	s := New("closing", Options{Timing: fastTiming()})
	_, err := s.OpenBox(context.Background())
	require.NoError(t, err)
	_, err = s.ComputeRegister(context.Background())
	require.NoError(t, err)

	s.Close()
	s.Close()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
	_, err = s.MeasureQubit(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Subscribe(context.Background(), func(Event) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSessionUnsubscribe(t *testing.T) {
	s := newTestSession(t, Options{})

	var count atomic.Int32
	unsub, err := s.Subscribe(context.Background(), func(Event) { count.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, int32(1), count.Load(), "initial snapshot delivered")
	assert.Equal(t, 1, s.Subscribers())

	unsub()
	unsub()
	_, err = s.Dispatch(context.Background(), quantum.ToggleTheme{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, 0, s.Subscribers())
}

type recordingObserver struct {
	actions atomic.Int32
	boxes   atomic.Int32
	live    atomic.Int32
}

func (o *recordingObserver) ActionDispatched(quantum.Action, quantum.UIState, quantum.UIState) {
	o.actions.Add(1)
}
func (o *recordingObserver) BoxResolved(quantum.BoxPhase) { o.boxes.Add(1) }
func (o *recordingObserver) SessionsChanged(n int)        { o.live.Store(int32(n)) }

func TestSessionObserver(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestSession(t, Options{Observer: obs, Random: quantumtest.NewSequence(0)})
	ctx := context.Background()

	_, err := s.MeasureQubit(ctx)
	require.NoError(t, err)
	_, err = s.Dispatch(ctx, quantum.SetSection{Section: "tunneling"})
	require.NoError(t, err)
	_, err = s.OpenBox(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(2), obs.actions.Load())
	assert.Eventually(t, func() bool { return obs.boxes.Load() == 1 }, time.Second, 5*time.Millisecond)
}
