package quantum

// Reduce applies a to s and returns the new state. It is pure and total:
// actions it does not recognize return s unchanged.
func Reduce(s UIState, a Action) UIState {
	switch a := a.(type) {
	case SetLanguage:
		s.Language = a.Language
	case ToggleAccessibility:
		s.AccessibilityMode = !s.AccessibilityMode
	case SetSection:
		s.ActiveSection = a.Section
	case IncrementMeasurement:
		s.Tally = s.Tally.add(a.Outcome)
	case CollapseWave:
		s.WaveCollapsed = true
	case UpdatePointer:
		s.Pointer = a.Pointer
	case ToggleTheme:
		s.DarkMode = !s.DarkMode
	}
	return s
}

// Dispatcher is the part of the Store the demo machines depend on.
type Dispatcher interface {
	Dispatch(a Action) UIState
	State() UIState
}

// Listener is called after every dispatch with the state before and after.
type Listener func(prev, next UIState, a Action)

// Store owns a UIState and applies actions to it through Reduce.
//
// A Store is not safe for concurrent use; a session confines it to its event
// loop.
type Store struct {
	state     UIState
	listeners []listenerEntry
	nextID    int
}

type listenerEntry struct {
	id int
	fn Listener
}

// NewStore creates a store holding initial.
func NewStore(initial UIState) *Store {
	return &Store{state: initial}
}

// State returns the current state.
func (s *Store) State() UIState {
	return s.state
}

// Dispatch applies a, notifies listeners, and returns the new state.
func (s *Store) Dispatch(a Action) UIState {
	prev := s.state
	s.state = Reduce(prev, a)
	for _, l := range s.listeners {
		l.fn(prev, s.state, a)
	}
	return s.state
}

// Subscribe registers fn to run after each dispatch. The returned function
// removes it again.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}
