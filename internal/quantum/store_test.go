package quantum

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialState(t *testing.T) {
	s := InitialState()
	assert.Equal(t, LangPL, s.Language)
	assert.False(t, s.AccessibilityMode)
	assert.Equal(t, "hero", s.ActiveSection)
	assert.Equal(t, Tally{}, s.Tally)
	assert.False(t, s.WaveCollapsed)
	assert.Equal(t, Pointer{}, s.Pointer)
	assert.True(t, s.DarkMode)
}

func TestReduce(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		check  func(t *testing.T, s UIState)
	}{
		{
			name:   "set language",
			action: SetLanguage{Language: LangEN},
			check:  func(t *testing.T, s UIState) { assert.Equal(t, LangEN, s.Language) },
		},
		{
			name:   "toggle accessibility",
			action: ToggleAccessibility{},
			check:  func(t *testing.T, s UIState) { assert.True(t, s.AccessibilityMode) },
		},
		{
			name:   "set section accepts any id",
			action: SetSection{Section: "not-a-section"},
			check:  func(t *testing.T, s UIState) { assert.Equal(t, "not-a-section", s.ActiveSection) },
		},
		{
			name:   "increment outcome one",
			action: IncrementMeasurement{Outcome: OutcomeOne},
			check:  func(t *testing.T, s UIState) { assert.Equal(t, Tally{Zero: 0, One: 1}, s.Tally) },
		},
		{
			name:   "collapse wave",
			action: CollapseWave{},
			check:  func(t *testing.T, s UIState) { assert.True(t, s.WaveCollapsed) },
		},
		{
			name:   "update pointer",
			action: UpdatePointer{Pointer: Pointer{X: 10, Y: 20.5}},
			check:  func(t *testing.T, s UIState) { assert.Equal(t, Pointer{X: 10, Y: 20.5}, s.Pointer) },
		},
		{
			name:   "toggle theme",
			action: ToggleTheme{},
			check:  func(t *testing.T, s UIState) { assert.False(t, s.DarkMode) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := InitialState()
			after := Reduce(before, tt.action)
			tt.check(t, after)
			assert.Equal(t, InitialState(), before, "input state must not change")
		})
	}
}

func TestReduceSetLanguageIsIdempotent(t *testing.T) {
	store := NewStore(InitialState())
	store.Dispatch(SetLanguage{Language: LangEN})
	got := store.Dispatch(SetLanguage{Language: LangEN})

	want := InitialState()
	want.Language = LangEN
	assert.Equal(t, want, got)
	assert.Equal(t, want, store.State())
}

func TestReduceToggleTwiceRestores(t *testing.T) {
	s := InitialState()
	s = Reduce(Reduce(s, ToggleAccessibility{}), ToggleAccessibility{})
	assert.False(t, s.AccessibilityMode)
}

func TestReduceCollapseIsSticky(t *testing.T) {
	s := Reduce(InitialState(), CollapseWave{})
	s = Reduce(s, CollapseWave{})
	s = Reduce(s, SetSection{Section: "tunneling"})
	assert.True(t, s.WaveCollapsed)
}

func TestReduceNilActionIsNoop(t *testing.T) {
	s := InitialState()
	assert.Equal(t, s, Reduce(s, nil))
}

func TestStoreTallyMatchesDispatches(t *testing.T) {
	st := NewStore(InitialState())
	outcomes := []Outcome{OutcomeZero, OutcomeOne, OutcomeOne, OutcomeZero, OutcomeOne}
	prevTotal := 0
	for _, o := range outcomes {
		s := st.Dispatch(IncrementMeasurement{Outcome: o})
		require.GreaterOrEqual(t, s.Tally.Total(), prevTotal)
		prevTotal = s.Tally.Total()
	}
	assert.Equal(t, Tally{Zero: 2, One: 3}, st.State().Tally)
	assert.Equal(t, len(outcomes), st.State().Tally.Total())
}

func TestStoreSubscribe(t *testing.T) {
	st := NewStore(InitialState())

	var calls []string
	unsub := st.Subscribe(func(prev, next UIState, a Action) {
		calls = append(calls, a.Type())
		assert.NotEqual(t, prev.Language, next.Language)
	})

	st.Dispatch(SetLanguage{Language: LangFI})
	unsub()
	st.Dispatch(SetLanguage{Language: LangEN})

	assert.Equal(t, []string{ActionSetLanguage}, calls)
	assert.Equal(t, LangEN, st.State().Language)
}

func TestTallyJSON(t *testing.T) {
	data, err := json.Marshal(Tally{Zero: 3, One: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"0":3,"1":5}`, string(data))

	var back Tally
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, Tally{Zero: 3, One: 5}, back)
}

func TestDecodeAction(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		payload string
		want    Action
		wantErr error
	}{
		{"language", ActionSetLanguage, `"fi"`, SetLanguage{Language: LangFI}, nil},
		{"unsupported language", ActionSetLanguage, `"de"`, nil, ErrInvalidPayload},
		{"language wrong type", ActionSetLanguage, `5`, nil, ErrInvalidPayload},
		{"language missing", ActionSetLanguage, ``, nil, ErrInvalidPayload},
		{"accessibility ignores payload", ActionToggleAccessibility, `{"x":1}`, ToggleAccessibility{}, nil},
		{"section", ActionSetSection, `"tunneling"`, SetSection{Section: "tunneling"}, nil},
		{"section null", ActionSetSection, `null`, nil, ErrInvalidPayload},
		{"measurement zero", ActionIncrementMeasurement, `0`, IncrementMeasurement{Outcome: OutcomeZero}, nil},
		{"measurement one", ActionIncrementMeasurement, `1`, IncrementMeasurement{Outcome: OutcomeOne}, nil},
		{"measurement two", ActionIncrementMeasurement, `2`, nil, ErrInvalidPayload},
		{"collapse", ActionCollapseWave, ``, CollapseWave{}, nil},
		{"pointer", ActionUpdatePointer, `{"x":1.5,"y":2}`, UpdatePointer{Pointer: Pointer{X: 1.5, Y: 2}}, nil},
		{"pointer missing y", ActionUpdatePointer, `{"x":1}`, nil, ErrInvalidPayload},
		{"theme", ActionToggleTheme, ``, ToggleTheme{}, nil},
		{"unknown", "EXPLODE", ``, nil, ErrUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAction(tt.typ, json.RawMessage(tt.payload))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.typ, got.Type())
		})
	}
}

func TestParseLanguage(t *testing.T) {
	for _, l := range Languages {
		got, err := ParseLanguage(string(l))
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseLanguage("PL")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestUncertainty(t *testing.T) {
	u := NewUncertainty()
	assert.Equal(t, 50, u.Position())
	assert.Equal(t, 50, u.Momentum())

	require.NoError(t, u.SetPosition(80))
	assert.Equal(t, 80, u.Position())
	assert.Equal(t, 20, u.Momentum())

	assert.ErrorIs(t, u.SetPosition(101), ErrCertaintyRange)
	assert.ErrorIs(t, u.SetPosition(-1), ErrCertaintyRange)
	assert.Equal(t, 80, u.Position())
}

func TestComputeBoxStats(t *testing.T) {
	tests := []struct {
		name    string
		history []BoxPhase
		want    BoxStats
	}{
		{"empty", nil, BoxStats{}},
		{"one alive", []BoxPhase{BoxAlive}, BoxStats{AliveCount: 1, Total: 1, AlivePct: 100, DeadPct: 0}},
		{"thirds", []BoxPhase{BoxAlive, BoxDead, BoxDead}, BoxStats{AliveCount: 1, DeadCount: 2, Total: 3, AlivePct: 33, DeadPct: 67}},
		{"two thirds", []BoxPhase{BoxAlive, BoxAlive, BoxDead}, BoxStats{AliveCount: 2, DeadCount: 1, Total: 3, AlivePct: 67, DeadPct: 33}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBoxStats(tt.history)
			assert.Equal(t, tt.want, got)
			if got.Total > 0 {
				assert.Equal(t, 100, got.AlivePct+got.DeadPct)
			}
		})
	}
}
