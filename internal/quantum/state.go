// Package quantum holds the portal's UI state store and the small state
// machines behind the interactive demos (qubit, Schrodinger box, wave
// collapse, quantum register and the uncertainty meter).
//
// Nothing in this package blocks or starts goroutines. Time and randomness
// come in through the Scheduler and Random interfaces so every transition can
// be driven deterministically from tests.
package quantum

import (
	"encoding/json"
	"fmt"
)

// Language is one of the portal's supported display languages.
type Language string

const (
	LangPL Language = "pl"
	LangEN Language = "en"
	LangFI Language = "fi"
)

// DefaultLanguage is the language a fresh session starts in and the fallback
// for missing translations.
const DefaultLanguage = LangPL

// Languages lists every supported language in display order.
var Languages = []Language{LangPL, LangEN, LangFI}

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	switch l {
	case LangPL, LangEN, LangFI:
		return true
	}
	return false
}

// ParseLanguage converts a language code into a Language.
func ParseLanguage(code string) (Language, error) {
	l := Language(code)
	if !l.Valid() {
		return "", fmt.Errorf("%w: unsupported language %q", ErrInvalidPayload, code)
	}
	return l, nil
}

// Outcome is the result of a single qubit measurement.
type Outcome int

const (
	OutcomeZero Outcome = 0
	OutcomeOne  Outcome = 1
)

// Valid reports whether o is 0 or 1.
func (o Outcome) Valid() bool {
	return o == OutcomeZero || o == OutcomeOne
}

// Tally counts measurement outcomes over the lifetime of a session.
type Tally struct {
	Zero int
	One  int
}

// Total returns the number of recorded measurements.
func (t Tally) Total() int {
	return t.Zero + t.One
}

// Count returns the count recorded for o.
func (t Tally) Count(o Outcome) int {
	if o == OutcomeOne {
		return t.One
	}
	return t.Zero
}

func (t Tally) add(o Outcome) Tally {
	switch o {
	case OutcomeZero:
		t.Zero++
	case OutcomeOne:
		t.One++
	}
	return t
}

// MarshalJSON encodes the tally keyed by outcome, e.g. {"0":3,"1":5}.
func (t Tally) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]int{"0": t.Zero, "1": t.One})
}

// UnmarshalJSON decodes the {"0":n,"1":n} form.
func (t *Tally) UnmarshalJSON(data []byte) error {
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	t.Zero = m["0"]
	t.One = m["1"]
	return nil
}

// Pointer is the last known pointer position in viewport pixels.
type Pointer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DefaultSection is the section active on first load.
const DefaultSection = "hero"

// UIState is the portal-wide UI state. It is a plain value; the only way to
// change a session's state is Store.Dispatch.
type UIState struct {
	Language          Language `json:"language"`
	AccessibilityMode bool     `json:"accessibilityMode"`
	ActiveSection     string   `json:"activeSection"`
	Tally             Tally    `json:"measurementTally"`
	WaveCollapsed     bool     `json:"waveCollapsed"`
	Pointer           Pointer  `json:"pointer"`
	DarkMode          bool     `json:"darkMode"`
}

// InitialState returns the state a new session starts with.
func InitialState() UIState {
	return UIState{
		Language:      DefaultLanguage,
		ActiveSection: DefaultSection,
		DarkMode:      true,
	}
}
