package quantum

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire names of the store actions.
const (
	ActionSetLanguage          = "SET_LANGUAGE"
	ActionToggleAccessibility  = "TOGGLE_ACCESSIBILITY"
	ActionSetSection           = "SET_SECTION"
	ActionIncrementMeasurement = "INCREMENT_MEASUREMENT"
	ActionCollapseWave         = "COLLAPSE_WAVE"
	ActionUpdatePointer        = "UPDATE_MOUSE_POSITION"
	ActionToggleTheme          = "TOGGLE_THEME"
)

// Action is a request to change the UI state. The set of actions is closed:
// only the types in this file implement it.
type Action interface {
	// Type returns the wire name of the action.
	Type() string
	isAction()
}

// SetLanguage switches the display language.
type SetLanguage struct{ Language Language }

// ToggleAccessibility flips accessibility mode.
type ToggleAccessibility struct{}

// SetSection records the section currently in view. Any id is accepted.
type SetSection struct{ Section string }

// IncrementMeasurement adds one measurement result to the tally.
type IncrementMeasurement struct{ Outcome Outcome }

// CollapseWave marks the hero wave function as collapsed.
type CollapseWave struct{}

// UpdatePointer records a new pointer position.
type UpdatePointer struct{ Pointer Pointer }

// ToggleTheme flips between the dark and light theme.
type ToggleTheme struct{}

func (SetLanguage) Type() string          { return ActionSetLanguage }
func (ToggleAccessibility) Type() string  { return ActionToggleAccessibility }
func (SetSection) Type() string           { return ActionSetSection }
func (IncrementMeasurement) Type() string { return ActionIncrementMeasurement }
func (CollapseWave) Type() string         { return ActionCollapseWave }
func (UpdatePointer) Type() string        { return ActionUpdatePointer }
func (ToggleTheme) Type() string          { return ActionToggleTheme }

func (SetLanguage) isAction()          {}
func (ToggleAccessibility) isAction()  {}
func (SetSection) isAction()           {}
func (IncrementMeasurement) isAction() {}
func (CollapseWave) isAction()         {}
func (UpdatePointer) isAction()        {}
func (ToggleTheme) isAction()          {}

// DecodeAction builds a typed action from its wire name and JSON payload.
// Actions without a payload ignore whatever payload is sent.
func DecodeAction(name string, payload json.RawMessage) (Action, error) {
	switch name {
	case ActionSetLanguage:
		var code string
		if err := decodePayload(name, payload, &code); err != nil {
			return nil, err
		}
		lang, err := ParseLanguage(code)
		if err != nil {
			return nil, err
		}
		return SetLanguage{Language: lang}, nil

	case ActionToggleAccessibility:
		return ToggleAccessibility{}, nil

	case ActionSetSection:
		var section string
		if err := decodePayload(name, payload, &section); err != nil {
			return nil, err
		}
		return SetSection{Section: section}, nil

	case ActionIncrementMeasurement:
		var n int
		if err := decodePayload(name, payload, &n); err != nil {
			return nil, err
		}
		o := Outcome(n)
		if !o.Valid() {
			return nil, fmt.Errorf("%w: %s outcome must be 0 or 1, got %d", ErrInvalidPayload, name, n)
		}
		return IncrementMeasurement{Outcome: o}, nil

	case ActionCollapseWave:
		return CollapseWave{}, nil

	case ActionUpdatePointer:
		var p struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		}
		if err := decodePayload(name, payload, &p); err != nil {
			return nil, err
		}
		if p.X == nil || p.Y == nil {
			return nil, fmt.Errorf("%w: %s requires x and y", ErrInvalidPayload, name)
		}
		return UpdatePointer{Pointer: Pointer{X: *p.X, Y: *p.Y}}, nil

	case ActionToggleTheme:
		return ToggleTheme{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

func decodePayload(name string, payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return fmt.Errorf("%w: %s requires a payload", ErrInvalidPayload, name)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
	}
	return nil
}
