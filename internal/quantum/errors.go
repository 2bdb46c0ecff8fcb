package quantum

import "errors"

var (
	// ErrUnknownAction is returned by DecodeAction for action names the store
	// does not know.
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidPayload is returned when an action payload is outside its domain.
	ErrInvalidPayload = errors.New("invalid action payload")

	// ErrQubitIndex is returned for register indices outside 0..RegisterSize-1.
	ErrQubitIndex = errors.New("qubit index out of range")

	// ErrUnknownGate is returned by ParseGate for gates other than H, X and Z.
	ErrUnknownGate = errors.New("unknown gate")

	// ErrCertaintyRange is returned for position certainty values outside 0..100.
	ErrCertaintyRange = errors.New("position certainty out of range")
)
