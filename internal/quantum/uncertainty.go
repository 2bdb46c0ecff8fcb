package quantum

import "fmt"

// Uncertainty is the position/momentum trade-off meter. Position and
// momentum certainty always add up to 100.
type Uncertainty struct {
	position int
}

// NewUncertainty returns a meter at the balanced 50/50 point.
func NewUncertainty() Uncertainty {
	return Uncertainty{position: 50}
}

// Position returns the position certainty in percent.
func (u Uncertainty) Position() int { return u.position }

// Momentum returns the momentum certainty in percent.
func (u Uncertainty) Momentum() int { return 100 - u.position }

// SetPosition sets the position certainty. Values outside 0..100 are rejected.
func (u *Uncertainty) SetPosition(p int) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("%w: %d", ErrCertaintyRange, p)
	}
	u.position = p
	return nil
}
