package quantum

import "time"

// ObservationSection is where the portal navigates after the first collapse.
const ObservationSection = "observation"

// GateConfig wires a WaveGate to its collaborators.
type GateConfig struct {
	Store     Dispatcher
	Scheduler Scheduler

	// ScrollDelay is the pause between collapse and navigation.
	// Zero means DefaultCollapseScrollDelay.
	ScrollDelay time.Duration

	// Navigate moves the view to a section.
	Navigate func(section string)
}

// WaveGate handles the hero "observe" interaction.
type WaveGate struct {
	cfg    GateConfig
	scroll Timer
	closed bool
}

// NewWaveGate creates a gate.
func NewWaveGate(cfg GateConfig) *WaveGate {
	cfg.ScrollDelay = orDefault(cfg.ScrollDelay, DefaultCollapseScrollDelay)
	return &WaveGate{cfg: cfg}
}

// Collapse collapses the wave. Only the first collapse schedules the
// navigation to ObservationSection; it returns true in that case.
func (g *WaveGate) Collapse() bool {
	already := g.cfg.Store.State().WaveCollapsed
	g.cfg.Store.Dispatch(CollapseWave{})
	if already || g.closed {
		return false
	}
	g.scroll = g.cfg.Scheduler.AfterFunc(g.cfg.ScrollDelay, func() {
		g.scroll = nil
		if g.closed || g.cfg.Navigate == nil {
			return
		}
		g.cfg.Navigate(ObservationSection)
	})
	return true
}

// Close cancels a pending navigation.
func (g *WaveGate) Close() {
	g.closed = true
	stopTimer(&g.scroll)
}
