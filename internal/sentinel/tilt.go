package sentinel

// checkTilt implements the clock-anomaly guard of §4.12: if the gap
// between two consecutive ticks is wildly larger than the configured
// tick interval (a stopped-the-world pause, a system clock jump, a
// debugger attach), the engine enters TILT mode rather than trusting
// every timer it would otherwise fire during the gap. While TILT is
// active, objective-down declarations, elections, and failovers are
// suppressed (timer.go skips those steps for every primary) but
// links are kept alive and subjective-down tracking keeps running.
func (e *Engine) checkTilt() {
	now := e.now()
	if !e.state.LastTickTime.IsZero() {
		elapsed := now.Sub(e.state.LastTickTime)
		if elapsed < 0 || elapsed > TickInterval+TiltTrigger {
			if !e.state.TiltActive {
				e.state.TiltActive = true
				e.state.TiltStart = now
				e.emitEvent(nil, "+tilt", nil, "tilt mode entered after a %s tick gap", elapsed)
			}
		}
	}
	e.state.LastTickTime = now

	if e.state.TiltActive && now.Sub(e.state.TiltStart) > TiltPeriod {
		e.state.TiltActive = false
		e.emitEvent(nil, "-tilt", nil, "tilt mode cleared")
	}
}
