package sentinel

// tick is the ≈100ms dispatcher of §4.13: the tilt guard runs first,
// then every known instance gets its link-manager and probe steps, then
// primaries get their down-detection, election, and failover steps, and
// finally the script scheduler gets a chance to fork due jobs. Walk
// order is primaries, then each primary's replicas, then each primary's
// peers — mirroring the ownership hierarchy used throughout the engine.
func (e *Engine) tick() {
	e.checkTilt()

	for _, primary := range e.state.Primaries {
		e.reconnect(primary)
		e.probe(primary)

		for _, r := range primary.Primary.Replicas {
			e.reconnect(r)
			e.probe(r)
			e.checkSDown(r)
		}
		for _, p := range primary.Primary.Peers {
			e.reconnect(p)
			e.probe(p)
			e.checkSDown(p)
		}

		e.checkSDown(primary)

		if e.state.TiltActive {
			continue
		}

		e.askPeers(primary)
		e.checkODown(primary)

		pd := primary.Primary
		if primary.Has(FlagODown) && pd.FailoverState == FailoverNone {
			if pd.LastFailoverAttempt.IsZero() || e.now().Sub(pd.LastFailoverAttempt) > 2*pd.FailoverTimeout {
				e.startElection(primary)
			}
		}
		if pd.FailoverState != FailoverNone {
			e.driveFailover(primary)
		}
	}

	e.state.Scripts.Dispatch()
}
