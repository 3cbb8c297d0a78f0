package sentinel

import "time"

// addressSwitch implements §4.9: re-point primary at newAddr. The replica
// record that held newAddr (if any) is dropped, since that address now
// belongs to the primary itself; the old primary address is tracked as a
// replica; links are torn down and down state is cleared. Triggered either
// by a gossip config-epoch bump (hello.go) or by UPDATE_CONFIG at the
// end of a successful failover (failover.go).
func (e *Engine) addressSwitch(primary *Instance, newAddr Address) {
	if primary.Addr.Equal(newAddr) {
		return
	}
	pd := primary.Primary

	oldAddr := primary.Addr

	if winner, ok := pd.Replicas[derivedName(newAddr)]; ok {
		delete(pd.Replicas, winner.Name)
	}

	// the old primary address becomes a tracked replica so it is picked up
	// again once it comes back; only an unset (zero-port) address is skipped.
	if oldAddr.Port != 0 {
		demoted := newChildInstance(RoleReplica, oldAddr)
		demoted.Replica = &ReplicaData{Parent: primary, Priority: DefaultReplicaPriority, AddrChangeTime: e.now()}
		demoted.DownAfter = pd.DownAfter
		pd.Replicas[demoted.Name] = demoted
	}

	primary.Addr = newAddr

	// force a fresh link and info snapshot against the new address
	if lp, ok := e.links[primary]; ok {
		if lp.cmd != nil {
			lp.cmd.Close()
		}
		if lp.pubsub != nil {
			lp.pubsub.Close()
		}
		delete(e.links, primary)
	}
	primary.CmdLink = nil
	primary.PubSubLink = nil
	primary.SetFlag(FlagDisconnected)
	primary.LastInfoSnapshot = time.Time{}

	// the instance behind newAddr is taking over as primary fresh; it
	// carries none of the old primary's down history, and peers are kept
	// as-is per the reset-preserving-peers rule of §4.9.
	primary.ClearFlag(FlagSDown)
	primary.ClearFlag(FlagODown)
	primary.SDownSince = time.Time{}
	primary.ODownSince = time.Time{}
	pd.LastDownEventAt = time.Time{}

	e.emitEvent(primary, "+switch-master", primary, "%s address switched from %s to %s", primary.Name, oldAddr, newAddr)
}
