package sentinel

import "regexp"

// ResetPrimary implements §4.10's reset_primary: every primary whose name
// matches pattern has its replica/peer sets cleared and its failover
// state returned to NONE, forcing full rediscovery from the next INFO
// and hello cycle. Existing links are torn down so the next tick dials
// fresh. Unless keepPeers is set, peer records are dropped along with
// everything else.
func (e *Engine) ResetPrimary(pattern string, keepPeers bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, primary := range e.state.Primaries {
		if !re.MatchString(primary.Name) {
			continue
		}
		count++
		pd := primary.Primary

		for _, r := range pd.Replicas {
			e.closeLinksFor(r)
		}
		pd.Replicas = make(map[string]*Instance)

		if !keepPeers {
			for _, p := range pd.Peers {
				e.closeLinksFor(p)
			}
			pd.Peers = make(map[string]*Instance)
			pd.PeerAddr = make(map[string]string)
		}

		pd.FailoverState = FailoverNone
		pd.PromotedReplica = nil
		pd.VotedLeaderRunID = ""
		pd.VotedLeaderEpoch = 0

		primary.ClearFlag(FlagSDown)
		primary.ClearFlag(FlagODown)
		primary.RoleReported = RolePrimary
		e.closeLinksFor(primary)

		e.emitEvent(primary, "+reset-master", primary, "reset %s", primary.Name)
	}
	return count, nil
}

func (e *Engine) closeLinksFor(inst *Instance) {
	if lp, ok := e.links[inst]; ok {
		if lp.cmd != nil {
			lp.cmd.Close()
		}
		if lp.pubsub != nil {
			lp.pubsub.Close()
		}
		delete(e.links, inst)
	}
	inst.CmdLink = nil
	inst.PubSubLink = nil
	inst.SetFlag(FlagDisconnected)
}
