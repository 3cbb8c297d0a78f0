package sentinel

import (
	"strconv"
	"strings"
)

// ingestHello consumes one pub/sub message on the hello channel (§4.5).
// line is the raw nine-token payload published by a monitored node on
// behalf of a peer supervisor.
func (e *Engine) ingestHello(line string) {
	line = strings.TrimSpace(line)
	fields := strings.Split(line, ",")
	if len(fields) != 9 {
		return
	}
	if strings.Contains(line, e.RunID) {
		return // our own message, looped back by the monitored node
	}

	selfIP := fields[0]
	selfPort, err1 := strconv.Atoi(fields[1])
	selfRunID := fields[2]
	canFailover := fields[3] == "1"
	msgEpoch, err2 := strconv.ParseInt(fields[4], 10, 64)
	primaryName := fields[5]
	primaryIP := fields[6]
	primaryPort, err3 := strconv.Atoi(fields[7])
	masterConfigEpoch, err4 := strconv.ParseInt(fields[8], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return
	}

	primary, ok := e.state.Primaries[primaryName]
	if !ok {
		return
	}
	pd := primary.Primary

	peerAddr := Address{Host: selfIP, Port: selfPort}
	peer := e.findOrCreatePeer(primary, peerAddr, selfRunID)
	peer.LastHelloReceived = e.now()
	if canFailover {
		peer.SetFlag(FlagCanFailover)
	} else {
		peer.ClearFlag(FlagCanFailover)
	}

	if msgEpoch > e.state.CurrentEpoch {
		e.state.CurrentEpoch = msgEpoch
		e.emitEvent(primary, "+new-epoch", nil, "new epoch %d observed via gossip", msgEpoch)
	}

	if masterConfigEpoch > pd.ConfigEpoch {
		advertised := Address{Host: primaryIP, Port: primaryPort}
		if !advertised.Equal(primary.Addr) {
			pd.ConfigEpoch = masterConfigEpoch
			e.addressSwitch(primary, advertised)
		}
	}
}

// findOrCreatePeer implements the defensive dedup of §4.5: any existing
// peer matching addr OR runID is removed before the new record is
// inserted, so restarts with a stable address but new run-id (or a moved
// process keeping its run-id) never leave stale duplicates behind.
func (e *Engine) findOrCreatePeer(primary *Instance, addr Address, runID string) *Instance {
	pd := primary.Primary
	key := addrKey(addr)

	if name, ok := pd.PeerAddr[key]; ok {
		if existing, ok := pd.Peers[name]; ok && existing.RunID == runID {
			return existing
		}
	}

	removed := false
	for name, p := range pd.Peers {
		if addrKey(p.Addr) == key || (runID != "" && p.RunID == runID) {
			delete(pd.Peers, name)
			delete(pd.PeerAddr, addrKey(p.Addr))
			removed = true
		}
	}
	if removed {
		e.emitEvent(primary, "-dup-sentinel", nil, "removed duplicate peer entries for %s/%s", addr, runID)
	}

	peer := newChildInstance(RolePeer, addr)
	peer.RunID = runID
	peer.DownAfter = pd.DownAfter
	pd.Peers[peer.Name] = peer
	pd.PeerAddr[key] = peer.Name
	e.emitEvent(primary, "+sentinel", peer, "new peer %s", identifierPrefix(peer))
	return peer
}
