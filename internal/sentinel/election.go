package sentinel

// startElection implements the leader-election trigger of §4.7: once a
// primary is O_DOWN and this supervisor is allowed to fail it over, it
// bumps the shared epoch, votes for itself, and asks every peer for its
// vote alongside the next IS-MASTER-DOWN-BY-ADDR ask round.
func (e *Engine) startElection(primary *Instance) {
	pd := primary.Primary
	if pd == nil || (!primary.Has(FlagCanFailover) && !primary.Has(FlagForceFailover)) {
		return
	}
	if pd.FailoverState != FailoverNone {
		return
	}

	e.state.CurrentEpoch++
	pd.VotedLeaderRunID = e.RunID
	pd.VotedLeaderEpoch = e.state.CurrentEpoch

	e.emitEvent(primary, "+new-epoch", nil, "starting election for epoch %d", e.state.CurrentEpoch)
	e.emitEvent(primary, "+vote-for-leader", primary, "%s voted for itself in epoch %d", e.RunID, e.state.CurrentEpoch)

	pd.FailoverState = FailoverWaitStart
	pd.FailoverEpoch = e.state.CurrentEpoch
	pd.FailoverStartTime = e.now().Add(e.jitter(VoteDesyncJitter))
	pd.FailoverStateSince = e.now()
}

// receiveVoteRequest implements the voter side of §4.7: the first peer to
// ask for this epoch gets our vote; later askers in the same epoch are
// told who we already voted for, matching the "vote once per epoch"
// invariant.
func (e *Engine) receiveVoteRequest(primary *Instance, requestedEpoch int64, candidateRunID string) (leaderRunID string, leaderEpoch int64) {
	pd := primary.Primary
	if requestedEpoch > e.state.CurrentEpoch {
		e.state.CurrentEpoch = requestedEpoch
	}
	if pd.VotedLeaderEpoch < requestedEpoch && e.state.CurrentEpoch <= requestedEpoch {
		pd.VotedLeaderRunID = candidateRunID
		pd.VotedLeaderEpoch = requestedEpoch
	}
	return pd.VotedLeaderRunID, pd.VotedLeaderEpoch
}

// checkElectionWon implements the winner determination of §4.7: tallies
// how many peers (plus ourselves) voted for us in the current failover
// epoch, declaring victory once that count reaches quorum and is also a
// strict majority of the known supervisors (peers plus ourselves).
func (e *Engine) checkElectionWon(primary *Instance) bool {
	pd := primary.Primary
	if pd == nil || pd.FailoverState != FailoverWaitStart {
		return false
	}
	if e.now().Before(pd.FailoverStartTime) {
		return false
	}

	votes := 0
	if pd.VotedLeaderRunID == e.RunID && pd.VotedLeaderEpoch == pd.FailoverEpoch {
		votes++
	}
	for _, peer := range pd.Peers {
		if peer.VoteRunID == e.RunID && peer.VoteEpoch == pd.FailoverEpoch {
			votes++
		}
	}
	won := votes >= pd.Quorum && votes > (len(pd.Peers)+1)/2
	if won {
		e.emitEvent(primary, "+elected-leader", primary, "won election for epoch %d with %d votes", pd.FailoverEpoch, votes)
	} else if e.now().Sub(pd.FailoverStateSince) > ElectionTimeout {
		e.emitEvent(primary, "-failover-abort-not-elected", primary, "election for epoch %d timed out", pd.FailoverEpoch)
		e.abortFailover(primary)
	}
	return won
}
