package sentinel

import (
	"sort"
	"strconv"
)

// driveFailover advances primary's failover state machine by one step per
// tick (§4.8). startElection/checkElectionWon own the NONE->WAIT_START
// transition and the WAIT_START exit; this handles every stage after a
// leader has been elected.
func (e *Engine) driveFailover(primary *Instance) {
	pd := primary.Primary
	if pd == nil || pd.FailoverState == FailoverNone {
		return
	}

	switch pd.FailoverState {
	case FailoverWaitStart:
		if e.checkElectionWon(primary) {
			e.onElectionWon(primary)
		}

	case FailoverSelectSlave:
		e.selectReplica(primary)

	case FailoverSendSlaveofNoOne:
		e.sendSlaveofNoOne(primary)

	case FailoverWaitPromotion:
		e.checkPromotionTimeout(primary)

	case FailoverReconfSlaves:
		e.reconfigureReplicas(primary)

	case FailoverUpdateConfig:
		e.finishFailover(primary)
	}
}

// onElectionWon is called once checkElectionWon reports victory, moving
// the state machine into SELECT_SLAVE (§4.8).
func (e *Engine) onElectionWon(primary *Instance) {
	pd := primary.Primary
	pd.FailoverState = FailoverSelectSlave
	pd.FailoverStateSince = e.now()
	pd.LastFailoverAttempt = e.now()
	e.emitEvent(primary, "+failover-state-select-slave", primary, "entering SELECT_SLAVE")
}

// runIDLess orders run-ids lexicographically, with a null (empty) run-id
// sorting after any non-null one (§4.8.1).
func runIDLess(a, b string) bool {
	if a == "" {
		return false
	}
	if b == "" {
		return true
	}
	return a < b
}

// selectReplica implements §4.8.1: gate candidates down to those that are
// reachable, fresh, and not too far behind, then rank by ascending
// slave_priority, breaking ties on the lexicographically smallest run-id.
func (e *Engine) selectReplica(primary *Instance) {
	pd := primary.Primary
	now := e.now()

	infoWindow := InfoValidityTime
	if !primary.Has(FlagSDown) {
		infoWindow += InfoPeriodNormal
	}
	downAfter := pd.DownAfter
	if downAfter == 0 {
		downAfter = DefaultDownAfter
	}
	downBoundMs := 10 * downAfter.Milliseconds()
	if !primary.SDownSince.IsZero() {
		downBoundMs += now.Sub(primary.SDownSince).Milliseconds()
	}

	candidates := make([]*Instance, 0, len(pd.Replicas))
	for _, r := range pd.Replicas {
		if r.Has(FlagSDown) || r.Has(FlagODown) || r.Has(FlagDisconnected) {
			continue
		}
		if r.Replica == nil || r.Replica.Priority == 0 {
			continue // priority 0 means "never promote" (§4.8.1)
		}
		if r.LastValidPingReply.IsZero() || now.Sub(r.LastValidPingReply) > InfoValidityTime {
			continue
		}
		if r.LastInfoSnapshot.IsZero() || now.Sub(r.LastInfoSnapshot) > infoWindow {
			continue
		}
		if r.Replica.MasterLinkDownMs > downBoundMs {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		e.emitEvent(primary, "-failover-abort-no-good-slave", nil, "no suitable replica to promote")
		e.abortFailover(primary)
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Replica.Priority != b.Replica.Priority {
			return a.Replica.Priority < b.Replica.Priority
		}
		return runIDLess(a.RunID, b.RunID)
	})

	winner := candidates[0]
	pd.PromotedReplica = winner
	pd.FailoverState = FailoverSendSlaveofNoOne
	pd.FailoverStateSince = e.now()
	winner.SetFlag(FlagPromoted)
	e.emitEvent(primary, "+selected-slave", winner, "selected %s for promotion", identifierPrefix(winner))
	e.emitEvent(primary, "+failover-state-send-slaveof-noone", primary, "entering SEND_SLAVEOF_NOONE")
}

func (e *Engine) sendSlaveofNoOne(primary *Instance) {
	pd := primary.Primary
	winner := pd.PromotedReplica
	if winner == nil || winner.CmdLink == nil || !winner.CmdLink.Connected() {
		return
	}
	e.sendCommand(winner, "generic", "SLAVEOF", "NO", "ONE")
	pd.FailoverState = FailoverWaitPromotion
	pd.FailoverStateSince = e.now()
	e.emitEvent(primary, "+failover-state-wait-promotion", primary, "entering WAIT_PROMOTION")
}

// checkPromotionTimeout aborts the failover if the promoted replica has
// not reported itself as PRIMARY within the failover timeout; the actual
// promotion-confirmed transition happens reactively in
// reactToReplicaReportingPrimary (info.go), matching §4.4/§4.8.
func (e *Engine) checkPromotionTimeout(primary *Instance) {
	pd := primary.Primary
	if e.now().Sub(pd.FailoverStateSince) > pd.FailoverTimeout {
		e.emitEvent(primary, "-failover-abort-no-promoted-slave", nil, "promotion wait timed out")
		e.abortFailover(primary)
	}
}

// reconfigureReplicas implements the RECONF_SLAVES stage (§4.8): send
// SLAVEOF to every other replica, throttled to ParallelSyncs in flight at
// once, until every reachable, non-S_DOWN replica is PROMOTED or
// RECONF_DONE, or the failover has run past its timeout. A RECONF_SENT
// that stalls past SLAVE_RECONF_RETRY_PERIOD is cleared so it can be
// retried; on timeout, a best-effort SLAVEOF is sent to every replica that
// never finished before the state machine moves on regardless.
func (e *Engine) reconfigureReplicas(primary *Instance) {
	pd := primary.Primary
	winner := pd.PromotedReplica
	now := e.now()

	for _, r := range pd.Replicas {
		if r == winner || !r.Has(FlagReconfSent) {
			continue
		}
		if r.Replica != nil && !r.Replica.SlaveofSentAt.IsZero() && now.Sub(r.Replica.SlaveofSentAt) > SlaveReconfRetryPeriod {
			r.ClearFlag(FlagReconfSent)
		}
	}

	inFlight := 0
	allDone := true
	for _, r := range pd.Replicas {
		if r == winner || r.Has(FlagSDown) || r.Has(FlagDisconnected) {
			continue // unreachable replicas don't block RECONF_SLAVES completion
		}
		if r.Has(FlagReconfSent) || r.Has(FlagReconfInProgress) {
			inFlight++
		}
		if !r.Has(FlagReconfDone) {
			allDone = false
		}
	}

	timedOut := now.Sub(pd.FailoverStateSince) > pd.FailoverTimeout
	if timedOut {
		for _, r := range pd.Replicas {
			if r == winner || r.Has(FlagReconfDone) || r.CmdLink == nil || !r.CmdLink.Connected() {
				continue
			}
			e.sendCommand(r, "generic", "SLAVEOF", winner.Addr.Host, strconv.Itoa(winner.Addr.Port))
		}
	}

	if allDone || timedOut {
		pd.FailoverState = FailoverUpdateConfig
		pd.FailoverStateSince = now
		e.emitEvent(primary, "+failover-state-update-config", primary, "entering UPDATE_CONFIG")
		return
	}

	for _, r := range pd.Replicas {
		if inFlight >= pd.ParallelSyncs {
			break
		}
		if r == winner || r.Has(FlagSDown) || r.Has(FlagDisconnected) || r.Has(FlagReconfSent) || r.Has(FlagReconfInProgress) || r.Has(FlagReconfDone) {
			continue
		}
		if r.CmdLink == nil || !r.CmdLink.Connected() {
			continue
		}
		e.sendCommand(r, "generic", "SLAVEOF", winner.Addr.Host, strconv.Itoa(winner.Addr.Port))
		r.SetFlag(FlagReconfSent)
		if r.Replica != nil {
			r.Replica.SlaveofSentAt = now
		}
		inFlight++
	}
}

// finishFailover implements UPDATE_CONFIG (§4.8): adopt the promoted
// replica as the new primary address, bump the config epoch, invoke the
// client-reconfiguration script one final time, and reset all failover
// bookkeeping to NONE.
func (e *Engine) finishFailover(primary *Instance) {
	pd := primary.Primary
	winner := pd.PromotedReplica
	if winner == nil {
		e.abortFailover(primary)
		return
	}

	oldAddr := primary.Addr
	pd.ConfigEpoch = pd.FailoverEpoch
	e.addressSwitch(primary, winner.Addr)

	e.invokeClientReconf(primary, "leader", "end", oldAddr, winner.Addr)
	e.emitEvent(primary, "+switch-master", nil, "%s switched from %s to %s", primary.Name, oldAddr, winner.Addr)

	for _, r := range pd.Replicas {
		r.ClearFlag(FlagReconfSent)
		r.ClearFlag(FlagReconfInProgress)
		r.ClearFlag(FlagReconfDone)
		r.ClearFlag(FlagPromoted)
	}
	primary.ClearFlag(FlagForceFailover)
	pd.FailoverState = FailoverNone
	pd.FailoverStateSince = e.now()
	pd.PromotedReplica = nil
}

// abortFailover implements the abort path referenced throughout §4.8:
// return to NONE, clear in-flight reconfiguration and force-failover
// flags, and leave the primary's down/election bookkeeping untouched so
// the next tick can retry once conditions allow.
func (e *Engine) abortFailover(primary *Instance) {
	pd := primary.Primary
	if pd.PromotedReplica != nil {
		pd.PromotedReplica.ClearFlag(FlagPromoted)
	}
	for _, r := range pd.Replicas {
		r.ClearFlag(FlagReconfSent)
		r.ClearFlag(FlagReconfInProgress)
	}
	primary.ClearFlag(FlagForceFailover)
	pd.FailoverState = FailoverNone
	pd.FailoverStateSince = e.now()
	pd.PromotedReplica = nil
}
