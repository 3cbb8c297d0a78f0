package sentinel

import (
	"strconv"
	"strings"
	"time"
)

// checkSDown implements the subjective-down half of §4.6: an instance is
// S_DOWN once its command link has gone unanswered for longer than the
// owning primary's down-after-period, or, for a primary, once it has kept
// reporting the replica role for longer than down-after-period plus two
// info periods. DownAfter is copied onto every child instance at
// creation/monitor time so a replica or peer inherits its primary's
// configured threshold.
func (e *Engine) checkSDown(inst *Instance) {
	now := e.now()
	threshold := inst.DownAfter
	if threshold == 0 {
		threshold = DefaultDownAfter
	}

	unresponsive := inst.Has(FlagDisconnected) ||
		(!inst.LastValidPingReply.IsZero() && now.Sub(inst.LastValidPingReply) > threshold) ||
		(inst.LastValidPingReply.IsZero() && !inst.LastAnyReply.IsZero() && now.Sub(inst.LastAnyReply) > threshold)
	if inst.Role == RolePrimary && inst.RoleReported == RoleReplica && !inst.RoleReportedSince.IsZero() &&
		now.Sub(inst.RoleReportedSince) > threshold+2*InfoPeriodNormal {
		unresponsive = true
	}

	wasDown := inst.Has(FlagSDown)
	switch {
	case unresponsive && !wasDown:
		inst.SetFlag(FlagSDown)
		inst.SDownSince = now
		var primary *Instance
		if inst.Role == RolePrimary {
			primary = inst
		} else if inst.Replica != nil {
			primary = inst.Replica.Parent
		}
		e.emitEvent(primary, "+sdown", inst, "%s is subjectively down", identifierPrefix(inst))
	case !unresponsive && wasDown:
		inst.ClearFlag(FlagSDown)
		inst.ClearFlag(FlagScriptKillSent)
		inst.SDownSince = time.Time{}
		var primary *Instance
		if inst.Role == RolePrimary {
			primary = inst
		} else if inst.Replica != nil {
			primary = inst.Replica.Parent
		}
		e.emitEvent(primary, "-sdown", inst, "%s is no longer subjectively down", identifierPrefix(inst))
	}
}

// askPeers implements the peer-polling half of §4.6: once primary is
// S_DOWN, every known peer is asked IS-MASTER-DOWN-BY-ADDR at most once
// per AskPeriod, gathering opinions toward the O_DOWN quorum.
func (e *Engine) askPeers(primary *Instance) {
	if primary.Primary == nil || !primary.Has(FlagSDown) {
		return
	}
	now := e.now()
	for _, peer := range primary.Primary.Peers {
		if peer.CmdLink == nil || !peer.CmdLink.Connected() {
			continue
		}
		if !peer.LastAskTime.IsZero() && now.Sub(peer.LastAskTime) < AskPeriod {
			continue
		}
		peer.LastAskTime = now
		e.sendCommand(peer, "ask", "SENTINEL", "IS-MASTER-DOWN-BY-ADDR",
			primary.Addr.Host, strconv.Itoa(primary.Addr.Port),
			strconv.FormatInt(e.state.CurrentEpoch, 10), e.RunID)
	}
}

// onAskReply ingests one peer's answer to IS-MASTER-DOWN-BY-ADDR: a
// three-token "<down_state> <leader_runid> <leader_epoch>" line (§4.6,
// §4.7). The answering peer's opinion is recorded on the peer record itself
// so checkODown can tally it without a second round trip.
func (e *Engine) onAskReply(peer *Instance, line string) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return
	}
	downState := fields[0] == "1"
	leaderRunID := fields[1]
	leaderEpoch, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return
	}

	if downState {
		peer.SetFlag(FlagPrimaryDown)
	} else {
		peer.ClearFlag(FlagPrimaryDown)
	}

	if leaderEpoch > e.state.CurrentEpoch {
		e.state.CurrentEpoch = leaderEpoch
	}
	peer.VoteRunID = leaderRunID
	peer.VoteEpoch = leaderEpoch
	peer.LastAnyReply = e.now()
}

// checkODown implements the objective-down tally of §4.6: once primary is
// S_DOWN, count ourselves plus every peer that currently reports
// FlagPrimaryDown; O_DOWN is declared once that count reaches quorum and
// lifted again when it falls below quorum.
func (e *Engine) checkODown(primary *Instance) {
	pd := primary.Primary
	if pd == nil {
		return
	}
	if !primary.Has(FlagSDown) {
		if primary.Has(FlagODown) {
			primary.ClearFlag(FlagODown)
			e.emitEvent(primary, "-odown", nil, "%s is no longer objectively down", identifierPrefix(primary))
		}
		return
	}

	votes := 1 // ourselves
	for _, peer := range pd.Peers {
		if peer.Has(FlagPrimaryDown) {
			votes++
		}
	}

	wasDown := primary.Has(FlagODown)
	if votes >= pd.Quorum && !wasDown {
		primary.SetFlag(FlagODown)
		pd.LastDownEventAt = e.now()
		e.emitEvent(primary, "+odown", nil, "%s is objectively down (%d/%d quorum)", identifierPrefix(primary), votes, pd.Quorum)
	} else if votes < pd.Quorum && wasDown {
		// peers that answered "not down" had FlagPrimaryDown cleared by
		// onAskReply, so the tally can fall back below quorum.
		primary.ClearFlag(FlagODown)
		e.emitEvent(primary, "-odown", nil, "%s is no longer objectively down (%d/%d quorum)", identifierPrefix(primary), votes, pd.Quorum)
	}
}
