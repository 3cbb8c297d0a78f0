package sentinel

import "strconv"

// probe runs the per-instance probe decision of §4.3. It skips the tick
// once MaxPendingCommandsPerLink commands are awaiting replies, and
// otherwise decides *which* command, if any, to issue this tick. There is
// no per-operation-type limit: a command can be issued again on a later
// tick while an earlier one of the same type is still awaiting its reply.
func (e *Engine) probe(inst *Instance) {
	if inst.CmdLink == nil || !inst.CmdLink.Connected() {
		return
	}
	if inst.PendingCommands >= MaxPendingCommandsPerLink {
		return
	}

	now := e.now()

	if inst.Role != RolePeer {
		infoPeriod := InfoPeriodNormal
		if parentIsUrgent(inst) {
			infoPeriod = InfoPeriodUrgent
		}
		if inst.LastInfoSnapshot.IsZero() || now.Sub(inst.LastInfoSnapshot) > infoPeriod {
			e.sendCommand(inst, "info", "INFO")
			return
		}
	}

	if now.Sub(inst.LastAnyReply) > PingPeriod {
		e.sendCommand(inst, "ping", "PING")
		return
	}

	if inst.Role != RolePeer {
		if now.Sub(inst.LastHelloPublish) > PublishPeriod {
			e.publishHello(inst)
		}
	}
}

// parentIsUrgent reports whether inst's own primary (itself, if inst is a
// primary) is in a state that shortens the info-refresh period (§4.3).
func parentIsUrgent(inst *Instance) bool {
	primary := inst
	if inst.Replica != nil && inst.Replica.Parent != nil {
		primary = inst.Replica.Parent
	}
	if primary.Primary == nil {
		return false
	}
	return primary.Has(FlagODown) || primary.Primary.FailoverState != FailoverNone
}

func (e *Engine) sendCommand(inst *Instance, op string, args ...string) {
	if err := inst.CmdLink.Send(op, args...); err == nil {
		inst.PendingCommands++
	}
}

// publishHello sends the nine-token hello payload (§4.3, §6) over inst's
// pub/sub link: self-ip, self-port, self-runid, can-failover, current
// epoch, primary name, primary address, primary config epoch.
func (e *Engine) publishHello(inst *Instance) {
	if inst.PubSubLink == nil || !inst.PubSubLink.Connected() {
		return
	}
	primary := inst
	if inst.Replica != nil && inst.Replica.Parent != nil {
		primary = inst.Replica.Parent
	}
	if primary.Primary == nil {
		return
	}
	canFailover := "0"
	if primary.Has(FlagCanFailover) {
		canFailover = "1"
	}
	payload := joinFields(
		e.SelfAddr.Host,
		strconv.Itoa(e.SelfAddr.Port),
		e.RunID,
		canFailover,
		strconv.FormatInt(e.state.CurrentEpoch, 10),
		primary.Name,
		primary.Addr.Host,
		strconv.Itoa(primary.Addr.Port),
		strconv.FormatInt(primary.Primary.ConfigEpoch, 10),
	)
	if err := inst.PubSubLink.Publish(HelloChannel, payload); err == nil {
		inst.LastHelloPublish = e.now()
	}
}

func joinFields(fields ...string) string {
	out := fields[0]
	for _, f := range fields[1:] {
		out += "," + f
	}
	return out
}
