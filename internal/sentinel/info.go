package sentinel

import (
	"strconv"
	"strings"
)

// ingestInfo parses one INFO reply and applies the reactive transitions of
// §4.4. inst.LastInfoSnapshot is stamped regardless of content so the
// probe loop's info-refresh decision advances.
func (e *Engine) ingestInfo(inst *Instance, body string) {
	now := e.now()
	inst.LastInfoSnapshot = now
	inst.LastAnyReply = now

	lines := strings.Split(body, "\r\n")

	var reportedRole Role
	var roleSeen bool
	var masterHost string
	var masterPort int
	var masterLinkUp bool
	var masterLinkDownSecs int64
	var priority = DefaultReplicaPriority

	var primary *Instance
	if inst.Role == RolePrimary {
		primary = inst
	} else if inst.Replica != nil {
		primary = inst.Replica.Parent
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		switch {
		case key == "run_id":
			if inst.RunID != "" && inst.RunID != val {
				e.emitEvent(primary, "+reboot", inst, "%s restarted (run_id changed)", identifierPrefix(inst))
			}
			inst.RunID = val
		case key == "role":
			roleSeen = true
			if val == "master" {
				reportedRole = RolePrimary
			} else {
				reportedRole = RoleReplica
			}
		case key == "master_link_down_since_seconds":
			n, _ := strconv.ParseInt(val, 10, 64)
			masterLinkDownSecs = n
		case key == "master_host":
			masterHost = val
		case key == "master_port":
			n, _ := strconv.Atoi(val)
			masterPort = n
		case key == "master_link_status":
			masterLinkUp = val == "up"
		case key == "slave_priority":
			n, err := strconv.Atoi(val)
			if err == nil {
				priority = n
			}
		case strings.HasPrefix(key, "slave") && primary != nil && primary.Primary != nil:
			e.discoverReplicaFromInfoLine(primary, val)
		}
	}

	if roleSeen && reportedRole != inst.RoleReported {
		inst.RoleReported = reportedRole
		inst.RoleReportedSince = now
	}

	if inst.Role == RoleReplica && inst.Replica != nil {
		inst.Replica.MasterLinkDownMs = masterLinkDownSecs * 1000
		inst.Replica.ReportedPrimaryHost = masterHost
		inst.Replica.ReportedPrimaryPort = masterPort
		inst.Replica.PrimaryLinkUp = masterLinkUp
		inst.Replica.Priority = priority
	}

	if roleSeen {
		e.reactToReportedRole(inst, reportedRole, primary)
	}
}

// discoverReplicaFromInfoLine creates a REPLICA instance from a slaveN:
// info line if the address is not already known (§4.4). Both the legacy
// "ip,port,state" and keyed "ip=..,port=.." forms are accepted.
func (e *Engine) discoverReplicaFromInfoLine(primary *Instance, val string) {
	var host string
	var port int

	if strings.Contains(val, "=") {
		for _, part := range strings.Split(val, ",") {
			k, v, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			switch k {
			case "ip":
				host = v
			case "port":
				port, _ = strconv.Atoi(v)
			}
		}
	} else {
		parts := strings.Split(val, ",")
		if len(parts) >= 2 {
			host = parts[0]
			port, _ = strconv.Atoi(parts[1])
		}
	}

	if host == "" || port == 0 {
		return
	}
	addr := Address{Host: host, Port: port}
	name := derivedName(addr)
	if _, exists := primary.Primary.Replicas[name]; exists {
		return
	}

	child := newChildInstance(RoleReplica, addr)
	child.Replica = &ReplicaData{Parent: primary, Priority: DefaultReplicaPriority}
	child.DownAfter = primary.Primary.DownAfter
	primary.Primary.Replicas[name] = child
	e.emitEvent(primary, "+slave", child, "discovered replica %s", identifierPrefix(child))
}

// reactToReportedRole applies the reactive, tilt-suppressed transitions of
// §4.4 in response to a changed or confirmed role report.
func (e *Engine) reactToReportedRole(inst *Instance, reportedRole Role, primary *Instance) {
	if e.state.TiltActive {
		return
	}

	switch {
	case inst.Role == RolePrimary && reportedRole == RoleReplica:
		// Down detector decides whether this warrants action (§4.6); the
		// ingestor only records the observation, already done above.

	case inst.Role == RoleReplica && reportedRole == RolePrimary:
		e.reactToReplicaReportingPrimary(inst, primary)

	case inst.Role == RoleReplica && reportedRole == RoleReplica:
		e.reactToReplicaSanity(inst, primary)
	}
}

func (e *Engine) reactToReplicaReportingPrimary(inst *Instance, primary *Instance) {
	if primary == nil || primary.Primary == nil {
		return
	}
	pd := primary.Primary

	if pd.FailoverState == FailoverWaitPromotion && pd.PromotedReplica == inst {
		pd.ConfigEpoch = pd.FailoverEpoch
		pd.FailoverState = FailoverReconfSlaves
		pd.FailoverStateSince = e.now()
		e.emitEvent(primary, "+promoted-slave", inst, "%s promoted to primary", identifierPrefix(inst))
		e.emitEvent(primary, "+failover-state-reconf-slaves", inst, "entering RECONF_SLAVES")
		e.invokeClientReconf(primary, "leader", "start", primary.Addr, inst.Addr)
		return
	}

	// Outside a failover: a stray replica reporting itself as primary is
	// re-pointed at the real primary, but only once the primary looks
	// sane and the situation has been stable long enough to rule out a
	// failover still in flight (§4.4).
	if pd.FailoverState != FailoverNone {
		return
	}
	if !primaryLooksSane(primary) {
		return
	}
	if !pd.LastDownEventAt.IsZero() && e.now().Sub(pd.LastDownEventAt) < 4*PublishPeriod {
		return
	}
	if e.now().Sub(inst.RoleReportedSince) < 4*PublishPeriod {
		return
	}
	e.sendSlaveofToParent(inst, primary)
}

func (e *Engine) reactToReplicaSanity(inst *Instance, primary *Instance) {
	if primary == nil || primary.Primary == nil || inst.Replica == nil {
		return
	}
	pd := primary.Primary
	if pd.FailoverState != FailoverNone {
		e.reactDuringFailover(inst, primary)
		return
	}

	// The open question in §9: the original condition reads
	// "master_port != current_port || !strcmp(current_ip, msg_ip)", where
	// the second disjunct looks inverted relative to intent. We implement
	// the evidently-intended rule: adopt when EITHER host OR port differs.
	reportedDiffers := inst.Replica.ReportedPrimaryHost != primary.Addr.Host ||
		inst.Replica.ReportedPrimaryPort != primary.Addr.Port
	if !reportedDiffers {
		return
	}
	if !primaryLooksSane(primary) {
		return
	}
	if e.now().Sub(inst.RoleReportedSince) < pd.FailoverTimeout {
		return
	}
	e.sendSlaveofToParent(inst, primary)
}

// reactDuringFailover advances a RECONF_SENT replica to RECONF_INPROG once
// it reports itself pointed at the promoted replica's address, and to
// RECONF_DONE once its link to that address comes up (§4.4 last bullet).
func (e *Engine) reactDuringFailover(inst *Instance, primary *Instance) {
	pd := primary.Primary
	if pd.PromotedReplica == nil || !inst.Has(FlagReconfSent) && !inst.Has(FlagReconfInProgress) {
		return
	}
	if inst.Replica.ReportedPrimaryHost == pd.PromotedReplica.Addr.Host &&
		inst.Replica.ReportedPrimaryPort == pd.PromotedReplica.Addr.Port {
		if inst.Has(FlagReconfSent) {
			inst.ClearFlag(FlagReconfSent)
			inst.SetFlag(FlagReconfInProgress)
		}
		if inst.Has(FlagReconfInProgress) && inst.Replica.PrimaryLinkUp {
			inst.ClearFlag(FlagReconfInProgress)
			inst.SetFlag(FlagReconfDone)
		}
	}
}

// primaryLooksSane reports whether primary is still believed healthy:
// still PRIMARY, self-reports primary role, and neither S_DOWN nor O_DOWN
// (§4.4). The age of the primary's last info snapshot is not checked.
func primaryLooksSane(primary *Instance) bool {
	if primary == nil || !primary.Has(FlagPrimary) {
		return false
	}
	if primary.RoleReported != RolePrimary {
		return false
	}
	if primary.Has(FlagSDown) || primary.Has(FlagODown) {
		return false
	}
	return true
}

func (e *Engine) sendSlaveofToParent(inst *Instance, primary *Instance) {
	if inst.CmdLink == nil || !inst.CmdLink.Connected() {
		return
	}
	e.sendCommand(inst, "slaveof", "SLAVEOF", primary.Addr.Host, strconv.Itoa(primary.Addr.Port))
	inst.Replica.SlaveofSentAt = e.now()
}
