package sentinel

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
)

// warningEvents are the event types that, bound to a primary, additionally
// schedule a notification script (§6 Events).
var warningEvents = map[string]bool{
	"+sdown":          true,
	"+odown":          true,
	"-odown":          true,
	"+failover-end-for-timeout": true,
	"+switch-master":  true,
	"-dup-sentinel":   true,
	"+tilt":           true,
}

// emitEvent logs a structured "<+|-><type>" event and, when bound to a
// primary and warning-level, enqueues the notification script (§4.11,
// §6). instanceCtx may be nil for engine-wide events (e.g. +tilt).
func (e *Engine) emitEvent(primary *Instance, eventType string, instanceCtx *Instance, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fields := logrus.Fields{"event": eventType}
	if primary != nil {
		fields["primary"] = primary.Name
	}
	if instanceCtx != nil {
		fields["instance"] = instanceCtx.String()
	}
	entry := e.log.WithFields(fields)
	if warningEvents[eventType] {
		entry.Warn(msg)
	} else {
		entry.Info(msg)
	}

	if primary != nil && warningEvents[eventType] && primary.Primary != nil && primary.Primary.NotificationPath != "" {
		e.state.Scripts.Enqueue(ScriptJob{
			Path: primary.Primary.NotificationPath,
			Args: []string{eventType, msg},
			Kind: ScriptKindNotification,
		})
	}
}

// invokeClientReconf enqueues the client-reconfiguration script (§4.11,
// §6): invoked once when the promoted replica confirms its promotion
// (state "start") and again once the switch is final (state "end"), with
// the arguments
// "<name> <role> <state> <old-host> <old-port> <new-host> <new-port>".
func (e *Engine) invokeClientReconf(primary *Instance, role, state string, oldAddr, newAddr Address) {
	pd := primary.Primary
	if pd == nil || pd.ClientReconfPath == "" {
		return
	}
	e.state.Scripts.Enqueue(ScriptJob{
		Path: pd.ClientReconfPath,
		Args: []string{
			primary.Name, role, state,
			oldAddr.Host, portString(oldAddr), newAddr.Host, portString(newAddr),
		},
		Kind: ScriptKindClientReconf,
	})
}

func portString(a Address) string {
	return strconv.Itoa(a.Port)
}

// identifierPrefix renders the "<role> <name> <ip> <port> [@ <primary-name>
// <primary-ip> <primary-port>]" prefix described in §6, for callers that
// want it embedded in a formatted message.
func identifierPrefix(inst *Instance) string {
	s := fmt.Sprintf("%s %s %s %d", inst.Role, inst.Name, inst.Addr.Host, inst.Addr.Port)
	if inst.Role != RolePrimary {
		var parent *Instance
		if inst.Replica != nil {
			parent = inst.Replica.Parent
		}
		if parent != nil {
			s += fmt.Sprintf(" @ %s %s %d", parent.Name, parent.Addr.Host, parent.Addr.Port)
		}
	}
	return s
}
