package sentinel

import "strings"

// handleReply dispatches one asynchronously-delivered Reply to the right
// ingestor. It runs under e.mu, serializing it with tick() so state
// mutation never races regardless of how many Link goroutines are
// feeding the replies channel (§5).
func (e *Engine) handleReply(r Reply) {
	inst := r.Instance
	if inst == nil {
		return
	}

	if r.Op != "hello-message" && inst.PendingCommands > 0 {
		inst.PendingCommands--
	}

	switch r.Op {
	case "disconnect":
		e.onLinkDisconnect(inst)
	case "ping":
		e.onPingReply(inst, r.Line)
	case "info":
		e.ingestInfo(inst, r.Line)
	case "hello-message":
		inst.PubSubLastActivity = e.now()
		e.ingestHello(r.Line)
	case "ask":
		e.onAskReply(inst, r.Line)
	default:
		inst.LastAnyReply = e.now()
	}
}

func (e *Engine) onLinkDisconnect(inst *Instance) {
	lp := e.links[inst]
	if lp.cmd != nil {
		lp.cmd.Close()
		lp.cmd = nil
	}
	if lp.pubsub != nil {
		lp.pubsub.Close()
		lp.pubsub = nil
	}
	e.links[inst] = lp
	inst.CmdLink = nil
	inst.PubSubLink = nil
	inst.SetFlag(FlagDisconnected)
}

// onPingReply implements the ping-reply classification of §4.3.
func (e *Engine) onPingReply(inst *Instance, line string) {
	now := e.now()
	trimmed := strings.TrimSpace(strings.TrimPrefix(line, "+"))

	switch {
	case strings.HasPrefix(trimmed, "PONG"), strings.HasPrefix(trimmed, "LOADING"), strings.HasPrefix(trimmed, "MASTERDOWN"):
		inst.LastValidPingReply = now
		inst.LastAnyReply = now
	case strings.HasPrefix(trimmed, "BUSY"):
		inst.LastAnyReply = now
		if inst.Has(FlagSDown) && !inst.Has(FlagScriptKillSent) {
			e.sendCommand(inst, "generic", "SCRIPT", "KILL")
			inst.SetFlag(FlagScriptKillSent)
		}
	default:
		inst.LastAnyReply = now
	}
}
