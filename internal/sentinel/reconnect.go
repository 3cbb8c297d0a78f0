package sentinel

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnect is the link manager step of the per-instance handler (§4.2).
// It opens whichever of the command/pub-sub links are missing, subject to
// the reconnect backoff, and clears FlagDisconnected only once every
// link required for the instance's role is established.
func (e *Engine) reconnect(inst *Instance) {
	needPubSub := inst.Role == RolePrimary || inst.Role == RoleReplica

	lp := e.links[inst]

	if lp.cmd == nil || !lp.cmd.Connected() {
		if e.backoffReady(inst, "cmd") {
			link := newNetLink(inst, e.replies)
			if err := link.Dial(inst.Addr); err == nil {
				lp.cmd = link
				inst.CmdLink = link
				inst.CmdLinkConnectedAt = e.now()
				if inst.Primary != nil {
					// primary-scoped AUTH is sent against the *child's*
					// own primary-scoped secret, i.e. the secret configured
					// on the primary this instance belongs to.
				}
				if parentAuth := authSecretFor(inst); parentAuth != "" {
					link.Send("auth", "AUTH", parentAuth)
				}
			} else {
				e.markReconnectAttempt(inst, "cmd")
			}
		}
	}

	if needPubSub && (lp.pubsub == nil || !lp.pubsub.Connected()) {
		if e.backoffReady(inst, "pubsub") {
			link := newPubSubNetLink(inst, e.replies)
			if err := link.Dial(inst.Addr); err == nil {
				if err := link.Subscribe(HelloChannel); err != nil {
					link.Close()
					e.markReconnectAttempt(inst, "pubsub")
				} else {
					lp.pubsub = link
					inst.PubSubLink = link
					inst.PubSubConnectedAt = e.now()
					inst.PubSubLastActivity = e.now()
				}
			} else {
				e.markReconnectAttempt(inst, "pubsub")
			}
		}
	}

	e.links[inst] = lp

	haveCmd := lp.cmd != nil && lp.cmd.Connected()
	havePubSub := !needPubSub || (lp.pubsub != nil && lp.pubsub.Connected())
	if haveCmd && havePubSub {
		inst.ClearFlag(FlagDisconnected)
	} else {
		inst.SetFlag(FlagDisconnected)
	}

	// a pub/sub link idle beyond its inactivity threshold is proactively
	// killed so the next tick reconnects it (§4.2).
	if needPubSub && lp.pubsub != nil && lp.pubsub.Connected() {
		if e.now().Sub(inst.PubSubLastActivity) > minLinkReconnectPeriod {
			lp.pubsub.Close()
			lp.pubsub = nil
			inst.PubSubLink = nil
			e.links[inst] = lp
			inst.SetFlag(FlagDisconnected)
		}
	}
}

// authSecretFor returns the primary-scoped AUTH secret that should be sent
// on inst's command link: the secret of inst itself if it is a primary, or
// of its parent primary otherwise.
func authSecretFor(inst *Instance) string {
	if inst.Primary != nil {
		return inst.Primary.AuthPass
	}
	if inst.Replica != nil && inst.Replica.Parent != nil && inst.Replica.Parent.Primary != nil {
		return inst.Replica.Parent.Primary.AuthPass
	}
	return ""
}

// reconnectAttempt tracks, per instance and link kind, when the next dial
// attempt is permitted, paced by a jittered exponential backoff policy
// (§4.2's "idle beyond its inactivity threshold ... retried on the next
// tick", generalized to every reconnect rather than hand-doubling it).
type reconnectAttempt struct {
	policy      *backoff.ExponentialBackOff
	nextAttempt time.Time
}

func (e *Engine) backoffReady(inst *Instance, kind string) bool {
	if e.reconnectState == nil {
		e.reconnectState = make(map[reconnectKey]*reconnectAttempt)
	}
	key := reconnectKey{inst, kind}
	st, ok := e.reconnectState[key]
	if !ok {
		return true
	}
	return !e.now().Before(st.nextAttempt)
}

func (e *Engine) markReconnectAttempt(inst *Instance, kind string) {
	if e.reconnectState == nil {
		e.reconnectState = make(map[reconnectKey]*reconnectAttempt)
	}
	key := reconnectKey{inst, kind}
	st, ok := e.reconnectState[key]
	if !ok {
		policy := reconnectBackoff()
		policy.Clock = e.clock
		policy.Reset()
		st = &reconnectAttempt{policy: policy}
	}
	st.nextAttempt = e.now().Add(st.policy.NextBackOff())
	e.reconnectState[key] = st
}

type reconnectKey struct {
	inst *Instance
	kind string
}
