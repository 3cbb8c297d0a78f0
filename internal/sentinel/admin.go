package sentinel

import "fmt"

// This file is the thin accessor surface the administrative RESP server
// (internal/server) is allowed to call into. Nothing here is read by the
// engine itself; it exists purely so external callers never reach into
// an Instance/PrimaryData field directly, keeping state mutation inside
// the engine's own lock (§5).

// MasterInfo is a snapshot of a monitored primary for SENTINEL MASTERS/
// GET-MASTER-ADDR-BY-NAME.
type MasterInfo struct {
	Name            string
	Host            string
	Port            int
	RunID           string
	Status          string // "ok", "sdown", "odown", "disconnected"
	ReplicaCount    int
	PeerCount       int
	Quorum          int
	ConfigEpoch     int64
	FailoverState   string
}

// ChildInfo is a snapshot of a REPLICA or PEER for SENTINEL REPLICAS/
// SENTINELS.
type ChildInfo struct {
	Name   string
	Host   string
	Port   int
	RunID  string
	Status string
	Priority int
}

func statusOf(inst *Instance) string {
	switch {
	case inst.Has(FlagODown):
		return "odown"
	case inst.Has(FlagSDown):
		return "sdown"
	case inst.Has(FlagDisconnected):
		return "disconnected"
	default:
		return "ok"
	}
}

// Master returns a snapshot of the named primary.
func (e *Engine) Master(name string) (MasterInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.state.Primaries[name]
	if !ok {
		return MasterInfo{}, false
	}
	return MasterInfo{
		Name:          p.Name,
		Host:          p.Addr.Host,
		Port:          p.Addr.Port,
		RunID:         p.RunID,
		Status:        statusOf(p),
		ReplicaCount:  len(p.Primary.Replicas),
		PeerCount:     len(p.Primary.Peers),
		Quorum:        p.Primary.Quorum,
		ConfigEpoch:   p.Primary.ConfigEpoch,
		FailoverState: p.Primary.FailoverState.String(),
	}, true
}

// Masters returns a snapshot of every monitored primary, for SENTINEL
// MASTERS.
func (e *Engine) Masters() []MasterInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]MasterInfo, 0, len(e.state.Primaries))
	for _, p := range e.state.Primaries {
		out = append(out, MasterInfo{
			Name:          p.Name,
			Host:          p.Addr.Host,
			Port:          p.Addr.Port,
			RunID:         p.RunID,
			Status:        statusOf(p),
			ReplicaCount:  len(p.Primary.Replicas),
			PeerCount:     len(p.Primary.Peers),
			Quorum:        p.Primary.Quorum,
			ConfigEpoch:   p.Primary.ConfigEpoch,
			FailoverState: p.Primary.FailoverState.String(),
		})
	}
	return out
}

// Replicas returns a snapshot of every replica known for the named
// primary, for SENTINEL REPLICAS.
func (e *Engine) Replicas(name string) ([]ChildInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.state.Primaries[name]
	if !ok {
		return nil, false
	}
	out := make([]ChildInfo, 0, len(p.Primary.Replicas))
	for _, r := range p.Primary.Replicas {
		priority := DefaultReplicaPriority
		if r.Replica != nil {
			priority = r.Replica.Priority
		}
		out = append(out, ChildInfo{Name: r.Name, Host: r.Addr.Host, Port: r.Addr.Port, RunID: r.RunID, Status: statusOf(r), Priority: priority})
	}
	return out, true
}

// Peers returns a snapshot of every peer supervisor known for the named
// primary, for SENTINEL SENTINELS.
func (e *Engine) Peers(name string) ([]ChildInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.state.Primaries[name]
	if !ok {
		return nil, false
	}
	out := make([]ChildInfo, 0, len(p.Primary.Peers))
	for _, peer := range p.Primary.Peers {
		out = append(out, ChildInfo{Name: peer.Name, Host: peer.Addr.Host, Port: peer.Addr.Port, RunID: peer.RunID, Status: statusOf(peer)})
	}
	return out, true
}

// PendingScripts reports the notification/client-reconfig queue depth,
// for SENTINEL PENDING-SCRIPTS.
func (e *Engine) PendingScripts() int {
	return e.state.Scripts.Pending()
}

// VoteReply is a peer's answer to IS-MASTER-DOWN-BY-ADDR (§4.7).
type VoteReply struct {
	LocalDown   bool
	LeaderRunID string
	LeaderEpoch int64
}

// HandleVoteRequest implements the voter side of IS-MASTER-DOWN-BY-ADDR:
// it records our own local S_DOWN opinion of the named primary, and
// delegates to receiveVoteRequest for the epoch/run-id bookkeeping.
func (e *Engine) HandleVoteRequest(name string, requestEpoch int64, candidateRunID string) (VoteReply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	primary, ok := e.state.Primaries[name]
	if !ok {
		return VoteReply{}, fmt.Errorf("%w: %s", ErrNoSuchPrimary, name)
	}

	leaderRunID, leaderEpoch := e.receiveVoteRequest(primary, requestEpoch, candidateRunID)
	return VoteReply{
		LocalDown:   primary.Has(FlagSDown),
		LeaderRunID: leaderRunID,
		LeaderEpoch: leaderEpoch,
	}, nil
}

// ForceFailover implements the administrative FAILOVER <name> command
// (§6): starts an election immediately, bypassing the normal requirement
// that the primary already be O_DOWN, as long as no failover is already
// in progress.
func (e *Engine) ForceFailover(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	primary, ok := e.state.Primaries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchPrimary, name)
	}
	if primary.Primary.FailoverState != FailoverNone {
		return ErrFailoverInProgress
	}
	primary.SetFlag(FlagForceFailover)
	e.startElection(primary)
	return nil
}
