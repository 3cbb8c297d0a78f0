// Package sentinel implements the supervision engine: the periodic
// instance handler, the subjective/objective down detector, epoch-based
// leader election, and the failover state machine that promotes a replica
// and reconfigures the rest of a monitored primary/replica set.
//
// Everything outside this engine — the wire codec for the monitored store,
// the asynchronous connection library, the administrative introspection
// surface, and script execution itself — is an external collaborator
// reached only through the interfaces declared here (Link, ScriptRunner).
package sentinel

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Flag is a non-exclusive bit in an Instance's flag set.
type Flag uint32

const (
	FlagPrimary Flag = 1 << iota
	FlagReplica
	FlagPeer
	FlagDisconnected
	FlagSDown
	FlagODown
	FlagPrimaryDown // a peer believes its primary is down
	FlagCanFailover
	FlagFailoverInProgress
	FlagPromoted
	FlagReconfSent
	FlagReconfInProgress
	FlagReconfDone
	FlagForceFailover
	FlagScriptKillSent
)

func (f Flag) has(bit Flag) bool { return f&bit != 0 }

// Role identifies which of the three Instance variants a record is.
type Role int

const (
	RolePrimary Role = iota
	RoleReplica
	RolePeer
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "master"
	case RoleReplica:
		return "slave"
	case RolePeer:
		return "sentinel"
	default:
		return "unknown"
	}
}

// Address is a resolved host/port pair. Host is the literal value used to
// derive instance names; IPv6 literals are bracketed in String().
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	if a.Port < 1 || a.Port > 65535 {
		return fmt.Sprintf("%s:%d", a.Host, a.Port)
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a Address) Equal(o Address) bool {
	return a.Host == o.Host && a.Port == o.Port
}

// FailoverState is the primary-scoped failover phase of §4.8.
type FailoverState int

const (
	FailoverNone FailoverState = iota
	FailoverWaitStart
	FailoverSelectSlave
	FailoverSendSlaveofNoOne
	FailoverWaitPromotion
	FailoverReconfSlaves
	FailoverUpdateConfig
)

func (s FailoverState) String() string {
	switch s {
	case FailoverNone:
		return "none"
	case FailoverWaitStart:
		return "wait_start"
	case FailoverSelectSlave:
		return "select_slave"
	case FailoverSendSlaveofNoOne:
		return "send_slaveof_noone"
	case FailoverWaitPromotion:
		return "wait_promotion"
	case FailoverReconfSlaves:
		return "reconf_slaves"
	case FailoverUpdateConfig:
		return "update_config"
	default:
		return "unknown"
	}
}

// ReplicaData holds fields meaningful only to REPLICA instances.
type ReplicaData struct {
	ReportedPrimaryHost string
	ReportedPrimaryPort int
	PrimaryLinkUp       bool
	Priority            int
	AddrChangeTime      time.Time
	Parent              *Instance // weak back-reference, lookup only
	SlaveofSentAt       time.Time
	MasterLinkDownMs    int64
}

// PrimaryData holds fields meaningful only to PRIMARY instances.
type PrimaryData struct {
	Replicas map[string]*Instance // name -> child
	Peers    map[string]*Instance // name -> child
	PeerAddr map[string]string    // "ip:port" -> name, dedup index

	Quorum            int
	ParallelSyncs     int
	AuthPass          string
	NotificationPath  string
	ClientReconfPath  string
	DownAfter         time.Duration
	FailoverTimeout   time.Duration
	ConfigEpoch       int64
	NoSentinels       bool // RESET flag: do not drop peers

	FailoverState      FailoverState
	FailoverEpoch      int64
	FailoverStartTime  time.Time
	FailoverStateSince time.Time
	LastFailoverAttempt time.Time
	PromotedReplica    *Instance

	VotedLeaderRunID string
	VotedLeaderEpoch int64

	SDownSince      time.Time
	LastDownEventAt time.Time
}

// Instance is the core entity: PRIMARY, REPLICA, or PEER-SUPERVISOR.
type Instance struct {
	Role Role
	Name string
	Addr Address

	RunID string
	Flags Flag

	CmdLink   Link
	PubSubLink Link
	CmdLinkConnectedAt time.Time
	PubSubConnectedAt  time.Time
	PubSubLastActivity time.Time
	PendingCommands    int

	LastValidPingReply time.Time
	LastAnyReply       time.Time
	LastHelloPublish   time.Time
	LastHelloReceived  time.Time
	LastDownProbeReply time.Time
	LastInfoSnapshot   time.Time

	SDownSince     time.Time
	ODownSince     time.Time
	DownAfter      time.Duration

	RoleReported      Role
	RoleReportedSince time.Time

	Replica *ReplicaData
	Primary *PrimaryData

	// peer liveness bookkeeping used by the down detector's ask cycle (§4.6)
	LastAskTime time.Time

	// VoteRunID/VoteEpoch record this peer's most recently reported
	// leader vote from an IS-MASTER-DOWN-BY-ADDR reply (§4.7).
	VoteRunID string
	VoteEpoch int64
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s %s %s", i.Role, i.Name, i.Addr)
}

func (i *Instance) SetFlag(f Flag)   { i.Flags |= f }
func (i *Instance) ClearFlag(f Flag) { i.Flags &^= f }
func (i *Instance) Has(f Flag) bool  { return i.Flags.has(f) }

// GlobalState is the engine-wide state kept outside any single Instance,
// mirroring the "global singleton" of the monitored store's own
// implementation made an explicit, passed-around value here instead.
type GlobalState struct {
	mu sync.Mutex

	Primaries map[string]*Instance // name -> PRIMARY

	CurrentEpoch int64

	TiltActive bool
	TiltStart  time.Time

	LastTickTime time.Time

	Scripts *ScriptScheduler
}
