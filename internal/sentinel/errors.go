package sentinel

import "errors"

// Error kinds surfaced at the engine's boundary (§7). Every other fault is
// absorbed internally: lost links become FlagDisconnected, malformed
// replies are dropped and re-probed next tick, timed-out state-machine
// phases fold into abortFailover.
var (
	ErrInvalidPort        = errors.New("sentinel: invalid port")
	ErrUnresolvable        = errors.New("sentinel: address unresolvable")
	ErrDuplicate           = errors.New("sentinel: duplicate instance name")
	ErrNoSuchPrimary       = errors.New("sentinel: no such primary")
	ErrQuorumMustBePositive = errors.New("sentinel: quorum must be positive")
	ErrNonExecutableScript = errors.New("sentinel: script is not executable")
	ErrFailoverInProgress  = errors.New("sentinel: failover already in progress")
	ErrNoSuitableReplica   = errors.New("sentinel: no suitable replica for promotion")
	ErrInsufficientInfo    = errors.New("sentinel: insufficient info to act")
)
