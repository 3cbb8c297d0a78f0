package sentinel

import "time"

// Default constants from the external-interfaces contract (§6).
const (
	DefaultListenPort = 26379

	DefaultDownAfter  = 30000 * time.Millisecond
	InfoPeriodNormal  = 10000 * time.Millisecond
	InfoPeriodUrgent  = 1000 * time.Millisecond
	PingPeriod        = 1000 * time.Millisecond
	PublishPeriod     = 2000 * time.Millisecond

	HelloChannel = "__sentinel__:hello"

	TiltTrigger = 2000 * time.Millisecond
	TiltPeriod  = 30000 * time.Millisecond

	DefaultFailoverTimeout = 180000 * time.Millisecond
	DefaultParallelSyncs   = 1
	DefaultReplicaPriority = 100

	PromotionRetryPeriod      = 30000 * time.Millisecond
	SlaveReconfRetryPeriod    = 10000 * time.Millisecond
	minLinkReconnectPeriod    = 15000 * time.Millisecond
	MaxPendingCommandsPerLink = 100

	ElectionTimeout   = 10000 * time.Millisecond
	VoteDesyncJitter  = 2000 * time.Millisecond
	InfoValidityTime  = 5000 * time.Millisecond
	AskPeriod         = 1000 * time.Millisecond

	ScriptQueueCap       = 256
	ScriptConcurrencyCap = 16
	ScriptMaxRuntime     = 60000 * time.Millisecond
	ScriptMaxRetries     = 10
	ScriptRetryBase      = 30000 * time.Millisecond

	TickInterval = 100 * time.Millisecond
)
