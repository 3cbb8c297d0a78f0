package sentinel

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Engine is the supervision engine context: what the monitored store's own
// implementation keeps as ambient global state, made an explicit value
// threaded through every method instead.
type Engine struct {
	mu    sync.Mutex
	clock clockwork.Clock
	log   *logrus.Entry
	rng   *mrand.Rand // seeded per-engine so vote-desync jitter is reproducible in tests

	RunID    string  // our own 40-hex run-id, advertised in hello messages
	SelfAddr Address // our own listening address, advertised in hello messages

	state   *GlobalState
	replies chan Reply

	links map[*Instance]linkPair

	reconnectState map[reconnectKey]*reconnectAttempt

	stop chan struct{}
	wg   sync.WaitGroup
}

type linkPair struct {
	cmd    Link
	pubsub Link
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the clock, e.g. clockwork.NewFakeClock() in tests.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger overrides the structured logger.
func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) { e.log = l }
}

// WithSeed fixes the PRNG seed used for election desync jitter (§4.7, §9
// design note: "use a per-engine seeded PRNG so tests can fix the seed").
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.rng = mrand.New(mrand.NewSource(seed)) }
}

// WithRunID overrides the locally generated run-id (tests want fixed IDs).
func WithRunID(id string) Option {
	return func(e *Engine) { e.RunID = id }
}

// WithSelfAddr sets the address this engine advertises to peers in hello
// messages (normally the sentinel server's own listening address).
func WithSelfAddr(addr Address) Option {
	return func(e *Engine) { e.SelfAddr = addr }
}

// NewEngine constructs an Engine with no monitored primaries yet; call
// Monitor to add one.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:   clockwork.NewRealClock(),
		log:     logrus.NewEntry(logrus.StandardLogger()),
		rng:     mrand.New(mrand.NewSource(time.Now().UnixNano())),
		RunID:   generateRunID(),
		state:   &GlobalState{Primaries: make(map[string]*Instance)},
		replies: make(chan Reply, 4096),
		links:   make(map[*Instance]linkPair),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state.Scripts = NewScriptScheduler(e.clock, e.log)
	return e
}

func generateRunID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// time-seeded id rather than panicking the process.
		return fmt.Sprintf("%040x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// MonitorConfig is the subset of §6's `monitor` directive plus the
// per-primary tunables that follow it in a sentinel config file.
type MonitorConfig struct {
	Name            string
	Host            string
	Port            int
	Quorum          int
	DownAfter       time.Duration
	FailoverTimeout time.Duration
	ParallelSyncs   int
	CanFailover     bool
	AuthPass        string
	NotificationPath string
	ClientReconfPath string
}

// Monitor registers a new PRIMARY to watch (§4.1 instance creation,
// config-driven). Returns ErrDuplicate if the name is already monitored,
// ErrQuorumMustBePositive if Quorum < 1.
func (e *Engine) Monitor(cfg MonitorConfig) (*Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.state.Primaries[cfg.Name]; exists {
		return nil, ErrDuplicate
	}
	if cfg.Quorum < 1 {
		return nil, ErrQuorumMustBePositive
	}
	addr, err := ResolveAddress(cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}

	downAfter := cfg.DownAfter
	if downAfter == 0 {
		downAfter = DefaultDownAfter
	}
	failoverTimeout := cfg.FailoverTimeout
	if failoverTimeout == 0 {
		failoverTimeout = DefaultFailoverTimeout
	}
	parallelSyncs := cfg.ParallelSyncs
	if parallelSyncs == 0 {
		parallelSyncs = DefaultParallelSyncs
	}

	inst := &Instance{
		Role:  RolePrimary,
		Name:  cfg.Name,
		Addr:  addr,
		Flags: FlagPrimary | FlagDisconnected,
		Primary: &PrimaryData{
			Replicas:         make(map[string]*Instance),
			Peers:            make(map[string]*Instance),
			PeerAddr:         make(map[string]string),
			Quorum:           cfg.Quorum,
			ParallelSyncs:    parallelSyncs,
			AuthPass:         cfg.AuthPass,
			NotificationPath: cfg.NotificationPath,
			ClientReconfPath: cfg.ClientReconfPath,
			DownAfter:        downAfter,
			FailoverTimeout:  failoverTimeout,
		},
	}
	if cfg.CanFailover {
		inst.SetFlag(FlagCanFailover)
	}
	inst.DownAfter = downAfter

	e.state.Primaries[cfg.Name] = inst
	return inst, nil
}

// Primary looks up a monitored primary by name.
func (e *Engine) Primary(name string) (*Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.state.Primaries[name]
	return p, ok
}

// Primaries returns a snapshot of all monitored primary instances.
func (e *Engine) Primaries() []*Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Instance, 0, len(e.state.Primaries))
	for _, p := range e.state.Primaries {
		out = append(out, p)
	}
	return out
}

// Run starts the ≈100ms timer/dispatcher loop (§4.13) and the reply
// drain loop; it blocks until Stop is called or ctx is done via the
// caller's own signal handling (Run itself takes no context — callers
// that want cancellation call Stop from elsewhere).
func (e *Engine) Run() {
	e.wg.Add(1)
	defer e.wg.Done()

	ticker := e.clock.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case reply := <-e.replies:
			e.mu.Lock()
			e.handleReply(reply)
			e.mu.Unlock()
		case <-ticker.Chan():
			e.mu.Lock()
			e.tick()
			e.mu.Unlock()
		}
	}
}

// Stop halts the engine's loop and waits for it to exit.
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

// jitter returns a duration in [0, max) drawn from the engine's seeded
// PRNG, used to desynchronise failover start times (§4.7/§9).
func (e *Engine) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(e.rng.Int63n(int64(max)))
}

func (e *Engine) now() time.Time { return e.clock.Now() }
