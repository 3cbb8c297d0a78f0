package sentinel

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLink is a Link double that never touches the network, so engine unit
// tests can drive probe/reply logic without a real monitored node.
type fakeLink struct {
	connected    bool
	connectedAt  time.Time
	lastActivity time.Time

	sent        []sentCommand
	subscribed  []string
	published   []publishedMsg
	sendErr     error
}

type sentCommand struct {
	op   string
	args []string
}

type publishedMsg struct {
	channel string
	payload string
}

func newFakeLink() *fakeLink {
	return &fakeLink{connected: true, connectedAt: time.Now(), lastActivity: time.Now()}
}

func (f *fakeLink) Dial(addr Address) error        { f.connected = true; return nil }
func (f *fakeLink) Close()                         { f.connected = false }
func (f *fakeLink) Connected() bool                { return f.connected }
func (f *fakeLink) ConnectedAt() time.Time         { return f.connectedAt }
func (f *fakeLink) LastActivity() time.Time        { return f.lastActivity }
func (f *fakeLink) Subscribe(channel string) error { f.subscribed = append(f.subscribed, channel); return nil }
func (f *fakeLink) Publish(channel, payload string) error {
	f.published = append(f.published, publishedMsg{channel, payload})
	return nil
}
func (f *fakeLink) Send(op string, args ...string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentCommand{op, args})
	return nil
}

// newTestEngine builds an Engine over a fake clock with a fixed run-id, for
// deterministic assertions.
func newTestEngine(t *testing.T) (*Engine, clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetOutput(devNull{})
	e := NewEngine(WithClock(fc), WithLogger(log), WithRunID("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), WithSeed(1))
	return e, fc
}

type devNull struct{}

func (devNull) Write(p []byte) (int, error) { return len(p), nil }

func mustMonitor(t *testing.T, e *Engine, cfg MonitorConfig) *Instance {
	t.Helper()
	inst, err := e.Monitor(cfg)
	require.NoError(t, err)
	return inst
}

func TestMonitor_DuplicateName(t *testing.T) {
	e, _ := newTestEngine(t)
	_ = mustMonitor(t, e, MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})

	_, err := e.Monitor(MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6380, Quorum: 2})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMonitor_QuorumMustBePositive(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Monitor(MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 0})
	assert.ErrorIs(t, err, ErrQuorumMustBePositive)
}

func TestMonitor_DefaultsApplied(t *testing.T) {
	e, _ := newTestEngine(t)
	inst := mustMonitor(t, e, MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})

	assert.Equal(t, DefaultDownAfter, inst.Primary.DownAfter)
	assert.Equal(t, DefaultFailoverTimeout, inst.Primary.FailoverTimeout)
	assert.Equal(t, DefaultParallelSyncs, inst.Primary.ParallelSyncs)
	assert.True(t, inst.Has(FlagDisconnected))
	assert.False(t, inst.Has(FlagCanFailover))
}

func TestMonitor_InvalidPort(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Monitor(MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 70000, Quorum: 2})
	assert.ErrorIs(t, err, ErrInvalidPort)
}
