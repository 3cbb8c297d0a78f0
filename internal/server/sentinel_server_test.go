package server

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redis-ha/sentinel/internal/protocol"
	"github.com/redis-ha/sentinel/internal/sentinel"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetOutput(devNull{})
	engine := sentinel.NewEngine(
		sentinel.WithClock(clockwork.NewFakeClock()),
		sentinel.WithLogger(log),
		sentinel.WithRunID("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		sentinel.WithSeed(1),
	)
	return NewServer(engine, "127.0.0.1", 0, log)
}

type devNull struct{}

func (devNull) Write(p []byte) (int, error) { return len(p), nil }

func cmd(args ...string) *protocol.Command {
	return &protocol.Command{Args: args}
}

func TestExecute_EmptyCommandErrors(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(&protocol.Command{Args: nil})
	assert.Contains(t, string(reply), "-ERR")
}

func TestExecute_Ping(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("PING"))
	assert.Equal(t, "+PONG\r\n", string(reply))
}

func TestExecute_UnknownCommand(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("BOGUS"))
	assert.Contains(t, string(reply), "unknown command")
}

func TestExecute_SentinelWithNoSubcommandErrors(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("SENTINEL"))
	assert.Contains(t, string(reply), "-ERR")
}

func TestGetMasterAddrByName_UnknownReturnsNullBulk(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("SENTINEL", "GET-MASTER-ADDR-BY-NAME", "nope"))
	assert.Equal(t, "$-1\r\n", string(reply))
}

func TestGetMasterAddrByName_KnownReturnsHostPort(t *testing.T) {
	s := newTestServer(t)
	_, err := s.engine.Monitor(sentinel.MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})
	require.NoError(t, err)

	reply := s.execute(cmd("SENTINEL", "GET-MASTER-ADDR-BY-NAME", "mymaster"))
	assert.Equal(t, string(protocol.EncodeArray([]string{"127.0.0.1", "6379"})), string(reply))
}

func TestMaster_UnknownReturnsNullBulk(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("SENTINEL", "MASTER", "nope"))
	assert.Equal(t, "$-1\r\n", string(reply))
}

func TestMaster_KnownIncludesNameAndQuorum(t *testing.T) {
	s := newTestServer(t)
	_, err := s.engine.Monitor(sentinel.MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})
	require.NoError(t, err)

	reply := string(s.execute(cmd("SENTINEL", "MASTER", "mymaster")))
	assert.Contains(t, reply, "mymaster")
	assert.Contains(t, reply, "quorum")
}

func TestMasters_ListsEveryMonitoredPrimary(t *testing.T) {
	s := newTestServer(t)
	_, err := s.engine.Monitor(sentinel.MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})
	require.NoError(t, err)
	_, err = s.engine.Monitor(sentinel.MonitorConfig{Name: "other", Host: "127.0.0.1", Port: 6380, Quorum: 2})
	require.NoError(t, err)

	reply := string(s.execute(cmd("SENTINEL", "MASTERS")))
	assert.Contains(t, reply, "mymaster")
	assert.Contains(t, reply, "other")
}

func TestReplicas_UnknownPrimaryReturnsNilArray(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("SENTINEL", "REPLICAS", "nope"))
	assert.Equal(t, "*-1\r\n", string(reply))
}

func TestReplicas_AliasedAsSlaves(t *testing.T) {
	s := newTestServer(t)
	_, err := s.engine.Monitor(sentinel.MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})
	require.NoError(t, err)

	a := s.execute(cmd("SENTINEL", "REPLICAS", "mymaster"))
	b := s.execute(cmd("SENTINEL", "SLAVES", "mymaster"))
	assert.Equal(t, string(a), string(b))
}

func TestSentinels_UnknownPrimaryReturnsNilArray(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("SENTINEL", "SENTINELS", "nope"))
	assert.Equal(t, "*-1\r\n", string(reply))
}

func TestIsMasterDownByAddr_WrongArgCount(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("SENTINEL", "IS-MASTER-DOWN-BY-ADDR", "127.0.0.1", "6379"))
	assert.Contains(t, string(reply), "-ERR")
}

func TestIsMasterDownByAddr_UnresolvedAddressRepliesZero(t *testing.T) {
	s := newTestServer(t)
	reply := string(s.execute(cmd("SENTINEL", "IS-MASTER-DOWN-BY-ADDR", "127.0.0.1", "6379", "1", "some-run-id")))
	assert.Contains(t, reply, ":0\r\n")
}

func TestIsMasterDownByAddr_ResolvesNameAndReportsLocalOpinion(t *testing.T) {
	s := newTestServer(t)
	_, err := s.engine.Monitor(sentinel.MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})
	require.NoError(t, err)

	reply := string(s.execute(cmd("SENTINEL", "IS-MASTER-DOWN-BY-ADDR", "127.0.0.1", "6379", "1", "some-run-id")))
	assert.Contains(t, reply, ":0\r\n")
}

func TestIsMasterDownByAddr_InvalidEpochErrors(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("SENTINEL", "IS-MASTER-DOWN-BY-ADDR", "127.0.0.1", "6379", "notanumber", "some-run-id"))
	assert.Contains(t, string(reply), "invalid epoch")
}

func TestReset_UnknownPatternReturnsZero(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("SENTINEL", "RESET", "nope"))
	assert.Equal(t, ":0\r\n", string(reply))
}

func TestReset_MatchingPrimaryReturnsCount(t *testing.T) {
	s := newTestServer(t)
	_, err := s.engine.Monitor(sentinel.MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})
	require.NoError(t, err)

	reply := s.execute(cmd("SENTINEL", "RESET", "mymaster"))
	assert.Equal(t, ":1\r\n", string(reply))
}

func TestFailover_UnknownPrimaryErrors(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("SENTINEL", "FAILOVER", "nope"))
	assert.Contains(t, string(reply), "-ERR")
}

func TestFailover_KnownPrimaryRepliesOK(t *testing.T) {
	s := newTestServer(t)
	inst, err := s.engine.Monitor(sentinel.MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 1, CanFailover: true})
	require.NoError(t, err)
	_ = inst

	reply := s.execute(cmd("SENTINEL", "FAILOVER", "mymaster"))
	assert.Equal(t, "+OK\r\n", string(reply))
}

func TestPendingScripts_ReportsZeroInitially(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("SENTINEL", "PENDING-SCRIPTS"))
	assert.Equal(t, ":0\r\n", string(reply))
}

func TestUnknownSentinelSubcommand(t *testing.T) {
	s := newTestServer(t)
	reply := s.execute(cmd("SENTINEL", "BOGUS"))
	assert.Contains(t, string(reply), "unknown sentinel subcommand")
}

func TestMasterNameForAddr_MatchesByHostAndPort(t *testing.T) {
	s := newTestServer(t)
	_, err := s.engine.Monitor(sentinel.MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})
	require.NoError(t, err)

	name := masterNameForAddr(s.engine, "127.0.0.1", "6379")
	assert.Equal(t, "mymaster", name)
}

func TestMasterNameForAddr_NoMatchReturnsEmpty(t *testing.T) {
	s := newTestServer(t)
	_, err := s.engine.Monitor(sentinel.MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})
	require.NoError(t, err)

	name := masterNameForAddr(s.engine, "10.0.0.9", "6380")
	assert.Equal(t, "", name)
}
