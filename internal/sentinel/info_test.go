package sentinel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestInfo_DiscoversReplicaFromSlaveLine(t *testing.T) {
	e, _ := newTestEngine(t)
	primary := mustMonitor(t, e, MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})

	body := "role:master\r\nslave0:ip=10.0.0.2,port=6380,state=online\r\n"
	e.ingestInfo(primary, body)

	require.Len(t, primary.Primary.Replicas, 1)
	var r *Instance
	for _, v := range primary.Primary.Replicas {
		r = v
	}
	assert.Equal(t, "10.0.0.2", r.Addr.Host)
	assert.Equal(t, 6380, r.Addr.Port)
	assert.Equal(t, primary.Primary.DownAfter, r.DownAfter)
}

func TestIngestInfo_LegacySlaveLineFormat(t *testing.T) {
	e, _ := newTestEngine(t)
	primary := mustMonitor(t, e, MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})

	body := "role:master\r\nslave0:10.0.0.2,6380,online\r\n"
	e.ingestInfo(primary, body)

	require.Len(t, primary.Primary.Replicas, 1)
}

func TestIngestInfo_ReplicaFieldsParsed(t *testing.T) {
	e, _ := newTestEngine(t)
	primary := mustMonitor(t, e, MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})
	replica := newReplica(t, primary, "10.0.0.2", 6380)

	body := "role:slave\r\nmaster_host:127.0.0.1\r\nmaster_port:6379\r\nmaster_link_status:up\r\nmaster_link_down_since_seconds:0\r\nslave_priority:50\r\n"
	e.ingestInfo(replica, body)

	assert.Equal(t, "127.0.0.1", replica.Replica.ReportedPrimaryHost)
	assert.Equal(t, 6379, replica.Replica.ReportedPrimaryPort)
	assert.True(t, replica.Replica.PrimaryLinkUp)
	assert.Equal(t, 50, replica.Replica.Priority)
	assert.Equal(t, RoleReplica, replica.RoleReported)
}

func TestIngestInfo_RunIDChangeEmitsReboot(t *testing.T) {
	e, _ := newTestEngine(t)
	primary := mustMonitor(t, e, MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})
	primary.RunID = "old-run-id"

	e.ingestInfo(primary, "run_id:new-run-id\r\nrole:master\r\n")
	assert.Equal(t, "new-run-id", primary.RunID)
}

func TestReactToReplicaSanity_AdoptsWhenHostOrPortDiffers(t *testing.T) {
	e, fc := newTestEngine(t)
	primary := mustMonitor(t, e, MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2, FailoverTimeout: time.Minute})
	primary.RoleReported = RolePrimary
	replica := newReplica(t, primary, "10.0.0.2", 6380)
	link := newFakeLink()
	replica.CmdLink = link
	replica.Replica.ReportedPrimaryHost = "10.0.0.99" // differs from primary.Addr.Host
	replica.Replica.ReportedPrimaryPort = primary.Addr.Port
	replica.RoleReportedSince = fc.Now()

	fc.Advance(time.Minute + time.Second)
	e.reactToReplicaSanity(replica, primary)

	require.Len(t, link.sent, 1)
	assert.Equal(t, []string{"SLAVEOF", primary.Addr.Host, "6379"}, link.sent[0].args)
}

func TestReactToReplicaSanity_NoActionWhenReportedAddressMatches(t *testing.T) {
	e, fc := newTestEngine(t)
	primary := mustMonitor(t, e, MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2, FailoverTimeout: time.Minute})
	primary.RoleReported = RolePrimary
	replica := newReplica(t, primary, "10.0.0.2", 6380)
	link := newFakeLink()
	replica.CmdLink = link
	replica.Replica.ReportedPrimaryHost = primary.Addr.Host
	replica.Replica.ReportedPrimaryPort = primary.Addr.Port
	replica.RoleReportedSince = fc.Now()

	fc.Advance(time.Minute + time.Second)
	e.reactToReplicaSanity(replica, primary)

	assert.Empty(t, link.sent)
}

func TestReactToReplicaReportingPrimary_PromotesDuringWaitPromotion(t *testing.T) {
	e, _ := newTestEngine(t)
	primary := mustMonitor(t, e, MonitorConfig{Name: "mymaster", Host: "127.0.0.1", Port: 6379, Quorum: 2})
	winner := newReplica(t, primary, "10.0.0.2", 6380)
	primary.Primary.PromotedReplica = winner
	primary.Primary.FailoverState = FailoverWaitPromotion
	primary.Primary.FailoverEpoch = 4

	e.reactToReplicaReportingPrimary(winner, primary)

	assert.Equal(t, FailoverReconfSlaves, primary.Primary.FailoverState)
	assert.Equal(t, int64(4), primary.Primary.ConfigEpoch)
}
