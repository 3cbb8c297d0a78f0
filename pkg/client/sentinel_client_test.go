package client

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redis-ha/sentinel/internal/protocol"
)

// fakeSentinel answers every SENTINEL GET-MASTER-ADDR-BY-NAME request with
// a fixed host/port, one request per connection, until closed.
func fakeSentinel(t *testing.T, masterHost string, masterPort int) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				cmd, err := protocol.ParseCommand(bufio.NewReader(c))
				if err != nil {
					return
				}
				if len(cmd.Args) >= 2 && cmd.Args[0] == "SENTINEL" {
					c.Write(protocol.EncodeArray([]string{masterHost, strconv.Itoa(masterPort)}))
				}
			}(conn)
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

// fakeMaster replies OK to SET, echoes a canned value to GET, and reports
// role:master for an INFO replication probe, over a persistent connection.
func fakeMaster(t *testing.T, values map[string]string) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				for {
					cmd, err := protocol.ParseCommand(reader)
					if err != nil {
						return
					}
					if len(cmd.Args) == 0 {
						continue
					}
					switch cmd.Args[0] {
					case "SET":
						c.Write(protocol.EncodeSimpleString("OK"))
					case "GET":
						key := ""
						if len(cmd.Args) > 1 {
							key = cmd.Args[1]
						}
						c.Write(protocol.EncodeBulkString(values[key]))
					case "INFO":
						c.Write([]byte("role:master\r\n"))
					default:
						c.Write(protocol.EncodeError("ERR unknown command"))
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func TestNewSentinelClient_NoSentinelAddrsErrors(t *testing.T) {
	_, err := NewSentinelClient(SentinelOptions{MasterName: "mymaster"})
	assert.Error(t, err)
}

func TestNewSentinelClient_NoMasterNameErrors(t *testing.T) {
	_, err := NewSentinelClient(SentinelOptions{SentinelAddrs: []string{"127.0.0.1:1"}})
	assert.Error(t, err)
}

func TestNewSentinelClient_ConnectsToDiscoveredMaster(t *testing.T) {
	masterAddr, closeMaster := fakeMaster(t, nil)
	defer closeMaster()
	host, portStr, err := net.SplitHostPort(masterAddr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	sentinelAddr, closeSentinel := fakeSentinel(t, host, port)
	defer closeSentinel()

	c, err := NewSentinelClient(SentinelOptions{SentinelAddrs: []string{sentinelAddr}, MasterName: "mymaster"})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, masterAddr, c.masterAddr)
}

func TestNewSentinelClient_AllSentinelsUnreachableErrors(t *testing.T) {
	_, err := NewSentinelClient(SentinelOptions{SentinelAddrs: []string{"127.0.0.1:1"}, MasterName: "mymaster"})
	assert.Error(t, err)
}

func TestSet_SendsCommandAndGetsOK(t *testing.T) {
	masterAddr, closeMaster := fakeMaster(t, nil)
	defer closeMaster()
	host, portStr, _ := net.SplitHostPort(masterAddr)
	port, _ := strconv.Atoi(portStr)
	sentinelAddr, closeSentinel := fakeSentinel(t, host, port)
	defer closeSentinel()

	c, err := NewSentinelClient(SentinelOptions{SentinelAddrs: []string{sentinelAddr}, MasterName: "mymaster"})
	require.NoError(t, err)
	defer c.Close()

	err = c.Set("key1", "value1")
	assert.NoError(t, err)
}

func TestGet_ReturnsValueFromMaster(t *testing.T) {
	masterAddr, closeMaster := fakeMaster(t, map[string]string{"key1": "value1"})
	defer closeMaster()
	host, portStr, _ := net.SplitHostPort(masterAddr)
	port, _ := strconv.Atoi(portStr)
	sentinelAddr, closeSentinel := fakeSentinel(t, host, port)
	defer closeSentinel()

	c, err := NewSentinelClient(SentinelOptions{SentinelAddrs: []string{sentinelAddr}, MasterName: "mymaster"})
	require.NoError(t, err)
	defer c.Close()

	val, err := c.Get("key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", val)
}

func TestGet_StrongConsistencyVerifiesMasterFirst(t *testing.T) {
	masterAddr, closeMaster := fakeMaster(t, map[string]string{"key1": "value1"})
	defer closeMaster()
	host, portStr, _ := net.SplitHostPort(masterAddr)
	port, _ := strconv.Atoi(portStr)
	sentinelAddr, closeSentinel := fakeSentinel(t, host, port)
	defer closeSentinel()

	c, err := NewSentinelClient(SentinelOptions{
		SentinelAddrs:            []string{sentinelAddr},
		MasterName:               "mymaster",
		RequireStrongConsistency: true,
	})
	require.NoError(t, err)
	defer c.Close()

	val, err := c.Get("key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", val)
}

func TestClose_StopsHealthCheckAndClosesConn(t *testing.T) {
	masterAddr, closeMaster := fakeMaster(t, nil)
	defer closeMaster()
	host, portStr, _ := net.SplitHostPort(masterAddr)
	port, _ := strconv.Atoi(portStr)
	sentinelAddr, closeSentinel := fakeSentinel(t, host, port)
	defer closeSentinel()

	c, err := NewSentinelClient(SentinelOptions{
		SentinelAddrs:       []string{sentinelAddr},
		MasterName:          "mymaster",
		HealthCheckInterval: time.Hour,
	})
	require.NoError(t, err)

	c.Close()

	_, err = c.masterConn.Write([]byte("x"))
	assert.Error(t, err, "connection is closed after Close")
}
