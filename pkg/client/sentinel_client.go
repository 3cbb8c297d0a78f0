package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis-ha/sentinel/internal/protocol"
)

// SentinelClient is a client that discovers its primary and replicas by
// asking a sentinel deployment rather than being configured with a fixed
// address, and reconnects automatically across a failover.
type SentinelClient struct {
	sentinelAddrs []string
	masterName    string

	masterConn   net.Conn
	replicaConns []net.Conn
	connMu       sync.RWMutex

	roundRobin int
	mu         sync.Mutex

	masterAddr   string
	replicaAddrs []string

	requireStrongConsistency bool
	healthCheckInterval      time.Duration
	stopHealthCheck          chan struct{}
}

// SentinelOptions configures a SentinelClient.
type SentinelOptions struct {
	SentinelAddrs            []string
	MasterName               string
	RequireStrongConsistency bool
	HealthCheckInterval      time.Duration
}

// NewSentinelClient discovers and connects to the current primary via the
// given sentinel addresses. It opens no connections to replicas.
func NewSentinelClient(opts SentinelOptions) (*SentinelClient, error) {
	if len(opts.SentinelAddrs) == 0 {
		return nil, errors.New("at least one sentinel address required")
	}
	if opts.MasterName == "" {
		return nil, errors.New("master name required")
	}

	client := &SentinelClient{
		sentinelAddrs:            opts.SentinelAddrs,
		masterName:               opts.MasterName,
		requireStrongConsistency: opts.RequireStrongConsistency,
		healthCheckInterval:      opts.HealthCheckInterval,
		stopHealthCheck:          make(chan struct{}),
	}

	if err := client.reconnectToMaster(); err != nil {
		return nil, fmt.Errorf("failed to connect to master: %w", err)
	}

	if client.healthCheckInterval > 0 {
		go client.healthCheck()
	}

	return client, nil
}

// querySentinelForMaster asks each configured sentinel in turn for the
// current primary address, stopping at the first one that answers.
func (c *SentinelClient) querySentinelForMaster() (string, error) {
	for _, sentinelAddr := range c.sentinelAddrs {
		conn, err := net.DialTimeout("tcp", sentinelAddr, 2*time.Second)
		if err != nil {
			continue
		}

		cmd := protocol.EncodeArray([]string{"SENTINEL", "GET-MASTER-ADDR-BY-NAME", c.masterName})
		if _, err := conn.Write(cmd); err != nil {
			conn.Close()
			continue
		}

		reply, err := protocol.ParseCommand(bufio.NewReader(conn))
		conn.Close()
		if err != nil || len(reply.Args) != 2 {
			continue
		}
		return net.JoinHostPort(reply.Args[0], reply.Args[1]), nil
	}
	return "", errors.New("all sentinels unreachable")
}

// reconnectToMaster queries sentinel for the current primary and swaps
// in a fresh connection to it.
func (c *SentinelClient) reconnectToMaster() error {
	masterAddr, err := c.querySentinelForMaster()
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", masterAddr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to master %s: %w", masterAddr, err)
	}

	c.connMu.Lock()
	if c.masterConn != nil {
		c.masterConn.Close()
	}
	c.masterConn = conn
	c.masterAddr = masterAddr
	c.connMu.Unlock()
	return nil
}

// healthCheck periodically re-queries sentinel and reconnects if the
// reported primary address has moved out from under us (the failover
// path).
func (c *SentinelClient) healthCheck() {
	ticker := time.NewTicker(c.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			currentMaster, err := c.querySentinelForMaster()
			if err != nil {
				continue
			}
			c.connMu.RLock()
			connected := c.masterAddr
			c.connMu.RUnlock()
			if currentMaster != connected {
				c.reconnectToMaster()
			}
		case <-c.stopHealthCheck:
			return
		}
	}
}

// verifyConnectedToMaster checks the existing connection actually still
// reports role:master, guarding against a stale connection to a demoted
// primary during the reconfiguration window of a failover.
func (c *SentinelClient) verifyConnectedToMaster() bool {
	c.connMu.RLock()
	conn := c.masterConn
	c.connMu.RUnlock()
	if conn == nil {
		return false
	}

	if _, err := conn.Write(protocol.EncodeArray([]string{"INFO", "replication"})); err != nil {
		return false
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.Contains(line, "role:master")
}

// Set writes a key-value pair to the current primary.
func (c *SentinelClient) Set(key, value string) error {
	return c.executeWriteCommandWithRetry("SET", 3, key, value)
}

// Get reads a value, verifying the primary connection first when
// RequireStrongConsistency is set.
func (c *SentinelClient) Get(key string) (string, error) {
	if c.requireStrongConsistency && !c.verifyConnectedToMaster() {
		c.reconnectToMaster()
	}
	return c.executeReadFromMasterWithRetry("GET", 3, key)
}

func (c *SentinelClient) executeWriteCommandWithRetry(cmd string, maxRetries int, args ...string) error {
	if maxRetries <= 0 {
		return errors.New("max retries exceeded - master may be unstable")
	}

	c.connMu.RLock()
	conn := c.masterConn
	c.connMu.RUnlock()
	if conn == nil {
		if err := c.reconnectToMaster(); err != nil {
			return fmt.Errorf("failed to connect to master: %w", err)
		}
		c.connMu.RLock()
		conn = c.masterConn
		c.connMu.RUnlock()
	}

	fullArgs := append([]string{cmd}, args...)
	if _, err := conn.Write(protocol.EncodeArray(fullArgs)); err != nil {
		c.reconnectToMaster()
		return c.executeWriteCommandWithRetry(cmd, maxRetries-1, args...)
	}

	reply, err := protocol.ParseCommand(bufio.NewReader(conn))
	if err != nil {
		c.reconnectToMaster()
		return c.executeWriteCommandWithRetry(cmd, maxRetries-1, args...)
	}
	if len(reply.Args) > 0 && strings.Contains(reply.Args[0], "READONLY") {
		c.reconnectToMaster()
		return c.executeWriteCommandWithRetry(cmd, maxRetries-1, args...)
	}
	return nil
}

func (c *SentinelClient) executeReadFromMasterWithRetry(cmd string, maxRetries int, args ...string) (string, error) {
	if maxRetries <= 0 {
		return "", errors.New("max retries exceeded - master may be unstable")
	}

	c.connMu.RLock()
	conn := c.masterConn
	c.connMu.RUnlock()
	if conn == nil {
		return "", errors.New("not connected to master")
	}

	fullArgs := append([]string{cmd}, args...)
	if _, err := conn.Write(protocol.EncodeArray(fullArgs)); err != nil {
		c.reconnectToMaster()
		return c.executeReadFromMasterWithRetry(cmd, maxRetries-1, args...)
	}

	reader := bufio.NewReader(conn)
	reply, err := protocol.ParseCommand(reader)
	if err != nil {
		c.reconnectToMaster()
		return c.executeReadFromMasterWithRetry(cmd, maxRetries-1, args...)
	}
	if len(reply.Args) == 1 && strings.HasPrefix(reply.Args[0], "$") {
		// bulk reply: the header carries the length of the value that follows
		n, err := strconv.Atoi(reply.Args[0][1:])
		if err != nil || n < 0 {
			return "", nil
		}
		data := make([]byte, n+2)
		if _, err := io.ReadFull(reader, data); err != nil {
			c.reconnectToMaster()
			return c.executeReadFromMasterWithRetry(cmd, maxRetries-1, args...)
		}
		return string(data[:n]), nil
	}
	if len(reply.Args) > 0 {
		return reply.Args[0], nil
	}
	return "", nil
}

// Close tears down every held connection.
func (c *SentinelClient) Close() {
	close(c.stopHealthCheck)
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.masterConn != nil {
		c.masterConn.Close()
	}
	for _, conn := range c.replicaConns {
		conn.Close()
	}
}
