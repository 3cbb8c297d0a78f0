package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/redis-ha/sentinel/internal/protocol"
	"github.com/redis-ha/sentinel/internal/sentinel"
)

// Server exposes the engine's administrative introspection surface and
// the peer-facing IS-MASTER-DOWN-BY-ADDR RPC over the monitored store's
// own RESP wire format (§6's "external interfaces" contract). It never
// mutates engine state directly; every handler goes through an exported
// accessor or RPC method on *sentinel.Engine.
type Server struct {
	engine   *sentinel.Engine
	addr     string
	log      *logrus.Entry
	listener net.Listener

	connIDCounter   atomic.Int64
	activeConnCount atomic.Int64
	maxConnections  int64

	wg           sync.WaitGroup
	shutdownChan chan struct{}
	mu           sync.Mutex
	isShutdown   bool
}

// NewServer wraps engine with a RESP listener on host:port.
func NewServer(engine *sentinel.Engine, host string, port int, log *logrus.Entry) *Server {
	return &Server{
		engine:         engine,
		addr:           net.JoinHostPort(host, strconv.Itoa(port)),
		log:            log,
		maxConnections: 10000,
		shutdownChan:   make(chan struct{}),
	}
}

// Start opens the listener and serves connections until ctx is done or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.log.WithField("addr", s.addr).Info("sentinel admin/peer surface listening")

	go s.acceptConnections(ctx)

	<-ctx.Done()
	return nil
}

func (s *Server) acceptConnections(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan:
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			shuttingDown := s.isShutdown
			s.mu.Unlock()
			if shuttingDown {
				return
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}

		if s.activeConnCount.Load() >= s.maxConnections {
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	connID := s.connIDCounter.Add(1)
	s.activeConnCount.Add(1)
	defer s.activeConnCount.Add(-1)
	defer conn.Close()

	s.log.WithFields(logrus.Fields{"conn": connID, "remote": conn.RemoteAddr()}).Debug("connection opened")

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		cmd, err := protocol.ParseCommand(reader)
		if err != nil {
			return
		}

		if _, err := conn.Write(s.execute(cmd)); err != nil {
			return
		}
	}
}

// Shutdown stops accepting new connections and waits (bounded) for
// in-flight ones to finish.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.isShutdown {
		s.mu.Unlock()
		return
	}
	s.isShutdown = true
	s.mu.Unlock()

	close(s.shutdownChan)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("shutdown timeout, forcing exit")
	}
}

func (s *Server) execute(cmd *protocol.Command) []byte {
	if len(cmd.Args) == 0 {
		return protocol.EncodeError("ERR no command provided")
	}
	switch strings.ToUpper(cmd.Args[0]) {
	case "PING":
		return protocol.EncodeSimpleString("PONG")
	case "SENTINEL":
		if len(cmd.Args) < 2 {
			return protocol.EncodeError("ERR wrong number of arguments for 'sentinel' command")
		}
		return s.executeSentinel(cmd.Args[1:])
	default:
		return protocol.EncodeError(fmt.Sprintf("ERR unknown command '%s'", cmd.Args[0]))
	}
}

func (s *Server) executeSentinel(args []string) []byte {
	if len(args) == 0 {
		return protocol.EncodeError("ERR wrong number of arguments for 'sentinel' command")
	}
	switch strings.ToUpper(args[0]) {
	case "GET-MASTER-ADDR-BY-NAME":
		return s.getMasterAddrByName(args[1:])
	case "MASTER":
		return s.master(args[1:])
	case "MASTERS":
		return s.masters()
	case "REPLICAS", "SLAVES":
		return s.replicas(args[1:])
	case "SENTINELS":
		return s.sentinels(args[1:])
	case "IS-MASTER-DOWN-BY-ADDR":
		return s.isMasterDownByAddr(args[1:])
	case "RESET":
		return s.reset(args[1:])
	case "FAILOVER":
		return s.failover(args[1:])
	case "PENDING-SCRIPTS":
		return protocol.EncodeInteger(s.engine.PendingScripts())
	default:
		return protocol.EncodeError(fmt.Sprintf("ERR unknown sentinel subcommand '%s'", args[0]))
	}
}

func (s *Server) getMasterAddrByName(args []string) []byte {
	if len(args) != 1 {
		return protocol.EncodeError("ERR wrong number of arguments")
	}
	m, ok := s.engine.Master(args[0])
	if !ok {
		return protocol.EncodeNullBulkString()
	}
	return protocol.EncodeArray([]string{m.Host, strconv.Itoa(m.Port)})
}

func (s *Server) master(args []string) []byte {
	if len(args) != 1 {
		return protocol.EncodeError("ERR wrong number of arguments")
	}
	m, ok := s.engine.Master(args[0])
	if !ok {
		return protocol.EncodeNullBulkString()
	}
	return protocol.EncodeInterfaceArray(masterFields(m))
}

func (s *Server) masters() []byte {
	masters := s.engine.Masters()
	rows := make([][]byte, 0, len(masters))
	for _, m := range masters {
		rows = append(rows, protocol.EncodeInterfaceArray(masterFields(m)))
	}
	return protocol.EncodeRawArray(rows)
}

func masterFields(m sentinel.MasterInfo) []interface{} {
	return []interface{}{
		"name", m.Name,
		"ip", m.Host,
		"port", m.Port,
		"runid", m.RunID,
		"flags", m.Status,
		"num-slaves", m.ReplicaCount,
		"num-other-sentinels", m.PeerCount,
		"quorum", m.Quorum,
		"config-epoch", m.ConfigEpoch,
		"failover-state", m.FailoverState,
	}
}

func (s *Server) replicas(args []string) []byte {
	if len(args) != 1 {
		return protocol.EncodeError("ERR wrong number of arguments")
	}
	children, ok := s.engine.Replicas(args[0])
	if !ok {
		return protocol.EncodeNilArray()
	}
	return encodeChildren(children)
}

func (s *Server) sentinels(args []string) []byte {
	if len(args) != 1 {
		return protocol.EncodeError("ERR wrong number of arguments")
	}
	children, ok := s.engine.Peers(args[0])
	if !ok {
		return protocol.EncodeNilArray()
	}
	return encodeChildren(children)
}

func encodeChildren(children []sentinel.ChildInfo) []byte {
	rows := make([][]byte, 0, len(children))
	for _, c := range children {
		rows = append(rows, protocol.EncodeInterfaceArray([]interface{}{
			"name", c.Name,
			"ip", c.Host,
			"port", c.Port,
			"runid", c.RunID,
			"flags", c.Status,
		}))
	}
	return protocol.EncodeRawArray(rows)
}

func (s *Server) isMasterDownByAddr(args []string) []byte {
	if len(args) < 4 {
		return protocol.EncodeError("ERR wrong number of arguments for 'sentinel is-master-down-by-addr' command")
	}
	name := masterNameForAddr(s.engine, args[0], args[1])
	epoch, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return protocol.EncodeError("ERR invalid epoch")
	}
	candidateRunID := args[3]

	reply, err := s.engine.HandleVoteRequest(name, epoch, candidateRunID)
	if err != nil {
		return protocol.EncodeRawArray([][]byte{
			protocol.EncodeInteger(0),
			protocol.EncodeNullBulkString(),
			protocol.EncodeInteger64(0),
		})
	}

	down := 0
	if reply.LocalDown {
		down = 1
	}
	leader := protocol.EncodeNullBulkString()
	if reply.LeaderRunID != "" {
		leader = protocol.EncodeBulkString(reply.LeaderRunID)
	}
	return protocol.EncodeRawArray([][]byte{
		protocol.EncodeInteger(down),
		leader,
		protocol.EncodeInteger64(reply.LeaderEpoch),
	})
}

// masterNameForAddr resolves the configured primary name matching
// host:port, since IS-MASTER-DOWN-BY-ADDR identifies its subject by
// address rather than name (§4.7).
func masterNameForAddr(e *sentinel.Engine, host, portStr string) string {
	port, _ := strconv.Atoi(portStr)
	for _, m := range e.Masters() {
		if m.Host == host && m.Port == port {
			return m.Name
		}
	}
	return ""
}

func (s *Server) reset(args []string) []byte {
	if len(args) != 1 {
		return protocol.EncodeError("ERR wrong number of arguments")
	}
	n, err := s.engine.ResetPrimary(args[0], false)
	if err != nil {
		return protocol.EncodeError(fmt.Sprintf("ERR %v", err))
	}
	return protocol.EncodeInteger(n)
}

func (s *Server) failover(args []string) []byte {
	if len(args) != 1 {
		return protocol.EncodeError("ERR wrong number of arguments")
	}
	if err := s.engine.ForceFailover(args[0]); err != nil {
		return protocol.EncodeError(fmt.Sprintf("ERR %v", err))
	}
	return protocol.EncodeSimpleString("OK")
}
