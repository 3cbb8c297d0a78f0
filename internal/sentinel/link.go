package sentinel

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/redis-ha/sentinel/internal/protocol"
)

// Reply is delivered asynchronously by a Link once a command it sent gets
// an answer, or when a pub/sub message arrives on its channel. The engine
// drains these on its own goroutine before running the per-instance
// handler, which is what keeps state mutation single-threaded in spirit
// (§5): a Link's own goroutines never touch Instance state directly.
type Reply struct {
	Instance *Instance
	Op       string // "ping" | "info" | "ask" | "auth" | "slaveof" | "generic" | "subscribe-ack" | "publish-ack" | "hello-message" | "disconnect"
	Args     []string
	Line     string
	Err      error
	At       time.Time
}

// Link is the asynchronous connection abstraction the link manager (§4.2)
// drives. The concrete implementation (netLink) is the "low-level
// asynchronous connection library" collaborator spec.md places out of the
// engine's scope; the engine only ever depends on this interface.
type Link interface {
	Dial(addr Address) error
	Close()
	Connected() bool
	ConnectedAt() time.Time
	LastActivity() time.Time
	Send(op string, args ...string) error
	Subscribe(channel string) error
	Publish(channel, payload string) error
}

// netLink is a Link backed by a real TCP connection to a monitored node,
// speaking the node's native RESP-style protocol. A single background
// goroutine reads replies and pushes them onto the engine's shared
// replies channel; the public methods only ever write.
type netLink struct {
	conn       net.Conn
	w          *bufio.Writer
	connectedAt time.Time
	lastActivity time.Time
	inst       *Instance
	replies    chan<- Reply
	closed     chan struct{}
	pendingOp  []string // FIFO of operation tags for in-order reply attribution
	defaultOp  string    // tag applied to unsolicited pushes (pub/sub messages)
}

func newNetLink(inst *Instance, replies chan<- Reply) *netLink {
	return &netLink{inst: inst, replies: replies, defaultOp: "generic"}
}

func newPubSubNetLink(inst *Instance, replies chan<- Reply) *netLink {
	return &netLink{inst: inst, replies: replies, defaultOp: "hello-message"}
}

func (l *netLink) Dial(addr Address) error {
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		return err
	}
	l.conn = conn
	l.w = bufio.NewWriter(conn)
	l.connectedAt = time.Now()
	l.lastActivity = l.connectedAt
	l.closed = make(chan struct{})
	go l.readLoop()
	return nil
}

func (l *netLink) readLoop() {
	r := bufio.NewReader(l.conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			select {
			case l.replies <- Reply{Instance: l.inst, Op: "disconnect", Err: err, At: time.Now()}:
			case <-l.closed:
			}
			return
		}
		op := l.defaultOp
		if len(l.pendingOp) > 0 {
			op = l.pendingOp[0]
			l.pendingOp = l.pendingOp[1:]
		}
		reply := Reply{Instance: l.inst, Op: op, Line: line, At: time.Now()}
		select {
		case l.replies <- reply:
		case <-l.closed:
			return
		}
	}
}

func (l *netLink) Close() {
	if l.conn == nil {
		return
	}
	if l.closed != nil {
		close(l.closed)
	}
	l.conn.Close()
	l.conn = nil
}

func (l *netLink) Connected() bool { return l.conn != nil }

func (l *netLink) ConnectedAt() time.Time { return l.connectedAt }

func (l *netLink) LastActivity() time.Time { return l.lastActivity }

func (l *netLink) Send(op string, args ...string) error {
	if l.conn == nil {
		return fmt.Errorf("link not connected")
	}
	l.pendingOp = append(l.pendingOp, op)
	l.lastActivity = time.Now()
	_, err := l.w.Write(protocol.EncodeArray(args))
	if err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *netLink) Subscribe(channel string) error {
	return l.Send("subscribe-ack", "SUBSCRIBE", channel)
}

func (l *netLink) Publish(channel, payload string) error {
	return l.Send("publish-ack", "PUBLISH", channel, payload)
}

// reconnectBackoff builds the exponential-backoff policy the link manager
// uses to pace redials of a single instance's links, replacing the
// teacher's hand-doubled interval with a jittered exponential policy.
// It never blocks the tick: callers consult NextBackOff() as a "not yet"
// gate rather than sleeping on it.
func reconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = minLinkReconnectPeriod
	b.MaxElapsedTime = 0 // never gives up; the tick keeps retrying
	return b
}
