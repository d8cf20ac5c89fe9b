package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Role of a subscriber connection.
type Role int32

const (
	RolePublic Role = iota
	RoleAdmin
)

// Transport selects the frame format a connection consumes.
type Transport int

const (
	TransportWebSocket Transport = iota
	TransportSSE
)

func (t Transport) String() string {
	if t == TransportSSE {
		return "sse"
	}
	return "websocket"
}

// Conn is one subscriber: an outgoing message sink plus its auth state.
// Send must not block; a send the connection cannot accept returns an error
// and the hub prunes the connection on the next broadcast.
type Conn interface {
	ID() string
	Role() Role
	SetRole(Role)
	Authenticated() bool
	CreatedAt() time.Time
	Transport() Transport
	Send(msg []byte) error
	Close()
}

// ChannelConn is the buffered-channel Conn used by both transports. The
// transport handler drains Outbox and writes to the wire.
type ChannelConn struct {
	id        string
	role      atomic.Int32
	transport Transport
	created   time.Time
	ch        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewChannelConn allocates a conn with the given outbound buffer size.
func NewChannelConn(transport Transport, buffer int) *ChannelConn {
	if buffer <= 0 {
		buffer = 32
	}
	return &ChannelConn{
		id:        uuid.New().String(),
		transport: transport,
		created:   time.Now().UTC(),
		ch:        make(chan []byte, buffer),
		closed:    make(chan struct{}),
	}
}

func (c *ChannelConn) ID() string           { return c.id }
func (c *ChannelConn) Role() Role           { return Role(c.role.Load()) }
func (c *ChannelConn) SetRole(r Role)       { c.role.Store(int32(r)) }
func (c *ChannelConn) Authenticated() bool  { return c.Role() == RoleAdmin }
func (c *ChannelConn) CreatedAt() time.Time { return c.created }
func (c *ChannelConn) Transport() Transport { return c.transport }

// Send queues msg for the write pump without blocking. A full buffer means
// the client stopped draining; the caller treats that as a dead connection.
func (c *ChannelConn) Send(msg []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.ch <- msg:
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Outbox is drained by the transport write pump.
func (c *ChannelConn) Outbox() <-chan []byte { return c.ch }

// Done is closed once the connection is finished.
func (c *ChannelConn) Done() <-chan struct{} { return c.closed }

func (c *ChannelConn) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}
