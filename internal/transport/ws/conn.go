package ws

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// outboundBuffer bounds the per-connection send queue. Sends are
// fire-and-forget; a connection that cannot drain its queue is dropped.
const outboundBuffer = 64

var errConnClosed = errors.New("ws: connection closed")

// conn adapts a websocket to the session.Conn contract: stable id, remote
// address, ordered non-blocking sends, idempotent close.
type conn struct {
	id         uuid.UUID
	remoteAddr string
	ws         *websocket.Conn

	out       chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, remote string) *conn {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	return &conn{
		id:         uuid.New(),
		remoteAddr: host,
		ws:         ws,
		out:        make(chan []byte, outboundBuffer),
		closed:     make(chan struct{}),
	}
}

func (c *conn) ID() uuid.UUID      { return c.id }
func (c *conn) RemoteAddr() string { return c.remoteAddr }

// Send queues data for the write loop. It never blocks packet processing:
// a full queue closes the connection instead of stalling the core.
func (c *conn) Send(data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		c.Close()
		return errors.New("ws: outbound queue overflow")
	}
}

// Close tears the connection down. Safe to call multiple times and from any
// goroutine; the read loop observes the closure and fires the disconnect
// callback.
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close(websocket.StatusNormalClosure, "closing")
	})
}

// writeLoop drains the outbound queue in order.
func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case data := <-c.out:
			if err := c.ws.Write(ctx, websocket.MessageBinary, data); err != nil {
				c.Close()
				return
			}
		}
	}
}
