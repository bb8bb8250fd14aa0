// Package transport is the byte-transport collaborator the rest of this
// module treats as external: it owns the raw TCP or TLS socket and turns it
// into the connect/data/error/close/end/timeout event stream the session
// facade drives.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/matt0x6f/irc-session/internal/logger"
)

// EventType identifies which of the transport contract's events an Event
// carries.
type EventType int

const (
	EventConnect EventType = iota
	EventData
	EventError
	EventClose
	EventEnd
	EventTimeout
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventData:
		return "data"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	case EventEnd:
		return "end"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Event is a single transport-level occurrence delivered on Conn's channel.
type Event struct {
	Type EventType
	Data []byte
	Err  error
}

// Options overlays the caller's opaque connect options with the host/port
// the session resolved from Config.
type Options struct {
	Host string
	Port int

	// TLS, when non-nil, causes Connect to wrap the connection in a TLS
	// client handshake using this configuration instead of a plain TCP
	// dial.
	TLS *tls.Config
}

// Conn is the transport contract the session facade depends on. The core
// never distinguishes plaintext from TLS; both are satisfied by the same
// interface.
type Conn interface {
	// Connect dials the remote, emitting EventConnect on success or
	// EventError on failure. It is called at most once.
	Connect(ctx context.Context, opts Options) error

	// Write sends raw bytes on the connection.
	Write(b []byte) error

	// End closes the connection from this side, eventually emitting
	// EventEnd and EventClose on the owning goroutine.
	End() error

	// SetTimeout forwards a read/write deadline to the underlying socket.
	// It is orthogonal to the session's own keepalive watchdog.
	SetTimeout(d time.Duration)

	// SetNoDelay disables Nagle's algorithm when the underlying socket
	// supports it.
	SetNoDelay(bool) error

	// Events returns the channel Event values are delivered on. The
	// channel is closed after EventClose has been sent.
	Events() <-chan Event
}

// tcpConn is the default Conn implementation, wrapping net.Conn (a plain
// net.Dial or a pre-established tls.Conn are both accepted transparently).
type tcpConn struct {
	conn   net.Conn
	events chan Event
	ended  chan struct{}
}

// New returns a Conn that dials with net.Dial, or tls.Dial when
// opts.TLS is set at Connect time.
func New() Conn {
	return &tcpConn{
		events: make(chan Event, 16),
		ended:  make(chan struct{}),
	}
}

func (c *tcpConn) Events() <-chan Event { return c.events }

func (c *tcpConn) Connect(ctx context.Context, opts Options) error {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	dialer := &net.Dialer{}

	var (
		conn net.Conn
		err  error
	)
	if opts.TLS != nil {
		tlsDialer := tls.Dialer{NetDialer: dialer, Config: opts.TLS}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		c.emit(Event{Type: EventError, Err: err})
		c.emit(Event{Type: EventClose})
		close(c.events)
		return err
	}

	c.conn = conn
	c.emit(Event{Type: EventConnect})

	go c.readLoop()

	return nil
}

func (c *tcpConn) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.emit(Event{Type: EventData, Data: chunk})
		}
		if err != nil {
			c.handleReadError(err)
			return
		}
	}
}

func (c *tcpConn) handleReadError(err error) {
	select {
	case <-c.ended:
		// this side requested End(); a read error is the expected way
		// the loop observes the socket going away.
		c.emit(Event{Type: EventEnd})
	default:
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			c.emit(Event{Type: EventTimeout})
		} else {
			c.emit(Event{Type: EventError, Err: err})
		}
	}
	c.emit(Event{Type: EventClose})
	close(c.events)
}

func (c *tcpConn) Write(b []byte) error {
	if c.conn == nil {
		return fmt.Errorf("transport: write before connect")
	}
	_, err := c.conn.Write(b)
	return err
}

func (c *tcpConn) End() error {
	select {
	case <-c.ended:
		return nil
	default:
		close(c.ended)
	}
	if c.conn == nil {
		return nil
	}
	logger.Log.Debug().Msg("transport: closing connection")
	return c.conn.Close()
}

func (c *tcpConn) SetTimeout(d time.Duration) {
	if c.conn == nil {
		return
	}
	_ = c.conn.SetDeadline(time.Now().Add(d))
}

func (c *tcpConn) SetNoDelay(nodelay bool) error {
	if tc, ok := c.conn.(*net.TCPConn); ok {
		return tc.SetNoDelay(nodelay)
	}
	return nil
}

func (c *tcpConn) emit(e Event) {
	c.events <- e
}
