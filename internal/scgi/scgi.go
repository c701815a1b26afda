// Package scgi drives one TCP connection through the SCGI wire
// protocol: incrementally parse the netstring-framed header block and
// body, enforce idle timeouts while parsing, and hand the fully parsed
// request off to a handler that takes over the raw socket.
package scgi

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gahr/scgi-go/internal/logging"
	"github.com/gahr/scgi-go/internal/netstring"
)

// State is one of a connection's four monotonically advancing states.
type State int

const (
	ReadingLen State = iota
	ReadingHead
	ReadingBody
	Dispatched
)

func (s State) String() string {
	switch s {
	case ReadingLen:
		return "ReadingLen"
	case ReadingHead:
		return "ReadingHead"
	case ReadingBody:
		return "ReadingBody"
	case Dispatched:
		return "Dispatched"
	default:
		return "Unknown"
	}
}

// Handler takes ownership of conn once a request is fully parsed. It
// must write a response and close conn; the scgi package never touches
// the socket again after calling Handler.
type Handler func(ctx context.Context, conn net.Conn, headers map[string]string, body []byte)

// Conn is one connection's parse state: everything the acceptor owns
// until the moment of dispatch.
type Conn struct {
	id       string
	conn     net.Conn
	idle     time.Duration // <=0 disables the idle timeout
	state    State
	buf      []byte
	hbeg     int
	hlen     int
	bbeg     int
	blen     int
	headers  map[string]string
	parseErr error
}

func newConn(id string, netConn net.Conn, idle time.Duration) *Conn {
	return &Conn{id: id, conn: netConn, idle: idle, state: ReadingLen}
}

// run advances the connection through ReadingLen -> ReadingHead ->
// ReadingBody -> Dispatched by reading from the socket as needed,
// applying the idle timeout before every blocking read while
// state < Dispatched. Returns the finalized headers and body once
// Dispatched is reached.
func (c *Conn) run() (map[string]string, []byte, error) {
	for c.state != Dispatched && c.parseErr == nil {
		if c.idle > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.idle)); err != nil {
				return nil, nil, err
			}
		}
		if c.advance() {
			continue // buffered data already carries us to the next state
		}
		tmp := make([]byte, 16*1024)
		n, err := c.conn.Read(tmp)
		if n > 0 {
			c.buf = append(c.buf, tmp[:n]...)
		}
		if err != nil {
			return nil, nil, err
		}
	}
	if c.parseErr != nil {
		return nil, nil, c.parseErr
	}
	if c.idle > 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	if c.bbeg < 0 || c.bbeg+c.blen > len(c.buf) {
		return nil, nil, fmt.Errorf("scgi: truncated body")
	}
	return c.headers, c.buf[c.bbeg : c.bbeg+c.blen], nil
}

// advance applies every state transition that the currently buffered
// bytes permit, without blocking. It reports whether it made progress,
// so run() can avoid an unnecessary read syscall.
func (c *Conn) advance() bool {
	progressed := false
	for {
		switch c.state {
		case ReadingLen:
			length, headBeg, ok, err := netstring.ScanLen(c.buf)
			if err != nil {
				c.parseErr = err // run() stops and reports it
				return true
			}
			if !ok {
				return progressed
			}
			c.hlen = length
			c.hbeg = headBeg
			c.state = ReadingHead
			progressed = true

		case ReadingHead:
			if len(c.buf) < c.hbeg+c.hlen+1 { // header block + trailing comma
				return progressed
			}
			if c.buf[c.hbeg+c.hlen] != ',' {
				c.parseErr = fmt.Errorf("scgi: header block missing trailing comma")
				return true
			}
			headers, err := netstring.ParseHeaders(c.buf[c.hbeg : c.hbeg+c.hlen])
			if err != nil {
				c.parseErr = err
				return true
			}
			c.headers = headers
			c.bbeg = c.hbeg + c.hlen + 1 // skip the trailing comma
			c.state = ReadingBody
			progressed = true

		case ReadingBody:
			blen, err := parseContentLength(c.headers["CONTENT_LENGTH"])
			if err != nil {
				c.parseErr = err
				return true
			}
			c.blen = blen
			if blen == 0 || len(c.buf) >= c.bbeg+blen {
				c.state = Dispatched
				progressed = true
				return true
			}
			return progressed

		default:
			return progressed
		}
	}
}

func parseContentLength(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("scgi: invalid CONTENT_LENGTH %q", s)
	}
	return n, nil
}

// Gate listens on one TCP endpoint and spawns a Conn per accepted
// socket, each on its own goroutine.
type Gate struct {
	listener    *net.TCPListener
	idleTimeout time.Duration
	handle      Handler
}

// Listen opens addr and returns a Gate ready to Serve.
func Listen(addr string, idleTimeout time.Duration, handle Handler) (*Gate, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}
	return &Gate{listener: ln, idleTimeout: idleTimeout, handle: handle}, nil
}

// Addr returns the bound listen address.
func (g *Gate) Addr() net.Addr { return g.listener.Addr() }

// Close stops accepting new connections.
func (g *Gate) Close() error { return g.listener.Close() }

// Serve accepts connections until Close is called or ctx is canceled,
// spawning one goroutine per connection.
func (g *Gate) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		g.listener.Close()
	}()
	for {
		tcpConn, err := g.listener.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Verbosef("scgi: accept error: %v", err)
			continue
		}
		go g.serveConn(ctx, tcpConn)
	}
}

func (g *Gate) serveConn(ctx context.Context, tcpConn *net.TCPConn) {
	id := uuid.NewString()
	c := newConn(id, tcpConn, g.idleTimeout)
	headers, body, err := c.run()
	if err != nil {
		if c.parseErr != nil {
			logging.Verbosef("scgi conn %s: protocol error: %v", id, c.parseErr)
		} else {
			logging.Verbosef("scgi conn %s: read error: %v", id, err)
		}
		tcpConn.Close()
		return
	}
	logging.Verbosef("scgi conn %s: dispatched, %s bytes body", id, logging.Bytes(len(body)))
	g.handle(ctx, tcpConn, headers, body)
}
