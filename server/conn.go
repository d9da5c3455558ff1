package server

import (
	"context"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rizalgowandy/skytable/auth"
	"github.com/rizalgowandy/skytable/catalog"
	"github.com/rizalgowandy/skytable/metrics"
	"github.com/rizalgowandy/skytable/protocol"
	"github.com/rizalgowandy/skytable/query"
)

// Default timeouts of a Skyhash built by NewSkyhash.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
)

// writeTimeout bounds any single response write to a peer.
var writeTimeout = time.Minute

// Skyhash serves the query protocol. Each connection decodes a handshake
// which is authenticated against the Catalog, and the session then
// alternates between reading a request (one query, or a pipeline of them)
// and writing responses, exactly one per query and in request order.
type Skyhash struct {
	// Executor runs decoded queries. It must be set before serving.
	Executor *query.Executor
	// Catalog resolves user credentials during authentication.
	// It must be set before serving.
	Catalog *catalog.Catalog
	// HandshakeTimeout bounds the handshake and authentication phase.
	HandshakeTimeout time.Duration
	// IdleTimeout closes connections which sit without a complete
	// request for its duration.
	IdleTimeout time.Duration

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewSkyhash returns a Skyhash with default timeouts. Its Executor and
// Catalog must be set before serving.
func NewSkyhash() *Skyhash {
	return &Skyhash{
		HandshakeTimeout: DefaultHandshakeTimeout,
		IdleTimeout:      DefaultIdleTimeout,
		conns:            make(map[net.Conn]struct{}),
	}
}

// serve accepts and serves connections of |lis| until it errors, which
// under a graceful stop it does once the bound socket closes.
func (h *Skyhash) serve(ctx context.Context, lis net.Listener) error {
	for {
		var tcp, err = lis.Accept()
		if err != nil {
			return err
		}
		metrics.ConnectionsTotal.Inc()
		metrics.ConnectionsOpen.Inc()

		h.mu.Lock()
		h.conns[tcp] = struct{}{}
		h.mu.Unlock()
		h.wg.Add(1)

		go func(tcp net.Conn) {
			defer func() {
				h.mu.Lock()
				delete(h.conns, tcp)
				h.mu.Unlock()
				metrics.ConnectionsOpen.Dec()
				h.wg.Done()
			}()
			h.serveConn(ctx, tcp)
		}(tcp)
	}
}

// GracefulStop wakes connections blocked in a read, and then blocks
// until every open session has drained. A session partway through an
// exchange completes it and writes its responses before closing.
func (h *Skyhash) GracefulStop() {
	h.mu.Lock()
	for tcp := range h.conns {
		_ = tcp.SetReadDeadline(time.Now())
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// connState is a state of the per-connection automaton.
type connState int

const (
	awaitingHandshake connState = iota
	authenticating
	ready
	executingQuery
	executingPipeline
	// rejected closes the connection after a protocol violation or
	// refused credentials. An explicit rejection was already written:
	// a violation never appears to the client as a bare drop.
	rejected
	// closed is a clean or peer-initiated close.
	closed
)

func (s connState) String() string {
	switch s {
	case awaitingHandshake:
		return "AwaitingHandshake"
	case authenticating:
		return "Authenticating"
	case ready:
		return "Ready"
	case executingQuery:
		return "ExecutingQuery"
	case executingPipeline:
		return "ExecutingPipeline"
	case rejected:
		return "Rejected"
	default:
		return "Closed"
	}
}

// conn is the decode and session state of one connection.
type conn struct {
	tcp  net.Conn
	exec *query.Executor
	cat  *catalog.Catalog

	buf []byte // Read bytes not yet decoded are buf[off:].
	off int
	out []byte // Staged response bytes.

	hs   protocol.Handshake
	sess query.Session
	req  protocol.Request
}

func (h *Skyhash) serveConn(ctx context.Context, tcp net.Conn) {
	defer func() { _ = tcp.Close() }()

	var c = conn{tcp: tcp, exec: h.Executor, cat: h.Catalog}
	var state = awaitingHandshake

	for state != rejected && state != closed {
		if ctx.Err() != nil {
			state = closed
			break
		}
		switch state {
		case awaitingHandshake:
			state = c.readHandshake(h.HandshakeTimeout)
		case authenticating:
			state = c.authenticate()
		case ready:
			state = c.nextRequest(h.IdleTimeout)
		case executingQuery, executingPipeline:
			state = c.execute(ctx)
		}
	}
	log.WithFields(log.Fields{
		"client": tcp.RemoteAddr(),
		"state":  state,
	}).Debug("client connection closed")
}

// readHandshake decodes the connection handshake. Option bytes are
// checked before any credential byte, so an unsupported version draws
// its rejection even when the credential section never arrives.
func (c *conn) readHandshake(timeout time.Duration) connState {
	_ = c.tcp.SetReadDeadline(time.Now().Add(timeout))

	for {
		var hs, n, err = protocol.DecodeHandshake(c.buf[c.off:])
		if err == protocol.ErrIncomplete {
			if c.fill() != nil {
				return closed
			}
			continue
		} else if err != nil {
			var he, ok = err.(protocol.HandshakeError)
			if !ok {
				he = protocol.HandshakeCorrupted
			}
			log.WithFields(log.Fields{
				"client": c.tcp.RemoteAddr(),
				"err":    err,
			}).Warn("rejecting client connection (bad handshake)")
			return c.reject(he)
		}
		c.off += n
		c.hs = hs
		return authenticating
	}
}

// authenticate verifies the handshake credentials. An unknown user and a
// wrong password are indistinguishable to the client, in both the
// rejection code and the cost of producing it.
func (c *conn) authenticate() connState {
	var hash, ok = c.cat.LookupUser(c.hs.User)
	if !auth.VerifyUser(hash, ok, c.hs.Password) {
		metrics.AuthFailuresTotal.Inc()
		log.WithFields(log.Fields{
			"client": c.tcp.RemoteAddr(),
			"user":   c.hs.User,
		}).Warn("rejecting client connection (bad credentials)")
		return c.reject(protocol.HandshakeAuthRejected)
	}
	c.sess = query.Session{User: c.hs.User}
	c.hs = protocol.Handshake{}

	c.out = protocol.AppendHandshakeAck(c.out[:0])
	if !c.write() {
		return closed
	}
	return ready
}

// nextRequest reads the next exchange frame of a Ready session.
func (c *conn) nextRequest(idle time.Duration) connState {
	_ = c.tcp.SetReadDeadline(time.Now().Add(idle))

	for {
		var req, n, err = protocol.DecodeRequest(c.buf[c.off:])
		if err == protocol.ErrIncomplete {
			if c.fill() != nil {
				return closed
			}
			continue
		} else if err == protocol.ErrIllegalPipeline {
			// Response alignment cannot be relied on past a malformed
			// pipeline. Answer with the illegal-packet byte and hang up.
			c.out = append(c.out[:0], protocol.IllegalPacketByte)
			_ = c.write()
			log.WithField("client", c.tcp.RemoteAddr()).
				Warn("rejecting client connection (illegal pipeline)")
			return rejected
		} else if err != nil {
			c.out = protocol.ErrorOf(err).Append(c.out[:0])
			_ = c.write()
			log.WithFields(log.Fields{
				"client": c.tcp.RemoteAddr(),
				"err":    err,
			}).Warn("rejecting client connection (malformed frame)")
			return rejected
		}
		c.off += n
		c.req = req

		if req.Pipeline {
			return executingPipeline
		}
		return executingQuery
	}
}

// execute runs each query of the current request and writes one response
// per query, in order. A failed query contributes its error response and
// execution continues with the rest of the pipeline.
func (c *conn) execute(ctx context.Context) connState {
	c.out = c.out[:0]
	for _, q := range c.req.Queries {
		var resp = c.exec.Execute(&c.sess, q.Text, q.Params)
		c.out = resp.Append(c.out)
	}
	c.req = protocol.Request{}

	if !c.write() {
		return closed
	}
	if ctx.Err() != nil {
		return closed // Stopping: finish the exchange, then hang up.
	}
	return ready
}

// reject writes a typed handshake rejection and closes.
func (c *conn) reject(he protocol.HandshakeError) connState {
	c.out = protocol.AppendHandshakeError(c.out[:0], he)
	_ = c.write()
	return rejected
}

// fill reads more bytes from the peer into the decode buffer. A read
// which returns data defers its error until that data is consumed.
func (c *conn) fill() error {
	if c.off == len(c.buf) {
		c.buf, c.off = c.buf[:0], 0
	}
	if cap(c.buf)-len(c.buf) < 512 {
		var next = make([]byte, 0, 2*(len(c.buf)-c.off)+4096)
		c.buf, c.off = append(next, c.buf[c.off:]...), 0
	}
	var n, err = c.tcp.Read(c.buf[len(c.buf):cap(c.buf)])
	c.buf = c.buf[:len(c.buf)+n]

	if n != 0 {
		return nil
	}
	return err
}

// write flushes staged response bytes to the peer.
func (c *conn) write() bool {
	_ = c.tcp.SetWriteDeadline(time.Now().Add(writeTimeout))
	var _, err = c.tcp.Write(c.out)
	return err == nil
}
