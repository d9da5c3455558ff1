// Package client is a minimal query protocol client: it dials and
// authenticates a connection, and then exchanges queries and pipelines
// for their responses.
package client

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/rizalgowandy/skytable/keepalive"
	"github.com/rizalgowandy/skytable/protocol"
)

// DefaultTimeout bounds an exchange when Options.Timeout is zero.
const DefaultTimeout = time.Minute

// Options are optional behaviors of a Conn.
type Options struct {
	// TLS, if non-nil, wraps the dialed connection in TLS.
	TLS *tls.Config
	// Timeout bounds each exchange, from request write to the last
	// response byte. Zero applies DefaultTimeout.
	Timeout time.Duration
}

// Conn is an authenticated client connection. It is not safe for
// concurrent use: an exchange must complete before the next begins.
type Conn struct {
	tcp     net.Conn
	timeout time.Duration

	buf []byte // Read bytes not yet decoded are buf[off:].
	off int
	out []byte // Staged request bytes.
}

// Dial connects to |addr| and performs the connection handshake as
// |user|. A server rejection is returned as its typed
// protocol.HandshakeError.
func Dial(ctx context.Context, addr, user, password string, opts Options) (*Conn, error) {
	var tcp, err = keepalive.DialerFunc(ctx, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}
	if opts.TLS != nil {
		tcp = tls.Client(tcp, opts.TLS)
	}

	var c = &Conn{tcp: tcp, timeout: opts.Timeout}
	if c.timeout == 0 {
		c.timeout = DefaultTimeout
	}

	c.out = protocol.AppendHandshake(c.out[:0], user, password)
	if err = c.exchange(); err != nil {
		_ = tcp.Close()
		return nil, err
	}
	for {
		var n, err = protocol.DecodeHandshakeResponse(c.buf[c.off:])
		if err == protocol.ErrIncomplete {
			if err = c.fill(); err != nil {
				_ = tcp.Close()
				return nil, errors.Wrap(err, "reading handshake response")
			}
			continue
		} else if err != nil {
			_ = tcp.Close()
			return nil, err
		}
		c.off += n
		return c, nil
	}
}

// Query runs |text| with bound |params| and returns its response. A
// returned error is a transport or framing failure; a query which the
// server refused is an error Response instead.
func (c *Conn) Query(text string, params ...protocol.Value) (protocol.Response, error) {
	c.out = protocol.AppendSimpleQuery(c.out[:0], text, params...)
	if err := c.exchange(); err != nil {
		return protocol.Response{}, err
	}
	return c.readResponse()
}

// Pipeline runs |queries| as one exchange and returns their responses,
// one per query and in query order.
func (c *Conn) Pipeline(queries ...protocol.Query) ([]protocol.Response, error) {
	if len(queries) == 0 {
		return nil, errors.New("empty pipeline")
	}
	c.out = protocol.AppendPipeline(c.out[:0], queries...)
	if err := c.exchange(); err != nil {
		return nil, err
	}

	var resps = make([]protocol.Response, 0, len(queries))
	for range queries {
		var resp, err = c.readResponse()
		if err != nil {
			return nil, err
		}
		resps = append(resps, resp)
	}
	return resps, nil
}

// Close the connection.
func (c *Conn) Close() error { return c.tcp.Close() }

// exchange starts a request: it arms the exchange deadline and writes
// the staged request bytes.
func (c *Conn) exchange() error {
	_ = c.tcp.SetDeadline(time.Now().Add(c.timeout))
	var _, err = c.tcp.Write(c.out)
	return errors.Wrap(err, "writing request")
}

func (c *Conn) readResponse() (protocol.Response, error) {
	for {
		var resp, n, err = protocol.DecodeResponse(c.buf[c.off:])
		if err == protocol.ErrIncomplete {
			if err = c.fill(); err != nil {
				return protocol.Response{}, errors.Wrap(err, "reading response")
			}
			continue
		} else if err != nil {
			return protocol.Response{}, err
		}
		c.off += n
		return resp, nil
	}
}

// fill reads more bytes from the server into the decode buffer. A read
// which returns data defers its error until that data is consumed.
func (c *Conn) fill() error {
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
