// Package server bundles the process's single bound TCP socket: client
// query connections, multiplexed with the HTTP endpoints which serve
// metrics and health checks.
package server

import (
	"context"
	"crypto/tls"
	"expvar"
	"fmt"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/soheilhy/cmux"
	"golang.org/x/net/netutil"

	"github.com/rizalgowandy/skytable/keepalive"
	"github.com/rizalgowandy/skytable/task"
)

// Server bundles the query protocol and HTTP servers, multiplexed over a
// single bound TCP socket (using CMux). Additional protocols may be added
// to the Server by interacting directly with its provided CMux.
type Server struct {
	// RawListener is the bound TCP listener of the Server.
	RawListener *net.TCPListener
	// CMux wraps RawListener to provide connection protocol multiplexing
	// over a single bound socket. Query protocol and HTTP Listeners are
	// provided by default. Additional Listeners may be added directly via
	// CMux.Match() -- though it is then the user's responsibility to Serve
	// the resulting Listeners.
	CMux cmux.CMux
	// HTTPListener is a CMux Listener for HTTP connections.
	HTTPListener net.Listener
	// SkyListener is a CMux Listener for query protocol connections.
	SkyListener net.Listener
	// HTTPMux is the http.ServeMux which is served by QueueTasks().
	HTTPMux *http.ServeMux
	// SkyServer handles query protocol connections accepted from
	// SkyListener. Its Executor and Catalog must be set before tasks
	// are queued.
	SkyServer *Skyhash
	// Ctx is cancelled when Server.GracefulStop is called.
	Ctx context.Context

	cancel context.CancelFunc
}

// Options are optional behaviors of a Server.
type Options struct {
	// MaxConnections bounds the number of concurrently open client
	// connections. Zero means no bound is applied.
	MaxConnections int
	// TLS, if non-nil, wraps every accepted connection in TLS.
	TLS *tls.Config
}

// New builds and returns a Server of the given TCP network interface
// |iface| and |port|. |port| may be zero, in which case a random free
// port is assigned.
func New(iface string, port uint16, opts Options) (*Server, error) {
	var addr = fmt.Sprintf("%s:%d", iface, port)

	var raw, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind service address (%s)", addr)
	}

	var ctx, cancel = context.WithCancel(context.Background())

	var srv = &Server{
		HTTPMux:     http.NewServeMux(),
		SkyServer:   NewSkyhash(),
		RawListener: raw.(*net.TCPListener),
		Ctx:         ctx,
		cancel:      cancel,
	}

	var lis net.Listener = keepalive.TCPListener{TCPListener: srv.RawListener}
	if opts.MaxConnections > 0 {
		lis = netutil.LimitListener(lis, opts.MaxConnections)
	}
	if opts.TLS != nil {
		lis = tls.NewListener(lis, opts.TLS)
	}
	srv.CMux = cmux.New(lis)

	srv.CMux.HandleError(func(err error) bool {
		if _, ok := err.(net.Error); !ok {
			log.WithField("err", err).Warn("failed to CMux client connection to a listener")
		}
		return true // Continue serving RawListener.
	})

	// Connections sending HTTP/1 verbs (GET, PUT, POST etc) are assumed to
	// be HTTP. Anything else is the query protocol, whose first byte is the
	// handshake magic.
	srv.HTTPListener = srv.CMux.Match(cmux.HTTP1Fast())
	srv.SkyListener = srv.CMux.Match(cmux.Any())

	srv.HTTPMux.Handle("/metrics", promhttp.Handler())
	srv.HTTPMux.Handle("/debug/vars", expvar.Handler())
	srv.HTTPMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintln(w, "OK")
	})

	return srv, nil
}

// Endpoint of the Server.
func (s *Server) Endpoint() string { return s.RawListener.Addr().String() }

// QueueTasks serving the CMux, HTTP, and query protocol component servers
// onto the task.Group. If additional Listeners are derived from the
// Server.CMux, attempts to Accept will block until the CMux itself begins
// serving.
func (s *Server) QueueTasks(tg *task.Group) {
	tg.Queue("CMux.Serve", func() error {
		if err := s.CMux.Serve(); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil // Swallow error after GracefulStop.
	})
	tg.Queue("http.Serve", func() error {
		if err := http.Serve(s.HTTPListener, s.HTTPMux); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil // Swallow error after GracefulStop.
	})
	tg.Queue("skyhash.Serve", func() error {
		if err := s.SkyServer.serve(s.Ctx, s.SkyListener); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil // Swallow error after GracefulStop.
	})
	tg.Queue("server.GracefulStop", func() error {
		<-tg.Context().Done() // Block until task.Group is cancelled.

		// Cancel |s.Ctx| so Serve loops recognize the listener teardown as
		// a graceful closure, then close the bound socket out from under
		// the CMux and its derived Listeners.
		s.cancel()
		_ = s.RawListener.Close()

		// Wake and drain connections which are idle or mid-read. Sessions
		// executing a query finish it, write the response, and then close.
		s.SkyServer.GracefulStop()
		return nil
	})
}
