package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/rizalgowandy/skytable/auth"
	"github.com/rizalgowandy/skytable/catalog"
	"github.com/rizalgowandy/skytable/fractal"
	"github.com/rizalgowandy/skytable/journal"
	mbp "github.com/rizalgowandy/skytable/mainboilerplate"
	"github.com/rizalgowandy/skytable/metrics"
	"github.com/rizalgowandy/skytable/query"
	"github.com/rizalgowandy/skytable/server"
	"github.com/rizalgowandy/skytable/task"
	"github.com/rizalgowandy/skytable/txn"
)

type cmdServe struct{}

func init() {
	cmdRegistry.AddCommand("", "serve", "Serve the database", `
Serve the database with the provided configuration, until signaled to
exit (via SIGTERM). Upon receiving a signal the server stops accepting
new connections, finishes request exchanges already under way, drains
background maintenance, and flushes committed work before exiting.

The root account must exist before any client can authenticate. On the
first boot of an empty data directory, set --auth.root-password (or
SKYD_AUTH_ROOT_PASSWORD) to create it.
`, &cmdServe{})
}

func (cmdServe) Execute([]string) error {
	defer mbp.LogPanic()
	startup()

	log.WithFields(log.Fields{
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
		"dir":       dataDir(),
		"port":      serverPort(),
	}).Info("starting skyd")

	prometheus.MustRegister(metrics.ServerCollectors()...)
	prometheus.MustRegister(metrics.EngineCollectors()...)

	var fs = afero.NewOsFs()
	var opts, err = journalOptions()
	mbp.Must(err, "invalid data configuration")

	var co *txn.Coordinator
	co, err = txn.Open(fs, dataDir(), opts)
	mbp.Must(err, "failed to open data directory", "dir", dataDir())

	if co.ReadOnly() {
		log.Warn("recovery found corruption; serving in degraded read-only mode")
	}
	bootstrapRoot(co)

	var srv *server.Server
	srv, err = server.New(Config.Server.Iface, serverPort(), server.Options{
		MaxConnections: Config.Server.MaxConnections,
		TLS:            tlsServerConfig(),
	})
	mbp.Must(err, "building Server instance")

	srv.SkyServer.Executor = query.NewExecutor(co, mbp.Version, map[string]string{
		"id":   Config.Server.Identity(),
		"host": Config.Server.Hostname(),
		"data": dataDir(),
	})
	srv.SkyServer.Catalog = co.Catalog()

	var tasks = task.NewGroup(context.Background())
	srv.QueueTasks(tasks)

	var sched = fractal.NewScheduler(co, fs, fractal.Config{
		Workers:        Config.Engine.Workers,
		VacuumInterval: time.Duration(Config.Engine.VacuumInterval),
		CompactEvery:   time.Duration(Config.Engine.CompactEvery),
		CompactBurst:   Config.Engine.CompactBurst,
	})
	sched.ScheduleBootChecks()

	tasks.Queue("fractal.Serve", func() error {
		sched.Serve()
		return nil
	})
	tasks.Queue("fractal.Finish", func() error {
		<-tasks.Context().Done()
		sched.Finish()
		return nil
	})

	// Install signal handler & start server tasks.
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("signal.Watch", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal; beginning graceful stop")
			tasks.Cancel()
		case <-tasks.Context().Done():
		}
		return nil
	})
	tasks.GoRun()

	log.WithField("endpoint", srv.Endpoint()).Info("serving")

	// Block until all tasks complete. Assert none returned an error.
	mbp.Must(tasks.Wait(), "server task failed")
	mbp.Must(co.Close(), "failed to close data directory")
	log.Info("goodbye")

	return nil
}

// bootstrapRoot creates the root account of a first boot. An engine
// without it is unreachable: every connection must authenticate.
func bootstrapRoot(co *txn.Coordinator) {
	if _, ok := co.Catalog().LookupUser(catalog.RootUsername); ok {
		return
	}
	if co.ReadOnly() {
		log.Warn("the root account is missing and cannot be created read-only")
		return
	}
	if Config.Auth.RootPassword == "" {
		log.Fatal("no root account exists; set --auth.root-password (or SKYD_AUTH_ROOT_PASSWORD) to create it")
	}

	var hash, err = auth.HashPassword(Config.Auth.RootPassword)
	mbp.Must(err, "failed to hash root password")

	var tx *txn.Txn
	tx, err = co.Begin(txn.System())
	mbp.Must(err, "failed to begin bootstrap transaction")
	defer tx.Abort()

	var rec journal.Record
	rec, err = co.Catalog().PlanCreateUser(catalog.RootUsername, hash)
	mbp.Must(err, "failed to plan root account")
	tx.Stage(rec)
	mbp.Must(tx.Commit(), "failed to commit root account")

	log.WithField("user", catalog.RootUsername).Info("created root account")
}

// tlsServerConfig loads the configured server certificate, or returns
// nil when TLS is not configured.
func tlsServerConfig() *tls.Config {
	if Config.Server.TLSCert == "" && Config.Server.TLSKey == "" {
		return nil
	}
	var cert, err = tls.LoadX509KeyPair(Config.Server.TLSCert, Config.Server.TLSKey)
	mbp.Must(err, "failed to load TLS certificate",
		"cert", Config.Server.TLSCert, "key", Config.Server.TLSKey)
	return &tls.Config{Certificates: []tls.Certificate{cert}}
}
