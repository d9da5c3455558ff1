// Package fractal runs the engine's background work: compaction
// checks, orphaned data sweeps, and other deferrable maintenance. Work
// is scheduled onto a high or standard priority queue and drained by a
// small fixed worker pool. The standard queue is guaranteed a slot at
// least once per vacuum interval even under continuous high priority
// load, and compaction submissions pass a rate gate so that bursty
// triggers collapse into few compactions.
//
// Forced durability syncs never pass through the scheduler; the commit
// path syncs directly.
package fractal

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rizalgowandy/skytable/journal"
	"github.com/rizalgowandy/skytable/metrics"
	"github.com/rizalgowandy/skytable/txn"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

const (
	defaultWorkers        = 2
	defaultVacuumInterval = 5 * time.Minute
	defaultCompactEvery   = 10 * time.Second
	defaultCompactBurst   = 8
)

// Task is one unit of background work.
type Task struct {
	Name string
	Fn   func() error
}

// Hint prioritizes a scheduled Task.
type Hint int

const (
	// Immediate tasks run before Deferred ones whenever workers are
	// contended.
	Immediate Hint = iota
	// Deferred tasks run when no Immediate task is waiting, or on the
	// vacuum tick.
	Deferred
)

// Config parameterizes a Scheduler. Zero values select defaults.
type Config struct {
	// Workers bounds concurrently running tasks.
	Workers int
	// VacuumInterval is the guaranteed service period of the standard
	// queue, and the cadence of idle maintenance.
	VacuumInterval time.Duration
	// CompactEvery and CompactBurst gate compaction submissions.
	CompactEvery time.Duration
	CompactBurst int
}

func (cfg Config) withDefaults() Config {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.VacuumInterval <= 0 {
		cfg.VacuumInterval = defaultVacuumInterval
	}
	if cfg.CompactEvery <= 0 {
		cfg.CompactEvery = defaultCompactEvery
	}
	if cfg.CompactBurst <= 0 {
		cfg.CompactBurst = defaultCompactBurst
	}
	return cfg
}

// Scheduler owns the background work queues of one engine.
type Scheduler struct {
	cfg  Config
	co   *txn.Coordinator
	fs   afero.Fs
	gate *rate.Limiter

	mu        sync.Mutex
	high, std []Task

	doneCh chan struct{}
	wakeCh chan struct{}
	sem    chan struct{}
}

// NewScheduler returns an idle Scheduler of the Coordinator's stores.
// Call Serve to begin draining queues, and Finish to stop.
func NewScheduler(co *txn.Coordinator, fs afero.Fs, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:    cfg,
		co:     co,
		fs:     fs,
		gate:   rate.NewLimiter(rate.Every(cfg.CompactEvery), cfg.CompactBurst),
		doneCh: make(chan struct{}),
		wakeCh: make(chan struct{}, 1),
		sem:    make(chan struct{}, cfg.Workers),
	}
}

// Schedule enqueues the Task under the Hint's queue.
func (s *Scheduler) Schedule(task Task, hint Hint) {
	s.mu.Lock()
	if hint == Immediate {
		s.high = append(s.high, task)
	} else {
		s.std = append(s.std, task)
	}
	s.mu.Unlock()

	select {
	case s.wakeCh <- struct{}{}:
	default: // A wake is already pending.
	}
}

// ScheduleCompactionCheck enqueues a deferred check of the named store,
// compacting it if its stats recommend. Submissions beyond the rate
// gate are dropped; a recommendation that persists is re-submitted by
// the next trigger or vacuum pass.
func (s *Scheduler) ScheduleCompactionCheck(name string, store *journal.Store) {
	if !s.gate.Allow() {
		return
	}
	s.Schedule(Task{
		Name: "compact/" + name,
		Fn: func() error {
			if !store.Stats().Recommendation() {
				return nil
			}
			return store.Compact()
		},
	}, Deferred)
}

// ScheduleBootChecks enqueues the post-recovery maintenance pass: a
// compaction check per store, and a sweep of orphaned model
// directories left by dropped models.
func (s *Scheduler) ScheduleBootChecks() {
	for _, si := range s.co.Stores() {
		s.ScheduleCompactionCheck(si.Name, si.Store)
	}
	s.Schedule(Task{Name: "sweep-orphans", Fn: s.sweepOrphans}, Deferred)
}

// Serve drains the queues until Finish is called. The caller runs it
// on a dedicated goroutine.
func (s *Scheduler) Serve() {
	var ticker = time.NewTicker(s.cfg.VacuumInterval)
	defer ticker.Stop()

	var grantStd, exiting bool
	for {
		// Poll the tick on every pass: under continuous high priority
		// load the blocking select below is never reached, and the
		// standard queue's guaranteed slot must still be granted.
		select {
		case <-ticker.C:
			grantStd = true
			s.vacuumPass()
		default:
		}

		if task, queue, ok := s.pop(grantStd, exiting); ok {
			if queue == "standard" {
				grantStd = false
			}
			s.sem <- struct{}{}
			go func() {
				defer func() { <-s.sem }()
				s.run(task, queue)
			}()
			continue
		}
		if exiting {
			break
		}
		select {
		case <-s.wakeCh:
		case <-ticker.C:
			grantStd = true
			s.vacuumPass()
		case <-s.doneCh:
			exiting = true
		}
	}

	// Wait for in-flight workers.
	for i := 0; i < cap(s.sem); i++ {
		s.sem <- struct{}{}
	}
	close(s.doneCh)
}

// Finish stops the Scheduler: queued Immediate tasks complete, queued
// Deferred tasks are dropped, and Finish returns once in-flight work
// has drained.
func (s *Scheduler) Finish() {
	s.doneCh <- struct{}{}
	<-s.doneCh
}

// pop removes the next Task to run. A vacuum tick grants the standard
// queue one slot ahead of the high queue; while exiting the standard
// queue is discarded.
func (s *Scheduler) pop(grantStd, exiting bool) (Task, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exiting && len(s.std) != 0 {
		log.WithField("dropped", len(s.std)).Info("discarding deferred tasks at shutdown")
		s.std = nil
	}
	if grantStd && len(s.std) != 0 {
		var task = s.std[0]
		s.std = s.std[1:]
		return task, "standard", true
	}
	if len(s.high) != 0 {
		var task = s.high[0]
		s.high = s.high[1:]
		return task, "high", true
	}
	if len(s.std) != 0 {
		var task = s.std[0]
		s.std = s.std[1:]
		return task, "standard", true
	}
	return Task{}, "", false
}

func (s *Scheduler) run(task Task, queue string) {
	var began = time.Now()
	if err := task.Fn(); err != nil {
		log.WithFields(log.Fields{
			"task": task.Name,
			"took": time.Since(began),
			"err":  err,
		}).Warn("background task failed")
	} else {
		log.WithFields(log.Fields{
			"task": task.Name,
			"took": time.Since(began),
		}).Debug("background task done")
	}
	metrics.FractalTasksTotal.WithLabelValues(queue).Inc()
}

// vacuumPass re-submits compaction checks on the vacuum cadence, which
// catches stores whose earlier recommendation was gated away.
func (s *Scheduler) vacuumPass() {
	for _, si := range s.co.Stores() {
		if si.Store.Stats().Recommendation() {
			s.ScheduleCompactionCheck(si.Name, si.Store)
		}
	}
}

// sweepOrphans removes model directories whose model no longer exists.
// A dropped model's store directory is left behind at commit so that
// the drop itself stays a pure journal operation; this sweep and the
// next boot both reclaim it.
func (s *Scheduler) sweepOrphans() error {
	var dir = s.co.ModelsDir()
	var infos, err = afero.ReadDir(s.fs, dir)
	if err != nil {
		return err
	}

	// Snapshot the registry strictly after listing: a directory
	// created by a concurrent CREATE MODEL was registered before its
	// directory appeared, so it cannot be misread as orphaned.
	var live = make(map[string]bool)
	for _, m := range s.co.Catalog().Models() {
		live[m.UUID.String()] = true
	}

	for _, fi := range infos {
		if !fi.IsDir() || live[fi.Name()] {
			continue
		}
		if _, perr := uuid.Parse(fi.Name()); perr != nil {
			log.WithFields(log.Fields{"dir": dir, "entry": fi.Name()}).
				Warn("unrecognized entry in models directory")
			continue
		}
		if err = s.fs.RemoveAll(filepath.Join(dir, fi.Name())); err != nil {
			return err
		}
		log.WithFields(log.Fields{"model": fi.Name()}).
			Info("removed orphaned model directory")
	}
	return nil
}
