package txn

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/rizalgowandy/skytable/catalog"
	"github.com/rizalgowandy/skytable/journal"
	"github.com/rizalgowandy/skytable/protocol"
)

// ErrConflict is returned by Begin when a DDL scope's intent lock is
// already held. The conflicting transaction is about to finish either
// way; callers retry rather than queue.
var ErrConflict = protocol.NewQueryError(protocol.CodeDDLConflict,
	"a conflicting schema change is in progress")

// Coordinator owns the engine's stores and serializes transactions
// over them: the catalog registry backed by its own store, plus one
// data store per live model. Schema changes hold exclusive per-space
// intent locks and commit to the catalog store; row writes serialize
// per model and commit to that model's store.
type Coordinator struct {
	fs   afero.Fs
	dir  string
	opts journal.Options

	catalog  *catalog.Catalog
	catStore *journal.Store
	readOnly bool

	mu     sync.Mutex
	ddl    map[string]bool
	models map[uuid.UUID]*modelState
	closed bool
}

type modelState struct {
	model *catalog.Model
	store *journal.Store

	// wmu serializes the model's writers across the full
	// validate, stage, sync, apply window.
	wmu sync.Mutex
}

// Open recovers the engine under |dir|: the catalog store replays
// first, restoring the registry, and then each live model's store
// replays rows into its model. A missing directory bootstraps empty.
func Open(fs afero.Fs, dir string, opts journal.Options) (*Coordinator, error) {
	var cat = catalog.New()
	var catStore, err = journal.Open(fs, filepath.Join(dir, "catalog"), cat, opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening catalog store")
	}

	var c = &Coordinator{
		fs:       fs,
		dir:      dir,
		opts:     opts,
		catalog:  cat,
		catStore: catStore,
		readOnly: catStore.ReadOnly(),
		ddl:      make(map[string]bool),
		models:   make(map[uuid.UUID]*modelState),
	}
	for _, m := range cat.Models() {
		var st, err = journal.Open(fs, c.modelDir(m.UUID), m, opts)
		if err != nil {
			_ = c.Close()
			return nil, errors.Wrapf(err, "opening store of model %s.%s", m.Space, m.Name)
		}
		if st.ReadOnly() {
			c.readOnly = true
		}
		c.models[m.UUID] = &modelState{model: m, store: st}
	}

	log.WithFields(log.Fields{
		"dir":      dir,
		"spaces":   len(cat.SpaceNames()),
		"models":   len(c.models),
		"users":    len(cat.UserNames()),
		"readOnly": c.readOnly,
	}).Info("recovered engine")
	return c, nil
}

// Catalog returns the live registry.
func (c *Coordinator) Catalog() *catalog.Catalog { return c.catalog }

// ReadOnly reports whether any store recovered degraded, which holds
// the whole engine read-only.
func (c *Coordinator) ReadOnly() bool { return c.readOnly }

// ModelsDir is the directory holding per-model stores. Subdirectories
// are named by model UUID; one without a live model is an orphan left
// by a drop, reclaimed by background cleanup.
func (c *Coordinator) ModelsDir() string { return filepath.Join(c.dir, "models") }

// Begin opens a transaction. A DDL scope whose intent lock is held
// returns ErrConflict immediately. A DML scope blocks until the
// model's prior writer finishes.
func (c *Coordinator) Begin(scope Scope) (*Txn, error) {
	if scope.ddlKey == "" && scope.model == nil {
		return nil, errors.New("empty transaction scope")
	}
	if c.readOnly {
		return nil, protocol.NewQueryError(protocol.CodeReadOnly,
			"engine is in degraded read-only mode")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, protocol.NewQueryError(protocol.CodeShuttingDown,
			"server is shutting down")
	}
	if scope.ddlKey != "" {
		if c.ddl[scope.ddlKey] {
			c.mu.Unlock()
			return nil, ErrConflict
		}
		c.ddl[scope.ddlKey] = true
	}
	var ms *modelState
	if scope.model != nil {
		ms = c.models[scope.model.UUID]
	}
	c.mu.Unlock()

	if scope.ddlKey != "" {
		var t = &Txn{c: c, store: c.catStore, ddlKey: scope.ddlKey}
		if ms != nil {
			// Quiesce the model's writers so the schema change sees a
			// settled model and no writer validates against a schema
			// which changes under it.
			ms.wmu.Lock()
			t.write = ms
		}
		return t, nil
	}

	if ms == nil {
		return nil, protocol.NewQueryError(protocol.CodeModelNotFound,
			"model %s.%s has no live store", scope.model.Space, scope.model.Name)
	}
	ms.wmu.Lock()
	if c.modelState(scope.model.UUID) != ms {
		ms.wmu.Unlock()
		return nil, protocol.NewQueryError(protocol.CodeModelNotFound,
			"model %s.%s was dropped", scope.model.Space, scope.model.Name)
	}
	return &Txn{c: c, store: ms.store, write: ms}, nil
}

func (c *Coordinator) unlockDDL(key string) {
	c.mu.Lock()
	delete(c.ddl, key)
	c.mu.Unlock()
}

func (c *Coordinator) modelState(id uuid.UUID) *modelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.models[id]
}

func (c *Coordinator) modelDir(id uuid.UUID) string {
	return filepath.Join(c.dir, "models", id.String())
}

// reconcileStores aligns per-model stores with the registry after a
// schema change applies: dropped models' stores close, created models
// get a fresh store. Orphaned directories are left for cleanup.
func (c *Coordinator) reconcileStores() error {
	var live = c.catalog.Models()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	var keep = make(map[uuid.UUID]bool, len(live))
	for _, m := range live {
		keep[m.UUID] = true
	}
	for id, ms := range c.models {
		if !keep[id] {
			if err := ms.store.Close(); err != nil {
				log.WithFields(log.Fields{
					"model": ms.model.Space + "." + ms.model.Name,
					"err":   err,
				}).Warn("closing dropped model store")
			}
			delete(c.models, id)
		}
	}

	var firstErr error
	for _, m := range live {
		if c.models[m.UUID] != nil {
			continue
		}
		var st, err = journal.Open(c.fs, c.modelDir(m.UUID), m, c.opts)
		if err != nil {
			// The schema change is already durable. Leave the store
			// absent: writes to this model fail until a restart
			// re-runs recovery and opens it.
			err = errors.Wrapf(err, "opening store of model %s.%s", m.Space, m.Name)
			log.WithField("err", err).Error("model store open failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.models[m.UUID] = &modelState{model: m, store: st}
	}
	return firstErr
}

// StoreInfo names one live store.
type StoreInfo struct {
	// Name is "catalog", or the model's space.name.
	Name string
	// Dir is the store's directory.
	Dir   string
	Store *journal.Store
}

// Stores snapshots the catalog store and all live model stores:
// catalog first, models sorted by name.
func (c *Coordinator) Stores() []StoreInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	var models []StoreInfo
	for id, ms := range c.models {
		models = append(models, StoreInfo{
			Name:  ms.model.Space + "." + ms.model.Name,
			Dir:   c.modelDir(id),
			Store: ms.store,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	var out = []StoreInfo{{
		Name:  "catalog",
		Dir:   filepath.Join(c.dir, "catalog"),
		Store: c.catStore,
	}}
	return append(out, models...)
}

// Close stops accepting transactions and closes every store. In-flight
// commits resolve before their store closes.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var stores []*journal.Store
	for _, ms := range c.models {
		stores = append(stores, ms.store)
	}
	stores = append(stores, c.catStore)
	c.mu.Unlock()

	var firstErr error
	for _, s := range stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
