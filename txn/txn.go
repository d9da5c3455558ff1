package txn

import (
	"github.com/pkg/errors"

	"github.com/rizalgowandy/skytable/catalog"
	"github.com/rizalgowandy/skytable/journal"
	"github.com/rizalgowandy/skytable/protocol"
)

// Scope names what a transaction intends to touch. A DDL scope holds
// an exclusive intent lock for its conflict domain and commits to the
// catalog store; a DML scope serializes with other writers of one
// model and commits to that model's store.
type Scope struct {
	ddlKey string
	model  *catalog.Model
}

// DDL scopes a schema change to |space|. Space names cannot contain
// '/', so keys of distinct domains never collide.
func DDL(space string) Scope { return Scope{ddlKey: "space/" + space} }

// DDLModel scopes a schema change of one existing model: the space
// intent lock, plus quiescence of the model's writers.
func DDLModel(space string, m *catalog.Model) Scope {
	return Scope{ddlKey: "space/" + space, model: m}
}

// DML scopes row writes to |m|.
func DML(m *catalog.Model) Scope { return Scope{model: m} }

// System scopes user administration.
func System() Scope { return Scope{ddlKey: "system"} }

// Txn is one transaction unit: records staged against a single store
// and committed together behind one durability barrier. A Txn is owned
// by one goroutine and finishes with exactly one Commit or Abort.
type Txn struct {
	c      *Coordinator
	store  *journal.Store
	ddlKey string
	write  *modelState
	staged []journal.Record
	done   bool
}

// Stage buffers |rec| for commit. The record was validated when it was
// planned; the scope's locks keep that validation true until the unit
// applies.
func (t *Txn) Stage(rec journal.Record) {
	t.staged = append(t.staged, rec)
}

// Commit submits the staged records as one unit to the store's
// group-commit queue and blocks until the unit is durable and applied,
// or has failed with no effect. A Txn with nothing staged releases its
// locks and commits trivially.
func (t *Txn) Commit() error {
	if t.done {
		return protocol.NewQueryError(protocol.CodeTxnAborted, "transaction is not active")
	}
	t.done = true
	defer t.release()

	if len(t.staged) == 0 {
		return nil
	}
	if err := t.store.Commit(t.staged).Wait(); err != nil {
		return t.commitError(err)
	}
	if t.ddlKey != "" {
		return t.c.reconcileStores()
	}
	return nil
}

// Abort drops the staged records, leaving the journal untouched.
// Aborting a finished Txn is a no-op, so owners may defer it.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.staged = nil
	t.release()
}

func (t *Txn) release() {
	if t.write != nil {
		t.write.wmu.Unlock()
		t.write = nil
	}
	if t.ddlKey != "" {
		t.c.unlockDDL(t.ddlKey)
		t.ddlKey = ""
	}
}

func (t *Txn) commitError(err error) error {
	switch {
	case errors.Is(err, journal.ErrReadOnly):
		return protocol.NewQueryError(protocol.CodeReadOnly,
			"engine is in degraded read-only mode")
	case errors.Is(err, journal.ErrStoreClosed):
		if t.write != nil && t.c.modelState(t.write.model.UUID) != t.write {
			return protocol.NewQueryError(protocol.CodeModelNotFound,
				"model %s.%s was dropped", t.write.model.Space, t.write.model.Name)
		}
		return protocol.NewQueryError(protocol.CodeShuttingDown,
			"server is shutting down")
	default:
		return protocol.NewQueryError(protocol.CodeJournalWrite,
			"journal write failed: %s", err)
	}
}
