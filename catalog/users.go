package catalog

import (
	"sort"

	"github.com/rizalgowandy/skytable/journal"
	"github.com/rizalgowandy/skytable/protocol"
)

// RootUsername is the administrative account. It is created when a data
// directory is first initialized and cannot be altered or dropped.
const RootUsername = "root"

// User is one account: a name and its password hash. The hash is
// opaque to the catalog; the auth package produces and verifies it.
type User struct {
	Name string
	Hash []byte
}

// LookupUser returns the named User's hash.
func (c *Catalog) LookupUser(name string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var u, ok = c.users[name]
	if !ok {
		return nil, false
	}
	return u.Hash, true
}

// UserNames returns all account names in sorted order.
func (c *Catalog) UserNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names = make([]string, 0, len(c.users))
	for n := range c.users {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PlanCreateUser validates and returns a create-user record. The root
// account itself bootstraps through this path on first initialization.
func (c *Catalog) PlanCreateUser(name string, hash []byte) (journal.Record, error) {
	if err := validateIdent(name); err != nil {
		return journal.Record{}, err
	} else if len(hash) == 0 {
		return journal.Record{}, schemaErrf("user %s has an empty password hash", name)
	}

	c.mu.RLock()
	var _, exists = c.users[name]
	c.mu.RUnlock()

	if exists {
		return journal.Record{}, protocol.NewQueryError(protocol.CodeUserExists,
			"user %s already exists", name)
	}
	return journal.Record{Op: OpCreateUser, Payload: encodeUserEvent(name, hash)}, nil
}

// PlanAlterUser validates and returns a record replacing the named
// account's password hash. The root account is never alterable.
func (c *Catalog) PlanAlterUser(name string, hash []byte) (journal.Record, error) {
	if name == RootUsername {
		return journal.Record{}, protectedUser(name)
	} else if len(hash) == 0 {
		return journal.Record{}, schemaErrf("user %s has an empty password hash", name)
	}

	c.mu.RLock()
	var _, exists = c.users[name]
	c.mu.RUnlock()

	if !exists {
		return journal.Record{}, userNotFound(name)
	}
	return journal.Record{Op: OpAlterUser, Payload: encodeUserEvent(name, hash)}, nil
}

// PlanDropUser validates and returns a record dropping the named
// account. The root account is never droppable.
func (c *Catalog) PlanDropUser(name string) (journal.Record, error) {
	if name == RootUsername {
		return journal.Record{}, protectedUser(name)
	}

	c.mu.RLock()
	var _, exists = c.users[name]
	c.mu.RUnlock()

	if !exists {
		return journal.Record{}, userNotFound(name)
	}
	return journal.Record{Op: OpDropUser, Payload: protocol.String(name).Append(nil)}, nil
}

func encodeUserEvent(name string, hash []byte) []byte {
	var b = protocol.String(name).Append(nil)
	return protocol.Binary(hash).Append(b)
}

func protectedUser(name string) error {
	return protocol.NewQueryError(protocol.CodeProtectedUser,
		"user %s cannot be altered or dropped", name)
}

func userNotFound(name string) error {
	return protocol.NewQueryError(protocol.CodeUserNotFound,
		"user %s does not exist", name)
}
