package catalog

import (
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/rizalgowandy/skytable/journal"
	"github.com/rizalgowandy/skytable/protocol"
)

// Catalog is the registry of Spaces, their Models, and Users. Reads
// take the registry read lock; writes arrive only through Apply,
// serialized by the catalog journal's commit loop under the DDL intent
// locking of the transaction coordinator.
type Catalog struct {
	mu     sync.RWMutex
	spaces map[string]*Space
	users  map[string]*User
}

// Space is a namespace of Models with free-form properties.
type Space struct {
	Name  string
	UUID  uuid.UUID
	props map[string]protocol.Value

	models map[string]*Model
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{
		spaces: make(map[string]*Space),
		users:  make(map[string]*User),
	}
}

// LookupSpace returns the named Space.
func (c *Catalog) LookupSpace(name string) (*Space, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookupSpace(name)
}

func (c *Catalog) lookupSpace(name string) (*Space, error) {
	var sp, ok = c.spaces[name]
	if !ok {
		return nil, protocol.NewQueryError(protocol.CodeSpaceNotFound,
			"space %s does not exist", name)
	}
	return sp, nil
}

// LookupModel returns the named Model of the named Space.
func (c *Catalog) LookupModel(space, model string) (*Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookupModel(space, model)
}

func (c *Catalog) lookupModel(space, model string) (*Model, error) {
	var sp, err = c.lookupSpace(space)
	if err != nil {
		return nil, err
	}
	var m, ok = sp.models[model]
	if !ok {
		return nil, protocol.NewQueryError(protocol.CodeModelNotFound,
			"model %s.%s does not exist", space, model)
	}
	return m, nil
}

// SpaceNames returns all Space names in sorted order.
func (c *Catalog) SpaceNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names = make([]string, 0, len(c.spaces))
	for n := range c.spaces {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ModelNames returns the named Space's Model names in sorted order.
func (c *Catalog) ModelNames(space string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sp, err = c.lookupSpace(space)
	if err != nil {
		return nil, err
	}
	var names = make([]string, 0, len(sp.models))
	for n := range sp.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Models returns every live Model, ordered by space then model name.
// Recovery uses it to open each Model's data store after the catalog
// journal has fully replayed.
func (c *Catalog) Models() []*Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*Model
	for _, sp := range c.spaces {
		for _, m := range sp.models {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Space != out[j].Space {
			return out[i].Space < out[j].Space
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Props returns a copy of the Space's properties.
func (s *Space) Props() map[string]protocol.Value {
	var out = make(map[string]protocol.Value, len(s.props))
	for k, v := range s.props {
		out[k] = v
	}
	return out
}

// PlanCreateSpace validates and returns a create-space record.
func (c *Catalog) PlanCreateSpace(name string, props map[string]protocol.Value) (journal.Record, error) {
	if err := validateIdent(name); err != nil {
		return journal.Record{}, err
	} else if err = validateProps(props); err != nil {
		return journal.Record{}, err
	}

	c.mu.RLock()
	var _, exists = c.spaces[name]
	c.mu.RUnlock()

	if exists {
		return journal.Record{}, protocol.NewQueryError(protocol.CodeSpaceExists,
			"space %s already exists", name)
	}
	var b = protocol.String(name).Append(nil)
	b = protocol.Binary(uuidBytes(uuid.New())).Append(b)
	b = appendPairs(sortedPropKeys(props), props).Append(b)
	return journal.Record{Op: OpCreateSpace, Payload: b}, nil
}

// PlanAlterSpace validates and returns a record patching the Space's
// properties: each given key is set, and a null value removes its key.
func (c *Catalog) PlanAlterSpace(name string, props map[string]protocol.Value) (journal.Record, error) {
	if err := validateProps(props); err != nil {
		return journal.Record{}, err
	}

	c.mu.RLock()
	var _, err = c.lookupSpace(name)
	c.mu.RUnlock()

	if err != nil {
		return journal.Record{}, err
	}
	var b = protocol.String(name).Append(nil)
	b = appendPairs(sortedPropKeys(props), props).Append(b)
	return journal.Record{Op: OpAlterSpace, Payload: b}, nil
}

// PlanDropSpace validates and returns a drop-space record. A Space
// holding Models refuses to drop unless |force| is set, in which case
// its Models drop with it.
func (c *Catalog) PlanDropSpace(name string, force bool) (journal.Record, error) {
	c.mu.RLock()
	var sp, err = c.lookupSpace(name)
	var nModels int
	if err == nil {
		nModels = len(sp.models)
	}
	c.mu.RUnlock()

	if err != nil {
		return journal.Record{}, err
	} else if nModels != 0 && !force {
		return journal.Record{}, schemaErrf(
			"space %s holds %d models; drop requires force", name, nModels)
	}
	return journal.Record{Op: OpDropSpace, Payload: protocol.String(name).Append(nil)}, nil
}

// PlanCreateModel validates a schema and returns its create-model
// record along with the Model's assigned UUID, which names the Model's
// data directory for as long as it lives.
func (c *Catalog) PlanCreateModel(space, model string, fields []Field, pk int) (journal.Record, uuid.UUID, error) {
	if err := validateIdent(model); err != nil {
		return journal.Record{}, uuid.Nil, err
	} else if err = validateSchema(fields, pk); err != nil {
		return journal.Record{}, uuid.Nil, err
	}

	c.mu.RLock()
	var sp, err = c.lookupSpace(space)
	var exists bool
	if err == nil {
		_, exists = sp.models[model]
	}
	c.mu.RUnlock()

	if err != nil {
		return journal.Record{}, uuid.Nil, err
	} else if exists {
		return journal.Record{}, uuid.Nil, protocol.NewQueryError(protocol.CodeModelExists,
			"model %s.%s already exists", space, model)
	}

	var id = uuid.New()
	var b = appendModelRef(nil, space, model)
	b = protocol.Binary(uuidBytes(id)).Append(b)
	b = protocol.Uint64(uint64(pk)).Append(b)
	b = appendFields(fields).Append(b)
	return journal.Record{Op: OpCreateModel, Payload: b}, id, nil
}

// PlanAlterModelAdd validates and returns a record appending fields to
// the Model. Fields added to a Model holding rows must be nullable, as
// existing rows read null for them.
func (c *Catalog) PlanAlterModelAdd(space, model string, fields []Field) (journal.Record, error) {
	var m, err = c.LookupModel(space, model)
	if err != nil {
		return journal.Record{}, err
	}
	if len(fields) == 0 {
		return journal.Record{}, schemaErrf("alter add requires at least one field")
	}
	var seen = make(map[string]bool, len(fields))
	for _, f := range fields {
		if err = f.Validate(); err != nil {
			return journal.Record{}, err
		} else if m.fieldIndex(f.Name) != -1 || seen[f.Name] {
			return journal.Record{}, schemaErrf("field %s already exists", f.Name)
		}
		seen[f.Name] = true
	}
	if len(m.fields)+len(fields) > maxFields {
		return journal.Record{}, schemaErrf("model exceeds %d fields", maxFields)
	}
	if m.RowCount() != 0 {
		for _, f := range fields {
			if !f.Nullable {
				return journal.Record{}, schemaErrf(
					"cannot add non-nullable field %s to a model holding rows", f.Name)
			}
		}
	}
	var b = appendModelRef(nil, space, model)
	b = appendFields(fields).Append(b)
	return journal.Record{Op: OpAlterModelAdd, Payload: b}, nil
}

// PlanAlterModelRemove validates and returns a record removing the
// named fields. The primary key cannot be removed.
func (c *Catalog) PlanAlterModelRemove(space, model string, names []string) (journal.Record, error) {
	var m, err = c.LookupModel(space, model)
	if err != nil {
		return journal.Record{}, err
	}
	if len(names) == 0 {
		return journal.Record{}, schemaErrf("alter remove requires at least one field")
	}
	var seen = make(map[string]bool, len(names))
	for _, n := range names {
		var i = m.fieldIndex(n)
		if i == -1 || seen[n] {
			return journal.Record{}, schemaErrf("field %s does not exist", n)
		} else if i == m.pk {
			return journal.Record{}, schemaErrf("cannot remove the primary key")
		}
		seen[n] = true
	}
	var b = appendModelRef(nil, space, model)
	var elems = make([]protocol.Value, len(names))
	for i, n := range names {
		elems[i] = protocol.String(n)
	}
	b = protocol.List(elems...).Append(b)
	return journal.Record{Op: OpAlterModelRemove, Payload: b}, nil
}

// PlanAlterModelUpdate validates and returns a record replacing the
// definitions of existing fields. Every live row must already conform
// to the new definitions; the primary key cannot be redefined.
func (c *Catalog) PlanAlterModelUpdate(space, model string, fields []Field) (journal.Record, error) {
	var m, err = c.LookupModel(space, model)
	if err != nil {
		return journal.Record{}, err
	}
	if len(fields) == 0 {
		return journal.Record{}, schemaErrf("alter update requires at least one field")
	}
	var at = make(map[string]int, len(fields))
	for _, f := range fields {
		if err = f.Validate(); err != nil {
			return journal.Record{}, err
		}
		var i = m.fieldIndex(f.Name)
		if i == -1 {
			return journal.Record{}, schemaErrf("field %s does not exist", f.Name)
		} else if i == m.pk {
			return journal.Record{}, schemaErrf("cannot update the primary key")
		} else if _, dup := at[f.Name]; dup {
			return journal.Record{}, schemaErrf("field %s is updated twice", f.Name)
		}
		at[f.Name] = i
	}

	// Walk live rows so a narrowing redefinition cannot orphan values.
	m.dataMu.RLock()
	var conformErr error
	m.rows.Ascend(func(item btree.Item) bool {
		var row = item.(rowItem).row
		for _, f := range fields {
			if conformErr = checkField(f, row[at[f.Name]]); conformErr != nil {
				return false
			}
		}
		return true
	})
	m.dataMu.RUnlock()

	if conformErr != nil {
		return journal.Record{}, conformErr
	}
	var b = appendModelRef(nil, space, model)
	b = appendFields(fields).Append(b)
	return journal.Record{Op: OpAlterModelUpdate, Payload: b}, nil
}

// PlanDropModel validates and returns a drop-model record along with
// the dropped Model's UUID, which locates its data directory.
func (c *Catalog) PlanDropModel(space, model string) (journal.Record, uuid.UUID, error) {
	var m, err = c.LookupModel(space, model)
	if err != nil {
		return journal.Record{}, uuid.Nil, err
	}
	var b = appendModelRef(nil, space, model)
	return journal.Record{Op: OpDropModel, Payload: b}, m.UUID, nil
}

// validateSchema checks a full model schema.
func validateSchema(fields []Field, pk int) error {
	if len(fields) == 0 || len(fields) > maxFields {
		return schemaErrf("invalid field count (%d; expected 1 <= fields <= %d)", len(fields), maxFields)
	} else if pk < 0 || pk >= len(fields) {
		return schemaErrf("primary key index %d is out of range", pk)
	}
	var seen = make(map[string]bool, len(fields))
	for _, f := range fields {
		if err := f.Validate(); err != nil {
			return err
		} else if seen[f.Name] {
			return schemaErrf("field %s is declared twice", f.Name)
		}
		seen[f.Name] = true
	}
	if !fields[pk].Type.CanIndex() {
		return schemaErrf("type %s cannot be a primary key", fields[pk].Type)
	} else if fields[pk].Nullable {
		return schemaErrf("primary key %s cannot be nullable", fields[pk].Name)
	}
	return nil
}

// validateProps checks space property names.
func validateProps(props map[string]protocol.Value) error {
	for k := range props {
		if err := validateIdent(k); err != nil {
			return err
		}
	}
	return nil
}

func appendModelRef(b []byte, space, model string) []byte {
	b = protocol.String(space).Append(b)
	return protocol.String(model).Append(b)
}

// appendFields encodes fields as a List of (name, type, nullable)
// triple Lists.
func appendFields(fields []Field) protocol.Value {
	var elems = make([]protocol.Value, len(fields))
	for i, f := range fields {
		elems[i] = protocol.List(
			protocol.String(f.Name),
			protocol.Binary(appendType(nil, f.Type)),
			protocol.Bool(f.Nullable),
		)
	}
	return protocol.List(elems...)
}

func uuidBytes(id uuid.UUID) []byte { return id[:] }

func sortedPropKeys(m map[string]protocol.Value) []string {
	var keys = make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
