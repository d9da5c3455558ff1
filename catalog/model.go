package catalog

import (
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/rizalgowandy/skytable/journal"
	"github.com/rizalgowandy/skytable/protocol"
)

const btreeDegree = 32

// Model is a schema and its rows. Schema mutations arrive only through
// catalog events, serialized by the DDL intent lock; row mutations
// arrive through model data events, serialized per Model by the
// transaction coordinator. The data mutex guards the row index for
// readers running concurrently with either.
type Model struct {
	Name  string
	Space string
	UUID  uuid.UUID

	fields []Field
	pk     int

	dataMu sync.RWMutex
	rows   *btree.BTree
}

func newModel(space, name string, id uuid.UUID, fields []Field, pk int) *Model {
	return &Model{
		Name:   name,
		Space:  space,
		UUID:   id,
		fields: append([]Field(nil), fields...),
		pk:     pk,
		rows:   btree.New(btreeDegree),
	}
}

// Fields returns the Model's ordered schema.
func (m *Model) Fields() []Field { return append([]Field(nil), m.fields...) }

// PrimaryKey returns the declared primary-key Field.
func (m *Model) PrimaryKey() Field { return m.fields[m.pk] }

// fieldIndex returns the position of |name|, or -1.
func (m *Model) fieldIndex(name string) int {
	for i, f := range m.fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// checkField validates |v| against field |f|.
func checkField(f Field, v protocol.Value) error {
	if v.IsNull() {
		if !f.Nullable {
			return schemaErrf("field %s is not nullable", f.Name)
		}
		return nil
	}
	return f.Type.Check(v)
}

// checkKey validates and encodes a primary-key value.
func (m *Model) checkKey(pk protocol.Value) ([]byte, error) {
	if pk.IsNull() {
		return nil, schemaErrf("primary key %s cannot be null", m.fields[m.pk].Name)
	}
	if err := m.fields[m.pk].Type.Check(pk); err != nil {
		return nil, err
	}
	return encodeKey(pk), nil
}

// PlanInsert validates a full row in schema order and returns its
// insert record. The caller holds the Model's write serialization, so
// the uniqueness check remains true when the record applies.
func (m *Model) PlanInsert(row []protocol.Value) (journal.Record, error) {
	if len(row) != len(m.fields) {
		return journal.Record{}, schemaErrf("expected %d values, found %d", len(m.fields), len(row))
	}
	for i, f := range m.fields {
		if i == m.pk {
			continue
		}
		if err := checkField(f, row[i]); err != nil {
			return journal.Record{}, err
		}
	}
	var key, err = m.checkKey(row[m.pk])
	if err != nil {
		return journal.Record{}, err
	}

	m.dataMu.RLock()
	var exists = m.rows.Has(rowItem{key: key})
	m.dataMu.RUnlock()

	if exists {
		return journal.Record{}, protocol.NewQueryError(protocol.CodeDuplicateKey,
			"duplicate primary key in model %s.%s", m.Space, m.Name)
	}
	return journal.Record{Op: OpInsertRow, Payload: encodeRow(m.fields, row).Append(nil)}, nil
}

// Assignment is one UPDATE set clause.
type Assignment struct {
	Field string
	Value protocol.Value
}

// PlanUpdate validates assignments against an existing row and returns
// its update record.
func (m *Model) PlanUpdate(pk protocol.Value, sets []Assignment) (journal.Record, error) {
	var key, err = m.checkKey(pk)
	if err != nil {
		return journal.Record{}, err
	}
	if len(sets) == 0 {
		return journal.Record{}, schemaErrf("update requires at least one assignment")
	}
	var names = make([]string, 0, len(sets))
	var vals = make(map[string]protocol.Value, len(sets))
	for _, set := range sets {
		var i = m.fieldIndex(set.Field)
		if i == -1 {
			return journal.Record{}, schemaErrf("unknown field %s", set.Field)
		} else if i == m.pk {
			return journal.Record{}, schemaErrf("cannot update the primary key")
		} else if _, dup := vals[set.Field]; dup {
			return journal.Record{}, schemaErrf("field %s is assigned twice", set.Field)
		}
		if err = checkField(m.fields[i], set.Value); err != nil {
			return journal.Record{}, err
		}
		names = append(names, set.Field)
		vals[set.Field] = set.Value
	}

	m.dataMu.RLock()
	var exists = m.rows.Has(rowItem{key: key})
	m.dataMu.RUnlock()

	if !exists {
		return journal.Record{}, rowNotFound(m)
	}
	var payload = pk.Append(nil)
	payload = appendPairs(names, vals).Append(payload)
	return journal.Record{Op: OpUpdateRow, Payload: payload}, nil
}

// PlanDelete validates that the keyed row exists and returns its
// delete record.
func (m *Model) PlanDelete(pk protocol.Value) (journal.Record, error) {
	var key, err = m.checkKey(pk)
	if err != nil {
		return journal.Record{}, err
	}

	m.dataMu.RLock()
	var exists = m.rows.Has(rowItem{key: key})
	m.dataMu.RUnlock()

	if !exists {
		return journal.Record{}, protocol.NewQueryError(protocol.CodeDeleteMissing,
			"no row for primary key in model %s.%s", m.Space, m.Name)
	}
	return journal.Record{Op: OpDeleteRow, Payload: pk.Append(nil)}, nil
}

// PlanTruncate returns the record clearing every row of the Model.
func (m *Model) PlanTruncate() journal.Record {
	return journal.Record{Op: OpTruncateModel}
}

// Get returns the row keyed by |pk|, in schema order.
func (m *Model) Get(pk protocol.Value) ([]protocol.Value, error) {
	var key, err = m.checkKey(pk)
	if err != nil {
		return nil, err
	}

	m.dataMu.RLock()
	defer m.dataMu.RUnlock()

	var it = m.rows.Get(rowItem{key: key})
	if it == nil {
		return nil, rowNotFound(m)
	}
	return append([]protocol.Value(nil), it.(rowItem).row...), nil
}

// Scan returns up to |limit| rows in ascending primary-key order, or
// all rows if |limit| <= 0.
func (m *Model) Scan(limit int) [][]protocol.Value {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()

	var out [][]protocol.Value
	m.rows.Ascend(func(i btree.Item) bool {
		if limit > 0 && len(out) == limit {
			return false
		}
		out = append(out, append([]protocol.Value(nil), i.(rowItem).row...))
		return true
	})
	return out
}

// RowCount returns the number of live rows.
func (m *Model) RowCount() int {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	return m.rows.Len()
}

func rowNotFound(m *Model) error {
	return protocol.NewQueryError(protocol.CodeRowNotFound,
		"no row for primary key in model %s.%s", m.Space, m.Name)
}

// Apply folds a committed model data record into the row index.
// Records were validated before staging under the Model's write
// serialization, so failures here mean the journal and state have
// diverged.
func (m *Model) Apply(op uint8, payload []byte) error {
	switch op {
	case OpInsertRow:
		var v, _, err = protocol.DecodeValue(payload)
		if err != nil {
			return err
		}
		row, err := decodeRow(m.fields, v)
		if err != nil {
			return err
		}
		if row[m.pk].IsNull() {
			return schemaErrf("inserted row has no primary key")
		}
		m.dataMu.Lock()
		m.rows.ReplaceOrInsert(rowItem{key: encodeKey(row[m.pk]), row: row})
		m.dataMu.Unlock()
		return nil

	case OpUpdateRow:
		var pk, rest, err = protocol.DecodeValue(payload)
		if err != nil {
			return err
		}
		pairs, _, err := protocol.DecodeValue(rest)
		if err != nil {
			return err
		}
		sets, err := decodePairs(pairs)
		if err != nil {
			return err
		}
		m.dataMu.Lock()
		defer m.dataMu.Unlock()

		var it = m.rows.Get(rowItem{key: encodeKey(pk)})
		if it == nil {
			return rowNotFound(m)
		}
		var row = it.(rowItem).row
		for name, val := range sets {
			if i := m.fieldIndex(name); i != -1 && i != m.pk {
				row[i] = val
			}
		}
		return nil

	case OpDeleteRow:
		var pk, _, err = protocol.DecodeValue(payload)
		if err != nil {
			return err
		}
		m.dataMu.Lock()
		defer m.dataMu.Unlock()

		if m.rows.Delete(rowItem{key: encodeKey(pk)}) == nil {
			return rowNotFound(m)
		}
		return nil

	case OpTruncateModel:
		m.dataMu.Lock()
		m.rows.Clear(false)
		m.dataMu.Unlock()
		return nil

	default:
		return schemaErrf("unknown model record opcode (0x%02x)", op)
	}
}

// MarshalImage snapshots every row, in primary-key order, with the
// same row codec used by insert records.
func (m *Model) MarshalImage() ([]byte, error) {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()

	var b []byte
	m.rows.Ascend(func(i btree.Item) bool {
		b = encodeRow(m.fields, i.(rowItem).row).Append(b)
		return true
	})
	return b, nil
}

// UnmarshalImage restores the row index from a MarshalImage snapshot.
func (m *Model) UnmarshalImage(b []byte) error {
	var vals, err = protocol.DecodeValues(b)
	if err != nil {
		return err
	}
	var rows = btree.New(btreeDegree)
	for _, v := range vals {
		var row, err = decodeRow(m.fields, v)
		if err != nil {
			return err
		}
		if row[m.pk].IsNull() {
			return schemaErrf("imaged row has no primary key")
		}
		rows.ReplaceOrInsert(rowItem{key: encodeKey(row[m.pk]), row: row})
	}

	m.dataMu.Lock()
	m.rows = rows
	m.dataMu.Unlock()
	return nil
}

// LiveCount is the row count: the insert records a fresh image replays.
func (m *Model) LiveCount() int { return m.RowCount() }

// alterAdd appends fields, extending existing rows with null.
func (m *Model) alterAdd(fields []Field) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()

	m.fields = append(m.fields, fields...)
	var rebuilt = btree.New(btreeDegree)
	m.rows.Ascend(func(i btree.Item) bool {
		var it = i.(rowItem)
		var row = make([]protocol.Value, len(m.fields))
		copy(row, it.row)
		rebuilt.ReplaceOrInsert(rowItem{key: it.key, row: row})
		return true
	})
	m.rows = rebuilt
}

// alterRemove deletes the named fields and their column of every row.
func (m *Model) alterRemove(names []string) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()

	var drop = make(map[int]bool, len(names))
	for _, n := range names {
		if i := m.fieldIndex(n); i != -1 && i != m.pk {
			drop[i] = true
		}
	}
	var fields = make([]Field, 0, len(m.fields)-len(drop))
	var keepIdx = make([]int, 0, cap(fields))
	for i, f := range m.fields {
		if !drop[i] {
			if i == m.pk {
				m.pk = len(fields)
			}
			fields = append(fields, f)
			keepIdx = append(keepIdx, i)
		}
	}
	m.fields = fields

	var rebuilt = btree.New(btreeDegree)
	m.rows.Ascend(func(i btree.Item) bool {
		var it = i.(rowItem)
		var row = make([]protocol.Value, len(keepIdx))
		for j, k := range keepIdx {
			row[j] = it.row[k]
		}
		rebuilt.ReplaceOrInsert(rowItem{key: it.key, row: row})
		return true
	})
	m.rows = rebuilt
}

// alterUpdate replaces the definitions of existing fields.
func (m *Model) alterUpdate(fields []Field) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()

	for _, f := range fields {
		if i := m.fieldIndex(f.Name); i != -1 && i != m.pk {
			m.fields[i] = f
		}
	}
}
