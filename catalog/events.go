package catalog

import (
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rizalgowandy/skytable/protocol"
)

// Catalog event opcodes, journaled through the catalog store. Opcodes
// are part of the durable format and are never renumbered.
const (
	OpCreateSpace      uint8 = 0x10
	OpAlterSpace       uint8 = 0x11
	OpDropSpace        uint8 = 0x12
	OpCreateModel      uint8 = 0x13
	OpAlterModelAdd    uint8 = 0x14
	OpAlterModelRemove uint8 = 0x15
	OpAlterModelUpdate uint8 = 0x16
	OpDropModel        uint8 = 0x17
	OpCreateUser       uint8 = 0x18
	OpAlterUser        uint8 = 0x19
	OpDropUser         uint8 = 0x1a
)

// Model data event opcodes, journaled through each Model's store.
const (
	OpInsertRow     uint8 = 0x20
	OpUpdateRow     uint8 = 0x21
	OpDeleteRow     uint8 = 0x22
	OpTruncateModel uint8 = 0x23
)

// OpName returns the display name of a catalog or model data opcode.
func OpName(op uint8) string {
	switch op {
	case OpCreateSpace:
		return "create-space"
	case OpAlterSpace:
		return "alter-space"
	case OpDropSpace:
		return "drop-space"
	case OpCreateModel:
		return "create-model"
	case OpAlterModelAdd:
		return "alter-model-add"
	case OpAlterModelRemove:
		return "alter-model-remove"
	case OpAlterModelUpdate:
		return "alter-model-update"
	case OpDropModel:
		return "drop-model"
	case OpCreateUser:
		return "create-user"
	case OpAlterUser:
		return "alter-user"
	case OpDropUser:
		return "drop-user"
	case OpInsertRow:
		return "insert-row"
	case OpUpdateRow:
		return "update-row"
	case OpDeleteRow:
		return "delete-row"
	case OpTruncateModel:
		return "truncate-model"
	default:
		return "unknown"
	}
}

// Apply folds a committed catalog event into the registry. Events were
// validated before staging under the DDL intent lock, so failures here
// mean the journal and state have diverged.
func (c *Catalog) Apply(op uint8, payload []byte) error {
	var vals, err = protocol.DecodeValues(payload)
	if err != nil {
		return errors.Wrapf(err, "decoding %s event", OpName(op))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch op {
	case OpCreateSpace:
		name, err := eventStr(vals, 0)
		if err != nil {
			return err
		}
		id, err := eventUUID(vals, 1)
		if err != nil {
			return err
		}
		props, err := eventPairs(vals, 2)
		if err != nil {
			return err
		}
		c.spaces[name] = &Space{
			Name:   name,
			UUID:   id,
			props:  props,
			models: make(map[string]*Model),
		}
		return nil

	case OpAlterSpace:
		name, err := eventStr(vals, 0)
		if err != nil {
			return err
		}
		patch, err := eventPairs(vals, 1)
		if err != nil {
			return err
		}
		var sp, ok = c.spaces[name]
		if !ok {
			return errors.Errorf("altered space %s does not exist", name)
		}
		for k, v := range patch {
			if v.IsNull() {
				delete(sp.props, k)
			} else {
				sp.props[k] = v
			}
		}
		return nil

	case OpDropSpace:
		name, err := eventStr(vals, 0)
		if err != nil {
			return err
		}
		delete(c.spaces, name)
		return nil

	case OpCreateModel:
		space, model, err := eventModelRef(vals)
		if err != nil {
			return err
		}
		id, err := eventUUID(vals, 2)
		if err != nil {
			return err
		}
		pk, err := eventUint(vals, 3)
		if err != nil {
			return err
		}
		fields, err := eventFields(vals, 4)
		if err != nil {
			return err
		}
		var sp, ok = c.spaces[space]
		if !ok {
			return errors.Errorf("space %s of created model does not exist", space)
		} else if int(pk) >= len(fields) {
			return errors.Errorf("primary key index %d is out of range", pk)
		}
		sp.models[model] = newModel(space, model, id, fields, int(pk))
		return nil

	case OpAlterModelAdd:
		m, err := c.eventModel(vals)
		if err != nil {
			return err
		}
		fields, err := eventFields(vals, 2)
		if err != nil {
			return err
		}
		m.alterAdd(fields)
		return nil

	case OpAlterModelRemove:
		m, err := c.eventModel(vals)
		if err != nil {
			return err
		}
		names, err := eventStrList(vals, 2)
		if err != nil {
			return err
		}
		m.alterRemove(names)
		return nil

	case OpAlterModelUpdate:
		m, err := c.eventModel(vals)
		if err != nil {
			return err
		}
		fields, err := eventFields(vals, 2)
		if err != nil {
			return err
		}
		m.alterUpdate(fields)
		return nil

	case OpDropModel:
		space, model, err := eventModelRef(vals)
		if err != nil {
			return err
		}
		if sp, ok := c.spaces[space]; ok {
			delete(sp.models, model)
		}
		return nil

	case OpCreateUser, OpAlterUser:
		name, err := eventStr(vals, 0)
		if err != nil {
			return err
		}
		hash, err := eventBin(vals, 1)
		if err != nil {
			return err
		}
		c.users[name] = &User{Name: name, Hash: hash}
		return nil

	case OpDropUser:
		name, err := eventStr(vals, 0)
		if err != nil {
			return err
		}
		delete(c.users, name)
		return nil

	default:
		return errors.Errorf("unknown catalog event opcode (0x%02x)", op)
	}
}

// MarshalImage snapshots the registry: spaces with their model
// schemas, then users, in sorted name order throughout so that images
// of equal state are byte-identical.
func (c *Catalog) MarshalImage() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var spaces = make([]protocol.Value, 0, len(c.spaces))
	for _, name := range c.spaceNamesLocked() {
		var sp = c.spaces[name]
		var models = make([]protocol.Value, 0, len(sp.models))
		for _, mn := range sp.modelNamesLocked() {
			var m = sp.models[mn]
			models = append(models, protocol.List(
				protocol.String(m.Name),
				protocol.Binary(uuidBytes(m.UUID)),
				protocol.Uint64(uint64(m.pk)),
				appendFields(m.fields),
			))
		}
		spaces = append(spaces, protocol.List(
			protocol.String(sp.Name),
			protocol.Binary(uuidBytes(sp.UUID)),
			appendPairs(sortedPropKeys(sp.props), sp.props),
			protocol.List(models...),
		))
	}

	var users = make([]protocol.Value, 0, len(c.users))
	for _, name := range c.userNamesLocked() {
		users = append(users, protocol.List(
			protocol.String(name),
			protocol.Binary(c.users[name].Hash),
		))
	}

	var b = protocol.List(spaces...).Append(nil)
	return protocol.List(users...).Append(b), nil
}

// UnmarshalImage restores the registry from a MarshalImage snapshot.
func (c *Catalog) UnmarshalImage(b []byte) error {
	var vals, err = protocol.DecodeValues(b)
	if err != nil {
		return errors.Wrap(err, "decoding catalog image")
	} else if len(vals) != 2 || vals[0].Kind != protocol.KindList || vals[1].Kind != protocol.KindList {
		return errors.New("catalog image is malformed")
	}

	var spaces = make(map[string]*Space, len(vals[0].List))
	for _, sv := range vals[0].List {
		if sv.Kind != protocol.KindList || len(sv.List) != 4 {
			return errors.New("imaged space is malformed")
		}
		name, err := eventStr(sv.List, 0)
		if err != nil {
			return err
		}
		id, err := eventUUID(sv.List, 1)
		if err != nil {
			return err
		}
		props, err := eventPairs(sv.List, 2)
		if err != nil {
			return err
		}
		if sv.List[3].Kind != protocol.KindList {
			return errors.New("imaged space models are malformed")
		}
		var sp = &Space{
			Name:   name,
			UUID:   id,
			props:  props,
			models: make(map[string]*Model, len(sv.List[3].List)),
		}
		for _, mv := range sv.List[3].List {
			if mv.Kind != protocol.KindList || len(mv.List) != 4 {
				return errors.New("imaged model is malformed")
			}
			mName, err := eventStr(mv.List, 0)
			if err != nil {
				return err
			}
			mID, err := eventUUID(mv.List, 1)
			if err != nil {
				return err
			}
			pk, err := eventUint(mv.List, 2)
			if err != nil {
				return err
			}
			fields, err := eventFields(mv.List, 3)
			if err != nil {
				return err
			}
			if int(pk) >= len(fields) {
				return errors.Errorf("imaged model %s primary key is out of range", mName)
			}
			sp.models[mName] = newModel(name, mName, mID, fields, int(pk))
		}
		spaces[name] = sp
	}

	var users = make(map[string]*User, len(vals[1].List))
	for _, uv := range vals[1].List {
		if uv.Kind != protocol.KindList || len(uv.List) != 2 {
			return errors.New("imaged user is malformed")
		}
		name, err := eventStr(uv.List, 0)
		if err != nil {
			return err
		}
		hash, err := eventBin(uv.List, 1)
		if err != nil {
			return err
		}
		users[name] = &User{Name: name, Hash: hash}
	}

	c.mu.Lock()
	c.spaces, c.users = spaces, users
	c.mu.Unlock()
	return nil
}

// LiveCount is the event count a fresh image stands in for: one create
// per space, model, and user.
func (c *Catalog) LiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n = len(c.spaces) + len(c.users)
	for _, sp := range c.spaces {
		n += len(sp.models)
	}
	return n
}

func (c *Catalog) spaceNamesLocked() []string {
	var names = make([]string, 0, len(c.spaces))
	for n := range c.spaces {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) userNamesLocked() []string {
	var names = make([]string, 0, len(c.users))
	for n := range c.users {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Space) modelNamesLocked() []string {
	var names = make([]string, 0, len(s.models))
	for n := range s.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// eventModel resolves the model reference leading a model event.
func (c *Catalog) eventModel(vals []protocol.Value) (*Model, error) {
	var space, model, err = eventModelRef(vals)
	if err != nil {
		return nil, err
	}
	var sp, ok = c.spaces[space]
	if !ok {
		return nil, errors.Errorf("space %s of altered model does not exist", space)
	}
	var m, mok = sp.models[model]
	if !mok {
		return nil, errors.Errorf("altered model %s.%s does not exist", space, model)
	}
	return m, nil
}

func eventModelRef(vals []protocol.Value) (space, model string, err error) {
	if space, err = eventStr(vals, 0); err != nil {
		return "", "", err
	}
	if model, err = eventStr(vals, 1); err != nil {
		return "", "", err
	}
	return space, model, nil
}

func eventStr(vals []protocol.Value, i int) (string, error) {
	if i >= len(vals) || vals[i].Kind != protocol.KindString {
		return "", errors.Errorf("event element %d is not a string", i)
	}
	return vals[i].Str, nil
}

func eventBin(vals []protocol.Value, i int) ([]byte, error) {
	if i >= len(vals) || vals[i].Kind != protocol.KindBinary {
		return nil, errors.Errorf("event element %d is not binary", i)
	}
	return vals[i].Bin, nil
}

func eventUint(vals []protocol.Value, i int) (uint64, error) {
	if i >= len(vals) || vals[i].Kind < protocol.KindUint8 || vals[i].Kind > protocol.KindUint64 {
		return 0, errors.Errorf("event element %d is not an unsigned integer", i)
	}
	return vals[i].U, nil
}

func eventUUID(vals []protocol.Value, i int) (uuid.UUID, error) {
	var b, err = eventBin(vals, i)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "event element %d", i)
	}
	return id, nil
}

func eventPairs(vals []protocol.Value, i int) (map[string]protocol.Value, error) {
	if i >= len(vals) {
		return nil, errors.Errorf("event element %d is missing", i)
	}
	return decodePairs(vals[i])
}

func eventStrList(vals []protocol.Value, i int) ([]string, error) {
	if i >= len(vals) || vals[i].Kind != protocol.KindList {
		return nil, errors.Errorf("event element %d is not a list", i)
	}
	var out = make([]string, len(vals[i].List))
	for j, v := range vals[i].List {
		if v.Kind != protocol.KindString {
			return nil, errors.Errorf("event element %d.%d is not a string", i, j)
		}
		out[j] = v.Str
	}
	return out, nil
}

func eventFields(vals []protocol.Value, i int) ([]Field, error) {
	if i >= len(vals) || vals[i].Kind != protocol.KindList {
		return nil, errors.Errorf("event element %d is not a field list", i)
	}
	var out = make([]Field, 0, len(vals[i].List))
	for j, fv := range vals[i].List {
		if fv.Kind != protocol.KindList || len(fv.List) != 3 {
			return nil, errors.Errorf("event field %d is malformed", j)
		}
		var name, err = eventStr(fv.List, 0)
		if err != nil {
			return nil, err
		}
		desc, err := eventBin(fv.List, 1)
		if err != nil {
			return nil, err
		}
		typ, err := decodeType(desc)
		if err != nil {
			return nil, err
		}
		if fv.List[2].Kind != protocol.KindBool {
			return nil, errors.Errorf("event field %d nullability is not a bool", j)
		}
		out = append(out, Field{Name: name, Type: typ, Nullable: fv.List[2].B})
	}
	return out, nil
}
