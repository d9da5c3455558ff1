package catalog

import (
	"bytes"

	"github.com/google/btree"
	"github.com/jgraettinger/cockroach-encoding/encoding"
	"github.com/pkg/errors"

	"github.com/rizalgowandy/skytable/protocol"
)

// rowItem is a btree entry: the order-preserving encoded primary key,
// and the row's field values in schema order.
type rowItem struct {
	key []byte
	row []protocol.Value
}

func (r rowItem) Less(other btree.Item) bool {
	return bytes.Compare(r.key, other.(rowItem).key) < 0
}

// encodeKey encodes a primary-key value such that byte order matches
// value order. Key encodings are index-internal and never persisted:
// journal payloads and images carry the value itself.
func encodeKey(v protocol.Value) []byte {
	switch v.Kind {
	case protocol.KindString:
		return encoding.EncodeStringAscending(nil, v.Str)
	case protocol.KindBinary:
		return encoding.EncodeBytesAscending(nil, v.Bin)
	case protocol.KindUint8, protocol.KindUint16, protocol.KindUint32, protocol.KindUint64:
		return encoding.EncodeUvarintAscending(nil, v.U)
	case protocol.KindSint8, protocol.KindSint16, protocol.KindSint32, protocol.KindSint64:
		return encoding.EncodeVarintAscending(nil, v.I)
	default:
		panic("primary key kind is not indexable")
	}
}

// encodeRow encodes |row| as a List of alternating field name and
// value. Rows are journaled and imaged keyed by name rather than by
// position, so replay maps them onto the schema in force after all
// catalog events — fields since removed are dropped, fields since
// added read as null.
func encodeRow(fields []Field, row []protocol.Value) protocol.Value {
	var elems = make([]protocol.Value, 0, 2*len(fields))
	for i, f := range fields {
		elems = append(elems, protocol.String(f.Name), row[i])
	}
	return protocol.List(elems...)
}

// decodeRow maps an encodeRow List onto |fields|, dropping unknown
// names and filling absent fields with null.
func decodeRow(fields []Field, v protocol.Value) ([]protocol.Value, error) {
	var named, err = decodePairs(v)
	if err != nil {
		return nil, err
	}
	var row = make([]protocol.Value, len(fields))
	for i, f := range fields {
		if fv, ok := named[f.Name]; ok {
			row[i] = fv
		} else {
			row[i] = protocol.Null()
		}
	}
	return row, nil
}

// decodePairs unpacks a List of alternating String name and value.
func decodePairs(v protocol.Value) (map[string]protocol.Value, error) {
	if v.Kind != protocol.KindList {
		return nil, errors.Errorf("expected a pair list, found %s", v.Kind)
	} else if len(v.List)%2 != 0 {
		return nil, errors.Errorf("pair list has odd length %d", len(v.List))
	}
	var out = make(map[string]protocol.Value, len(v.List)/2)
	for i := 0; i != len(v.List); i += 2 {
		if v.List[i].Kind != protocol.KindString {
			return nil, errors.Errorf("pair name is %s, not string", v.List[i].Kind)
		}
		out[v.List[i].Str] = v.List[i+1]
	}
	return out, nil
}

// appendPairs encodes |names| and their values from |m| as a pair List,
// in the order given.
func appendPairs(names []string, m map[string]protocol.Value) protocol.Value {
	var elems = make([]protocol.Value, 0, 2*len(names))
	for _, n := range names {
		elems = append(elems, protocol.String(n), m[n])
	}
	return protocol.List(elems...)
}
