package catalog

import (
	"strings"
	"unicode"

	"github.com/rizalgowandy/skytable/protocol"
)

const (
	// maxIdentLen bounds space, model, field, and user names.
	maxIdentLen = 64
	// maxFields bounds the field count of a Model.
	maxFields = 256
	// maxTypeDepth bounds list nesting within a field type.
	maxTypeDepth = 8
)

// Type is a closed field type descriptor: a scalar kind, or a list kind
// with a recursive element descriptor. Descriptors are validated once,
// when a schema is defined, and are immutable thereafter.
type Type struct {
	Kind protocol.Kind
	// Elem is the element descriptor, set iff Kind is KindList.
	Elem *Type
}

// Field is one column of a Model schema.
type Field struct {
	Name     string
	Type     Type
	Nullable bool
}

// TypeOf returns a scalar Type of |kind|.
func TypeOf(kind protocol.Kind) Type { return Type{Kind: kind} }

// ListOf returns a list Type with element type |elem|.
func ListOf(elem Type) Type { return Type{Kind: protocol.KindList, Elem: &elem} }

// Validate returns an error if the Type is not a well-formed
// descriptor: its kinds must be storable value kinds, a list must carry
// an element descriptor (and only a list may), and nesting is bounded.
func (t Type) Validate() error {
	return t.validate(0)
}

func (t Type) validate(depth int) error {
	if depth == maxTypeDepth {
		return schemaErrf("type nesting is too deep")
	}
	switch t.Kind {
	case protocol.KindBool,
		protocol.KindUint8, protocol.KindUint16, protocol.KindUint32, protocol.KindUint64,
		protocol.KindSint8, protocol.KindSint16, protocol.KindSint32, protocol.KindSint64,
		protocol.KindFloat32, protocol.KindFloat64,
		protocol.KindBinary, protocol.KindString:
		if t.Elem != nil {
			return schemaErrf("scalar type %s cannot have an element type", t.Kind)
		}
		return nil
	case protocol.KindList:
		if t.Elem == nil {
			return schemaErrf("list type requires an element type")
		}
		return t.Elem.validate(depth + 1)
	default:
		return schemaErrf("invalid field type (0x%02x)", uint8(t.Kind))
	}
}

// CanIndex returns whether values of the Type have a total order
// suitable for the primary-key index. Strings, binary, and integers
// index; floats, bools, and lists do not.
func (t Type) CanIndex() bool {
	switch t.Kind {
	case protocol.KindString, protocol.KindBinary,
		protocol.KindUint8, protocol.KindUint16, protocol.KindUint32, protocol.KindUint64,
		protocol.KindSint8, protocol.KindSint16, protocol.KindSint32, protocol.KindSint64:
		return true
	default:
		return false
	}
}

// Check returns an error unless |v| conforms to the Type. Integer and
// float values conform to any field of their signedness class whose
// width admits them, so a client may send a uint8 for a uint64 field.
func (t Type) Check(v protocol.Value) error {
	switch t.Kind {
	case protocol.KindBool:
		if v.Kind != protocol.KindBool {
			return typeErrf(t, v)
		}
	case protocol.KindUint8, protocol.KindUint16, protocol.KindUint32, protocol.KindUint64:
		if v.Kind < protocol.KindUint8 || v.Kind > protocol.KindUint64 {
			return typeErrf(t, v)
		}
		if bits := 8 << (t.Kind - protocol.KindUint8); bits < 64 && v.U >= 1<<bits {
			return schemaErrf("value %d overflows %s", v.U, t)
		}
	case protocol.KindSint8, protocol.KindSint16, protocol.KindSint32, protocol.KindSint64:
		if v.Kind < protocol.KindSint8 || v.Kind > protocol.KindSint64 {
			return typeErrf(t, v)
		}
		if bits := 8 << (t.Kind - protocol.KindSint8); bits < 64 {
			if lim := int64(1) << (bits - 1); v.I >= lim || v.I < -lim {
				return schemaErrf("value %d overflows %s", v.I, t)
			}
		}
	case protocol.KindFloat32:
		if v.Kind != protocol.KindFloat32 {
			return typeErrf(t, v)
		}
	case protocol.KindFloat64:
		if v.Kind != protocol.KindFloat32 && v.Kind != protocol.KindFloat64 {
			return typeErrf(t, v)
		}
	case protocol.KindBinary:
		if v.Kind != protocol.KindBinary {
			return typeErrf(t, v)
		}
	case protocol.KindString:
		if v.Kind != protocol.KindString {
			return typeErrf(t, v)
		}
	case protocol.KindList:
		if v.Kind != protocol.KindList {
			return typeErrf(t, v)
		}
		for _, e := range v.List {
			if err := t.Elem.Check(e); err != nil {
				return err
			}
		}
	default:
		return schemaErrf("invalid field type (0x%02x)", uint8(t.Kind))
	}
	return nil
}

// String renders the Type as it appears in a model declaration.
func (t Type) String() string {
	if t.Kind == protocol.KindList && t.Elem != nil {
		return "list { type: " + t.Elem.String() + " }"
	}
	return t.Kind.String()
}

// ParseType parses a scalar type name ("string", "uint64", ...) into
// its Type. List types are composed by the caller via ListOf.
func ParseType(name string) (Type, error) {
	for k := protocol.KindBool; k <= protocol.KindList; k++ {
		if k != protocol.KindList && name == k.String() {
			return TypeOf(k), nil
		}
	}
	return Type{}, schemaErrf("unknown type %q", name)
}

// appendType encodes the Type as its kind bytes, outermost first.
func appendType(b []byte, t Type) []byte {
	for {
		b = append(b, byte(t.Kind))
		if t.Kind != protocol.KindList {
			return b
		}
		t = *t.Elem
	}
}

// decodeType decodes a Type from appendType's encoding.
func decodeType(b []byte) (Type, error) {
	if len(b) == 0 {
		return Type{}, schemaErrf("empty type descriptor")
	}
	var t = Type{Kind: protocol.Kind(b[0])}
	if t.Kind == protocol.KindList {
		var elem, err = decodeType(b[1:])
		if err != nil {
			return Type{}, err
		}
		t.Elem = &elem
		return t, t.Validate()
	} else if len(b) != 1 {
		return Type{}, schemaErrf("trailing type descriptor bytes")
	}
	return t, t.Validate()
}

// Validate returns an error if the Field is not well-formed.
func (f Field) Validate() error {
	if err := validateIdent(f.Name); err != nil {
		return err
	}
	return f.Type.Validate()
}

// Decl renders the Field as it appears in a model declaration.
func (f Field) Decl() string {
	var b strings.Builder
	if f.Nullable {
		b.WriteString("null ")
	}
	b.WriteString(f.Name)
	b.WriteString(": ")
	b.WriteString(f.Type.String())
	return b.String()
}

// validateIdent checks a space, model, field, or user name: 1 to 64
// bytes, an ASCII letter or underscore followed by ASCII letters,
// digits, or underscores.
func validateIdent(n string) error {
	if len(n) == 0 || len(n) > maxIdentLen {
		return schemaErrf("invalid identifier length (%d; expected 1 <= length <= %d)", len(n), maxIdentLen)
	}
	for i, r := range n {
		if r == '_' || unicode.IsLetter(r) && r < unicode.MaxASCII {
			continue
		} else if i != 0 && unicode.IsDigit(r) && r < unicode.MaxASCII {
			continue
		}
		return schemaErrf("invalid identifier %q", n)
	}
	return nil
}

func schemaErrf(format string, args ...interface{}) error {
	return protocol.NewQueryError(protocol.CodeSchemaViolation, format, args...)
}

func typeErrf(t Type, v protocol.Value) error {
	return protocol.NewQueryError(protocol.CodeTypeMismatch,
		"expected %s, found %s", t, v.Kind)
}
