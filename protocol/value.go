package protocol

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the type tag of a Value or response frame. Kind bytes appear on
// the wire and in journaled payloads, and must never be renumbered.
type Kind uint8

const (
	KindNull    Kind = 0x00
	KindBool    Kind = 0x01
	KindUint8   Kind = 0x02
	KindUint16  Kind = 0x03
	KindUint32  Kind = 0x04
	KindUint64  Kind = 0x05
	KindSint8   Kind = 0x06
	KindSint16  Kind = 0x07
	KindSint32  Kind = 0x08
	KindSint64  Kind = 0x09
	KindFloat32 Kind = 0x0a
	KindFloat64 Kind = 0x0b
	KindBinary  Kind = 0x0c
	KindString  Kind = 0x0d
	KindList    Kind = 0x0e

	// Kinds 0x10 and above frame responses only, never Values.
	KindError    Kind = 0x10
	KindRow      Kind = 0x11
	KindEmpty    Kind = 0x12
	KindMultiRow Kind = 0x13
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindUint64:
		return "uint64"
	case KindSint8:
		return "sint8"
	case KindSint16:
		return "sint16"
	case KindSint32:
		return "sint32"
	case KindSint64:
		return "sint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindBinary:
		return "binary"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindError:
		return "error"
	case KindRow:
		return "row"
	case KindEmpty:
		return "empty"
	case KindMultiRow:
		return "multirow"
	default:
		return "invalid"
	}
}

// Value is a dynamically typed datum: a query parameter, a row field, or
// a journaled payload element. The zero Value is Null.
type Value struct {
	Kind Kind
	// Exactly one of the following carries the datum, selected by Kind.
	B    bool
	U    uint64
	I    int64
	F    float64
	Str  string
	Bin  []byte
	List []Value
}

// Constructors for each Value Kind.

func Null() Value              { return Value{Kind: KindNull} }
func Bool(b bool) Value        { return Value{Kind: KindBool, B: b} }
func Uint8(u uint8) Value      { return Value{Kind: KindUint8, U: uint64(u)} }
func Uint16(u uint16) Value    { return Value{Kind: KindUint16, U: uint64(u)} }
func Uint32(u uint32) Value    { return Value{Kind: KindUint32, U: uint64(u)} }
func Uint64(u uint64) Value    { return Value{Kind: KindUint64, U: u} }
func Sint8(i int8) Value       { return Value{Kind: KindSint8, I: int64(i)} }
func Sint16(i int16) Value     { return Value{Kind: KindSint16, I: int64(i)} }
func Sint32(i int32) Value     { return Value{Kind: KindSint32, I: int64(i)} }
func Sint64(i int64) Value     { return Value{Kind: KindSint64, I: i} }
func Float32(f float32) Value  { return Value{Kind: KindFloat32, F: float64(f)} }
func Float64(f float64) Value  { return Value{Kind: KindFloat64, F: f} }
func Binary(b []byte) Value    { return Value{Kind: KindBinary, Bin: b} }
func String(s string) Value    { return Value{Kind: KindString, Str: s} }
func List(vs ...Value) Value   { return Value{Kind: KindList, List: vs} }

// IsNull returns whether the Value is Null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// String renders the Value for display: null and numerics plainly,
// strings quoted, binary as a byte list, lists bracketed.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return strconv.FormatUint(v.U, 10)
	case KindSint8, KindSint16, KindSint32, KindSint64:
		return strconv.FormatInt(v.I, 10)
	case KindFloat32:
		return strconv.FormatFloat(v.F, 'g', -1, 32)
	case KindFloat64:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindBinary:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, c := range v.Bin {
			if i != 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Itoa(int(c)))
		}
		sb.WriteByte(']')
		return sb.String()
	case KindString:
		return strconv.Quote(v.Str)
	case KindList:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range v.List {
			if i != 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.String())
		}
		sb.WriteByte(']')
		return sb.String()
	default:
		return "invalid"
	}
}

// Append encodes the Value, appending to and returning |b|. Scalars are
// encoded as the Kind byte followed by a newline-terminated ASCII body;
// Binary, String and List bodies are length lines followed by payload.
func (v Value) Append(b []byte) []byte {
	b = append(b, byte(v.Kind))
	switch v.Kind {
	case KindNull:
		// No body.
	case KindBool:
		if v.B {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	case KindUint8, KindUint16, KindUint32, KindUint64:
		b = strconv.AppendUint(b, v.U, 10)
		b = append(b, '\n')
	case KindSint8, KindSint16, KindSint32, KindSint64:
		b = strconv.AppendInt(b, v.I, 10)
		b = append(b, '\n')
	case KindFloat32:
		b = strconv.AppendFloat(b, v.F, 'g', -1, 32)
		b = append(b, '\n')
	case KindFloat64:
		b = strconv.AppendFloat(b, v.F, 'g', -1, 64)
		b = append(b, '\n')
	case KindBinary:
		b = strconv.AppendInt(b, int64(len(v.Bin)), 10)
		b = append(b, '\n')
		b = append(b, v.Bin...)
	case KindString:
		b = strconv.AppendInt(b, int64(len(v.Str)), 10)
		b = append(b, '\n')
		b = append(b, v.Str...)
	case KindList:
		b = strconv.AppendInt(b, int64(len(v.List)), 10)
		b = append(b, '\n')
		for _, e := range v.List {
			b = e.Append(b)
		}
	default:
		panic("invalid Value Kind")
	}
	return b
}

// DecodeValue decodes one Value from |b|, returning it along with the
// unconsumed remainder. Insufficient bytes yield ErrIncomplete; semantic
// malformation (a bad digit, an unknown kind, an out-of-bound size)
// yields a hard error. Callers holding a complete frame treat both as
// malformation; incremental callers retry ErrIncomplete with more bytes.
func DecodeValue(b []byte) (Value, []byte, error) {
	if len(b) == 0 {
		return Value{}, nil, ErrIncomplete
	}
	var kind, rest = Kind(b[0]), b[1:]

	switch kind {
	case KindNull:
		return Null(), rest, nil
	case KindBool:
		if len(rest) < 1 {
			return Value{}, nil, ErrIncomplete
		} else if rest[0] > 1 {
			return Value{}, nil, errors.Errorf("invalid bool byte (%d)", rest[0])
		}
		return Bool(rest[0] == 1), rest[1:], nil
	case KindUint8, KindUint16, KindUint32, KindUint64:
		var line, tail, err = splitLine(rest)
		if err != nil {
			return Value{}, nil, err
		}
		u, err := strconv.ParseUint(string(line), 10, uintBits(kind))
		if err != nil {
			return Value{}, nil, errors.Wrap(err, "parsing unsigned value")
		}
		return Value{Kind: kind, U: u}, tail, nil
	case KindSint8, KindSint16, KindSint32, KindSint64:
		var line, tail, err = splitLine(rest)
		if err != nil {
			return Value{}, nil, err
		}
		i, err := strconv.ParseInt(string(line), 10, sintBits(kind))
		if err != nil {
			return Value{}, nil, errors.Wrap(err, "parsing signed value")
		}
		return Value{Kind: kind, I: i}, tail, nil
	case KindFloat32, KindFloat64:
		var line, tail, err = splitLine(rest)
		if err != nil {
			return Value{}, nil, err
		}
		var bits = 64
		if kind == KindFloat32 {
			bits = 32
		}
		f, err := strconv.ParseFloat(string(line), bits)
		if err != nil {
			return Value{}, nil, errors.Wrap(err, "parsing float value")
		}
		return Value{Kind: kind, F: f}, tail, nil
	case KindBinary, KindString:
		var n, tail, err = decodeSizeLine(rest)
		if err != nil {
			return Value{}, nil, err
		} else if len(tail) < n {
			return Value{}, nil, ErrIncomplete
		}
		if kind == KindBinary {
			return Binary(append([]byte(nil), tail[:n]...)), tail[n:], nil
		}
		return String(string(tail[:n])), tail[n:], nil
	case KindList:
		var n, tail, err = decodeSizeLine(rest)
		if err != nil {
			return Value{}, nil, err
		}
		var list = make([]Value, 0, n)
		for i := 0; i != n; i++ {
			var elem Value
			if elem, tail, err = DecodeValue(tail); err != nil {
				return Value{}, nil, errors.Wrapf(err, "list element %d", i)
			}
			list = append(list, elem)
		}
		return Value{Kind: KindList, List: list}, tail, nil
	default:
		return Value{}, nil, errors.Errorf("invalid value kind (0x%02x)", b[0])
	}
}

// DecodeValues decodes Values from |b| until it is exhausted.
func DecodeValues(b []byte) ([]Value, error) {
	var out []Value
	for len(b) != 0 {
		var v, rest, err = DecodeValue(b)
		if err != nil {
			return nil, err
		}
		out, b = append(out, v), rest
	}
	return out, nil
}

func uintBits(k Kind) int { return 8 << (k - KindUint8) }
func sintBits(k Kind) int { return 8 << (k - KindSint8) }

// splitLine splits |b| at its first newline, returning the line and the
// bytes which follow it, or ErrIncomplete if no newline is present.
func splitLine(b []byte) (line, tail []byte, err error) {
	for i := range b {
		if b[i] == '\n' {
			return b[:i], b[i+1:], nil
		}
	}
	return nil, nil, ErrIncomplete
}

// decodeSizeLine parses a newline-terminated ASCII size, bounding it to
// maxFrameSize.
func decodeSizeLine(b []byte) (int, []byte, error) {
	var line, tail, err = splitLine(b)
	if err != nil {
		return 0, nil, err
	}
	n, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, nil, errors.Wrap(err, "parsing size")
	} else if n < 0 || n > maxFrameSize {
		return 0, nil, errors.Errorf("invalid size (%d)", n)
	}
	return int(n), tail, nil
}
