package protocol

import (
	"encoding/binary"
	"strconv"
)

// Response is one decoded server response: a scalar or list value, a
// typed error, a row, an ordered set of rows, or the empty success.
type Response struct {
	Kind  Kind
	Code  uint16    // Set iff Kind == KindError.
	Value Value     // Set for value Kinds.
	Row   []Value   // Set iff Kind == KindRow.
	Rows  [][]Value // Set iff Kind == KindMultiRow.
}

// Scalar returns a Response carrying |v|.
func Scalar(v Value) Response { return Response{Kind: v.Kind, Value: v} }

// Empty returns the bodiless success Response.
func Empty() Response { return Response{Kind: KindEmpty} }

// ErrorResponse returns an error Response with |code|.
func ErrorResponse(code uint16) Response {
	return Response{Kind: KindError, Code: code}
}

// ErrorOf maps |err| onto its error Response via ErrorCode.
func ErrorOf(err error) Response { return ErrorResponse(ErrorCode(err)) }

// Row returns a single-row Response of |values|.
func Row(values ...Value) Response {
	return Response{Kind: KindRow, Row: values}
}

// MultiRow returns a Response of zero or more |rows|.
func MultiRow(rows ...[]Value) Response {
	return Response{Kind: KindMultiRow, Rows: rows}
}

// IsError returns whether the Response is an error.
func (r Response) IsError() bool { return r.Kind == KindError }

// Append encodes the Response, appending to and returning |b|.
func (r Response) Append(b []byte) []byte {
	switch r.Kind {
	case KindError:
		b = append(b, byte(KindError))
		return binary.LittleEndian.AppendUint16(b, r.Code)
	case KindEmpty:
		return append(b, byte(KindEmpty))
	case KindRow:
		b = append(b, byte(KindRow))
		return appendRowBody(b, r.Row)
	case KindMultiRow:
		b = append(b, byte(KindMultiRow))
		b = strconv.AppendInt(b, int64(len(r.Rows)), 10)
		b = append(b, '\n')
		for _, row := range r.Rows {
			b = appendRowBody(b, row)
		}
		return b
	default:
		return r.Value.Append(b)
	}
}

func appendRowBody(b []byte, row []Value) []byte {
	b = strconv.AppendInt(b, int64(len(row)), 10)
	b = append(b, '\n')
	for _, v := range row {
		b = v.Append(b)
	}
	return b
}

// DecodeResponse decodes one Response from the head of |b|, returning
// the bytes consumed. ErrIncomplete means more bytes are required.
// An IllegalPacketByte head decodes as ErrIllegalPipeline.
func DecodeResponse(b []byte) (Response, int, error) {
	if len(b) == 0 {
		return Response{}, 0, ErrIncomplete
	}

	switch Kind(b[0]) {
	case KindError:
		if len(b) < 3 {
			return Response{}, 0, ErrIncomplete
		}
		return ErrorResponse(binary.LittleEndian.Uint16(b[1:3])), 3, nil

	case KindEmpty:
		return Empty(), 1, nil

	case KindRow:
		var row, rest, err = decodeRowBody(b[1:])
		if err != nil {
			return Response{}, 0, err
		}
		return Row(row...), len(b) - len(rest), nil

	case KindMultiRow:
		var n, rest, err = decodeSizeLine(b[1:])
		if err != nil {
			return Response{}, 0, err
		}
		var rows = make([][]Value, 0, n)
		for i := 0; i != n; i++ {
			var row []Value
			if row, rest, err = decodeRowBody(rest); err != nil {
				return Response{}, 0, err
			}
			rows = append(rows, row)
		}
		return MultiRow(rows...), len(b) - len(rest), nil

	case Kind(IllegalPacketByte):
		return Response{}, 1, ErrIllegalPipeline

	default:
		var v, rest, err = DecodeValue(b)
		if err != nil {
			return Response{}, 0, err
		}
		return Scalar(v), len(b) - len(rest), nil
	}
}

func decodeRowBody(b []byte) ([]Value, []byte, error) {
	var n, rest, err = decodeSizeLine(b)
	if err != nil {
		return nil, nil, err
	}
	var row = make([]Value, 0, n)
	for i := 0; i != n; i++ {
		var v Value
		if v, rest, err = DecodeValue(rest); err != nil {
			return nil, nil, err
		}
		row = append(row, v)
	}
	return row, rest, nil
}
