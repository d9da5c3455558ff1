package protocol

import (
	"strconv"

	"github.com/pkg/errors"
)

// Frame type bytes of the exchange phase.
const (
	frameSimple   byte = 'S'
	framePipeline byte = 'P'

	// IllegalPacketByte is the single-byte response to a malformed
	// pipeline frame: the client cannot rely on response alignment past
	// this point, so no structured Error response is attempted.
	IllegalPacketByte byte = 0xff
)

// maxFrameSize bounds any single request frame, sized value, or list
// count on the wire.
const maxFrameSize = 1 << 26 // 64 MiB

// maxFrameSizeDigits bounds the ASCII size line itself.
const maxFrameSizeDigits = 10

// ErrIncomplete reports that a decoder needs more bytes before it can
// produce a frame. It is the protocol's explicit suspension point: the
// connection loop reads more and retries.
var ErrIncomplete = errors.New("frame incomplete")

// ErrIllegalPipeline reports a malformed pipeline frame. The connection
// responds with IllegalPacketByte and rejects the session.
var ErrIllegalPipeline = errors.New("illegal pipeline packet")

// errMalformed reports a malformed simple-query frame, surfaced to the
// client as an Error response.
var errMalformed = NewQueryError(CodeIllegalPacket, "illegal packet")

// Query is one decoded query: its text and bound parameters.
type Query struct {
	Text   string
	Params []Value
}

// Request is a decoded exchange frame: a single query, or a pipeline of
// queries which are answered 1:1 in order.
type Request struct {
	Pipeline bool
	Queries  []Query
}

// DecodeRequest decodes one Request from the head of |b|, returning the
// bytes consumed. It returns ErrIncomplete if |b| does not yet hold the
// complete frame, a *QueryError for a malformed simple frame, and
// ErrIllegalPipeline for a malformed pipeline frame.
func DecodeRequest(b []byte) (Request, int, error) {
	if len(b) == 0 {
		return Request{}, 0, ErrIncomplete
	}

	switch b[0] {
	case frameSimple:
		var body, n, err = decodeFrameBody(b[1:])
		if err != nil {
			return Request{}, 0, err
		}
		q, err := decodeSimpleBody(body)
		if err != nil {
			return Request{}, 0, err
		}
		return Request{Queries: []Query{q}}, 1 + n, nil

	case framePipeline:
		var body, n, err = decodeFrameBody(b[1:])
		if err == ErrIncomplete {
			return Request{}, 0, err
		} else if err != nil {
			return Request{}, 0, ErrIllegalPipeline
		}
		queries, err := decodePipelineBody(body)
		if err != nil {
			return Request{}, 0, ErrIllegalPipeline
		}
		return Request{Pipeline: true, Queries: queries}, 1 + n, nil

	default:
		return Request{}, 0, errMalformed
	}
}

// decodeFrameBody parses the ASCII total-size line at the head of |b|
// and returns the complete frame body, along with the bytes consumed
// from |b| (size line plus body).
func decodeFrameBody(b []byte) (body []byte, n int, err error) {
	var size = -1
	for i := range b {
		if b[i] == '\n' {
			var v, err = strconv.Atoi(string(b[:i]))
			if err != nil || v < 0 || v > maxFrameSize {
				return nil, 0, errMalformed
			}
			size, n = v, i+1
			break
		}
		if b[i] < '0' || b[i] > '9' || i >= maxFrameSizeDigits {
			return nil, 0, errMalformed
		}
	}
	if size == -1 {
		return nil, 0, ErrIncomplete
	}
	if len(b) < n+size {
		return nil, 0, ErrIncomplete
	}
	return b[n : n+size], n + size, nil
}

// decodeSimpleBody splits a simple frame body into query text and
// decoded parameters: an ASCII query-window line, the query bytes, and
// value-encoded parameters to its right.
func decodeSimpleBody(body []byte) (Query, error) {
	var window, tail, err = splitLine(body)
	if err != nil {
		return Query{}, errMalformed
	}
	w, err := strconv.Atoi(string(window))
	if err != nil || w < 0 || w > len(tail) {
		return Query{}, errMalformed
	}
	params, err := DecodeValues(tail[w:])
	if err != nil {
		return Query{}, errMalformed
	}
	return Query{Text: string(tail[:w]), Params: params}, nil
}

// decodePipelineBody decodes the repeated (query-length, param-length,
// query, params) groups of a pipeline frame body.
func decodePipelineBody(body []byte) ([]Query, error) {
	var queries []Query

	for len(body) != 0 {
		var qLine, rest, err = splitLine(body)
		if err != nil {
			return nil, err
		}
		pLine, rest, err := splitLine(rest)
		if err != nil {
			return nil, err
		}
		qLen, err := strconv.Atoi(string(qLine))
		if err != nil || qLen < 0 {
			return nil, errors.New("invalid query length")
		}
		pLen, err := strconv.Atoi(string(pLine))
		if err != nil || pLen < 0 || qLen+pLen > len(rest) {
			return nil, errors.New("invalid param length")
		}
		params, err := DecodeValues(rest[qLen : qLen+pLen])
		if err != nil {
			return nil, err
		}
		queries = append(queries, Query{
			Text:   string(rest[:qLen]),
			Params: params,
		})
		body = rest[qLen+pLen:]
	}

	if len(queries) == 0 {
		return nil, errors.New("empty pipeline")
	}
	return queries, nil
}

// AppendSimpleQuery appends a simple query frame for |text| and
// value-encoded |params|.
func AppendSimpleQuery(b []byte, text string, params ...Value) []byte {
	var payload = make([]byte, 0, len(text)+16)
	payload = strconv.AppendInt(payload, int64(len(text)), 10)
	payload = append(payload, '\n')
	payload = append(payload, text...)
	for _, p := range params {
		payload = p.Append(payload)
	}

	b = append(b, frameSimple)
	b = strconv.AppendInt(b, int64(len(payload)), 10)
	b = append(b, '\n')
	return append(b, payload...)
}

// AppendPipeline appends a pipeline frame holding |queries|.
func AppendPipeline(b []byte, queries ...Query) []byte {
	var payload []byte
	for _, q := range queries {
		var params []byte
		for _, p := range q.Params {
			params = p.Append(params)
		}
		payload = strconv.AppendInt(payload, int64(len(q.Text)), 10)
		payload = append(payload, '\n')
		payload = strconv.AppendInt(payload, int64(len(params)), 10)
		payload = append(payload, '\n')
		payload = append(payload, q.Text...)
		payload = append(payload, params...)
	}

	b = append(b, framePipeline)
	b = strconv.AppendInt(b, int64(len(payload)), 10)
	b = append(b, '\n')
	return append(b, payload...)
}
