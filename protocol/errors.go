package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error codes carried by Error responses. Codes are part of the wire
// contract: stable across releases, never renumbered.
const (
	CodeUnknownStatement uint16 = 2000
	CodeParseError       uint16 = 2001

	CodeAuthRequired     uint16 = 2100
	CodePermissionDenied uint16 = 2101

	CodeSpaceNotFound   uint16 = 2200
	CodeSpaceExists     uint16 = 2201
	CodeModelNotFound   uint16 = 2202
	CodeModelExists     uint16 = 2203
	CodeDuplicateKey    uint16 = 2204
	CodeRowNotFound     uint16 = 2205
	CodeTypeMismatch    uint16 = 2206
	CodeSchemaViolation uint16 = 2207
	CodeDeleteMissing   uint16 = 2208

	CodeDDLConflict    uint16 = 2300
	CodeTxnAborted     uint16 = 2301
	CodeJournalWrite   uint16 = 2302
	CodeCorrupted      uint16 = 2400
	CodeReadOnly       uint16 = 2401
	CodeShuttingDown   uint16 = 2500
	CodeIllegalPacket  uint16 = 2501
	CodeUserNotFound   uint16 = 2502
	CodeUserExists     uint16 = 2503
	CodeProtectedUser  uint16 = 2504
	CodeNoCurrentSpace uint16 = 2505
)

// QueryError is an error with a stable wire code. It is the only error
// type which crosses the protocol boundary: anything else is reported to
// the client as CodeUnknownStatement and logged server-side.
type QueryError struct {
	Code uint16
	Msg  string
}

func (e *QueryError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("query error (%d)", e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Msg, e.Code)
}

// NewQueryError returns a QueryError with |code| and formatted message.
func NewQueryError(code uint16, format string, args ...interface{}) *QueryError {
	return &QueryError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// ErrorCode maps |err| onto its wire code, unwrapping as needed.
// Errors without a QueryError in their chain map to CodeUnknownStatement.
func ErrorCode(err error) uint16 {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return CodeUnknownStatement
}
