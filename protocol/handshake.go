package protocol

import (
	"fmt"
	"strconv"
)

// The connection handshake is a fixed six-byte preamble — the 'H' magic
// and five option bytes (handshake version, protocol version, exchange
// mode, query mode, auth mode) — followed by newline-framed credential
// lengths and the credential bytes themselves. Only zero option values
// are defined today; each byte is checked in order and the first
// unacceptable one determines the (single, deterministic) rejection code.

// Option bytes accepted by this server.
const (
	HandshakeVersion  uint8 = 0 // Original handshake layout.
	ProtocolVersion   uint8 = 0 // Skyhash 2.
	ExchangeModeQTDEX uint8 = 0 // Query-time data exchange.
	QueryModeBQL      uint8 = 0 // Query language mode.
	AuthModePassword  uint8 = 0 // Username/password authentication.
)

const (
	handshakeMagic byte = 'H'
	// handshakePreambleLen is the magic plus five option bytes.
	handshakePreambleLen = 6
	// maxCredentialLen bounds each of username and password.
	maxCredentialLen = 4096
)

// HandshakeError is a typed handshake rejection. Its value is the wire
// code sent to the client in the rejection response.
type HandshakeError uint8

const (
	HandshakeCorrupted       HandshakeError = 0
	HandshakeBadVersion      HandshakeError = 1
	HandshakeBadProtocol     HandshakeError = 2
	HandshakeBadExchangeMode HandshakeError = 3
	HandshakeBadQueryMode    HandshakeError = 4
	HandshakeAuthRejected    HandshakeError = 5
)

func (e HandshakeError) Error() string {
	switch e {
	case HandshakeCorrupted:
		return "handshake: corrupted packet"
	case HandshakeBadVersion:
		return "handshake: unsupported handshake version"
	case HandshakeBadProtocol:
		return "handshake: unsupported protocol version"
	case HandshakeBadExchangeMode:
		return "handshake: unsupported exchange mode"
	case HandshakeBadQueryMode:
		return "handshake: unsupported query mode"
	case HandshakeAuthRejected:
		return "handshake: authentication rejected"
	default:
		return fmt.Sprintf("handshake: error (%d)", uint8(e))
	}
}

// Handshake is a decoded client handshake.
type Handshake struct {
	User     string
	Password string
}

// DecodeHandshake decodes a Handshake from the head of |b|. It returns
// the number of bytes consumed, ErrIncomplete if |b| does not yet hold a
// complete handshake, or a HandshakeError on rejection. Option bytes are
// validated strictly before any credential byte is examined, so an
// unsupported version is rejected even if the credential section is
// garbage.
func DecodeHandshake(b []byte) (Handshake, int, error) {
	if len(b) < handshakePreambleLen {
		return Handshake{}, 0, ErrIncomplete
	}
	if b[0] != handshakeMagic {
		return Handshake{}, 0, HandshakeCorrupted
	}
	if b[1] != HandshakeVersion {
		return Handshake{}, 0, HandshakeBadVersion
	}
	if b[2] != ProtocolVersion {
		return Handshake{}, 0, HandshakeBadProtocol
	}
	if b[3] != ExchangeModeQTDEX {
		return Handshake{}, 0, HandshakeBadExchangeMode
	}
	if b[4] != QueryModeBQL {
		return Handshake{}, 0, HandshakeBadQueryMode
	}
	if b[5] != AuthModePassword {
		return Handshake{}, 0, HandshakeAuthRejected
	}

	var n = handshakePreambleLen
	var uLen, pLen int

	for _, dst := range []*int{&uLen, &pLen} {
		var v, adv, err = decodeCredentialSize(b[n:])
		if err != nil {
			return Handshake{}, 0, err
		}
		*dst, n = v, n+adv
	}
	if len(b) < n+uLen+pLen {
		return Handshake{}, 0, ErrIncomplete
	}

	var hs = Handshake{
		User:     string(b[n : n+uLen]),
		Password: string(b[n+uLen : n+uLen+pLen]),
	}
	return hs, n + uLen + pLen, nil
}

// decodeCredentialSize parses one newline-terminated ASCII length,
// bounded to maxCredentialLen.
func decodeCredentialSize(b []byte) (size, n int, err error) {
	for i := range b {
		if b[i] == '\n' {
			var v, err = strconv.Atoi(string(b[:i]))
			if err != nil || v <= 0 || v > maxCredentialLen {
				return 0, 0, HandshakeCorrupted
			}
			return v, i + 1, nil
		}
		if b[i] < '0' || b[i] > '9' {
			return 0, 0, HandshakeCorrupted
		}
	}
	if len(b) > maxCredentialDigits {
		return 0, 0, HandshakeCorrupted
	}
	return 0, 0, ErrIncomplete
}

// maxCredentialDigits bounds the length line itself: enough digits for
// maxCredentialLen with no room for stalling feeds of digit spam.
const maxCredentialDigits = 4

// AppendHandshake appends a client handshake for |user| and |password|.
func AppendHandshake(b []byte, user, password string) []byte {
	b = append(b, handshakeMagic, HandshakeVersion, ProtocolVersion,
		ExchangeModeQTDEX, QueryModeBQL, AuthModePassword)
	b = strconv.AppendInt(b, int64(len(user)), 10)
	b = append(b, '\n')
	b = strconv.AppendInt(b, int64(len(password)), 10)
	b = append(b, '\n')
	b = append(b, user...)
	b = append(b, password...)
	return b
}

// AppendHandshakeAck appends the four-byte success response.
func AppendHandshakeAck(b []byte) []byte {
	return append(b, handshakeMagic, 0, 0, 0)
}

// AppendHandshakeError appends the four-byte rejection response for |e|.
func AppendHandshakeError(b []byte, e HandshakeError) []byte {
	return append(b, handshakeMagic, 0, 1, byte(e))
}

// DecodeHandshakeResponse decodes a server handshake response from the
// head of |b|: nil on success, HandshakeError on rejection.
func DecodeHandshakeResponse(b []byte) (int, error) {
	if len(b) < 4 {
		return 0, ErrIncomplete
	}
	if b[0] != handshakeMagic || b[1] != 0 {
		return 0, HandshakeCorrupted
	}
	switch b[2] {
	case 0:
		return 4, nil
	case 1:
		return 4, HandshakeError(b[3])
	default:
		return 0, HandshakeCorrupted
	}
}
