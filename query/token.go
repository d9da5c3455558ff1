package query

import (
	"strconv"
	"strings"

	"github.com/rizalgowandy/skytable/protocol"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokSymbol
	tokLiteral
)

// token is one lexed element of a query string.
type token struct {
	kind tokenKind
	text string         // ident text, or keyword lowered
	sym  byte           // set for tokSymbol
	lit  protocol.Value // set for tokLiteral
	pos  int            // byte offset in the query
}

// Keywords are reserved: they never lex as identifiers. Scalar type
// names are ordinary identifiers, resolved against the type table at
// parse time.
var keywords = map[string]bool{
	"add": true, "all": true, "alter": true, "create": true,
	"delete": true, "drop": true, "exists": true, "force": true,
	"from": true, "global": true, "if": true, "insert": true,
	"inspect": true, "into": true, "limit": true, "list": true,
	"model": true, "not": true, "null": true, "primary": true,
	"remove": true, "report": true, "select": true, "set": true,
	"space": true, "status": true, "sysctl": true, "truncate": true,
	"type": true, "update": true, "use": true, "user": true,
	"where": true, "with": true,
}

const symbols = "(){},:.=?*"

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// tokenize lexes |src|. Query text carries identifiers, keywords,
// punctuation, and literal booleans, integers, and quoted strings;
// every other value arrives as a bound parameter.
func tokenize(src string) ([]token, error) {
	var toks []token
	var i int

	for i < len(src) {
		var c = src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case isIdentStart(c):
			var start = i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			var word = src[start:i]
			var lower = strings.ToLower(word)
			switch {
			case lower == "true" || lower == "false":
				toks = append(toks, token{
					kind: tokLiteral, lit: protocol.Bool(lower == "true"), pos: start})
			case keywords[lower]:
				toks = append(toks, token{kind: tokKeyword, text: lower, pos: start})
			default:
				toks = append(toks, token{kind: tokIdent, text: word, pos: start})
			}

		case isDigit(c), c == '-':
			var start = i
			if c == '-' {
				i++
				if i == len(src) || !isDigit(src[i]) {
					return nil, parseErrf("stray '-' at offset %d", start)
				}
			}
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			if i < len(src) && isIdentPart(src[i]) {
				return nil, parseErrf("malformed number at offset %d", start)
			}
			var lit protocol.Value
			if c == '-' {
				var n, err = strconv.ParseInt(src[start:i], 10, 64)
				if err != nil {
					return nil, parseErrf("integer at offset %d is out of range", start)
				}
				lit = protocol.Sint64(n)
			} else {
				var n, err = strconv.ParseUint(src[start:i], 10, 64)
				if err != nil {
					return nil, parseErrf("integer at offset %d is out of range", start)
				}
				lit = protocol.Uint64(n)
			}
			toks = append(toks, token{kind: tokLiteral, lit: lit, pos: start})

		case c == '\'' || c == '"':
			var s, n, err = scanString(src[i:], c)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokLiteral, lit: protocol.String(s), pos: i})
			i += n

		case strings.IndexByte(symbols, c) != -1:
			toks = append(toks, token{kind: tokSymbol, sym: c, pos: i})
			i++

		default:
			return nil, parseErrf("unexpected byte 0x%02x at offset %d", c, i)
		}
	}
	return toks, nil
}

// scanString lexes a quoted string beginning at |src[0]| == |quote|,
// returning the unescaped text and bytes consumed. A backslash escapes
// only itself and either quote byte.
func scanString(src string, quote byte) (string, int, error) {
	var b strings.Builder
	var i = 1
	for i < len(src) {
		switch c := src[i]; c {
		case quote:
			return b.String(), i + 1, nil
		case '\\':
			if i+1 == len(src) {
				return "", 0, parseErrf("unterminated string literal")
			}
			switch e := src[i+1]; e {
			case '\\', '\'', '"':
				b.WriteByte(e)
				i += 2
			default:
				return "", 0, parseErrf("invalid string escape '\\%c'", e)
			}
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, parseErrf("unterminated string literal")
}

func parseErrf(format string, args ...interface{}) error {
	return protocol.NewQueryError(protocol.CodeParseError, format, args...)
}
