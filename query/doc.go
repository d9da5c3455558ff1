// Package query parses and executes the textual query surface of the
// database: schema statements (CREATE / ALTER / DROP of spaces and
// models), row statements (INSERT, SELECT, UPDATE, DELETE, TRUNCATE),
// session statements (USE), introspection (INSPECT), and system
// administration (SYSCTL).
//
// Parse lexes a statement with a small recursive-descent parser and
// returns an immutable Statement. Executor caches parsed Statements by
// query text in an LRU with TTL semantics, binds `?` parameters, and
// maps each statement onto catalog planners and engine transactions.
// Every failure is surfaced as a protocol.QueryError with a stable
// numeric code, suitable for returning to clients on the wire.
package query
