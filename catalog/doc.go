// Package catalog implements the in-memory data catalog: Spaces
// grouping Models, Models holding schematized Rows indexed by primary
// key, and the Users table. The catalog is a registry addressed by
// name — sessions resolve names on every operation and never retain
// entry pointers across operations.
//
// All mutations flow through journaled events. A Plan* method
// validates an operation against live state and returns the encoded
// journal record; once the record is durably committed, Apply folds it
// into state. The Catalog and each Model implement journal.StateMachine
// so that recovery replay and base-image snapshots use the same event
// and row codecs as the commit path.
package catalog
