// Package txn coordinates transactional writes over the engine's
// stores.
//
// The Coordinator recovers and owns one journal-backed store for the
// catalog and one per live model. A transaction begins with a Scope
// declaring its conflict domain: schema changes take an exclusive
// per-space intent lock (a held lock fails fast with ErrConflict,
// nothing queues), while row writes serialize behind a per-model
// write mutex. Records planned under those locks stage into the Txn
// and commit as one unit: the store's group-commit loop makes the
// unit durable with a single barrier shared with concurrently
// committing units, applies it to in-memory state, and only then
// resolves the commit. Readers never lock the coordinator; they see
// only applied, durable state.
package txn
