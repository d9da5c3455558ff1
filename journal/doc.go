// Package journal implements the durable delta journal underpinning the
// storage engine: an append-only sequence of checksummed, sequence-
// numbered records organized into segments, paired with a compacted base
// image which bounds replay time.
//
// A Store owns one directory holding the base image and its journal
// segments, and layers recovery, group commit, compaction, and repair
// over a caller-provided StateMachine which gives the records their
// meaning. Records are framed with a leading magic word and a CRC64
// checksum chained from the previous record, so that both torn tails and
// mid-journal corruption or splices are detected — and distinguished —
// during playback.
//
// Within a segment, records of the layered state machine always travel
// inside a transaction: a begin marker, the records, and a commit marker
// which is always followed by a sync barrier. A transaction lacking its
// commit marker at playback is void, and the tail is trimmed. Journal
// open and close markers travel outside transactions and record the
// lineage of a segment across process restarts.
package journal
