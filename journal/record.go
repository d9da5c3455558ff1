package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc64"
)

// Control opcodes of the journal itself. Opcodes 0x10 and above are
// opaque to this package: they belong to the layered StateMachine.
const (
	// OpOpen marks a segment (re)open. Its payload records the final
	// sequence number and running checksum of the preceding segment, or
	// zeroes for the first segment of a store.
	OpOpen uint8 = 0x00
	// OpClose marks a clean segment close. Playback reaching a close
	// marker at end-of-file knows the journal was shut down cleanly.
	OpClose uint8 = 0x01
	// OpBegin opens a transaction.
	OpBegin uint8 = 0x02
	// OpCommit commits a transaction. It is always the last record of a
	// sync barrier.
	OpCommit uint8 = 0x03

	// opStateMachineFloor is the first opcode owned by the StateMachine.
	opStateMachineFloor uint8 = 0x10
)

// magicWord begins every journal record, allowing playback to detect
// writes which landed at an impossible offset (desync).
var magicWord = [4]byte{0x73, 0x6b, 0x79, 0x6a}

// recordHeaderLen is the fixed framing overhead of each record:
// magic (4), opcode (1), sequence (8), payload length (4), checksum (8).
const recordHeaderLen = 25

// maxPayloadLen bounds a single record payload.
const maxPayloadLen = 1 << 28 // 256 MiB

// crcTable is the ECMA polynomial table used by all record checksums.
var crcTable = crc64.MakeTable(crc64.ECMA)

// Record is one journaled opcode and payload.
type Record struct {
	Op      uint8
	Payload []byte
}

// sumRecord extends the running checksum chain |prev| over a record.
// The chain makes each record's checksum a commitment to the entire
// journal prefix, so spliced, reordered, or bit-flipped records fail
// validation even when individually well-formed.
func sumRecord(prev uint64, op uint8, seq uint64, payload []byte) uint64 {
	var head [13]byte
	head[0] = op
	binary.BigEndian.PutUint64(head[1:9], seq)
	binary.BigEndian.PutUint32(head[9:13], uint32(len(payload)))

	var sum = crc64.Update(prev, crcTable, head[:])
	return crc64.Update(sum, crcTable, payload)
}

// appendRecord frames a record, appending to and returning |b|.
func appendRecord(b []byte, op uint8, seq, sum uint64, payload []byte) []byte {
	b = append(b, magicWord[:]...)
	b = append(b, op)
	b = binary.BigEndian.AppendUint64(b, seq)
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)))
	b = binary.BigEndian.AppendUint64(b, sum)
	return append(b, payload...)
}

// parsedRecord is a record parsed from a segment, with its framing
// context.
type parsedRecord struct {
	op      uint8
	seq     uint64
	sum     uint64
	payload []byte
	// offset of the record's first byte within its segment.
	offset int64
}

// errParse describes why a record failed structural parsing.
type errParse uint8

const (
	parseOK errParse = iota
	parseShort
	parseBadMagic
	parseBadLength
)

// parseRecord parses one record from the head of |b|. It performs purely
// structural validation; checksum chain and sequence contiguity are the
// reader's concern.
func parseRecord(b []byte, offset int64) (parsedRecord, int, errParse) {
	if len(b) < recordHeaderLen {
		return parsedRecord{}, 0, parseShort
	}
	if [4]byte(b[0:4]) != magicWord {
		return parsedRecord{}, 0, parseBadMagic
	}
	var length = binary.BigEndian.Uint32(b[13:17])
	if length > maxPayloadLen {
		return parsedRecord{}, 0, parseBadLength
	}
	if len(b) < recordHeaderLen+int(length) {
		return parsedRecord{}, 0, parseShort
	}
	var r = parsedRecord{
		op:      b[4],
		seq:     binary.BigEndian.Uint64(b[5:13]),
		sum:     binary.BigEndian.Uint64(b[17:25]),
		payload: b[recordHeaderLen : recordHeaderLen+int(length)],
		offset:  offset,
	}
	return r, recordHeaderLen + int(length), parseOK
}

// scanMagic returns the index of the next magicWord occurrence in |b|
// after index zero, or -1. Playback uses it to distinguish a torn tail
// (no further record boundary) from mid-journal corruption.
func scanMagic(b []byte) int {
	for i := 1; i+4 <= len(b); i++ {
		if [4]byte(b[i:i+4]) == magicWord {
			return i
		}
	}
	return -1
}

// CorruptionError reports mid-journal corruption: a structurally or
// cryptographically invalid record which is followed by further record
// boundaries, and so cannot be explained as a torn tail.
type CorruptionError struct {
	Segment string
	Offset  int64  // Offset of the first bad byte.
	GoodSeq uint64 // Last sequence number validated by the chain.
	Reason  string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal corruption in %s at offset %d (last good sequence %d): %s",
		e.Segment, e.Offset, e.GoodSeq, e.Reason)
}
