package journal

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// playback is the result of scanning one segment.
type playback struct {
	// Validated chain position at the last committed boundary.
	state writerState
	// clean is set when the segment ends with a close marker.
	clean bool
	// truncated counts tail bytes beyond the last committed boundary:
	// an interrupted transaction, a torn record, or both.
	truncated int64
	// corruption is non-nil when the segment holds an invalid record
	// which cannot be explained as a torn tail.
	corruption *CorruptionError
	// applied counts state-machine records delivered to apply.
	applied int
}

// playSegment scans a segment, validating framing, the checksum chain,
// and delta sequence contiguity, and delivers records of committed
// transactions with sequence beyond |watermark| to |apply| (which may be
// nil to scan without applying). The chain is seeded with |state|.
//
// Faults at the segment tail — a torn record, or complete records of a
// transaction whose commit marker never made it — are benign crash
// outcomes: playback reports the bytes to trim. A fault followed by
// further record boundaries is corruption, and playback stops there.
func playSegment(fs afero.Fs, dir string, seg segmentInfo, state writerState, watermark uint64, apply func(op uint8, payload []byte) error) (playback, error) {
	var buf, err = afero.ReadFile(fs, filepath.Join(dir, seg.name))
	if err != nil {
		return playback{}, errors.Wrapf(err, "reading segment %s", seg.name)
	}

	var (
		res = playback{state: state}

		chain     = state        // Chain position including uncommitted records.
		boundary  = writerState{ // Last committed boundary.
			seq: state.seq, sum: state.sum}
		offset   int64
		inTxn    bool
		closed   bool
		pending  []parsedRecord
		sawFirst bool
	)

	var corrupt = func(at int64, reason string) (playback, error) {
		res.corruption = &CorruptionError{
			Segment: seg.name,
			Offset:  at,
			GoodSeq: chain.seq,
			Reason:  reason,
		}
		res.state = boundary
		return res, nil
	}
	var torn = func() (playback, error) {
		res.state = boundary
		res.truncated = int64(len(buf)) - boundary.offset
		return res, nil
	}

	for int(offset) != len(buf) {
		var rec, n, parseErr = parseRecord(buf[offset:], offset)

		if parseErr != parseShort {
			// Structurally parsed (or structurally hopeless); validate the chain.
			var reason string
			switch {
			case parseErr == parseBadMagic:
				reason = "bad magic word"
			case parseErr == parseBadLength:
				reason = "payload length out of bounds"
			case rec.sum != sumRecord(chain.sum, rec.op, rec.seq, rec.payload):
				reason = "checksum chain mismatch"
			case rec.op < opStateMachineFloor && rec.op > OpCommit:
				reason = "unknown control opcode"
			case rec.op >= opStateMachineFloor && rec.seq != chain.seq+1:
				reason = "delta sequence discontinuity"
			case rec.op < opStateMachineFloor && rec.seq != chain.seq:
				reason = "marker sequence mismatch"
			}
			if reason != "" {
				// A later record boundary means this fault is not a torn
				// tail: refuse to guess, and surface corruption.
				if scanMagic(buf[offset:]) != -1 {
					return corrupt(offset, reason)
				}
				return torn()
			}

			// The record is valid. Interpret it.
			switch rec.op {
			case OpOpen:
				var pSeq, pSum, pErr = parseOpenPayload(rec.payload)
				if pErr != nil || pSeq != chain.seq || pSum != chain.sum {
					return corrupt(offset, "open marker lineage mismatch")
				} else if inTxn {
					return corrupt(offset, "open marker inside transaction")
				}
				closed = false
			case OpClose:
				if inTxn {
					return corrupt(offset, "close marker inside transaction")
				}
				closed = true
			case OpBegin:
				if inTxn {
					return corrupt(offset, "nested transaction begin")
				}
				inTxn, pending = true, pending[:0]
			case OpCommit:
				if !inTxn {
					return corrupt(offset, "commit marker without begin")
				}
				for _, p := range pending {
					if p.seq <= watermark {
						continue
					}
					if apply != nil {
						if aErr := apply(p.op, p.payload); aErr != nil {
							return corrupt(p.offset, aErr.Error())
						}
					}
					res.applied++
				}
				inTxn = false
			default:
				if !inTxn {
					return corrupt(offset, "record outside transaction")
				}
				pending = append(pending, rec)
			}
			if !sawFirst && rec.op != OpOpen {
				return corrupt(offset, "segment does not begin with open marker")
			}
			if closed && rec.op != OpClose && rec.op != OpOpen {
				return corrupt(offset, "record after close marker")
			}
			sawFirst = true

			chain.seq, chain.sum = rec.seq, rec.sum
			offset += int64(n)
			chain.offset = offset
			if !inTxn {
				boundary = chain
			}
			continue
		}

		// Short parse: a torn final record unless bytes follow a boundary.
		if scanMagic(buf[offset:]) != -1 {
			return corrupt(offset, "short record before further records")
		}
		return torn()
	}

	if inTxn {
		return torn()
	}
	res.state = boundary
	res.clean = closed
	return res, nil
}
