package journal

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/rizalgowandy/skytable/metrics"
)

// writerState is a consistent chain position: the last delta sequence,
// the running checksum, and the segment offset at which they held.
type writerState struct {
	seq    uint64
	sum    uint64
	offset int64
}

// segmentWriter appends framed records to one segment file. Appends
// buffer in memory and become durable only at a sync barrier; an append
// or sync failure rolls the buffer back to the last synced state, so a
// failed batch never corrupts — or partially publishes — prior records.
type segmentWriter struct {
	fs   afero.Fs
	file afero.File
	path string

	pending  []byte
	pendingN int
	cur      writerState
	synced   writerState
	// broken is set when the file tail could not be restored after a
	// failed write; further appends are refused.
	broken error
}

// createSegmentWriter creates the segment whose first delta sequence
// will be |state.seq|+1, framing and syncing its open marker.
func createSegmentWriter(fs afero.Fs, dir string, state writerState) (*segmentWriter, error) {
	var path = filepath.Join(dir, segmentName(state.seq+1))

	var file, err = fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "creating segment %s", path)
	}
	var w = &segmentWriter{
		fs:     fs,
		file:   file,
		path:   path,
		cur:    writerState{seq: state.seq, sum: state.sum},
		synced: writerState{seq: state.seq, sum: state.sum},
	}
	w.appendMarker(OpOpen, appendOpenPayload(nil, state.seq, state.sum))
	if err = w.sync(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return w, nil
}

// openSegmentWriter opens an existing segment for append at |state|,
// which playback established, framing and syncing a reopen marker. Any
// bytes beyond |state.offset| — a torn tail, or records of an
// uncommitted transaction — are discarded first.
func openSegmentWriter(fs afero.Fs, dir, name string, state writerState) (*segmentWriter, error) {
	var path = filepath.Join(dir, name)

	var file, err = fs.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening segment %s", path)
	}
	if err = file.Truncate(state.offset); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "trimming segment %s", path)
	}
	if _, err = file.Seek(state.offset, 0); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "seeking segment %s", path)
	}
	var w = &segmentWriter{fs: fs, file: file, path: path, cur: state, synced: state}

	w.appendMarker(OpOpen, appendOpenPayload(nil, state.seq, state.sum))
	if err = w.sync(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return w, nil
}

// appendOpenPayload encodes an open marker payload: the chain position
// which the marker reasserts.
func appendOpenPayload(b []byte, seq, sum uint64) []byte {
	b = binary.BigEndian.AppendUint64(b, seq)
	return binary.BigEndian.AppendUint64(b, sum)
}

func parseOpenPayload(b []byte) (seq, sum uint64, err error) {
	if len(b) != 16 {
		return 0, 0, errors.Errorf("open marker payload of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint64(b[8:16]), nil
}

// appendMarker buffers a control record. Markers reassert the current
// delta sequence rather than consuming one.
func (w *segmentWriter) appendMarker(op uint8, payload []byte) {
	w.cur.sum = sumRecord(w.cur.sum, op, w.cur.seq, payload)
	w.pending = appendRecord(w.pending, op, w.cur.seq, w.cur.sum, payload)
	w.pendingN++
	w.cur.offset = w.synced.offset + int64(len(w.pending))
}

// appendDelta buffers a state-machine record, assigning and returning
// the next delta sequence.
func (w *segmentWriter) appendDelta(op uint8, payload []byte) uint64 {
	w.cur.seq++
	w.cur.sum = sumRecord(w.cur.sum, op, w.cur.seq, payload)
	w.pending = appendRecord(w.pending, op, w.cur.seq, w.cur.sum, payload)
	w.pendingN++
	w.cur.offset = w.synced.offset + int64(len(w.pending))
	return w.cur.seq
}

// sync writes buffered records and issues a durability barrier. On
// failure the buffer and chain roll back to the synced state and the
// file tail is restored, surfacing the error to the in-flight batch
// only.
func (w *segmentWriter) sync() error {
	if w.broken != nil {
		return w.broken
	}
	if len(w.pending) == 0 {
		return nil
	}

	var n = len(w.pending)
	var _, err = w.file.Write(w.pending)
	if err == nil {
		err = w.file.Sync()
	}
	if err != nil {
		w.rollback()
		return errors.Wrapf(err, "syncing segment %s", w.path)
	}

	w.pending = w.pending[:0]
	w.synced = w.cur
	metrics.JournalRecordsTotal.Add(float64(w.pendingN))
	metrics.JournalBytesTotal.Add(float64(n))
	w.pendingN = 0
	return nil
}

// rollback discards buffered records and restores the file tail to the
// synced offset. If the tail cannot be restored, the writer is broken.
func (w *segmentWriter) rollback() {
	w.pending = w.pending[:0]
	w.pendingN = 0
	w.cur = w.synced

	if err := w.file.Truncate(w.synced.offset); err != nil {
		w.broken = errors.Wrapf(err, "restoring segment %s tail", w.path)
		return
	}
	if _, err := w.file.Seek(w.synced.offset, 0); err != nil {
		w.broken = errors.Wrapf(err, "restoring segment %s position", w.path)
	}
}

// close appends a clean-shutdown marker, syncs, and closes the file.
func (w *segmentWriter) close() error {
	w.appendMarker(OpClose, nil)
	var err = w.sync()
	if cErr := w.file.Close(); err == nil {
		err = cErr
	}
	return err
}
