package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/rizalgowandy/skytable/codecs"
)

// kvState is a StateMachine fixture: a string map whose records carry
// key\x00value payloads.
const (
	opKVSet uint8 = 0x10
	opKVDel uint8 = 0x11
)

type kvState struct {
	mu sync.Mutex
	kv map[string]string
}

func newKVState() *kvState { return &kvState{kv: make(map[string]string)} }

func (s *kvState) Apply(op uint8, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var k, v, ok = bytes.Cut(payload, []byte{0x00})
	if !ok {
		return errors.New("malformed payload")
	}
	switch op {
	case opKVSet:
		s.kv[string(k)] = string(v)
	case opKVDel:
		delete(s.kv, string(k))
	default:
		return errors.Errorf("unknown opcode 0x%02x", op)
	}
	return nil
}

func (s *kvState) MarshalImage() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.kv)
}

func (s *kvState) UnmarshalImage(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv = make(map[string]string)
	return json.Unmarshal(b, &s.kv)
}

func (s *kvState) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kv)
}

func (s *kvState) snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out = make(map[string]string, len(s.kv))
	for k, v := range s.kv {
		out[k] = v
	}
	return out
}

func kvSet(k, v string) Record { return Record{Op: opKVSet, Payload: []byte(k + "\x00" + v)} }
func kvDel(k string) Record    { return Record{Op: opKVDel, Payload: []byte(k + "\x00")} }

func testOpts() Options { return Options{DisableAutoCompact: true} }

func openTestStore(t *testing.T, fs afero.Fs) (*Store, *kvState) {
	var state = newKVState()
	var st, err = Open(fs, "store", state, testOpts())
	require.NoError(t, err)
	return st, state
}

func mustCommit(t *testing.T, st *Store, recs ...Record) {
	require.NoError(t, st.Commit(recs).Wait())
}

// crashStore abandons the store without a clean close, as a crash would.
func crashStore(s *Store) {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.loopDone
}

func onlySegment(t *testing.T, fs afero.Fs) string {
	var segs, err = listSegments(fs, "store")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	return filepath.Join("store", segs[0].name)
}

// parseAll splits a segment into its records, requiring each to parse.
func parseAll(t *testing.T, b []byte) []parsedRecord {
	var out []parsedRecord
	var off int64
	for int(off) != len(b) {
		var rec, n, perr = parseRecord(b[off:], off)
		require.Equal(t, parseOK, perr)
		out = append(out, rec)
		off += int64(n)
	}
	return out
}

func TestStoreCommitRecoverRoundTrip(t *testing.T) {
	var fs = afero.NewMemMapFs()

	var st, state = openTestStore(t, fs)
	mustCommit(t, st, kvSet("alpha", "1"), kvSet("beta", "2"))
	mustCommit(t, st, kvDel("alpha"), kvSet("gamma", "3"))

	var expect = map[string]string{"beta": "2", "gamma": "3"}
	require.Equal(t, expect, state.snapshot())
	require.NoError(t, st.Close())

	// A clean reopen replays to an identical state and accepts writes.
	st, state = openTestStore(t, fs)
	require.Equal(t, expect, state.snapshot())
	mustCommit(t, st, kvSet("delta", "4"))
	require.NoError(t, st.Close())
}

func TestStoreReplayAfterCrash(t *testing.T) {
	var fs = afero.NewMemMapFs()

	var st, state = openTestStore(t, fs)
	mustCommit(t, st, kvSet("alpha", "1"))
	mustCommit(t, st, kvSet("beta", "2"))
	var expect = state.snapshot()
	crashStore(st)

	st, state = openTestStore(t, fs)
	require.Equal(t, expect, state.snapshot())
	mustCommit(t, st, kvSet("gamma", "3"))
	require.NoError(t, st.Close())
}

func TestStoreReopenCycles(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var expect = map[string]string{}

	for i := 0; i != 4; i++ {
		var st, state = openTestStore(t, fs)
		require.Equal(t, expect, state.snapshot())

		var k = fmt.Sprintf("key-%d", i)
		mustCommit(t, st, kvSet(k, "v"))
		expect[k] = "v"

		if i%2 == 0 {
			require.NoError(t, st.Close())
		} else {
			crashStore(st)
		}
	}
	var _, state = openTestStore(t, fs)
	require.Equal(t, expect, state.snapshot())
}

func TestStoreCrashBeforeCommitMarker(t *testing.T) {
	var fs = afero.NewMemMapFs()

	var st, _ = openTestStore(t, fs)
	mustCommit(t, st, kvSet("keep", "yes"))
	mustCommit(t, st, kvSet("drop", "no"))
	crashStore(st)

	// Cut the trailing commit marker, leaving its transaction's records
	// with no commit. Recovery must treat them as never-happened.
	var seg = onlySegment(t, fs)
	var b, err = afero.ReadFile(fs, seg)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, seg, b[:len(b)-recordHeaderLen], 0644))

	var st2, state = openTestStore(t, fs)
	require.Equal(t, map[string]string{"keep": "yes"}, state.snapshot())

	// The trimmed tail is gone for good; new writes chain cleanly.
	mustCommit(t, st2, kvSet("drop", "retried"))
	require.NoError(t, st2.Close())

	var _, state2 = openTestStore(t, fs)
	require.Equal(t, map[string]string{"keep": "yes", "drop": "retried"}, state2.snapshot())
}

func TestStoreTornFinalRecord(t *testing.T) {
	var fs = afero.NewMemMapFs()

	var st, _ = openTestStore(t, fs)
	mustCommit(t, st, kvSet("keep", "yes"))
	mustCommit(t, st, kvSet("drop", "no"))
	crashStore(st)

	// Shear the final record mid-payload.
	var seg = onlySegment(t, fs)
	var b, err = afero.ReadFile(fs, seg)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, seg, b[:len(b)-7], 0644))

	var st2, state = openTestStore(t, fs)
	require.Equal(t, map[string]string{"keep": "yes"}, state.snapshot())
	require.NoError(t, st2.Close())
}

// corruptThirdDelta builds a store of four committed records and flips
// a payload byte of the third, mid-journal.
func corruptThirdDelta(t *testing.T) afero.Fs {
	var fs = afero.NewMemMapFs()

	var st, _ = openTestStore(t, fs)
	mustCommit(t, st, kvSet("one", "1"))
	mustCommit(t, st, kvSet("two", "2"))
	mustCommit(t, st, kvSet("three", "3"))
	mustCommit(t, st, kvSet("four", "4"))
	crashStore(st)

	var seg = onlySegment(t, fs)
	var b, err = afero.ReadFile(fs, seg)
	require.NoError(t, err)

	var deltas int
	for _, rec := range parseAll(t, b) {
		if rec.op >= opStateMachineFloor {
			if deltas++; deltas == 3 {
				b[rec.offset+recordHeaderLen] ^= 0x01
				break
			}
		}
	}
	require.Equal(t, 3, deltas)
	require.NoError(t, afero.WriteFile(fs, seg, b, 0644))
	return fs
}

func TestStoreCorruptionRefusedAtOpen(t *testing.T) {
	var fs = corruptThirdDelta(t)

	var _, err = Open(fs, "store", newKVState(), testOpts())
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "checksum chain mismatch", ce.Reason)
	require.Equal(t, uint64(2), ce.GoodSeq)
}

func TestStoreDegradedOpenIsReadOnly(t *testing.T) {
	var fs = corruptThirdDelta(t)

	var state = newKVState()
	var st, err = Open(fs, "store", state, Options{
		DisableAutoCompact: true,
		DegradedOK:         true,
	})
	require.NoError(t, err)

	// State holds through the last good boundary, and nothing mutates.
	require.Equal(t, map[string]string{"one": "1", "two": "2"}, state.snapshot())
	require.True(t, st.ReadOnly())
	require.NotNil(t, st.Corruption())

	require.ErrorIs(t, st.Commit([]Record{kvSet("x", "y")}).Wait(), ErrReadOnly)
	require.ErrorIs(t, st.Compact(), ErrReadOnly)
	require.NoError(t, st.Close())
}

func TestStoreCompaction(t *testing.T) {
	var fs = afero.NewMemMapFs()

	var st, state = openTestStore(t, fs)
	for i := 0; i != 10; i++ {
		mustCommit(t, st, kvSet(fmt.Sprintf("key-%d", i), "v"))
	}
	mustCommit(t, st, kvDel("key-0"))

	var before = st.Stats()
	require.Equal(t, uint64(11), before.Seq)
	require.Equal(t, 11, before.Deltas)
	require.Equal(t, 9, before.Live)

	require.NoError(t, st.Compact())

	var after = st.Stats()
	require.Equal(t, before.Seq, after.Watermark)
	require.Equal(t, 0, after.Deltas)
	require.NotZero(t, after.ImageBytes)

	// The superseded segment is gone; its successor starts past the
	// watermark, and no scratch image lingers.
	var segs, err = listSegments(fs, "store")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, segmentName(after.Watermark+1), segs[0].name)

	exists, err := afero.Exists(fs, filepath.Join("store", imageNextName))
	require.NoError(t, err)
	require.False(t, exists)

	var expect = state.snapshot()
	require.NoError(t, st.Close())

	// The image alone restores state, and post-image deltas layer atop.
	var st2, state2 = openTestStore(t, fs)
	require.Equal(t, expect, state2.snapshot())
	mustCommit(t, st2, kvSet("post", "yes"))
	require.NoError(t, st2.Close())

	var _, state3 = openTestStore(t, fs)
	expect["post"] = "yes"
	require.Equal(t, expect, state3.snapshot())
}

func TestStoreCompactionIsIdempotent(t *testing.T) {
	var fs = afero.NewMemMapFs()

	var st, _ = openTestStore(t, fs)
	mustCommit(t, st, kvSet("alpha", "1"))
	mustCommit(t, st, kvSet("beta", "2"))

	require.NoError(t, st.Compact())
	var first = st.Stats()

	// A second compaction with no intervening writes is a no-op: same
	// watermark, same lone segment.
	require.NoError(t, st.Compact())
	var second = st.Stats()

	require.Equal(t, first.Watermark, second.Watermark)
	require.Equal(t, first.Seq, second.Seq)
	require.Equal(t, first.Segments, second.Segments)
	require.NoError(t, st.Close())
}

func TestStoreCompactionRacesCommits(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var st, state = openTestStore(t, fs)

	var done = make(chan error, 1)
	go func() {
		var err error
		for i := 0; i != 50 && err == nil; i++ {
			err = st.Commit([]Record{kvSet(fmt.Sprintf("c-%d", i), "v")}).Wait()
		}
		done <- err
	}()

	for i := 0; i != 5; i++ {
		require.NoError(t, st.Compact())
	}
	require.NoError(t, <-done)

	var expect = state.snapshot()
	require.Len(t, expect, 50)
	require.NoError(t, st.Close())

	var _, state2 = openTestStore(t, fs)
	require.Equal(t, expect, state2.snapshot())
}

func TestStoreRefusesJournalGap(t *testing.T) {
	var fs = afero.NewMemMapFs()

	var st, _ = openTestStore(t, fs)
	mustCommit(t, st, kvSet("alpha", "1"))
	require.NoError(t, st.Compact())
	require.NoError(t, st.Close())

	// Deleting the image orphans the remaining segment: its records
	// begin past a watermark no journal can reach.
	require.NoError(t, fs.Remove(filepath.Join("store", imageName)))

	var _, err = Open(fs, "store", newKVState(), testOpts())
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "journal gap after image watermark", ce.Reason)
}

// buildTwoSegments lays out a closed first segment and a live second,
// as a crash between compaction's rotation and image publish would.
func buildTwoSegments(t *testing.T, fs afero.Fs) {
	require.NoError(t, fs.MkdirAll("store", 0755))

	var w, err = createSegmentWriter(fs, "store", writerState{})
	require.NoError(t, err)
	w.appendMarker(OpBegin, nil)
	w.appendDelta(opKVSet, []byte("first\x00segment"))
	w.appendMarker(OpCommit, nil)
	require.NoError(t, w.sync())
	require.NoError(t, w.close())

	w2, err := createSegmentWriter(fs, "store", writerState{seq: w.cur.seq, sum: w.cur.sum})
	require.NoError(t, err)
	w2.appendMarker(OpBegin, nil)
	w2.appendDelta(opKVSet, []byte("second\x00segment"))
	w2.appendMarker(OpCommit, nil)
	require.NoError(t, w2.sync())
	require.NoError(t, w2.close())
}

func TestStoreMultiSegmentReplay(t *testing.T) {
	var fs = afero.NewMemMapFs()
	buildTwoSegments(t, fs)

	var st, state = openTestStore(t, fs)
	require.Equal(t, map[string]string{
		"first":  "segment",
		"second": "segment",
	}, state.snapshot())

	// Both segments survive the open: no image supersedes them.
	var segs, err = listSegments(fs, "store")
	require.NoError(t, err)
	require.Len(t, segs, 2)

	mustCommit(t, st, kvSet("third", "write"))
	require.NoError(t, st.Close())

	var _, state2 = openTestStore(t, fs)
	require.Equal(t, map[string]string{
		"first":  "segment",
		"second": "segment",
		"third":  "write",
	}, state2.snapshot())
}

func TestStoreUnclosedInteriorSegment(t *testing.T) {
	var fs = afero.NewMemMapFs()
	buildTwoSegments(t, fs)

	// Shear the first segment's close marker. An interior segment which
	// does not chain into its successor cannot be a benign tail.
	var segs, err = listSegments(fs, "store")
	require.NoError(t, err)
	require.Len(t, segs, 2)

	var path = filepath.Join("store", segs[0].name)
	b, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, b[:len(b)-recordHeaderLen], 0644))

	_, err = Open(fs, "store", newKVState(), testOpts())
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "segment tail is torn but later segments exist", ce.Reason)
}

func TestStoreReapsObsoleteSegments(t *testing.T) {
	var fs = afero.NewMemMapFs()
	buildTwoSegments(t, fs)

	// Publish an image at the first segment's final chain position, as
	// if compaction crashed after the image rename but before reaping.
	var segs, err = listSegments(fs, "store")
	require.NoError(t, err)

	b, err := afero.ReadFile(fs, filepath.Join("store", segs[0].name))
	require.NoError(t, err)
	var recs = parseAll(t, b)
	var last = recs[len(recs)-1]

	_, err = writeImage(fs, "store", codecs.None,
		writerState{seq: last.seq, sum: last.sum}, []byte(`{"first":"segment"}`))
	require.NoError(t, err)

	var st, state = openTestStore(t, fs)
	require.Equal(t, map[string]string{
		"first":  "segment",
		"second": "segment",
	}, state.snapshot())

	// The first segment was reaped at open; the second replayed.
	segs, err = listSegments(fs, "store")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.NoError(t, st.Close())
}

func TestStoreBootCompaction(t *testing.T) {
	var fs = afero.NewMemMapFs()

	var st, _ = openTestStore(t, fs)
	var recs []Record
	for i := 0; i != 600; i++ {
		recs = append(recs, kvSet("churn", fmt.Sprintf("%d", i)))
	}
	mustCommit(t, st, recs...)
	require.True(t, st.Stats().Recommendation())
	crashStore(st)

	// An open without DisableAutoCompact folds the redundant journal.
	var state = newKVState()
	st2, err := Open(fs, "store", state, Options{})
	require.NoError(t, err)

	var stats = st2.Stats()
	require.Equal(t, uint64(600), stats.Watermark)
	require.Equal(t, 0, stats.Deltas)
	require.Equal(t, 1, stats.Segments)
	require.Equal(t, map[string]string{"churn": "599"}, state.snapshot())
	require.NoError(t, st2.Close())
}

func TestStoreCommitValidationAndClose(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var st, _ = openTestStore(t, fs)

	// Reserved opcodes are refused before they reach the queue.
	var err = st.Commit([]Record{{Op: OpCommit}}).Wait()
	require.EqualError(t, err, "record opcode 0x03 is reserved")

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	require.ErrorIs(t, st.Commit([]Record{kvSet("x", "y")}).Wait(), ErrStoreClosed)
	require.ErrorIs(t, st.Compact(), ErrStoreClosed)
}

func TestStoreStatsRecommendation(t *testing.T) {
	// Below the delta floor, never.
	require.False(t, Stats{Deltas: 100, Live: 1}.Recommendation())
	// Past the floor, requires redundancy.
	require.True(t, Stats{Deltas: 1000, Live: 10}.Recommendation())
	require.True(t, Stats{Deltas: 1000, Live: 500}.Recommendation())
	require.False(t, Stats{Deltas: 1000, Live: 501}.Recommendation())
	// A fully-deleted state is pure redundancy.
	require.True(t, Stats{Deltas: 512, Live: 0}.Recommendation())
	// Degraded stores cannot compact.
	require.False(t, Stats{Deltas: 1000, Live: 10, ReadOnly: true}.Recommendation())
}

func TestStoreGroupCommitCoalesces(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var st, state = openTestStore(t, fs)

	// Concurrent commits share sync barriers; every promise resolves.
	var errCh = make(chan error, 32)
	for i := 0; i != 32; i++ {
		go func(i int) {
			errCh <- st.Commit([]Record{kvSet(fmt.Sprintf("g-%d", i), "v")}).Wait()
		}(i)
	}
	for i := 0; i != 32; i++ {
		require.NoError(t, <-errCh)
	}

	require.Len(t, state.snapshot(), 32)
	require.NoError(t, st.Close())

	var _, state2 = openTestStore(t, fs)
	require.Equal(t, state.snapshot(), state2.snapshot())
}
