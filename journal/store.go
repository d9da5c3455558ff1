package journal

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/rizalgowandy/skytable/async"
	"github.com/rizalgowandy/skytable/codecs"
	"github.com/rizalgowandy/skytable/metrics"
)

// StateMachine is the in-memory state materialized by a Store. The
// Store drives it from a single goroutine: during recovery replay, and
// at runtime after each commit unit becomes durable. Implementations
// guard their own reader access.
type StateMachine interface {
	// Apply folds a committed record into state. Records were validated
	// before staging, so an Apply error means state and journal have
	// diverged and the Store cannot continue.
	Apply(op uint8, payload []byte) error
	// MarshalImage snapshots state as a base image payload.
	MarshalImage() ([]byte, error)
	// UnmarshalImage restores state from a base image payload.
	UnmarshalImage(b []byte) error
	// LiveCount is the number of records a fresh image would replay to
	// express current state. Compaction heuristics compare it against
	// the journal's accrued deltas.
	LiveCount() int
}

// Options configure a Store.
type Options struct {
	// Codec compresses base image payloads.
	Codec codecs.Codec
	// DegradedOK opens the store read-only at the last good boundary
	// when playback finds corruption, instead of failing.
	DegradedOK bool
	// DisableAutoCompact suppresses the boot-time compaction which
	// otherwise runs when heuristics recommend it.
	DisableAutoCompact bool
	// QueueDepth bounds the commit submission queue.
	QueueDepth int
}

const defaultQueueDepth = 128

var (
	// ErrStoreClosed is resolved to commits submitted after Close.
	ErrStoreClosed = errors.New("store is closed")
	// ErrReadOnly is returned by mutations of a store opened degraded.
	ErrReadOnly = errors.New("store is read-only")
)

// Store pairs a base image with journal segments under one directory,
// and drives a StateMachine from them. Commits submit transaction
// units to a group-commit queue: a single loop appends queued units in
// order, issues one durability barrier for the batch, applies each
// unit to the StateMachine, and resolves its promise.
type Store struct {
	fs   afero.Fs
	dir  string
	sm   StateMachine
	opts Options

	mu        sync.Mutex
	w         *segmentWriter
	broken    error
	closed    bool
	readOnly  bool
	corrupt   *CorruptionError
	recovered writerState
	image     imageInfo
	haveImage bool
	watermark uint64
	deltas    int

	commitCh chan *commitUnit
	stopCh   chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once

	sf singleflight.Group
}

type commitUnit struct {
	recs []Record
	done *async.Promise
}

// Open recovers the store at |dir|: it loads the base image if present,
// retires segments the image fully covers, replays the rest through
// |sm|, trims a torn tail, and begins accepting commits.
func Open(fs afero.Fs, dir string, sm StateMachine, opts Options) (*Store, error) {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}
	if err := opts.Codec.Validate(); err != nil {
		return nil, err
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating store directory %s", dir)
	}
	// Reap a scratch image left by an interrupted compaction.
	_ = fs.Remove(filepath.Join(dir, imageNextName))

	var s = &Store{
		fs:       fs,
		dir:      dir,
		sm:       sm,
		opts:     opts,
		commitCh: make(chan *commitUnit, opts.QueueDepth),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	var payload, info, haveImage, err = readImage(fs, dir)
	if err != nil {
		return nil, err
	}
	var state writerState
	if haveImage {
		if err = sm.UnmarshalImage(payload); err != nil {
			return nil, errors.Wrap(err, "restoring base image")
		}
		state = writerState{seq: info.watermark, sum: info.sum}
		s.image, s.haveImage, s.watermark = info, true, info.watermark
	}

	segments, err := listSegments(fs, dir)
	if err != nil {
		return nil, err
	}
	if segments, err = dropObsoleteSegments(fs, dir, segments, s.watermark); err != nil {
		return nil, err
	}
	if len(segments) != 0 && segments[0].firstSeq > s.watermark+1 {
		return nil, &CorruptionError{
			Segment: segments[0].name,
			GoodSeq: s.watermark,
			Reason:  "journal gap after image watermark",
		}
	}

	var tail playback
	for i, seg := range segments {
		var play playback
		play, err = playSegment(fs, dir, seg,
			writerState{seq: state.seq, sum: state.sum}, s.watermark, sm.Apply)
		if err != nil {
			return nil, err
		}

		var fault = play.corruption
		if fault == nil && i != len(segments)-1 && (play.truncated != 0 || !play.clean) {
			// Compaction closes a segment before opening its successor,
			// so an unclosed tail here cannot chain into what follows.
			fault = &CorruptionError{
				Segment: seg.name,
				Offset:  play.state.offset,
				GoodSeq: play.state.seq,
				Reason:  "segment tail is torn but later segments exist",
			}
		}
		state, s.deltas, tail = play.state, s.deltas+play.applied, play
		metrics.RecoveredRecordsTotal.Add(float64(play.applied))

		if fault != nil {
			if !opts.DegradedOK {
				return nil, fault
			}
			log.WithFields(log.Fields{
				"dir": dir, "segment": fault.Segment, "seq": fault.GoodSeq,
			}).Warn("journal corrupted; store is read-only at last good boundary")
			s.readOnly, s.corrupt = true, fault
			break
		}
	}
	s.recovered = state

	switch {
	case s.readOnly:
		close(s.loopDone)
	case len(segments) == 0:
		if s.w, err = createSegmentWriter(fs, dir, state); err != nil {
			return nil, err
		}
	default:
		if tail.truncated > 0 {
			metrics.TruncatedBytesTotal.Add(float64(tail.truncated))
			log.WithFields(log.Fields{
				"dir": dir, "bytes": tail.truncated, "seq": state.seq,
			}).Warn("trimmed journal records beyond last committed boundary")
		}
		var last = segments[len(segments)-1]
		if s.w, err = openSegmentWriter(fs, dir, last.name, state); err != nil {
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"dir":       dir,
		"seq":       state.seq,
		"watermark": s.watermark,
		"deltas":    s.deltas,
		"segments":  len(segments),
		"readOnly":  s.readOnly,
	}).Info("recovered journal store")

	if !s.readOnly {
		go s.commitLoop()

		if !opts.DisableAutoCompact && s.Stats().Recommendation() {
			if err = s.Compact(); err != nil {
				log.WithFields(log.Fields{"dir": dir, "err": err}).
					Warn("boot compaction failed")
			}
		}
	}
	return s, nil
}

// Dir is the store's directory.
func (s *Store) Dir() string { return s.dir }

// ReadOnly reports whether the store was opened degraded.
func (s *Store) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}

// Corruption is the fault which forced a degraded open, or nil.
func (s *Store) Corruption() *CorruptionError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corrupt
}

// Commit submits |recs| as one transaction unit, framed by begin and
// commit markers and made durable by a single barrier shared with other
// queued units. The promise resolves after the unit is durable and
// applied to the StateMachine. |recs| must not be modified until then.
func (s *Store) Commit(recs []Record) *async.Promise {
	var p = async.NewPromise()

	for _, r := range recs {
		if r.Op < opStateMachineFloor {
			p.Resolve(errors.Errorf("record opcode 0x%02x is reserved", r.Op))
			return p
		} else if len(r.Payload) > maxPayloadLen {
			p.Resolve(errors.Errorf("record payload of %d bytes exceeds limit", len(r.Payload)))
			return p
		}
	}
	if s.ReadOnly() {
		p.Resolve(ErrReadOnly)
		return p
	}

	select {
	case <-s.stopCh:
		p.Resolve(ErrStoreClosed)
		return p
	default:
	}

	select {
	case s.commitCh <- &commitUnit{recs: recs, done: p}:
		// The loop may have exited between the check and the send. If
		// so, drain on its behalf; the stranded unit resolves exactly
		// once, by whichever drain receives it.
		select {
		case <-s.stopCh:
			s.drainCommits()
		default:
		}
	case <-s.stopCh:
		p.Resolve(ErrStoreClosed)
	}
	return p
}

func (s *Store) commitLoop() {
	defer close(s.loopDone)

	for {
		var first *commitUnit
		select {
		case first = <-s.commitCh:
		case <-s.stopCh:
			s.drainCommits()
			return
		}

		var batch = []*commitUnit{first}
		for more := true; more; {
			select {
			case u := <-s.commitCh:
				batch = append(batch, u)
			default:
				more = false
			}
		}
		s.commitBatch(batch)
	}
}

func (s *Store) drainCommits() {
	for {
		select {
		case u := <-s.commitCh:
			u.done.Resolve(ErrStoreClosed)
		default:
			return
		}
	}
}

func (s *Store) commitBatch(batch []*commitUnit) {
	var began = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken != nil {
		s.resolveAll(batch, s.broken)
		return
	} else if s.closed {
		s.resolveAll(batch, ErrStoreClosed)
		return
	}

	for _, u := range batch {
		s.w.appendMarker(OpBegin, nil)
		for _, r := range u.recs {
			s.w.appendDelta(r.Op, r.Payload)
		}
		s.w.appendMarker(OpCommit, nil)
	}
	if err := s.w.sync(); err != nil {
		// The writer rolled its buffer back: no unit of this batch was
		// published, and later batches may retry.
		if s.w.broken != nil {
			s.broken = s.w.broken
		}
		metrics.CommitsTotal.WithLabelValues(metrics.Fail).Add(float64(len(batch)))
		s.resolveAll(batch, err)
		return
	}
	metrics.CommitSyncsTotal.Inc()
	metrics.CommitStallSecondsTotal.Add(time.Since(began).Seconds())

	for i, u := range batch {
		for _, r := range u.recs {
			if err := s.sm.Apply(r.Op, r.Payload); err != nil {
				s.broken = errors.Wrap(err, "applying committed record")
				metrics.CommitsTotal.WithLabelValues(metrics.Fail).
					Add(float64(len(batch) - i))
				s.resolveAll(batch[i:], s.broken)
				return
			}
		}
		s.deltas += len(u.recs)
		u.done.Resolve(nil)
		metrics.CommitsTotal.WithLabelValues(metrics.Ok).Inc()
	}
}

func (s *Store) resolveAll(batch []*commitUnit, err error) {
	for _, u := range batch {
		u.done.Resolve(err)
	}
}

// Compact folds the journal into a fresh base image. It briefly pauses
// commits to snapshot state and rotate to a new segment aligned with
// the snapshot's watermark, then — off the write path — publishes the
// image and retires the segments it covers. Concurrent calls coalesce;
// a call with no deltas since the current image is a no-op.
func (s *Store) Compact() error {
	var _, err, _ = s.sf.Do("compact", func() (interface{}, error) {
		return nil, s.compact()
	})
	return err
}

func (s *Store) compact() error {
	var began = time.Now()

	s.mu.Lock()
	if s.broken != nil {
		s.mu.Unlock()
		return s.broken
	} else if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	} else if s.readOnly {
		s.mu.Unlock()
		return ErrReadOnly
	}

	var watermark = s.w.cur.seq
	if watermark == s.watermark {
		s.mu.Unlock()
		metrics.CompactionsTotal.WithLabelValues(metrics.Skipped).Inc()
		return nil
	}

	var payload, err = s.sm.MarshalImage()
	if err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "marshaling image")
	}

	// Rotate so the watermark lands on a segment boundary. Close the
	// live segment, then open its successor with matching lineage.
	if err = s.w.close(); err != nil {
		s.broken = err
		s.mu.Unlock()
		metrics.CompactionsTotal.WithLabelValues(metrics.Fail).Inc()
		return err
	}
	var chain = writerState{seq: watermark, sum: s.w.cur.sum}

	var w *segmentWriter
	if w, err = createSegmentWriter(s.fs, s.dir, chain); err != nil {
		s.broken = err
		s.mu.Unlock()
		metrics.CompactionsTotal.WithLabelValues(metrics.Fail).Inc()
		return err
	}
	s.w = w
	s.deltas = 0
	s.mu.Unlock()

	// Commits have resumed. Publish the image, then retire segments
	// its watermark covers. A crash or failure here is recoverable:
	// the journal chain remains complete under either image.
	var info imageInfo
	if info, err = writeImage(s.fs, s.dir, s.opts.Codec, chain, payload); err != nil {
		metrics.CompactionsTotal.WithLabelValues(metrics.Fail).Inc()
		return err
	}
	segments, err := listSegments(s.fs, s.dir)
	if err == nil {
		_, err = dropObsoleteSegments(s.fs, s.dir, segments, watermark)
	}
	if err != nil {
		metrics.CompactionsTotal.WithLabelValues(metrics.Fail).Inc()
		return err
	}

	s.mu.Lock()
	s.image, s.haveImage, s.watermark = info, true, watermark
	s.mu.Unlock()

	metrics.CompactionsTotal.WithLabelValues(metrics.Ok).Inc()
	metrics.CompactionSecondsTotal.Add(time.Since(began).Seconds())

	log.WithFields(log.Fields{
		"dir":       s.dir,
		"watermark": watermark,
		"bytes":     info.bytes,
	}).Info("compacted journal store")
	return nil
}

// Close stops the commit queue, resolves in-flight submissions, and
// closes the live segment with a clean-shutdown marker.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.loopDone

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.readOnly || s.w == nil {
		return nil
	} else if s.broken != nil {
		_ = s.w.file.Close()
		return s.broken
	}
	return s.w.close()
}

// Stats reports the store's recovery and compaction posture.
type Stats struct {
	// Watermark is the delta sequence materialized by the base image.
	Watermark uint64
	// Seq is the last committed delta sequence.
	Seq uint64
	// Deltas counts journal records beyond the watermark.
	Deltas int
	// Live is the StateMachine's record count.
	Live int
	// Segments and SegmentBytes size the on-disk journal.
	Segments     int
	SegmentBytes int64
	// ImageBytes sizes the compressed base image, zero if none.
	ImageBytes int64
	// ReadOnly is set for a degraded open.
	ReadOnly bool
}

const (
	compactMinDeltas        = 512
	compactRedundancyFactor = 2
)

// Recommendation reports whether compaction is worthwhile: enough
// deltas have accrued, and folding them into an image would shrink
// recovery below the journal's redundancy.
func (s Stats) Recommendation() bool {
	if s.ReadOnly || s.Deltas < compactMinDeltas {
		return false
	}
	return s.Deltas >= compactRedundancyFactor*s.Live
}

// Stats snapshots current store statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st = Stats{
		Watermark: s.watermark,
		Seq:       s.recovered.seq,
		Deltas:    s.deltas,
		Live:      s.sm.LiveCount(),
		ReadOnly:  s.readOnly,
	}
	if s.w != nil {
		st.Seq = s.w.cur.seq
	}
	if s.haveImage {
		st.ImageBytes = s.image.bytes
	}
	if segments, err := listSegments(s.fs, s.dir); err == nil {
		st.Segments = len(segments)
		for _, seg := range segments {
			if fi, err := s.fs.Stat(filepath.Join(s.dir, seg.name)); err == nil {
				st.SegmentBytes += fi.Size()
			}
		}
	}
	return st
}
