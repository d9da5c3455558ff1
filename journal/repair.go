package journal

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/rizalgowandy/skytable/metrics"
)

// Actions taken (or recommended) per segment by Scan and Repair.
const (
	ActionKeep = "keep"
	ActionTrim = "trim"
	ActionDrop = "drop"
)

// SegmentReport describes one scanned segment.
type SegmentReport struct {
	Name     string
	FirstSeq uint64
	Bytes    int64
	// Deltas counts committed records beyond the image watermark.
	Deltas int
	// GoodSeq and BoundaryOffset locate the last committed boundary.
	GoodSeq        uint64
	BoundaryOffset int64
	// TrimBytes counts tail bytes beyond the boundary.
	TrimBytes int64
	// Clean is set when the segment ends with a close marker.
	Clean bool
	// Obsolete segments are wholly superseded by the base image.
	Obsolete bool
	// Unreachable segments follow a corrupted one: their chains hang
	// off records which cannot be trusted.
	Unreachable bool
	// Corruption is the fault found in this segment, if any.
	Corruption *CorruptionError
	// Action is what Repair did, or what Scan recommends.
	Action string
}

// Report is the result of scanning a store directory.
type Report struct {
	Dir        string
	HaveImage  bool
	Watermark  uint64
	ImageBytes int64
	// ImageErr describes an unreadable base image.
	ImageErr string
	Segments []SegmentReport
}

// Corruption returns the first segment fault, or nil.
func (r *Report) Corruption() *CorruptionError {
	for i := range r.Segments {
		if c := r.Segments[i].Corruption; c != nil {
			return c
		}
	}
	return nil
}

// TrimBytes totals tail bytes beyond committed boundaries.
func (r *Report) TrimBytes() int64 {
	var n int64
	for i := range r.Segments {
		n += r.Segments[i].TrimBytes
	}
	return n
}

// Healthy reports whether an ordinary open would succeed with no data
// beyond a benign tail trim.
func (r *Report) Healthy() bool {
	return r.ImageErr == "" && r.Corruption() == nil
}

// Scan replays the journal without applying or modifying anything, and
// reports per-segment health and the action a Repair would take.
func Scan(fs afero.Fs, dir string) (*Report, error) {
	var rep = &Report{Dir: dir}

	var _, info, haveImage, err = readImage(fs, dir)
	if err != nil {
		rep.ImageErr = err.Error()
	} else if haveImage {
		rep.HaveImage = true
		rep.Watermark = info.watermark
		rep.ImageBytes = info.bytes
	}

	segments, err := listSegments(fs, dir)
	if err != nil {
		return nil, err
	}

	var (
		state  = writerState{seq: rep.Watermark, sum: info.sum}
		broken bool
	)
	for i, seg := range segments {
		var sr = SegmentReport{Name: seg.name, FirstSeq: seg.firstSeq, Action: ActionKeep}
		if fi, sErr := fs.Stat(filepath.Join(dir, seg.name)); sErr == nil {
			sr.Bytes = fi.Size()
		}

		var obsolete = i+1 < len(segments) && segments[i+1].firstSeq <= rep.Watermark+1
		switch {
		case obsolete:
			sr.Obsolete, sr.Action = true, ActionDrop
		case broken:
			sr.Unreachable, sr.Action = true, ActionDrop
		default:
			var play playback
			play, err = playSegment(fs, dir, seg,
				writerState{seq: state.seq, sum: state.sum}, rep.Watermark, nil)
			if err != nil {
				return nil, err
			}
			if play.corruption == nil && i != len(segments)-1 && (play.truncated != 0 || !play.clean) {
				play.corruption = &CorruptionError{
					Segment: seg.name,
					Offset:  play.state.offset,
					GoodSeq: play.state.seq,
					Reason:  "segment tail is torn but later segments exist",
				}
			}

			sr.Deltas = play.applied
			sr.GoodSeq = play.state.seq
			sr.BoundaryOffset = play.state.offset
			sr.Clean = play.clean
			sr.Corruption = play.corruption

			if play.corruption != nil {
				broken = true
				sr.TrimBytes = sr.Bytes - play.state.offset
				if play.state.offset == 0 {
					sr.Action = ActionDrop
				} else {
					sr.Action = ActionTrim
				}
			} else if play.truncated > 0 {
				sr.TrimBytes = play.truncated
				sr.Action = ActionTrim
			}
			state = play.state
		}
		rep.Segments = append(rep.Segments, sr)
	}
	return rep, nil
}

// Repair restores the journal to a state an ordinary open accepts: it
// trims segments to their last committed boundary, drops segments
// beyond a corruption fault, and drops segments the base image covers.
// Committed records beyond a fault are lost, so Repair is an operator
// action taken when a degraded open will not do. An unreadable base
// image cannot be repaired from the journal; restore from a backup.
func Repair(fs afero.Fs, dir string) (*Report, error) {
	var rep, err = Scan(fs, dir)
	if err != nil {
		return nil, err
	}
	if rep.ImageErr != "" {
		return rep, errors.Errorf("base image is unreadable (%s); restore from a backup", rep.ImageErr)
	}

	for i := range rep.Segments {
		var sr = &rep.Segments[i]
		var path = filepath.Join(dir, sr.Name)

		switch sr.Action {
		case ActionDrop:
			if err = fs.Remove(path); err != nil {
				return rep, errors.Wrapf(err, "removing segment %s", sr.Name)
			}
			metrics.TruncatedBytesTotal.Add(float64(sr.Bytes))
		case ActionTrim:
			var file afero.File
			if file, err = fs.OpenFile(path, os.O_RDWR, 0644); err != nil {
				return rep, errors.Wrapf(err, "opening segment %s", sr.Name)
			}
			err = file.Truncate(sr.BoundaryOffset)
			if cErr := file.Close(); err == nil {
				err = cErr
			}
			if err != nil {
				return rep, errors.Wrapf(err, "trimming segment %s", sr.Name)
			}
			metrics.TruncatedBytesTotal.Add(float64(sr.TrimBytes))
		}
		if sr.Action != ActionKeep {
			log.WithFields(log.Fields{
				"dir":     dir,
				"segment": sr.Name,
				"action":  sr.Action,
				"bytes":   sr.TrimBytes,
			}).Warn("repaired journal segment")
		}
	}
	return rep, nil
}
