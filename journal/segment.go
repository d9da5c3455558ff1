package journal

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Segment files are named for the first delta sequence number they can
// hold, so a segment is known to be superseded by a base image — without
// reading it — whenever a later segment's first sequence is within the
// image watermark.
const (
	segmentPrefix = "segment-"
	segmentSuffix = ".journal"

	imageName     = "image.base"
	imageNextName = "image.base.next"
)

type segmentInfo struct {
	name     string
	firstSeq uint64
}

func segmentName(firstSeq uint64) string {
	return fmt.Sprintf("%s%016x%s", segmentPrefix, firstSeq, segmentSuffix)
}

func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	var hex = name[len(segmentPrefix) : len(name)-len(segmentSuffix)]
	if len(hex) != 16 {
		return 0, false
	}
	var seq, err = strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// listSegments returns the store's segments ordered by first sequence.
func listSegments(fs afero.Fs, dir string) ([]segmentInfo, error) {
	var entries, err = afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Wrap(err, "reading store directory")
	}

	var out []segmentInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if seq, ok := parseSegmentName(e.Name()); ok {
			out = append(out, segmentInfo{name: e.Name(), firstSeq: seq})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].firstSeq < out[j].firstSeq })
	return out, nil
}

// dropObsoleteSegments removes segments wholly superseded by an image
// watermark: those followed by a later segment whose first sequence is
// within the watermark. Leftovers of an interrupted compaction are
// reaped here on the next open.
func dropObsoleteSegments(fs afero.Fs, dir string, segments []segmentInfo, watermark uint64) ([]segmentInfo, error) {
	var keep []segmentInfo
	for i, seg := range segments {
		var obsolete = false
		for _, later := range segments[i+1:] {
			if later.firstSeq <= watermark+1 {
				obsolete = true
				break
			}
		}
		if !obsolete {
			keep = append(keep, seg)
			continue
		}
		if err := fs.Remove(filepath.Join(dir, seg.name)); err != nil {
			return nil, errors.Wrapf(err, "removing obsolete segment %s", seg.name)
		}
	}
	return keep, nil
}
