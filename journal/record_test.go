package journal

import (
	"testing"

	gc "gopkg.in/check.v1"
)

type RecordSuite struct{}

func (s *RecordSuite) TestFramingRoundTrip(c *gc.C) {
	var sum = sumRecord(0, opStateMachineFloor, 1, []byte("hello, journal"))
	var b = appendRecord(nil, opStateMachineFloor, 1, sum, []byte("hello, journal"))
	c.Assert(b, gc.HasLen, recordHeaderLen+14)

	var rec, n, perr = parseRecord(b, 123)
	c.Check(perr, gc.Equals, parseOK)
	c.Check(n, gc.Equals, len(b))
	c.Check(rec.op, gc.Equals, opStateMachineFloor)
	c.Check(rec.seq, gc.Equals, uint64(1))
	c.Check(rec.sum, gc.Equals, sum)
	c.Check(string(rec.payload), gc.Equals, "hello, journal")
	c.Check(rec.offset, gc.Equals, int64(123))
}

func (s *RecordSuite) TestChainCommitsToPrefix(c *gc.C) {
	// The chain value differs if any prior record differed, even when
	// the records themselves are identical.
	var a1 = sumRecord(0, 0x10, 1, []byte("aaa"))
	var b1 = sumRecord(0, 0x10, 1, []byte("bbb"))
	c.Check(a1, gc.Not(gc.Equals), b1)

	var a2 = sumRecord(a1, 0x11, 2, []byte("ccc"))
	var b2 = sumRecord(b1, 0x11, 2, []byte("ccc"))
	c.Check(a2, gc.Not(gc.Equals), b2)

	// Markers extend the chain without consuming a sequence.
	var m = sumRecord(a2, OpCommit, 2, nil)
	c.Check(m, gc.Not(gc.Equals), a2)
}

func (s *RecordSuite) TestParseFaults(c *gc.C) {
	var sum = sumRecord(0, 0x10, 1, []byte("payload"))
	var b = appendRecord(nil, 0x10, 1, sum, []byte("payload"))

	// Case: truncated header.
	var _, _, perr = parseRecord(b[:recordHeaderLen-1], 0)
	c.Check(perr, gc.Equals, parseShort)

	// Case: truncated payload.
	_, _, perr = parseRecord(b[:len(b)-1], 0)
	c.Check(perr, gc.Equals, parseShort)

	// Case: flipped magic byte.
	var bad = append([]byte(nil), b...)
	bad[2] ^= 0xff
	_, _, perr = parseRecord(bad, 0)
	c.Check(perr, gc.Equals, parseBadMagic)

	// Case: absurd payload length.
	bad = append([]byte(nil), b...)
	bad[13] = 0xff
	_, _, perr = parseRecord(bad, 0)
	c.Check(perr, gc.Equals, parseBadLength)
}

func (s *RecordSuite) TestScanMagic(c *gc.C) {
	var sum = sumRecord(0, 0x10, 1, nil)
	var rec = appendRecord(nil, 0x10, 1, sum, nil)

	// A boundary at index zero is not a match: the caller is asking
	// whether anything follows the record it is positioned at.
	c.Check(scanMagic(rec), gc.Equals, -1)

	var b = append([]byte("garbage"), rec...)
	c.Check(scanMagic(b), gc.Equals, 7)

	c.Check(scanMagic([]byte("no boundary here")), gc.Equals, -1)
	c.Check(scanMagic(nil), gc.Equals, -1)
}

func (s *RecordSuite) TestCorruptionErrorMessage(c *gc.C) {
	var err = &CorruptionError{
		Segment: "segment-0000000000000001.journal",
		Offset:  75,
		GoodSeq: 2,
		Reason:  "checksum chain mismatch",
	}
	c.Check(err.Error(), gc.Equals,
		"journal corruption in segment-0000000000000001.journal at offset 75 "+
			"(last good sequence 2): checksum chain mismatch")
}

func (s *RecordSuite) TestSegmentNames(c *gc.C) {
	c.Check(segmentName(1), gc.Equals, "segment-0000000000000001.journal")
	c.Check(segmentName(0xdeadbeef), gc.Equals, "segment-00000000deadbeef.journal")

	var seq, ok = parseSegmentName("segment-00000000deadbeef.journal")
	c.Check(ok, gc.Equals, true)
	c.Check(seq, gc.Equals, uint64(0xdeadbeef))

	for _, n := range []string{
		"segment-deadbeef.journal", // Too short.
		"segment-00000000deadbeef",
		"00000000deadbeef.journal",
		"image.base",
	} {
		var _, ok = parseSegmentName(n)
		c.Check(ok, gc.Equals, false)
	}
}

var _ = gc.Suite(&RecordSuite{})

func Test(t *testing.T) { gc.TestingT(t) }
