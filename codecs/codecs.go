// Package codecs provides the compression codecs applied to base image
// payloads, plus helpers for reading and writing compressed streams.
package codecs

import (
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Codec identifies a compression codec. Its byte value is stored in base
// image headers and must never be renumbered.
type Codec uint8

const (
	// None stores payloads uncompressed.
	None Codec = 0x00
	// Gzip compresses with RFC 1952 gzip.
	Gzip Codec = 0x01
	// Snappy compresses with google/snappy framing. It is the default.
	Snappy Codec = 0x02
	// Zstandard compresses with facebook/zstd. Requires cgo; builds with
	// the `nozstd` tag reject it at runtime.
	Zstandard Codec = 0x03
)

// ParseCodec maps a configuration string onto its Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "none":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "snappy":
		return Snappy, nil
	case "zstd", "zstandard":
		return Zstandard, nil
	default:
		return 0, errors.Errorf("unknown codec %q", s)
	}
}

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Snappy:
		return "snappy"
	case Zstandard:
		return "zstd"
	default:
		return "invalid"
	}
}

// Validate returns an error if the Codec is not a known value.
func (c Codec) Validate() error {
	switch c {
	case None, Gzip, Snappy, Zstandard:
		return nil
	default:
		return errors.Errorf("invalid codec (%d)", c)
	}
}

// Decompressor is a ReadCloser where Close releases decompressor state but
// does not close or otherwise affect the underlying Reader.
type Decompressor io.ReadCloser

// Compressor is a WriteCloser where Close flushes final content and
// releases compressor state, but does not close the underlying Writer.
type Compressor io.WriteCloser

// NewCodecReader returns a Decompressor of |r| encoded with |codec|.
func NewCodecReader(r io.Reader, codec Codec) (Decompressor, error) {
	switch codec {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case Zstandard:
		return zstdNewReader(r)
	default:
		return nil, errors.Errorf("unsupported codec (%d)", codec)
	}
}

// NewCodecWriter returns a Compressor wrapping |w|, encoding with |codec|.
func NewCodecWriter(w io.Writer, codec Codec) (Compressor, error) {
	switch codec {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case Zstandard:
		return zstdNewWriter(w)
	default:
		return nil, errors.Errorf("unsupported codec (%d)", codec)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var (
	zstdNewReader = func(io.Reader) (io.ReadCloser, error) {
		return nil, errors.New("zstandard was not enabled at compile time")
	}
	zstdNewWriter = func(io.Writer) (io.WriteCloser, error) {
		return nil, errors.New("zstandard was not enabled at compile time")
	}
)
