package codecs

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrips(t *testing.T) {
	var payload = []byte(strings.Repeat("a compressible payload. ", 128))

	for _, codec := range []Codec{None, Gzip, Snappy, Zstandard} {
		var buf bytes.Buffer

		var cw, err = NewCodecWriter(&buf, codec)
		require.NoError(t, err, codec.String())
		var n int
		n, err = cw.Write(payload)
		require.NoError(t, err)
		require.Len(t, payload, n)
		require.NoError(t, cw.Close())

		if codec != None {
			require.Less(t, buf.Len(), len(payload), codec.String())
		}

		var cr Decompressor
		cr, err = NewCodecReader(&buf, codec)
		require.NoError(t, err)
		var out []byte
		out, err = io.ReadAll(cr)
		require.NoError(t, err)
		require.NoError(t, cr.Close())
		require.Equal(t, payload, out, codec.String())
	}
}

func TestCodecParseAndValidate(t *testing.T) {
	for s, expect := range map[string]Codec{
		"none": None, "gzip": Gzip, "snappy": Snappy, "zstd": Zstandard, "zstandard": Zstandard,
	} {
		var c, err = ParseCodec(s)
		require.NoError(t, err)
		require.Equal(t, expect, c)
		require.NoError(t, c.Validate())
	}

	var _, err = ParseCodec("lzma")
	require.EqualError(t, err, `unknown codec "lzma"`)
	require.EqualError(t, Codec(0xfe).Validate(), "invalid codec (254)")

	_, err = NewCodecReader(new(bytes.Buffer), Codec(0xfe))
	require.Error(t, err)
	_, err = NewCodecWriter(new(bytes.Buffer), Codec(0xfe))
	require.Error(t, err)
}
