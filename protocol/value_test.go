package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueRoundTrip(t *testing.T) {
	var cases = []Value{
		Null(),
		Bool(true),
		Bool(false),
		Uint8(250),
		Uint64(18446744073709551615),
		Sint16(-12345),
		Sint64(-9223372036854775808),
		Float32(1.5),
		Float64(-2.25e10),
		String("hello, skyhash"),
		String(""),
		Binary([]byte{0x00, 0xff, 0x10, '\n'}),
		List(String("a"), List(Uint32(7), Null()), Binary(nil)),
	}

	var b []byte
	for _, v := range cases {
		b = v.Append(b)
	}

	for _, want := range cases {
		var got, rest, err = DecodeValue(b)
		require.NoError(t, err)
		b = rest
		require.Equal(t, want, got)
	}
	require.Empty(t, b)
}

func TestValueDecodeIncomplete(t *testing.T) {
	var full = List(String("abc"), Uint64(42)).Append(nil)

	for i := 0; i != len(full); i++ {
		var _, _, err = DecodeValue(full[:i])
		require.Equal(t, ErrIncomplete, err, "prefix length %d", i)
	}
	var _, rest, err = DecodeValue(full)
	require.NoError(t, err)
	require.Empty(t, rest)
}

func TestValueDecodeMalformed(t *testing.T) {
	// Unknown kind byte.
	var _, _, err = DecodeValue([]byte{0x7f})
	require.EqualError(t, err, "invalid value kind (0x7f)")

	// Bool with an out-of-range byte.
	_, _, err = DecodeValue([]byte{byte(KindBool), 2})
	require.EqualError(t, err, "invalid bool byte (2)")

	// Unsigned value with garbage digits.
	_, _, err = DecodeValue([]byte("\x0512x4\n"))
	require.Error(t, err)
	require.NotEqual(t, ErrIncomplete, err)

	// Negative size line.
	_, _, err = DecodeValue([]byte("\x0d-1\n"))
	require.EqualError(t, err, "invalid size (-1)")

	// Uint8 overflow is a range error, not a truncation.
	_, _, err = DecodeValue([]byte("\x02300\n"))
	require.Error(t, err)
}

func TestDecodeValuesConsumesAll(t *testing.T) {
	var b = String("x").Append(nil)
	b = Uint32(9).Append(b)

	var vs, err = DecodeValues(b)
	require.NoError(t, err)
	require.Equal(t, []Value{String("x"), Uint32(9)}, vs)

	vs, err = DecodeValues(nil)
	require.NoError(t, err)
	require.Empty(t, vs)

	// A dangling partial value poisons the whole set.
	_, err = DecodeValues(append(String("x").Append(nil), byte(KindString)))
	require.Error(t, err)
}
