package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseRoundTrip(t *testing.T) {
	var cases = []Response{
		Scalar(Null()),
		Scalar(Uint64(42)),
		Scalar(String("ok")),
		Scalar(List(Bool(true), String("x"))),
		Empty(),
		ErrorResponse(CodeDuplicateKey),
		Row(String("a"), List(String("n1"), String("n2"))),
		MultiRow([]Value{String("a"), Uint8(1)}, []Value{String("b"), Uint8(2)}),
		MultiRow(),
	}

	var b []byte
	for _, r := range cases {
		b = r.Append(b)
	}

	for i, want := range cases {
		var got, n, err = DecodeResponse(b)
		require.NoError(t, err, "case %d", i)
		b = b[n:]

		// Append/Decode normalize a nil Rows to empty.
		if want.Kind == KindMultiRow && want.Rows == nil {
			want.Rows = [][]Value{}
		}
		require.Equal(t, want, got, "case %d", i)
	}
	require.Empty(t, b)
}

func TestResponseIncrementalDecode(t *testing.T) {
	var b = MultiRow(
		[]Value{String("alpha"), Uint64(1)},
		[]Value{String("beta"), Uint64(2)},
	).Append(nil)

	for i := 0; i != len(b); i++ {
		var _, _, err = DecodeResponse(b[:i])
		require.Equal(t, ErrIncomplete, err, "prefix length %d", i)
	}
	var _, n, err = DecodeResponse(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
}

func TestResponseIllegalPacketByte(t *testing.T) {
	var _, n, err = DecodeResponse([]byte{IllegalPacketByte})
	require.Equal(t, ErrIllegalPipeline, err)
	require.Equal(t, 1, n)
}

func TestErrorCodeMapping(t *testing.T) {
	var err = NewQueryError(CodeSpaceNotFound, "space %q not found", "s")
	require.EqualError(t, err, `space "s" not found (2200)`)
	require.Equal(t, CodeSpaceNotFound, ErrorCode(err))

	// Wrapped QueryErrors still map to their code.
	require.Equal(t, CodeSpaceNotFound, ErrorCode(wrap(err)))

	// Arbitrary errors map to the catch-all.
	require.Equal(t, CodeUnknownStatement, ErrorCode(wrap(ErrIncomplete)))

	require.Equal(t, ErrorResponse(CodeSpaceNotFound), ErrorOf(err))
}

func wrap(err error) error { return &wrapped{err} }

type wrapped struct{ inner error }

func (w *wrapped) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrapped) Unwrap() error { return w.inner }
