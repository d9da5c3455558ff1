package client

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizalgowandy/skytable/protocol"
)

func TestDialAndQuery(t *testing.T) {
	var addr = serveScript(t,
		scriptStep{
			expect: protocol.AppendHandshake(nil, "root", "opensesame"),
			reply:  [][]byte{protocol.AppendHandshakeAck(nil)},
		},
		scriptStep{
			expect: protocol.AppendSimpleQuery(nil, "SYSCTL REPORT STATUS"),
			reply:  [][]byte{protocol.Empty().Append(nil)},
		},
	)

	var c, err = Dial(context.Background(), addr, "root", "opensesame", Options{})
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Query("SYSCTL REPORT STATUS")
	require.NoError(t, err)
	require.Equal(t, protocol.Empty(), resp)
}

func TestDialRejected(t *testing.T) {
	var addr = serveScript(t, scriptStep{
		expect: protocol.AppendHandshake(nil, "root", "wrong"),
		reply:  [][]byte{protocol.AppendHandshakeError(nil, protocol.HandshakeAuthRejected)},
	})

	var _, err = Dial(context.Background(), addr, "root", "wrong", Options{})
	require.Equal(t, protocol.HandshakeAuthRejected, err)
}

func TestPipelineDribbledResponses(t *testing.T) {
	var queries = []protocol.Query{
		{Text: "CREATE SPACE app"},
		{Text: "SELECT * FROM app.users WHERE id = ?",
			Params: []protocol.Value{protocol.Uint64(1)}},
	}
	var r1 = protocol.Empty().Append(nil)
	var r2 = protocol.ErrorResponse(protocol.CodeModelNotFound).Append(nil)

	// Responses arrive split across writes: decoding suspends on the
	// partial frame and resumes once the remainder lands.
	var addr = serveScript(t,
		scriptStep{
			expect: protocol.AppendHandshake(nil, "root", "pw"),
			reply:  [][]byte{protocol.AppendHandshakeAck(nil)},
		},
		scriptStep{
			expect: protocol.AppendPipeline(nil, queries...),
			reply:  [][]byte{r1, r2[:1], r2[1:]},
		},
	)

	var c, err = Dial(context.Background(), addr, "root", "pw", Options{})
	require.NoError(t, err)
	defer c.Close()

	resps, err := c.Pipeline(queries...)
	require.NoError(t, err)
	require.Equal(t, []protocol.Response{
		protocol.Empty(),
		protocol.ErrorResponse(protocol.CodeModelNotFound),
	}, resps)
}

func TestQueryIllegalByteResponse(t *testing.T) {
	var addr = serveScript(t,
		scriptStep{
			expect: protocol.AppendHandshake(nil, "root", "pw"),
			reply:  [][]byte{protocol.AppendHandshakeAck(nil)},
		},
		scriptStep{
			expect: protocol.AppendSimpleQuery(nil, "no"),
			reply:  [][]byte{{protocol.IllegalPacketByte}},
		},
	)

	var c, err = Dial(context.Background(), addr, "root", "pw", Options{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Query("no")
	require.Equal(t, protocol.ErrIllegalPipeline, err)
}

func TestQueryAfterServerHangup(t *testing.T) {
	var addr = serveScript(t, scriptStep{
		expect: protocol.AppendHandshake(nil, "root", "pw"),
		reply:  [][]byte{protocol.AppendHandshakeAck(nil)},
	})

	var c, err = Dial(context.Background(), addr, "root", "pw", Options{})
	require.NoError(t, err)
	defer c.Close()

	// The script is exhausted and the server hangs up.
	_, err = c.Query("SYSCTL REPORT STATUS")
	require.Error(t, err)
}

// scriptStep is one request the scripted server expects, with the bytes
// it answers.
type scriptStep struct {
	expect []byte
	reply  [][]byte
}

// serveScript runs a server which plays |steps| against its first
// connection, and returns its address.
func serveScript(t *testing.T, steps ...scriptStep) string {
	var lis, err = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lis.Close() })

	go func() {
		var conn, err = lis.Accept()
		if !assert.NoError(t, err) {
			return
		}
		defer func() { _ = conn.Close() }()

		for _, step := range steps {
			var got = make([]byte, len(step.expect))
			if _, err = io.ReadFull(conn, got); !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, step.expect, got)

			for _, chunk := range step.reply {
				if _, err = conn.Write(chunk); !assert.NoError(t, err) {
					return
				}
			}
		}
	}()
	return lis.Addr().String()
}
