// Package protocol defines the Skyhash wire protocol shared by the server
// and clients: the connection handshake, the simple-query and pipeline
// exchange framing, typed response encoding, and the tagged value codec
// used for query parameters, rows, and journaled payloads. A central goal
// of this package is to be exacting about the byte shapes that frames may
// take: decoders either produce a fully-validated frame, report that more
// bytes are required, or fail with a typed protocol error — they never
// guess. Decoders are incremental state machines over caller-owned
// buffers, so a connection loop can feed them exactly the bytes it has
// without blocking on frame boundaries.
//
// By convention this package is imported as `sh`, short for "Skyhash":
//
//	import sh "github.com/rizalgowandy/skytable/protocol"
package protocol
