// Package socket defines the abstract async-TCP contract the link core
// consumes (§2 item 2, §6 "Socket driver contract"), plus a concrete
// implementation backed by the standard library's net package.
package socket

// Tag is an opaque identifier the driver carries alongside a connection
// on behalf of its caller; the link uses it to recover which Peer a given
// connection or pending-dial belongs to without the driver needing to
// know anything about peers.
type Tag interface{}

// Conn is a single TCP connection.
type Conn interface {
	// Write sends b on the connection. TCPDriver's implementation is a
	// plain net.Conn write: it blocks until the bytes are handed to the
	// kernel or the write fails, and does no buffering of its own. The
	// link does not retry a failed or partial write at the protocol
	// level (§5).
	Write(b []byte) (int, error)
	// Close tears down the connection. Idempotent.
	Close() error
	// RemoteHostPort returns the unresolved remote address as seen by
	// the transport, before canonicalization.
	RemoteHostPort() (host string, port uint16)
	// Tag returns the tag supplied at Connect time, or nil for an
	// inbound connection not yet associated with a peer.
	Tag() Tag
}

// Listener is a bound, listening TCP socket.
type Listener interface {
	Close() error
	Port() uint16
}

// Events is the single listener the driver delivers connection lifecycle
// callbacks to (§6). Exactly one Events implementation is registered per
// driver instance; all methods are invoked from the driver's own
// goroutine(s) and must be handed off to the link's single-threaded core
// without blocking the driver (see link.Link.Run).
type Events interface {
	// OnAccepted fires for a new inbound connection on a listening
	// socket.
	OnAccepted(l Listener, c Conn)
	// OnConnected fires when an outbound Connect completes successfully.
	OnConnected(c Conn, tag Tag)
	// OnConnectFailed fires when an outbound Connect could not be
	// established.
	OnConnectFailed(tag Tag, err error)
	// OnReadable fires when bytes are available; the driver has already
	// appended them to its internal read buffer for this connection and
	// passes them along directly since the link keeps its own
	// reassembly PacketBuffer per peer (§3).
	OnReadable(c Conn, tag Tag, data []byte)
	// OnClosed fires once per connection, whether closed locally, by the
	// peer, or due to a read/write error.
	OnClosed(c Conn, tag Tag, err error)
}

// Driver is the transport the link core is built against. listen/connect
// mirror §6's socket driver contract; canonicalize resolves a dotted host
// or hostname into the canonical form used for peer identity (§3, §4.5).
type Driver interface {
	// Listen binds a TCP listening socket on port. Passing 0 picks an
	// ephemeral port, useful for tests.
	Listen(port uint16) (Listener, error)
	// Connect begins an asynchronous outbound connection; completion is
	// reported via Events.OnConnected/OnConnectFailed.
	Connect(host string, port uint16, tag Tag)
	// Canonicalize resolves host to the canonical name used for peer
	// identity comparisons.
	Canonicalize(host string) (string, error)
	// MyCanonicalName returns this process's own canonical hostname.
	MyCanonicalName() (string, error)
	// SetEvents installs the single event listener. Must be called
	// before Listen/Connect.
	SetEvents(e Events)
	// Close tears down every connection and listening socket owned by
	// this driver.
	Close() error
}
