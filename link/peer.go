package link

import (
	"github.com/carrot-garden/native-workrave/socket"
	"github.com/carrot-garden/native-workrave/wire"
)

// peerID is a stable handle into the peer table; callbacks from the
// socket driver carry this instead of a pointer, so an evicted peer's
// stale tag is simply a miss on lookup rather than a dangling reference
// (§9 "Cyclic peer references").
type peerID uint64

// peer is the Client record of §3.
type peer struct {
	id peerID

	// identity: unset (host == "") until learned during handshake.
	host string
	port uint16

	conn socket.Conn // nil until connected

	reassembly *wire.PacketBuffer

	remainingAttempts int
	nextAttemptTime   int64 // monotonic ms; 0 means "not scheduled"

	// handshakeDone records whether the peer's connection survived its
	// handshake, used only for logging/diagnostics.
	handshakeDone bool
}

func newPeer(id peerID) *peer {
	return &peer{id: id, reassembly: wire.NewPacketBuffer()}
}

// truncateStr bounds a peer-supplied string before it goes into a log
// line. Host names arrive over the wire as u16-length-prefixed strings
// (up to 65535 bytes, §4.1), so an unbounded peer can otherwise blow up
// log output; kept verbatim from the teacher's truncation helper
// (p2p/utils.go's truncateStr, there used to shorten logged addresses).
func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

func (p *peer) hasIdentity() bool { return p.host != "" }
func (p *peer) hasLiveSocket() bool { return p.conn != nil }

func (p *peer) sameIdentity(host string, port uint16) bool {
	return p.hasIdentity() && p.host == host && p.port == port
}

// peerTable owns every known peer, keyed by the stable handle described
// above. It is only ever touched from the Link's single goroutine (§5).
type peerTable struct {
	nextID peerID
	byID   map[peerID]*peer
}

func newPeerTable() *peerTable {
	return &peerTable{byID: make(map[peerID]*peer)}
}

func (t *peerTable) create() *peer {
	t.nextID++
	p := newPeer(t.nextID)
	t.byID[p.id] = p
	return p
}

func (t *peerTable) remove(id peerID) {
	delete(t.byID, id)
}

func (t *peerTable) get(id peerID) (*peer, bool) {
	p, ok := t.byID[id]
	return p, ok
}

// findByIdentity returns the peer with the given canonical identity,
// excluding the given id if non-zero (used by set-canonical to find
// "another" peer with the same identity, §4.5).
func (t *peerTable) findByIdentity(host string, port uint16, exclude peerID) (*peer, bool) {
	for id, p := range t.byID {
		if id == exclude {
			continue
		}
		if p.sameIdentity(host, port) {
			return p, true
		}
	}
	return nil, false
}

// all returns every peer, in no particular order.
func (t *peerTable) all() []*peer {
	out := make([]*peer, 0, len(t.byID))
	for _, p := range t.byID {
		out = append(out, p)
	}
	return out
}

// connectedCount returns the number of peers with a live socket —
// number_of_peers() per §12's supplemented-feature note.
func (t *peerTable) connectedCount() int {
	n := 0
	for _, p := range t.byID {
		if p.hasLiveSocket() {
			n++
		}
	}
	return n
}
