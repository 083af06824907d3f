package link

// canonicalResult is the outcome of setCanonical (§4.5).
type canonicalResult int

const (
	canonicalOK canonicalResult = iota
	canonicalDuplicateSelf
	canonicalDuplicateLive
)

// setCanonical implements §4.5's set_canonical(peer, host, port):
//  1. matches self → duplicate (self)
//  2. matches another peer with a live socket → duplicate (live); caller
//     must send DUPLICATE and drop p
//  3. matches another peer with no live socket → evict it silently and
//     proceed
//  4. otherwise assign identity and succeed
func (l *Link) setCanonical(p *peer, host string, port uint16) canonicalResult {
	if host == l.selfHost && port == l.selfPort {
		return canonicalDuplicateSelf
	}
	if other, ok := l.peers.findByIdentity(host, port, p.id); ok {
		if other.hasLiveSocket() {
			return canonicalDuplicateLive
		}
		l.evictPeer(other, "superseded by a fresher handshake for the same identity")
	}
	p.host = host
	p.port = port
	return canonicalOK
}

// addClient implements §4.5's add_client(host, port): used both by the
// embedder-facing join() operation and by CLIENT_LIST gossip processing
// (§4.4 step 3).
func (l *Link) addClient(host string, port uint16) {
	if host == l.selfHost && port == l.selfPort {
		return
	}
	if _, ok := l.peers.findByIdentity(host, port, 0); ok {
		return
	}
	canonical, err := l.driver.Canonicalize(host)
	if err != nil || canonical == "" {
		canonical = host
	}
	if canonical != host {
		if _, ok := l.peers.findByIdentity(canonical, port, 0); ok {
			return
		}
	}

	p := l.peers.create()
	p.host = canonical
	p.port = port
	p.remainingAttempts = l.cfg.ReconnectAttempts
	l.driver.Connect(canonical, port, p.id)
	l.logf("dialing %s:%d (peer %d)", canonical, port, p.id)
}
