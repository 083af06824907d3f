package link

import "github.com/carrot-garden/native-workrave/wire"

// sendHello is invoked once an outbound connection completes (§4.3,
// §4.8 "On connect success").
func (l *Link) sendHello(p *peer) {
	l.sendTo(p, wire.EncodeHello(wire.Hello{
		Username:        l.cfg.Username,
		Password:        l.cfg.Password,
		MyCanonicalHost: l.selfHost,
		MyListenPort:    l.selfPort,
	}))
}

// handleHello implements §4.3's accepter-side handshake: validate
// credentials, run set-canonical, and reply WELCOME+CLIENT_LIST or
// DUPLICATE, matching DistributionSocketLink::handle_hello exactly
// (empty configured credential matches any value).
func (l *Link) handleHello(p *peer, msg wire.Hello) {
	if !l.credentialsMatch(msg.Username, msg.Password) {
		l.evictPeer(p, "credential mismatch on HELLO")
		return
	}

	switch l.setCanonical(p, msg.MyCanonicalHost, msg.MyListenPort) {
	case canonicalDuplicateSelf, canonicalDuplicateLive:
		l.sendTo(p, wire.EncodeDuplicate())
		l.evictPeer(p, "duplicate identity on HELLO")
		return
	}

	p.handshakeDone = true
	l.sendTo(p, wire.EncodeWelcome(wire.Welcome{MyCanonicalHost: l.selfHost, MyListenPort: l.selfPort}))
	l.sendClientList(p, true)
}

// handleWelcome implements §4.3's connector-side handshake completion.
func (l *Link) handleWelcome(p *peer, msg wire.Welcome) {
	switch l.setCanonical(p, msg.MyCanonicalHost, msg.MyListenPort) {
	case canonicalDuplicateSelf, canonicalDuplicateLive:
		l.evictPeer(p, "duplicate identity on WELCOME")
		return
	}
	p.handshakeDone = true
	// Clear our active_client unconditionally so the incoming CLIENT_LIST
	// establishes the truth instead of racing our own stale belief (§4.3,
	// matching DistributionSocketLink::handle_welcome's set_active(NULL)
	// on every successful WELCOME, not just when p was the believed-active
	// peer).
	l.setActiveUnknown()
	l.sendClientList(p, true)
}

// handleDuplicate implements §7's "Duplicate identity" handling from the
// receiving side: drop this particular socket, not the identity (§9
// "Duplicate detection vs. race in-flight").
func (l *Link) handleDuplicate(p *peer) {
	l.evictPeer(p, "received DUPLICATE")
}

func (l *Link) credentialsMatch(username, password string) bool {
	if l.cfg.Username != "" && l.cfg.Username != username {
		return false
	}
	if l.cfg.Password != "" && l.cfg.Password != password {
		return false
	}
	return true
}
