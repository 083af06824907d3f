package link

import "github.com/carrot-garden/native-workrave/wire"

// buildClientList implements §4.4's construction rules for the
// CLIENT_LIST sent to a specific peer p (excluded from its own entry
// list).
func (l *Link) buildClientList(p *peer, forwardable bool) wire.ClientList {
	msg := wire.ClientList{}
	if forwardable {
		msg.Flags |= wire.FlagForwardable
	}
	if l.state == activeSelf {
		msg.Flags |= wire.FlagIAmActive
	} else if l.state == activeRemote {
		if active, ok := l.peers.get(l.activeClient); ok {
			msg.Flags |= wire.FlagHasActiveRef
			msg.ActiveHost = active.host
			msg.ActivePort = active.port
		}
	}
	for _, other := range l.peers.all() {
		if other.id == p.id || !other.hasLiveSocket() || !other.hasIdentity() {
			continue
		}
		msg.Entries = append(msg.Entries, wire.ClientListEntry{Host: other.host, Port: other.port})
	}
	return msg
}

// sendClientList sends a freshly built CLIENT_LIST to p.
func (l *Link) sendClientList(p *peer, forwardable bool) {
	l.sendTo(p, wire.EncodeClientList(l.buildClientList(p, forwardable)))
}

// handleClientList implements §4.4's receive side: update the active-role
// view, forward exactly once, then learn any new peers.
func (l *Link) handleClientList(from *peer, rawFrame []byte, msg wire.ClientList) {
	switch {
	case msg.Flags&wire.FlagIAmActive != 0:
		l.setRemoteActive(from)
	case msg.Flags&wire.FlagHasActiveRef != 0:
		l.handleNewMaster(msg.ActiveHost, msg.ActivePort)
	}

	if msg.Flags&wire.FlagForwardable != 0 && l.replay.Add(clientListFrameID(rawFrame)) {
		cleared := uint16(msg.Flags) &^ wire.FlagForwardable
		if err := wire.SetClientListFlagsInPlace(rawFrame, cleared); err == nil {
			l.broadcastExcept(rawFrame, from.id)
		}
	}

	for _, e := range msg.Entries {
		if e.Host == "" {
			continue
		}
		if e.Host == l.selfHost && e.Port == l.selfPort {
			continue
		}
		if _, ok := l.peers.findByIdentity(e.Host, e.Port, 0); ok {
			continue
		}
		l.addClient(e.Host, e.Port)
	}
}

// broadcastExcept sends a raw, already-encoded frame to every connected
// peer except the one identified by exclude (0 meaning "exclude none").
func (l *Link) broadcastExcept(frame []byte, exclude peerID) {
	for _, p := range l.peers.all() {
		if p.id == exclude || !p.hasLiveSocket() {
			continue
		}
		l.sendRaw(p, frame)
	}
}

// broadcastNewMaster announces the active identity to every connected
// peer (§4.6).
func (l *Link) broadcastNewMaster(host string, port uint16) {
	frame := wire.EncodeNewMaster(wire.NewMaster{NewActiveHost: host, NewActivePort: port})
	l.broadcastExcept(frame, 0)
}
