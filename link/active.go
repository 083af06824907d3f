package link

import "github.com/carrot-garden/native-workrave/wire"

// activeState is one of SELF_ACTIVE, REMOTE_ACTIVE(peer), UNKNOWN (§4.6).
type activeState int

const (
	activeUnknown activeState = iota
	activeSelf
	activeRemote
)

// setSelfActive transitions into SELF_ACTIVE and notifies the listener if
// the self_active flag actually changed.
func (l *Link) setSelfActive() {
	wasSelfActive := l.state == activeSelf
	l.state = activeSelf
	l.activeClient = 0
	if !wasSelfActive {
		l.notifyActiveChanged(true)
	}
}

// setRemoteActive transitions into REMOTE_ACTIVE(p).
func (l *Link) setRemoteActive(p *peer) {
	wasSelfActive := l.state == activeSelf
	l.state = activeRemote
	l.activeClient = p.id
	if wasSelfActive {
		l.notifyActiveChanged(false)
	}
}

// setActiveUnknown transitions into UNKNOWN.
func (l *Link) setActiveUnknown() {
	wasSelfActive := l.state == activeSelf
	l.state = activeUnknown
	l.activeClient = 0
	if wasSelfActive {
		l.notifyActiveChanged(false)
	}
}

func (l *Link) notifyActiveChanged(selfActive bool) {
	if l.listener != nil {
		l.listener.ActiveChanged(selfActive)
	}
}

// claim implements the embedder-facing claim() operation (§4.6, §6).
func (l *Link) claim() bool {
	switch l.state {
	case activeRemote:
		p, ok := l.peers.get(l.activeClient)
		if !ok {
			// The remote we thought was active is gone; fall through to
			// UNKNOWN handling below instead of sending into the void.
			l.setActiveUnknown()
		} else {
			l.sendTo(p, wire.EncodeClaim())
			return true
		}
		fallthrough
	case activeUnknown:
		l.setSelfActive()
		if l.peers.connectedCount() > 0 {
			l.broadcastNewMaster(l.selfHost, l.selfPort)
		}
		return true
	default: // activeSelf
		return true
	}
}

// handleClaim implements §4.6's "Receive CLAIM from c" row. Per DESIGN.md
// (resolving spec §9 open question (a), grounded on
// DistributionSocketLink::handle_claim), CLAIM is unconditionally
// accepted regardless of the prior active-role belief.
func (l *Link) handleClaim(from *peer) {
	wasSelfActive := l.state == activeSelf
	l.setRemoteActiveUnconditional(from)
	if wasSelfActive {
		l.broadcastStateInfo()
	}
	l.broadcastNewMaster(from.host, from.port)
}

// setRemoteActiveUnconditional is handleClaim's variant of
// setRemoteActive: it always fires the listener callback with
// self_active=false (even if we were already REMOTE_ACTIVE(someone
// else)), because claim handling always represents an explicit new
// grant, unlike gossip-driven transitions which should be idempotent.
func (l *Link) setRemoteActiveUnconditional(p *peer) {
	l.state = activeRemote
	l.activeClient = p.id
	l.notifyActiveChanged(false)
}

// handleNewMaster implements §4.6's "Receive NEW_MASTER" row.
func (l *Link) handleNewMaster(host string, port uint16) {
	if host == l.selfHost && port == l.selfPort {
		l.setSelfActive()
		return
	}
	if p, ok := l.peers.findByIdentity(host, port, 0); ok {
		l.setRemoteActive(p)
		return
	}
	l.setActiveUnknown()
}

// handlePeerClosed demotes the active view to UNKNOWN if the closed peer
// was the believed-active remote (§4.6, §4.8).
func (l *Link) handlePeerClosed(p *peer) {
	if l.state == activeRemote && l.activeClient == p.id {
		l.setActiveUnknown()
	}
}

// getActive implements the embedder-facing get_active() operation.
func (l *Link) getActive() (host string, port uint16, ok bool) {
	switch l.state {
	case activeSelf:
		return l.selfHost, l.selfPort, true
	case activeRemote:
		if p, found := l.peers.get(l.activeClient); found {
			return p.host, p.port, true
		}
	}
	return "", 0, false
}
