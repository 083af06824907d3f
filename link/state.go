package link

import "github.com/carrot-garden/native-workrave/wire"

// StateProvider is the embedder-supplied object that serializes and
// deserializes one identified piece of application state (§3, §4.7).
type StateProvider interface {
	// GetState returns the current bytes for this provider, or
	// (nil, false) if it has nothing to contribute to this round.
	GetState() (data []byte, ok bool)
	// SetState delivers a peer's view of this state. willBecomeActive is
	// true when the sender's STATEINFO names this node as the new
	// active node.
	SetState(willBecomeActive bool, data []byte)
}

// registerState implements the embedder-facing register_state(id,
// provider) operation.
func (l *Link) registerState(id uint16, provider StateProvider) bool {
	if provider == nil {
		return false
	}
	l.stateProviders[id] = provider
	return true
}

// buildStateInfo implements §4.7's per-provider poll loop. The embedded
// active identity is the link's current belief of who is active (matching
// the original's send_state→get_active), not always self: the
// CLAIM-demotion broadcast in handleClaim fires after this node has
// already transitioned to REMOTE_ACTIVE(claimer), so the claimer must see
// itself named here to receive will_become_active=true.
func (l *Link) buildStateInfo() wire.StateInfo {
	activeHost, activePort, _ := l.getActive()
	info := wire.StateInfo{ActiveHost: activeHost, ActivePort: activePort}
	for id, provider := range l.stateProviders {
		data, ok := provider.GetState()
		if !ok {
			info.Entries = append(info.Entries, wire.StateEntry{StateID: id})
			continue
		}
		info.Entries = append(info.Entries, wire.StateEntry{StateID: id, Data: data})
	}
	return info
}

// broadcastStateInfo sends a fresh STATEINFO to every connected peer; it
// is invoked both on the 60-tick boundary (§4.7, §4.8) and immediately
// after a CLAIM demotes this node from active (§4.6, §4.7).
func (l *Link) broadcastStateInfo() {
	frame := wire.EncodeStateInfo(l.buildStateInfo())
	l.broadcastExcept(frame, 0)
}

// handleStateInfo implements §4.7's receive side: determine whether this
// node is about to become active, dispatch every entry to its provider,
// then fire state_transfer_complete exactly once.
func (l *Link) handleStateInfo(msg wire.StateInfo) {
	willBecomeActive := msg.ActiveHost == l.selfHost && msg.ActivePort == l.selfPort
	for _, e := range msg.Entries {
		provider, ok := l.stateProviders[e.StateID]
		if !ok {
			continue
		}
		provider.SetState(willBecomeActive, e.Data)
	}
	if l.listener != nil {
		l.listener.StateTransferComplete()
	}
}
