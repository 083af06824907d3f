package link

import "github.com/carrot-garden/native-workrave/wire"

// dispatch routes one fully-reassembled frame to its per-opcode handler
// (§2 "the dispatcher routes to a per-opcode handler"). Unknown commands
// are silently discarded after consuming their frame (§4.2, §7).
func (l *Link) dispatch(p *peer, frame wire.Frame, rawFrame []byte) {
	switch frame.Command {
	case wire.CmdHello:
		msg, err := wire.DecodeHello(frame.Payload)
		if err != nil {
			l.logf("malformed HELLO from peer %d: %v", p.id, err)
			return
		}
		l.handleHello(p, msg)

	case wire.CmdWelcome:
		msg, err := wire.DecodeWelcome(frame.Payload)
		if err != nil {
			l.logf("malformed WELCOME from peer %d: %v", p.id, err)
			return
		}
		l.handleWelcome(p, msg)

	case wire.CmdClientList:
		msg, err := wire.DecodeClientList(frame.Payload)
		if err != nil {
			l.logf("malformed CLIENT_LIST from peer %d: %v", p.id, err)
			return
		}
		l.handleClientList(p, rawFrame, msg)

	case wire.CmdClaim:
		if _, err := wire.DecodeClaim(frame.Payload); err != nil {
			l.logf("malformed CLAIM from peer %d: %v", p.id, err)
			return
		}
		l.handleClaim(p)

	case wire.CmdNewMaster:
		msg, err := wire.DecodeNewMaster(frame.Payload)
		if err != nil {
			l.logf("malformed NEW_MASTER from peer %d: %v", p.id, err)
			return
		}
		l.handleNewMaster(msg.NewActiveHost, msg.NewActivePort)

	case wire.CmdStateInfo:
		msg, err := wire.DecodeStateInfo(frame.Payload)
		if err != nil {
			l.logf("malformed STATEINFO from peer %d: %v", p.id, err)
			return
		}
		l.handleStateInfo(msg)

	case wire.CmdDuplicate:
		l.handleDuplicate(p)

	default:
		// Unknown opcode: discarded (§4.2, §7).
	}
}
