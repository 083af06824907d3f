package wire

import "fmt"

// Hello is sent by the connector immediately after TCP connect (§4.3).
type Hello struct {
	Username        string
	Password        string
	MyCanonicalHost string
	MyListenPort    uint16
}

func EncodeHello(m Hello) []byte {
	p := beginFrame(CmdHello, 0)
	p.PackString(m.Username)
	p.PackString(m.Password)
	p.PackString(m.MyCanonicalHost)
	p.PackUshort(m.MyListenPort)
	return finishFrame(p)
}

func DecodeHello(payload []byte) (Hello, error) {
	p := WrapPacketBuffer(payload)
	var m Hello
	var err error
	if m.Username, err = p.UnpackString(); err != nil {
		return m, err
	}
	if m.Password, err = p.UnpackString(); err != nil {
		return m, err
	}
	if m.MyCanonicalHost, err = p.UnpackString(); err != nil {
		return m, err
	}
	if m.MyListenPort, err = p.UnpackUshort(); err != nil {
		return m, err
	}
	return m, nil
}

// Welcome is sent by the accepter in reply to an accepted HELLO (§4.3).
type Welcome struct {
	MyCanonicalHost string
	MyListenPort    uint16
}

func EncodeWelcome(m Welcome) []byte {
	p := beginFrame(CmdWelcome, 0)
	p.PackString(m.MyCanonicalHost)
	p.PackUshort(m.MyListenPort)
	return finishFrame(p)
}

func DecodeWelcome(payload []byte) (Welcome, error) {
	p := WrapPacketBuffer(payload)
	var m Welcome
	var err error
	if m.MyCanonicalHost, err = p.UnpackString(); err != nil {
		return m, err
	}
	if m.MyListenPort, err = p.UnpackUshort(); err != nil {
		return m, err
	}
	return m, nil
}

// ClientListEntry is one peer entry inside a CLIENT_LIST (§4.2).
type ClientListEntry struct {
	Host string
	Port uint16
}

// ClientList is the membership gossip message (§4.2, §4.4).
type ClientList struct {
	Flags      byte
	ActiveHost string // only meaningful if Flags&FlagHasActiveRef != 0
	ActivePort uint16
	Entries    []ClientListEntry
}

// EncodeClientList builds a CLIENT_LIST frame. Each entry is written with
// its own length prefix (entryLen covers host+port only here; a future
// encoder could append extra per-entry fields after port and grow
// entryLen accordingly without breaking this decoder, per §4.2's forward
// compatibility note).
func EncodeClientList(m ClientList) []byte {
	// The header's own flags byte (§4.1) is left at 0 here: CLIENT_LIST's
	// flags live in the body word below, which is what DecodeClientList
	// and SetClientListFlagsInPlace both read and rewrite. Packing m.Flags
	// into the header too would just be a second, stale copy nothing ever
	// reads.
	p := beginFrame(CmdClientList, 0)
	p.PackUshort(uint16(len(m.Entries)))
	p.PackUshort(uint16(m.Flags))
	if m.Flags&FlagHasActiveRef != 0 {
		p.PackString(m.ActiveHost)
		p.PackUshort(m.ActivePort)
	}
	for _, e := range m.Entries {
		entry := NewPacketBuffer()
		entry.PackString(e.Host)
		entry.PackUshort(e.Port)
		p.PackUshort(uint16(entry.BytesWritten()))
		p.Append(entry.Bytes())
	}
	return finishFrame(p)
}

func DecodeClientList(payload []byte) (ClientList, error) {
	p := WrapPacketBuffer(payload)
	var m ClientList
	count, err := p.UnpackUshort()
	if err != nil {
		return m, err
	}
	flags, err := p.UnpackUshort()
	if err != nil {
		return m, err
	}
	m.Flags = byte(flags)
	if m.Flags&FlagHasActiveRef != 0 {
		if m.ActiveHost, err = p.UnpackString(); err != nil {
			return m, err
		}
		if m.ActivePort, err = p.UnpackUshort(); err != nil {
			return m, err
		}
	}
	m.Entries = make([]ClientListEntry, 0, count)
	for i := 0; i < int(count); i++ {
		entryLen, err := p.UnpackUshort()
		if err != nil {
			return m, err
		}
		startPos := p.readPos
		host, err := p.UnpackString()
		if err != nil {
			return m, err
		}
		port, err := p.UnpackUshort()
		if err != nil {
			return m, err
		}
		consumed := p.readPos - startPos
		if consumed < int(entryLen) {
			// Forward-compatible tail: a newer encoder appended fields we
			// don't understand yet. Skip them using the entry's own
			// length prefix.
			if err := p.Skip(int(entryLen) - consumed); err != nil {
				return m, err
			}
		} else if consumed > int(entryLen) {
			return m, fmt.Errorf("wire: client_list entry declared %d bytes but decoded %d", entryLen, consumed)
		}
		m.Entries = append(m.Entries, ClientListEntry{Host: host, Port: port})
	}
	return m, nil
}

// SetClientListFlagsInPlace clears/sets the CLIENT_LIST flags word directly in an
// already-encoded frame, which is how forwarding clears FORWARDABLE
// without re-encoding the whole message (§4.4, §9 "Forwarding exactly
// once").
func SetClientListFlagsInPlace(frame []byte, flags uint16) error {
	p := WrapPacketBuffer(frame)
	// flags word sits right after the 6-byte header and the u16 count.
	return p.PokeUshort(headerSize+2, flags)
}

// PeekClientListFlags reads the CLIENT_LIST flags word without decoding
// the rest of the message.
func PeekClientListFlags(frame []byte) (uint16, error) {
	p := WrapPacketBuffer(frame)
	return p.PeekUshort(headerSize + 2)
}

// Claim requests that the recipient's active role be handed over (§4.2).
type Claim struct{}

func EncodeClaim() []byte {
	p := beginFrame(CmdClaim, 0)
	p.PackUshort(0) // reserved
	return finishFrame(p)
}

func DecodeClaim(payload []byte) (Claim, error) {
	p := WrapPacketBuffer(payload)
	if _, err := p.UnpackUshort(); err != nil {
		return Claim{}, err
	}
	return Claim{}, nil
}

// NewMaster announces who the active node now is (§4.2).
type NewMaster struct {
	NewActiveHost string
	NewActivePort uint16
}

func EncodeNewMaster(m NewMaster) []byte {
	p := beginFrame(CmdNewMaster, 0)
	p.PackString(m.NewActiveHost)
	p.PackUshort(m.NewActivePort)
	p.PackUshort(0) // reserved
	return finishFrame(p)
}

func DecodeNewMaster(payload []byte) (NewMaster, error) {
	p := WrapPacketBuffer(payload)
	var m NewMaster
	var err error
	if m.NewActiveHost, err = p.UnpackString(); err != nil {
		return m, err
	}
	if m.NewActivePort, err = p.UnpackUshort(); err != nil {
		return m, err
	}
	if _, err = p.UnpackUshort(); err != nil { // reserved
		return m, err
	}
	return m, nil
}

// StateEntry is one state-provider's contribution to a STATEINFO frame.
// Data is nil when the provider had nothing to offer (§4.7: "(0, id)").
type StateEntry struct {
	StateID uint16
	Data    []byte
}

// StateInfo carries the active node's identity plus a snapshot of every
// registered state provider (§4.2, §4.7).
type StateInfo struct {
	ActiveHost string
	ActivePort uint16
	Entries    []StateEntry
}

func EncodeStateInfo(m StateInfo) []byte {
	p := beginFrame(CmdStateInfo, 0)
	p.PackString(m.ActiveHost)
	p.PackUshort(m.ActivePort)
	p.PackUshort(uint16(len(m.Entries)))
	for _, e := range m.Entries {
		p.PackUshort(uint16(len(e.Data)))
		p.PackUshort(e.StateID)
		p.buf = append(p.buf, e.Data...)
	}
	return finishFrame(p)
}

func DecodeStateInfo(payload []byte) (StateInfo, error) {
	p := WrapPacketBuffer(payload)
	var m StateInfo
	var err error
	if m.ActiveHost, err = p.UnpackString(); err != nil {
		return m, err
	}
	if m.ActivePort, err = p.UnpackUshort(); err != nil {
		return m, err
	}
	n, err := p.UnpackUshort()
	if err != nil {
		return m, err
	}
	m.Entries = make([]StateEntry, 0, n)
	for i := 0; i < int(n); i++ {
		dataLen, err := p.UnpackUshort()
		if err != nil {
			return m, err
		}
		id, err := p.UnpackUshort()
		if err != nil {
			return m, err
		}
		var data []byte
		if dataLen > 0 {
			if p.readPos+int(dataLen) > len(p.buf) {
				return m, fmt.Errorf("wire: stateinfo entry declared %d bytes, short buffer", dataLen)
			}
			data = make([]byte, dataLen)
			copy(data, p.buf[p.readPos:p.readPos+int(dataLen)])
			p.readPos += int(dataLen)
		}
		m.Entries = append(m.Entries, StateEntry{StateID: id, Data: data})
	}
	return m, nil
}

// Duplicate has an empty payload; it tells the recipient its identity
// conflicts with an existing peer (§4.2).
type Duplicate struct{}

func EncodeDuplicate() []byte {
	return finishFrame(beginFrame(CmdDuplicate, 0))
}
