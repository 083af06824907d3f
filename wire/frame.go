package wire

import "fmt"

// Command identifies one of the seven message kinds (§4.2).
type Command uint16

const (
	CmdHello       Command = 1
	CmdWelcome     Command = 2
	CmdClientList  Command = 3
	CmdClaim       Command = 4
	CmdNewMaster   Command = 5
	CmdStateInfo   Command = 6
	CmdDuplicate   Command = 7
)

func (c Command) String() string {
	switch c {
	case CmdHello:
		return "HELLO"
	case CmdWelcome:
		return "WELCOME"
	case CmdClientList:
		return "CLIENT_LIST"
	case CmdClaim:
		return "CLAIM"
	case CmdNewMaster:
		return "NEW_MASTER"
	case CmdStateInfo:
		return "STATEINFO"
	case CmdDuplicate:
		return "DUPLICATE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(c))
	}
}

// CLIENT_LIST flag bits (§4.4).
const (
	FlagForwardable  = 1 << 0
	FlagIAmActive    = 1 << 1
	FlagHasActiveRef = 1 << 2
)

// Version is the only defined wire version.
const Version byte = 1

// headerSize is the fixed 6-byte header: length(2) + version(1) + flags(1)
// + command(2).
const headerSize = 6

// MinFrameLength is the smallest value a frame's declared total length may
// legally carry (§4.1: "The decoder must reject a frame whose declared
// length is less than 6"). Exported so the reassembly loop can reject an
// undersized declared length before it ever reaches DecodeFrame, rather
// than trying to slice a body out of fewer than headerSize bytes.
const MinFrameLength = headerSize

// lengthOffset is the absolute offset of the back-patched length field.
const lengthOffset = 0
const flagsOffset = 3

// Frame is a decoded header plus its raw payload bytes (payload
// interpretation is command-specific, done by the Encode*/Decode*
// functions below).
type Frame struct {
	Version byte
	Flags   byte
	Command Command
	Payload []byte
}

// beginFrame writes a placeholder header (length=0) and returns the
// buffer positioned to receive the payload.
func beginFrame(cmd Command, flags byte) *PacketBuffer {
	p := NewPacketBuffer()
	p.PackUshort(0) // length, back-patched in finishFrame
	p.PackByte(Version)
	p.PackByte(flags)
	p.PackUshort(uint16(cmd))
	return p
}

// finishFrame back-patches the total length at offset 0. This is the
// "encoder writes 0, appends the body, then pokes the final length"
// technique from §4.1.
func finishFrame(p *PacketBuffer) []byte {
	total := p.BytesWritten()
	_ = p.PokeUshort(lengthOffset, uint16(total))
	return p.Bytes()
}

// DecodeFrame parses a complete frame (exactly N bytes, as determined by
// the caller's reassembly loop) into its header and payload. It rejects a
// declared length below the minimum header size.
func DecodeFrame(b []byte) (Frame, error) {
	p := WrapPacketBuffer(b)
	n, err := p.UnpackUshort()
	if err != nil {
		return Frame{}, err
	}
	if n < headerSize {
		return Frame{}, fmt.Errorf("wire: frame length %d below minimum header size %d", n, headerSize)
	}
	if int(n) != len(b) {
		return Frame{}, fmt.Errorf("wire: frame length %d does not match buffer size %d", n, len(b))
	}
	version, err := p.UnpackByte()
	if err != nil {
		return Frame{}, err
	}
	flags, err := p.UnpackByte()
	if err != nil {
		return Frame{}, err
	}
	cmd, err := p.UnpackUshort()
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Version: version,
		Flags:   flags,
		Command: Command(cmd),
		Payload: b[headerSize:],
	}, nil
}

// PeekDeclaredLength reads the length field of a buffer that may not yet
// hold a full frame, returning ok=false if fewer than 2 bytes are
// available.
func PeekDeclaredLength(b []byte) (n uint16, ok bool) {
	if len(b) < 2 {
		return 0, false
	}
	return uint16(b[0])<<8 | uint16(b[1]), true
}
