package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackPatchedLength(t *testing.T) {
	frame := EncodeHello(Hello{Username: "u", Password: "p", MyCanonicalHost: "host", MyListenPort: 9999})
	n, ok := PeekDeclaredLength(frame)
	require.True(t, ok)
	assert.Equal(t, len(frame), int(n))
}

func TestDecodeFrameRejectsShortDeclaredLength(t *testing.T) {
	_, err := DecodeFrame([]byte{0, 5, 1, 0, 0, 1})
	assert.Error(t, err)
}

func TestDecodeFrameRejectsLengthMismatch(t *testing.T) {
	frame := EncodeClaim()
	frame[1] = frame[1] + 1 // corrupt declared length
	_, err := DecodeFrame(frame)
	assert.Error(t, err)
}

func TestHelloRoundTrip(t *testing.T) {
	cases := []Hello{
		{Username: "alice", Password: "secret", MyCanonicalHost: "node-a.local", MyListenPort: 2701},
		{Username: "", Password: "", MyCanonicalHost: "", MyListenPort: 0},
	}
	for _, want := range cases {
		frame := EncodeHello(want)
		decoded, err := DecodeFrame(frame)
		require.NoError(t, err)
		assert.Equal(t, CmdHello, decoded.Command)
		assert.Equal(t, Version, decoded.Version)
		got, err := DecodeHello(decoded.Payload)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestWelcomeRoundTrip(t *testing.T) {
	want := Welcome{MyCanonicalHost: "node-b.local", MyListenPort: 2702}
	decoded, err := DecodeFrame(EncodeWelcome(want))
	require.NoError(t, err)
	got, err := DecodeWelcome(decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClientListRoundTrip(t *testing.T) {
	want := ClientList{
		Flags:      FlagForwardable | FlagHasActiveRef,
		ActiveHost: "node-a.local",
		ActivePort: 2701,
		Entries: []ClientListEntry{
			{Host: "node-b.local", Port: 2702},
			{Host: "node-c.local", Port: 2703},
		},
	}
	frame := EncodeClientList(want)
	decoded, err := DecodeFrame(frame)
	require.NoError(t, err)
	got, err := DecodeClientList(decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClientListEmptyEntries(t *testing.T) {
	want := ClientList{Flags: FlagIAmActive}
	decoded, err := DecodeFrame(EncodeClientList(want))
	require.NoError(t, err)
	got, err := DecodeClientList(decoded.Payload)
	require.NoError(t, err)
	assert.Empty(t, got.Entries)
	assert.Equal(t, byte(FlagIAmActive), got.Flags)
}

func TestClientListForwardingClearsFlagInPlace(t *testing.T) {
	frame := EncodeClientList(ClientList{Flags: FlagForwardable | FlagIAmActive})
	flags, err := PeekClientListFlags(frame)
	require.NoError(t, err)
	require.Equal(t, uint16(FlagForwardable|FlagIAmActive), flags)

	cleared := flags &^ FlagForwardable
	require.NoError(t, SetClientListFlagsInPlace(frame, cleared))

	decoded, err := DecodeFrame(frame)
	require.NoError(t, err)
	got, err := DecodeClientList(decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, byte(FlagIAmActive), got.Flags)

	// Back-patching law (§8): the frame's declared length still equals
	// its byte count after the in-place flag edit.
	n, ok := PeekDeclaredLength(frame)
	require.True(t, ok)
	assert.Equal(t, len(frame), int(n))
}

func TestClientListForwardCompatibleTailIsSkipped(t *testing.T) {
	// Build a frame by hand with one entry whose declared length is
	// longer than host+port, simulating a newer encoder's extra field.
	p := beginFrame(CmdClientList, 0)
	p.PackUshort(1) // count
	p.PackUshort(0) // flags
	entry := NewPacketBuffer()
	entry.PackString("node-x.local")
	entry.PackUshort(2704)
	entry.PackByte(0xFF) // unknown extra field from a future encoder
	p.PackUshort(uint16(entry.BytesWritten()))
	p.Append(entry.Bytes())
	frame := finishFrame(p)

	decoded, err := DecodeFrame(frame)
	require.NoError(t, err)
	got, err := DecodeClientList(decoded.Payload)
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "node-x.local", got.Entries[0].Host)
	assert.Equal(t, uint16(2704), got.Entries[0].Port)
}

func TestClaimRoundTrip(t *testing.T) {
	decoded, err := DecodeFrame(EncodeClaim())
	require.NoError(t, err)
	assert.Equal(t, CmdClaim, decoded.Command)
	_, err = DecodeClaim(decoded.Payload)
	assert.NoError(t, err)
}

func TestNewMasterRoundTrip(t *testing.T) {
	want := NewMaster{NewActiveHost: "node-b.local", NewActivePort: 2702}
	decoded, err := DecodeFrame(EncodeNewMaster(want))
	require.NoError(t, err)
	got, err := DecodeNewMaster(decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStateInfoRoundTrip(t *testing.T) {
	want := StateInfo{
		ActiveHost: "node-a.local",
		ActivePort: 2701,
		Entries: []StateEntry{
			{StateID: 42, Data: []byte{0x01, 0x02, 0x03}},
			{StateID: 7, Data: nil},
		},
	}
	decoded, err := DecodeFrame(EncodeStateInfo(want))
	require.NoError(t, err)
	got, err := DecodeStateInfo(decoded.Payload)
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, want.Entries[0].StateID, got.Entries[0].StateID)
	assert.Equal(t, want.Entries[0].Data, got.Entries[0].Data)
	assert.Equal(t, uint16(7), got.Entries[1].StateID)
	assert.Empty(t, got.Entries[1].Data)
}

func TestDuplicateHasEmptyPayload(t *testing.T) {
	decoded, err := DecodeFrame(EncodeDuplicate())
	require.NoError(t, err)
	assert.Equal(t, CmdDuplicate, decoded.Command)
	assert.Empty(t, decoded.Payload)
}

func TestUnknownCommandIsStillFramedCorrectly(t *testing.T) {
	p := beginFrame(Command(999), 0)
	p.PackString("anything")
	frame := finishFrame(p)
	decoded, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, Command(999), decoded.Command)
	assert.Contains(t, decoded.Command.String(), "UNKNOWN")
}
