package coap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripWithUriPathAndPayload(t *testing.T) {
	p := &Packet{
		Type:      TypeConfirmable,
		Code:      CodePOST,
		MessageID: 42,
		Token:     []byte{0xAB, 0xCD},
		UriPath:   []string{"e", "my-event", "0"},
		Payload:   []byte(`{"ok":true}`),
	}
	wire, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, p.Type, got.Type)
	require.Equal(t, p.Code, got.Code)
	require.Equal(t, p.MessageID, got.MessageID)
	require.Equal(t, p.Token, got.Token)
	require.Equal(t, p.UriPath, got.UriPath)
	require.Equal(t, p.Payload, got.Payload)
}

func TestEncodeDecodeNoPayloadNoOptions(t *testing.T) {
	p := &Packet{
		Type:      TypeConfirmable,
		Code:      CodeEmpty,
		MessageID: 7,
	}
	wire, err := Encode(p)
	require.NoError(t, err)
	require.Len(t, wire, 4)

	got, err := Decode(wire)
	require.NoError(t, err)
	require.Empty(t, got.UriPath)
	require.Empty(t, got.Payload)
	require.True(t, got.IsAck() == false)
}

func TestIsAck(t *testing.T) {
	p := &Packet{Type: TypeAcknowledgement, Code: CodeEmpty, MessageID: 9}
	wire, err := Encode(p)
	require.NoError(t, err)
	got, err := Decode(wire)
	require.NoError(t, err)
	require.True(t, got.IsAck())
}

func TestDecodeRejectsTooShort(t *testing.T) {
	_, err := Decode([]byte{0x40, 0x01})
	require.Error(t, err)
}

func TestHelloPayloadEncode(t *testing.T) {
	h := HelloPayload{ProductID: 3, FirmwareVersion: 101, PlatformID: 6}
	copy(h.DeviceID[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	buf := h.Encode()
	require.Len(t, buf, 22)
	require.Equal(t, []byte{0, 3}, buf[0:2])
	require.Equal(t, []byte{0, 101}, buf[2:4])
	require.Equal(t, []byte{0, 0}, buf[4:6])
	require.Equal(t, []byte{0, 6}, buf[6:8])
	require.Equal(t, []byte{0, 12}, buf[8:10])
	require.Equal(t, h.DeviceID[:], buf[10:])
}
