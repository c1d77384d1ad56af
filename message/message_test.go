package message_test

import (
	"testing"

	"github.com/DmitrySigaev/RayPlatform/message"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip_NoCRC(t *testing.T) {
	payload := []byte{0xAB, 0xCD, 0xEF, 0x01}
	env := message.New(0, 2, 5, payload)
	buf := make([]byte, len(payload)+message.HeaderBytes)

	n, err := env.Pack(buf, false)
	require.NoError(t, err)

	var got message.Envelope
	require.NoError(t, got.Unpack(buf, n, false))
	require.Equal(t, payload, got.Payload)
}

func TestPackUnpackRoundTrip_WithCRC(t *testing.T) {
	payload := []byte("hello rank")
	env := message.New(1, 3, 42, payload)
	buf := make([]byte, len(payload)+message.HeaderBytes)

	n, err := env.Pack(buf, true)
	require.NoError(t, err)
	require.True(t, env.Meta.HasCRC)

	var got message.Envelope
	require.NoError(t, got.Unpack(buf, n, true))
	require.Equal(t, payload, got.Payload)
}

func TestCRCFlipDetectsCorruption(t *testing.T) {
	payload := []byte("integrity-check-me")
	env := message.New(0, 1, 7, payload)
	buf := make([]byte, len(payload)+message.HeaderBytes)
	n, err := env.Pack(buf, true)
	require.NoError(t, err)

	buf[0] ^= 0x01 // flip first payload byte

	var got message.Envelope
	err = got.Unpack(buf, n, true)
	require.ErrorIs(t, err, message.ErrCorrupted)
}

func TestRoutingStampRoundTrip(t *testing.T) {
	const appTag message.Tag = 5
	stamped := message.StampTag(appTag)
	require.True(t, message.IsRouted(stamped))
	require.Equal(t, appTag, message.UnstampTag(stamped))
	require.False(t, message.IsRouted(appTag))
}

func TestMetadataPresence(t *testing.T) {
	m := message.NewMetadata()
	require.False(t, m.HasActor())
	require.False(t, m.HasRouting())
	require.False(t, m.HasMiniRank())

	m.ActorDestination = 3
	require.True(t, m.HasActor())
}

func TestCompressRoundTrip(t *testing.T) {
	payload := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	packed, err := message.CompressPayload(payload)
	require.NoError(t, err)
	require.Less(t, len(packed), len(payload))

	out, err := message.DecompressPayload(packed)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}
