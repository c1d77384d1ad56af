package httpstream_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DmitrySigaev/RayPlatform/message"
	"github.com/DmitrySigaev/RayPlatform/transport/httpstream"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	addr0 := "127.0.0.1:28901"
	addr1 := "127.0.0.1:28902"

	a0, err := httpstream.New(0, addr0, map[message.Rank]string{1: addr1})
	require.NoError(t, err)
	defer a0.Close()

	a1, err := httpstream.New(1, addr1, map[message.Rank]string{0: addr0})
	require.NoError(t, err)
	defer a1.Close()

	env := message.New(0, 1, 7, []byte("payload"))
	env.Meta.HasCRC = true
	env.Meta.CRC32 = 0xdeadbeef

	require.NoError(t, a0.Send([]*message.Envelope{env}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, ok, rerr := a1.Receive()
		require.NoError(t, rerr)
		if ok {
			require.Equal(t, message.Rank(0), got.Source)
			require.Equal(t, message.Rank(1), got.Destination)
			require.Equal(t, message.Tag(7), got.Tag)
			require.Equal(t, []byte("payload"), got.Payload)
			require.True(t, got.Meta.HasCRC)
			require.Equal(t, uint32(0xdeadbeef), got.Meta.CRC32)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for message to arrive")
}

func TestReceiveEmptyWhenNothingArrived(t *testing.T) {
	a, err := httpstream.New(2, "127.0.0.1:28903", nil)
	require.NoError(t, err)
	defer a.Close()

	_, ok, err := a.Receive()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSendToUnknownPeerDoesNotPanic(t *testing.T) {
	a, err := httpstream.New(3, "127.0.0.1:28904", map[message.Rank]string{})
	require.NoError(t, err)
	defer a.Close()

	err = a.Send([]*message.Envelope{message.New(3, 9, 1, []byte("x"))})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond) // give the sender goroutine a chance to log and return
}
