package router_test

import (
	"testing"
	"time"

	"github.com/DmitrySigaev/RayPlatform/message"
	"github.com/DmitrySigaev/RayPlatform/ringalloc"
	"github.com/DmitrySigaev/RayPlatform/router"
	"github.com/stretchr/testify/require"
)

// Two-hop route over a ring of 4 — spec §8 scenario 1.
func TestRingTwoHopRoute(t *testing.T) {
	const n = 4
	r0 := router.New(0)
	r0.Enable(n, router.Config{Type: router.Ring})
	r1 := router.New(1)
	r1.Enable(n, router.Config{Type: router.Ring})

	env := message.New(0, 2, 5, []byte{0xAB})
	r0.StampOutbound(env)
	require.Equal(t, message.Rank(1), env.Destination)
	require.True(t, message.IsRouted(env.Tag))
	require.EqualValues(t, 16389, env.Tag)

	alloc := ringalloc.New(4, 256)
	fwd, isFinal, err := r1.RouteInbound(env, alloc)
	require.NoError(t, err)
	require.False(t, isFinal)
	require.Equal(t, message.Rank(2), fwd.Destination)
	require.Equal(t, message.Rank(1), fwd.Source)
	require.EqualValues(t, 16389, fwd.Tag)

	r2 := router.New(2)
	r2.Enable(n, router.Config{Type: router.Ring})
	final, isFinal2, err := r2.RouteInbound(fwd, alloc)
	require.NoError(t, err)
	require.True(t, isFinal2)
	require.Equal(t, message.Rank(0), final.Source)
	require.EqualValues(t, 5, final.Tag)
	require.Equal(t, []byte{0xAB}, final.Payload)
}

func TestStampingIsIdempotent(t *testing.T) {
	r0 := router.New(0)
	r0.Enable(8, router.Config{Type: router.Ring})
	env := message.New(0, 4, 1, nil)
	r0.StampOutbound(env)
	tagAfterFirst := env.Tag
	destAfterFirst := env.Destination

	r0.StampOutbound(env) // identity per spec
	require.Equal(t, tagAfterFirst, env.Tag)
	require.Equal(t, destAfterFirst, env.Destination)
}

func TestCompleteGraphNeverStamps(t *testing.T) {
	r0 := router.New(0)
	r0.Enable(4, router.Config{Type: router.Complete})
	env := message.New(0, 3, 9, nil)
	r0.StampOutbound(env)
	require.False(t, message.IsRouted(env.Tag))
	require.Equal(t, message.Rank(3), env.Destination)
}

func TestDrainWindow(t *testing.T) {
	r := router.New(0)
	r.Enable(4, router.Config{Type: router.Ring, DrainWindow: 20 * time.Millisecond})
	require.False(t, r.Draining())
	r.Stop()
	require.True(t, r.Draining())
	time.Sleep(30 * time.Millisecond)
	require.False(t, r.Draining())
}

func TestHypercubeAdjacency(t *testing.T) {
	g := router.NewConnectionGraph(8, router.Hypercube, 0)
	require.True(t, g.IsConnected(0, 1))
	require.True(t, g.IsConnected(0, 2))
	require.True(t, g.IsConnected(0, 4))
	require.False(t, g.IsConnected(0, 3))
	require.Equal(t, message.Rank(3), g.NextHop(7, 3, 7)) // flips bit 2 (4): 7^4=3
}
