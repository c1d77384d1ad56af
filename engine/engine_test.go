package engine_test

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/DmitrySigaev/RayPlatform/actor"
	"github.com/DmitrySigaev/RayPlatform/engine"
	"github.com/DmitrySigaev/RayPlatform/message"
	"github.com/DmitrySigaev/RayPlatform/registry"
	"github.com/DmitrySigaev/RayPlatform/router"
	"github.com/DmitrySigaev/RayPlatform/switchman"
	"github.com/DmitrySigaev/RayPlatform/transport/loopback"
	"github.com/DmitrySigaev/RayPlatform/vcomm"
)

const completionTag message.Tag = 999

func newTrio(t *testing.T, cfg engine.Config) (net *loopback.Network, engines [3]*engine.Engine, tags [3]message.Tag, handlers [3]*[]*message.Envelope) {
	net = loopback.NewNetwork()
	for r := 0; r < 3; r++ {
		a := net.Register(message.Rank(r))
		reg := registry.New()
		h := reg.AllocatePluginHandle()
		require.NoError(t, reg.BeginRegistration(h))
		tag, err := reg.AllocateTagHandle(h)
		require.NoError(t, err)
		tags[r] = tag

		received := &[]*message.Envelope{}
		handlers[r] = received
		require.NoError(t, reg.BindTagHandler(h, tag, "", func(env *message.Envelope) []*message.Envelope {
			*received = append(*received, env)
			return nil
		}))
		require.NoError(t, reg.EndRegistration(h))

		sm := switchman.New(message.Rank(r), 3, completionTag)
		pg := actor.New(message.Rank(r))
		vc := vcomm.New(message.Rank(r))
		engines[r] = engine.New(message.Rank(r), cfg, a, reg, sm, pg, vc)
	}
	return net, engines, tags, handlers
}

// Two-hop route over a ring — spec §8 scenario 1, driven through the full
// engine tick rather than the router package directly.
func TestEngineTwoHopRouteAndDispatchOnce(t *testing.T) {
	cfg := engine.Config{Size: 4, RingSlots: 4, RouterEnabled: true, Router: router.Config{Type: router.Ring}}
	_, engines, tags, handlers := newTrio(t, cfg)

	env := message.New(0, 2, tags[2], []byte{0xAB})
	require.NoError(t, engines[0].Send(env))

	// rank 1 receives the stamped message, forwards it on its next tick
	require.NoError(t, engines[1].Tick())
	// rank 2 receives the forward and dispatches
	require.NoError(t, engines[2].Tick())

	require.Len(t, *handlers[2], 1)
	got := (*handlers[2])[0]
	require.Equal(t, message.Rank(0), got.Source)
	require.Equal(t, []byte{0xAB}, got.Payload)
	require.Empty(t, *handlers[1], "rank 1 is only an intermediate hop, never dispatches")
}

// CRC corruption — spec §8 scenario 2: flipping the first payload byte before the receiver's
// verify step must drop the message and bump the corruption counter,
// without invoking the handler.
func TestEngineDropsCorruptedMessage(t *testing.T) {
	cfg := engine.Config{Size: 2, RingSlots: 4, CRC: true}
	net := loopback.NewNetwork()
	a0 := net.Register(0)
	a1 := net.Register(1)

	reg0, reg1 := registry.New(), registry.New()
	h1 := reg1.AllocatePluginHandle()
	require.NoError(t, reg1.BeginRegistration(h1))
	tag, err := reg1.AllocateTagHandle(h1)
	require.NoError(t, err)
	called := false
	require.NoError(t, reg1.BindTagHandler(h1, tag, "", func(*message.Envelope) []*message.Envelope {
		called = true
		return nil
	}))
	require.NoError(t, reg1.EndRegistration(h1))

	e0 := engine.New(0, cfg, a0, reg0, switchman.New(0, 2, completionTag), actor.New(0), vcomm.New(0))
	e1 := engine.New(1, cfg, a1, reg1, switchman.New(1, 2, completionTag), actor.New(1), vcomm.New(1))

	env := message.New(0, 1, tag, []byte{0x01, 0x02, 0x03})
	require.NoError(t, e0.Send(env))
	env.Payload[0] ^= 0xFF // flip every bit of the first payload byte after send, before rank 1's verify

	require.NoError(t, e1.Tick())
	require.False(t, called)

	before := getCounter(t, e1.Metrics.CorruptionTotal)
	require.Equal(t, float64(1), before)
}

// Allocator overflow — spec §8 scenario 6: K=2, a tick producing 3
// outbound messages hits the fatal overflow path without corrupting state.
func TestEngineAllocatorOverflowIsFatal(t *testing.T) {
	cfg := engine.Config{Size: 2, RingSlots: 2}
	net := loopback.NewNetwork()
	a0 := net.Register(0)
	reg0 := registry.New()
	sm0 := switchman.New(0, 2, completionTag)
	h0 := reg0.AllocatePluginHandle()
	require.NoError(t, reg0.BeginRegistration(h0))
	mode, err := reg0.AllocateMasterModeHandle(h0)
	require.NoError(t, err)
	require.NoError(t, reg0.BindMasterModeHandler(h0, mode, "", func() []*message.Envelope {
		out := make([]*message.Envelope, 0, 3)
		for i := 0; i < 3; i++ {
			out = append(out, message.New(0, 1, 7, []byte{byte(i)}))
		}
		return out
	}))
	require.NoError(t, reg0.EndRegistration(h0))
	sm0.AddMasterSwitch(mode, mode, 0)
	sm0.SetMasterMode(mode)

	e0 := engine.New(0, cfg, a0, reg0, sm0, actor.New(0), vcomm.New(0))
	err = e0.Tick()
	require.Error(t, err)
}

// Batching — spec §8 scenario 3, driven through the engine's per-tick
// vcomm.Drain(forceAll) call: 8 workers push a query with nothing else
// happening that tick, so the tick's own force-flush ships exactly one
// outbound message.
func TestEngineForceFlushesIdleTickBatch(t *testing.T) {
	cfg := engine.Config{Size: 2, RingSlots: 4}
	net := loopback.NewNetwork()
	a0 := net.Register(0)
	a3 := net.Register(3)
	reg0 := registry.New()
	vc0 := vcomm.New(0)
	e0 := engine.New(0, cfg, a0, reg0, switchman.New(0, 2, completionTag), actor.New(0), vc0)

	const tag message.Tag = 42
	vc0.Configure(tag, vcomm.TagConfig{ElementsPerQuery: 2, ElementSize: 8, ReplyTag: 43})
	for w := 0; w < 8; w++ {
		elems := make([]byte, 16)
		vc0.PushMessage(w, tag, 3, elems)
	}

	require.NoError(t, e0.Tick())

	env, ok, err := a3.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 8*16, len(env.Payload))
}

func TestRunExitsAfterStopWithRoutingDisabled(t *testing.T) {
	net := loopback.NewNetwork()
	a0 := net.Register(0)
	e0 := engine.New(0, engine.Config{Size: 1, RingSlots: 2}, a0, registry.New(), switchman.New(0, 1, completionTag), actor.New(0), vcomm.New(0))
	e0.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e0.Run(ctx))
}

func getCounter(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
