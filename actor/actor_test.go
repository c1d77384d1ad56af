package actor_test

import (
	"testing"

	"github.com/DmitrySigaev/RayPlatform/actor"
	"github.com/DmitrySigaev/RayPlatform/message"
	"github.com/stretchr/testify/require"
)

type echoActor struct {
	received []*message.Envelope
}

func (e *echoActor) Receive(env *message.Envelope) []*message.Envelope {
	e.received = append(e.received, env)
	return nil
}

func TestSpawnAndDispatch(t *testing.T) {
	pg := actor.New(0)
	a := &echoActor{}
	id := pg.Spawn(a)
	require.True(t, pg.IsAlive())
	require.Equal(t, 1, pg.Count())

	env := message.New(1, 0, 50, []byte("hi"))
	env.Meta.ActorDestination = int32(id)
	pg.Dispatch(env)
	require.Len(t, a.received, 1)
}

func TestTombstoneAndReclaim(t *testing.T) {
	pg := actor.New(0)
	a1 := &echoActor{}
	a2 := &echoActor{}
	id1 := pg.Spawn(a1)
	pg.Tombstone(id1)
	require.False(t, pg.IsAlive())

	id2 := pg.Spawn(a2)
	require.Equal(t, id1, id2, "tombstoned slot should be reused")
	require.True(t, pg.IsAlive())
}

func TestDispatchToDeadActorDoesNotPanic(t *testing.T) {
	pg := actor.New(0)
	a := &echoActor{}
	id := pg.Spawn(a)
	pg.Tombstone(id)

	env := message.New(1, 0, 50, nil)
	env.Meta.ActorDestination = int32(id)
	require.NotPanics(t, func() { pg.Dispatch(env) })
}

func TestMultipleActorsIndependentAddressing(t *testing.T) {
	pg := actor.New(0)
	a1, a2 := &echoActor{}, &echoActor{}
	id1 := pg.Spawn(a1)
	id2 := pg.Spawn(a2)
	require.NotEqual(t, id1, id2)

	env := message.New(1, 0, 50, nil)
	env.Meta.ActorDestination = int32(id2)
	pg.Dispatch(env)
	require.Len(t, a1.received, 0)
	require.Len(t, a2.received, 1)
}
