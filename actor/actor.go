// Package actor implements the actor playground: a flat, indexed table of
// lightweight per-rank actors addressed by (rank, actorID), with spawn,
// tombstoning, and slot reclamation. Grounded on RayPlatform's
// ComputeCore::spawnActor / Playground::hasAliveActors (ComputeCore.cpp,
// the `m_playground` field and `useActorModelOnly` rule: a rank with the
// actor model enabled is alive exactly as long as it has a live actor) and,
// for the map-plus-free-list table idiom, on aistore's meta.NodeMap (a
// handle-keyed map with lifecycle flags rather than a raw slice).
/*
 * Copyright (c) 2018-2022, NVIDIA CORPORATION. All rights reserved.
 */
package actor

import (
	"sync"

	"github.com/DmitrySigaev/RayPlatform/cmn/cos"
	"github.com/DmitrySigaev/RayPlatform/cmn/nlog"
	"github.com/DmitrySigaev/RayPlatform/message"
)

// ID addresses one actor local to a rank; combined with its owning Rank it
// forms the playground's global address, (rank, actorID) per spec §4.7.
type ID int32

// Handler receives messages addressed to this actor and may return outbound
// envelopes (typically messages to other actors).
type Handler interface {
	Receive(env *message.Envelope) []*message.Envelope
}

type slot struct {
	handler Handler
	alive   bool
}

// Playground is the flat per-rank actor table. Not safe for concurrent
// mutation from outside the owning engine's tick (spec §5's single-threaded
// rule extends to actor dispatch); the mutex guards only test-time access
// patterns that don't go through the tick.
type Playground struct {
	self message.Rank

	mu    sync.Mutex
	table []slot
	free  []ID // free-list of tombstoned slots available for reuse
}

func New(self message.Rank) *Playground {
	return &Playground{self: self}
}

// Spawn installs a new actor, reusing a tombstoned slot if one is free,
// and returns its local ID — ComputeCore::spawnActor.
func (p *Playground) Spawn(h Handler) ID {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		p.table[id] = slot{handler: h, alive: true}
		return id
	}
	p.table = append(p.table, slot{handler: h, alive: true})
	return ID(len(p.table) - 1)
}

// Tombstone marks actorID dead and returns its slot to the free-list for
// reclamation by a future Spawn.
func (p *Playground) Tombstone(id ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(id) >= len(p.table) || !p.table[id].alive {
		return
	}
	p.table[id].handler = nil
	p.table[id].alive = false
	p.free = append(p.free, id)
}

// Dispatch routes env to the local actor named by its ActorDestination
// metadata field. If that actor doesn't exist or is tombstoned, it logs an
// error and drops the message, returning nil; it never panics.
func (p *Playground) Dispatch(env *message.Envelope) []*message.Envelope {
	id := ID(env.Meta.ActorDestination)
	p.mu.Lock()
	if int(id) < 0 || int(id) >= len(p.table) || !p.table[id].alive {
		p.mu.Unlock()
		nlog.Errorf("%v", cos.Fatalf("actor: message for dead or unknown actor %d on rank %d", id, p.self))
		return nil
	}
	h := p.table[id].handler
	p.mu.Unlock()
	return h.Receive(env)
}

// IsAlive reports whether the playground holds at least one live actor.
// The engine does not consult it: an engine's liveness depends only on
// Stop and the router's drain window (see engine.Engine.Run), whether or
// not any actor is live.
func (p *Playground) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.table {
		if s.alive {
			return true
		}
	}
	return false
}

// Count reports the number of currently-live actors.
func (p *Playground) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.table {
		if s.alive {
			n++
		}
	}
	return n
}
