// Package ringalloc implements the fixed-capacity wraparound buffer pool
// each engine uses for the message payloads it sends or forwards: a fixed-size
// array of K equally-sized slots, cyclically indexed by a monotonically
// advancing counter, reclaimed implicitly by wraparound rather than by any
// explicit free.
//
// Grounded in spirit on aistore's memsys (reusable buffer slabs), but kept
// to the much simpler shape spec.md actually asks for: no pressure-based
// GC, no variable slab classes, just K slots of slotBytes reused in order —
// the shape RayPlatform's RingAllocator itself has.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ringalloc

import (
	"github.com/DmitrySigaev/RayPlatform/cmn/cos"
	"github.com/DmitrySigaev/RayPlatform/cmn/debug"
)

// Allocator hands out fixed-size slots from a pre-allocated ring.  Not
// safe for concurrent use: the engine is always its sole, single-threaded
// owner. An engine holds a single allocator, shared by its outbound
// messages and the copies it forwards; inbound payloads are not allocated
// from it.
type Allocator struct {
	slots     [][]byte
	k         int
	next      int
	count     int // allocations so far in the current tick
	slotBytes int
}

// New builds a ring of K slots, each slotBytes long.
func New(k, slotBytes int) *Allocator {
	debug.Assert(k > 0 && slotBytes > 0, "ringalloc: k and slotBytes must be positive")
	a := &Allocator{slots: make([][]byte, k), k: k, slotBytes: slotBytes}
	for i := range a.slots {
		a.slots[i] = make([]byte, slotBytes)
	}
	return a
}

// Allocate returns the next slot and advances the ring counter. Slots are
// not zeroed between reuses; callers must fully initialize before use.
// Fatal (per spec §7, §8 "Allocator bound") if more than K allocations
// happen within a single tick: the (K+1)th call returns an error instead of
// a slot, and the caller fails the tick rather than silently overwrite a
// slot still referenced by an in-flight outbound message.
func (a *Allocator) Allocate() ([]byte, error) {
	if a.count >= a.k {
		return nil, cos.Fatalf("ringalloc: %d allocations exceeds capacity %d in one tick", a.count+1, a.k)
	}
	slot := a.slots[a.next]
	a.next = (a.next + 1) % a.k
	a.count++
	return slot, nil
}

// Count returns the number of allocations since the last ResetCount.
func (a *Allocator) Count() int { return a.count }

// Cap returns K, the ring's slot capacity.
func (a *Allocator) Cap() int { return a.k }

// ResetCount is called exactly once per tick by the engine, after all of
// that tick's outbound messages have been hashed out to the transport.
func (a *Allocator) ResetCount() { a.count = 0 }
