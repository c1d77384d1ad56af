// Package vcomm implements the virtual communicator: collating many small
// homogeneous "worker" queries into single batched transport messages, and
// demultiplexing replies back to the workers that issued them. Grounded on
// RayPlatform's VirtualCommunicator (pushMessage / isMessageProcessed /
// getMessageResponseElements — the spec names these operations directly)
// and, for the per-destination FIFO bucket, on aistore's transport/bundle
// Streams type (a per-node-ID structure flushed independently) — the FIFO
// itself is lifted from the hioload-ws pack member's
// github.com/eapache/queue, a ring-buffer queue the aistore stream
// implementation doesn't need (it flushes via unbounded channels) but
// which is the right O(1) push/pop shape for an explicit, boundable
// bucket.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package vcomm

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/DmitrySigaev/RayPlatform/cmn/debug"
	"github.com/DmitrySigaev/RayPlatform/message"
)

// TagConfig describes one tag's fixed query shape: how many elements a
// query carries and how big each element is, plus the tag the batched
// reply comes back on.
type TagConfig struct {
	ElementsPerQuery int
	ElementSize      int
	ReplyTag         message.Tag
}

func (c TagConfig) queryBytes() int { return c.ElementsPerQuery * c.ElementSize }

type query struct {
	workerID int
	elements []byte
}

type bucketKey struct {
	tag message.Tag
	dst message.Rank
}

type bucket struct {
	cfg     TagConfig
	pending *queue.Queue // of query
}

func (b *bucket) queryCount() int { return b.pending.Length() }
func (b *bucket) byteLen() int    { return b.queryCount() * b.cfg.queryBytes() }

// VirtualCommunicator batches per-(tag, destination) queries and demuxes
// replies back to workers by id. Single-threaded owner per spec §5 (the
// engine's tick goroutine); the mutex here only guards against a worker
// being driven from outside the tick in tests.
type VirtualCommunicator struct {
	self message.Rank

	mu      sync.Mutex
	configs map[message.Tag]TagConfig
	buckets map[bucketKey]*bucket
	order   []bucketKey // round-robin flush order

	waiting    map[int]bucketKey   // workerID -> bucket it's waiting in
	replies    map[int][]byte      // workerID -> its response chunk, once delivered
	done       map[int]bool
	pendingIDs map[bucketKey][]int // flushed bucket -> worker ids in flush order, until the reply lands
}

func New(self message.Rank) *VirtualCommunicator {
	return &VirtualCommunicator{
		self:       self,
		configs:    make(map[message.Tag]TagConfig),
		buckets:    make(map[bucketKey]*bucket),
		waiting:    make(map[int]bucketKey),
		replies:    make(map[int][]byte),
		done:       make(map[int]bool),
		pendingIDs: make(map[bucketKey][]int),
	}
}

// Configure registers a tag's query shape; must be called before any
// PushMessage for that tag.
func (v *VirtualCommunicator) Configure(tag message.Tag, cfg TagConfig) {
	v.mu.Lock()
	v.configs[tag] = cfg
	v.mu.Unlock()
}

// PushMessage enqueues workerID's query elements into the (tag,
// destination) bucket, per spec §4.6.
func (v *VirtualCommunicator) PushMessage(workerID int, tag message.Tag, dst message.Rank, elements []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	cfg, ok := v.configs[tag]
	debug.Assert(ok, "vcomm: push for unconfigured tag")
	debug.Assert(len(elements) == cfg.queryBytes(), "vcomm: query size mismatch")

	key := bucketKey{tag, dst}
	b, ok := v.buckets[key]
	if !ok {
		b = &bucket{cfg: cfg, pending: queue.New()}
		v.buckets[key] = b
		v.order = append(v.order, key)
	}
	b.pending.Add(query{workerID: workerID, elements: elements})
	v.waiting[workerID] = key
	delete(v.done, workerID)
	delete(v.replies, workerID)
}

// Drain flushes every bucket that either exceeds MAX_PAYLOAD_BYTES if one
// more query were added, or is forced by forceAll (the engine passes true
// when no worker produced a message this tick, preventing deadlock per
// spec §4.6). Buckets are visited in round-robin (registration) order for
// fairness. Returns one outbound envelope per flushed bucket.
func (v *VirtualCommunicator) Drain(forceAll bool) []*message.Envelope {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []*message.Envelope
	for _, key := range v.order {
		b := v.buckets[key]
		if b.queryCount() == 0 {
			continue
		}
		wouldOverflow := b.byteLen()+b.cfg.queryBytes() > message.MaxPayloadBytes
		if !forceAll && !wouldOverflow {
			continue
		}
		out = append(out, v.flushLocked(key, b))
	}
	return out
}

func (v *VirtualCommunicator) flushLocked(key bucketKey, b *bucket) *message.Envelope {
	n := b.queryCount()
	payload := make([]byte, 0, n*b.cfg.queryBytes())
	ids := make([]int, 0, n)
	for b.pending.Length() > 0 {
		q := b.pending.Peek().(query)
		b.pending.Remove()
		payload = append(payload, q.elements...)
		ids = append(ids, q.workerID)
	}
	env := message.New(v.self, key.dst, key.tag, payload)
	v.pendingIDs[key] = ids
	return env
}

// OnReply splits a batched reply's payload back into per-query chunks,
// positionally paired with the queries as they were pushed (spec §4.6
// ordering guarantee), and delivers each chunk to its worker.
func (v *VirtualCommunicator) OnReply(cfg TagConfig, originalQueryTag message.Tag, dst message.Rank, reply []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := bucketKey{originalQueryTag, dst}
	ids, ok := v.pendingIDs[key]
	if !ok {
		return
	}
	delete(v.pendingIDs, key)

	elemPer := cfg.ElementsPerQuery * cfg.ElementSize
	for i, id := range ids {
		lo, hi := i*elemPer, (i+1)*elemPer
		if hi > len(reply) {
			break
		}
		v.replies[id] = reply[lo:hi]
		v.done[id] = true
		delete(v.waiting, id)
	}
}

func (v *VirtualCommunicator) IsMessageProcessed(workerID int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.done[workerID]
}

func (v *VirtualCommunicator) GetMessageResponseElements(workerID int) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.replies[workerID]
}
