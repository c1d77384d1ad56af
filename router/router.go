// Package router implements the overlay routing layer: stamping outbound
// messages whose (source, destination) pair isn't directly connected, and
// forwarding inbound stamped messages one hop closer to their true
// destination. Grounded on RayPlatform's MessageRouter.cpp
// (routeOutcomingMessages / the routing-tag-base arithmetic) and, for the
// forward-with-fresh-buffer idiom, on aistore's transport/bundle
// (Streams.sendOne's reader-reopen-per-destination pattern — here a
// ring-allocator copy-per-forward instead).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package router

import (
	"time"

	"go.uber.org/atomic"

	"github.com/DmitrySigaev/RayPlatform/cmn/nlog"
	"github.com/DmitrySigaev/RayPlatform/message"
	"github.com/DmitrySigaev/RayPlatform/ringalloc"
)

// DefaultDrainWindow is the spec's heuristic constant (§4.2, §9 Open
// Questions): after Stop(), the router keeps forwarding for this long to
// let in-flight messages complete.
const DefaultDrainWindow = 16 * time.Second

type Config struct {
	Type        GraphType
	Degree      int
	DrainWindow time.Duration // 0 means DefaultDrainWindow
}

// Router enables the overlay once, for a fixed pool size, and is
// thereafter immutable except for the stop/drain lifecycle (spec §5:
// "Connection graph: immutable after enable").
type Router struct {
	self    message.Rank
	graph   *ConnectionGraph
	cfg     Config
	enabled bool

	stopping atomic.Bool
	deadline atomic.Int64 // unix nanos; valid once stopping is true
}

// New constructs a disabled router; call Enable to activate the overlay.
func New(self message.Rank) *Router { return &Router{self: self} }

func (r *Router) Enable(n int, cfg Config) {
	if cfg.DrainWindow <= 0 {
		cfg.DrainWindow = DefaultDrainWindow
	}
	r.graph = NewConnectionGraph(n, cfg.Type, cfg.Degree)
	r.cfg = cfg
	r.enabled = true
}

func (r *Router) Enabled() bool { return r.enabled }

// Stop begins the drain window; the engine keeps ticking (and the router
// keeps forwarding) until Draining() returns false.
func (r *Router) Stop() {
	if r.stopping.CompareAndSwap(false, true) {
		r.deadline.Store(time.Now().Add(r.cfg.DrainWindow).UnixNano())
		nlog.Infof("router: draining for %s before full stop", r.cfg.DrainWindow)
	}
}

// Draining reports whether the router is still within its post-Stop
// window. False before Stop is ever called (nothing to drain) and false
// once the window has elapsed.
func (r *Router) Draining() bool {
	if !r.stopping.Load() {
		return false
	}
	return time.Now().UnixNano() < r.deadline.Load()
}

// StampOutbound applies the routing stamp to env if (and only if) it needs
// one: its true (source, destination) pair isn't directly connected, and
// it isn't already stamped. Stamping is idempotent within a hop: a message
// that already carries a stamp is left untouched (spec §4.2, §8 "Routing
// idempotence").
func (r *Router) StampOutbound(env *message.Envelope) {
	if !r.enabled {
		return
	}
	if message.IsRouted(env.Tag) {
		return // identity: already stamped
	}
	if r.graph.IsConnected(env.Source, env.Destination) {
		return
	}
	next := r.graph.NextHop(env.Source, env.Destination, env.Source)
	env.Meta.RoutingSource = int32(env.Source)
	env.Meta.RoutingDestination = int32(env.Destination)
	env.Destination = next
	env.Tag = message.StampTag(env.Tag)
}

// RouteInbound handles an inbound message that already carries a routing
// stamp. If self is the true destination, the stamp is stripped and the
// envelope (with its original source/destination/tag restored) is handed
// back for normal dispatch. Otherwise a fresh forwarded copy is produced
// from alloc — the original inbound slot is left untouched so its
// reclamation is safe — addressed to the next hop, and isFinal is false:
// the caller must push the returned envelope to the outbox and skip
// dispatch for the original.
func (r *Router) RouteInbound(env *message.Envelope, alloc *ringalloc.Allocator) (out *message.Envelope, isFinal bool, err error) {
	trueSrc := message.Rank(env.Meta.RoutingSource)
	trueDst := message.Rank(env.Meta.RoutingDestination)
	appTag := message.UnstampTag(env.Tag)

	if trueDst == r.self {
		env.Source = trueSrc
		env.Destination = trueDst
		env.Tag = appTag
		env.Meta.RoutingSource, env.Meta.RoutingDestination = -1, -1
		return env, true, nil
	}

	next := r.graph.NextHop(trueSrc, trueDst, r.self)
	slot, aerr := alloc.Allocate()
	if aerr != nil {
		return nil, false, aerr
	}
	n := copy(slot, env.Payload)
	fwd := &message.Envelope{
		Source:      r.self,
		Destination: next,
		Tag:         message.StampTag(appTag),
		Payload:     slot[:n],
		Meta:        env.Meta, // true source/destination carried through unchanged
		Buf:         slot,
	}
	return fwd, false, nil
}
