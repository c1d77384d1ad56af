// Package transport defines the external seam between the engine and
// whatever wire protocol actually moves bytes between ranks (spec §6).
// The engine never talks to a socket directly; it only ever talks to an
// Adapter. Two concrete adapters live in the subpackages: loopback (an
// in-process simulation used by every test and the CLI's local mode) and
// httpstream (a real intra-cluster adapter built on the teacher's own
// HTTP engine, fasthttp).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import "github.com/DmitrySigaev/RayPlatform/message"

// Adapter is the trait the runtime consumes: both operations are
// non-blocking per spec §4.1/§5 — Receive returns immediately with at most
// one message, Send must enqueue (or fail fast) rather than wait on the
// wire.
type Adapter interface {
	// Send transmits all of msgs. Must not block on network I/O; a
	// real adapter enqueues to its own async send queue (mirroring the
	// teacher's transport.Stream workCh) and returns immediately.
	Send(msgs []*message.Envelope) error

	// Receive returns at most one inbound message. ok is false when
	// nothing was available this tick — this is not an error.
	Receive() (env *message.Envelope, ok bool, err error)

	// Close releases any resources (connections, goroutines) the
	// adapter holds. Called once, when the engine's run loop exits.
	Close() error
}
