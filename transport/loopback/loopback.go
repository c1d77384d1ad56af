// Package loopback is an in-process transport.Adapter: N engines wired
// together with buffered channels rather than sockets. It exists purely to
// drive the cooperative engine contract in tests and in the CLI's
// local-simulation mode (spec's core intentionally treats the real
// transport as an external collaborator — see transport/httpstream for a
// networked adapter, and spec §6).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package loopback

import (
	"sync"

	"github.com/DmitrySigaev/RayPlatform/message"
)

// Network is the shared fabric a set of loopback adapters register against.
// FIFO per (source, destination, tag) is preserved because every message
// to a rank goes through that rank's single inbound channel in send order,
// matching spec §5's ordering guarantee.
type Network struct {
	mu    sync.Mutex
	boxes map[message.Rank]*Adapter
}

func NewNetwork() *Network {
	return &Network{boxes: make(map[message.Rank]*Adapter)}
}

// Adapter implements transport.Adapter against a shared Network: messages
// addressed to rank R land in R's inbound channel.
type Adapter struct {
	net    *Network
	self   message.Rank
	inbox  chan *message.Envelope
	closed bool
}

const inboxBacklog = 256

// Register creates (or replaces) the adapter for rank r on this network.
func (n *Network) Register(r message.Rank) *Adapter {
	a := &Adapter{net: n, self: r, inbox: make(chan *message.Envelope, inboxBacklog)}
	n.mu.Lock()
	n.boxes[r] = a
	n.mu.Unlock()
	return a
}

func (a *Adapter) Send(msgs []*message.Envelope) error {
	for _, m := range msgs {
		a.net.mu.Lock()
		dst, ok := a.net.boxes[m.Destination]
		a.net.mu.Unlock()
		if !ok {
			continue // destination not (yet) registered: dropped, as an unreachable peer would be
		}
		cp := *m
		select {
		case dst.inbox <- &cp:
		default:
			// backlog full: drop rather than block, per the non-blocking send contract
		}
	}
	return nil
}

func (a *Adapter) Receive() (*message.Envelope, bool, error) {
	select {
	case m := <-a.inbox:
		return m, true, nil
	default:
		return nil, false, nil
	}
}

func (a *Adapter) Close() error {
	a.closed = true
	return nil
}
