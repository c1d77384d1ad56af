// ConnectionGraph and its predefined topologies. Grounded on
// MessageRouter.cpp's `m_graph.isConnected`/`getNextRankInRoute` seam, with
// the rendezvous topology adapted from aistore's HRW/rendezvous-hash
// neighbor selection (fs/hrw.go, core/meta) — applied here to picking
// overlay neighbors instead of picking a mountpath.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package router

import (
	"sort"

	"github.com/OneOfOne/xxhash"
	"github.com/DmitrySigaev/RayPlatform/cmn/debug"
	"github.com/DmitrySigaev/RayPlatform/message"
)

type GraphType int

const (
	Complete GraphType = iota
	Ring
	Torus
	Hypercube
	Rendezvous
)

// ConnectionGraph answers "can u reach v directly" and "what's the next
// hop from self toward trueDestination", for a fixed pool size N. Every
// topology here is deterministic and stateless: no adjacency list is ever
// materialized.
type ConnectionGraph struct {
	n      int
	typ    GraphType
	degree int // grid width (Torus) or neighbor count (Rendezvous); unused otherwise
}

func NewConnectionGraph(n int, typ GraphType, degree int) *ConnectionGraph {
	debug.Assert(n > 0, "graph: n must be positive")
	return &ConnectionGraph{n: n, typ: typ, degree: degree}
}

// IsConnected reports whether v is reachable from u in exactly one hop.
func (g *ConnectionGraph) IsConnected(u, v message.Rank) bool {
	if u == v {
		return true
	}
	switch g.typ {
	case Complete:
		return true
	case Ring:
		return g.ringNeighbor(u, 1) == v || g.ringNeighbor(u, -1) == v
	case Torus:
		return g.torusIsNeighbor(u, v)
	case Hypercube:
		return popcount(uint32(u)^uint32(v)) == 1
	case Rendezvous:
		for _, nb := range g.rendezvousNeighbors(u) {
			if nb == v {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// NextHop returns the next rank toward trueDestination, starting from
// self, never self itself. Bounded by the graph's diameter per the spec
// invariant; callers (the router) stamp-and-forward one hop at a time.
func (g *ConnectionGraph) NextHop(trueSource, trueDestination, self message.Rank) message.Rank {
	switch g.typ {
	case Complete:
		return trueDestination // always directly connected; callers won't even call this
	case Ring:
		return g.ringNextHop(self, trueDestination)
	case Torus:
		return g.torusNextHop(self, trueDestination)
	case Hypercube:
		return g.hypercubeNextHop(self, trueDestination)
	case Rendezvous:
		return g.rendezvousNextHop(self, trueDestination)
	default:
		return trueDestination
	}
}

//
// Ring: i <-> i+1 mod N
//

func (g *ConnectionGraph) ringNeighbor(u message.Rank, dir int) message.Rank {
	n := message.Rank(g.n)
	return message.Rank((int(u)+dir+g.n)%g.n) % n
}

func (g *ConnectionGraph) ringNextHop(self, dst message.Rank) message.Rank {
	n := g.n
	fwd := (int(dst) - int(self) + n) % n
	bwd := (int(self) - int(dst) + n) % n
	if fwd <= bwd {
		return g.ringNeighbor(self, 1)
	}
	return g.ringNeighbor(self, -1)
}

//
// Torus: 2-D wraparound grid, `degree` = row width
//

func (g *ConnectionGraph) torusDims() (row, col, width int) {
	width = g.degree
	if width <= 0 {
		width = 1
	}
	return 0, 0, width
}

func (g *ConnectionGraph) torusRC(r message.Rank) (row, col int) {
	_, _, width := g.torusDims()
	return int(r) / width, int(r) % width
}

func (g *ConnectionGraph) torusRank(row, col, width int) message.Rank {
	rows := (g.n + width - 1) / width
	row = ((row % rows) + rows) % rows
	col = ((col % width) + width) % width
	id := row*width + col
	if id >= g.n {
		id %= g.n
	}
	return message.Rank(id)
}

func (g *ConnectionGraph) torusIsNeighbor(u, v message.Rank) bool {
	_, _, width := g.torusDims()
	ur, uc := g.torusRC(u)
	for _, d := range [4][2]int{{0, 1}, {0, -1}, {1, 0}, {-1, 0}} {
		if g.torusRank(ur+d[0], uc+d[1], width) == v {
			return true
		}
	}
	return false
}

func (g *ConnectionGraph) torusNextHop(self, dst message.Rank) message.Rank {
	_, _, width := g.torusDims()
	sr, sc := g.torusRC(self)
	dr, dc := g.torusRC(dst)
	if sr != dr {
		if (dr-sr+g.n)%g.n <= (sr-dr+g.n)%g.n {
			return g.torusRank(sr+1, sc, width)
		}
		return g.torusRank(sr-1, sc, width)
	}
	if (dc-sc+width)%width <= (sc-dc+width)%width {
		return g.torusRank(sr, sc+1, width)
	}
	return g.torusRank(sr, sc-1, width)
}

//
// Hypercube: connected iff ranks differ in exactly one bit; route by
// flipping the lowest differing bit first.
//

func popcount(x uint32) int {
	c := 0
	for x != 0 {
		c++
		x &= x - 1
	}
	return c
}

func (g *ConnectionGraph) hypercubeNextHop(self, dst message.Rank) message.Rank {
	diff := uint32(self) ^ uint32(dst)
	if diff == 0 {
		return self
	}
	bit := diff & (-diff) // lowest set bit
	return message.Rank(uint32(self) ^ bit)
}

//
// Rendezvous: rank u's neighbors are the `degree` ranks v maximizing
// xxhash.Checksum64S("u:v") — highest-random-weight neighbor selection,
// same technique aistore uses to pick a mountpath, applied here to
// picking overlay neighbors.
//

func rendezvousScore(u, v message.Rank) uint64 {
	key := []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24), ':',
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return xxhash.Checksum64S(key, 0)
}

func (g *ConnectionGraph) rendezvousNeighbors(u message.Rank) []message.Rank {
	type scored struct {
		rank  message.Rank
		score uint64
	}
	cands := make([]scored, 0, g.n-1)
	for v := 0; v < g.n; v++ {
		if message.Rank(v) == u {
			continue
		}
		cands = append(cands, scored{message.Rank(v), rendezvousScore(u, message.Rank(v))})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	k := g.degree
	if k <= 0 || k > len(cands) {
		k = len(cands)
	}
	out := make([]message.Rank, k)
	for i := 0; i < k; i++ {
		out[i] = cands[i].rank
	}
	return out
}

func (g *ConnectionGraph) rendezvousNextHop(self, dst message.Rank) message.Rank {
	if g.IsConnected(self, dst) {
		return dst
	}
	// one hop through the common neighbor (adjacent to both self and dst)
	// with the highest score toward dst; if self has no neighbor adjacent
	// to dst, through the neighbor with the highest score toward dst
	best := self
	var bestScore uint64
	bestCommon := false
	for _, nb := range g.rendezvousNeighbors(self) {
		common := g.IsConnected(nb, dst)
		s := rendezvousScore(nb, dst)
		if (common && !bestCommon) || (common == bestCommon && s >= bestScore) {
			bestScore, best, bestCommon = s, nb, common
		}
	}
	return best
}
