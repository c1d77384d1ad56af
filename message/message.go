// Package message defines the envelope exchanged between ranks: header
// layout, metadata packing, and the routing-stamp vocabulary. Grounded on
// RayPlatform's Message.h/Message.cpp (field set: source, destination,
// tag, buffer/count, actor source/destination) and on aistore's
// transport/pdu.go for the idiom of a fixed-offset wire header peeled from
// a shared buffer.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package message

import (
	"encoding/binary"

	"github.com/DmitrySigaev/RayPlatform/cmn/debug"
)

// Rank identifies a process in the SPMD pool. Tag identifies the semantic
// kind of a message.
type (
	Rank int32
	Tag  int32
)

const (
	// MasterRank is the one rank that runs the non-idle master mode.
	MasterRank Rank = 0

	// RoutingTagBase: transport tags >= this value carry a routing stamp;
	// the true application tag is `transportTag - RoutingTagBase`.
	RoutingTagBase Tag = 16384

	// TagUB bounds application tags strictly below the routing base, and
	// bounds routed transport tags strictly below 2*RoutingTagBase,
	// staying clear of the MPI-standard TAG_UB >= 32767 reservation.
	TagUB = 2 * RoutingTagBase

	// MaxPayloadBytes bounds a single message's application payload.
	MaxPayloadBytes = 1 << 20 // 1 MiB

	noMeta = -1 // sentinel: field not in use

	metaFieldBytes = 4 // each metadata field is a little-endian int32
	metaFieldCount = 6 // mini-rank src/dst, actor src/dst, routing src/dst
	metaBlockBytes = metaFieldCount * metaFieldBytes
	crcFieldBytes  = 4
	padBytes       = 4 // keeps HeaderBytes a multiple of 8

	// HeaderBytes is always 8-byte aligned and always reserved in full,
	// whether or not CRC32 is enabled for a given engine — this keeps the
	// "buffer capacity >= MaxPayloadBytes + HeaderBytes" invariant simple
	// to enforce regardless of per-engine configuration.
	HeaderBytes = metaBlockBytes + crcFieldBytes + padBytes // 24 + 4 + 4 = 32
)

func init() {
	debug.Assert(HeaderBytes%8 == 0, "header must be 8-byte aligned")
}

// IsRouted reports whether a transport tag carries a routing stamp.
func IsRouted(transportTag Tag) bool { return transportTag >= RoutingTagBase }

// StampTag adds the routing offset to an application tag.
func StampTag(appTag Tag) Tag { return appTag + RoutingTagBase }

// UnstampTag recovers the application tag from a routed transport tag.
func UnstampTag(transportTag Tag) Tag { return transportTag - RoutingTagBase }

// Metadata holds everything packed into the tail of a message buffer.
// Fields holding the noMeta sentinel (-1, as set by NewMetadata) mean "not
// present" for this message; a Go zero value of 0 counts as present. CRC32
// is tracked separately via HasCRC since 0 is a valid checksum value.
type Metadata struct {
	MiniRankSource      int32
	MiniRankDestination int32
	ActorSource         int32
	ActorDestination    int32
	RoutingSource       int32
	RoutingDestination   int32
	CRC32               uint32
	HasCRC              bool
}

// NewMetadata returns a Metadata with every optional field marked absent.
func NewMetadata() Metadata {
	return Metadata{
		MiniRankSource:      noMeta,
		MiniRankDestination: noMeta,
		ActorSource:         noMeta,
		ActorDestination:    noMeta,
		RoutingSource:       noMeta,
		RoutingDestination:  noMeta,
	}
}

func (m Metadata) HasActor() bool   { return m.ActorSource != noMeta || m.ActorDestination != noMeta }
func (m Metadata) HasRouting() bool { return m.RoutingSource != noMeta || m.RoutingDestination != noMeta }
func (m Metadata) HasMiniRank() bool {
	return m.MiniRankSource != noMeta || m.MiniRankDestination != noMeta
}

// Envelope is the full in-memory representation of one message: transport
// routing fields plus payload plus metadata. Buf is the ring-allocated
// slot backing Payload+tail metadata; it may be nil for header-only
// control messages (e.g. switch-manager kickoffs).
type Envelope struct {
	Source      Rank
	Destination Rank
	Tag         Tag // transport tag: may carry the routing offset
	Payload     []byte
	Meta        Metadata
	Buf         []byte // ring-allocated backing slot, or nil
}

// New builds an unrouted, non-actor envelope with plain metadata.
func New(src, dst Rank, tag Tag, payload []byte) *Envelope {
	return &Envelope{Source: src, Destination: dst, Tag: tag, Payload: payload, Meta: NewMetadata()}
}

// AppTag returns the application-level tag, stripping the routing offset
// if present.
func (e *Envelope) AppTag() Tag {
	if IsRouted(e.Tag) {
		return UnstampTag(e.Tag)
	}
	return e.Tag
}

// Pack writes payload bytes followed by the fixed-size metadata block
// (and, if checksums are enabled, the trailing CRC32) into buf, in the
// exact wire order the spec prescribes: mini-rank src/dst, actor src/dst,
// routing src/dst, padding, crc. Returns the total length written.
//
// Save-once invariant: Pack walks each metadata field exactly once, in
// this fixed order, regardless of which fields are "in use" for this
// particular message (absent fields carry the noMeta sentinel) — this is
// the spec's resolution of the "double save/load" open question.
func (e *Envelope) Pack(buf []byte, withCRC bool) (int, error) {
	need := len(e.Payload) + HeaderBytes
	if len(buf) < need {
		return 0, ErrBufferTooSmall
	}
	off := copy(buf, e.Payload)

	putI32(buf, off+0*metaFieldBytes, e.Meta.MiniRankSource)
	putI32(buf, off+1*metaFieldBytes, e.Meta.MiniRankDestination)
	putI32(buf, off+2*metaFieldBytes, e.Meta.ActorSource)
	putI32(buf, off+3*metaFieldBytes, e.Meta.ActorDestination)
	putI32(buf, off+4*metaFieldBytes, e.Meta.RoutingSource)
	putI32(buf, off+5*metaFieldBytes, e.Meta.RoutingDestination)

	crcOff := off + metaBlockBytes + padBytes
	if withCRC {
		crc := CRC32(buf[:off+metaBlockBytes])
		binary.LittleEndian.PutUint32(buf[crcOff:], crc)
		e.Meta.CRC32, e.Meta.HasCRC = crc, true
		return crcOff + crcFieldBytes, nil
	}
	return off + metaBlockBytes, nil
}

// Unpack peels the metadata tail from a received buffer of length n,
// reversing Pack: CRC (if present) is verified first, then the fixed
// metadata block is read back out, and what remains at the front is the
// application payload. withCRC must match what the sender used.
func (e *Envelope) Unpack(buf []byte, n int, withCRC bool) error {
	tail := metaBlockBytes
	if withCRC {
		tail += crcFieldBytes + padBytes
	}
	if n < tail {
		return ErrShortMessage
	}
	payloadLen := n - tail
	if withCRC {
		crcOff := payloadLen + metaBlockBytes + padBytes
		got := binary.LittleEndian.Uint32(buf[crcOff : crcOff+crcFieldBytes])
		want := CRC32(buf[:payloadLen+metaBlockBytes])
		e.Meta.CRC32, e.Meta.HasCRC = got, true
		if got != want {
			return ErrCorrupted
		}
	}

	e.Meta.MiniRankSource = getI32(buf, payloadLen+0*metaFieldBytes)
	e.Meta.MiniRankDestination = getI32(buf, payloadLen+1*metaFieldBytes)
	e.Meta.ActorSource = getI32(buf, payloadLen+2*metaFieldBytes)
	e.Meta.ActorDestination = getI32(buf, payloadLen+3*metaFieldBytes)
	e.Meta.RoutingSource = getI32(buf, payloadLen+4*metaFieldBytes)
	e.Meta.RoutingDestination = getI32(buf, payloadLen+5*metaFieldBytes)
	e.Payload = buf[:payloadLen]
	return nil
}

func putI32(buf []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(buf[off:], uint32(v))
}

func getI32(buf []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(buf[off : off+4]))
}
