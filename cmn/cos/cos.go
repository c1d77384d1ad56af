// Package cos holds small low-level helpers shared by every package in this
// module: fatal-error wrapping, short id generation, and byte-size
// constants. Adapted from aistore's cmn/cos, trimmed to what a
// message-passing runtime (rather than a storage cluster) needs.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/teris-io/shortid"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
)

var sid *shortid.Shortid

func init() {
	sid = shortid.MustNew(1, shortid.DefaultABC, 1)
}

// ShortID returns a short human-correlatable id, used only for debug/log
// correlation (e.g. message.Trace) — never for protocol semantics.
func ShortID() string {
	s, err := sid.Generate()
	if err != nil {
		return "shortid-err"
	}
	return s
}

// Rand64 returns a cryptographically-sourced random uint64, used as the
// fallback entropy source when a library-backed id (gofrs/uuid) isn't a
// good fit for a given caller.
func Rand64() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// WrapFatal marks an error as a fatal configuration/routing error per the
// runtime's error-handling design: such errors are never retried, only
// logged and surfaced to the caller of Engine construction or Run.
func WrapFatal(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Fatalf is the configuration/routing-invariant failure path: it always
// returns a non-nil error (never panics), per spec: "the engine never
// panics on unknown handlers."
func Fatalf(format string, args ...any) error {
	return errors.Errorf(format, args...)
}
