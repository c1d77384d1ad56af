// Optional payload compression, mirrored after aistore transport.Extra's
// Compression field: off by default, opt-in per Engine, using the
// teacher's own dependency (pierrec/lz4) rather than stdlib flate/gzip
// since the teacher already made that tradeoff for this exact kind of
// small, latency-sensitive intra-cluster payload.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package message

import (
	"bytes"

	"github.com/pierrec/lz4/v3"
)

// CompressPayload returns an LZ4-compressed copy of b. The engine's send
// step calls it for every outbound payload when compression is enabled; no
// size threshold is applied.
func CompressPayload(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressPayload reverses CompressPayload.
func DecompressPayload(b []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(b))
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
