package message

import "github.com/pkg/errors"

var (
	ErrBufferTooSmall = errors.New("message: buffer too small for payload + header")
	ErrShortMessage   = errors.New("message: received buffer shorter than the fixed metadata tail")
	ErrCorrupted      = errors.New("message: CRC32 mismatch")
)
