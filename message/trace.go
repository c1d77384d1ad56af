package message

import "github.com/DmitrySigaev/RayPlatform/cmn/cos"

// Trace is an optional debug-only correlation id attached to log lines for
// a message as it hops across ranks; it never affects wire format or
// dispatch and is never required for correctness.
type Trace string

// NewTrace mints a fresh correlation id.
func NewTrace() Trace { return Trace(cos.ShortID()) }
