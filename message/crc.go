package message

import "hash/crc32"

// CRC32 computes the IEEE 802.3 (reflected, polynomial 0xEDB88320) checksum
// the spec calls for — this is exactly Go's standard crc32.IEEETable, so
// there is no third-party checksum library to reach for here; wrapping the
// stdlib implementation would add an import with no behavioral difference.
func CRC32(b []byte) uint32 { return crc32.ChecksumIEEE(b) }
