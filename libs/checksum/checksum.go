// Package checksum computes the 32-bit cyclic redundancy check that guards
// every write-ahead log record.
package checksum

import "hash/crc32"

// Size is the encoded length of a checksum in bytes.
const Size = 4

// Sum returns the CRC-32 (IEEE polynomial) of data.
func Sum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Verify reports whether data matches the expected checksum.
func Verify(data []byte, expected uint32) bool {
	return Sum(data) == expected
}
