package ostree

import (
	"crypto/sha256"
	"encoding/hex"
)

// ChecksumBytes computes the raw SHA-256 hash of data and returns it as a
// lowercase hex-encoded Checksum.
func ChecksumBytes(data []byte) Checksum {
	sum := sha256.Sum256(data)
	return Checksum(hex.EncodeToString(sum[:]))
}
