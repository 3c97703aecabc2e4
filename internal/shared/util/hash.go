package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes returns the SHA-256 hex digest of the given payload.
// Used as the duplicate-detection key for uploaded documents.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
