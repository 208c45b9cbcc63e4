// Package fingerprint derives the content hash used to find repeated messages.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Of returns the lower-case hex SHA-256 of the UTF-8 bytes of text.
func Of(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
