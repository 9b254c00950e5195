// Package fingerprint provides a deterministic content fingerprint for duplicate
// detection. The same normalized title and content always yield the same value, so
// re-ingesting identical content can be detected before any embedding call.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const separator = "||"

// Normalize lowercases s and collapses all whitespace runs to single spaces.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Compute returns the hex SHA-256 fingerprint over the normalized title and content.
func Compute(title, content string) string {
	h := sha256.Sum256([]byte(Normalize(title) + separator + Normalize(content)))
	return hex.EncodeToString(h[:])
}
