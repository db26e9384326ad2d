// Package tokenhash digests opaque tokens for storage and lookup. Refresh
// tokens and API secrets are never persisted in the clear; only their digest
// is stored and queried.
package tokenhash

import (
	"crypto/sha256"
	"encoding/base64"
)

// Hash returns the deterministic one-way digest of an opaque token.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(sum[:])
}
