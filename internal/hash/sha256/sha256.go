// Package sha256 provides SHA-256 digests for cache keys and blob paths.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key builds a namespaced cache key such as "fetch:<digest>" from the given parts.
func Key(namespace string, parts ...string) string {
	return namespace + ":" + Sum([]byte(strings.Join(parts, "\x00")))
}
