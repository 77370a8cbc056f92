package cert

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Digest returns the SHA-256 hex digest of the RFC 8785 canonical form of
// a certificate document. Two byte streams that spell the same JSON
// (different key order, whitespace, number spelling) share a digest, so
// it serves as the certificate's identity for deduplication, result
// caching, and audit trails.
func Digest(raw []byte) (string, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("cert: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
