// Package identity mints stable content identifiers and fingerprints.
//
// Identifiers are derived from a namespace UUID plus the ordered tuple of
// inputs using UUIDv5 semantics (google/uuid's NewSHA1 against a fixed
// namespace), so identical inputs produce identical ids across processes
// and time, matching spec.md's mint("kind", parts...) contract.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Namespace is the fixed namespace UUID all content ids are minted under.
// Changing this value would silently change every minted id, so it is a
// constant rather than configuration.
var Namespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Mint derives a UUIDv5 id from kind and the ordered parts.
// mint("faq", projectID, question) == mint("faq", projectID, question)
// regardless of process or time.
func Mint(kind string, parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	all = append(all, kind)
	all = append(all, parts...)
	key := strings.Join(all, "|")
	return uuid.NewSHA1(Namespace, []byte(key)).String()
}

// Fingerprint computes a SHA-256 content hash over the canonicalized input,
// used for record_fingerprint comparisons and content-hash deduplication.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RecordFingerprint computes the content-hash over an ordered sequence of
// (id, content-hash) pairs, as used by IndexVersion.record_fingerprint.
// The caller is responsible for ordering pairs deterministically (e.g. by
// id) before calling this function.
func RecordFingerprint(pairs [][2]string) string {
	h := sha256.New()
	for _, pair := range pairs {
		h.Write([]byte(pair[0]))
		h.Write([]byte{0})
		h.Write([]byte(pair[1]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NewUUID returns a random UUID, used for attachment ids (spec.md's
// Attachment.id: uuid) and session ids.
func NewUUID() string {
	return uuid.New().String()
}
