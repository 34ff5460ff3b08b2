package export

import (
	"crypto/sha256"
	"encoding/hex"
)

// PlaceholderID generates a deterministic 16-char hex ID from a slug.
//
// Foundry IDs are 16 alphanumeric chars. The first 16 hex digits of a
// SHA-256 hash mean the same slug always produces the same ID, so documents
// exported in different batches, or from different processes, can reference
// each other before Foundry has assigned real identities.
func PlaceholderID(slug string) string {
	sum := sha256.Sum256([]byte(slug))
	return hex.EncodeToString(sum[:])[:16]
}

// pageID derives a page-level 16-char ID distinct from the entry-level ID.
func pageID(slug string) string {
	sum := sha256.Sum256([]byte(slug + ":page0"))
	return hex.EncodeToString(sum[:])[:16]
}

// resolveID prefers a caller-supplied override for a slug that already has a
// real identity in the target world; otherwise the computed placeholder.
func resolveID(slug string, overrides map[string]string) string {
	if id, ok := overrides[slug]; ok && id != "" {
		return id
	}
	return PlaceholderID(slug)
}
