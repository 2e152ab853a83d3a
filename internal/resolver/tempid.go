package resolver

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/sagepoint-data/identity-cli/internal/normalize"
)

// TempIDPrefix marks placeholder identifiers issued when no authoritative
// company_id could be found. Registry IDs are numeric, so the prefix can
// never collide with a real one.
const TempIDPrefix = "IN_"

// TempID derives a deterministic placeholder identifier from a raw customer
// name: the prefix plus the first 12 hex digits of the SHA-1 of the
// normalized name. The same normalized name yields the same ID on every run,
// so later re-resolution can reconcile instead of fragmenting identities.
// Returns "" when the name normalizes to nothing.
func TempID(rawName string) string {
	key := normalize.Key(rawName)
	if key == "" {
		return ""
	}
	sum := sha1.Sum([]byte(key))
	return TempIDPrefix + hex.EncodeToString(sum[:])[:12]
}

// IsTempID reports whether id is a placeholder rather than an authoritative
// company identifier.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
