// Package identity derives stable content hashes for registrations.
//
// The hash is computed over the normalized registration fields so that
// whitespace and letter-case differences in the ingestion feed never produce
// a second identity for the same logical registration.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// delimiter separates normalized fields before digesting. It must never
// appear in a normalized field, so normalization strips it.
const delimiter = "\x1f"

// hashBytes is the truncation length applied to the SHA-256 digest. 16 bytes
// keeps identifiers short enough for log lines while staying collision
// resistant for the catalog sizes this system sees.
const hashBytes = 16

// Normalize trims and case-folds a registration field.
func Normalize(field string) string {
	folder := cases.Fold()
	normalized := folder.String(strings.TrimSpace(field))
	return strings.ReplaceAll(normalized, delimiter, "")
}

// Hash derives the canonical registration identity from its fields.
// The result is deterministic and insensitive to case and surrounding
// whitespace: Hash("A ", "b") == Hash("a", " B").
func Hash(fields ...string) string {
	normalized := make([]string, len(fields))
	for i, field := range fields {
		normalized[i] = Normalize(field)
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, delimiter)))
	return hex.EncodeToString(sum[:hashBytes])
}

// SessionID derives a unique execution session identifier from a
// registration hash and a timestamp. Nanosecond resolution keeps concurrent
// session creation for different registrations collision free, and the hash
// prefix makes the owning registration recognizable in logs.
func SessionID(registrationHash string, at time.Time) string {
	prefix := registrationHash
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return fmt.Sprintf("%s-%d", prefix, at.UTC().UnixNano())
}
