// Package fingerprint computes the content-addressed dedupe key for memory
// records.
//
// Two writes dedupe iff their fingerprints are equal. Content writes are
// normalized first so incidental formatting differences do not defeat
// deduplication; vector-only writes hash the exact bit representation of
// the vector, always mixed with identity and lane to avoid cross-tenant
// false dedupe.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"
	"unicode"
)

// Scope controls which writes can dedupe against each other.
type Scope uint8

const (
	// ScopePerIdentity mixes identity and lane into content fingerprints
	// so records of different tenants never collide. Default.
	ScopePerIdentity Scope = iota

	// ScopeGlobal fingerprints normalized content alone; identical content
	// dedupes across identities within the store.
	ScopeGlobal
)

// String returns a string representation of the Scope.
func (s Scope) String() string {
	if s == ScopeGlobal {
		return "global"
	}
	return "per-identity"
}

// Separator byte between hash fields. 0x00 cannot occur inside the
// normalized content (it is replaced during UTF-8 repair) nor inside
// identity/lane hashes, so field boundaries are unambiguous.
const fieldSep = byte(0x00)

// Normalize applies the store's canonicalization rule:
//
//  1. invalid UTF-8 sequences are replaced with U+FFFD,
//  2. leading and trailing Unicode whitespace is trimmed,
//  3. every internal run of Unicode whitespace collapses to one ASCII space.
//
// Case is preserved: "Hello" and "hello" are distinct memories.
func Normalize(content string) string {
	content = strings.ToValidUTF8(content, "�")
	content = strings.Map(func(r rune) rune {
		if r == 0 {
			return '�'
		}
		return r
	}, content)

	var b strings.Builder
	b.Grow(len(content))
	inSpace := false
	for _, r := range content {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// Content fingerprints normalized content. With ScopePerIdentity the
// identity and lane participate in the hash; with ScopeGlobal they do not.
// The returned key is hex encoded SHA-256.
func Content(normalized, identity, lane string, scope Scope) string {
	h := sha256.New()
	if scope == ScopePerIdentity {
		h.Write([]byte(identity))
		h.Write([]byte{fieldSep})
		h.Write([]byte(lane))
		h.Write([]byte{fieldSep})
	}
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}

// Vector fingerprints a precomputed vector over its exact bit
// representation. Identity and lane are always included, regardless of
// scope: vectors carry no self-describing content, so cross-tenant
// collisions would be invisible to the caller.
func Vector(vec []float32, identity, lane string) string {
	h := sha256.New()
	h.Write([]byte(identity))
	h.Write([]byte{fieldSep})
	h.Write([]byte(lane))
	h.Write([]byte{fieldSep})

	var buf [4]byte
	for _, v := range vec {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
