// Package ident handles the canonical 32-byte identifiers used for
// listings, data objects, and content hashes.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// Identifier is a canonical 32-byte id. The zero value is the null identifier.
type Identifier [32]byte

var canonicalPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Zero is the null identifier.
var Zero Identifier

// Hex returns the canonical rendering: "0x" + 64 lowercase hex digits.
func (id Identifier) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

// String implements fmt.Stringer.
func (id Identifier) String() string {
	return id.Hex()
}

// IsZero reports whether id is the null identifier.
func (id Identifier) IsZero() bool {
	return id == Zero
}

// Short returns a truncated display form ("0x1234…abcd").
func (id Identifier) Short() string {
	h := id.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}

// MarshalJSON renders the identifier as its canonical hex string.
func (id Identifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}

// UnmarshalJSON accepts the canonical hex form, or an empty string for the
// null identifier.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return eris.Wrap(err, "ident: unmarshal")
	}
	if s == "" {
		*id = Zero
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse decodes a strict canonical hex string into an Identifier.
func Parse(s string) (Identifier, error) {
	if !canonicalPattern.MatchString(s) {
		return Zero, eris.Errorf("ident: %q is not a 32-byte hex identifier", s)
	}
	var id Identifier
	if _, err := hex.Decode(id[:], []byte(s[2:])); err != nil {
		return Zero, eris.Wrap(err, "ident: decode hex")
	}
	return id, nil
}

// Canonicalize maps any non-empty string to a canonical identifier. Strings
// already in canonical form are decoded as-is; everything else is hashed
// deterministically with SHA-256, so the same input always yields the same id.
func Canonicalize(input string) Identifier {
	if canonicalPattern.MatchString(input) {
		var id Identifier
		hex.Decode(id[:], []byte(input[2:]))
		return id
	}
	return Identifier(sha256.Sum256([]byte(input)))
}

// IsCanonical reports whether s already matches the canonical hex form.
func IsCanonical(s string) bool {
	return canonicalPattern.MatchString(s)
}

// ShortAddr truncates an account address for display. Addresses shorter than
// the window are returned unchanged.
func ShortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return fmt.Sprintf("%s…%s", addr[:6], addr[len(addr)-4:])
}

// NormalizeAddr lowercases an account address for map keys and comparisons.
func NormalizeAddr(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
