package ident

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_IdentityForCanonicalInput(t *testing.T) {
	in := "0x" + strings.Repeat("ab", 32)
	id := Canonicalize(in)
	assert.Equal(t, in, id.Hex())
}

func TestCanonicalize_IdentityPreservesMixedCase(t *testing.T) {
	// Canonical rendering is lowercase, but the decoded bytes must match.
	in := "0x" + strings.Repeat("AB", 32)
	id := Canonicalize(in)
	assert.Equal(t, "0x"+strings.Repeat("ab", 32), id.Hex())
}

func TestCanonicalize_Deterministic(t *testing.T) {
	a := Canonicalize("dataset-001")
	b := Canonicalize("dataset-001")
	assert.Equal(t, a, b)
	assert.True(t, IsCanonical(a.Hex()))
}

func TestCanonicalize_DistinctInputsDiffer(t *testing.T) {
	assert.NotEqual(t, Canonicalize("dataset-001"), Canonicalize("dataset-002"))
}

func TestCanonicalize_NonHexLengthIsHashed(t *testing.T) {
	// 66 chars but not hex digits: must be hashed, not passed through.
	in := "0x" + strings.Repeat("zz", 32)
	id := Canonicalize(in)
	assert.NotEqual(t, in, id.Hex())
	assert.True(t, IsCanonical(id.Hex()))
}

func TestParse(t *testing.T) {
	id, err := Parse("0x" + strings.Repeat("0a", 32))
	require.NoError(t, err)
	assert.Equal(t, byte(0x0a), id[0])

	_, err = Parse("0x1234")
	require.Error(t, err)

	_, err = Parse(strings.Repeat("a", 64))
	require.Error(t, err)
}

func TestIdentifier_Zero(t *testing.T) {
	var id Identifier
	assert.True(t, id.IsZero())
	assert.False(t, Canonicalize("x").IsZero())
}

func TestIdentifier_Short(t *testing.T) {
	id := Canonicalize("0x" + strings.Repeat("ab", 32))
	assert.Equal(t, "0xabab…abab", id.Short())
}

func TestShortAddr(t *testing.T) {
	assert.Equal(t, "0x1234…cdef", ShortAddr("0x1234567890abcdef1234567890abcdefabcdcdef"))
	assert.Equal(t, "0x1234", ShortAddr("0x1234"))
	assert.Equal(t, "", ShortAddr(""))
}

func TestNormalizeAddr(t *testing.T) {
	assert.Equal(t, "0xabcd", NormalizeAddr("  0xABCD "))
}
