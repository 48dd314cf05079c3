package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-data/market-cli/internal/ident"
)

func TestFormatPrice(t *testing.T) {
	cases := []struct {
		units uint64
		want  string
	}{
		{0, "0"},
		{50_000, "0.05"},
		{1_000_000, "1"},
		{1_250_000, "1.25"},
		{1, "0.000001"},
		{123_456_789, "123.456789"},
		{2_000_000_000, "2000"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatPrice(tc.units), "units=%d", tc.units)
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"0.05", 50_000},
		{"1", 1_000_000},
		{".5", 500_000},
		{"2000", 2_000_000_000},
		{"123.456789", 123_456_789},
		{" 0.05 ", 50_000},
	}
	for _, tc := range cases {
		got, err := ParsePrice(tc.in)
		require.NoError(t, err, "input=%q", tc.in)
		assert.Equal(t, tc.want, got, "input=%q", tc.in)
	}
}

func TestParsePrice_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.1234567", "1.2.3"} {
		_, err := ParsePrice(in)
		assert.Error(t, err, "input=%q", in)
	}
}

func TestParsePrice_RoundTrip(t *testing.T) {
	for _, units := range []uint64{0, 1, 50_000, 999_999, 1_000_001} {
		got, err := ParsePrice(FormatPrice(units))
		require.NoError(t, err)
		assert.Equal(t, units, got)
	}
}

func TestSplitCategories(t *testing.T) {
	assert.Equal(t, []string{"medical", "ct-scan"}, SplitCategories("medical,ct-scan"))
	assert.Equal(t, []string{"a", "b"}, SplitCategories(" a , , b ,"))
	assert.Empty(t, SplitCategories(" , "))
}

func TestListing_Redacted(t *testing.T) {
	l := Listing{
		ListingID:  ident.Canonicalize("listing"),
		Seller:     "0xseller",
		Price:      50_000,
		AuthTicket: "secret-ticket",
		Labels: Labels{
			TaskType:    "classification",
			Annotations: `{"bounding_boxes":true}`,
			Privacy:     "true",
			ContentHash: ident.Canonicalize("content"),
		},
	}

	r := l.Redacted()
	assert.Empty(t, r.AuthTicket)
	assert.Empty(t, r.Labels.Annotations)
	assert.Empty(t, r.Labels.Privacy)
	assert.True(t, r.Labels.ContentHash.IsZero())

	// Non-secret fields survive.
	assert.Equal(t, l.ListingID, r.ListingID)
	assert.Equal(t, "classification", r.Labels.TaskType)
	assert.Equal(t, "0.05", r.PriceDisplay())

	// Original untouched.
	assert.Equal(t, "secret-ticket", l.AuthTicket)
}

func TestBuildReceipt(t *testing.T) {
	l := Listing{
		ListingID: ident.Canonicalize("listing"),
		ObjectID:  ident.Canonicalize("object"),
		Seller:    "0xseller",
		Price:     50_000,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Labels:    Labels{TaskType: "classification"},
	}

	r := BuildReceipt(l, "0xbuyer", "0x01")
	assert.Equal(t, l.ListingID, r.ListingID)
	assert.Equal(t, "0xbuyer", r.Buyer)
	assert.Equal(t, "0.05", r.Price)
	assert.Equal(t, "0x01", r.TxHash)
	assert.Equal(t, l.CreatedAt, r.CreatedAt)
	assert.WithinDuration(t, time.Now().UTC(), r.SavedAt, 5*time.Second)
}
