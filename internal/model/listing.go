// Package model holds the marketplace domain types shared across the CLI.
package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lattice-data/market-cli/internal/ident"
)

// PriceDecimals is the fixed-point scale of listing prices (USDC-style units).
const PriceDecimals = 6

const priceScale = 1_000_000

// Labels describe the dataset behind a listing.
type Labels struct {
	TaskType     string           `json:"taskType"`
	DataType     string           `json:"dataType"`
	QualityScore int              `json:"qualityScore"`
	Categories   []string         `json:"categories"`
	Annotations  string           `json:"annotations"`
	SampleCount  uint64           `json:"sampleCount"`
	Privacy      string           `json:"privacy"`
	ContentHash  ident.Identifier `json:"contentHash"`
}

// Listing is one private data listing as recorded by the ledger. Immutable
// once created except for Active, which only the ledger may flip.
type Listing struct {
	ListingID  ident.Identifier `json:"listingId"`
	Seller     string           `json:"seller"`
	ObjectID   ident.Identifier `json:"objectId"`
	Price      uint64           `json:"price"`
	CreatedAt  time.Time        `json:"createdAt"`
	Active     bool             `json:"active"`
	Labels     Labels           `json:"labels"`
	AuthTicket string           `json:"authTicket,omitempty"`
}

// Redacted returns a copy safe to show a buyer whose access is not confirmed:
// the auth ticket and the full label detail are withheld. The ledger may hand
// us the full record; this gate is applied again on our side regardless.
func (l Listing) Redacted() Listing {
	r := l
	r.AuthTicket = ""
	r.Labels.Annotations = ""
	r.Labels.Privacy = ""
	r.Labels.ContentHash = ident.Zero
	return r
}

// PriceDisplay renders the price as a decimal string ("0.05").
func (l Listing) PriceDisplay() string {
	return FormatPrice(l.Price)
}

// FormatPrice renders fixed-point units as a decimal string, trimming
// trailing zeros (50000 units -> "0.05").
func FormatPrice(units uint64) string {
	whole := strconv.FormatUint(units/priceScale, 10)
	frac := strconv.FormatUint(units%priceScale, 10)
	frac = strings.TrimRight(strings.Repeat("0", PriceDecimals-len(frac))+frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// ParsePrice converts a decimal price string into fixed-point units.
// At most six fractional digits are accepted.
func ParsePrice(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, eris.New("model: empty price")
	}
	wholePart, fracPart, _ := strings.Cut(s, ".")
	if wholePart == "" {
		wholePart = "0"
	}
	if len(fracPart) > PriceDecimals {
		return 0, eris.Errorf("model: price %q has more than %d decimal places", s, PriceDecimals)
	}

	whole, err := strconv.ParseUint(wholePart, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "model: parse price %q", s)
	}
	var frac uint64
	if fracPart != "" {
		frac, err = strconv.ParseUint(fracPart+strings.Repeat("0", PriceDecimals-len(fracPart)), 10, 64)
		if err != nil {
			return 0, eris.Wrapf(err, "model: parse price %q", s)
		}
	}
	return whole*priceScale + frac, nil
}

// SplitCategories splits a comma-separated category input, trimming
// whitespace and dropping empty entries.
func SplitCategories(input string) []string {
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
