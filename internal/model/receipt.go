package model

import (
	"time"

	"github.com/lattice-data/market-cli/internal/ident"
)

// Receipt is the exportable record of a completed purchase.
type Receipt struct {
	ListingID ident.Identifier `json:"listingId"`
	ObjectID  ident.Identifier `json:"objectId"`
	Seller    string           `json:"seller"`
	Buyer     string           `json:"buyer"`
	Price     string           `json:"priceUSDC"`
	TxHash    string           `json:"txHash,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	SavedAt   time.Time        `json:"savedAt"`
	Labels    Labels           `json:"labels"`
}

// BuildReceipt assembles a receipt for a purchase. Pure; serialization and
// storage are the caller's concern.
func BuildReceipt(l Listing, buyer, txHash string) Receipt {
	return Receipt{
		ListingID: l.ListingID,
		ObjectID:  l.ObjectID,
		Seller:    l.Seller,
		Buyer:     buyer,
		Price:     FormatPrice(l.Price),
		TxHash:    txHash,
		CreatedAt: l.CreatedAt,
		SavedAt:   time.Now().UTC(),
		Labels:    l.Labels,
	}
}
