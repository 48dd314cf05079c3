package store

import (
	"context"
	"time"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/model"
)

// ReceiptFilter specifies criteria for listing saved receipts.
type ReceiptFilter struct {
	Buyer  string `json:"buyer,omitempty"`
	Seller string `json:"seller,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines local persistence for the marketplace CLI: purchase
// receipts, access grants observed during polling, and a TTL'd listing
// cache so repeat reads skip the gateway.
type Store interface {
	// Receipts
	SaveReceipt(ctx context.Context, r model.Receipt) error
	ListReceipts(ctx context.Context, filter ReceiptFilter) ([]model.Receipt, error)

	// Access grants
	SaveGrant(ctx context.Context, listingID ident.Identifier, buyer, txHash string) error
	HasGrant(ctx context.Context, listingID ident.Identifier, buyer string) (bool, error)
	GrantedListings(ctx context.Context, buyer string) ([]ident.Identifier, error)

	// Listing cache
	GetCachedListing(ctx context.Context, listingID ident.Identifier) (*model.Listing, error)
	SetCachedListing(ctx context.Context, l model.Listing, ttl time.Duration) error
	DeleteExpiredListings(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
