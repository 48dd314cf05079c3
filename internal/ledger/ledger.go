// Package ledger defines the on-chain collaborator interface the CLI needs,
// and an HTTP gateway client implementing it. The contract itself lives
// behind the gateway; only the call surface matters here.
package ledger

import (
	"context"
	"encoding/json"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/model"
)

// NullAddress is the ledger's zero-account sentinel. A listing record whose
// seller equals this value was never created.
const NullAddress = "0x0000000000000000000000000000000000000000"

// Event is one emitted ledger event from a transaction receipt. Data is the
// raw event payload; callers decode it against the schema they expect and
// skip events that do not fit.
type Event struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// TxReceipt is the inclusion receipt for a submitted transaction.
type TxReceipt struct {
	TxHash string  `json:"txHash"`
	Events []Event `json:"events"`
}

// CreatedEvent is the payload of a "DataListed" event.
type CreatedEvent struct {
	ListingID ident.Identifier `json:"listingId"`
	Seller    string           `json:"seller"`
	ObjectID  ident.Identifier `json:"objectId"`
	Price     uint64           `json:"price"`
}

// PurchasedEvent is the payload of a "DataPurchased" event.
type PurchasedEvent struct {
	PurchaseID ident.Identifier `json:"purchaseId"`
	ListingID  ident.Identifier `json:"listingId"`
	Buyer      string           `json:"buyer"`
	Amount     uint64           `json:"amount"`
}

// CreateListingRequest carries the ledger-side fields of a new listing.
type CreateListingRequest struct {
	ObjectID   ident.Identifier `json:"objectId"`
	Price      uint64           `json:"price"`
	Labels     model.Labels     `json:"labels"`
	AuthTicket string           `json:"authTicket"`
}

// Ledger is the contract call surface used by the readers and the publisher.
// Reads return zero-valued records for unknown ids rather than failing;
// callers perform the NullAddress sentinel check themselves.
type Ledger interface {
	Listing(ctx context.Context, id ident.Identifier) (model.Listing, error)
	SellerListings(ctx context.Context, seller string) ([]ident.Identifier, error)
	BuyerPurchases(ctx context.Context, buyer string) ([]ident.Identifier, error)
	HasPurchased(ctx context.Context, id ident.Identifier, buyer string) (bool, error)
	AuthTicket(ctx context.Context, id ident.Identifier) (string, error)

	CreateListing(ctx context.Context, req CreateListingRequest) (*TxReceipt, error)
	Purchase(ctx context.Context, id ident.Identifier) (*TxReceipt, error)
}
