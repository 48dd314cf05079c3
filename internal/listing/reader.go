// Package listing reads and publishes marketplace listings through the
// ledger collaborator.
package listing

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/ledger"
	"github.com/lattice-data/market-cli/internal/model"
)

// ErrNotFound is returned when the ledger holds no listing for an id.
var ErrNotFound = eris.New("listing: not found")

// resolveConcurrency bounds parallel record fetches when expanding an id set.
const resolveConcurrency = 8

// Reader fetches listing records. It does not retry; retry policy belongs to
// callers.
type Reader struct {
	ledger ledger.Ledger
}

// NewReader creates a Reader over the given ledger.
func NewReader(l ledger.Ledger) *Reader {
	return &Reader{ledger: l}
}

// Get reads one listing. The ledger answers unknown ids with a zero-valued
// record rather than an error, so the null-seller sentinel is checked here.
func (r *Reader) Get(ctx context.Context, id ident.Identifier) (model.Listing, error) {
	l, err := r.ledger.Listing(ctx, id)
	if err != nil {
		return model.Listing{}, err
	}
	if l.Seller == "" || l.Seller == ledger.NullAddress {
		return model.Listing{}, ErrNotFound
	}
	return l, nil
}

// SellerListings resolves a seller's full listing records, newest first. The
// ledger returns ids in creation order; the reversal is presentation policy,
// not a ledger guarantee.
func (r *Reader) SellerListings(ctx context.Context, seller string) ([]model.Listing, error) {
	ids, err := r.ledger.SellerListings(ctx, seller)
	if err != nil {
		return nil, err
	}
	return r.resolveNewestFirst(ctx, ids)
}

// BuyerPurchases resolves the listings a buyer has purchased, newest first.
func (r *Reader) BuyerPurchases(ctx context.Context, buyer string) ([]model.Listing, error) {
	ids, err := r.ledger.BuyerPurchases(ctx, buyer)
	if err != nil {
		return nil, err
	}
	return r.resolveNewestFirst(ctx, ids)
}

// resolveNewestFirst fetches records for an ordered id set in parallel, then
// reverses so the most recent listing sorts first.
func (r *Reader) resolveNewestFirst(ctx context.Context, ids []ident.Identifier) ([]model.Listing, error) {
	rows := make([]model.Listing, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			l, err := r.ledger.Listing(gctx, id)
			if err != nil {
				return eris.Wrapf(err, "listing: resolve %s", id.Short())
			}
			rows[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}
