package listing

import (
	"context"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/ledger"
	"github.com/lattice-data/market-cli/internal/model"
)

// mockLedger implements ledger.Ledger over in-memory state.
type mockLedger struct {
	mu       sync.Mutex
	listings map[ident.Identifier]model.Listing
	sellers  map[string][]ident.Identifier
	buyers   map[string][]ident.Identifier

	sellerListingsFunc func(ctx context.Context, seller string) ([]ident.Identifier, error)
	createFunc         func(ctx context.Context, req ledger.CreateListingRequest) (*ledger.TxReceipt, error)
	listingErr         error
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		listings: make(map[ident.Identifier]model.Listing),
		sellers:  make(map[string][]ident.Identifier),
		buyers:   make(map[string][]ident.Identifier),
	}
}

func (m *mockLedger) add(l model.Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ListingID] = l
	m.sellers[l.Seller] = append(m.sellers[l.Seller], l.ListingID)
}

func (m *mockLedger) Listing(_ context.Context, id ident.Identifier) (model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listingErr != nil {
		return model.Listing{}, m.listingErr
	}
	// Unknown ids yield a zero-valued record, like the contract mapping.
	return m.listings[id], nil
}

func (m *mockLedger) SellerListings(ctx context.Context, seller string) ([]ident.Identifier, error) {
	if m.sellerListingsFunc != nil {
		return m.sellerListingsFunc(ctx, seller)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ident.Identifier(nil), m.sellers[seller]...), nil
}

func (m *mockLedger) BuyerPurchases(_ context.Context, buyer string) ([]ident.Identifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ident.Identifier(nil), m.buyers[buyer]...), nil
}

func (m *mockLedger) HasPurchased(_ context.Context, id ident.Identifier, buyer string) (bool, error) {
	return false, nil
}

func (m *mockLedger) AuthTicket(_ context.Context, id ident.Identifier) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listings[id].AuthTicket, nil
}

func (m *mockLedger) CreateListing(ctx context.Context, req ledger.CreateListingRequest) (*ledger.TxReceipt, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}
	return &ledger.TxReceipt{TxHash: "0xtx"}, nil
}

func (m *mockLedger) Purchase(_ context.Context, id ident.Identifier) (*ledger.TxReceipt, error) {
	return &ledger.TxReceipt{TxHash: "0xpurchase"}, nil
}

func seedListing(m *mockLedger, name, seller string) model.Listing {
	l := model.Listing{
		ListingID: ident.Canonicalize(name),
		Seller:    seller,
		ObjectID:  ident.Canonicalize(name + "-object"),
		Price:     50_000,
		Active:    true,
		Labels:    model.Labels{TaskType: "classification", DataType: "image"},
	}
	m.add(l)
	return l
}

func TestReader_Get(t *testing.T) {
	m := newMockLedger()
	want := seedListing(m, "dataset-001", "0xseller")

	got, err := NewReader(m).Get(context.Background(), want.ListingID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReader_Get_NotFound(t *testing.T) {
	m := newMockLedger()
	r := NewReader(m)

	_, err := r.Get(context.Background(), ident.Canonicalize("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReader_Get_NullSellerSentinel(t *testing.T) {
	m := newMockLedger()
	id := ident.Canonicalize("ghost")
	m.listings[id] = model.Listing{ListingID: id, Seller: ledger.NullAddress}

	_, err := NewReader(m).Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReader_Get_LedgerErrorSurfaces(t *testing.T) {
	m := newMockLedger()
	m.listingErr = eris.New("execution reverted")

	_, err := NewReader(m).Get(context.Background(), ident.Canonicalize("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "execution reverted")
}

func TestReader_SellerListings_NewestFirst(t *testing.T) {
	m := newMockLedger()
	first := seedListing(m, "oldest", "0xseller")
	second := seedListing(m, "middle", "0xseller")
	third := seedListing(m, "newest", "0xseller")
	seedListing(m, "other", "0xsomeone-else")

	rows, err := NewReader(m).SellerListings(context.Background(), "0xseller")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, third.ListingID, rows[0].ListingID)
	assert.Equal(t, second.ListingID, rows[1].ListingID)
	assert.Equal(t, first.ListingID, rows[2].ListingID)
}

func TestReader_SellerListings_Empty(t *testing.T) {
	rows, err := NewReader(newMockLedger()).SellerListings(context.Background(), "0xnobody")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReader_SellerListings_ResolveErrorSurfaces(t *testing.T) {
	m := newMockLedger()
	seedListing(m, "a", "0xseller")
	m.listingErr = eris.New("gateway down")

	_, err := NewReader(m).SellerListings(context.Background(), "0xseller")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway down")
}

func TestReader_BuyerPurchases_NewestFirst(t *testing.T) {
	m := newMockLedger()
	a := seedListing(m, "a", "0xseller")
	b := seedListing(m, "b", "0xseller")
	m.buyers["0xbuyer"] = []ident.Identifier{a.ListingID, b.ListingID}

	rows, err := NewReader(m).BuyerPurchases(context.Background(), "0xbuyer")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, b.ListingID, rows[0].ListingID)
	assert.Equal(t, a.ListingID, rows[1].ListingID)
}
