package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/model"
	"github.com/lattice-data/market-cli/internal/resilience"
)

const testContract = "0x1111111111111111111111111111111111111111"

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGateway(srv.URL, testContract)
}

func TestGateway_Listing(t *testing.T) {
	id := ident.Canonicalize("dataset-001")
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/listings/"+id.Hex(), r.URL.Path)
		assert.Equal(t, testContract, r.Header.Get("X-Contract-Address"))

		json.NewEncoder(w).Encode(model.Listing{
			ListingID: id,
			Seller:    "0xseller",
			Price:     50_000,
			CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			Active:    true,
		})
	})

	l, err := g.Listing(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, l.ListingID)
	assert.Equal(t, "0xseller", l.Seller)
	assert.Equal(t, "0.05", l.PriceDisplay())
	assert.True(t, l.Active)
}

func TestGateway_Listing_UnknownReturnsZeroRecord(t *testing.T) {
	// The ledger answers unknown ids with a zero-valued record, not an error.
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.Listing{Seller: NullAddress})
	})

	l, err := g.Listing(context.Background(), ident.Canonicalize("missing"))
	require.NoError(t, err)
	assert.Equal(t, NullAddress, l.Seller)
}

func TestGateway_SellerListings(t *testing.T) {
	a := ident.Canonicalize("a")
	b := ident.Canonicalize("b")
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sellers/0xseller/listings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"listingIds": []string{a.Hex(), b.Hex()},
		})
	})

	ids, err := g.SellerListings(context.Background(), "0xseller")
	require.NoError(t, err)
	assert.Equal(t, []ident.Identifier{a, b}, ids)
}

func TestGateway_HasPurchased(t *testing.T) {
	id := ident.Canonicalize("x")
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/purchased/0xbuyer"))
		json.NewEncoder(w).Encode(map[string]bool{"hasPurchased": true})
	})

	ok, err := g.HasPurchased(context.Background(), id, "0xbuyer")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGateway_CreateListing(t *testing.T) {
	objectID := ident.Canonicalize("dataset-001")
	listingID := ident.Canonicalize("assigned")
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/listings", r.URL.Path)

		var req CreateListingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, objectID, req.ObjectID)
		assert.Equal(t, uint64(50_000), req.Price)

		data, _ := json.Marshal(CreatedEvent{ListingID: listingID, Seller: "0xseller", ObjectID: objectID, Price: req.Price})
		json.NewEncoder(w).Encode(TxReceipt{
			TxHash: "0xdeadbeef",
			Events: []Event{{Name: "DataListed", Data: data}},
		})
	})

	receipt, err := g.CreateListing(context.Background(), CreateListingRequest{
		ObjectID:   objectID,
		Price:      50_000,
		AuthTicket: "ticket",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", receipt.TxHash)
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, "DataListed", receipt.Events[0].Name)
}

func TestGateway_ErrorStatusSurfacesAPIError(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"execution reverted"}`))
	})

	_, err := g.Purchase(context.Background(), ident.Canonicalize("x"))
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "execution reverted")
}

func TestGateway_AuthTicket(t *testing.T) {
	id := ident.Canonicalize("x")
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/listings/"+id.Hex()+"/ticket", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"authTicket": "encryptedAuthToken123456789=="})
	})

	ticket, err := g.AuthTicket(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "encryptedAuthToken123456789==", ticket)
}

func TestGateway_RetriesTransientReadFailures(t *testing.T) {
	id := ident.Canonicalize("flaky")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(model.Listing{ListingID: id, Seller: "0xseller"})
	}))
	t.Cleanup(srv.Close)

	g := NewGateway(srv.URL, testContract, WithRetry(resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		JitterFraction: -1, // treated as no jitter
	}))

	l, err := g.Listing(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, l.ListingID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGateway_DoesNotRetryWrites(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := g.Purchase(context.Background(), ident.Canonicalize("x"))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGateway_BreakerOpensOnRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	g := NewGateway(srv.URL, testContract,
		WithRetry(resilience.RetryConfig{MaxAttempts: 1}),
		WithBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 2,
			ResetTimeout:     time.Hour,
		}),
	)

	id := ident.Canonicalize("down")
	for i := 0; i < 2; i++ {
		_, err := g.Listing(context.Background(), id)
		require.Error(t, err)
	}

	// The circuit is open now; calls are rejected without hitting the wire.
	_, err := g.Listing(context.Background(), id)
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}
