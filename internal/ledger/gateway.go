package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/model"
	"github.com/lattice-data/market-cli/internal/resilience"
)

// APIError is returned when the gateway responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger: HTTP %d: %s", e.StatusCode, e.Body)
}

// GatewayOption configures the gateway client.
type GatewayOption func(*Gateway)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) GatewayOption {
	return func(g *Gateway) {
		g.http = hc
	}
}

// WithRetry overrides the retry policy for read calls.
func WithRetry(cfg resilience.RetryConfig) GatewayOption {
	return func(g *Gateway) {
		g.retry = cfg
	}
}

// WithBreaker overrides the circuit breaker guarding all gateway calls.
func WithBreaker(cfg resilience.CircuitBreakerConfig) GatewayOption {
	return func(g *Gateway) {
		g.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// Gateway implements Ledger against the contract gateway's JSON API. The
// gateway holds the signing account; transactions submitted here are signed
// on its side (the wallet capability the page relied on in the browser).
type Gateway struct {
	baseURL  string
	contract string
	http     *http.Client
	retry    resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
}

// NewGateway creates a gateway client for the given base URL and contract
// address.
func NewGateway(baseURL, contract string, opts ...GatewayOption) *Gateway {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("gateway", "read")

	breaker := resilience.DefaultCircuitBreakerConfig()
	// 4xx responses are the caller's problem, not the gateway's health.
	breaker.ShouldTrip = resilience.IsTransient

	g := &Gateway{
		baseURL:  baseURL,
		contract: contract,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(breaker),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Listing(ctx context.Context, id ident.Identifier) (model.Listing, error) {
	var l model.Listing
	if err := g.get(ctx, fmt.Sprintf("/listings/%s", id.Hex()), &l); err != nil {
		return model.Listing{}, eris.Wrapf(err, "ledger: read listing %s", id.Short())
	}
	return l, nil
}

func (g *Gateway) SellerListings(ctx context.Context, seller string) ([]ident.Identifier, error) {
	var resp struct {
		ListingIDs []ident.Identifier `json:"listingIds"`
	}
	if err := g.get(ctx, fmt.Sprintf("/sellers/%s/listings", url.PathEscape(seller)), &resp); err != nil {
		return nil, eris.Wrapf(err, "ledger: seller listings for %s", ident.ShortAddr(seller))
	}
	return resp.ListingIDs, nil
}

func (g *Gateway) BuyerPurchases(ctx context.Context, buyer string) ([]ident.Identifier, error) {
	var resp struct {
		ListingIDs []ident.Identifier `json:"listingIds"`
	}
	if err := g.get(ctx, fmt.Sprintf("/buyers/%s/purchases", url.PathEscape(buyer)), &resp); err != nil {
		return nil, eris.Wrapf(err, "ledger: buyer purchases for %s", ident.ShortAddr(buyer))
	}
	return resp.ListingIDs, nil
}

func (g *Gateway) HasPurchased(ctx context.Context, id ident.Identifier, buyer string) (bool, error) {
	var resp struct {
		HasPurchased bool `json:"hasPurchased"`
	}
	path := fmt.Sprintf("/listings/%s/purchased/%s", id.Hex(), url.PathEscape(buyer))
	if err := g.get(ctx, path, &resp); err != nil {
		return false, eris.Wrapf(err, "ledger: has purchased %s", id.Short())
	}
	return resp.HasPurchased, nil
}

func (g *Gateway) AuthTicket(ctx context.Context, id ident.Identifier) (string, error) {
	var resp struct {
		AuthTicket string `json:"authTicket"`
	}
	if err := g.get(ctx, fmt.Sprintf("/listings/%s/ticket", id.Hex()), &resp); err != nil {
		return "", eris.Wrapf(err, "ledger: auth ticket %s", id.Short())
	}
	return resp.AuthTicket, nil
}

func (g *Gateway) CreateListing(ctx context.Context, req CreateListingRequest) (*TxReceipt, error) {
	var receipt TxReceipt
	if err := g.post(ctx, "/listings", req, &receipt); err != nil {
		return nil, eris.Wrap(err, "ledger: create listing")
	}
	return &receipt, nil
}

func (g *Gateway) Purchase(ctx context.Context, id ident.Identifier) (*TxReceipt, error) {
	var receipt TxReceipt
	if err := g.post(ctx, fmt.Sprintf("/listings/%s/purchase", id.Hex()), struct{}{}, &receipt); err != nil {
		return nil, eris.Wrapf(err, "ledger: purchase %s", id.Short())
	}
	return &receipt, nil
}

// get retries transient failures; reads are idempotent.
func (g *Gateway) get(ctx context.Context, path string, out any) error {
	return resilience.Do(ctx, g.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Contract-Address", g.contract)

		return g.breaker.Execute(ctx, func(context.Context) error {
			return g.do(req, out)
		})
	})
}

func (g *Gateway) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Contract-Address", g.contract)

	// No retry: transaction submissions are not idempotent.
	return g.breaker.Execute(ctx, func(context.Context) error {
		return g.do(req, out)
	})
}

func (g *Gateway) do(req *http.Request, out any) error {
	resp, err := g.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
