// Package facilitator is the HTTP client for the payment facilitator /
// authorization backend: access checks, purchases, payment intents, and
// per-wallet stats.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the facilitator API operations.
type Client interface {
	CheckAccess(ctx context.Context, listingID, buyer string) (*AccessResponse, error)
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResponse, error)
	PurchaseIntent(ctx context.Context, req PurchaseRequest) (*IntentResponse, error)
	Stats(ctx context.Context, wallet string) (*StatsResponse, error)
}

// AccessResponse is the body of GET /access/{listingId}/{buyer}.
type AccessResponse struct {
	HasAccess bool   `json:"hasAccess"`
	ListingID string `json:"listingId,omitempty"`
	Buyer     string `json:"buyer,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	Note      string `json:"note,omitempty"`
}

// PurchaseRequest is the body for POST /purchase and POST /purchase/intent.
type PurchaseRequest struct {
	ListingID string `json:"listingId"`
	Buyer     string `json:"buyer"`
}

// PurchaseResponse is the body of a successful POST /purchase.
type PurchaseResponse struct {
	TxHash string `json:"txHash,omitempty"`
}

// IntentResponse is the body of a successful POST /purchase/intent.
type IntentResponse struct {
	PaymentURL string `json:"paymentUrl"`
}

// StatsResponse is the body of GET /stats/{wallet}.
type StatsResponse struct {
	ActiveListings int `json:"activeListings"`
	TotalPurchases int `json:"totalPurchases"`
}

// APIError is returned on a non-2xx facilitator response. Message holds the
// backend's {error} field when present, otherwise the raw body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("facilitator: HTTP %d: %s", e.StatusCode, e.Message)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client. Pass an x402-paying client to
// make Purchase settle 402 challenges automatically.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// NewClient creates a facilitator client for the given base URL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) CheckAccess(ctx context.Context, listingID, buyer string) (*AccessResponse, error) {
	// The t param busts intermediary caches; grant state changes out of band.
	path := fmt.Sprintf("/access/%s/%s?t=%s",
		url.PathEscape(listingID), url.PathEscape(buyer),
		strconv.FormatInt(c.now().UnixMilli(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, eris.Wrap(err, "facilitator: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	var resp AccessResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) Purchase(ctx context.Context, preq PurchaseRequest) (*PurchaseResponse, error) {
	var resp PurchaseResponse
	if err := c.post(ctx, "/purchase", preq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) PurchaseIntent(ctx context.Context, preq PurchaseRequest) (*IntentResponse, error) {
	var resp IntentResponse
	if err := c.post(ctx, "/purchase/intent", preq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) Stats(ctx context.Context, wallet string) (*StatsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/stats/"+url.PathEscape(wallet), nil)
	if err != nil {
		return nil, eris.Wrap(err, "facilitator: create request")
	}
	req.Header.Set("Accept", "application/json")

	var resp StatsResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "facilitator: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "facilitator: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "facilitator: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "facilitator: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data, resp.StatusCode),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "facilitator: decode response")
	}

	return nil
}

// errorMessage extracts the backend's {error} field, falling back to a
// generic status description when the body is not the expected shape.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if len(body) > 0 {
		return string(body)
	}
	return fmt.Sprintf("access API error (%d)", status)
}
