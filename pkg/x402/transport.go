// Package x402 implements the client half of the pay-per-request HTTP
// protocol: a transport that answers 402 challenges by signing a payment
// header and retrying the original request.
package x402

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
)

// PaymentHeader is the request header carrying the signed payment payload.
const PaymentHeader = "X-PAYMENT"

// PaymentRequirements is one accepted payment option from a 402 challenge.
type PaymentRequirements struct {
	Scheme   string `json:"scheme"`
	Network  string `json:"network"`
	Amount   string `json:"maxAmountRequired"`
	PayTo    string `json:"payTo"`
	Asset    string `json:"asset"`
	Resource string `json:"resource"`
	MimeType string `json:"mimeType,omitempty"`
	TimeoutS int    `json:"maxTimeoutSeconds,omitempty"`
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	Version int                   `json:"x402Version"`
	Error   string                `json:"error,omitempty"`
	Accepts []PaymentRequirements `json:"accepts"`
}

// Signer produces a signed payment header for one payment requirement.
// Implementations that cannot sign programmatically return
// ErrSigningUnsupported so callers can fall back to an out-of-band flow.
type Signer interface {
	Address() string
	SignPayment(ctx context.Context, req PaymentRequirements) (string, error)
}

// ErrSigningUnsupported is returned by signers without a programmatic
// payment capability.
var ErrSigningUnsupported = eris.New("x402: signer cannot sign payments programmatically")

// ErrPaymentRejected is returned when a request still receives 402 after a
// signed payment header was attached.
var ErrPaymentRejected = eris.New("x402: payment rejected by server")

// Transport wraps a base RoundTripper with the pay-and-retry flow.
type Transport struct {
	Base   http.RoundTripper
	Signer Signer
}

// NewClient returns an *http.Client whose transport pays 402 challenges with
// the given signer.
func NewClient(signer Signer) *http.Client {
	return &http.Client{Transport: &Transport{Signer: signer}}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip executes the request; on a 402 response it decodes the accepted
// payment requirements, obtains a signed payment header, and retries the
// request once with the header attached.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	challenge, err := decodeChallenge(resp)
	if err != nil {
		return nil, err
	}
	if len(challenge.Accepts) == 0 {
		return nil, eris.New("x402: 402 challenge lists no accepted payment options")
	}
	if t.Signer == nil {
		return nil, ErrSigningUnsupported
	}

	header, err := t.Signer.SignPayment(req.Context(), challenge.Accepts[0])
	if err != nil {
		return nil, eris.Wrap(err, "x402: sign payment")
	}

	retry, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	retry.Header.Set(PaymentHeader, header)

	resp, err = t.base().RoundTrip(retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		resp.Body.Close()
		return nil, ErrPaymentRejected
	}
	return resp, nil
}

func decodeChallenge(resp *http.Response) (*PaymentRequired, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "x402: read 402 challenge")
	}
	var challenge PaymentRequired
	if err := json.Unmarshal(data, &challenge); err != nil {
		return nil, eris.Wrap(err, "x402: decode 402 challenge")
	}
	return &challenge, nil
}

// cloneRequest rebuilds the request with a fresh body so it can be replayed.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, eris.New("x402: request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, eris.Wrap(err, "x402: reread request body")
	}
	clone.Body = body
	return clone, nil
}
