package listing

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/ledger"
	"github.com/lattice-data/market-cli/internal/model"
)

// creationEventName is the ledger event announcing a new listing.
const creationEventName = "DataListed"

// PublishRequest carries the raw form inputs for a new listing.
type PublishRequest struct {
	ObjectID     string // free string or canonical hex
	Price        string // decimal, e.g. "0.05"
	TaskType     string
	DataType     string
	QualityScore int
	Categories   string // comma separated
	Annotations  string // expected but not required to be JSON
	SampleCount  uint64
	Privacy      string
	ContentHash  string // free string or canonical hex
	AuthTicket   string
}

// PublishResult reports a submitted listing. IDRecovered false with a
// non-empty TxHash means the transaction succeeded but neither the receipt
// events nor the seller's listing set yielded the assigned identifier.
type PublishResult struct {
	TxHash      string
	ListingID   ident.Identifier
	IDRecovered bool
}

// Publisher submits new listings and recovers their assigned identifiers.
type Publisher struct {
	ledger          ledger.Ledger
	seller          string
	fallbackRetries int
	fallbackDelay   time.Duration
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithFallbackRetry tunes the stale-read retry of the seller-set fallback.
func WithFallbackRetry(retries int, delay time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.fallbackRetries = retries
		p.fallbackDelay = delay
	}
}

// NewPublisher creates a Publisher submitting on behalf of seller.
func NewPublisher(l ledger.Ledger, seller string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		ledger:          l,
		seller:          seller,
		fallbackRetries: 3,
		fallbackDelay:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish validates and submits a new listing, then recovers the assigned
// identifier: first from the receipt's creation events, falling back to the
// last entry of the seller's listing set.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	price, err := model.ParsePrice(req.Price)
	if err != nil {
		return nil, err
	}

	createReq := ledger.CreateListingRequest{
		ObjectID: ident.Canonicalize(req.ObjectID),
		Price:    price,
		Labels: model.Labels{
			TaskType:     req.TaskType,
			DataType:     req.DataType,
			QualityScore: req.QualityScore,
			Categories:   model.SplitCategories(req.Categories),
			Annotations:  req.Annotations,
			SampleCount:  req.SampleCount,
			Privacy:      req.Privacy,
			ContentHash:  ident.Canonicalize(req.ContentHash),
		},
		AuthTicket: req.AuthTicket,
	}

	// Snapshot the seller's set so a stale fallback read is detectable.
	prior, err := p.ledger.SellerListings(ctx, p.seller)
	if err != nil {
		prior = nil
	}

	receipt, err := p.ledger.CreateListing(ctx, createReq)
	if err != nil {
		return nil, err
	}

	result := &PublishResult{TxHash: receipt.TxHash}
	if id, ok := DecodeCreationEvent(receipt); ok {
		result.ListingID = id
		result.IDRecovered = true
		return result, nil
	}

	// Receipt carried no decodable creation event; re-read the seller's set
	// and take its last entry. The gateway may briefly serve the
	// pre-creation set, so retry until the set grows.
	zap.L().Warn("no creation event in receipt, falling back to seller listing set",
		zap.String("tx", receipt.TxHash),
	)
	if id, ok := p.recoverFromSellerSet(ctx, len(prior)); ok {
		result.ListingID = id
		result.IDRecovered = true
	}
	// IDRecovered false: the transaction succeeded but the id is not
	// recoverable; callers must surface this partial state distinctly.
	return result, nil
}

func (p *Publisher) recoverFromSellerSet(ctx context.Context, priorLen int) (ident.Identifier, bool) {
	for attempt := 0; attempt <= p.fallbackRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ident.Zero, false
			case <-time.After(p.fallbackDelay):
			}
		}
		ids, err := p.ledger.SellerListings(ctx, p.seller)
		if err != nil {
			continue
		}
		if len(ids) > priorLen {
			return ids[len(ids)-1], true
		}
	}
	return ident.Zero, false
}

// DecodeCreationEvent scans receipt events for a decodable creation event
// and returns its listing id. Total: undecodable events are skipped, a
// receipt without one yields ok=false.
func DecodeCreationEvent(receipt *ledger.TxReceipt) (ident.Identifier, bool) {
	if receipt == nil {
		return ident.Zero, false
	}
	for _, ev := range receipt.Events {
		if ev.Name != creationEventName {
			continue
		}
		var created ledger.CreatedEvent
		if err := json.Unmarshal(ev.Data, &created); err != nil {
			continue
		}
		if created.ListingID.IsZero() {
			continue
		}
		return created.ListingID, true
	}
	return ident.Zero, false
}

// ShareLink builds the private deep link for a listing: the base page URL
// with the identifier as the lid query parameter.
func ShareLink(base string, id ident.Identifier) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "lid=" + url.QueryEscape(id.Hex())
}

// ParseShareLink extracts the listing identifier from a share link's lid
// parameter. ok is false for anything that is not a URL with a valid lid.
func ParseShareLink(link string) (ident.Identifier, bool) {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return ident.Zero, false
	}
	lid := u.Query().Get("lid")
	if lid == "" {
		return ident.Zero, false
	}
	id, err := ident.Parse(lid)
	if err != nil {
		return ident.Zero, false
	}
	return id, true
}

func validate(req PublishRequest) error {
	switch {
	case strings.TrimSpace(req.ObjectID) == "":
		return eris.New("listing: object id is required")
	case strings.TrimSpace(req.Price) == "":
		return eris.New("listing: price is required")
	case req.QualityScore < 1 || req.QualityScore > 100:
		return eris.Errorf("listing: quality score %d out of range 1-100", req.QualityScore)
	case req.AuthTicket == "":
		return eris.New("listing: auth ticket is required")
	}
	return nil
}
