// Package purchase drives the end-to-end buy flow for one listing: an
// automatic pay-and-retry attempt, a same-backend payment-intent fallback,
// then confirmation polling against the authorization backend.
package purchase

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lattice-data/market-cli/internal/access"
	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/ledger"
	"github.com/lattice-data/market-cli/internal/model"
	"github.com/lattice-data/market-cli/internal/wallet"
	"github.com/lattice-data/market-cli/pkg/facilitator"
)

// State is the phase of a purchase attempt.
type State string

const (
	StateIdle        State = "idle"
	StatePaying      State = "paying"
	StateGranted     State = "granted"
	StatePollTimeout State = "poll_timeout"
	StateFailed      State = "failed"
)

// Outcome is one discriminated state transition of a purchase attempt. The
// presentation layer projects the latest outcome instead of mutating view
// state piecemeal.
type Outcome struct {
	State      State
	ListingID  ident.Identifier
	TxHash     string
	PaymentURL string
	Err        string
	Access     *facilitator.AccessResponse
}

// ErrNotConnected rejects a purchase without a connected buyer identity.
var ErrNotConnected = eris.New("purchase: connect your wallet first")

// ErrInsecureBackend rejects a plaintext backend under a secure context up
// front; the transport layer would otherwise block the request opaquely.
var ErrInsecureBackend = eris.New("purchase: backend base URL is HTTP while secure transport is required; use an HTTPS API base")

// Opener opens a payment URL in a new browsing context for the manual
// fallback flow.
type Opener interface {
	Open(url string) error
}

// Identity supplies the buyer account, typically backed by the wallet.
type Identity interface {
	Address() string
}

// Subscriber delivers wallet account and chain change events; unsubscribing
// through the returned function closes the channel.
type Subscriber interface {
	Subscribe() (<-chan wallet.Event, func())
}

// Config wires an Orchestrator.
type Config struct {
	BackendURL string
	// SecureContext mirrors running under HTTPS: plaintext backends are
	// refused before any network call.
	SecureContext bool
	// Paying settles 402 challenges automatically (x402 transport).
	Paying facilitator.Client
	// Plain carries the intent fallback without payment handling.
	Plain     facilitator.Client
	Access    *access.Client
	Identity  Identity
	Opener    Opener
	OnOutcome func(Outcome)
	// Ledger submits direct on-chain purchases for the legacy flow; optional
	// when only the facilitator flows are used.
	Ledger ledger.Ledger
	// Wallet, when set, lets Watch cancel an attempt on account or chain
	// changes mid-flight.
	Wallet Subscriber
}

// Orchestrator runs at most one purchase attempt at a time; starting a new
// attempt cancels polling for the previous one.
type Orchestrator struct {
	cfg Config

	mu      sync.Mutex
	state   State
	current ident.Identifier
	lastTx  string
	lastErr string
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg, state: StateIdle}
}

// State returns the current attempt phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Current returns the listing id of the attempt in focus.
func (o *Orchestrator) Current() ident.Identifier {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// LastTx returns the transaction reference of the most recent attempt.
func (o *Orchestrator) LastTx() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastTx
}

// LastError returns the most recent attempt error, kept visible until the
// next attempt clears it.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Buy runs the purchase flow for a listing. It returns an error only for
// terminal failures before polling starts; confirmation results are
// delivered through OnOutcome.
func (o *Orchestrator) Buy(ctx context.Context, l model.Listing) error {
	buyer := o.cfg.Identity.Address()

	// New attempt: cancel any prior polling and reset diagnostics.
	o.cfg.Access.Stop()
	o.mu.Lock()
	o.state = StateIdle
	o.current = l.ListingID
	o.lastTx = ""
	o.lastErr = ""
	o.mu.Unlock()

	if buyer == "" {
		return o.fail(l.ListingID, ErrNotConnected.Error())
	}
	if o.cfg.SecureContext && strings.HasPrefix(strings.ToLower(o.cfg.BackendURL), "http://") {
		return o.fail(l.ListingID, ErrInsecureBackend.Error())
	}

	o.setState(StatePaying)
	o.emit(Outcome{State: StatePaying, ListingID: l.ListingID})

	req := facilitator.PurchaseRequest{ListingID: l.ListingID.Hex(), Buyer: buyer}

	resp, err := o.cfg.Paying.Purchase(ctx, req)
	if err == nil {
		if resp.TxHash != "" {
			o.mu.Lock()
			o.lastTx = resp.TxHash
			o.mu.Unlock()
		}
		o.startConfirmation(ctx, l.ListingID, buyer)
		return nil
	}

	// The automatic flow failed (signing unsupported, network error, or the
	// backend rejected it); fall back to an out-of-band payment intent.
	zap.L().Warn("automatic payment flow failed, falling back to intent URL",
		zap.String("listing", l.ListingID.Short()),
		zap.Error(err),
	)

	intent, ierr := o.cfg.Plain.PurchaseIntent(ctx, req)
	if ierr != nil {
		return o.fail(l.ListingID, errMessage(ierr))
	}
	if intent.PaymentURL == "" {
		return o.fail(l.ListingID, "no paymentUrl returned by facilitator")
	}

	if o.cfg.Opener != nil {
		if oerr := o.cfg.Opener.Open(intent.PaymentURL); oerr != nil {
			// Manual completion is still possible; keep going.
			zap.L().Warn("could not open payment URL", zap.Error(oerr))
		}
	}
	o.emit(Outcome{State: StatePaying, ListingID: l.ListingID, PaymentURL: intent.PaymentURL})

	o.startConfirmation(ctx, l.ListingID, buyer)
	return nil
}

// BuyLegacy runs the direct on-chain purchase flow: a transaction against
// the marketplace contract instead of a facilitator settlement, followed by
// the same confirmation polling. Grants still come from the authorization
// backend, which observes the purchase event.
func (o *Orchestrator) BuyLegacy(ctx context.Context, l model.Listing) error {
	buyer := o.cfg.Identity.Address()

	o.cfg.Access.Stop()
	o.mu.Lock()
	o.state = StateIdle
	o.current = l.ListingID
	o.lastTx = ""
	o.lastErr = ""
	o.mu.Unlock()

	if buyer == "" {
		return o.fail(l.ListingID, ErrNotConnected.Error())
	}
	if o.cfg.Ledger == nil {
		return o.fail(l.ListingID, "purchase: no ledger configured for direct purchases")
	}

	o.setState(StatePaying)
	o.emit(Outcome{State: StatePaying, ListingID: l.ListingID})

	receipt, err := o.cfg.Ledger.Purchase(ctx, l.ListingID)
	if err != nil {
		return o.fail(l.ListingID, errMessage(err))
	}

	o.mu.Lock()
	o.lastTx = receipt.TxHash
	o.mu.Unlock()

	if ev, ok := decodePurchaseEvent(receipt); ok {
		zap.L().Info("purchase transaction confirmed",
			zap.String("listing", ev.ListingID.Short()),
			zap.String("purchase", ev.PurchaseID.Short()),
			zap.Uint64("amount", ev.Amount),
		)
	}

	o.startConfirmation(ctx, l.ListingID, buyer)
	return nil
}

// Watch cancels the attempt in focus when the wallet switches account or
// chain: a grant earned by the old identity does not transfer. Watch returns
// once ctx is done or the wallet subscription closes.
func (o *Orchestrator) Watch(ctx context.Context) {
	if o.cfg.Wallet == nil {
		return
	}
	events, unsubscribe := o.cfg.Wallet.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.cfg.Access.Stop()
			o.mu.Lock()
			id := o.current
			o.state = StateIdle
			o.current = ident.Zero
			o.lastTx = ""
			o.lastErr = ""
			o.mu.Unlock()
			zap.L().Warn("wallet changed mid-purchase, attempt cancelled",
				zap.String("event", string(ev.Type)),
				zap.String("listing", id.Short()),
			)
			o.emit(Outcome{State: StateIdle, ListingID: id})
		}
	}
}

// Recheck runs a single manual access check for the attempt in focus. Safe
// alongside an active poll; both only ever flip granted false to true.
func (o *Orchestrator) Recheck(ctx context.Context) bool {
	o.mu.Lock()
	id := o.current
	o.mu.Unlock()
	if id.IsZero() {
		return false
	}
	granted := o.cfg.Access.CheckOnce(ctx, id, o.cfg.Identity.Address())
	if granted {
		o.markGranted()
		o.emit(Outcome{State: StateGranted, ListingID: id, TxHash: o.LastTx(), Access: o.cfg.Access.LastResponse()})
	}
	return granted
}

// RestartPolling resumes confirmation polling for the attempt in focus
// without re-paying, e.g. after a poll timeout.
func (o *Orchestrator) RestartPolling(ctx context.Context) {
	o.mu.Lock()
	id := o.current
	o.mu.Unlock()
	if id.IsZero() {
		return
	}
	o.setState(StatePaying)
	o.startConfirmation(ctx, id, o.cfg.Identity.Address())
}

// Cancel stops any active confirmation polling.
func (o *Orchestrator) Cancel() {
	o.cfg.Access.Stop()
}

func (o *Orchestrator) startConfirmation(ctx context.Context, id ident.Identifier, buyer string) {
	o.cfg.Access.StartPolling(ctx, id, buyer, func(r access.Result) {
		if r.Granted {
			o.markGranted()
			o.emit(Outcome{State: StateGranted, ListingID: id, TxHash: o.LastTx(), Access: r.Last})
			return
		}
		// Non-fatal: diagnostics stay visible, the user may recheck or
		// restart polling without paying again.
		o.mu.Lock()
		o.state = StatePollTimeout
		o.lastErr = r.Err
		o.mu.Unlock()
		o.emit(Outcome{State: StatePollTimeout, ListingID: id, TxHash: o.LastTx(), Err: r.Err, Access: r.Last})
	})
}

func (o *Orchestrator) fail(id ident.Identifier, msg string) error {
	o.mu.Lock()
	o.state = StateFailed
	o.lastErr = msg
	o.mu.Unlock()
	o.emit(Outcome{State: StateFailed, ListingID: id, Err: msg})
	return eris.New(msg)
}

// markGranted also drops any lingering timeout diagnostic from an earlier
// polling run of the same attempt.
func (o *Orchestrator) markGranted() {
	o.mu.Lock()
	o.state = StateGranted
	o.lastErr = ""
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) emit(out Outcome) {
	if o.cfg.OnOutcome != nil {
		o.cfg.OnOutcome(out)
	}
}

const purchaseEventName = "DataPurchased"

// decodePurchaseEvent scans receipt events for a decodable purchase event.
// Undecodable events are skipped; a receipt without one yields ok=false.
func decodePurchaseEvent(receipt *ledger.TxReceipt) (ledger.PurchasedEvent, bool) {
	if receipt == nil {
		return ledger.PurchasedEvent{}, false
	}
	for _, ev := range receipt.Events {
		if ev.Name != purchaseEventName {
			continue
		}
		var purchased ledger.PurchasedEvent
		if err := json.Unmarshal(ev.Data, &purchased); err != nil {
			continue
		}
		if purchased.ListingID.IsZero() {
			continue
		}
		return purchased, true
	}
	return ledger.PurchasedEvent{}, false
}

// errMessage prefers the backend's own error text over transport wrapping.
func errMessage(err error) string {
	var apiErr *facilitator.APIError
	if eris.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
