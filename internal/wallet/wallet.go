// Package wallet provides the injected signer capability: a connected
// account, the current chain, payment-header signing, and change
// notifications delivered as discrete events.
package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"

	"github.com/lattice-data/market-cli/pkg/x402"
)

// EventType distinguishes wallet change notifications.
type EventType string

const (
	// AccountsChanged fires when the active account switches.
	AccountsChanged EventType = "accountsChanged"
	// ChainChanged fires when the active chain switches.
	ChainChanged EventType = "chainChanged"
)

// Event is one wallet change notification.
type Event struct {
	Type    EventType
	Address string
	ChainID int
}

// Config configures a local wallet.
type Config struct {
	Address    string
	ChainID    int
	PaymentKey string // HS256 key for payment headers; empty disables signing
}

// Wallet is a local signer capability. Change notifications go out to
// subscribers; subscriptions are released deterministically via the returned
// cancel func.
type Wallet struct {
	mu         sync.RWMutex
	address    string
	chainID    int
	paymentKey []byte
	subs       map[int]chan Event
	nextSub    int
	now        func() time.Time
}

// New creates a wallet from config.
func New(cfg Config) *Wallet {
	w := &Wallet{
		address: cfg.Address,
		chainID: cfg.ChainID,
		subs:    make(map[int]chan Event),
		now:     time.Now,
	}
	if cfg.PaymentKey != "" {
		w.paymentKey = []byte(cfg.PaymentKey)
	}
	return w
}

// Address returns the active account, empty when disconnected.
func (w *Wallet) Address() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.address
}

// ChainID returns the active chain id.
func (w *Wallet) ChainID() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.chainID
}

// Connected reports whether an account is active.
func (w *Wallet) Connected() bool {
	return w.Address() != ""
}

// PaymentClaims is the JWT payload of a signed payment header.
type PaymentClaims struct {
	Scheme   string `json:"scheme"`
	Network  string `json:"network"`
	Amount   string `json:"amount"`
	PayTo    string `json:"payTo"`
	Asset    string `json:"asset"`
	Resource string `json:"resource,omitempty"`
	jwt.RegisteredClaims
}

// SignPayment signs a payment requirement as an HS256 JWT whose issuer is
// the paying account. Wallets configured without a payment key cannot sign
// and return x402.ErrSigningUnsupported.
func (w *Wallet) SignPayment(ctx context.Context, req x402.PaymentRequirements) (string, error) {
	w.mu.RLock()
	key := w.paymentKey
	addr := w.address
	w.mu.RUnlock()

	if addr == "" {
		return "", eris.New("wallet: no connected account")
	}
	if len(key) == 0 {
		return "", x402.ErrSigningUnsupported
	}

	ttl := 5 * time.Minute
	if req.TimeoutS > 0 {
		ttl = time.Duration(req.TimeoutS) * time.Second
	}

	now := w.now()
	claims := PaymentClaims{
		Scheme:   req.Scheme,
		Network:  req.Network,
		Amount:   req.Amount,
		PayTo:    req.PayTo,
		Asset:    req.Asset,
		Resource: req.Resource,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    addr,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", eris.Wrap(err, "wallet: sign payment")
	}
	return token, nil
}

// VerifyPayment validates a signed payment header against a shared key and
// returns its claims. Used by the dev facilitator.
func VerifyPayment(key []byte, header string) (*PaymentClaims, error) {
	claims := &PaymentClaims{}
	_, err := jwt.ParseWithClaims(header, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, eris.Errorf("wallet: unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "wallet: verify payment")
	}
	return claims, nil
}

// SetAccount switches the active account and notifies subscribers.
func (w *Wallet) SetAccount(addr string) {
	w.mu.Lock()
	w.address = addr
	chainID := w.chainID
	w.mu.Unlock()
	w.emit(Event{Type: AccountsChanged, Address: addr, ChainID: chainID})
}

// SetChain switches the active chain and notifies subscribers.
func (w *Wallet) SetChain(id int) {
	w.mu.Lock()
	w.chainID = id
	addr := w.address
	w.mu.Unlock()
	w.emit(Event{Type: ChainChanged, Address: addr, ChainID: id})
}

// Subscribe registers for change events. The cancel func removes the
// subscription and closes the channel; it is safe to call more than once.
func (w *Wallet) Subscribe() (<-chan Event, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextSub
	w.nextSub++
	ch := make(chan Event, 8)
	w.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (w *Wallet) emit(ev Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block wallet updates.
		}
	}
}
