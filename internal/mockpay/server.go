// Package mockpay is a development facilitator: an in-memory payment and
// authorization backend speaking the same HTTP surface the CLI talks to in
// production. Purchases settle against signed payment headers; access
// becomes visible after a configurable crediting delay so polling behavior
// can be exercised end to end.
package mockpay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/wallet"
	"github.com/lattice-data/market-cli/pkg/facilitator"
	"github.com/lattice-data/market-cli/pkg/x402"
)

// Config configures the dev facilitator.
type Config struct {
	// PaymentKey verifies X-PAYMENT headers. Must match the wallet's key.
	PaymentKey string
	// CreditDelay is how long after settlement a grant stays invisible,
	// simulating slow crediting.
	CreditDelay time.Duration
	// PaymentBase is the base URL embedded in intent redirects.
	PaymentBase string
	// Network and Asset describe the single accepted payment option.
	Network string
	Asset   string
	// RPS caps request throughput; zero disables limiting.
	RPS float64
	// DisableIntents makes POST /purchase/intent fail, for exercising the
	// client's terminal-failure path.
	DisableIntents bool
}

type grant struct {
	txHash    string
	creditsAt time.Time
}

type grantKey struct {
	listing string
	buyer   string
}

// Server is the in-memory facilitator state plus its router.
type Server struct {
	cfg     Config
	key     []byte
	limiter *rate.Limiter
	now     func() time.Time

	mu        sync.Mutex
	grants    map[grantKey]grant
	purchases int
	listings  map[string]string // listing id -> price, the payable catalog
}

// New creates a dev facilitator.
func New(cfg Config) *Server {
	s := &Server{
		cfg:      cfg,
		now:      time.Now,
		grants:   make(map[grantKey]grant),
		listings: make(map[string]string),
	}
	if cfg.PaymentKey != "" {
		s.key = []byte(cfg.PaymentKey)
	}
	if cfg.RPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), int(cfg.RPS)+1)
	}
	return s
}

// AddListing registers a payable listing with its price in base units.
func (s *Server) AddListing(listingID ident.Identifier, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[listingID.Hex()] = price
}

// Credit settles a purchase out of band, the way an intent redirect would
// after the user pays manually.
func (s *Server) Credit(listingID ident.Identifier, buyer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{listing: listingID.Hex(), buyer: ident.NormalizeAddr(buyer)}
	s.grants[key] = grant{txHash: "0x" + uuid.NewString(), creditsAt: s.now().Add(s.cfg.CreditDelay)}
	s.purchases++
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Cache-Control", x402.PaymentHeader},
	}))
	r.Use(s.throttle)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/access/{listingID}/{buyer}", s.handleAccess)
	r.Post("/purchase", s.handlePurchase)
	r.Post("/purchase/intent", s.handleIntent)
	r.Get("/stats/{wallet}", s.handleStats)
	return r
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingID")
	buyer := ident.NormalizeAddr(chi.URLParam(r, "buyer"))

	s.mu.Lock()
	g, ok := s.grants[grantKey{listing: listingID, buyer: buyer}]
	s.mu.Unlock()

	resp := facilitator.AccessResponse{ListingID: listingID, Buyer: buyer}
	switch {
	case !ok:
		resp.Note = "no purchase recorded"
	case s.now().Before(g.creditsAt):
		resp.Note = "payment received, crediting in progress"
	default:
		resp.HasAccess = true
		resp.TxHash = g.txHash
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req facilitator.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid purchase request")
		return
	}
	if req.ListingID == "" || req.Buyer == "" {
		writeError(w, http.StatusBadRequest, "listingId and buyer are required")
		return
	}

	s.mu.Lock()
	price, listed := s.listings[req.ListingID]
	s.mu.Unlock()
	if !listed {
		writeError(w, http.StatusNotFound, "unknown listing")
		return
	}

	header := r.Header.Get(x402.PaymentHeader)
	if header == "" {
		s.challenge(w, req, price, "payment required")
		return
	}

	claims, err := wallet.VerifyPayment(s.key, header)
	if err != nil {
		zap.L().Warn("rejecting payment header", zap.Error(err))
		s.challenge(w, req, price, "invalid payment header")
		return
	}
	if claims.Amount != price {
		s.challenge(w, req, price, "payment amount mismatch")
		return
	}

	txHash := "0x" + uuid.NewString()
	key := grantKey{listing: req.ListingID, buyer: ident.NormalizeAddr(req.Buyer)}
	s.mu.Lock()
	s.grants[key] = grant{txHash: txHash, creditsAt: s.now().Add(s.cfg.CreditDelay)}
	s.purchases++
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, facilitator.PurchaseResponse{TxHash: txHash})
}

func (s *Server) challenge(w http.ResponseWriter, req facilitator.PurchaseRequest, price, msg string) {
	writeJSON(w, http.StatusPaymentRequired, x402.PaymentRequired{
		Version: 1,
		Error:   msg,
		Accepts: []x402.PaymentRequirements{{
			Scheme:   "exact",
			Network:  s.cfg.Network,
			Amount:   price,
			PayTo:    "0xfacilitator",
			Asset:    s.cfg.Asset,
			Resource: "/purchase/" + req.ListingID,
			MimeType: "application/json",
			TimeoutS: 60,
		}},
	})
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DisableIntents {
		writeError(w, http.StatusInternalServerError, "no facilitator")
		return
	}

	var req facilitator.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid intent request")
		return
	}
	if req.ListingID == "" || req.Buyer == "" {
		writeError(w, http.StatusBadRequest, "listingId and buyer are required")
		return
	}

	writeJSON(w, http.StatusOK, facilitator.IntentResponse{
		PaymentURL: s.cfg.PaymentBase + "/pay/" + uuid.NewString(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	_ = chi.URLParam(r, "wallet") // stats are global in the dev facilitator

	s.mu.Lock()
	resp := facilitator.StatsResponse{
		ActiveListings: len(s.listings),
		TotalPurchases: s.purchases,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
