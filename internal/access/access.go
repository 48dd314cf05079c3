// Package access queries the authorization backend for (listing, buyer)
// access state: single-shot checks, a session grant cache, and a bounded
// confirmation poller.
package access

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/pkg/facilitator"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultPollTimeout  = 180 * time.Second
)

// TimeoutDiagnostic is reported when polling exhausts its bound without a
// grant.
const TimeoutDiagnostic = "timed out waiting for access: payment may not have been credited yet"

// Result is the terminal outcome of a polling run.
type Result struct {
	Granted  bool
	TimedOut bool
	Err      string
	Last     *facilitator.AccessResponse
}

// Option configures a Client.
type Option func(*Client)

// WithPollInterval overrides the tick interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.interval = d
	}
}

// WithPollTimeout overrides the polling wall-clock bound.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithGrantSink registers a callback invoked once per newly observed grant,
// e.g. to persist it across sessions.
func WithGrantSink(sink func(listingID ident.Identifier, buyer string)) Option {
	return func(c *Client) {
		c.sink = sink
	}
}

// Client wraps the facilitator access endpoint. Positive results are cached
// for the session; negative results are always re-queried. At most one
// polling loop is active per client.
type Client struct {
	api      facilitator.Client
	interval time.Duration
	timeout  time.Duration
	sink     func(ident.Identifier, string)

	cacheMu sync.RWMutex
	cache   map[ident.Identifier]bool

	mu         sync.Mutex
	lastResp   *facilitator.AccessResponse
	lastErr    string
	pollCancel context.CancelFunc
	pollGen    int
	polling    bool
}

// NewClient creates an access client.
func NewClient(api facilitator.Client, opts ...Option) *Client {
	c := &Client{
		api:      api,
		interval: defaultPollInterval,
		timeout:  defaultPollTimeout,
		cache:    make(map[ident.Identifier]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckOnce queries access state once. It never propagates an error into the
// caller's control flow: any failure yields false with a recorded diagnostic.
// The previous diagnostic is cleared before the query.
func (c *Client) CheckOnce(ctx context.Context, listingID ident.Identifier, buyer string) bool {
	c.mu.Lock()
	c.lastErr = ""
	c.lastResp = nil
	c.mu.Unlock()

	if buyer == "" {
		return false
	}

	resp, err := c.api.CheckAccess(ctx, listingID.Hex(), buyer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err.Error()
		zap.L().Debug("access check failed",
			zap.String("listing", listingID.Short()),
			zap.Error(err),
		)
		return false
	}
	c.lastResp = resp
	if resp.HasAccess {
		c.setGranted(listingID, buyer)
	}
	return resp.HasAccess
}

// Granted reports the cached access state for a listing. Entries only ever
// flip false to true within a session.
func (c *Client) Granted(listingID ident.Identifier) bool {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return c.cache[listingID]
}

// Warm seeds the grant cache, e.g. from persisted grants.
func (c *Client) Warm(ids []ident.Identifier) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	for _, id := range ids {
		c.cache[id] = true
	}
}

func (c *Client) setGranted(listingID ident.Identifier, buyer string) {
	c.cacheMu.Lock()
	known := c.cache[listingID]
	c.cache[listingID] = true
	c.cacheMu.Unlock()
	if !known && c.sink != nil {
		c.sink(listingID, buyer)
	}
}

// LastError returns the most recent diagnostic, empty when the last check
// succeeded.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastResponse returns the most recent raw backend response, nil when the
// last check errored.
func (c *Client) LastResponse() *facilitator.AccessResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResp
}

// Polling reports whether a polling loop is active.
func (c *Client) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polling
}

// StartPolling begins a repeating access check for (listingID, buyer). The
// loop stops on grant, on the wall-clock bound, or on cancellation via ctx
// or Stop. Starting a new poll replaces any active one, so there is never
// more than one timer firing requests. onOutcome is invoked exactly once per
// run unless the run is cancelled.
func (c *Client) StartPolling(ctx context.Context, listingID ident.Identifier, buyer string, onOutcome func(Result)) {
	pollCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.pollCancel != nil {
		c.pollCancel()
	}
	c.pollCancel = cancel
	c.pollGen++
	gen := c.pollGen
	c.polling = true
	c.mu.Unlock()

	go c.poll(pollCtx, cancel, gen, listingID, buyer, onOutcome)
}

// Stop cancels any active polling loop. Leaking a timer past the owning view
// would keep firing network requests, so teardown paths must call this.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
	c.polling = false
}

func (c *Client) poll(ctx context.Context, cancel context.CancelFunc, gen int, listingID ident.Identifier, buyer string, onOutcome func(Result)) {
	defer cancel()
	defer c.finishPoll(gen)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if ok := c.CheckOnce(ctx, listingID, buyer); ok {
			if onOutcome != nil {
				onOutcome(Result{Granted: true, Last: c.LastResponse()})
			}
			return
		}

		if time.Since(started) > c.timeout {
			c.mu.Lock()
			if c.lastErr == "" {
				c.lastErr = TimeoutDiagnostic
			}
			errMsg := c.lastErr
			c.mu.Unlock()

			zap.L().Warn("access polling timed out",
				zap.String("listing", listingID.Short()),
				zap.Duration("after", time.Since(started)),
			)
			if onOutcome != nil {
				onOutcome(Result{TimedOut: true, Err: errMsg, Last: c.LastResponse()})
			}
			return
		}
	}
}

// finishPoll clears polling state unless a newer run already replaced this
// one.
func (c *Client) finishPoll(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollGen == gen {
		c.pollCancel = nil
		c.polling = false
	}
}
