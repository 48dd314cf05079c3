package main

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lattice-data/market-cli/internal/access"
	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/ledger"
	"github.com/lattice-data/market-cli/internal/listing"
	"github.com/lattice-data/market-cli/internal/store"
	"github.com/lattice-data/market-cli/internal/wallet"
	"github.com/lattice-data/market-cli/pkg/facilitator"
	"github.com/lattice-data/market-cli/pkg/x402"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "market.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// validateContract rejects a missing or placeholder marketplace contract
// address before any gateway call goes out.
func validateContract(addr string) error {
	c := strings.TrimSpace(addr)
	if c == "" || strings.EqualFold(c, "0x") {
		return eris.New("gateway contract address is not configured; set gateway.contract in config.yaml or MARKET_GATEWAY_CONTRACT")
	}
	return nil
}

func initLedger() (ledger.Ledger, error) {
	if err := validateContract(cfg.Gateway.Contract); err != nil {
		return nil, err
	}
	return ledger.NewGateway(cfg.Gateway.BaseURL, cfg.Gateway.Contract), nil
}

func initReader() (*listing.Reader, error) {
	l, err := initLedger()
	if err != nil {
		return nil, err
	}
	return listing.NewReader(l), nil
}

func initWallet() *wallet.Wallet {
	return wallet.New(wallet.Config{
		Address:    cfg.Wallet.Address,
		ChainID:    cfg.Wallet.ChainID,
		PaymentKey: cfg.Wallet.PaymentKey,
	})
}

// initAccess builds the access client, warming its grant cache from the
// local store and persisting newly observed grants back into it.
func initAccess(ctx context.Context, st store.Store, w *wallet.Wallet) (*access.Client, error) {
	api := facilitator.NewClient(cfg.Facilitator.BaseURL)

	opts := []access.Option{
		access.WithPollInterval(cfg.Access.PollInterval),
		access.WithPollTimeout(cfg.Access.PollTimeout),
	}
	if st != nil {
		opts = append(opts, access.WithGrantSink(func(id ident.Identifier, buyer string) {
			sinkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.SaveGrant(sinkCtx, id, buyer, ""); err != nil {
				zap.L().Warn("could not persist grant",
					zap.String("listing", id.Short()),
					zap.Error(err),
				)
			}
		}))
	}

	c := access.NewClient(api, opts...)

	if st != nil && w.Connected() {
		ids, err := st.GrantedListings(ctx, w.Address())
		if err != nil {
			return nil, eris.Wrap(err, "warm grant cache")
		}
		c.Warm(ids)
	}
	return c, nil
}

// browserOpener opens payment URLs with the platform browser.
type browserOpener struct{}

func (browserOpener) Open(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// parseListingRef accepts a canonical listing id in hex or a share link
// carrying ?lid=.
func parseListingRef(ref string) (ident.Identifier, error) {
	if id, ok := listing.ParseShareLink(ref); ok {
		return id, nil
	}
	return ident.Parse(ref)
}

// grantHeld reports whether buyer holds access to id, preferring the local
// store and falling back to a live facilitator check for grants earned on
// another machine. Live positives flow back into the store via the sink.
func grantHeld(ctx context.Context, st store.Store, acc *access.Client, id ident.Identifier, buyer string) bool {
	ok, err := st.HasGrant(ctx, id, buyer)
	if err == nil && ok {
		return true
	}
	return acc.Granted(id) || acc.CheckOnce(ctx, id, buyer)
}

func payingFacilitator(w *wallet.Wallet) facilitator.Client {
	return facilitator.NewClient(cfg.Facilitator.BaseURL,
		facilitator.WithHTTPClient(x402.NewClient(w)))
}
