package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/mockpay"
)

var facilitatorPort int

var facilitatorCmd = &cobra.Command{
	Use:   "facilitator",
	Short: "Run a local dev facilitator",
	Long:  "Serves the facilitator API locally: x402 payment challenges, access checks, payment intents, and stats. Meant for developing against without a hosted backend.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		creditDelay := cfg.Mockpay.CreditDelay
		if d, _ := cmd.Flags().GetDuration("credit-delay"); cmd.Flags().Changed("credit-delay") {
			creditDelay = d
		}
		disableIntents, _ := cmd.Flags().GetBool("disable-intents")

		srv := mockpay.New(mockpay.Config{
			PaymentKey:     cfg.Wallet.PaymentKey,
			CreditDelay:    creditDelay,
			PaymentBase:    cfg.Publish.ShareBase,
			Network:        cfg.Mockpay.Network,
			Asset:          cfg.Mockpay.Asset,
			RPS:            cfg.Mockpay.RPS,
			DisableIntents: disableIntents,
		})

		seeds, _ := cmd.Flags().GetStringArray("seed")
		for _, seed := range seeds {
			id, price, err := parseSeed(seed)
			if err != nil {
				return err
			}
			srv.AddListing(id, price)
		}

		port := facilitatorPort
		if port == 0 {
			port = cfg.Mockpay.Port
		}

		httpSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: srv.Router(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down facilitator")
			_ = httpSrv.Shutdown(ctx)
		}()

		zap.L().Info("starting facilitator",
			zap.Int("port", port),
			zap.Int("seeded_listings", len(seeds)),
		)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "facilitator listen")
		}

		return nil
	},
}

func init() {
	facilitatorCmd.Flags().IntVar(&facilitatorPort, "port", 0, "listen port (default from config)")
	facilitatorCmd.Flags().Duration("credit-delay", 0, "delay between settlement and visible access (default from config)")
	facilitatorCmd.Flags().Bool("disable-intents", false, "fail payment intent requests, for exercising failure paths")
	facilitatorCmd.Flags().StringArray("seed", nil, "seed listing as <listing-id>=<price>, repeatable")
	rootCmd.AddCommand(facilitatorCmd)
}

// parseSeed splits a --seed value of the form <listing-id>=<price>.
func parseSeed(seed string) (ident.Identifier, string, error) {
	lid, price, ok := strings.Cut(seed, "=")
	if !ok {
		return ident.Zero, "", eris.Errorf("malformed --seed %q, want <listing-id>=<price>", seed)
	}
	id, err := ident.Parse(strings.TrimSpace(lid))
	if err != nil {
		return ident.Zero, "", eris.Wrapf(err, "malformed --seed %q", seed)
	}
	return id, strings.TrimSpace(price), nil
}
