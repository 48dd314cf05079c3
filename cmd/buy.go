package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lattice-data/market-cli/internal/listing"
	"github.com/lattice-data/market-cli/internal/model"
	"github.com/lattice-data/market-cli/internal/purchase"
	"github.com/lattice-data/market-cli/pkg/facilitator"
)

var buyCmd = &cobra.Command{
	Use:   "buy <listing-id|share-link>",
	Short: "Purchase access to a listing",
	Long:  "Pays for a listing over the x402 protocol, falling back to a browser payment link when the wallet cannot settle automatically, then waits until access is credited.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := parseListingRef(args[0])
		if err != nil {
			return eris.Wrap(err, "buy")
		}

		w := initWallet()
		if !w.Connected() {
			return purchase.ErrNotConnected
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		led, err := initLedger()
		if err != nil {
			return err
		}
		l, err := listing.NewReader(led).Get(ctx, id)
		if err != nil {
			return eris.Wrap(err, "buy: load listing")
		}

		acc, err := initAccess(ctx, st, w)
		if err != nil {
			return err
		}

		if acc.Granted(id) || acc.CheckOnce(ctx, id, w.Address()) {
			fmt.Println("Access already granted; nothing to pay.")
			return nil
		}

		fmt.Printf("Buying %s from %s for %s USDC\n",
			l.ListingID.Short(), l.Seller, l.PriceDisplay())

		done := make(chan purchase.Outcome, 1)
		orch := purchase.New(purchase.Config{
			BackendURL:    cfg.Facilitator.BaseURL,
			SecureContext: cfg.Facilitator.RequireTLS,
			Paying:        payingFacilitator(w),
			Plain:         facilitator.NewClient(cfg.Facilitator.BaseURL),
			Access:        acc,
			Identity:      w,
			Opener:        browserOpener{},
			Ledger:        led,
			Wallet:        w,
			OnOutcome: func(out purchase.Outcome) {
				reportOutcome(out)
				switch out.State {
				case purchase.StateIdle, purchase.StateGranted, purchase.StatePollTimeout, purchase.StateFailed:
					select {
					case done <- out:
					default:
					}
				}
			},
		})

		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go orch.Watch(watchCtx)

		legacy, _ := cmd.Flags().GetBool("legacy")
		if legacy {
			err = orch.BuyLegacy(ctx, l)
		} else {
			err = orch.Buy(ctx, l)
		}
		if err != nil {
			return err
		}

		select {
		case out := <-done:
			switch out.State {
			case purchase.StateGranted:
				receipt := model.BuildReceipt(l, w.Address(), orch.LastTx())
				if err := st.SaveReceipt(ctx, receipt); err != nil {
					zap.L().Warn("could not save receipt", zap.Error(err))
				}
				return nil
			case purchase.StatePollTimeout:
				fmt.Fprintln(os.Stderr, "Run `market-cli access wait` later to resume waiting without paying again.")
				return eris.New(out.Err)
			case purchase.StateIdle:
				return eris.New("buy: wallet changed mid-purchase, attempt cancelled")
			default:
				return eris.New(out.Err)
			}
		case <-ctx.Done():
			orch.Cancel()
			return ctx.Err()
		}
	},
}

func init() {
	buyCmd.Flags().Bool("legacy", false, "pay with a direct contract transaction instead of the facilitator")
	rootCmd.AddCommand(buyCmd)
}

// reportOutcome prints one purchase state transition for the terminal.
func reportOutcome(out purchase.Outcome) {
	switch out.State {
	case purchase.StatePaying:
		if out.PaymentURL != "" {
			fmt.Printf("Complete the payment in your browser: %s\n", out.PaymentURL)
			fmt.Println("Waiting for access to be credited...")
		} else {
			fmt.Println("Submitting payment...")
		}
	case purchase.StateGranted:
		if out.TxHash != "" {
			fmt.Printf("Access granted (tx %s)\n", out.TxHash)
		} else {
			fmt.Println("Access granted")
		}
	case purchase.StatePollTimeout:
		fmt.Fprintf(os.Stderr, "Timed out: %s\n", out.Err)
	case purchase.StateFailed:
		fmt.Fprintf(os.Stderr, "Purchase failed: %s\n", out.Err)
	}
}
