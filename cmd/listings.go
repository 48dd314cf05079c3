package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/model"
)

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Browse marketplace listings",
	Long:  "Commands for listing a seller's catalog, a buyer's purchases, and inspecting individual listings.",
}

// -- listings mine --

var listingsMineCmd = &cobra.Command{
	Use:   "mine",
	Short: "List listings published by a seller",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		seller, _ := cmd.Flags().GetString("seller")
		if seller == "" {
			w := initWallet()
			if !w.Connected() {
				return eris.New("listings mine: no seller; connect a wallet or pass --seller")
			}
			seller = w.Address()
		}

		rdr, err := initReader()
		if err != nil {
			return err
		}
		listings, err := rdr.SellerListings(ctx, seller)
		if err != nil {
			return eris.Wrap(err, "listings mine")
		}

		if len(listings) == 0 {
			fmt.Fprintln(os.Stderr, "No listings found.")
			return nil
		}

		formatListings(os.Stdout, listings)
		return nil
	},
}

// -- listings purchased --

var listingsPurchasedCmd = &cobra.Command{
	Use:   "purchased",
	Short: "List listings the wallet has purchased",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		w := initWallet()
		if !w.Connected() {
			return eris.New("listings purchased: connect a wallet first")
		}

		rdr, err := initReader()
		if err != nil {
			return err
		}
		listings, err := rdr.BuyerPurchases(ctx, w.Address())
		if err != nil {
			return eris.Wrap(err, "listings purchased")
		}

		if len(listings) == 0 {
			fmt.Fprintln(os.Stderr, "No purchases found.")
			return nil
		}

		formatListings(os.Stdout, listings)
		return nil
	},
}

// -- listings show --

var listingsShowCmd = &cobra.Command{
	Use:   "show <listing-id|share-link>",
	Short: "Show one listing, redacted unless access is held",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := parseListingRef(args[0])
		if err != nil {
			return eris.Wrap(err, "listings show")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		l, err := loadListing(cmd, st, id)
		if err != nil {
			return eris.Wrap(err, "listings show")
		}

		// The gateway may already redact, but the grant gate is ours to
		// enforce regardless of what it returned. A grant missing locally
		// may still exist on the backend, e.g. after a purchase from
		// another machine, so consult it before redacting.
		granted := false
		w := initWallet()
		if w.Connected() {
			acc, aerr := initAccess(ctx, st, w)
			if aerr != nil {
				return aerr
			}
			granted = grantHeld(ctx, st, acc, id, w.Address())
		}
		if !granted {
			l = l.Redacted()
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	},
}

func init() {
	listingsMineCmd.Flags().String("seller", "", "seller address (default: configured wallet)")
	listingsShowCmd.Flags().Bool("no-cache", false, "bypass the local listing cache")

	listingsCmd.AddCommand(listingsMineCmd)
	listingsCmd.AddCommand(listingsPurchasedCmd)
	listingsCmd.AddCommand(listingsShowCmd)
	rootCmd.AddCommand(listingsCmd)
}

// loadListing reads one listing through the local cache unless --no-cache.
func loadListing(cmd *cobra.Command, st cacheReader, id ident.Identifier) (model.Listing, error) {
	ctx := cmd.Context()
	noCache, _ := cmd.Flags().GetBool("no-cache")

	if !noCache {
		cached, err := st.GetCachedListing(ctx, id)
		if err != nil {
			zap.L().Warn("listing cache read failed", zap.Error(err))
		}
		if cached != nil {
			return *cached, nil
		}
	}

	rdr, err := initReader()
	if err != nil {
		return model.Listing{}, err
	}
	l, err := rdr.Get(ctx, id)
	if err != nil {
		return model.Listing{}, err
	}

	if !noCache {
		if err := st.SetCachedListing(ctx, l, cfg.Store.CacheTTL); err != nil {
			zap.L().Warn("listing cache write failed", zap.Error(err))
		}
	}
	return l, nil
}

// cacheReader is the slice of the store the listing loader needs.
type cacheReader interface {
	GetCachedListing(ctx context.Context, listingID ident.Identifier) (*model.Listing, error)
	SetCachedListing(ctx context.Context, l model.Listing, ttl time.Duration) error
}

// formatListings writes a tabular listing overview to w.
func formatListings(out io.Writer, listings []model.Listing) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPRICE\tTASK\tDATA\tQUALITY\tSAMPLES\tACTIVE\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t----\t----\t-------\t-------\t------\t-------")

	for _, l := range listings {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%t\t%s\n",
			l.ListingID.Short(),
			l.PriceDisplay(),
			orDash(l.Labels.TaskType),
			orDash(l.Labels.DataType),
			l.Labels.QualityScore,
			l.Labels.SampleCount,
			l.Active,
			l.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
