package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lattice-data/market-cli/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the local listing cache",
}

// -- cache prune --

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cached listings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		n, err := st.DeleteExpiredListings(ctx)
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}

		fmt.Printf("Pruned %d expired listings.\n", n)
		return nil
	},
}

// -- cache refresh --

var cacheRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-read a seller's listings into the cache",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		seller, _ := cmd.Flags().GetString("seller")
		if seller == "" {
			w := initWallet()
			if !w.Connected() {
				return eris.New("cache refresh: no seller; connect a wallet or pass --seller")
			}
			seller = w.Address()
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		rdr, err := initReader()
		if err != nil {
			return err
		}
		listings, err := rdr.SellerListings(ctx, seller)
		if err != nil {
			return eris.Wrap(err, "cache refresh")
		}

		// Postgres snapshots the whole set in one bulk upsert; SQLite takes
		// the row-at-a-time path.
		if pg, ok := st.(*store.PostgresStore); ok {
			n, err := pg.RefreshListingCache(ctx, listings, cfg.Store.CacheTTL)
			if err != nil {
				return eris.Wrap(err, "cache refresh")
			}
			fmt.Printf("Cached %d listings.\n", n)
			return nil
		}

		for _, l := range listings {
			if err := st.SetCachedListing(ctx, l, cfg.Store.CacheTTL); err != nil {
				return eris.Wrapf(err, "cache refresh: listing %s", l.ListingID.Short())
			}
		}
		fmt.Printf("Cached %d listings.\n", len(listings))
		return nil
	},
}

func init() {
	cacheRefreshCmd.Flags().String("seller", "", "seller address (default: configured wallet)")

	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheRefreshCmd)
	rootCmd.AddCommand(cacheCmd)
}
