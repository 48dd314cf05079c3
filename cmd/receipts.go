package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/model"
	"github.com/lattice-data/market-cli/internal/store"
)

var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "Inspect saved purchase receipts",
	Long:  "Commands for listing and exporting the purchase receipts recorded by this machine.",
}

// -- receipts list --

var receiptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved receipts",
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

		receipts, err := st.ListReceipts(ctx, receiptFilter(cmd))
		if err != nil {
			return eris.Wrap(err, "receipts list")
		}

		if len(receipts) == 0 {
			fmt.Fprintln(os.Stderr, "No receipts found.")
			return nil
		}

		formatReceipts(os.Stdout, receipts)
		return nil
	},
}

// -- receipts export --

var receiptsExportCmd = &cobra.Command{
	Use:   "export [listing-id|share-link]",
	Short: "Export receipts as JSON",
	Long:  "Exports receipts as JSON. With a listing reference, writes that listing's receipts to purchase-<listingId>.json; otherwise writes the filtered set to stdout or --out.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		receipts, err := st.ListReceipts(ctx, receiptFilter(cmd))
		if err != nil {
			return eris.Wrap(err, "receipts export")
		}

		path, _ := cmd.Flags().GetString("out")

		if len(args) == 1 {
			id, err := parseListingRef(args[0])
			if err != nil {
				return eris.Wrap(err, "receipts export")
			}
			kept := receipts[:0]
			for _, r := range receipts {
				if r.ListingID == id {
					kept = append(kept, r)
				}
			}
			receipts = kept
			if len(receipts) == 0 {
				return eris.Errorf("receipts export: no receipt for %s", id.Short())
			}
			if path == "" {
				path = "purchase-" + id.Hex() + ".json"
			}
		}

		out := io.Writer(os.Stdout)
		if path != "" {
			f, err := os.Create(path)
			if err != nil {
				return eris.Wrapf(err, "receipts export: create %s", path)
			}
			defer f.Close() //nolint:errcheck
			out = f
			fmt.Fprintf(os.Stderr, "Writing %s\n", path)
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(receipts)
	},
}

func init() {
	for _, c := range []*cobra.Command{receiptsListCmd, receiptsExportCmd} {
		c.Flags().String("buyer", "", "filter by buyer address (default: configured wallet)")
		c.Flags().String("seller", "", "filter by seller address")
		c.Flags().Int("limit", 100, "max number of receipts")
		c.Flags().Int("offset", 0, "number of receipts to skip")
	}
	receiptsExportCmd.Flags().String("out", "", "write to a file instead of stdout")

	receiptsCmd.AddCommand(receiptsListCmd)
	receiptsCmd.AddCommand(receiptsExportCmd)
	rootCmd.AddCommand(receiptsCmd)
}

// receiptFilter builds the store filter from flags, defaulting the buyer to
// the configured wallet when no filter is given.
func receiptFilter(cmd *cobra.Command) store.ReceiptFilter {
	buyer, _ := cmd.Flags().GetString("buyer")
	seller, _ := cmd.Flags().GetString("seller")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	if buyer == "" && seller == "" {
		if w := initWallet(); w.Connected() {
			buyer = w.Address()
		}
	}

	return store.ReceiptFilter{
		Buyer:  buyer,
		Seller: seller,
		Limit:  limit,
		Offset: offset,
	}
}

// formatReceipts writes a tabular receipt overview to w.
func formatReceipts(out io.Writer, receipts []model.Receipt) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LISTING\tSELLER\tPRICE\tTX\tSAVED")
	_, _ = fmt.Fprintln(w, "-------\t------\t-----\t--\t-----")

	for _, r := range receipts {
		tx := r.TxHash
		if tx == "" {
			tx = "-"
		} else if len(tx) > 12 {
			tx = tx[:12] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ListingID.Short(),
			ident.ShortAddr(r.Seller),
			r.Price,
			tx,
			r.SavedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
