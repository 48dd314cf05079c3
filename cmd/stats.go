package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lattice-data/market-cli/pkg/facilitator"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show marketplace statistics for the wallet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		addr, _ := cmd.Flags().GetString("wallet")
		if addr == "" {
			w := initWallet()
			if !w.Connected() {
				return eris.New("stats: no wallet; connect one or pass --wallet")
			}
			addr = w.Address()
		}

		api := facilitator.NewClient(cfg.Facilitator.BaseURL)
		s, err := api.Stats(ctx, addr)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Active listings:\t%d\n", s.ActiveListings)
		_, _ = fmt.Fprintf(w, "Total purchases:\t%d\n", s.TotalPurchases)
		_ = w.Flush()
		return nil
	},
}

func init() {
	statsCmd.Flags().String("wallet", "", "wallet address (default: configured wallet)")
	rootCmd.AddCommand(statsCmd)
}
