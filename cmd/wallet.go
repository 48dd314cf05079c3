package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Show the configured wallet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := initWallet()

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if !w.Connected() {
			_, _ = fmt.Fprintln(tw, "Connected:\tno")
			_, _ = fmt.Fprintln(tw, "\t(set wallet.address in config.yaml or MARKET_WALLET_ADDRESS)")
			return tw.Flush()
		}

		_, _ = fmt.Fprintln(tw, "Connected:\tyes")
		_, _ = fmt.Fprintf(tw, "Address:\t%s\n", w.Address())
		_, _ = fmt.Fprintf(tw, "Chain ID:\t%d\n", w.ChainID())
		_, _ = fmt.Fprintf(tw, "Can pay:\t%t\n", cfg.Wallet.PaymentKey != "")
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(walletCmd)
}
