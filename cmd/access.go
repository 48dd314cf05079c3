package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lattice-data/market-cli/internal/access"
	"github.com/lattice-data/market-cli/internal/wallet"
)

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Check or wait for unlocked access",
	Long:  "Commands for checking whether the wallet's access to a listing has been credited, one-shot or by polling until a deadline.",
}

// -- access check --

var accessCheckCmd = &cobra.Command{
	Use:   "check <listing-id|share-link>",
	Short: "Run a single access check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		acc, w, cleanup, err := accessSetup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		id, err := parseListingRef(args[0])
		if err != nil {
			return eris.Wrap(err, "access check")
		}

		if acc.CheckOnce(ctx, id, w.Address()) {
			resp := acc.LastResponse()
			if resp != nil && resp.TxHash != "" {
				fmt.Printf("Access granted (tx %s)\n", resp.TxHash)
			} else {
				fmt.Println("Access granted")
			}
			return nil
		}

		if msg := acc.LastError(); msg != "" {
			return eris.New(msg)
		}
		if resp := acc.LastResponse(); resp != nil && resp.Note != "" {
			return eris.Errorf("no access yet: %s", resp.Note)
		}
		return eris.New("no access yet")
	},
}

// -- access wait --

var accessWaitCmd = &cobra.Command{
	Use:   "wait <listing-id|share-link>",
	Short: "Poll until access is credited or the deadline passes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		acc, w, cleanup, err := accessSetup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		id, err := parseListingRef(args[0])
		if err != nil {
			return eris.Wrap(err, "access wait")
		}

		if acc.Granted(id) {
			fmt.Println("Access already granted.")
			return nil
		}

		fmt.Printf("Waiting for access to %s (up to %s)...\n",
			id.Short(), cfg.Access.PollTimeout)

		done := make(chan access.Result, 1)
		acc.StartPolling(ctx, id, w.Address(), func(r access.Result) {
			done <- r
		})

		select {
		case r := <-done:
			if r.Granted {
				if r.Last != nil && r.Last.TxHash != "" {
					fmt.Printf("Access granted (tx %s)\n", r.Last.TxHash)
				} else {
					fmt.Println("Access granted")
				}
				return nil
			}
			return eris.New(r.Err)
		case <-ctx.Done():
			acc.Stop()
			return ctx.Err()
		}
	},
}

func init() {
	accessCmd.AddCommand(accessCheckCmd)
	accessCmd.AddCommand(accessWaitCmd)
	rootCmd.AddCommand(accessCmd)
}

// accessSetup builds the wallet, store, and access client shared by the
// access subcommands. The cleanup closes the store.
func accessSetup(cmd *cobra.Command) (*access.Client, *wallet.Wallet, func(), error) {
	ctx := cmd.Context()

	w := initWallet()
	if !w.Connected() {
		return nil, nil, nil, eris.New("access: connect a wallet first")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, nil, err
	}

	acc, err := initAccess(ctx, st, w)
	if err != nil {
		_ = st.Close()
		return nil, nil, nil, err
	}

	return acc, w, func() { _ = st.Close() }, nil
}
