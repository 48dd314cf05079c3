package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lattice-data/market-cli/internal/listing"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a new data listing",
	Long:  "Submits a new listing to the marketplace contract, recovers its assigned identifier from the transaction events, and prints a shareable link.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		w := initWallet()
		if !w.Connected() {
			return eris.New("publish: connect a wallet first")
		}

		req := listing.PublishRequest{}
		req.ObjectID, _ = cmd.Flags().GetString("object-id")
		req.Price, _ = cmd.Flags().GetString("price")
		req.TaskType, _ = cmd.Flags().GetString("task-type")
		req.DataType, _ = cmd.Flags().GetString("data-type")
		req.QualityScore, _ = cmd.Flags().GetInt("quality")
		req.Categories, _ = cmd.Flags().GetString("categories")
		req.Annotations, _ = cmd.Flags().GetString("annotations")
		req.SampleCount, _ = cmd.Flags().GetUint64("samples")
		req.Privacy, _ = cmd.Flags().GetString("privacy")
		req.ContentHash, _ = cmd.Flags().GetString("content-hash")
		req.AuthTicket, _ = cmd.Flags().GetString("auth-ticket")

		led, err := initLedger()
		if err != nil {
			return err
		}
		pub := listing.NewPublisher(led, w.Address())

		res, err := pub.Publish(ctx, req)
		if err != nil {
			return eris.Wrap(err, "publish")
		}

		fmt.Printf("Transaction: %s\n", res.TxHash)
		if !res.IDRecovered {
			fmt.Fprintln(os.Stderr, "Listing submitted, but its identifier could not be recovered yet; check `listings mine` shortly.")
			return nil
		}

		fmt.Printf("Listing ID:  %s\n", res.ListingID.Hex())
		fmt.Printf("Share link:  %s\n", listing.ShareLink(cfg.Publish.ShareBase, res.ListingID))
		return nil
	},
}

func init() {
	publishCmd.Flags().String("object-id", "", "identifier of the data object being sold (required)")
	publishCmd.Flags().String("price", "", "price in USDC, e.g. 0.05 (required)")
	publishCmd.Flags().String("task-type", "", "task type label, e.g. classification")
	publishCmd.Flags().String("data-type", "", "data type label, e.g. image")
	publishCmd.Flags().Int("quality", 1, "quality score, 1-100")
	publishCmd.Flags().String("categories", "", "comma-separated category labels")
	publishCmd.Flags().String("annotations", "", "annotation schema description")
	publishCmd.Flags().Uint64("samples", 0, "number of samples in the dataset")
	publishCmd.Flags().String("privacy", "", "privacy notes shown to confirmed buyers")
	publishCmd.Flags().String("content-hash", "", "content hash of the dataset")
	publishCmd.Flags().String("auth-ticket", "", "access ticket released to confirmed buyers")
	_ = publishCmd.MarkFlagRequired("object-id")
	_ = publishCmd.MarkFlagRequired("price")

	rootCmd.AddCommand(publishCmd)
}
