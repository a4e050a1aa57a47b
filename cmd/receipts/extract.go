package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-receipts-must-match/internal/cli"
	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
)

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract a receipt without storing it",
		Long: `Run the provider chain over a receipt file and print what was read.

Results are cached by content hash, so extracting the same bytes again is free.

Examples:
  receipts extract ~/Downloads/starbucks.jpg
  receipts extract order-confirmation.html --json`,
		Args: cobra.ExactArgs(1),
		RunE: runExtract,
	}
	cmd.Flags().Bool("json", false, "print the receipt as JSON")
	return cmd
}

func runExtract(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}

	receipt, err := a.engine.Extract(ctx, doc)
	if err != nil {
		var exhausted *extraction.ExhaustedError
		if errors.As(err, &exhausted) {
			for _, attempt := range exhausted.Attempts {
				fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatWarning(fmt.Sprintf("%s: %s", attempt.Provider, attempt.Outcome)))
			}
			return common.NewUserError("No provider could read "+doc.Name, err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(receipt)
	}
	fmt.Fprintln(out, cli.RenderReceipt(receipt))
	fmt.Fprintln(out, cli.FormatInfo("Merchant: "+a.normalizer.Normalize(receipt.MerchantRaw).CanonicalName))
	return nil
}
