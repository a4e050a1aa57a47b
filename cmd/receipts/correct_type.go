package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-receipts-must-match/internal/cli"
)

func correctTypeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "correct-type <merchant> <business-type>",
		Short: "Teach the classifier a merchant's business type",
		Long: `Record that receipts from a merchant belong to a business type. Future
receipts from the same merchant, under any alias, classify to it.

Examples:
  receipts correct-type "SQ *BLUE BOTTLE" meals
  receipts correct-type "Figma" software`,
		Args: cobra.ExactArgs(2),
		RunE: runCorrectType,
	}
}

func runCorrectType(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.classifier.RecordCorrection(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s is now %s", args[0], args[1])))
	return nil
}
