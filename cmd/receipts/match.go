package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-receipts-must-match/internal/cli"
)

func matchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match <receipt-id>",
		Short: "Re-run matching for a stored receipt",
		Long: `Score a stored receipt against the current ledger window and record the
new decision. Useful after importing transactions that arrived late.

Examples:
  receipts match 3f1c9a7e-0f5d-4d1e-9a55-2b6f0c1d8e42`,
		Args: cobra.ExactArgs(1),
		RunE: runMatch,
	}
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.engine.Rematch(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderMatch(result))
	return nil
}
