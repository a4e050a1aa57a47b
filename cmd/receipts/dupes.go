package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-receipts-must-match/internal/cli"
	"github.com/Veraticus/the-receipts-must-match/internal/dedup"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
)

func dupesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dupes <file>",
		Short: "Check whether a receipt is already in the corpus",
		Long: `Extract a receipt and compare it with every stored receipt without
storing anything.

Examples:
  receipts dupes ~/Downloads/IMG_2231.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: runDupes,
	}
}

func runDupes(cmd *cobra.Command, args []string) error {
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
		return err
	}

	var phash *uint64
	if extraction.IsImage(doc.ContentType) {
		if h, err := dedup.PerceptualHash(doc.Data); err == nil {
			phash = &h
		}
	}

	verdict, err := a.engine.FindDuplicates(ctx, receipt, phash)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderVerdict(verdict))
	return nil
}
