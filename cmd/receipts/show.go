package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-receipts-must-match/internal/cli"
	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/storage"
)

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <receipt-id|file>",
		Short: "Show a stored receipt and its latest decisions",
		Long: `Show a stored receipt with its most recent match and classification.
A file path is looked up by content hash.

Examples:
  receipts show 3f1c9a7e-0f5d-4d1e-9a55-2b6f0c1d8e42
  receipts show ~/Receipts/inbox/starbucks.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: runShow,
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	id, err := resolveReceiptID(ctx, store, args[0])
	if err != nil {
		return err
	}
	record, err := store.GetReceipt(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.RenderReceipt(&record.Receipt))
	fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Receipt %s, merchant %s", record.ID, record.MerchantCanonical)))

	match, err := store.LatestMatchResult(ctx, id)
	switch {
	case errors.Is(err, common.ErrNotFound):
		fmt.Fprintln(out, cli.FormatWarning("Not matched yet"))
	case err != nil:
		return err
	default:
		fmt.Fprintln(out, cli.RenderMatch(match))
		if match.BestCandidateID != "" {
			txn, err := store.GetTransaction(ctx, match.BestCandidateID)
			switch {
			case errors.Is(err, common.ErrNotFound):
				// Matched against an external ledger.
			case err != nil:
				return err
			default:
				fmt.Fprintln(out, renderTransaction(txn))
			}
		}
	}

	classification, err := store.LatestClassification(ctx, id)
	switch {
	case errors.Is(err, common.ErrNotFound):
		fmt.Fprintln(out, cli.FormatWarning("Not classified yet"))
	case err != nil:
		return err
	default:
		fmt.Fprintln(out, cli.RenderClassification(classification))
	}
	return nil
}

// resolveReceiptID treats arg as a file when one exists at that path.
func resolveReceiptID(ctx context.Context, store *storage.SQLiteStorage, arg string) (string, error) {
	if _, err := os.Stat(arg); err != nil {
		return arg, nil
	}
	data, err := os.ReadFile(arg) // #nosec G304 user-supplied receipt path
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", arg, err)
	}
	id, err := store.GetReceiptIDByHash(ctx, extraction.HashContent(data))
	if errors.Is(err, common.ErrNotFound) {
		return "", common.NewUserError(arg+" has not been ingested", err)
	}
	return id, err
}

func renderTransaction(txn *model.TransactionCandidate) string {
	return cli.RenderTable([]string{"Transaction", "Date", "Merchant", "Amount", "Source"}, [][]string{
		{txn.ID, txn.Date.String(), txn.MerchantRaw, "$" + txn.Amount.StringFixed(2), txn.Source},
	})
}

func correctionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corrections",
		Short: "List recorded corrections",
		Args:  cobra.NoArgs,
		RunE:  runCorrections,
	}
	cmd.Flags().String("kind", "", "merchant_alias or business_type")
	return cmd
}

func runCorrections(cmd *cobra.Command, _ []string) error {
	kind, _ := cmd.Flags().GetString("kind")
	switch model.CorrectionKind(kind) {
	case "", model.CorrectionMerchantAlias, model.CorrectionBusinessType:
	default:
		return common.NewUserError("--kind must be merchant_alias or business_type", fmt.Errorf("%w: kind %q", common.ErrInvalidConfig, kind))
	}

	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	corrections, err := store.Corrections(ctx, model.CorrectionKind(kind))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(corrections) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No corrections recorded"))
		return nil
	}
	rows := make([][]string, 0, len(corrections))
	for _, c := range corrections {
		rows = append(rows, []string{c.CreatedAt.Format("2006-01-02 15:04"), string(c.Kind), c.RawInput, c.CorrectedOutput})
	}
	fmt.Fprintln(out, cli.RenderTable([]string{"When", "Kind", "Input", "Corrected to"}, rows))
	return nil
}
