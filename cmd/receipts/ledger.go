package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-receipts-must-match/internal/cli"
	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/ledger"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/service"
)

const defaultSyncDays = 30

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Load ledger transactions to match receipts against",
	}

	importOFX := &cobra.Command{
		Use:   "import-ofx <files>...",
		Short: "Import transactions from OFX/QFX files",
		Long: `Import transactions from OFX or QFX statements exported from your bank.
Transactions already imported are skipped.

Examples:
  receipts ledger import-ofx ~/Downloads/chase_*.qfx
  receipts ledger import-ofx ~/Downloads/Chase ~/Downloads/Ally`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportOFX,
	}

	syncPlaid := &cobra.Command{
		Use:   "sync-plaid",
		Short: "Sync transactions from Plaid",
		Long: `Fetch transactions from Plaid for a date range. Defaults to the last 30 days.

Examples:
  receipts ledger sync-plaid
  receipts ledger sync-plaid --start 2024-01-01 --end 2024-03-31`,
		Args: cobra.NoArgs,
		RunE: runSyncPlaid,
	}
	syncPlaid.Flags().String("start", "", "first day to fetch (YYYY-MM-DD)")
	syncPlaid.Flags().String("end", "", "last day to fetch (YYYY-MM-DD)")

	cmd.AddCommand(importOFX, syncPlaid)
	return cmd
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to import")
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

	parser := ledger.NewOFXParser(nil)
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(files))
	var totalParsed, totalInserted int
	for _, path := range files {
		parsed, inserted, err := importOFXFile(cmd, parser, store, path)
		if err != nil {
			common.LogError(err, "Failed to import file", common.Fields{"file": path})
			rows = append(rows, []string{path, "error", err.Error()})
			continue
		}
		totalParsed += parsed
		totalInserted += inserted
		rows = append(rows, []string{path, fmt.Sprint(parsed), fmt.Sprint(inserted)})
	}

	fmt.Fprintln(out, cli.RenderTable([]string{"File", "Parsed", "New"}, rows))
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d new transactions (%d parsed)", totalInserted, totalParsed)))
	return nil
}

func importOFXFile(cmd *cobra.Command, parser *ledger.OFXParser, importer ledger.Importer, path string) (int, int, error) {
	f, err := os.Open(path) // #nosec G304 user-supplied statement path
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ledger.ImportOFX(cmd.Context(), parser, f, importer)
}

func runSyncPlaid(cmd *cobra.Command, _ []string) error {
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")

	span, err := parseDateRange(start, end, time.Now())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := ledger.NewPlaidClient(ledger.PlaidConfig{
		ClientID:    cfg.Plaid.ClientID,
		Secret:      cfg.Plaid.Secret,
		Environment: cfg.Plaid.Environment,
		AccessToken: cfg.Plaid.AccessToken,
	}, nil)
	if err != nil {
		return common.NewUserError("Plaid is not configured. Set plaid.client_id, plaid.secret, plaid.environment and plaid.access_token.", err)
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	fetched, inserted, err := ledger.Sync(ctx, client, store, span.Start, span.End)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Synced %d transactions from Plaid, %d new", fetched, inserted)))
	return nil
}

// parseDateRange resolves --start/--end, defaulting to the last defaultSyncDays days.
func parseDateRange(start, end string, now time.Time) (service.DateRange, error) {
	endDate := model.DateOf(now)
	if end != "" {
		d, err := model.ParseDate(end)
		if err != nil {
			return service.DateRange{}, common.NewUserError("Invalid --end date, expected YYYY-MM-DD", err)
		}
		endDate = d
	}
	startDate := endDate.AddDays(-defaultSyncDays)
	if start != "" {
		d, err := model.ParseDate(start)
		if err != nil {
			return service.DateRange{}, common.NewUserError("Invalid --start date, expected YYYY-MM-DD", err)
		}
		startDate = d
	}
	if endDate.Before(startDate) {
		return service.DateRange{}, common.NewUserError("--start must not be after --end", fmt.Errorf("%s is after %s", startDate, endDate))
	}
	return service.DateRange{Start: startDate.Time(), End: endDate.Time()}, nil
}
