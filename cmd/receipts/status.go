package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-receipts-must-match/internal/cli"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configured pipeline and corpus size",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	version, err := a.store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	receipts, err := a.store.StoredReceipts(ctx)
	if err != nil {
		return err
	}

	ledgerSource := "sqlite"
	if a.cfg.Ledger.PostgresDSN != "" {
		ledgerSource = "postgres"
	}
	rows := [][]string{
		{"Database", a.store.Path()},
		{"Schema", fmt.Sprintf("v%d", version)},
		{"Receipts", fmt.Sprint(len(receipts))},
		{"Aliases", fmt.Sprint(a.normalizer.Table().Len())},
		{"Providers", strings.Join(a.pipeline.Providers(), " → ")},
		{"Cache floor", fmt.Sprintf("%.2f", a.pipeline.Cache().MinConfidence())},
		{"Ledger", fmt.Sprintf("%s, ±%d days", ledgerSource, a.cfg.Ledger.WindowDays)},
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatTitle("Receipt pipeline"))
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable([]string{"Setting", "Value"}, rows))
	return nil
}

// pipelineHealth summarizes cache activity and any provider whose breaker
// is not closed. It is empty when there is nothing to report.
func pipelineHealth(p *extraction.Pipeline) string {
	var lines []string
	stats := p.Cache().Stats()
	if stats.Hits+stats.Misses > 0 {
		lines = append(lines, cli.FormatInfo(fmt.Sprintf("Extraction cache: %d hits, %d misses, %d stored, %d below floor",
			stats.Hits, stats.Misses, stats.Stores, stats.Rejected)))
	}
	for _, b := range p.Breakers().Snapshot() {
		if b.State == extraction.StateClosed {
			continue
		}
		lines = append(lines, cli.FormatWarning(fmt.Sprintf("Provider %s is %s after %d failures", b.Provider, b.State, b.Failures)))
	}
	return strings.Join(lines, "\n")
}
