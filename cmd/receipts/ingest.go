package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/the-receipts-must-match/internal/cli"
	"github.com/Veraticus/the-receipts-must-match/internal/engine"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file|dir>...",
		Short: "Ingest receipts into the corpus",
		Long: `Extract, deduplicate, match and classify receipts, storing a decision
record for each one.

Examples:
  # A single receipt forwarded from a vendor
  receipts ingest invoice.html --sender-domain billing.github.com

  # Everything in a drop folder
  receipts ingest ~/Receipts/inbox

  # Calendar and contact hints for classification
  receipts ingest ~/Receipts/trip/*.jpg --context trip.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}
	cmd.Flags().String("sender-domain", "", "domain the receipts were sent from")
	cmd.Flags().String("context", "", "YAML file with calendar events and contacts")
	cmd.Flags().BoolP("verbose", "v", false, "show the full decision for every receipt")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	senderDomain, _ := cmd.Flags().GetString("sender-domain")
	contextPath, _ := cmd.Flags().GetString("context")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cctx, err := loadClassificationContext(senderDomain, contextPath)
	if err != nil {
		return err
	}
	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to ingest")
	}

	handler := cli.NewInterruptHandler(cmd.ErrOrStderr(), "Ingestion")
	ctx, stop := handler.HandleInterrupts(cmd.Context(), "receipts ingest "+strings.Join(args, " "))
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs := make([]extraction.Document, 0, len(files))
	for _, path := range files {
		doc, err := readDocument(path)
		if err != nil {
			slog.Error("Skipping unreadable file", "file", path, "error", err)
			continue
		}
		docs = append(docs, doc)
	}

	out := cmd.OutOrStdout()
	if len(docs) == 1 {
		record, err := a.engine.Ingest(ctx, docs[0], cctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, cli.RenderDecision(record))
		return nil
	}

	bar := progressbar.NewOptions(len(docs),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("Ingesting receipts"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	results, stats, err := a.engine.IngestBatch(ctx, docs, cctx, func(engine.BatchResult) {
		_ = bar.Add(1)
	})
	_ = bar.Finish()

	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", r.Name, r.Err)))
		case r.Record == nil:
		case verbose:
			fmt.Fprintln(out, cli.RenderDecision(r.Record))
		default:
			fmt.Fprintln(out, summaryLine(r))
		}
	}
	fmt.Fprintln(out, cli.RenderStats(stats))
	if health := pipelineHealth(a.pipeline); health != "" {
		fmt.Fprintln(out, health)
	}
	return err
}

// summaryLine is the one-line outcome for a batch result.
func summaryLine(r engine.BatchResult) string {
	record := r.Record
	switch {
	case record.Verdict.IsDuplicate:
		return cli.FormatInfo(fmt.Sprintf("%s: duplicate of %s", r.Name, record.ReceiptID))
	case r.NeedsReview():
		return cli.FormatWarning(fmt.Sprintf("%s: %s, needs review (%s)", r.Name, record.Merchant.CanonicalName, reviewReasons(record)))
	case record.Match != nil && record.Match.Decision == model.DecisionAutoMatch:
		return cli.FormatSuccess(fmt.Sprintf("%s: %s matched %s", r.Name, record.Merchant.CanonicalName, record.Match.BestCandidateID))
	default:
		return cli.FormatSuccess(fmt.Sprintf("%s: %s stored, no transaction", r.Name, record.Merchant.CanonicalName))
	}
}

func reviewReasons(record *model.DecisionRecord) string {
	var reasons []string
	if record.Verdict.NeedsReview {
		reasons = append(reasons, "possible duplicate")
	}
	if record.Match != nil && record.Match.Decision == model.DecisionNeedsReview {
		reasons = append(reasons, "match")
	}
	if record.Classification != nil && record.Classification.NeedsReview {
		reasons = append(reasons, "business type")
	}
	return strings.Join(reasons, ", ")
}
