package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/the-receipts-must-match/internal/cli"
	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/engine"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/service"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Ingest new receipts from a drop directory on a schedule",
		Long: `Scan a directory now and then on a cron schedule, ingesting every file
not yet ingested by this process. Runs until interrupted.

Examples:
  receipts watch ~/Receipts/inbox
  receipts watch ~/Receipts/inbox --schedule "0 * * * *"`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}
	cmd.Flags().String("schedule", "", "cron schedule (default: watch.schedule)")
	cmd.Flags().String("sender-domain", "", "domain the receipts were sent from")
	return cmd
}

// batchIngester is the slice of the engine the watcher drives.
type batchIngester interface {
	IngestBatch(ctx context.Context, docs []extraction.Document, cctx model.ClassificationContext, progress func(engine.BatchResult)) ([]engine.BatchResult, service.IngestStats, error)
}

// dropWatcher ingests files it has not yet ingested successfully.
// Failed files are retried on the next scan.
type dropWatcher struct {
	ingester batchIngester
	seen     map[string]bool
	logger   *slog.Logger
	dir      string
	cctx     model.ClassificationContext
	mu       sync.Mutex
}

func newDropWatcher(dir string, ingester batchIngester, cctx model.ClassificationContext, logger *slog.Logger) *dropWatcher {
	return &dropWatcher{
		ingester: ingester,
		seen:     make(map[string]bool),
		logger:   common.ComponentLogger(logger, "watch").With("dir", dir),
		dir:      dir,
		cctx:     cctx,
	}
}

// scan ingests pending files. Overlapping scans are serialized.
func (w *dropWatcher) scan(ctx context.Context) (service.IngestStats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := collectFiles([]string{w.dir})
	if err != nil {
		return service.IngestStats{}, err
	}

	var paths []string
	var docs []extraction.Document
	for _, path := range files {
		if w.seen[path] {
			continue
		}
		doc, err := readDocument(path)
		if err != nil {
			w.logger.Warn("skipping unreadable file", "file", path, "error", err)
			continue
		}
		paths = append(paths, path)
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return service.IngestStats{}, nil
	}

	results, stats, err := w.ingester.IngestBatch(ctx, docs, w.cctx, nil)
	for i, r := range results {
		if r.Err == nil && r.Record != nil {
			w.seen[paths[i]] = true
		}
	}
	return stats, err
}

func runWatch(cmd *cobra.Command, args []string) error {
	schedule, _ := cmd.Flags().GetString("schedule")
	senderDomain, _ := cmd.Flags().GetString("sender-domain")

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if schedule == "" {
		schedule = a.cfg.Watch.Schedule
	}
	watcher := newDropWatcher(args[0], a.engine, model.ClassificationContext{SenderDomain: senderDomain}, nil)
	out := cmd.OutOrStdout()

	run := func() {
		stats, err := watcher.scan(ctx)
		if err != nil {
			common.LogError(err, "Scan failed", common.Fields{"dir": args[0]})
			return
		}
		if stats.Processed == 0 {
			common.LogDebug("Scan found nothing new", common.Fields{"dir": args[0]})
			return
		}
		fmt.Fprintln(out, cli.RenderStats(stats))
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(schedule, run); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Watching %s (%s). Press Ctrl+C to stop.", args[0], schedule)))
	run()
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}
