package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/service"
)

// BatchResult is the outcome of ingesting one document in a batch.
type BatchResult struct {
	Err    error
	Record *model.DecisionRecord
	Name   string
}

// NeedsReview reports whether any stage left the document for a human.
func (r BatchResult) NeedsReview() bool {
	if r.Record == nil {
		return false
	}
	if r.Record.Verdict.NeedsReview {
		return true
	}
	if r.Record.Match != nil && r.Record.Match.Decision == model.DecisionNeedsReview {
		return true
	}
	return r.Record.Classification != nil && r.Record.Classification.NeedsReview
}

// IngestBatch ingests documents in parallel. A failing document does not stop
// the batch; its error is reported in its result. progress, when set, is
// called once per finished document, never concurrently. The returned error
// is only the context's.
func (e *Engine) IngestBatch(ctx context.Context, docs []extraction.Document, cctx model.ClassificationContext, progress func(BatchResult)) ([]BatchResult, service.IngestStats, error) {
	start := e.now()
	results := make([]BatchResult, len(docs))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)

	for i, doc := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			record, err := e.Ingest(gctx, doc, cctx)
			if err != nil {
				e.logger.Warn("document failed", "document", docName(doc), "error", err)
			}
			result := BatchResult{Name: doc.Name, Record: record, Err: err}
			results[i] = result

			if progress != nil {
				mu.Lock()
				progress(result)
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()

	stats := Summarize(results)
	stats.Duration = e.now().Sub(start)
	e.logger.Info("batch ingested",
		"processed", stats.Processed,
		"stored", stats.Stored,
		"duplicates", stats.Duplicates,
		"auto_matched", stats.AutoMatched,
		"needs_review", stats.NeedsReview,
		"failed", stats.Failed)
	return results, stats, err
}

// Summarize counts batch outcomes. Results that never ran are not counted.
func Summarize(results []BatchResult) service.IngestStats {
	var stats service.IngestStats
	for _, r := range results {
		switch {
		case r.Err != nil:
			stats.Processed++
			stats.Failed++
			continue
		case r.Record == nil:
			continue
		}
		stats.Processed++
		if r.Record.Stored {
			stats.Stored++
		} else if r.Record.Verdict.IsDuplicate {
			stats.Duplicates++
		}
		if r.Record.Match != nil && r.Record.Match.Decision == model.DecisionAutoMatch {
			stats.AutoMatched++
		}
		if r.NeedsReview() {
			stats.NeedsReview++
		}
	}
	return stats
}
