package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kilupskalvis/regsync/internal/metrics"
	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/normalize"
	"github.com/kilupskalvis/regsync/internal/registry"
	"github.com/kilupskalvis/regsync/internal/schema"
)

// IndexSweep pages through registry search results and writes them to the
// company index.
type IndexSweep struct {
	client     *registry.Client
	norm       *normalize.Normalizer
	writer     *Writer
	metrics    *metrics.Collector
	logger     *slog.Logger
	PageSize   int
	Politeness time.Duration
}

func NewIndexSweep(client *registry.Client, norm *normalize.Normalizer, writer *Writer, m *metrics.Collector, logger *slog.Logger) *IndexSweep {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexSweep{
		client:     client,
		norm:       norm,
		writer:     writer,
		metrics:    m,
		logger:     logger,
		PageSize:   100,
		Politeness: time.Second,
	}
}

// Run ingests the results of query, stopping after maxPages pages when
// maxPages > 0. A sweep that ends early after writing some pages is partial;
// one that could not write anything is an error.
func (s *IndexSweep) Run(ctx context.Context, query string, maxPages int) models.RunSummary {
	started := time.Now()
	var sum models.RunSummary
	defer func() {
		s.metrics.Run("index", string(sum.Status), time.Since(started))
	}()

	if err := s.writer.Ensure(ctx, schema.CompanyIndexName); err != nil {
		sum.Fail(err)
		return sum
	}

	p := s.client.Pages(query, s.PageSize, s.Politeness)
	for p.Next(ctx) {
		page := p.Page()
		sum.Pages++
		s.metrics.PageFetched()

		rows := make([]models.Row, 0, len(page.Items))
		for i, item := range page.Items {
			row, err := s.norm.Normalize(schema.CompanyIndexName, item, nil)
			if err != nil {
				sum.AddError(fmt.Errorf("page %d item %d: %w", page.Number, i, err))
				continue
			}
			rows = append(rows, row)
		}

		res, err := s.writer.Write(ctx, schema.CompanyIndexName, rows)
		if err != nil {
			sum.Fail(fmt.Errorf("page %d: %w", page.Number, err))
			return sum
		}
		sum.Inserted += res.Written
		sum.Skipped += res.Skipped
		for _, e := range res.Errors {
			sum.AddError(fmt.Errorf("page %d: %w", page.Number, e))
		}
		s.logger.Info("page ingested", "page", page.Number, "written", res.Written, "skipped", res.Skipped)

		if maxPages > 0 && sum.Pages >= maxPages {
			s.logger.Info("reached page limit", "max_pages", maxPages)
			break
		}
	}

	switch p.Outcome() {
	case registry.GaveUp, registry.Failed:
		if sum.Pages == 0 {
			sum.Fail(p.Err())
			return sum
		}
		sum.AddError(fmt.Errorf("sweep stopped after page %d: %w", sum.Pages, p.Err()))
	}
	sum.Finish()
	s.logger.Info("index sweep finished", "query", query, "outcome", p.Outcome().String(), "pages", sum.Pages, "written", sum.Inserted, "skipped", sum.Skipped)
	return sum
}
