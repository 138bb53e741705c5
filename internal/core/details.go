package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/kilupskalvis/regsync/internal/metrics"
	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/normalize"
	"github.com/kilupskalvis/regsync/internal/schema"
	"github.com/kilupskalvis/regsync/internal/store"
)

// DetailSweep fetches the profile of every active company in the index,
// independent of change detection.
type DetailSweep struct {
	wh      store.Warehouse
	fetcher DetailFetcher
	norm    *normalize.Normalizer
	writer  *Writer
	clock   clock.Clock
	metrics *metrics.Collector
	logger  *slog.Logger
}

func NewDetailSweep(wh store.Warehouse, fetcher DetailFetcher, norm *normalize.Normalizer, writer *Writer, clk clock.Clock, m *metrics.Collector, logger *slog.Logger) *DetailSweep {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DetailSweep{wh: wh, fetcher: fetcher, norm: norm, writer: writer, clock: clk, metrics: m, logger: logger}
}

// Run refreshes up to limit companies (all when limit <= 0), most recently
// indexed first, pausing for politeness between registry calls. A company
// that fails is recorded and the sweep moves on.
func (s *DetailSweep) Run(ctx context.Context, limit int, politeness time.Duration) models.RunSummary {
	started := time.Now()
	var sum models.RunSummary
	defer func() {
		s.metrics.Run("details", string(sum.Status), time.Since(started))
	}()

	for _, t := range []*schema.Target{schema.CompanyIndex, schema.CompanyDetails} {
		if err := s.wh.EnsureTable(ctx, t); err != nil {
			sum.Fail(err)
			return sum
		}
	}

	var refs []models.IndexRef
	for ref, err := range s.wh.ActiveEntries(ctx, schema.CompanyIndex, limit) {
		if err != nil {
			sum.Fail(fmt.Errorf("list active companies: %w", err))
			return sum
		}
		refs = append(refs, ref)
	}
	s.logger.Info("refreshing company details", "companies", len(refs), "limit", limit)

	for i, ref := range refs {
		if i > 0 {
			if err := pause(ctx, s.clock, politeness); err != nil {
				sum.Fail(err)
				return sum
			}
		}
		if err := s.refresh(ctx, ref, &sum); err != nil {
			sum.AddError(fmt.Errorf("company %s: %w", ref.CompanyNumber, err))
		}
	}

	sum.Finish()
	s.logger.Info("detail sweep finished", "processed", sum.Processed, "written", sum.Inserted, "skipped", sum.Skipped, "errors", sum.ErrorsCount)
	return sum
}

func (s *DetailSweep) refresh(ctx context.Context, ref models.IndexRef, sum *models.RunSummary) error {
	id := ref.CompanyNumber
	if id == "" {
		id = ref.LinksSelf
	}
	rec, found, err := s.fetcher.FetchDetail(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		s.logger.Info("no detail found, skipping", "company_number", ref.CompanyNumber)
		return nil
	}

	row, err := s.norm.Normalize(schema.CompanyDetailsName, rec, map[string]any{
		models.ColumnIndexRowSignature: ref.RowSignature,
	})
	if err != nil {
		return err
	}
	res, err := s.writer.Write(ctx, schema.CompanyDetailsName, []models.Row{row})
	if err != nil {
		return err
	}
	sum.Processed++
	if len(res.Errors) > 0 {
		return res.Errors[0]
	}
	sum.Inserted += res.Written
	sum.Skipped += res.Skipped
	return nil
}

// pause waits for d on clk unless ctx ends first.
func pause(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
