// Package core runs the registry pipeline: dedup-aware writes, change
// detection, publishing and consuming change events, and the index and
// detail sweeps built on them.
package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/regsync/internal/metrics"
	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/schema"
	"github.com/kilupskalvis/regsync/internal/store"
)

const (
	// DefaultBatchSize is the number of rows sent in one insert.
	DefaultBatchSize = 500
	// DefaultLookupChunk bounds the signatures sent in one existence query.
	DefaultLookupChunk = 500
)

// Writer writes rows to a warehouse, skipping rows whose signature is
// already stored in the target.
type Writer struct {
	wh      store.Warehouse
	metrics *metrics.Collector
	logger  *slog.Logger

	BatchSize   int
	LookupChunk int
}

// NewWriter creates a Writer over wh. m may be nil.
func NewWriter(wh store.Warehouse, m *metrics.Collector, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		wh:          wh,
		metrics:     m,
		logger:      logger,
		BatchSize:   DefaultBatchSize,
		LookupChunk: DefaultLookupChunk,
	}
}

// Ensure creates the named target's collection if needed.
func (w *Writer) Ensure(ctx context.Context, targetName string) error {
	t, err := schema.Lookup(targetName)
	if err != nil {
		return err
	}
	return w.wh.EnsureTable(ctx, t)
}

// Write stores the rows of rows that are new to the target. Rows whose
// signature is already stored, or repeated earlier in rows, are skipped. A
// failed batch is recorded in the result and does not stop later batches;
// the returned error is reserved for failures that prevent writing at all.
func (w *Writer) Write(ctx context.Context, targetName string, rows []models.Row) (models.WriteResult, error) {
	var res models.WriteResult

	t, err := schema.Lookup(targetName)
	if err != nil {
		return res, err
	}
	if err := w.wh.EnsureTable(ctx, t); err != nil {
		return res, err
	}
	if len(rows) == 0 {
		return res, nil
	}

	existing, err := w.existing(ctx, t, rows)
	if err != nil {
		return res, err
	}

	fresh := make([]models.Row, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		sig := row.Signature()
		if sig != "" {
			if existing[sig] || seen[sig] {
				res.Skipped++
				continue
			}
			seen[sig] = true
		}
		fresh = append(fresh, row)
	}

	size := w.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	for start, n := 0, 1; start < len(fresh); start, n = start+size, n+1 {
		batch := fresh[start:min(start+size, len(fresh))]
		if err := w.wh.InsertRows(ctx, t, batch); err != nil {
			w.logger.Error("batch write failed", "target", t.Name, "batch", n, "rows", len(batch), "error", err)
			res.Errors = append(res.Errors, &models.BatchError{Batch: n, Rows: len(batch), Err: err})
			continue
		}
		res.Written += len(batch)
	}

	w.metrics.RowsWritten(t.Name, res.Written, res.Skipped, len(res.Errors))
	w.logger.Debug("rows written", "target", t.Name, "written", res.Written, "skipped", res.Skipped, "failed_batches", len(res.Errors))
	return res, nil
}

// existing looks up the distinct signatures of rows in chunks.
func (w *Writer) existing(ctx context.Context, t *schema.Target, rows []models.Row) (map[string]bool, error) {
	sigs := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		sig := row.Signature()
		if sig == "" || seen[sig] {
			continue
		}
		seen[sig] = true
		sigs = append(sigs, sig)
	}

	chunk := w.LookupChunk
	if chunk <= 0 {
		chunk = DefaultLookupChunk
	}
	found := make(map[string]bool)
	for start := 0; start < len(sigs); start += chunk {
		part, err := w.wh.ExistingSignatures(ctx, t, sigs[start:min(start+chunk, len(sigs))])
		if err != nil {
			return nil, fmt.Errorf("look up signatures in %s: %w", t.Name, err)
		}
		for sig, ok := range part {
			if ok {
				found[sig] = true
			}
		}
	}
	return found, nil
}
