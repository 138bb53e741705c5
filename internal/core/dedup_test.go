package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/schema"
	"github.com/kilupskalvis/regsync/internal/store"
)

func TestWriter_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	w := NewWriter(st, nil, nil)
	rows := indexRows(t, 7)

	res, err := w.Write(ctx, schema.CompanyIndexName, rows)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Written)
	assert.Equal(t, 0, res.Skipped)
	assert.Empty(t, res.Errors)

	res, err = w.Write(ctx, schema.CompanyIndexName, rows)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Written)
	assert.Equal(t, 7, res.Skipped)

	counts, err := st.Counts(ctx, schema.CompanyIndex)
	require.NoError(t, err)
	assert.Equal(t, 7, counts[schema.CompanyIndexName])
}

func TestWriter_RepeatsWithinInputSkipped(t *testing.T) {
	rows := indexRows(t, 2)
	rows = append(rows, rows[0])

	res, err := NewWriter(newTestStore(t), nil, nil).Write(context.Background(), schema.CompanyIndexName, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 1, res.Skipped)
}

func TestWriter_FailedBatchDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	wh := &failingWarehouse{Warehouse: st, failOn: map[int]bool{2: true}}
	w := NewWriter(wh, nil, nil)
	w.BatchSize = 3

	res, err := w.Write(ctx, schema.CompanyIndexName, indexRows(t, 5))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Written)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Batch)
	assert.Equal(t, 2, res.Errors[0].Rows)
	assert.ErrorContains(t, res.Errors[0], "insert quota exceeded")

	counts, err := st.Counts(ctx, schema.CompanyIndex)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[schema.CompanyIndexName])
}

func TestWriter_FailedRowsWrittenOnRetry(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	rows := indexRows(t, 4)

	w := NewWriter(&failingWarehouse{Warehouse: st, failOn: map[int]bool{1: true}}, nil, nil)
	w.BatchSize = 2
	res, err := w.Write(ctx, schema.CompanyIndexName, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	require.Len(t, res.Errors, 1)

	res, err = NewWriter(st, nil, nil).Write(ctx, schema.CompanyIndexName, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 2, res.Skipped)
}

func TestWriter_LookupIsChunked(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	counter := &countingWarehouse{Warehouse: st}
	w := NewWriter(counter, nil, nil)
	w.LookupChunk = 4

	_, err := w.Write(ctx, schema.CompanyIndexName, indexRows(t, 10))
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 2}, counter.lookups)
}

func TestWriter_UnknownTarget(t *testing.T) {
	_, err := NewWriter(newTestStore(t), nil, nil).Write(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, schema.ErrUnknownTarget)
}

func TestWriter_SchemaErrorIsFatal(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Close())

	_, err := NewWriter(st, nil, nil).Write(context.Background(), schema.CompanyIndexName, indexRows(t, 1))
	var se *store.SchemaError
	assert.ErrorAs(t, err, &se)
}

func TestWriter_Empty(t *testing.T) {
	res, err := NewWriter(newTestStore(t), nil, nil).Write(context.Background(), schema.CompanyIndexName, nil)
	require.NoError(t, err)
	assert.Equal(t, models.WriteResult{}, res)
}

type countingWarehouse struct {
	store.Warehouse
	lookups []int
}

func (w *countingWarehouse) ExistingSignatures(ctx context.Context, t *schema.Target, sigs []string) (map[string]bool, error) {
	w.lookups = append(w.lookups, len(sigs))
	return w.Warehouse.ExistingSignatures(ctx, t, sigs)
}
