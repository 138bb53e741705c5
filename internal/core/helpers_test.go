package core

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/normalize"
	"github.com/kilupskalvis/regsync/internal/schema"
	"github.com/kilupskalvis/regsync/internal/store"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "warehouse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestNormalizer(t *testing.T) *normalize.Normalizer {
	return normalize.New(testclock.NewClock(testNow))
}

func profile(number, name string) models.SourceRecord {
	return models.SourceRecord{
		"company_number": number,
		"company_name":   name,
		"company_status": "active",
		"has_charges":    false,
		"links":          map[string]any{"self": "/company/" + number},
		"registered_office_address": map[string]any{
			"address_line_1": "1 High Street",
			"postal_code":    "N1 1AA",
		},
	}
}

func indexRows(t *testing.T, n int) []models.Row {
	t.Helper()
	norm := newTestNormalizer(t)
	rows := make([]models.Row, n)
	for i := range rows {
		row, err := norm.Normalize(schema.CompanyIndexName, models.SourceRecord{
			"company_number": fmt.Sprintf("%08d", i),
			"title":          fmt.Sprintf("CO %d", i),
			"company_status": "active",
			"links":          map[string]any{"self": fmt.Sprintf("/company/%08d", i)},
		}, nil)
		require.NoError(t, err)
		rows[i] = row
	}
	return rows
}

// indexRow builds a stored index row with a fixed signature and time.
func indexRow(number, sig, at string) models.Row {
	return models.Row{
		schema.ColumnCompanyNumber: number,
		schema.ColumnLinksSelf:     "/company/" + number,
		schema.ColumnCompanyStatus: "active",
		models.ColumnRowSignature:  sig,
		models.ColumnDateIndexed:   at,
		models.ColumnRawJSON:       `{}`,
	}
}

func detailRow(number, sig, indexSig, at string) models.Row {
	return models.Row{
		schema.ColumnCompanyNumber:     number,
		schema.ColumnLinksSelf:         "/company/" + number,
		models.ColumnRowSignature:      sig,
		models.ColumnIndexRowSignature: indexSig,
		models.ColumnDateIndexed:       at,
		models.ColumnRawJSON:           `{}`,
	}
}

// failingWarehouse fails the insert calls whose 1-based number is in failOn.
type failingWarehouse struct {
	store.Warehouse
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
}

func (w *failingWarehouse) InsertRows(ctx context.Context, t *schema.Target, rows []models.Row) error {
	w.mu.Lock()
	w.calls++
	fail := w.failOn[w.calls]
	w.mu.Unlock()
	if fail {
		return fmt.Errorf("insert quota exceeded")
	}
	return w.Warehouse.InsertRows(ctx, t, rows)
}

// fakeFetcher serves profiles from a map and counts calls.
type fakeFetcher struct {
	mu       sync.Mutex
	profiles map[string]models.SourceRecord
	errs     map[string]error
	calls    []string
}

func (f *fakeFetcher) FetchDetail(_ context.Context, id string) (models.SourceRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err := f.errs[id]; err != nil {
		return nil, false, err
	}
	rec, ok := f.profiles[id]
	return rec, ok, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// memTopic records published payloads and fails from the failAt-th publish.
type memTopic struct {
	mu       sync.Mutex
	messages [][]byte
	failAt   int
}

func (m *memTopic) Publish(_ context.Context, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAt > 0 && len(m.messages)+1 >= m.failAt {
		return "", fmt.Errorf("topic unavailable")
	}
	m.messages = append(m.messages, data)
	return fmt.Sprintf("msg-%d", len(m.messages)), nil
}
