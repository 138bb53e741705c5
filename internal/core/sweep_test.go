package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/registry"
	"github.com/kilupskalvis/regsync/internal/schema"
	"github.com/kilupskalvis/regsync/internal/secrets"
	"github.com/kilupskalvis/regsync/internal/store"
)

// searchAPI serves total search results in pages, then fails every request
// from failFrom onwards with 503 when failFrom > 0.
func searchAPI(t *testing.T, total, failFrom int) *registry.Client {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(requests.Add(1))
		if failFrom > 0 && n >= failFrom {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("start_index"))
		size, _ := strconv.Atoi(r.URL.Query().Get("items_per_page"))
		var items []map[string]any
		for i := start; i < min(start+size, total); i++ {
			items = append(items, map[string]any{
				"company_number": fmt.Sprintf("%08d", i),
				"title":          fmt.Sprintf("CO %d", i),
				"company_status": "active",
				"links":          map[string]any{"self": fmt.Sprintf("/company/%08d", i)},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items})
	}))
	t.Cleanup(srv.Close)

	return registry.NewClient(registry.Options{
		BaseURL:     srv.URL,
		Credentials: secrets.StaticSource("key"),
		Retry:       &registry.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Clock:       clock.WallClock,
	})
}

func newTestIndexSweep(t *testing.T, wh store.Warehouse, client *registry.Client) *IndexSweep {
	s := NewIndexSweep(client, newTestNormalizer(t), NewWriter(wh, nil, nil), nil, nil)
	s.PageSize = 2
	s.Politeness = 0
	return s
}

func TestIndexSweep_IngestsAllPages(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	s := newTestIndexSweep(t, st, searchAPI(t, 5, 0))

	sum := s.Run(ctx, "a", 0)
	assert.Equal(t, models.StatusOK, sum.Status)
	assert.Equal(t, 3, sum.Pages)
	assert.Equal(t, 5, sum.Inserted)
	assert.Zero(t, sum.Skipped)

	sum = s.Run(ctx, "a", 0)
	assert.Equal(t, models.StatusOK, sum.Status)
	assert.Zero(t, sum.Inserted)
	assert.Equal(t, 5, sum.Skipped)
}

func TestIndexSweep_MaxPages(t *testing.T) {
	sum := newTestIndexSweep(t, newTestStore(t), searchAPI(t, 10, 0)).Run(context.Background(), "a", 2)
	assert.Equal(t, models.StatusOK, sum.Status)
	assert.Equal(t, 2, sum.Pages)
	assert.Equal(t, 4, sum.Inserted)
}

func TestIndexSweep_GaveUpIsPartial(t *testing.T) {
	sum := newTestIndexSweep(t, newTestStore(t), searchAPI(t, 10, 2)).Run(context.Background(), "a", 0)
	assert.Equal(t, models.StatusPartial, sum.Status)
	assert.Equal(t, 1, sum.Pages)
	assert.Equal(t, 2, sum.Inserted)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "retry budget")
}

func TestIndexSweep_NothingFetchedIsError(t *testing.T) {
	sum := newTestIndexSweep(t, newTestStore(t), searchAPI(t, 10, 1)).Run(context.Background(), "a", 0)
	assert.Equal(t, models.StatusError, sum.Status)
	assert.NotEmpty(t, sum.Message)
}

func seedActive(t *testing.T, st *store.Store, numbers ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.EnsureTable(ctx, schema.CompanyIndex))
	rows := make([]models.Row, len(numbers))
	for i, n := range numbers {
		rows[i] = indexRow(n, "sig-"+n, fmt.Sprintf("2024-03-01T10:00:%02d.000000Z", i))
	}
	require.NoError(t, st.InsertRows(ctx, schema.CompanyIndex, rows))
}

func TestDetailSweep_RefreshesActiveCompanies(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedActive(t, st, "A", "B", "C")
	f := &fakeFetcher{profiles: map[string]models.SourceRecord{
		"A": profile("A", "Alpha"),
		"C": profile("C", "Gamma"),
	}}
	s := NewDetailSweep(st, f, newTestNormalizer(t), NewWriter(st, nil, nil), clock.WallClock, nil, nil)

	sum := s.Run(ctx, 0, 0)
	assert.Equal(t, models.StatusOK, sum.Status)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 2, sum.Inserted)
	assert.Equal(t, []string{"C", "B", "A"}, f.Calls())

	sig, ok, err := st.DetailSignature(ctx, schema.CompanyDetails, "C")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sig-C", sig)
}

func TestDetailSweep_LimitAndErrors(t *testing.T) {
	st := newTestStore(t)
	seedActive(t, st, "A", "B", "C")
	f := &fakeFetcher{
		profiles: map[string]models.SourceRecord{"C": profile("C", "Gamma")},
		errs:     map[string]error{"B": errors.New("budget exhausted")},
	}
	s := NewDetailSweep(st, f, newTestNormalizer(t), NewWriter(st, nil, nil), clock.WallClock, nil, nil)

	sum := s.Run(context.Background(), 2, 0)
	assert.Equal(t, models.StatusPartial, sum.Status)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.ErrorsCount)
	assert.Equal(t, []string{"C", "B"}, f.Calls())
}

func TestDetailSweep_Cancelled(t *testing.T) {
	st := newTestStore(t)
	seedActive(t, st, "A", "B")
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{profiles: map[string]models.SourceRecord{}}
	cancel()

	s := NewDetailSweep(st, f, newTestNormalizer(t), NewWriter(st, nil, nil), clock.WallClock, nil, nil)
	sum := s.Run(ctx, 0, time.Hour)
	assert.Equal(t, models.StatusError, sum.Status)
}
