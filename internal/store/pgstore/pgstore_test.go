package pgstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/schema"
	"github.com/kilupskalvis/regsync/internal/store"
)

// newTestStore connects to REGSYNC_TEST_PG_DSN using a throwaway schema.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("REGSYNC_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("REGSYNC_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	name := "regsync_test_" + uuid.NewString()[:8]
	st, err := Open(ctx, Options{DSN: dsn, Schema: name})
	require.NoError(t, err)
	t.Cleanup(func() {
		st.pool.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", store.QuoteIdent(name)))
		st.Close()
	})

	require.NoError(t, st.EnsureTable(ctx, schema.CompanyIndex))
	require.NoError(t, st.EnsureTable(ctx, schema.CompanyDetails))
	return st
}

func indexRow(number, sig, at string) models.Row {
	return models.Row{
		schema.ColumnCompanyNumber: number,
		schema.ColumnLinksSelf:     "/company/" + number,
		schema.ColumnCompanyStatus: "active",
		"date_of_creation":         "2001-05-17",
		"rank":                     int64(2),
		models.ColumnRowSignature:  sig,
		models.ColumnDateIndexed:   at,
		models.ColumnRawJSON:       `{}`,
	}
}

func detailRow(number, sig, indexSig, at string) models.Row {
	return models.Row{
		schema.ColumnCompanyNumber:     number,
		"has_charges":                  false,
		models.ColumnRowSignature:      sig,
		models.ColumnIndexRowSignature: indexSig,
		models.ColumnDateIndexed:       at,
		models.ColumnRawJSON:           `{}`,
	}
}

func TestPGStore_DiffRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertRows(ctx, schema.CompanyIndex, []models.Row{
		indexRow("A", "sigA1", "2024-01-01T00:00:00.000000Z"),
		indexRow("B", "sigB1", "2024-01-02T00:00:00.000000Z"),
	}))
	require.NoError(t, st.InsertRows(ctx, schema.CompanyDetails, []models.Row{
		detailRow("A", "dA", "sigA1", "2024-01-03T00:00:00.000000Z"),
	}))

	found, err := st.ExistingSignatures(ctx, schema.CompanyIndex, []string{"sigA1", "nope"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"sigA1": true}, found)

	var changes []models.ChangeEvent
	for ev, err := range st.PendingChanges(ctx, schema.CompanyIndex, schema.CompanyDetails) {
		require.NoError(t, err)
		changes = append(changes, ev)
	}
	require.Len(t, changes, 1)
	assert.Equal(t, "B", changes[0].CompanyNumber)
	require.NotNil(t, changes[0].DateIndexed)
	assert.Equal(t, "2024-01-02T00:00:00.000000Z", *changes[0].DateIndexed)

	sig, ok, err := st.DetailSignature(ctx, schema.CompanyDetails, "A")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sigA1", sig)

	counts, err := st.Counts(ctx, schema.CompanyIndex, schema.CompanyDetails)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["company_index"])
	assert.Equal(t, 1, counts["company_details"])

	var refs []models.IndexRef
	for ref, err := range st.ActiveEntries(ctx, schema.CompanyIndex, 1) {
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	require.Len(t, refs, 1)
	assert.Equal(t, "B", refs[0].CompanyNumber)
}

func TestPgType(t *testing.T) {
	assert.Equal(t, "TEXT", pgType(schema.String))
	assert.Equal(t, "BIGINT", pgType(schema.Int))
	assert.Equal(t, "BOOLEAN", pgType(schema.Bool))
	assert.Equal(t, "DATE", pgType(schema.Date))
	assert.Equal(t, "TIMESTAMPTZ", pgType(schema.Timestamp))
}

func TestToArg(t *testing.T) {
	v, err := toArg(schema.Date, "2001-05-17")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2001, 5, 17, 0, 0, 0, 0, time.UTC), v)

	v, err = toArg(schema.Timestamp, "2024-01-02T03:04:05.000006Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC), v)

	v, err = toArg(schema.Date, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = toArg(schema.String, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	_, err = toArg(schema.Date, "17/05/2001")
	assert.Error(t, err)
}
