// Package store defines the warehouse collection interface used by the
// pipeline and provides its default SQLite implementation.
package store

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/schema"
)

// Warehouse is a store of append-only target collections.
//
// Implementations impose no locking around check-then-write sequences:
// two writers may both see a signature as absent and both insert it.
type Warehouse interface {
	// EnsureTable creates the target's collection if it does not exist.
	// Failures are reported as *SchemaError.
	EnsureTable(ctx context.Context, t *schema.Target) error

	// ExistingSignatures returns the subset of signatures already stored.
	ExistingSignatures(ctx context.Context, t *schema.Target, signatures []string) (map[string]bool, error)

	// InsertRows writes one batch of rows. A failed batch writes nothing.
	InsertRows(ctx context.Context, t *schema.Target, rows []models.Row) error

	// DetailSignature returns the index_row_signature of the most recently
	// indexed detail row for identifier.
	DetailSignature(ctx context.Context, detail *schema.Target, identifier string) (string, bool, error)

	// PendingChanges yields, most recently indexed first, the latest index
	// entry of every identifier whose signature is not yet reflected in the
	// detail collection.
	PendingChanges(ctx context.Context, index, detail *schema.Target) iter.Seq2[models.ChangeEvent, error]

	// ActiveEntries yields the latest index entry of active companies that
	// have a self link, most recently indexed first. limit <= 0 means all.
	ActiveEntries(ctx context.Context, index *schema.Target, limit int) iter.Seq2[models.IndexRef, error]

	// Counts returns the number of rows in each target.
	Counts(ctx context.Context, targets ...*schema.Target) (map[string]int, error)

	Ping(ctx context.Context) error
	Close() error
}

// SchemaError reports a target collection that could not be created.
type SchemaError struct {
	Target string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("ensure table %s: %v", e.Target, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// QuoteIdent quotes a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ColumnList returns the target's quoted column names, comma separated.
func ColumnList(t *schema.Target) string {
	cols := t.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = QuoteIdent(c.Name)
	}
	return strings.Join(names, ", ")
}

// RowValues returns row's values in the target's column order.
func RowValues(t *schema.Target, row models.Row) []any {
	cols := t.Columns()
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = row[c.Name]
	}
	return vals
}

// IndexName builds the name of a secondary index on table.
func IndexName(table, column string) string {
	return "idx_" + table + "_" + column
}
