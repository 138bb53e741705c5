package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/schema"

	_ "modernc.org/sqlite"
)

// Store is a Warehouse backed by a local SQLite database.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	ensured map[string]bool
}

var _ Warehouse = (*Store)(nil)

// New opens or creates the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{db: db, ensured: make(map[string]bool)}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func sqliteType(k schema.Kind) string {
	switch k {
	case schema.Int, schema.Bool:
		return "INTEGER"
	default:
		// dates and timestamps are fixed-layout strings that sort correctly
		return "TEXT"
	}
}

// EnsureTable creates the target table and its indexes if needed.
func (s *Store) EnsureTable(ctx context.Context, t *schema.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[t.Table] {
		return nil
	}

	cols := t.Columns()
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = QuoteIdent(c.Name) + " " + sqliteType(c.Kind)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\t%s\n);\n", QuoteIdent(t.Table), strings.Join(defs, ",\n\t"))
	for _, col := range indexedColumns(t) {
		fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS %s ON %s(%s);\n",
			QuoteIdent(IndexName(t.Table, col)), QuoteIdent(t.Table), QuoteIdent(col))
	}

	if _, err := s.db.ExecContext(ctx, b.String()); err != nil {
		return &SchemaError{Target: t.Name, Err: err}
	}
	s.ensured[t.Table] = true
	return nil
}

// indexedColumns lists the columns that get a secondary index. The
// date_indexed index stands in for time partitioning.
func indexedColumns(t *schema.Target) []string {
	cols := []string{models.ColumnRowSignature, t.Identifier}
	if t.IsPartitioned() {
		cols = append(cols, models.ColumnDateIndexed)
	}
	return cols
}

// ExistingSignatures returns which of signatures are already stored.
func (s *Store) ExistingSignatures(ctx context.Context, t *schema.Target, signatures []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(signatures) == 0 {
		return found, nil
	}

	args := make([]any, len(signatures))
	for i, sig := range signatures {
		args[i] = sig
	}
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IN (%s)",
		QuoteIdent(models.ColumnRowSignature), QuoteIdent(t.Table),
		QuoteIdent(models.ColumnRowSignature), placeholders(len(signatures)))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query signatures in %s: %w", t.Table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, err
		}
		found[sig] = true
	}
	return found, rows.Err()
}

// InsertRows writes rows in a single transaction.
func (s *Store) InsertRows(ctx context.Context, t *schema.Target, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(t.Table), ColumnList(t), placeholders(len(t.Columns())))
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", t.Table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, RowValues(t, row)...); err != nil {
			return fmt.Errorf("insert into %s: %w", t.Table, err)
		}
	}

	return tx.Commit()
}

// DetailSignature returns the index signature of the newest detail row
// whose company number or self link equals identifier.
func (s *Store) DetailSignature(ctx context.Context, detail *schema.Target, identifier string) (string, bool, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ? OR %s = ? ORDER BY %s DESC, rowid DESC LIMIT 1`,
		QuoteIdent(models.ColumnIndexRowSignature), QuoteIdent(detail.Table),
		QuoteIdent(detail.Identifier), QuoteIdent(schema.ColumnLinksSelf),
		QuoteIdent(models.ColumnDateIndexed))

	var sig sql.NullString
	err := s.db.QueryRowContext(ctx, q, identifier, identifier).Scan(&sig)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup detail signature for %s: %w", identifier, err)
	}
	return sig.String, true, nil
}

// latestIndexCTE selects the newest index row per company number.
func latestIndexCTE(index *schema.Target, tiebreak string) string {
	return fmt.Sprintf(`WITH latest AS (
		SELECT %[2]s AS company_number, %[3]s AS links_self, %[4]s AS row_signature,
			%[5]s AS date_indexed, %[6]s AS company_status,
			ROW_NUMBER() OVER (PARTITION BY %[2]s ORDER BY %[5]s DESC%[7]s) AS rn
		FROM %[1]s
		WHERE %[2]s IS NOT NULL AND %[2]s <> ''
	)`,
		QuoteIdent(index.Table), QuoteIdent(index.Identifier), QuoteIdent(schema.ColumnLinksSelf),
		QuoteIdent(models.ColumnRowSignature), QuoteIdent(models.ColumnDateIndexed),
		QuoteIdent(schema.ColumnCompanyStatus), tiebreak)
}

// PendingChangesQuery returns the anti-join of the latest index rows
// against the detail collection.
func PendingChangesQuery(index, detail *schema.Target, tiebreak string) string {
	return latestIndexCTE(index, tiebreak) + fmt.Sprintf(`
	SELECT l.company_number, l.links_self, l.row_signature, l.date_indexed
	FROM latest l
	WHERE l.rn = 1 AND NOT EXISTS (
		SELECT 1 FROM %s d
		WHERE d.%s = l.company_number AND d.%s = l.row_signature
	)
	ORDER BY l.date_indexed DESC, l.company_number`,
		QuoteIdent(detail.Table), QuoteIdent(detail.Identifier), QuoteIdent(models.ColumnIndexRowSignature))
}

// ActiveEntriesQuery selects the latest index rows of active companies that
// have a self link.
func ActiveEntriesQuery(index *schema.Target, tiebreak string) string {
	return latestIndexCTE(index, tiebreak) + `
	SELECT l.company_number, l.links_self, l.row_signature
	FROM latest l
	WHERE l.rn = 1 AND l.company_status = 'active' AND l.links_self IS NOT NULL AND l.links_self <> ''
	ORDER BY l.date_indexed DESC, l.company_number`
}

// PendingChanges yields change events for identifiers whose detail is
// missing or stale.
func (s *Store) PendingChanges(ctx context.Context, index, detail *schema.Target) iter.Seq2[models.ChangeEvent, error] {
	return func(yield func(models.ChangeEvent, error) bool) {
		rows, err := s.db.QueryContext(ctx, PendingChangesQuery(index, detail, ", rowid DESC"))
		if err != nil {
			yield(models.ChangeEvent{}, fmt.Errorf("query pending changes: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ev          models.ChangeEvent
				links, date sql.NullString
			)
			if err := rows.Scan(&ev.CompanyNumber, &links, &ev.IndexRowSignature, &date); err != nil {
				yield(models.ChangeEvent{}, fmt.Errorf("scan pending change: %w", err))
				return
			}
			ev.LinksSelf = nullable(links)
			ev.DateIndexed = nullable(date)
			if !yield(ev, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.ChangeEvent{}, err)
		}
	}
}

// ActiveEntries yields active index entries, newest first.
func (s *Store) ActiveEntries(ctx context.Context, index *schema.Target, limit int) iter.Seq2[models.IndexRef, error] {
	return func(yield func(models.IndexRef, error) bool) {
		q := ActiveEntriesQuery(index, ", rowid DESC")
		var args []any
		if limit > 0 {
			q += " LIMIT ?"
			args = append(args, limit)
		}

		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			yield(models.IndexRef{}, fmt.Errorf("query active entries: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ref models.IndexRef
				sig sql.NullString
			)
			if err := rows.Scan(&ref.CompanyNumber, &ref.LinksSelf, &sig); err != nil {
				yield(models.IndexRef{}, fmt.Errorf("scan active entry: %w", err))
				return
			}
			ref.RowSignature = sig.String
			if !yield(ref, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.IndexRef{}, err)
		}
	}
}

// Counts returns the row count of each target, creating missing tables.
func (s *Store) Counts(ctx context.Context, targets ...*schema.Target) (map[string]int, error) {
	counts := make(map[string]int, len(targets))
	for _, t := range targets {
		if err := s.EnsureTable(ctx, t); err != nil {
			return nil, err
		}
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+QuoteIdent(t.Table)).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", t.Table, err)
		}
		counts[t.Name] = n
	}
	return counts, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}
