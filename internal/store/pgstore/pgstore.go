// Package pgstore is a PostgreSQL warehouse backend built on pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/schema"
	"github.com/kilupskalvis/regsync/internal/store"
)

// Options configures the connection pool.
type Options struct {
	DSN string
	// Schema is the PostgreSQL schema holding the target tables.
	Schema   string
	MaxConns int
	// ViaBouncer switches to the simple protocol for transaction poolers.
	ViaBouncer bool
}

// Store is a Warehouse backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	schema string

	mu      sync.Mutex
	ensured map[string]bool
}

var _ store.Warehouse = (*Store)(nil)

// Open connects to PostgreSQL. Every connection uses opts.Schema as its
// search path so table names need no qualification.
func Open(ctx context.Context, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 4
	}
	cfg.MaxConns = int32(opts.MaxConns)
	if opts.ViaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = opts.Schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, schema: opts.Schema, ensured: make(map[string]bool)}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func pgType(k schema.Kind) string {
	switch k {
	case schema.Int:
		return "BIGINT"
	case schema.Bool:
		return "BOOLEAN"
	case schema.Date:
		return "DATE"
	case schema.Timestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// EnsureTable creates the schema, target table and its indexes if needed.
func (s *Store) EnsureTable(ctx context.Context, t *schema.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[t.Table] {
		return nil
	}

	cols := t.Columns()
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = store.QuoteIdent(c.Name) + " " + pgType(c.Kind)
	}

	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + store.QuoteIdent(s.schema),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", store.QuoteIdent(t.Table), strings.Join(defs, ", ")),
	}
	idx := []string{models.ColumnRowSignature, t.Identifier}
	if t.IsPartitioned() {
		idx = append(idx, models.ColumnDateIndexed)
	}
	for _, col := range idx {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			store.QuoteIdent(store.IndexName(t.Table, col)), store.QuoteIdent(t.Table), store.QuoteIdent(col)))
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return &store.SchemaError{Target: t.Name, Err: err}
		}
	}
	s.ensured[t.Table] = true
	return nil
}

// ExistingSignatures returns which of signatures are already stored.
func (s *Store) ExistingSignatures(ctx context.Context, t *schema.Target, signatures []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(signatures) == 0 {
		return found, nil
	}

	q := fmt.Sprintf("SELECT DISTINCT %[1]s FROM %[2]s WHERE %[1]s = ANY($1)",
		store.QuoteIdent(models.ColumnRowSignature), store.QuoteIdent(t.Table))
	rows, err := s.pool.Query(ctx, q, signatures)
	if err != nil {
		return nil, fmt.Errorf("query signatures in %s: %w", t.Table, err)
	}
	sigs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect signatures in %s: %w", t.Table, err)
	}
	for _, sig := range sigs {
		found[sig] = true
	}
	return found, nil
}

// InsertRows writes rows as one pgx batch inside a transaction.
func (s *Store) InsertRows(ctx context.Context, t *schema.Target, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}

	cols := t.Columns()
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		store.QuoteIdent(t.Table), store.ColumnList(t), strings.Join(ph, ","))

	b := &pgx.Batch{}
	for _, row := range rows {
		vals, err := rowArgs(cols, row)
		if err != nil {
			return fmt.Errorf("insert into %s: %w", t.Table, err)
		}
		b.Queue(q, vals...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, b)
	for range rows {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert into %s: %w", t.Table, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert into %s: %w", t.Table, err)
	}
	return tx.Commit(ctx)
}

// rowArgs converts row into query arguments, parsing date and timestamp
// strings so they bind to DATE and TIMESTAMPTZ columns.
func rowArgs(cols []schema.Column, row models.Row) ([]any, error) {
	vals := make([]any, len(cols))
	for i, c := range cols {
		v, err := toArg(c.Kind, row[c.Name])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func toArg(k schema.Kind, v any) (any, error) {
	s, ok := v.(string)
	if !ok || (k != schema.Date && k != schema.Timestamp) {
		return v, nil
	}
	if s == "" {
		return nil, nil
	}
	if k == schema.Date {
		return time.Parse(models.DateLayout, s)
	}
	return time.Parse(time.RFC3339Nano, s)
}

// DetailSignature returns the index signature of the newest detail row
// whose company number or self link equals identifier.
func (s *Store) DetailSignature(ctx context.Context, detail *schema.Target, identifier string) (string, bool, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 OR %s = $1 ORDER BY %s DESC LIMIT 1`,
		store.QuoteIdent(models.ColumnIndexRowSignature), store.QuoteIdent(detail.Table),
		store.QuoteIdent(detail.Identifier), store.QuoteIdent(schema.ColumnLinksSelf),
		store.QuoteIdent(models.ColumnDateIndexed))

	var sig *string
	err := s.pool.QueryRow(ctx, q, identifier).Scan(&sig)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup detail signature for %s: %w", identifier, err)
	}
	if sig == nil {
		return "", true, nil
	}
	return *sig, true, nil
}

// PendingChanges yields change events for identifiers whose detail is
// missing or stale.
func (s *Store) PendingChanges(ctx context.Context, index, detail *schema.Target) iter.Seq2[models.ChangeEvent, error] {
	return func(yield func(models.ChangeEvent, error) bool) {
		rows, err := s.pool.Query(ctx, store.PendingChangesQuery(index, detail, ""))
		if err != nil {
			yield(models.ChangeEvent{}, fmt.Errorf("query pending changes: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ev    models.ChangeEvent
				links *string
				at    *time.Time
			)
			if err := rows.Scan(&ev.CompanyNumber, &links, &ev.IndexRowSignature, &at); err != nil {
				yield(models.ChangeEvent{}, fmt.Errorf("scan pending change: %w", err))
				return
			}
			if links != nil && *links != "" {
				ev.LinksSelf = links
			}
			if at != nil {
				ts := at.UTC().Format(models.TimestampLayout)
				ev.DateIndexed = &ts
			}
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
		q := store.ActiveEntriesQuery(index, "")
		var args []any
		if limit > 0 {
			q += " LIMIT $1"
			args = append(args, limit)
		}

		rows, err := s.pool.Query(ctx, q, args...)
		if err != nil {
			yield(models.IndexRef{}, fmt.Errorf("query active entries: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ref models.IndexRef
				sig *string
			)
			if err := rows.Scan(&ref.CompanyNumber, &ref.LinksSelf, &sig); err != nil {
				yield(models.IndexRef{}, fmt.Errorf("scan active entry: %w", err))
				return
			}
			if sig != nil {
				ref.RowSignature = *sig
			}
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
		var n int64
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+store.QuoteIdent(t.Table)).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", t.Table, err)
		}
		counts[t.Name] = int(n)
	}
	return counts, nil
}
