package weaviate

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/schema"
	"github.com/kilupskalvis/regsync/internal/store"
)

// Warehouse stores targets as Weaviate classes. Joins and ordering are done
// client-side over full class scans.
type Warehouse struct {
	client    ClientInterface
	useCursor bool
}

var _ store.Warehouse = (*Warehouse)(nil)

// NewWarehouse wraps client, probing the server version to pick the
// pagination method.
func NewWarehouse(ctx context.Context, client ClientInterface) (*Warehouse, error) {
	v, err := client.GetServerVersion(ctx)
	if err != nil {
		return nil, err
	}
	return &Warehouse{client: client, useCursor: v.SupportsFeature("cursor_pagination")}, nil
}

// ClassName maps a table name like "company_index" to "CompanyIndex".
func ClassName(table string) string {
	var b strings.Builder
	for _, part := range strings.Split(table, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

func dataType(k schema.Kind) string {
	switch k {
	case schema.Int:
		return "int"
	case schema.Bool:
		return "boolean"
	case schema.Timestamp:
		return "date"
	default:
		return "text"
	}
}

// ClassFor builds the class definition of a target.
func ClassFor(t *schema.Target) *Class {
	cols := t.Columns()
	class := &Class{Name: ClassName(t.Table), Description: t.Name, Properties: make([]Property, len(cols))}
	for i, c := range cols {
		p := Property{Name: c.Name, DataType: []string{dataType(c.Kind)}}
		if p.DataType[0] == "text" {
			p.Tokenization = "field"
		}
		class.Properties[i] = p
	}
	return class
}

func (w *Warehouse) Ping(ctx context.Context) error { return w.client.Ping(ctx) }

func (w *Warehouse) Close() error { return nil }

// EnsureTable creates the target's class if it is missing.
func (w *Warehouse) EnsureTable(ctx context.Context, t *schema.Target) error {
	classes, err := w.client.GetClasses(ctx)
	if err != nil {
		return &store.SchemaError{Target: t.Name, Err: err}
	}
	name := ClassName(t.Table)
	if slices.Contains(classes, name) {
		return nil
	}
	if err := w.client.CreateClass(ctx, ClassFor(t)); err != nil {
		return &store.SchemaError{Target: t.Name, Err: err}
	}
	return nil
}

// ExistingSignatures returns which of signatures are already stored.
func (w *Warehouse) ExistingSignatures(ctx context.Context, t *schema.Target, signatures []string) (map[string]bool, error) {
	found := make(map[string]bool)
	objs, err := w.client.FindByProperty(ctx, ClassName(t.Table), models.ColumnRowSignature, signatures,
		[]string{models.ColumnRowSignature})
	if err != nil {
		return nil, err
	}
	for _, o := range objs {
		if sig, ok := o.Properties[models.ColumnRowSignature].(string); ok {
			found[sig] = true
		}
	}
	return found, nil
}

// InsertRows writes rows as one object batch. Nil values are omitted.
func (w *Warehouse) InsertRows(ctx context.Context, t *schema.Target, rows []models.Row) error {
	class := ClassName(t.Table)
	objs := make([]*Object, len(rows))
	for i, row := range rows {
		props := make(map[string]any, len(row))
		for _, c := range t.Columns() {
			if v, ok := row[c.Name]; ok && v != nil {
				props[c.Name] = v
			}
		}
		objs[i] = &Object{Class: class, Properties: props}
	}
	return w.client.CreateObjects(ctx, objs)
}

// DetailSignature returns the index signature of the newest detail object
// whose company number or self link equals identifier.
func (w *Warehouse) DetailSignature(ctx context.Context, detail *schema.Target, identifier string) (string, bool, error) {
	fields := []string{models.ColumnIndexRowSignature, models.ColumnDateIndexed}
	class := ClassName(detail.Table)

	var matches []*Object
	for _, prop := range []string{detail.Identifier, schema.ColumnLinksSelf} {
		objs, err := w.client.FindByProperty(ctx, class, prop, []string{identifier}, fields)
		if err != nil {
			return "", false, fmt.Errorf("lookup detail signature for %s: %w", identifier, err)
		}
		matches = append(matches, objs...)
	}
	if len(matches) == 0 {
		return "", false, nil
	}

	latest := slices.MaxFunc(matches, func(a, b *Object) int {
		return indexedAt(a).Compare(indexedAt(b))
	})
	sig, _ := latest.Properties[models.ColumnIndexRowSignature].(string)
	return sig, true, nil
}

type indexEntry struct {
	number, links, sig, status string
	at                         time.Time
}

// latestIndex returns the newest object per company number, newest first.
func (w *Warehouse) latestIndex(ctx context.Context, index *schema.Target) ([]indexEntry, error) {
	objs, err := w.client.GetAllObjects(ctx, ClassName(index.Table), w.useCursor)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]indexEntry)
	for _, o := range objs {
		e := indexEntry{
			number: str(o, index.Identifier),
			links:  str(o, schema.ColumnLinksSelf),
			sig:    str(o, models.ColumnRowSignature),
			status: str(o, schema.ColumnCompanyStatus),
			at:     indexedAt(o),
		}
		if e.number == "" {
			continue
		}
		if cur, ok := latest[e.number]; !ok || e.at.After(cur.at) {
			latest[e.number] = e
		}
	}

	entries := make([]indexEntry, 0, len(latest))
	for _, e := range latest {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b indexEntry) int {
		if c := b.at.Compare(a.at); c != 0 {
			return c
		}
		return cmp.Compare(a.number, b.number)
	})
	return entries, nil
}

// PendingChanges yields change events for identifiers whose detail is
// missing or stale.
func (w *Warehouse) PendingChanges(ctx context.Context, index, detail *schema.Target) iter.Seq2[models.ChangeEvent, error] {
	return func(yield func(models.ChangeEvent, error) bool) {
		entries, err := w.latestIndex(ctx, index)
		if err != nil {
			yield(models.ChangeEvent{}, fmt.Errorf("scan index: %w", err))
			return
		}
		details, err := w.client.GetAllObjects(ctx, ClassName(detail.Table), w.useCursor)
		if err != nil {
			yield(models.ChangeEvent{}, fmt.Errorf("scan details: %w", err))
			return
		}

		current := make(map[[2]string]bool, len(details))
		for _, o := range details {
			current[[2]string{str(o, detail.Identifier), str(o, models.ColumnIndexRowSignature)}] = true
		}

		for _, e := range entries {
			if current[[2]string{e.number, e.sig}] {
				continue
			}
			ev := models.ChangeEvent{CompanyNumber: e.number, IndexRowSignature: e.sig}
			if e.links != "" {
				links := e.links
				ev.LinksSelf = &links
			}
			if !e.at.IsZero() {
				at := e.at.UTC().Format(models.TimestampLayout)
				ev.DateIndexed = &at
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// ActiveEntries yields active index entries, newest first.
func (w *Warehouse) ActiveEntries(ctx context.Context, index *schema.Target, limit int) iter.Seq2[models.IndexRef, error] {
	return func(yield func(models.IndexRef, error) bool) {
		entries, err := w.latestIndex(ctx, index)
		if err != nil {
			yield(models.IndexRef{}, fmt.Errorf("scan index: %w", err))
			return
		}
		n := 0
		for _, e := range entries {
			if e.status != "active" || e.links == "" {
				continue
			}
			if limit > 0 && n >= limit {
				return
			}
			n++
			if !yield(models.IndexRef{CompanyNumber: e.number, LinksSelf: e.links, RowSignature: e.sig}, nil) {
				return
			}
		}
	}
}

// Counts returns the object count of each target, creating missing classes.
func (w *Warehouse) Counts(ctx context.Context, targets ...*schema.Target) (map[string]int, error) {
	counts := make(map[string]int, len(targets))
	for _, t := range targets {
		if err := w.EnsureTable(ctx, t); err != nil {
			return nil, err
		}
		n, err := w.client.GetClassCount(ctx, ClassName(t.Table))
		if err != nil {
			return nil, err
		}
		counts[t.Name] = n
	}
	return counts, nil
}

func str(o *Object, prop string) string {
	s, _ := o.Properties[prop].(string)
	return s
}

// indexedAt parses date_indexed, which Weaviate may return with reduced
// fractional precision.
func indexedAt(o *Object) time.Time {
	t, err := time.Parse(time.RFC3339Nano, str(o, models.ColumnDateIndexed))
	if err != nil {
		return time.Time{}
	}
	return t
}
