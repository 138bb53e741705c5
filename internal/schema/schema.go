// Package schema declares the warehouse targets: their columns, how each
// column is resolved from a registry record, and which columns feed the row
// signature.
package schema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kilupskalvis/regsync/internal/models"
)

// ErrUnknownTarget is returned when a target name has no registered schema.
var ErrUnknownTarget = errors.New("unknown target")

// Kind is the warehouse value kind of a column.
type Kind int

const (
	String Kind = iota
	Int
	Bool
	Date
	Timestamp
	// JSON columns hold objects or arrays serialized to a compact string.
	JSON
)

// SQLType returns the BigQuery-style type name used in schema listings.
func (k Kind) SQLType() string {
	switch k {
	case Int:
		return "INT64"
	case Bool:
		return "BOOL"
	case Date:
		return "DATE"
	case Timestamp:
		return "TIMESTAMP"
	default:
		return "STRING"
	}
}

// Field maps one output column to a value in the source record.
type Field struct {
	Column string
	Path   string // key in the record, or in Parent when set
	Parent string // optional enclosing object
	Kind   Kind
}

// Column is a column that is not resolved from the source record.
type Column struct {
	Name string
	Kind Kind
}

// Target is a named warehouse collection.
type Target struct {
	Name          string
	Table         string
	Identifier    string // natural identifier column
	Fields        []Field
	SignatureKeys []Field
	// SignatureRefs names pipeline-attached columns that are hashed after
	// the signature keys.
	SignatureRefs []string
	// Extra lists columns attached by the pipeline rather than the record.
	Extra []Column
}

// Columns returns every column of the target in table order.
func (t *Target) Columns() []Column {
	cols := make([]Column, 0, len(t.Fields)+len(t.Extra))
	for _, f := range t.Fields {
		cols = append(cols, Column{Name: f.Column, Kind: f.Kind})
	}
	return append(cols, t.Extra...)
}

// HasColumn reports whether name is a column of the target.
func (t *Target) HasColumn(name string) bool {
	for _, c := range t.Columns() {
		if c.Name == name {
			return true
		}
	}
	return false
}

// IsPartitioned reports whether the target is partitioned by indexing time.
func (t *Target) IsPartitioned() bool {
	return t.HasColumn(models.ColumnDateIndexed)
}

var targets = map[string]*Target{
	CompanyIndex.Name:   CompanyIndex,
	CompanyDetails.Name: CompanyDetails,
}

// Lookup returns the target registered under name.
func Lookup(name string) (*Target, error) {
	t, ok := targets[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (valid: %v)", ErrUnknownTarget, name, Names())
	}
	return t, nil
}

// Names returns the registered target names, sorted.
func Names() []string {
	names := make([]string, 0, len(targets))
	for n := range targets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// baseColumns are appended to every target.
var baseColumns = []Column{
	{Name: models.ColumnDateIndexed, Kind: Timestamp},
	{Name: models.ColumnRawJSON, Kind: String},
	{Name: models.ColumnRowSignature, Kind: String},
}
