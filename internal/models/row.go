package models

import (
	"fmt"
	"time"
)

// Columns every normalized row carries regardless of target.
const (
	ColumnRowSignature      = "row_signature"
	ColumnDateIndexed       = "date_indexed"
	ColumnRawJSON           = "raw_json"
	ColumnIndexRowSignature = "index_row_signature"
)

// TimestampLayout is the fixed-precision UTC layout used for date_indexed.
// Fixed precision keeps lexical order equal to chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// DateLayout is the ISO-8601 calendar date layout used for date columns.
const DateLayout = "2006-01-02"

// Row is a flattened warehouse row. Values are nil, string, int64, bool or
// float64. Rows are built once by the normalizer and never mutated afterwards.
type Row map[string]any

// Signature returns the row's content signature.
func (r Row) Signature() string {
	return r.String(ColumnRowSignature)
}

// String returns the value of col as a string. Nil and missing values are "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// NullableString returns the value of col, or nil when it is absent or empty.
func (r Row) NullableString(col string) *string {
	s := r.String(col)
	if s == "" {
		return nil
	}
	return &s
}

// IndexedAt parses the row's date_indexed column.
func (r Row) IndexedAt() (time.Time, bool) {
	s := r.String(ColumnDateIndexed)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IndexRef identifies an index entry by its natural identifier.
type IndexRef struct {
	CompanyNumber string
	LinksSelf     string
	RowSignature  string
}
