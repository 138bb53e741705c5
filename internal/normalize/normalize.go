// Package normalize flattens registry records into warehouse rows and computes
// their content signatures.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/schema"
)

// signatureSeparator joins canonical values before hashing.
const signatureSeparator = "||"

// Normalizer turns SourceRecords into Rows. It is safe for concurrent use.
type Normalizer struct {
	clock clock.Clock
}

// New creates a Normalizer reading the indexing time from clk.
func New(clk clock.Clock) *Normalizer {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Normalizer{clock: clk}
}

// Normalize flattens rec according to the named target's field map and
// attaches extra. Extra values feed the signature only when the target lists
// them in SignatureRefs; row_signature itself cannot be supplied.
func (n *Normalizer) Normalize(targetName string, rec models.SourceRecord, extra map[string]any) (models.Row, error) {
	target, err := schema.Lookup(targetName)
	if err != nil {
		return nil, err
	}

	row := make(models.Row, len(target.Fields)+len(target.Extra))
	for _, f := range target.Fields {
		row[f.Column] = coerce(f.Kind, rec.Lookup(f.Path, f.Parent))
	}

	raw, err := rec.RawJSON()
	if err != nil {
		return nil, err
	}
	row[models.ColumnRawJSON] = raw
	row[models.ColumnDateIndexed] = n.clock.Now().UTC().Format(models.TimestampLayout)

	for k, v := range extra {
		if k == models.ColumnRowSignature {
			continue
		}
		row[k] = v
	}
	row[models.ColumnRowSignature] = Signature(target, row)
	return row, nil
}

// Signature hashes the target's signature keys of row, followed by its
// signature refs.
func Signature(target *schema.Target, row models.Row) string {
	parts := make([]string, 0, len(target.SignatureKeys)+len(target.SignatureRefs))
	for _, f := range target.SignatureKeys {
		parts = append(parts, CanonicalValue(row[f.Column]))
	}
	for _, col := range target.SignatureRefs {
		parts = append(parts, CanonicalValue(row[col]))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, signatureSeparator)))
	return hex.EncodeToString(sum[:])
}

// CanonicalValue renders v as the lower-cased, trimmed string used for
// hashing. Nil is the empty string and lists are pipe-joined.
func CanonicalValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = CanonicalValue(e)
		}
		return strings.Join(parts, "|")
	case []string:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = strings.ToLower(strings.TrimSpace(e))
		}
		return strings.Join(parts, "|")
	default:
		return strings.ToLower(strings.TrimSpace(scalarString(x)))
	}
}

// coerce converts a raw JSON value into a warehouse scalar of kind k.
func coerce(k schema.Kind, v any) any {
	if v == nil {
		return nil
	}
	switch k {
	case schema.Date:
		s, ok := v.(string)
		if !ok {
			return nil
		}
		return ParseDate(s)
	case schema.Int:
		return toInt(v)
	case schema.Bool:
		return toBool(v)
	case schema.JSON:
		return compactJSON(v)
	default:
		return flatten(v)
	}
}

// flatten keeps scalars, joins arrays of scalars with commas and serializes
// anything else as compact JSON.
func flatten(v any) any {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			switch e.(type) {
			case map[string]any, []any:
				return compactJSON(x)
			}
			parts = append(parts, scalarString(e))
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return compactJSON(x)
	default:
		return scalarString(x)
	}
}

func compactJSON(v any) any {
	s, err := models.MarshalCompact(v)
	if err != nil {
		return nil
	}
	return s
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func toInt(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, err := x.Float64()
		if err != nil {
			return nil
		}
		return int64(f)
	case float64:
		return int64(x)
	case int64:
		return x
	case int:
		return int64(x)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil
		}
		return i
	default:
		return nil
	}
}

func toBool(v any) any {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		return b
	default:
		return nil
	}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	models.DateLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	// Slashed dates are month first; day first only when that cannot be a month.
	"01/02/2006",
	"02/01/2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
}

// ParseDate parses raw into an ISO-8601 calendar date. Unparsable or empty
// input yields nil.
func ParseDate(raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(models.DateLayout)
		}
	}
	return nil
}
