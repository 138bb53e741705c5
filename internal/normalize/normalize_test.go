package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/schema"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 123456000, time.UTC)

func newTestNormalizer() *Normalizer {
	return New(testclock.NewClock(fixedNow))
}

func searchItem() models.SourceRecord {
	var rec models.SourceRecord
	data := `{
		"company_number": "01234567",
		"title": "  ACME Widgets LTD ",
		"kind": "searchresults#company",
		"company_status": "active",
		"company_type": "ltd",
		"snippet": "",
		"address_snippet": "1 High Street, London, N1 1AA",
		"address": {"address_line_1": "1 High Street", "locality": "London", "country": "England", "postal_code": "N1 1AA"},
		"links": {"self": "/company/01234567"},
		"date_of_creation": "2001-05-17",
		"rank": 3
	}`
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		panic(err)
	}
	return rec
}

func TestNormalize_CompanyIndex(t *testing.T) {
	row, err := newTestNormalizer().Normalize(schema.CompanyIndexName, searchItem(), nil)
	require.NoError(t, err)

	assert.Equal(t, "01234567", row["company_number"])
	assert.Equal(t, "1 High Street", row["address_line_1"])
	assert.Equal(t, "London", row["address_locality"])
	assert.Equal(t, "/company/01234567", row["links_self"])
	assert.Equal(t, "2001-05-17", row["date_of_creation"])
	assert.Nil(t, row["date_of_cessation"])
	assert.Equal(t, int64(3), row["rank"])
	assert.Equal(t, "2024-03-01T12:30:00.123456Z", row[models.ColumnDateIndexed])
	assert.Len(t, row.Signature(), 64)
	assert.Contains(t, row.String(models.ColumnRawJSON), `"company_number":"01234567"`)
}

func TestNormalize_UnknownTarget(t *testing.T) {
	_, err := newTestNormalizer().Normalize("bogus", searchItem(), nil)
	assert.ErrorIs(t, err, schema.ErrUnknownTarget)
}

func TestNormalize_SignatureStableAcrossCalls(t *testing.T) {
	n1 := New(testclock.NewClock(fixedNow))
	n2 := New(testclock.NewClock(fixedNow.Add(48 * time.Hour)))

	a, err := n1.Normalize(schema.CompanyIndexName, searchItem(), nil)
	require.NoError(t, err)
	b, err := n2.Normalize(schema.CompanyIndexName, searchItem(), nil)
	require.NoError(t, err)

	assert.NotEqual(t, a[models.ColumnDateIndexed], b[models.ColumnDateIndexed])
	assert.Equal(t, a.Signature(), b.Signature())
}

func TestNormalize_SignatureIgnoresNonKeyFields(t *testing.T) {
	n := newTestNormalizer()
	base, err := n.Normalize(schema.CompanyIndexName, searchItem(), nil)
	require.NoError(t, err)

	changed := searchItem()
	changed["rank"] = 99.0
	changed["date_of_creation"] = "1999-01-01"
	changed["links"] = map[string]any{"self": "/company/other"}
	other, err := n.Normalize(schema.CompanyIndexName, changed, nil)
	require.NoError(t, err)

	assert.Equal(t, base.Signature(), other.Signature())
}

func TestNormalize_SignatureCaseAndWhitespaceInsensitive(t *testing.T) {
	n := newTestNormalizer()
	base, err := n.Normalize(schema.CompanyIndexName, searchItem(), nil)
	require.NoError(t, err)

	shouty := searchItem()
	shouty["title"] = "acme widgets ltd"
	shouty["company_status"] = "  ACTIVE"
	other, err := n.Normalize(schema.CompanyIndexName, shouty, nil)
	require.NoError(t, err)

	assert.Equal(t, base.Signature(), other.Signature())
}

func TestNormalize_SignatureChangesWithKeyField(t *testing.T) {
	n := newTestNormalizer()
	base, err := n.Normalize(schema.CompanyIndexName, searchItem(), nil)
	require.NoError(t, err)

	moved := searchItem()
	moved["address"] = map[string]any{"address_line_1": "2 Low Road", "postal_code": "N1 1AA"}
	other, err := n.Normalize(schema.CompanyIndexName, moved, nil)
	require.NoError(t, err)

	assert.NotEqual(t, base.Signature(), other.Signature())
}

func TestNormalize_DetailsSignatureIncludesIndexSignature(t *testing.T) {
	n := newTestNormalizer()
	rec := models.SourceRecord{
		"company_number":    "01234567",
		"company_name":      "ACME WIDGETS LTD",
		"company_status":    "active",
		"date_of_creation":  "2001-05-17",
		"has_charges":       true,
		"sic_codes":         []any{"62012", "62020"},
		"accounts":          map[string]any{"overdue": false},
		"registered_office_address": map[string]any{
			"address_line_1": "1 High Street",
			"postal_code":    "N1 1AA",
		},
	}

	a, err := n.Normalize(schema.CompanyDetailsName, rec, map[string]any{models.ColumnIndexRowSignature: "sig-1"})
	require.NoError(t, err)
	b, err := n.Normalize(schema.CompanyDetailsName, rec, map[string]any{models.ColumnIndexRowSignature: "sig-2"})
	require.NoError(t, err)

	assert.Equal(t, "sig-1", a[models.ColumnIndexRowSignature])
	assert.NotEqual(t, a.Signature(), b.Signature())
	assert.Equal(t, "eb3dbada0769e8a8a6d249435c0c7fe58c67ab77dbfe2d692b3cbf5a5a710d6c", a.Signature())

	c, err := n.Normalize(schema.CompanyDetailsName, rec, map[string]any{models.ColumnIndexRowSignature: "sig-1"})
	require.NoError(t, err)
	assert.Equal(t, a.Signature(), c.Signature())
	assert.Equal(t, true, a["has_charges"])
	assert.Nil(t, a["has_been_liquidated"])
	assert.Equal(t, "62012,62020", a["sic_codes"])
	assert.Equal(t, `{"overdue":false}`, a["accounts_json"])
	assert.Equal(t, "1 High Street", a["registered_address_line_1"])
}

func TestNormalize_ExtraCannotOverrideSignature(t *testing.T) {
	row, err := newTestNormalizer().Normalize(schema.CompanyIndexName, searchItem(),
		map[string]any{models.ColumnRowSignature: "forged"})
	require.NoError(t, err)
	assert.NotEqual(t, "forged", row.Signature())
}

func TestNormalize_ParentNotObject(t *testing.T) {
	rec := searchItem()
	rec["address"] = "not an object"
	row, err := newTestNormalizer().Normalize(schema.CompanyIndexName, rec, nil)
	require.NoError(t, err)
	assert.Nil(t, row["address_line_1"])
}

func TestCanonicalValue(t *testing.T) {
	assert.Equal(t, "", CanonicalValue(nil))
	assert.Equal(t, "abc", CanonicalValue("  ABC "))
	assert.Equal(t, "a|b", CanonicalValue([]any{" A", "b "}))
	assert.Equal(t, "x|y", CanonicalValue([]string{"X", "Y"}))
	assert.Equal(t, "42", CanonicalValue(int64(42)))
	assert.Equal(t, "true", CanonicalValue(true))
}

func TestSignature_KnownDigest(t *testing.T) {
	rec := models.SourceRecord{
		"company_number": "01234567",
		"title":          " ACME Ltd ",
		"kind":           "searchresults#company",
		"address":        map[string]any{"locality": "London"},
	}
	row, err := newTestNormalizer().Normalize(schema.CompanyIndexName, rec, nil)
	require.NoError(t, err)
	assert.Equal(t, "7c922ad2d0b3cd56639f07c78752d03e8b1d5ea4afdc5588eff846f5dc731ce6", row.Signature())
}

func TestSignature_CanonicalizesValues(t *testing.T) {
	target := &schema.Target{SignatureKeys: []schema.Field{{Column: "a"}, {Column: "b"}}}
	got := Signature(target, models.Row{"a": "X"})
	assert.Equal(t, Signature(target, models.Row{"a": " x ", "b": nil}), got)
	assert.NotEqual(t, Signature(target, models.Row{"b": "x"}), got)

	withRef := &schema.Target{SignatureKeys: target.SignatureKeys, SignatureRefs: []string{"ref"}}
	assert.NotEqual(t, Signature(withRef, models.Row{"a": "X", "ref": "r1"}), Signature(withRef, models.Row{"a": "X", "ref": "r2"}))
}

func TestParseDate(t *testing.T) {
	assert.Equal(t, "2020-01-02", ParseDate("2020-01-02"))
	assert.Equal(t, "2020-01-02", ParseDate("2020-01-02T10:00:00Z"))
	assert.Equal(t, "2020-02-01", ParseDate("02/01/2020"))
	assert.Equal(t, "2020-01-13", ParseDate("13/01/2020"))
	assert.Equal(t, "2020-01-02", ParseDate("2 January 2020"))
	assert.Nil(t, ParseDate(""))
	assert.Nil(t, ParseDate("not a date"))
}

func TestNormalize_DecodedNumbers(t *testing.T) {
	var rec models.SourceRecord
	require.NoError(t, models.DecodeJSON([]byte(`{
		"company_number": "01234567",
		"title": "Big & Small <Ltd>",
		"rank": 9007199254740993
	}`), &rec))

	row, err := newTestNormalizer().Normalize(schema.CompanyIndexName, rec, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), row["rank"])
	assert.Contains(t, row[models.ColumnRawJSON], `"rank":9007199254740993`)
	assert.Contains(t, row[models.ColumnRawJSON], `"title":"Big & Small <Ltd>"`)
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, int64(7), coerce(schema.Int, "7"))
	assert.Nil(t, coerce(schema.Int, "seven"))
	assert.Equal(t, false, coerce(schema.Bool, "false"))
	assert.Nil(t, coerce(schema.Bool, 3.0))
	assert.Nil(t, coerce(schema.Date, 20200101.0))
	assert.Equal(t, "12", coerce(schema.String, 12.0))
	assert.Equal(t, "12.50", coerce(schema.String, json.Number("12.50")))
	assert.Equal(t, int64(7), coerce(schema.Int, json.Number("7")))
	assert.Equal(t, "true", coerce(schema.String, true))
	assert.Equal(t, `[{"a":1}]`, coerce(schema.String, []any{map[string]any{"a": 1.0}}))
}
