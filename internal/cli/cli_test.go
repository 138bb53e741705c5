package cli

import (
	"bytes"
	"errors"
	"iter"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/regsync/internal/channel"
	"github.com/kilupskalvis/regsync/internal/models"
)

func init() {
	color.NoColor = true
}

func events(evs []models.ChangeEvent, err error) iter.Seq2[models.ChangeEvent, error] {
	return func(yield func(models.ChangeEvent, error) bool) {
		for _, ev := range evs {
			if !yield(ev, nil) {
				return
			}
		}
		if err != nil {
			yield(models.ChangeEvent{}, err)
		}
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	s := models.RunSummary{Status: models.StatusPartial, Pages: 3, Inserted: 250, Skipped: 50}
	s.AddError(errors.New("batch 2: insert failed"))

	printSummary(&buf, "index", s)

	out := buf.String()
	assert.Contains(t, out, "index: partial")
	assert.Contains(t, out, "pages:     3")
	assert.Contains(t, out, "inserted:  250")
	assert.Contains(t, out, "skipped:   50")
	assert.Contains(t, out, "1 errors")
	assert.Contains(t, out, "batch 2: insert failed")
	assert.NotContains(t, out, "processed")
}

func TestPrintSummary_Failed(t *testing.T) {
	var buf bytes.Buffer
	s := models.RunSummary{}
	s.Fail(errors.New("warehouse unavailable"))

	printSummary(&buf, "details", s)

	assert.Contains(t, buf.String(), "details: error")
	assert.Contains(t, buf.String(), "warehouse unavailable")
}

func TestPrintChanges(t *testing.T) {
	indexed := "2024-05-01T10:00:00Z"
	link := "/company/SC000001"
	evs := []models.ChangeEvent{
		{CompanyNumber: "00000001", IndexRowSignature: "0123456789abcdef0123", DateIndexed: &indexed},
		{LinksSelf: &link, IndexRowSignature: "fedcba"},
		{CompanyNumber: "00000003", IndexRowSignature: "aaaa"},
	}

	t.Run("lists changes", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := printChanges(&buf, events(evs, nil), 0, false)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Contains(t, buf.String(), "changed: 00000001  indexed 2024-05-01T10:00:00Z  0123456789ab\n")
		assert.Contains(t, buf.String(), "changed: /company/SC000001  fedcba\n")
	})

	t.Run("limit", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := printChanges(&buf, events(evs, nil), 2, false)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.NotContains(t, buf.String(), "00000003")
	})

	t.Run("stat", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := printChanges(&buf, events(evs, nil), 0, true)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, " 3 companies changed\n", buf.String())
	})

	t.Run("error", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := printChanges(&buf, events(evs[:1], errors.New("query failed")), 0, false)
		assert.EqualError(t, err, "query failed")
		assert.Equal(t, 1, n)
	})
}

func TestPrintTopicStats(t *testing.T) {
	var buf bytes.Buffer
	printTopicStats(&buf, channel.Stats{Pending: 4, DeadLetter: 1})
	assert.Contains(t, buf.String(), "pending              4")
	assert.Contains(t, buf.String(), "dead-lettered        1")
}

func TestShortSig(t *testing.T) {
	assert.Equal(t, "abc", shortSig("abc"))
	assert.Equal(t, "0123456789ab", shortSig("0123456789abcdef"))
}

func TestCompletion(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"completion", "bash"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "regsync")
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"index", "details", "diff", "publish", "deliver", "status", "server", "version", "completion"} {
		assert.True(t, names[want], want)
	}
}
