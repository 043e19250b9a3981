package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeplath/LOKIV2/internal/telemetry"
)

func TestHistory_RecordsQueries(t *testing.T) {
	// Given: a built library
	work := isolate(t)
	seedRecords(t, filepath.Join(work, "loki_data"))
	_, err := execute(t, "build", "--provider", "static", "--no-tui")
	require.NoError(t, err)

	// When: two queries are recorded and one is not
	_, err = execute(t, "query", "Cool a burn under clean running water")
	require.NoError(t, err)
	_, err = execute(t, "query", "zebra stripes on the savanna", "--min-score", "0.999")
	require.NoError(t, err)
	_, err = execute(t, "query", "private question", "--no-history")
	require.NoError(t, err)

	// Then: the history counts the recorded ones and lists the unanswered one
	out, err := execute(t, "history", "--json")
	require.NoError(t, err)

	var sum telemetry.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, int64(2), sum.TotalQueries)
	assert.Equal(t, int64(1), sum.ZeroResultCount)
	assert.Equal(t, []string{"zebra stripes on the savanna"}, sum.ZeroResultQueries)
	for _, tc := range sum.TopTerms {
		assert.NotEqual(t, "private", tc.Term)
	}

	text, err := execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, text, "2 queries, 1 without results")
	assert.Contains(t, text, `"zebra stripes on the savanna"`)
}

func TestHistory_Empty(t *testing.T) {
	isolate(t)

	out, err := execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No queries recorded yet")

	out, err = execute(t, "history", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"top_terms": []`)
}

func TestHistory_Clear(t *testing.T) {
	work := isolate(t)
	seedRecords(t, filepath.Join(work, "loki_data"))
	_, err := execute(t, "build", "--provider", "static", "--no-tui")
	require.NoError(t, err)
	_, err = execute(t, "query", "tinder")
	require.NoError(t, err)

	out, err := execute(t, "history", "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Query history cleared")

	out, err = execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No queries recorded yet")
}
