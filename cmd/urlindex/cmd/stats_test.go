package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_Text(t *testing.T) {
	// Given: entities of two categories
	env := newTestEnv(t)
	seed(t, env)

	// When: showing stats
	out, err := env.run(t, "stats")

	// Then: totals and per-category counts are listed
	require.NoError(t, err)
	assert.Contains(t, out, "backend:  pebble")
	assert.Contains(t, out, "rows:     12")
	assert.Contains(t, out, "entities: 3")
	assert.Contains(t, out, "history: 6")
	assert.Contains(t, out, "saved:   6")
}

func TestStats_EmptyIndex(t *testing.T) {
	env := newTestEnv(t)

	stats := statsJSON(t, env)

	assert.Equal(t, 0, stats.Rows)
	assert.Equal(t, "pebble", stats.Backend)
}

func TestStats_Metrics(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)

	out, err := env.run(t, "stats", "--metrics")

	require.NoError(t, err)
	assert.Contains(t, out, "urlindex_indexer_queries")
	assert.Contains(t, out, "urlindex_pebble_disk_space_usage_bytes")
}

func TestStats_OtherBackends(t *testing.T) {
	for _, backend := range []string{"sqlite", "bleve"} {
		t.Run(backend, func(t *testing.T) {
			// Given: entities indexed into a non-default backend
			env := newTestEnv(t)
			_, err := env.run(t, "--backend", backend, "index", "R1", "https://x.com/a")
			require.NoError(t, err)

			// When: querying through the same backend
			out, err := env.run(t, "--backend", backend, "stats", "--json")
			require.NoError(t, err)

			// Then: the rows are there and no engine metrics are required
			assert.Contains(t, out, `"backend": "`+backend+`"`)
			assert.Contains(t, out, `"rows": 3`)

			out, err = env.run(t, "--backend", backend, "search", "x.com/a")
			require.NoError(t, err)
			assert.Contains(t, out, "R1")
		})
	}
}
