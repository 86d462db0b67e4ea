package cmd

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
	"github.com/Aman-CERP/urlindex/internal/store"
)

// withSources configures saved and history collection files.
func withSources(t *testing.T, env *testEnv, saved, history string) {
	t.Helper()
	savedPath := env.writeFile(t, "saved.json", saved)
	historyPath := env.writeFile(t, "history.json", history)
	env.writeUserConfig(t, fmt.Sprintf("sources:\n  saved: %s\n  history: %s\n", savedPath, historyPath))
}

func statsJSON(t *testing.T, env *testEnv) store.Stats {
	t.Helper()
	out, err := env.run(t, "stats", "--json")
	require.NoError(t, err)
	var stats store.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	return stats
}

func TestReindex_OneCategory(t *testing.T) {
	// Given: a saved collection with two entities
	env := newTestEnv(t)
	withSources(t, env,
		`[{"id": "R1", "url": "https://domain.com/api?a=b&c=d"}, {"id": "R2", "url": "https://domain.com/"}]`,
		`[]`)

	// When: reindexing it
	out, err := env.run(t, "reindex", "saved")

	// Then: both are indexed under the category type
	require.NoError(t, err)
	assert.Contains(t, out, "Reindexed saved: 2 entities")
	stats := statsJSON(t, env)
	assert.Equal(t, map[string]int{"saved": 11}, stats.RowsByType)
	assert.Equal(t, 2, stats.RequestIDs)
}

func TestReindex_All(t *testing.T) {
	env := newTestEnv(t)
	withSources(t, env,
		`[{"id": "R1", "url": "https://x.com/a"}]`,
		`[{"id": "H1", "url": "https://x.com/b"}, {"id": "H2", "url": "https://x.com/c"}]`)

	out, err := env.run(t, "reindex", "--all")

	require.NoError(t, err)
	assert.Contains(t, out, "Reindexed history: 2 entities")
	assert.Contains(t, out, "Reindexed saved: 1 entity")
	assert.Equal(t, map[string]int{"history": 6, "saved": 3}, statsJSON(t, env).RowsByType)
}

func TestReindex_AllWithoutSources(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "reindex", "--all")

	require.NoError(t, err)
	assert.Contains(t, out, "No sources configured")
}

func TestReindex_UnknownCategory(t *testing.T) {
	env := newTestEnv(t)
	withSources(t, env, `[]`, `[]`)

	_, err := env.run(t, "reindex", "archive")

	require.Error(t, err)
	assert.Equal(t, uierrors.ErrCodeUnknownCategory, uierrors.GetCode(err))
	assert.Contains(t, uierrors.FormatForCLI(err), "history, saved")
}

func TestReindex_InvalidCollection(t *testing.T) {
	env := newTestEnv(t)
	withSources(t, env, `{"broken": true}`, `[]`)

	_, err := env.run(t, "reindex", "saved")

	require.Error(t, err)
	assert.Equal(t, uierrors.ErrCodeIndexFailed, uierrors.GetCode(err))
}

func TestReindex_ArgsAndAllConflict(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "reindex", "saved", "--all")

	assert.Error(t, err)
}
