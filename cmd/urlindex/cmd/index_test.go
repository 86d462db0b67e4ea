package cmd

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
)

func searchJSON(t *testing.T, env *testEnv, term string) searchResult {
	t.Helper()
	out, err := env.run(t, "search", term, "--format", "json")
	require.NoError(t, err)
	var res searchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	return res
}

func TestIndexThenSearch(t *testing.T) {
	// Given: one indexed entity
	env := newTestEnv(t)
	out, err := env.run(t, "index", "R1", "https://domain.com/api?a=b&c=d")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 1 entity")
	assert.Contains(t, out, "8 fragments")

	// When: searching by a parameter value in upper case
	out, err = env.run(t, "search", "D")

	// Then: the entity is found
	require.NoError(t, err)
	assert.Contains(t, out, `1 match for "D"`)
	assert.Contains(t, out, "R1")
}

func TestSearch_JSONFormat(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "index", "R1", "https://domain.com/api?a=b")
	require.NoError(t, err)
	_, err = env.run(t, "index", "R2", "https://domain.com/health", "--type", "history")
	require.NoError(t, err)

	res := searchJSON(t, env, "domain.com/")

	assert.Equal(t, "domain.com/", res.Term)
	assert.Equal(t, 2, res.Count)
	assert.ElementsMatch(t, []string{"R1", "R2"}, res.RequestIDs)
}

func TestSearch_NoMatches(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "search", "nothing")
	require.NoError(t, err)
	assert.Contains(t, out, `No matches for "nothing"`)

	res := searchJSON(t, env, "nothing")
	assert.Equal(t, 0, res.Count)
	assert.NotNil(t, res.RequestIDs)
}

func TestSearch_Limit(t *testing.T) {
	// Given: three entities sharing a host
	env := newTestEnv(t)
	for _, id := range []string{"R1", "R2", "R3"} {
		_, err := env.run(t, "index", id, "https://domain.com/"+id)
		require.NoError(t, err)
	}

	// When: limiting the output to one id
	out, err := env.run(t, "search", "domain.com", "--limit", "1")

	// Then: the total is reported with the remainder
	require.NoError(t, err)
	assert.Contains(t, out, "3 matches")
	assert.Contains(t, out, "... 2 more")

	res := searchJSON(t, env, "domain.com")
	assert.Equal(t, 3, res.Count)
}

func TestSearch_UnknownFormat(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "search", "x", "--format", "xml")

	require.Error(t, err)
	assert.Equal(t, uierrors.ErrCodeInvalidInput, uierrors.GetCode(err))
}

func TestSearch_JSONErrorIsReported(t *testing.T) {
	// Given: a data directory path that is a regular file
	env := newTestEnv(t)
	env.dataDir = env.writeFile(t, "not-a-dir", "x")

	// When: searching with JSON output
	out, err := env.run(t, "search", "x", "--format", "json")

	// Then: the error is printed as JSON and marked as reported
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReported))
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Contains(t, body, "code")
}

func TestIndex_ReindexSameEntityConverges(t *testing.T) {
	// Given: an entity indexed under one URL
	env := newTestEnv(t)
	_, err := env.run(t, "index", "R1", "https://old.example.com/a")
	require.NoError(t, err)

	// When: it is indexed again under a new URL
	_, err = env.run(t, "index", "R1", "https://new.example.com/a")
	require.NoError(t, err)

	// Then: only the new URL matches
	assert.Equal(t, 0, searchJSON(t, env, "old.example.com").Count)
	assert.Equal(t, []string{"R1"}, searchJSON(t, env, "new.example.com").RequestIDs)
}

func TestIndex_FromFile(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeFile(t, "batch.json", `[
		{"id": "R1", "url": "https://x.com/a"},
		{"id": "R2", "url": "https://x.com/b", "type": "history"}
	]`)

	out, err := env.run(t, "index", "--file", path)

	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 2 entities")
	assert.Equal(t, 2, searchJSON(t, env, "x.com").Count)
}

func TestIndex_MissingFile(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "index", "--file", "/does/not/exist.json")

	require.Error(t, err)
	assert.Equal(t, uierrors.ErrCodeInvalidInput, uierrors.GetCode(err))
}

func TestIndex_RejectsArgsWithFile(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeFile(t, "batch.json", `[]`)

	_, err := env.run(t, "index", "R1", "--file", path)

	assert.Error(t, err)
}

func TestIndex_EmptyID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "index", " ", "https://x.com")

	require.Error(t, err)
	assert.Equal(t, uierrors.ErrCodeInvalidInput, uierrors.GetCode(err))
}

func TestIndex_MalformedURLIndexesNothing(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "index", "R1", "not a url")

	require.NoError(t, err)
	assert.Contains(t, out, "0 fragments")
}

func TestFragments_Text(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "fragments", "https://Domain.com/api?a=b")

	require.NoError(t, err)
	assert.Contains(t, out, "6 fragments")
	assert.Contains(t, out, "domain.com/api?a=b")
}

func TestFragments_JSON(t *testing.T) {
	// Given: a URL with one parameter
	env := newTestEnv(t)

	// When: listing its fragments as JSON
	out, err := env.run(t, "fragments", "https://domain.com/api?a=b", "--json")
	require.NoError(t, err)

	// Then: only the first carries the full-URL flag
	var rows []fragmentJSON
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 6)
	assert.Equal(t, fragmentJSON{Value: "https://domain.com/api?a=b", Kind: "full", FullURL: 1}, rows[0])
	for _, r := range rows[1:] {
		assert.Equal(t, 0, r.FullURL)
	}
}

func TestFragments_Malformed(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "fragments", "::")

	require.NoError(t, err)
	assert.Contains(t, out, "nothing would be indexed")
}
