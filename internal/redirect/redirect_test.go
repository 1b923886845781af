package redirect

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestLoadAndLookup(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, `
/old-page:
  target: /new-page
/gone:
  target: https://example.com/
  code: 301
`)
	tbl, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())

	r, ok := tbl.Lookup("/old-page")
	require.True(t, ok)
	assert.Equal(t, "/new-page", r.Target)
	assert.Equal(t, http.StatusFound, r.Code)

	r, ok = tbl.Lookup("/gone")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/", r.Target)
	assert.Equal(t, http.StatusMovedPermanently, r.Code)

	_, ok = tbl.Lookup("/other")
	assert.False(t, ok)
}

func TestLoadMissingFileYieldsEmptyTable(t *testing.T) {
	tbl, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
}

func TestLoadWithoutDataScope(t *testing.T) {
	tbl, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
}

func TestReloadKeepsTableOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "/a:\n  target: /b\n")
	tbl, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())

	writeRules(t, dir, ":::: not yaml")
	assert.Error(t, tbl.Reload(dir))
	assert.Equal(t, 1, tbl.Len())
	_, ok := tbl.Lookup("/a")
	assert.True(t, ok)
}
