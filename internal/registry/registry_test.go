package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datasets.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, `
[datasets.sales]
path = "data/sales.csv"
type = "timeseries"
date_column = "date"
value_column = "revenue"

[datasets.inventory]
path = "data/inventory.json"
`)

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"inventory", "sales"}, r.Names())

	e, err := r.Resolve("sales")
	require.NoError(t, err)
	assert.Equal(t, "sales", e.Name)
	assert.Equal(t, "data/sales.csv", e.Path)
	assert.Equal(t, TypeTimeseries, e.Type)
	assert.Equal(t, "date", e.DateColumn)
	assert.Equal(t, "revenue", e.ValueColumn)

	e, err = r.Resolve("inventory")
	require.NoError(t, err)
	assert.Empty(t, e.Type)
	assert.Empty(t, e.DateColumn)
}

func TestLoadMissingCatalogIsEmpty(t *testing.T) {
	t.Parallel()

	r, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())

	_, err = r.Resolve("sales")
	assert.ErrorIs(t, err, ErrUnknownDataset)
}

func TestLoadEmptyPathIsEmpty(t *testing.T) {
	t.Parallel()

	r, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestLoadRejectsInvalidTOML(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, "not [valid toml")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse dataset catalog")
}

func TestLoadRejectsMissingPath(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, `
[datasets.sales]
type = "timeseries"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestLoadRejectsUnknownType(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, `
[datasets.sales]
path = "data/sales.csv"
type = "weekly"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown analysis type "weekly"`)
}

func TestResolveUnknownListsKnownNames(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, `
[datasets.sales]
path = "data/sales.csv"

[datasets.churn]
path = "data/churn.csv"
`)
	r, err := Load(path)
	require.NoError(t, err)

	_, err = r.Resolve("orders")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDataset)
	assert.Contains(t, err.Error(), "churn, sales")
}

func TestResolveSource(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, `
[datasets.sales]
path = "data/sales.csv"
type = "comprehensive"
`)
	r, err := Load(path)
	require.NoError(t, err)

	// A catalog name resolves through the catalog.
	e, err := r.ResolveSource("sales")
	require.NoError(t, err)
	assert.Equal(t, "data/sales.csv", e.Path)
	assert.Equal(t, TypeComprehensive, e.Type)

	// Anything path-shaped is used as-is.
	e, err = r.ResolveSource("exports/q3.csv")
	require.NoError(t, err)
	assert.Equal(t, "exports/q3.csv", e.Path)
	assert.Empty(t, e.Name)

	e, err = r.ResolveSource("q3.json")
	require.NoError(t, err)
	assert.Equal(t, "q3.json", e.Path)

	e, err = r.ResolveSource("./q3")
	require.NoError(t, err)
	assert.Equal(t, "./q3", e.Path)

	_, err = r.ResolveSource("orders")
	assert.ErrorIs(t, err, ErrUnknownDataset)
}

func TestEntriesOrdered(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, `
[datasets.zeta]
path = "z.csv"

[datasets.alpha]
path = "a.csv"
`)
	r, err := Load(path)
	require.NoError(t, err)

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].Name)
	assert.Equal(t, "zeta", entries[1].Name)
}
