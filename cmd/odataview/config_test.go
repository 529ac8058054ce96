package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odataview/common"
)

const testConfig = `
url: http://localhost:8080/odata
table: Products
orderby: Name desc, Id
select: [Id, Name]
entity_sets:
  - name: Products
    keys: [Id]
    seed: products.json
    properties:
      - {name: Id, type: number}
      - {name: Name, type: string}
`

func writeConfig(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "odataview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	v, err := loadConfig(writeConfig(t))
	require.NoError(t, err)
	assert.Equal(t, ":8080", v.GetString(cfgKeyAddr))
	assert.Equal(t, "Products", v.GetString(cfgKeyTable))

	sets, err := entitySets(v)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, "Products", sets[0].Name)
	assert.Equal(t, []string{"Id"}, sets[0].Keys)
	assert.Equal(t, "products.json", sets[0].Seed)
	require.Len(t, sets[0].Properties, 2)
	assert.NoError(t, sets[0].Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	v, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/odata", v.GetString(cfgKeyBasePath))
	assert.Equal(t, 1, v.GetInt(cfgKeyRetries))
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("ODATAVIEW_MAX_PAGE_SIZE", "25")
	v, err := loadConfig(writeConfig(t))
	require.NoError(t, err)
	assert.Equal(t, 25, v.GetInt(cfgKeyMaxPageSize))
}

func TestParseOrderBy(t *testing.T) {
	sds, err := parseOrderBy("Name desc, Price,Id ASC")
	require.NoError(t, err)
	assert.Equal(t, []common.SortDescription{
		{Property: "Name", Ascending: false},
		{Property: "Price", Ascending: true},
		{Property: "Id", Ascending: true},
	}, sds)

	sds, err = parseOrderBy("")
	require.NoError(t, err)
	assert.Empty(t, sds)

	_, err = parseOrderBy("Name sideways")
	assert.Error(t, err)
	_, err = parseOrderBy("Name asc desc")
	assert.Error(t, err)
}

func TestViewConfig(t *testing.T) {
	v, err := loadConfig(writeConfig(t))
	require.NoError(t, err)
	c, err := viewConfig(context.Background(), v, prometheus.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, "Products", c.Table)
	assert.Equal(t, []string{"Id", "Name"}, c.Fields)
	assert.Equal(t, []common.SortDescription{{Property: "Name"}, {Property: "Id", Ascending: true}}, c.SortDescriptions)
	assert.Equal(t, common.VersionUnknown, c.ODataVersion)

	v.Set(cfgKeyURL, "")
	_, err = viewConfig(context.Background(), v, prometheus.NewRegistry())
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestViewConfigJSONFilter(t *testing.T) {
	v, err := loadConfig(writeConfig(t))
	require.NoError(t, err)
	v.Set(cfgKeyVersion, 2)
	v.Set(cfgKeyFilter, "Price gt 10")
	v.Set(cfgKeyFilterJSON, `{"Name":{"contains":"abc"}}`)
	c, err := viewConfig(context.Background(), v, prometheus.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, "(Price gt 10) and (substringof('abc', tolower(Name)))", c.FilterDefinition)

	v.Set(cfgKeyVersion, 4)
	v.Set(cfgKeyFilter, "")
	c, err = viewConfig(context.Background(), v, prometheus.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, "contains(Name,'abc')", c.FilterDefinition)

	v.Set(cfgKeyFilterJSON, `{"Name":{"like":"abc"}}`)
	_, err = viewConfig(context.Background(), v, prometheus.NewRegistry())
	assert.ErrorIs(t, err, common.ErrUnsupportedFilter)
}
