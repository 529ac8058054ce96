package server

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odataview/common"
)

func TestFilterBuild(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		stmt   string
		args   []interface{}
	}{
		{
			name:   "compare",
			filter: "Price gt 10",
			stmt:   `(data ->> '$."Price"') > ?`,
			args:   []interface{}{10.0},
		},
		{
			name:   "contains",
			filter: "contains(Name,'abc')",
			stmt:   `odata_contains((data ->> '$."Name"'), ?)`,
			args:   []interface{}{"abc"},
		},
		{
			name:   "substringof",
			filter: "substringof('abc', tolower(Name))",
			stmt:   `odata_contains(lower((data ->> '$."Name"')), ?)`,
			args:   []interface{}{"abc"},
		},
		{
			name:   "or with null",
			filter: "Country eq 'UK' or Country eq null",
			stmt:   `((data ->> '$."Country"') = ? OR (data ->> '$."Country"') IS NULL)`,
			args:   []interface{}{"UK"},
		},
		{
			name:   "not and",
			filter: "not (Discontinued eq true) and Price le 20",
			stmt:   `(NOT ((data ->> '$."Discontinued"') = ?) AND (data ->> '$."Price"') <= ?)`,
			args:   []interface{}{int64(1), 20.0},
		},
		{
			name:   "not contains",
			filter: "not contains(Name,'x')",
			stmt:   `NOT (odata_contains((data ->> '$."Name"'), ?))`,
			args:   []interface{}{"x"},
		},
		{
			name:   "datetime",
			filter: "Ordered ge datetime'2023-05-01T00:00:00.000Z' and Ordered lt datetime'2023-05-02'",
			stmt:   `((data ->> '$."Ordered"') >= ? AND (data ->> '$."Ordered"') < ?)`,
			args:   []interface{}{"2023-05-01T00:00:00.000Z", "2023-05-02T00:00:00.000Z"},
		},
		{
			name:   "nested property",
			filter: "Address/City ne 'O''Hara'",
			stmt:   `(data ->> '$."Address"."City"') IS NOT ?`,
			args:   []interface{}{"O'Hara"},
		},
		{
			name:   "startswith endswith",
			filter: "startswith(Name,'A') or endswith(Name,'z')",
			stmt:   `(odata_startswith((data ->> '$."Name"'), ?) OR odata_endswith((data ->> '$."Name"'), ?))`,
			args:   []interface{}{"A", "z"},
		},
		{
			name:   "decimal suffix",
			filter: "Price lt 12.5M",
			stmt:   `(data ->> '$."Price"') < ?`,
			args:   []interface{}{12.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := parseFilter(tt.filter)
			require.NoError(t, err)
			require.NotNil(t, node)
			stmt, args, err := node.Build()
			require.NoError(t, err)
			assert.Equal(t, tt.stmt, stmt)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestFilterEmpty(t *testing.T) {
	node, err := parseFilter("  ")
	assert.NoError(t, err)
	assert.Nil(t, node)
}

func TestFilterErrors(t *testing.T) {
	for _, filter := range []string{
		"Price gt",
		"Name eq 'abc",
		"foo(Name)",
		"contains(Name)",
		"(Price gt 1",
		"Price gt 1 Name",
		"Name eq #",
		"Name eq guess'x'",
	} {
		_, err := parseFilter(filter)
		assert.ErrorIs(t, err, common.ErrUnsupportedFilter, filter)
	}
}

func TestParseKeyPredicate(t *testing.T) {
	key, err := parseKeyPredicate("7", []string{"Id"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"Id": 7.0}, key)

	key, err = parseKeyPredicate("OrderId=7,Code='O''1'", []string{"OrderId", "Code"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"OrderId": 7.0, "Code": "O'1"}, key)

	key, err = parseKeyPredicate("When=datetime'2023-05-01T00:00:00Z'", []string{"When"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"When": "2023-05-01T00:00:00.000Z"}, key)

	_, err = parseKeyPredicate("OrderId=7", []string{"OrderId", "Code"})
	assert.ErrorIs(t, err, common.ErrMissingKey)

	_, err = parseKeyPredicate("OrderId 7", []string{"OrderId"})
	assert.ErrorIs(t, err, common.ErrUnsupportedFilter)

	predicate, err := keyPredicate([]string{"OrderId", "Code"}, map[string]interface{}{"OrderId": 7.0, "Code": "O'1"})
	require.NoError(t, err)
	assert.Equal(t, "OrderId=7,Code='O''1'", predicate)
}

func TestBuildSort(t *testing.T) {
	stmt, err := buildSort("")
	require.NoError(t, err)
	assert.Equal(t, " ORDER BY row_id", stmt)

	stmt, err = buildSort("Name, Price desc")
	require.NoError(t, err)
	assert.Equal(t, ` ORDER BY (data ->> '$."Name"') ASC, (data ->> '$."Price"') DESC, row_id`, stmt)

	for _, orderBy := range []string{"Name sideways", "Na'me", "Name asc desc"} {
		_, err = buildSort(orderBy)
		assert.ErrorIs(t, err, common.ErrUnsupportedFilter, orderBy)
	}
}

func TestParseQuery(t *testing.T) {
	values := url.Values{}
	values.Set("$filter", "Price gt 1")
	values.Set("$select", "Id, Name")
	values.Set("$skip", "20")
	values.Set("$top", "10")
	values.Set("$inlinecount", "allpages")
	q, err := ParseQuery(values)
	require.NoError(t, err)
	assert.Equal(t, Query{Filter: "Price gt 1", Select: []string{"Id", "Name"}, Skip: 20, Top: 10, Count: true}, q)

	values = url.Values{"$count": {"true"}, "$select": {"*"}}
	q, err = ParseQuery(values)
	require.NoError(t, err)
	assert.True(t, q.Count)
	assert.Nil(t, q.Select)

	for _, bad := range []url.Values{{"$top": {"-1"}}, {"$skip": {"x"}}, {"$select": {"a'b"}}} {
		_, err = ParseQuery(bad)
		assert.ErrorIs(t, err, common.ErrUnsupportedFilter)
	}
}

func TestBuildSearch(t *testing.T) {
	stmt, args := buildSearch("")
	assert.Empty(t, stmt)
	assert.Nil(t, args)

	stmt, args = buildSearch("Blue  50%")
	assert.Equal(t, `(EXISTS (SELECT 1 FROM json_each(data) WHERE lower(json_each.value) LIKE ? ESCAPE '\') AND EXISTS (SELECT 1 FROM json_each(data) WHERE lower(json_each.value) LIKE ? ESCAPE '\'))`, stmt)
	assert.Equal(t, []interface{}{"%blue%", `%50\%%`}, args)
}
