package attribute_test

import (
	"testing"
	"time"

	"odataview/attribute"
	"odataview/common"
	"odataview/utils"

	"github.com/stretchr/testify/assert"
)

func TestLiteral(t *testing.T) {
	date := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value interface{}
		dt    common.DataType
		want  string
	}{
		{"string", "abc", common.DataTypeString, "'abc'"},
		{"string with quote", "O'Neil", common.DataTypeString, "'O''Neil'"},
		{"inferred string", "abc", common.DataTypeObject, "'abc'"},
		{"number", 12.5, common.DataTypeNumber, "12.5"},
		{"int", 3, common.DataTypeObject, "3"},
		{"number from string", "7", common.DataTypeNumber, "7"},
		{"bool", true, common.DataTypeObject, "true"},
		{"date", date, common.DataTypeObject, "datetime'2023-05-01T00:00:00.000Z'"},
		{"date from string", "2023-05-01T00:00:00", common.DataTypeDate, "datetime'2023-05-01T00:00:00.000Z'"},
		{"nil", nil, common.DataTypeObject, "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := attribute.Literal(tt.value, tt.dt)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateParse(t *testing.T) {
	d := attribute.For(common.DataTypeDate)

	v, err := d.Parse("/Date(1682899200000)/")
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), v)

	v, err = d.Parse("/Date(1682899200000+0200)/")
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), v)

	v, err = d.Parse("2023-05-01T10:30:00Z")
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2023, 5, 1, 10, 30, 0, 0, time.UTC), v)

	_, err = d.Parse("not a date")
	assert.Error(t, err)
}

func TestWire(t *testing.T) {
	date := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "/Date(1682899200000)/", attribute.For(common.DataTypeDate).Wire(date, 2))
	assert.Equal(t, "2023-05-01T00:00:00Z", attribute.For(common.DataTypeDate).Wire(date, 4))
	assert.Equal(t, "12", attribute.For(common.DataTypeNumber).Wire(12, 3))
	assert.Equal(t, 12, attribute.For(common.DataTypeNumber).Wire(12, 4))
}

func TestInferDataTypes(t *testing.T) {
	items := []utils.JSONMap{
		{"Name": "a", "Created": "2023-05-01T00:00:00", "Legacy": "/Date(1682899200000)/", "Mixed": "2023-05-01T00:00:00"},
		{"Name": "b", "Created": "2023-05-02T00:00:00", "Legacy": nil, "Mixed": "soon"},
		{"Name": "c", "Created": "2023-05-03T00:00:00", "Legacy": "/Date(1682985600000)/", "Mixed": "2023-05-01T00:00:00"},
	}
	types := attribute.InferDataTypes(items)
	assert.Equal(t, map[string]common.DataType{
		"Created": common.DataTypeDate,
		"Legacy":  common.DataTypeDate,
	}, types)

	assert.Nil(t, attribute.InferDataTypes(nil))
	assert.Nil(t, attribute.InferDataTypes([]utils.JSONMap{{"Name": "x"}}))
}

func TestInferDataTypesSamplesFirstTen(t *testing.T) {
	items := []utils.JSONMap{}
	for i := 0; i < 10; i++ {
		items = append(items, utils.JSONMap{"When": "2023-05-01T00:00:00"})
	}
	items = append(items, utils.JSONMap{"When": "later"})
	assert.Equal(t, common.DataTypeDate, attribute.InferDataTypes(items)["When"])
}

func TestConvertItem(t *testing.T) {
	item := utils.JSONMap{"Created": "2023-05-01T00:00:00", "Price": "12.5", "Bad": "x", "Name": "n"}
	err := attribute.ConvertItem(item, map[string]common.DataType{
		"Created": common.DataTypeDate,
		"Price":   common.DataTypeNumber,
		"Bad":     common.DataTypeNumber,
	})
	assert.Error(t, err)
	assert.Equal(t, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), item["Created"])
	assert.Equal(t, 12.5, item["Price"])
	assert.Equal(t, "x", item["Bad"])
	assert.Equal(t, "n", item["Name"])
}
