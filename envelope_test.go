package odataview

import (
	"testing"

	"odataview/common"
	"odataview/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		items    []utils.JSONMap
		count    int
		hasCount bool
		next     string
	}{
		{
			name:     "legacy",
			data:     `{"d":{"results":[{"Id":1}],"__count":"12","__next":"http://svc/P?$skiptoken=1"}}`,
			items:    []utils.JSONMap{{"Id": 1.0}},
			count:    12,
			hasCount: true,
			next:     "http://svc/P?$skiptoken=1",
		},
		{
			name:  "v1 bare array",
			data:  `{"d":[{"Id":1},{"Id":2}]}`,
			items: []utils.JSONMap{{"Id": 1.0}, {"Id": 2.0}},
		},
		{
			name:     "v4",
			data:     `{"@odata.context":"x","@odata.count":3,"value":[{"Id":1}],"@odata.nextLink":"P?$skip=1"}`,
			items:    []utils.JSONMap{{"Id": 1.0}},
			count:    3,
			hasCount: true,
			next:     "P?$skip=1",
		},
		{
			name:     "v3 json light",
			data:     `{"odata.metadata":"x","odata.count":"7","value":[],"odata.nextLink":"P?$skiptoken=9"}`,
			items:    []utils.JSONMap{},
			count:    7,
			hasCount: true,
			next:     "P?$skiptoken=9",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := parseEnvelope([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.items, env.items)
			assert.Equal(t, tt.count, env.count)
			assert.Equal(t, tt.hasCount, env.hasCount)
			assert.Equal(t, tt.next, env.next)
		})
	}
}

func TestParseEnvelopeMalformed(t *testing.T) {
	for _, data := range []string{``, `[]`, `{"d":{}}`, `{"value":{}}`, `{"value":[1]}`, `{"value":[`} {
		_, err := parseEnvelope([]byte(data))
		assert.ErrorIs(t, err, common.ErrMalformedResponse, data)
	}
}

func TestEntityBody(t *testing.T) {
	assert.Equal(t, int64(3), entityBody([]byte(`{"d":{"Id":3}}`)).Get("Id").Int())
	assert.Equal(t, int64(4), entityBody([]byte(`{"Id":4}`)).Get("Id").Int())
	assert.False(t, entityBody(nil).Exists())
}
