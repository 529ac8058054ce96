package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"odataview/attribute"
)

// escapeKey 转义 sjson 路径中的特殊字符
func escapeKey(key string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(key)
}

// renderItem 按 $select 投影一条记录；v2 时日期改写为 /Date(ms)/ 并补上 __metadata
func renderItem(row string, fields []string, version int, uri string) (item []byte, err error) {
	item = []byte(row)
	if len(fields) > 0 {
		item = []byte(`{}`)
		for _, field := range fields {
			value := gjson.Get(row, escapeKey(field))
			if !value.Exists() {
				continue
			}
			if item, err = sjson.SetRawBytes(item, escapeKey(field), []byte(value.Raw)); err != nil {
				return
			}
		}
	}
	if version >= 4 {
		return
	}
	legacyDates := map[string]string{}
	gjson.ParseBytes(item).ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.String || !attribute.IsDateLike(value.Str) {
			return true
		}
		if t, perr := time.Parse(attribute.ISOLayout, value.Str); perr == nil {
			legacyDates[key.Str] = fmt.Sprintf("/Date(%d)/", t.UnixMilli())
		}
		return true
	})
	for key, value := range legacyDates {
		if item, err = sjson.SetBytes(item, escapeKey(key), value); err != nil {
			return
		}
	}
	item, err = sjson.SetBytes(item, "__metadata.uri", uri)
	return
}

func quote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

// writeCollection 组装集合响应：
// v2 {"d":{"results":[...],"__count":"n","__next":"..."}}
// v4 {"@odata.context":"...","@odata.count":n,"value":[...],"@odata.nextLink":"..."}
func writeCollection(items [][]byte, count int, hasCount bool, next string, version int, context string) []byte {
	var buffer bytes.Buffer
	if version < 4 {
		buffer.WriteString(`{"d":{"results":[`)
	} else {
		buffer.WriteString(`{"@odata.context":`)
		buffer.WriteString(quote(context))
		if hasCount {
			buffer.WriteString(`,"@odata.count":`)
			buffer.WriteString(strconv.Itoa(count))
		}
		buffer.WriteString(`,"value":[`)
	}
	for idx, item := range items {
		if idx != 0 {
			buffer.WriteString(",")
		}
		buffer.Write(item)
	}
	buffer.WriteString("]")
	if version < 4 {
		if hasCount {
			buffer.WriteString(`,"__count":`)
			buffer.WriteString(quote(strconv.Itoa(count)))
		}
		if next != "" {
			buffer.WriteString(`,"__next":`)
			buffer.WriteString(quote(next))
		}
		buffer.WriteString("}}")
		return buffer.Bytes()
	}
	if next != "" {
		buffer.WriteString(`,"@odata.nextLink":`)
		buffer.WriteString(quote(next))
	}
	buffer.WriteString("}")
	return buffer.Bytes()
}

// writeEntity 组装单条记录响应，v2 包在 d 中，v4 带 @odata.context
func writeEntity(item []byte, version int, context string) (data []byte, err error) {
	if version < 4 {
		return sjson.SetRawBytes([]byte(`{}`), "d", item)
	}
	return sjson.SetBytes(item, `@odata\.context`, context)
}

// writeError 组装 OData 错误响应
func writeError(code, message string) []byte {
	data, err := sjson.SetBytes([]byte(`{}`), "error.code", code)
	if err != nil {
		return []byte(`{"error":{}}`)
	}
	data, _ = sjson.SetBytes(data, "error.message", message)
	return data
}
