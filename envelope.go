package odataview

import (
	"odataview/common"
	"odataview/utils"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// envelope 是一次读取响应解析后的结果
//
//	v1-v3: {"d":{"results":[...],"__count":"n","__next":"url"}}  或 {"d":[...]}
//	v4:    {"value":[...],"@odata.count":n,"@odata.nextLink":"url"}
type envelope struct {
	items    []utils.JSONMap
	count    int
	hasCount bool
	next     string
}

func parseEnvelope(data []byte) (env envelope, err error) {
	if !gjson.ValidBytes(data) {
		err = errors.Wrap(common.ErrMalformedResponse, "invalid json")
		return
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		err = errors.Wrap(common.ErrMalformedResponse, "response is not an object")
		return
	}
	var results gjson.Result
	if d := root.Get("d"); d.Exists() {
		switch {
		case d.IsArray():
			results = d
		case d.IsObject():
			results = d.Get("results")
			if count := d.Get("__count"); count.Exists() {
				env.count, env.hasCount = int(count.Int()), true
			}
			env.next = d.Get("__next").String()
		}
	} else {
		// key 里带 '.' 和 '@'，直接遍历比较
		root.ForEach(func(key, value gjson.Result) bool {
			switch key.Str {
			case "value":
				results = value
			case "@odata.count", "odata.count":
				env.count, env.hasCount = int(value.Int()), true
			case "@odata.nextLink", "odata.nextLink":
				env.next = value.String()
			}
			return true
		})
	}
	if !results.IsArray() {
		err = errors.Wrap(common.ErrMalformedResponse, "no result array")
		return
	}
	env.items = make([]utils.JSONMap, 0, len(results.Array()))
	results.ForEach(func(_, value gjson.Result) bool {
		m, ok := value.Value().(map[string]interface{})
		if !ok {
			err = errors.Wrapf(common.ErrMalformedResponse, "result item is not an object: %s", value.Raw)
			return false
		}
		env.items = append(env.items, utils.JSONMap(m))
		return true
	})
	return
}

// entityBody 取出写请求响应中的实体：v2 会包一层 "d"
func entityBody(data []byte) gjson.Result {
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return gjson.Result{}
	}
	root := gjson.ParseBytes(data)
	if d := root.Get("d"); d.IsObject() {
		if results := d.Get("results"); results.IsObject() {
			return results
		}
		return d
	}
	return root
}
