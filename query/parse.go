package query

import (
	"fmt"

	"odataview/common"

	"github.com/tidwall/gjson"
)

var opNames = map[string]common.Operator{
	"eq":          common.OpEquals,
	"ne":          common.OpNotEquals,
	"gt":          common.OpGreaterThan,
	"ge":          common.OpGreaterThanOrEqual,
	"lt":          common.OpLessThan,
	"le":          common.OpLessThanOrEqual,
	"startswith":  common.OpBeginsWith,
	"endswith":    common.OpEndsWith,
	"contains":    common.OpContains,
	"notcontains": common.OpDoesNotContain,
}

// ParseFilter 解析 JSON 形式的 filter：
//
//	{"$and":[{"Name":{"contains":"abc"}},{"Price":{"gt":10}}]}
//
// operation 节点可带 "type" 指定字段的 DataType。
func ParseFilter(filter string) (node Node, err error) {
	if !gjson.Valid(filter) {
		err = fmt.Errorf("%w: invalid filter json", common.ErrUnsupportedFilter)
		return
	}
	result := gjson.Parse(filter)
	if !result.IsObject() {
		err = fmt.Errorf("%w: filter is not an object", common.ErrUnsupportedFilter)
		return
	}
	keys := result.Get("@keys").Array()
	if len(keys) == 0 {
		node = And()
		return
	}
	if len(keys) == 1 {
		node, err = parseFilterHelper(result)
		return
	}
	// 多个 key 视为隐式 $and
	children := []Node{}
	result.ForEach(func(key, value gjson.Result) bool {
		var child Node
		child, err = parseEntry(key.String(), value)
		if err != nil {
			return false
		}
		children = append(children, child)
		return true
	})
	if err != nil {
		return
	}
	node = And(children...)
	return
}

func parseFilterHelper(filter gjson.Result) (node Node, err error) {
	if !filter.IsObject() {
		err = fmt.Errorf("%w: filter node is not an object", common.ErrUnsupportedFilter)
		return
	}
	var key string
	var value gjson.Result
	n := 0
	filter.ForEach(func(k, v gjson.Result) bool {
		key, value = k.String(), v
		n++
		return true
	})
	if n != 1 {
		err = fmt.Errorf("%w: parse filter failed : key error %s", common.ErrUnsupportedFilter, filter.Raw)
		return
	}
	node, err = parseEntry(key, value)
	return
}

func parseEntry(key string, value gjson.Result) (node Node, err error) {
	switch key {
	case opBytesAnd, opBytesOr, opBytesNot:
		node, err = parseConnectFilter(key, value)
	default:
		node, err = parseOperationFilter(key, value)
	}
	return
}

func parseConnectFilter(connect string, childNode gjson.Result) (node Node, err error) {
	if !childNode.IsArray() {
		err = fmt.Errorf("%w: connect child node is not a array", common.ErrUnsupportedFilter)
		return
	}
	node = Node{
		Type:       Connection,
		Connect:    connect,
		ChildNodes: []Node{},
	}
	for _, childFilter := range childNode.Array() {
		var child Node
		child, err = parseFilterHelper(childFilter)
		if err != nil {
			return
		}
		node.ChildNodes = append(node.ChildNodes, child)
	}
	return
}

func parseOperationFilter(field string, body gjson.Result) (node Node, err error) {
	if !body.IsObject() {
		// {"Name":"abc"} 简写为 eq
		node = Op(field, common.OpEquals, body.Value(), common.DataTypeObject)
		return
	}
	dt := common.DataTypeObject
	if t := body.Get("type"); t.Exists() {
		if dt, err = common.ParseDataType(t.String()); err != nil {
			return
		}
	}
	ops := []Node{}
	body.ForEach(func(key, value gjson.Result) bool {
		if key.Str == "type" {
			return true
		}
		op, ok := opNames[key.Str]
		if !ok {
			err = fmt.Errorf("%w: unsupport op:%s", common.ErrUnsupportedFilter, key.Str)
			return false
		}
		ops = append(ops, Op(field, op, value.Value(), dt))
		return true
	})
	if err != nil {
		return
	}
	switch len(ops) {
	case 0:
		err = fmt.Errorf("%w: field %s has no op", common.ErrUnsupportedFilter, field)
	case 1:
		node = ops[0]
	default:
		node = And(ops...)
	}
	return
}
