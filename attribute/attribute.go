package attribute

import (
	"time"

	"odataview/common"
)

// Attribute 负责某一种 DataType 的
// 1. wire 值 -> Go 值的转换 (Parse)
// 2. Go 值 -> OData filter / key 字面量 (Literal)
// 3. Go 值 -> 写请求 payload 的值 (Wire)
type Attribute interface {
	Type() common.DataType
	Parse(v interface{}) (interface{}, error)
	Literal(v interface{}) (string, error)
	Wire(v interface{}, version common.Version) interface{}
}

var attributes = map[common.DataType]Attribute{
	common.DataTypeObject:  &objectAttribute{},
	common.DataTypeString:  &TextAttribute{},
	common.DataTypeNumber:  &NumberAttribute{},
	common.DataTypeBoolean: &BooleanAttribute{},
	common.DataTypeDate:    &DateAttribute{},
}

// For 返回 DataType 对应的 Attribute，未知类型按 object 处理
func For(dt common.DataType) Attribute {
	if attr, ok := attributes[dt]; ok {
		return attr
	}
	return attributes[common.DataTypeObject]
}

// Literal formats v as an OData literal, choosing the attribute from dt
// or, when dt is the object type, from the Go type of v.
func Literal(v interface{}, dt common.DataType) (string, error) {
	if dt == common.DataTypeObject {
		dt = TypeOf(v)
	}
	return For(dt).Literal(v)
}

// TypeOf 根据 Go 值推断 DataType
func TypeOf(v interface{}) common.DataType {
	switch v.(type) {
	case string:
		return common.DataTypeString
	case time.Time, *time.Time:
		return common.DataTypeDate
	case bool:
		return common.DataTypeBoolean
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return common.DataTypeNumber
	}
	return common.DataTypeObject
}

// object 类型：不做转换
type objectAttribute struct{}

func (o *objectAttribute) Type() common.DataType {
	return common.DataTypeObject
}

func (o *objectAttribute) Parse(v interface{}) (interface{}, error) {
	return v, nil
}

func (o *objectAttribute) Literal(v interface{}) (string, error) {
	if v == nil {
		return "null", nil
	}
	dt := TypeOf(v)
	if dt == common.DataTypeObject {
		return (&TextAttribute{}).Literal(v)
	}
	return For(dt).Literal(v)
}

func (o *objectAttribute) Wire(v interface{}, version common.Version) interface{} {
	dt := TypeOf(v)
	if dt == common.DataTypeObject {
		return v
	}
	return For(dt).Wire(v, version)
}
