package common

import "fmt"

// DataType 字段的数据类型，用于类型转换和 filter 字面量格式化
type DataType string

const (
	DataTypeObject  DataType = ""
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeDate    DataType = "date"
)

func ParseDataType(s string) (DataType, error) {
	switch DataType(s) {
	case DataTypeObject, DataTypeString, DataTypeNumber, DataTypeBoolean, DataTypeDate:
		return DataType(s), nil
	}
	return DataTypeObject, fmt.Errorf("unknown data type %q", s)
}

// Version OData 协议版本 (1-4)，0 表示尚未探测
type Version int

const (
	VersionUnknown Version = 0
	VersionMin     Version = 1
	VersionMax     Version = 4
)

func (v Version) Known() bool {
	return v >= VersionMin && v <= VersionMax
}

// Legacy reports whether the service speaks the pre-v4 dialect
// ($inlinecount, substringof, d.results envelopes).
func (v Version) Legacy() bool {
	return v < 4
}
