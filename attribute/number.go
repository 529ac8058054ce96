package attribute

import (
	"fmt"
	"strconv"
	"strings"

	"odataview/common"
)

type NumberAttribute struct{}

func (n *NumberAttribute) Type() common.DataType {
	return common.DataTypeNumber
}

// Parse v2 服务常把 Edm.Decimal / Edm.Int64 序列化成字符串
func (n *NumberAttribute) Parse(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(value) == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("parse number %q: %w", value, err)
		}
		return f, nil
	case bool:
		if value {
			return float64(1), nil
		}
		return float64(0), nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("invalid number value:%v", v)
	}
	return f, nil
}

func (n *NumberAttribute) Literal(v interface{}) (string, error) {
	if v == nil {
		return "null", nil
	}
	if s, ok := v.(string); ok {
		parsed, err := n.Parse(s)
		if err != nil {
			return "", err
		}
		if parsed == nil {
			return "null", nil
		}
		v = parsed
	}
	f, ok := toFloat(v)
	if !ok {
		return "", fmt.Errorf("invalid number value:%v", v)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// Wire 旧版本服务不接受 JSON 数字，统一转成字符串
func (n *NumberAttribute) Wire(v interface{}, version common.Version) interface{} {
	if !version.Legacy() {
		return v
	}
	f, ok := toFloat(v)
	if !ok {
		return v
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func toFloat(v interface{}) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int8:
		return float64(value), true
	case int16:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint:
		return float64(value), true
	case uint8:
		return float64(value), true
	case uint16:
		return float64(value), true
	case uint32:
		return float64(value), true
	case uint64:
		return float64(value), true
	}
	return 0, false
}
