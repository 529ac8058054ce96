package attribute

import (
	"fmt"
	"strconv"

	"odataview/common"
)

type BooleanAttribute struct{}

func (b *BooleanAttribute) Type() common.DataType {
	return common.DataTypeBoolean
}

func (b *BooleanAttribute) Parse(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return value, nil
	case string:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("parse boolean %q: %w", value, err)
		}
		return parsed, nil
	}
	if f, ok := toFloat(v); ok {
		return f != 0, nil
	}
	return nil, fmt.Errorf("invalid boolean value:%v", v)
}

func (b *BooleanAttribute) Literal(v interface{}) (string, error) {
	parsed, err := b.Parse(v)
	if err != nil {
		return "", err
	}
	if parsed == nil {
		return "null", nil
	}
	return strconv.FormatBool(parsed.(bool)), nil
}

func (b *BooleanAttribute) Wire(v interface{}, _ common.Version) interface{} {
	return v
}
