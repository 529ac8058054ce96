package attribute

import (
	"fmt"
	"strings"

	"odataview/common"
)

type TextAttribute struct{}

func (t *TextAttribute) Type() common.DataType {
	return common.DataTypeString
}

func (t *TextAttribute) Parse(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case string:
		return value, nil
	default:
		return fmt.Sprint(value), nil
	}
}

// Literal 单引号包裹，内部单引号转义为 ''
func (t *TextAttribute) Literal(v interface{}) (string, error) {
	if v == nil {
		return "null", nil
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'", nil
}

func (t *TextAttribute) Wire(v interface{}, _ common.Version) interface{} {
	return v
}
