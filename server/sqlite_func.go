package server

import (
	"fmt"
	"strings"
)

type customFuncImpl struct {
	impl any
	pure bool
}

// odata 字符串函数，参数为 NULL 时返回 0
func customFunc() map[string]customFuncImpl {
	v := map[string]customFuncImpl{
		"odata_contains":   {odataContains, true},
		"odata_startswith": {odataStartsWith, true},
		"odata_endswith":   {odataEndsWith, true},
	}
	return v
}

func sqlText(v any) (string, bool) {
	switch value := v.(type) {
	case nil:
		return "", false
	case string:
		return value, true
	case []byte:
		return string(value), true
	}
	return fmt.Sprint(v), true
}

func stringFunc(fn func(s, sub string) bool) func(a, b any) int64 {
	return func(a, b any) int64 {
		s, ok := sqlText(a)
		if !ok {
			return 0
		}
		sub, ok := sqlText(b)
		if !ok {
			return 0
		}
		if fn(s, sub) {
			return 1
		}
		return 0
	}
}

var (
	odataContains   = stringFunc(strings.Contains)
	odataStartsWith = stringFunc(strings.HasPrefix)
	odataEndsWith   = stringFunc(strings.HasSuffix)
)
