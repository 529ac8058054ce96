package odataview

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
	"time"

	"odataview/common"
	"odataview/utils"
)

// sortItems 按排序描述在本地稳定排序（sortOnServer=false 时使用）
func sortItems(items []utils.JSONMap, sds []common.SortDescription) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, sd := range sds {
			c := compareValues(items[i][sd.Property], items[j][sd.Property])
			if c == 0 {
				continue
			}
			if sd.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

// compareValues nil 排在最前；类型不同时按字符串比较
func compareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmp.Compare(boolRank(x), boolRank(y))
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(toText(a), toText(b))
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toText(v interface{}) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}
