package attribute

import (
	"odataview/common"
	"odataview/utils"
)

// SampleSize 推断类型时最多检查的记录数
const SampleSize = 10

// InferDataTypes 从前 SampleSize 条记录推断 Date 字段。
// 字段在样本中所有非空值都是日期样式的字符串时才被认为是 Date。
func InferDataTypes(items []utils.JSONMap) map[string]common.DataType {
	var types map[string]common.DataType
	seen := map[string]bool{}
	dateLike := map[string]bool{}
	for i := 0; i < len(items) && i < SampleSize; i++ {
		for key, value := range items[i] {
			if value == nil {
				continue
			}
			s, ok := value.(string)
			isDate := ok && IsDateLike(s)
			if !seen[key] {
				seen[key] = true
				dateLike[key] = isDate
				continue
			}
			dateLike[key] = dateLike[key] && isDate
		}
	}
	for key, isDate := range dateLike {
		if !isDate {
			continue
		}
		if types == nil {
			types = map[string]common.DataType{}
		}
		types[key] = common.DataTypeDate
	}
	return types
}

// ConvertItem 按 types 原地转换字段值；转换失败的字段保留原值
func ConvertItem(item utils.JSONMap, types map[string]common.DataType) (err error) {
	for key, dt := range types {
		value, ok := item[key]
		if !ok || value == nil {
			continue
		}
		converted, nerr := For(dt).Parse(value)
		if nerr != nil {
			if err == nil {
				err = nerr
			}
			continue
		}
		item[key] = converted
	}
	return
}
