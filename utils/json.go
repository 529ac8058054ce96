package utils

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// JSONMap 是一条 entity 记录，也是 sqlite 中 data 列的存储形式
type JSONMap map[string]interface{}

// 实现 sql.Scanner 接口
func (jm *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*jm = nil
		return nil
	}
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, jm)
	case string:
		return json.Unmarshal([]byte(data), jm)
	}
	return fmt.Errorf("failed to unmarshal JSON: unsupported type %T", value)
}

// 实现 driver.Valuer 接口
func (jm JSONMap) Value() (driver.Value, error) {
	if jm == nil {
		return nil, nil
	}
	v, err := json.Marshal(jm)
	return string(v), err
}

// Clone 浅拷贝
func (jm JSONMap) Clone() JSONMap {
	if jm == nil {
		return nil
	}
	m := make(JSONMap, len(jm))
	for key := range jm {
		m[key] = jm[key]
	}
	return m
}

// Keys returns the keys in sorted order.
func (jm JSONMap) Keys() []string {
	keys := make([]string, 0, len(jm))
	for key := range jm {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Stable 返回稳定的序列化结果，用于编辑前后的快照比较
func (jm JSONMap) Stable() string {
	data, err := json.Marshal(jm)
	if err != nil {
		return fmt.Sprintf("%v", map[string]interface{}(jm))
	}
	return string(data)
}

// Same reports whether a and b are the same map instance.
func Same(a, b JSONMap) bool {
	if a == nil || b == nil {
		return false
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
