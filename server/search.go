package server

import (
	"bytes"
	"strings"
)

// buildSearch 把 $search 的每个词翻译成一个条件，词之间为 AND。
// 只匹配字段值，不匹配字段名。
func buildSearch(search string) (stmt string, args []interface{}) {
	searchKeys := strings.Fields(search)
	if len(searchKeys) == 0 {
		return
	}
	stmtBuffer := &bytes.Buffer{}
	stmtBuffer.WriteString("(")
	for idx, key := range searchKeys {
		if idx != 0 {
			stmtBuffer.WriteString(" AND ")
		}
		stmtBuffer.WriteString(`EXISTS (SELECT 1 FROM json_each(data) WHERE lower(json_each.value) LIKE ? ESCAPE '\')`)
		args = append(args, "%"+escapeLike(strings.ToLower(key))+"%")
	}
	stmtBuffer.WriteString(")")
	stmt = stmtBuffer.String()
	return
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
