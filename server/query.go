package server

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"odataview/common"
	"odataview/tx"
)

// Query 是一次集合读取的系统查询选项
type Query struct {
	Filter  string
	Search  string
	OrderBy string
	Select  []string
	Skip    int
	Top     int // 0 表示不限制
	Count   bool
}

// ParseQuery 从 URL 查询参数读取 $filter/$search/$orderby/$select/$skip/$top/$count/$inlinecount
func ParseQuery(values url.Values) (q Query, err error) {
	q.Filter = values.Get("$filter")
	q.Search = values.Get("$search")
	q.OrderBy = values.Get("$orderby")
	if sel := values.Get("$select"); sel != "" && sel != "*" {
		for _, field := range strings.Split(sel, ",") {
			field = strings.TrimSpace(field)
			if !rxName.MatchString(field) {
				err = errors.Wrapf(common.ErrUnsupportedFilter, "invalid $select field %q", field)
				return
			}
			q.Select = append(q.Select, field)
		}
	}
	if q.Skip, err = intOption(values, "$skip"); err != nil {
		return
	}
	if q.Top, err = intOption(values, "$top"); err != nil {
		return
	}
	q.Count = strings.EqualFold(values.Get("$count"), "true") ||
		strings.EqualFold(values.Get("$inlinecount"), "allpages")
	return
}

func intOption(values url.Values, name string) (n int, err error) {
	raw := values.Get(name)
	if raw == "" {
		return
	}
	if n, err = strconv.Atoi(raw); err != nil || n < 0 {
		err = errors.Wrapf(common.ErrUnsupportedFilter, "invalid %s %q", name, raw)
	}
	return
}

// buildSort 把 $orderby 翻译成 ORDER BY，row_id 保证顺序稳定
func buildSort(orderBy string) (stmt string, err error) {
	var buffer bytes.Buffer
	buffer.WriteString(" ORDER BY ")
	for _, item := range strings.Split(orderBy, ",") {
		fields := strings.Fields(item)
		if len(fields) == 0 {
			continue
		}
		if len(fields) > 2 || !rxPath.MatchString(fields[0]) {
			err = errors.Wrapf(common.ErrUnsupportedFilter, "invalid $orderby %q", item)
			return
		}
		direction := "ASC"
		if len(fields) == 2 {
			switch strings.ToLower(fields[1]) {
			case "asc":
			case "desc":
				direction = "DESC"
			default:
				err = errors.Wrapf(common.ErrUnsupportedFilter, "invalid $orderby %q", item)
				return
			}
		}
		buffer.WriteString(fmt.Sprintf("%s %s, ", jsonPath(fields[0]), direction))
	}
	buffer.WriteString("row_id")
	stmt = buffer.String()
	return
}

// buildWhere 合并 $filter 和 $search 条件
func (q Query) buildWhere() (stmt string, args []interface{}, err error) {
	conds := []string{}
	node, err := parseFilter(q.Filter)
	if err != nil {
		return
	}
	if node != nil {
		var filterStmt string
		var filterArgs []interface{}
		if filterStmt, filterArgs, err = node.Build(); err != nil {
			return
		}
		conds = append(conds, filterStmt)
		args = append(args, filterArgs...)
	}
	if searchStmt, searchArgs := buildSearch(q.Search); searchStmt != "" {
		conds = append(conds, searchStmt)
		args = append(args, searchArgs...)
	}
	if len(conds) > 0 {
		stmt = " WHERE " + strings.Join(conds, " AND ")
	}
	return
}

// Result 是一次读取的结果，Rows 是每条记录的 JSON 文本
type Result struct {
	Rows  []string
	Count int
}

// Query 执行读取；Count 总是按过滤后的全集计算
func (es *EntitySet) Query(ctx context.Context, q Query, limit int) (result Result, err error) {
	where, args, err := q.buildWhere()
	if err != nil {
		return
	}
	order, err := buildSort(q.OrderBy)
	if err != nil {
		return
	}
	rtx, err := es.db.ReadTx(ctx)
	if err != nil {
		return
	}
	defer tx.Finish(rtx, &err)

	countStmt := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, es.dataTable, where)
	if err = rtx.QueryRow(countStmt, args...).Scan(&result.Count); err != nil {
		return
	}
	if limit <= 0 {
		limit = -1
	}
	queryStmt := fmt.Sprintf(`SELECT data FROM %s%s%s LIMIT ? OFFSET ?`, es.dataTable, where, order)
	rows, err := rtx.Query(queryStmt, append(args, limit, q.Skip)...)
	if err != nil {
		return
	}
	defer rows.Close()
	result.Rows = []string{}
	for rows.Next() {
		var data string
		if err = rows.Scan(&data); err != nil {
			return
		}
		result.Rows = append(result.Rows, data)
	}
	err = rows.Err()
	return
}
