package query

import (
	"time"

	"odataview/attribute"
	"odataview/common"
)

// FilterDefinition 把 FilterProvider 中所有生效的列过滤器翻译成 $filter 字符串
func FilterDefinition(provider common.FilterProvider, version common.Version) (def string, err error) {
	if provider == nil {
		return
	}
	qb := NewBuilder()
	for _, cf := range provider.ColumnFilters() {
		if !cf.IsActive() {
			continue
		}
		qb.Filter(ColumnNode(cf))
	}
	def, err = qb.BuildFilter(version)
	return
}

// ColumnNode 条件过滤优先，否则使用值列表过滤
func ColumnNode(cf common.ColumnFilter) Node {
	if cf.Condition.IsActive() {
		return conditionNode(cf)
	}
	if cf.Values.IsActive() {
		return valueNode(cf)
	}
	return And()
}

func conditionNode(cf common.ColumnFilter) Node {
	c := cf.Condition
	nodes := []Node{}
	if c.Condition1.IsActive() {
		nodes = append(nodes, Op(cf.Field, c.Condition1.Operator, c.Condition1.Value, cf.DataType))
	}
	if c.Condition2.IsActive() {
		nodes = append(nodes, Op(cf.Field, c.Condition2.Operator, c.Condition2.Value, cf.DataType))
	}
	if c.And || len(nodes) == 1 {
		return And(nodes...)
	}
	return Or(nodes...)
}

func valueNode(cf common.ColumnFilter) Node {
	nodes := []Node{}
	for _, value := range cf.Values.ShowValues {
		nodes = append(nodes, equalsNode(cf.Field, value, cf.DataType))
	}
	return Or(nodes...)
}

// 空值匹配 null；日期匹配当天范围
func equalsNode(field string, value interface{}, dt common.DataType) Node {
	if value == nil || value == "" {
		return Op(field, common.OpEquals, nil, common.DataTypeObject)
	}
	if dt == common.DataTypeDate || attribute.TypeOf(value) == common.DataTypeDate {
		parsed, err := attribute.For(common.DataTypeDate).Parse(value)
		if err == nil && parsed != nil {
			day := parsed.(time.Time).UTC().Truncate(24 * time.Hour)
			return And(
				Expr(field+" ge "+mustLiteral(day)),
				Op(field, common.OpLessThan, attribute.NextDay(day), common.DataTypeDate),
			)
		}
	}
	return Op(field, common.OpEquals, value, dt)
}

func mustLiteral(t time.Time) string {
	s, _ := attribute.For(common.DataTypeDate).Literal(t)
	return s
}
