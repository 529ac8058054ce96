package common

// SortDescription 排序描述，按顺序组成 $orderby
type SortDescription struct {
	Property  string
	Ascending bool
}

// Operator grid 过滤条件的操作符
type Operator int

const (
	OpNone Operator = iota
	OpEquals
	OpNotEquals
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpBeginsWith
	OpEndsWith
	OpContains
	OpDoesNotContain
)

// Condition 单个过滤条件；Operator 为 OpNone 时不生效
type Condition struct {
	Operator Operator
	Value    interface{}
}

func (c Condition) IsActive() bool {
	return c.Operator != OpNone
}

// ConditionFilter 两个条件用 and / or 组合
type ConditionFilter struct {
	Condition1 Condition
	Condition2 Condition
	And        bool
}

func (cf *ConditionFilter) IsActive() bool {
	return cf != nil && (cf.Condition1.IsActive() || cf.Condition2.IsActive())
}

// ValueFilter 值列表过滤 (in-list)
type ValueFilter struct {
	ShowValues []interface{}
}

func (vf *ValueFilter) IsActive() bool {
	return vf != nil && len(vf.ShowValues) > 0
}

// ColumnFilter 单列的过滤器，Condition 优先于 Values
type ColumnFilter struct {
	Field     string
	DataType  DataType
	Condition *ConditionFilter
	Values    *ValueFilter
}

func (cf ColumnFilter) IsActive() bool {
	return cf.Condition.IsActive() || cf.Values.IsActive()
}

// FilterProvider 提供当前各列过滤状态，类似 grid 的 filter 组件
type FilterProvider interface {
	ColumnFilters() []ColumnFilter
}

// ColumnFilters is a static FilterProvider.
type ColumnFilters []ColumnFilter

func (c ColumnFilters) ColumnFilters() []ColumnFilter {
	return c
}
