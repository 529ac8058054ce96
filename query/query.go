package query

import (
	"bytes"
	"fmt"
	"strings"

	"odataview/attribute"
	"odataview/common"
)

type NodeType string

const (
	Connection NodeType = "connection"
	Operation  NodeType = "operation"
	Raw        NodeType = "raw"
)

var (
	opBytesAnd = "$and"
	opBytesOr  = "$or"
	opBytesNot = "$not"
)

// Node 是 $filter 表达式树的节点：
// connection 节点用 and/or/not 连接子节点，operation 节点是单个字段条件
type Node struct {
	Type       NodeType
	Connect    string
	ChildNodes []Node
	Field      string
	Op         common.Operator
	Value      interface{}
	DataType   common.DataType
	Expr       string
}

func And(nodes ...Node) Node {
	return Node{Type: Connection, Connect: opBytesAnd, ChildNodes: nodes}
}

func Or(nodes ...Node) Node {
	return Node{Type: Connection, Connect: opBytesOr, ChildNodes: nodes}
}

func Not(nodes ...Node) Node {
	return Node{Type: Connection, Connect: opBytesNot, ChildNodes: nodes}
}

func Op(field string, op common.Operator, value interface{}, dt common.DataType) Node {
	return Node{Type: Operation, Field: field, Op: op, Value: value, DataType: dt}
}

// Expr 包装一段已经是 OData 语法的表达式
func Expr(expr string) Node {
	return Node{Type: Raw, Expr: expr}
}

// Builder 组合顶层 filter，以 and 连接，不加括号
type Builder struct {
	filters []Node
}

func NewBuilder() *Builder {
	return &Builder{
		filters: []Node{},
	}
}

func (qb *Builder) Filter(nodes ...Node) *Builder {
	qb.filters = append(qb.filters, nodes...)
	return qb
}

func (qb *Builder) BuildFilter(version common.Version) (stmt string, err error) {
	stmtList := []string{}
	for _, node := range qb.filters {
		var s string
		s, err = node.Build(version)
		if err != nil {
			return
		}
		if s != "" {
			stmtList = append(stmtList, s)
		}
	}
	stmt = strings.Join(stmtList, " and ")
	return
}

// OrderBy 生成 $orderby：field[,field desc]...
func OrderBy(sds []common.SortDescription) string {
	var buffer bytes.Buffer
	for idx, sd := range sds {
		if idx != 0 {
			buffer.WriteString(",")
		}
		buffer.WriteString(sd.Property)
		if !sd.Ascending {
			buffer.WriteString(" desc")
		}
	}
	return buffer.String()
}

func (q Node) Build(version common.Version) (stmt string, err error) {
	switch q.Type {
	case Connection:
		stmt, err = q.buildConnect(version)
	case Operation:
		stmt, err = FormatCondition(q.Field, common.Condition{Operator: q.Op, Value: q.Value}, q.DataType, version)
	case Raw:
		stmt = q.Expr
	default:
		err = fmt.Errorf("unsupport queryNode type: %s", q.Type)
	}
	return
}

func (q Node) buildConnect(version common.Version) (stmt string, err error) {
	stmtList := []string{}
	for _, child := range q.ChildNodes {
		var childStmt string
		childStmt, err = child.Build(version)
		if err != nil {
			return
		}
		if childStmt != "" {
			stmtList = append(stmtList, childStmt)
		}
	}
	if len(stmtList) == 0 {
		return
	}
	switch q.Connect {
	case opBytesAnd:
		stmt = "(" + strings.Join(stmtList, " and ") + ")"
	case opBytesOr:
		stmt = "(" + strings.Join(stmtList, " or ") + ")"
	case opBytesNot:
		stmt = "not (" + strings.Join(stmtList, " and ") + ")"
	default:
		err = fmt.Errorf("unsupport query connect type of %s", q.Connect)
	}
	return
}

// FormatCondition 把单个条件翻译成 OData 语法。
// 注意 OpGreaterThanOrEqual 与 OpGreaterThan 一样输出 gt。
func FormatCondition(field string, cond common.Condition, dt common.DataType, version common.Version) (stmt string, err error) {
	if !cond.IsActive() {
		return
	}
	val, err := attribute.Literal(cond.Value, dt)
	if err != nil {
		return
	}
	switch cond.Operator {
	case common.OpEquals:
		stmt = field + " eq " + val
	case common.OpNotEquals:
		stmt = field + " ne " + val
	case common.OpGreaterThan:
		stmt = field + " gt " + val
	case common.OpGreaterThanOrEqual:
		stmt = field + " gt " + val
	case common.OpLessThan:
		stmt = field + " lt " + val
	case common.OpLessThanOrEqual:
		stmt = field + " le " + val
	case common.OpBeginsWith:
		stmt = "startswith(" + field + "," + val + ")"
	case common.OpEndsWith:
		stmt = "endswith(" + field + "," + val + ")"
	case common.OpContains:
		if version.Legacy() {
			stmt = "substringof(" + strings.ToLower(val) + ", tolower(" + field + "))"
		} else {
			stmt = "contains(" + field + "," + val + ")"
		}
	case common.OpDoesNotContain:
		if version.Legacy() {
			stmt = "not substringof(" + strings.ToLower(val) + ", tolower(" + field + "))"
		} else {
			stmt = "not contains(" + field + "," + val + ")"
		}
	default:
		err = fmt.Errorf("%w: operator %d", common.ErrUnsupportedFilter, cond.Operator)
	}
	return
}
