package server

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"odataview/attribute"
	"odataview/common"
)

var (
	opBytesAnd = "$and"
	opBytesOr  = "$or"
	opBytesNot = "$not"
)

type filterNodeType string

const (
	connection filterNodeType = "connection"
	operation  filterNodeType = "operation"
	function   filterNodeType = "function"
	property   filterNodeType = "property"
	literal    filterNodeType = "literal"
)

// filterNode 是解析后的 $filter 表达式树
type filterNode struct {
	Type       filterNodeType
	Connect    string
	ChildNodes []filterNode
	Op         string
	Name       string
	Value      interface{}
}

var comparisons = map[string]string{
	"eq": "=",
	"ne": "IS NOT",
	"gt": ">",
	"ge": ">=",
	"lt": "<",
	"le": "<=",
}

// 函数名 -> 参数个数
var functions = map[string]int{
	"contains":    2,
	"substringof": 2,
	"startswith":  2,
	"endswith":    2,
	"tolower":     1,
	"toupper":     1,
	"length":      1,
	"trim":        1,
}

type filterParser struct {
	tokens []token
	pos    int
}

// parseFilter 解析 OData $filter 表达式，空串返回 nil
func parseFilter(filter string) (node *filterNode, err error) {
	if strings.TrimSpace(filter) == "" {
		return
	}
	tokens, err := tokenize(filter)
	if err != nil {
		return
	}
	p := &filterParser{tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return
	}
	if tok := p.peek(); tok.kind != tokEOF {
		err = p.unexpected(tok)
		return
	}
	node = &n
	return
}

func (p *filterParser) peek() token {
	return p.tokens[p.pos]
}

func (p *filterParser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *filterParser) keyword(word string) bool {
	tok := p.peek()
	if tok.kind == tokIdent && strings.EqualFold(tok.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *filterParser) expect(kind tokenKind) (tok token, err error) {
	tok = p.next()
	if tok.kind != kind {
		err = p.unexpected(tok)
	}
	return
}

func (p *filterParser) unexpected(tok token) error {
	if tok.kind == tokEOF {
		return errors.Wrap(common.ErrUnsupportedFilter, "unexpected end of filter")
	}
	return errors.Wrapf(common.ErrUnsupportedFilter, "unexpected %q at %d", tok.text, tok.pos)
}

func (p *filterParser) parseOr() (node filterNode, err error) {
	return p.parseConnect(opBytesOr, "or", p.parseAnd)
}

func (p *filterParser) parseAnd() (node filterNode, err error) {
	return p.parseConnect(opBytesAnd, "and", p.parseUnary)
}

func (p *filterParser) parseConnect(connect, word string, operand func() (filterNode, error)) (node filterNode, err error) {
	node, err = operand()
	if err != nil {
		return
	}
	childNodes := []filterNode{node}
	for p.keyword(word) {
		var child filterNode
		if child, err = operand(); err != nil {
			return
		}
		childNodes = append(childNodes, child)
	}
	if len(childNodes) > 1 {
		node = filterNode{Type: connection, Connect: connect, ChildNodes: childNodes}
	}
	return
}

func (p *filterParser) parseUnary() (node filterNode, err error) {
	if p.keyword("not") {
		var child filterNode
		if child, err = p.parseUnary(); err != nil {
			return
		}
		node = filterNode{Type: connection, Connect: opBytesNot, ChildNodes: []filterNode{child}}
		return
	}
	return p.parseComparison()
}

func (p *filterParser) parseComparison() (node filterNode, err error) {
	left, err := p.parseOperand()
	if err != nil {
		return
	}
	tok := p.peek()
	op := strings.ToLower(tok.text)
	if _, ok := comparisons[op]; tok.kind != tokIdent || !ok {
		node = left
		return
	}
	p.next()
	right, err := p.parseOperand()
	if err != nil {
		return
	}
	node = filterNode{Type: operation, Op: op, ChildNodes: []filterNode{left, right}}
	return
}

func (p *filterParser) parseOperand() (node filterNode, err error) {
	tok := p.next()
	switch tok.kind {
	case tokLParen:
		if node, err = p.parseOr(); err != nil {
			return
		}
		_, err = p.expect(tokRParen)
	case tokString:
		node = filterNode{Type: literal, Value: tok.text}
	case tokNumber:
		var f float64
		if f, err = strconv.ParseFloat(tok.text, 64); err != nil {
			err = errors.Wrapf(common.ErrUnsupportedFilter, "invalid number %s", tok.text)
			return
		}
		node = filterNode{Type: literal, Value: f}
	case tokDate:
		var value interface{}
		if value, err = normalizeDate(tok.text); err != nil {
			err = errors.Wrapf(common.ErrUnsupportedFilter, "invalid datetime %s", tok.text)
			return
		}
		node = filterNode{Type: literal, Value: value}
	case tokIdent:
		node, err = p.parseIdent(tok)
	default:
		err = p.unexpected(tok)
	}
	return
}

func (p *filterParser) parseIdent(tok token) (node filterNode, err error) {
	switch strings.ToLower(tok.text) {
	case "true":
		return filterNode{Type: literal, Value: true}, nil
	case "false":
		return filterNode{Type: literal, Value: false}, nil
	case "null":
		return filterNode{Type: literal, Value: nil}, nil
	}
	if p.peek().kind != tokLParen {
		node = filterNode{Type: property, Name: tok.text}
		return
	}
	name := strings.ToLower(tok.text)
	arity, ok := functions[name]
	if !ok {
		err = errors.Wrapf(common.ErrUnsupportedFilter, "unknown function %s", tok.text)
		return
	}
	p.next()
	node = filterNode{Type: function, Name: name, ChildNodes: []filterNode{}}
	for p.peek().kind != tokRParen {
		if len(node.ChildNodes) > 0 {
			if _, err = p.expect(tokComma); err != nil {
				return
			}
		}
		var arg filterNode
		if arg, err = p.parseOr(); err != nil {
			return
		}
		node.ChildNodes = append(node.ChildNodes, arg)
	}
	p.next()
	if len(node.ChildNodes) != arity {
		err = errors.Wrapf(common.ErrUnsupportedFilter, "%s takes %d arguments", name, arity)
	}
	return
}

// normalizeDate 把各种日期写法统一成 ISOLayout 字符串，库里的日期都按这个格式保存
func normalizeDate(v interface{}) (value interface{}, err error) {
	parsed, err := attribute.For(common.DataTypeDate).Parse(v)
	if err != nil || parsed == nil {
		return
	}
	value = parsed.(time.Time).UTC().Format(attribute.ISOLayout)
	return
}

// jsonPath 生成 data 列上的取值表达式，A/B 表示嵌套字段
func jsonPath(name string) string {
	var buffer bytes.Buffer
	buffer.WriteString("(data ->> '$")
	for _, part := range strings.Split(name, "/") {
		buffer.WriteString(`."`)
		buffer.WriteString(part)
		buffer.WriteString(`"`)
	}
	buffer.WriteString("')")
	return buffer.String()
}

func (q *filterNode) Build() (stmt string, args []interface{}, err error) {
	switch q.Type {
	case connection:
		stmt, args, err = q.buildConnect()
	case operation:
		stmt, args, err = q.buildOp()
	case function:
		stmt, args, err = q.buildFunction()
	case property:
		stmt = jsonPath(q.Name)
	case literal:
		stmt = "?"
		args = []interface{}{sqlValue(q.Value)}
	default:
		err = fmt.Errorf("unsupport filterNode type: %s", q.Type)
	}
	return
}

func sqlValue(v interface{}) interface{} {
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func (q *filterNode) buildChildren() (stmtList []string, args []interface{}, err error) {
	for _, child := range q.ChildNodes {
		var childStmt string
		var childArgs []interface{}
		childStmt, childArgs, err = child.Build()
		if err != nil {
			return
		}
		stmtList = append(stmtList, childStmt)
		args = append(args, childArgs...)
	}
	return
}

func (q *filterNode) buildConnect() (stmt string, args []interface{}, err error) {
	stmtList, args, err := q.buildChildren()
	if err != nil {
		return
	}
	var buffer bytes.Buffer
	switch q.Connect {
	case opBytesAnd:
		buffer.WriteString("(")
		buffer.WriteString(strings.Join(stmtList, " AND "))
	case opBytesOr:
		buffer.WriteString("(")
		buffer.WriteString(strings.Join(stmtList, " OR "))
	case opBytesNot:
		buffer.WriteString("NOT (")
		buffer.WriteString(strings.Join(stmtList, " AND "))
	default:
		err = fmt.Errorf("unsupport filter connect type of %s", q.Connect)
		return
	}
	buffer.WriteString(")")
	stmt = buffer.String()
	return
}

func isNull(n filterNode) bool {
	return n.Type == literal && n.Value == nil
}

func (q *filterNode) buildOp() (stmt string, args []interface{}, err error) {
	left, right := q.ChildNodes[0], q.ChildNodes[1]
	if isNull(left) {
		left, right = right, left
	}
	if isNull(right) {
		var leftStmt string
		if leftStmt, args, err = left.Build(); err != nil {
			return
		}
		switch q.Op {
		case "eq":
			stmt = leftStmt + " IS NULL"
		case "ne":
			stmt = leftStmt + " IS NOT NULL"
		default:
			// 与 null 的大小比较恒为假
			stmt = "0"
		}
		return
	}
	stmtList, args, err := q.buildChildren()
	if err != nil {
		return
	}
	stmt = stmtList[0] + " " + comparisons[q.Op] + " " + stmtList[1]
	return
}

func (q *filterNode) buildFunction() (stmt string, args []interface{}, err error) {
	stmtList, args, err := q.buildChildren()
	if err != nil {
		return
	}
	switch q.Name {
	case "contains":
		stmt = "odata_contains(" + stmtList[0] + ", " + stmtList[1] + ")"
	case "substringof":
		// substringof(needle, haystack)，参数顺序与 contains 相反
		swapped := filterNode{Type: function, Name: "contains", ChildNodes: []filterNode{q.ChildNodes[1], q.ChildNodes[0]}}
		return swapped.buildFunction()
	case "startswith":
		stmt = "odata_startswith(" + stmtList[0] + ", " + stmtList[1] + ")"
	case "endswith":
		stmt = "odata_endswith(" + stmtList[0] + ", " + stmtList[1] + ")"
	case "tolower":
		stmt = "lower(" + stmtList[0] + ")"
	case "toupper":
		stmt = "upper(" + stmtList[0] + ")"
	case "length":
		stmt = "length(" + stmtList[0] + ")"
	case "trim":
		stmt = "trim(" + stmtList[0] + ")"
	default:
		err = errors.Wrapf(common.ErrUnsupportedFilter, "unknown function %s", q.Name)
	}
	return
}
