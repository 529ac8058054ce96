package server

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"

	"odataview/attribute"
	"odataview/common"
)

// keyPredicate 生成 k1=v1,k2=v2 形式的主键谓词
func keyPredicate(keys []string, item map[string]interface{}) (predicate string, err error) {
	var buffer bytes.Buffer
	for idx, key := range keys {
		value := item[key]
		if value == nil {
			err = errors.Wrapf(common.ErrMissingKey, "key %s", key)
			return
		}
		var literal string
		if literal, err = attribute.Literal(value, common.DataTypeObject); err != nil {
			return
		}
		if idx != 0 {
			buffer.WriteString(",")
		}
		buffer.WriteString(key)
		buffer.WriteString("=")
		buffer.WriteString(literal)
	}
	predicate = buffer.String()
	return
}

// parseKeyPredicate 解析 (1) 或 (k1=v1,k2='v2') 中括号内的部分
func parseKeyPredicate(predicate string, keys []string) (key map[string]interface{}, err error) {
	tokens, err := tokenize(predicate)
	if err != nil {
		return
	}
	key = map[string]interface{}{}
	// 单主键可以省略名字
	if len(keys) == 1 && len(tokens) == 2 {
		key[keys[0]], err = keyValue(tokens[0])
		return
	}
	p := &filterParser{tokens: tokens}
	for p.peek().kind != tokEOF {
		if len(key) > 0 {
			if _, err = p.expect(tokComma); err != nil {
				return
			}
		}
		var name token
		if name, err = p.expect(tokIdent); err != nil {
			return
		}
		if _, err = p.expect(tokEquals); err != nil {
			return
		}
		if key[name.text], err = keyValue(p.next()); err != nil {
			return
		}
	}
	for _, k := range keys {
		if _, ok := key[k]; !ok {
			err = errors.Wrapf(common.ErrMissingKey, "key %s", k)
			return
		}
	}
	return
}

func keyValue(tok token) (value interface{}, err error) {
	switch tok.kind {
	case tokString:
		value = tok.text
	case tokDate:
		value, err = normalizeDate(tok.text)
	case tokNumber:
		value, err = strconv.ParseFloat(tok.text, 64)
	case tokIdent:
		switch tok.text {
		case "true":
			value = true
		case "false":
			value = false
		default:
			err = errors.Wrapf(common.ErrUnsupportedFilter, "invalid key value %q", tok.text)
		}
	default:
		err = errors.Wrapf(common.ErrUnsupportedFilter, "invalid key value %q", tok.text)
	}
	return
}
