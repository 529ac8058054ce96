package server

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"odataview/common"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokDate
	tokLParen
	tokRParen
	tokComma
	tokEquals
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isIdentStart(r byte) bool {
	return r == '_' || unicode.IsLetter(rune(r))
}

func isIdentPart(r byte) bool {
	return isIdentStart(r) || unicode.IsDigit(rune(r)) || r == '/'
}

func isDigit(r byte) bool {
	return r >= '0' && r <= '9'
}

// tokenize 把 $filter 或 key predicate 切分成 token
func tokenize(s string) (tokens []token, err error) {
	tokens = []token{}
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '=':
			tokens = append(tokens, token{kind: tokEquals, text: "=", pos: i})
			i++
		case c == '\'':
			var text string
			start := i
			text, i, err = readString(s, i)
			if err != nil {
				return
			}
			tokens = append(tokens, token{kind: tokString, text: text, pos: start})
		case isDigit(c) || (c == '-' && i+1 < len(s) && isDigit(s[i+1])):
			start := i
			i++
			for i < len(s) && (isDigit(s[i]) || s[i] == '.' || s[i] == 'e' || s[i] == 'E' ||
				((s[i] == '+' || s[i] == '-') && (s[i-1] == 'e' || s[i-1] == 'E'))) {
				i++
			}
			text := s[start:i]
			// 12.5M 12L 1.0d 之类的类型后缀
			if i < len(s) && strings.ContainsRune("mMlLdDfF", rune(s[i])) {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, pos: start})
		case isIdentStart(c):
			start := i
			for i < len(s) && isIdentPart(s[i]) {
				i++
			}
			word := s[start:i]
			if i < len(s) && s[i] == '\'' {
				// datetime'...' datetimeoffset'...' guid'...'
				var text string
				text, i, err = readString(s, i)
				if err != nil {
					return
				}
				switch strings.ToLower(word) {
				case "datetime", "datetimeoffset":
					tokens = append(tokens, token{kind: tokDate, text: text, pos: start})
				case "guid", "binary", "x":
					tokens = append(tokens, token{kind: tokString, text: text, pos: start})
				default:
					err = errors.Wrapf(common.ErrUnsupportedFilter, "unknown literal prefix %s at %d", word, start)
					return
				}
				continue
			}
			tokens = append(tokens, token{kind: tokIdent, text: word, pos: start})
		default:
			err = errors.Wrapf(common.ErrUnsupportedFilter, "unexpected %q at %d", c, i)
			return
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(s)})
	return
}

// readString 读取从 s[i] 开始的单引号字符串，'' 表示一个单引号
func readString(s string, i int) (text string, next int, err error) {
	var buffer strings.Builder
	for j := i + 1; j < len(s); j++ {
		if s[j] != '\'' {
			buffer.WriteByte(s[j])
			continue
		}
		if j+1 < len(s) && s[j+1] == '\'' {
			buffer.WriteByte('\'')
			j++
			continue
		}
		return buffer.String(), j + 1, nil
	}
	err = errors.Wrapf(common.ErrUnsupportedFilter, "unterminated string at %d", i)
	return
}
