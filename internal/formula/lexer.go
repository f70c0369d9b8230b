package formula

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

var twoCharOps = map[string]string{
	"<=": "<=",
	">=": ">=",
	"==": "=",
	"!=": "!=",
	"<>": "!=",
	"&&": "&",
	"||": "|",
}

// word operators are accepted in any case
var wordOps = map[string]string{
	"AND": "&",
	"OR":  "|",
	"NOT": "!",
}

func tokenize(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == '{':
			end := i + 1
			for end < len(rs) && rs[end] != '}' {
				end++
			}
			if end >= len(rs) {
				return nil, fmt.Errorf("%w: unterminated {name} at %d", ErrSyntax, i)
			}
			name := strings.TrimSpace(string(rs[i+1 : end]))
			if name == "" {
				return nil, fmt.Errorf("%w: empty {name} at %d", ErrSyntax, i)
			}
			toks = append(toks, token{kind: tokIdent, text: name, pos: i})
			i = end + 1
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			if i < len(rs) && (rs[i] == 'e' || rs[i] == 'E') {
				j := i + 1
				if j < len(rs) && (rs[j] == '+' || rs[j] == '-') {
					j++
				}
				if j < len(rs) && unicode.IsDigit(rs[j]) {
					i = j
					for i < len(rs) && unicode.IsDigit(rs[i]) {
						i++
					}
				}
			}
			text := string(rs[start:i])
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at %d", ErrSyntax, text, start)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: f, pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_' || rs[i] == '.') {
				i++
			}
			text := string(rs[start:i])
			if op, ok := wordOps[strings.ToUpper(text)]; ok {
				toks = append(toks, token{kind: tokOp, text: op, pos: start})
				continue
			}
			toks = append(toks, token{kind: tokIdent, text: text, pos: start})
		default:
			if i+1 < len(rs) {
				if op, ok := twoCharOps[string(rs[i:i+2])]; ok {
					toks = append(toks, token{kind: tokOp, text: op, pos: i})
					i += 2
					continue
				}
			}
			if strings.ContainsRune("+-*/%^<>=&|!", r) {
				toks = append(toks, token{kind: tokOp, text: string(r), pos: i})
				i++
				continue
			}
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, r, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(rs)})
	return toks, nil
}
