package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokQuotedIdent
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokKeyword
)

type token struct {
	kind tokenKind
	text string // keywords are upper-cased
	pos  int
}

var keywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IN": true, "BETWEEN": true,
	"LIKE": true, "IS": true, "NULL": true, "TRUE": true, "FALSE": true,
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case r == '\'':
			s, n, err := lexQuoted(src[i:], '\'')
			if err != nil {
				return nil, syntaxErr(i, "%v", err)
			}
			toks = append(toks, token{tokString, s, i})
			i += n
		case r == '`' || r == '"':
			s, n, err := lexQuoted(src[i:], byte(r))
			if err != nil {
				return nil, syntaxErr(i, "%v", err)
			}
			toks = append(toks, token{tokQuotedIdent, s, i})
			i += n
		case strings.ContainsRune("=!<>", r):
			op := string(r)
			if i+1 < len(src) {
				if two := src[i : i+2]; two == "==" || two == "!=" || two == "<=" || two == ">=" || two == "<>" {
					op = two
				}
			}
			if op == "!" {
				return nil, syntaxErr(i, "unexpected '!'")
			}
			toks = append(toks, token{tokOp, op, i})
			i += len(op)
		case r == '-' || r == '.' || unicode.IsDigit(r):
			n := lexNumber(src[i:])
			if n == 0 || (n == 1 && r == '-') {
				return nil, syntaxErr(i, "unexpected %q", r)
			}
			toks = append(toks, token{tokNumber, src[i : i+n], i})
			i += n
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(src) {
				r, size := utf8.DecodeRuneInString(src[i:])
				if r != '_' && r != '.' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
			}
			word := src[start:i]
			if up := strings.ToUpper(word); keywords[up] {
				toks = append(toks, token{tokKeyword, up, start})
			} else {
				toks = append(toks, token{tokIdent, word, start})
			}
		default:
			return nil, syntaxErr(i, "unexpected %q", r)
		}
	}
	return append(toks, token{tokEOF, "", len(src)}), nil
}

// lexQuoted reads a quoted run starting at s[0]. A doubled quote escapes
// itself.
func lexQuoted(s string, q byte) (string, int, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != q {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			b.WriteByte(q)
			i++
			continue
		}
		return b.String(), i + 1, nil
	}
	return "", 0, fmt.Errorf("unterminated %c", q)
}

func lexNumber(s string) int {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	digits := 0
	for i < len(s) && (isDigit(s[i]) || s[i] == '.') {
		if s[i] != '.' {
			digits++
		}
		i++
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
