package expr

import (
	"strconv"
	"strings"

	"github.com/hupe1980/vectable/record"
)

// maxDepth bounds nesting so hostile input cannot exhaust the stack.
const maxDepth = 256

type parser struct {
	toks  []token
	pos   int
	depth int
}

// Parse parses a filter expression without binding it to a schema.
func Parse(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, syntaxErr(0, "empty expression")
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxErr(t.pos, "unexpected %q", t.text)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	if t := p.peek(); t.kind == tokKeyword && t.text == kw {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, syntaxErr(t.pos, "expected %s, got %q", what, t.text)
	}
	return t, nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return syntaxErr(p.peek().pos, "expression nested too deeply")
	}
	return nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.keyword("NOT") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer func() { p.depth-- }()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{X: x}, nil
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() (Node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	if t := p.peek(); t.kind == tokOp {
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &Compare{Op: normalizeOp(t.text), Left: left, Right: right}, nil
	}

	if p.keyword("IS") {
		neg := p.keyword("NOT")
		if !p.keyword("NULL") {
			t := p.peek()
			return nil, syntaxErr(t.pos, "expected NULL after IS, got %q", t.text)
		}
		return &IsNull{X: left, Negated: neg}, nil
	}

	neg := false
	if t := p.peek(); t.kind == tokKeyword && t.text == "NOT" {
		// Only IN, BETWEEN and LIKE may follow a postfix NOT.
		if nt := p.toks[p.pos+1]; nt.kind == tokKeyword && (nt.text == "IN" || nt.text == "BETWEEN" || nt.text == "LIKE") {
			p.next()
			neg = true
		}
	}

	switch {
	case p.keyword("IN"):
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return &In{X: left, List: list, Negated: neg}, nil
	case p.keyword("BETWEEN"):
		lo, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !p.keyword("AND") {
			t := p.peek()
			return nil, syntaxErr(t.pos, "expected AND in BETWEEN, got %q", t.text)
		}
		hi, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &Between{X: left, Lo: lo, Hi: hi, Negated: neg}, nil
	case p.keyword("LIKE"):
		t, err := p.expect(tokString, "pattern string")
		if err != nil {
			return nil, err
		}
		re, err := likeRegexp(t.text)
		if err != nil {
			return nil, syntaxErr(t.pos, "bad pattern: %v", err)
		}
		return &Like{X: left, Pattern: t.text, Negated: neg, re: re}, nil
	}
	return left, nil
}

func normalizeOp(op string) string {
	switch op {
	case "==":
		return "="
	case "<>":
		return "!="
	}
	return op
}

func (p *parser) parseList() ([]record.Value, error) {
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var out []record.Value
	for {
		t := p.next()
		v, ok, err := literal(t)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, syntaxErr(t.pos, "expected literal in IN list, got %q", t.text)
		}
		out = append(out, v)
		t = p.next()
		if t.kind == tokRParen {
			return out, nil
		}
		if t.kind != tokComma {
			return nil, syntaxErr(t.pos, "expected ',' or ')', got %q", t.text)
		}
	}
}

func (p *parser) parseOperand() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer func() { p.depth-- }()
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return n, nil
	case tokIdent, tokQuotedIdent:
		return &Column{Name: t.text}, nil
	}
	v, ok, err := literal(t)
	if err != nil {
		return nil, err
	}
	if !ok {
		if t.kind == tokEOF {
			return nil, syntaxErr(t.pos, "unexpected end of expression")
		}
		return nil, syntaxErr(t.pos, "unexpected %q", t.text)
	}
	return &Literal{Value: v}, nil
}

func literal(t token) (record.Value, bool, error) {
	switch t.kind {
	case tokString:
		return record.StringValue(t.text), true, nil
	case tokNumber:
		if !strings.ContainsAny(t.text, ".eE") {
			if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
				return record.Int64Value(i), true, nil
			}
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return record.Value{}, false, syntaxErr(t.pos, "bad number %q", t.text)
		}
		return record.Float64Value(f), true, nil
	case tokKeyword:
		switch t.text {
		case "TRUE":
			return record.BoolValue(true), true, nil
		case "FALSE":
			return record.BoolValue(false), true, nil
		case "NULL":
			return record.Null, true, nil
		}
	}
	return record.Value{}, false, nil
}
