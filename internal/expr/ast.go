package expr

import (
	"regexp"
	"strings"

	"github.com/hupe1980/vectable/record"
)

// Node is a parsed expression.
type Node interface {
	String() string
	node()
}

type Column struct{ Name string }

type Literal struct{ Value record.Value }

// Compare is a binary comparison. Op is one of =, !=, <, <=, >, >=.
type Compare struct {
	Op          string
	Left, Right Node
}

// Logical is AND or OR.
type Logical struct {
	Op          string
	Left, Right Node
}

type Not struct{ X Node }

type In struct {
	X       Node
	List    []record.Value
	Negated bool
}

type Between struct {
	X, Lo, Hi Node
	Negated   bool
}

type Like struct {
	X       Node
	Pattern string
	Negated bool
	re      *regexp.Regexp
}

type IsNull struct {
	X       Node
	Negated bool
}

func (*Column) node()  {}
func (*Literal) node() {}
func (*Compare) node() {}
func (*Logical) node() {}
func (*Not) node()     {}
func (*In) node()      {}
func (*Between) node() {}
func (*Like) node()    {}
func (*IsNull) node()  {}

func (c *Column) String() string {
	if isPlainIdent(c.Name) {
		return c.Name
	}
	return "`" + strings.ReplaceAll(c.Name, "`", "``") + "`"
}

func (l *Literal) String() string {
	if l.Value.Kind == record.TypeString {
		return "'" + strings.ReplaceAll(l.Value.Str(), "'", "''") + "'"
	}
	if l.Value.Kind == record.TypeBool {
		if l.Value.Bool() {
			return "TRUE"
		}
		return "FALSE"
	}
	return l.Value.String()
}

func (c *Compare) String() string {
	return c.Left.String() + " " + c.Op + " " + c.Right.String()
}

func (l *Logical) String() string {
	return "(" + l.Left.String() + " " + l.Op + " " + l.Right.String() + ")"
}

func (n *Not) String() string { return "NOT " + n.X.String() }

func (in *In) String() string {
	parts := make([]string, len(in.List))
	for i, v := range in.List {
		parts[i] = (&Literal{Value: v}).String()
	}
	return in.X.String() + negation(in.Negated) + " IN (" + strings.Join(parts, ", ") + ")"
}

func (b *Between) String() string {
	return b.X.String() + negation(b.Negated) + " BETWEEN " + b.Lo.String() + " AND " + b.Hi.String()
}

func (l *Like) String() string {
	return l.X.String() + negation(l.Negated) + " LIKE " + (&Literal{Value: record.StringValue(l.Pattern)}).String()
}

func (n *IsNull) String() string {
	if n.Negated {
		return n.X.String() + " IS NOT NULL"
	}
	return n.X.String() + " IS NULL"
}

func negation(neg bool) string {
	if neg {
		return " NOT"
	}
	return ""
}

func isPlainIdent(s string) bool {
	if s == "" || keywords[strings.ToUpper(s)] {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '.' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

// likeRegexp translates a LIKE pattern: % matches any run, _ one rune.
func likeRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
