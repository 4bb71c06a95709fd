package expr

import "github.com/hupe1980/vectable/record"

// maxExactInt is the largest integer magnitude a float64 holds exactly.
const maxExactInt = 1 << 53

// Bound is a numeric constraint "Column Op Value" that every matching row
// satisfies. Op is one of =, <, <=, >, >=.
type Bound struct {
	Column string
	Op     string
	Value  float64
}

// Bounds returns the numeric constraints implied by the top-level AND
// conjuncts of the filter. They are used to skip fragments by their column
// statistics; a filter without such conjuncts has no bounds.
func (f *Filter) Bounds() []Bound {
	var out []Bound
	var walk func(n Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *Logical:
			if n.Op == "AND" {
				walk(n.Left)
				walk(n.Right)
			}
		case *Compare:
			if b, ok := compareBound(n.Op, n.Left, n.Right); ok {
				out = append(out, b)
			} else if b, ok := compareBound(flip(n.Op), n.Right, n.Left); ok {
				out = append(out, b)
			}
		case *Between:
			if n.Negated {
				return
			}
			col, ok := n.X.(*Column)
			if !ok {
				return
			}
			if lo, ok := numericLiteral(n.Lo); ok {
				out = append(out, Bound{Column: col.Name, Op: ">=", Value: lo})
			}
			if hi, ok := numericLiteral(n.Hi); ok {
				out = append(out, Bound{Column: col.Name, Op: "<=", Value: hi})
			}
		}
	}
	walk(f.root)
	return out
}

func compareBound(op string, l, r Node) (Bound, bool) {
	col, ok := l.(*Column)
	if !ok || op == "!=" {
		return Bound{}, false
	}
	v, ok := numericLiteral(r)
	if !ok {
		return Bound{}, false
	}
	return Bound{Column: col.Name, Op: op, Value: v}, true
}

func numericLiteral(n Node) (float64, bool) {
	lit, ok := n.(*Literal)
	if !ok || !lit.Value.IsNumeric() {
		return 0, false
	}
	if lit.Value.Kind == record.TypeInt32 || lit.Value.Kind == record.TypeInt64 {
		if i := lit.Value.Int(); i > maxExactInt || i < -maxExactInt {
			return 0, false
		}
	}
	return lit.Value.Float(), true
}

// flip mirrors an operator for swapped operands.
func flip(op string) string {
	switch op {
	case "<":
		return ">"
	case "<=":
		return ">="
	case ">":
		return "<"
	case ">=":
		return "<="
	}
	return op
}

// Predicate is a top-level AND conjunct a value index can answer. Op is
// one of =, <, <=, >, >=, IN or BETWEEN; BETWEEN holds lo and hi in Values.
type Predicate struct {
	Column string
	Op     string
	Values []record.Value
}

// Predicates returns the indexable conjuncts of the filter. complete
// reports whether the filter is exactly their conjunction.
func (f *Filter) Predicates() (preds []Predicate, complete bool) {
	complete = true
	var walk func(n Node)
	walk = func(n Node) {
		if p, ok := predicate(n); ok {
			preds = append(preds, p)
			return
		}
		if l, ok := n.(*Logical); ok && l.Op == "AND" {
			walk(l.Left)
			walk(l.Right)
			return
		}
		complete = false
	}
	walk(f.root)
	return preds, complete
}

func predicate(n Node) (Predicate, bool) {
	switch n := n.(type) {
	case *Compare:
		if n.Op == "!=" {
			return Predicate{}, false
		}
		if col, v, ok := columnLiteral(n.Left, n.Right); ok {
			return Predicate{Column: col, Op: n.Op, Values: []record.Value{v}}, true
		}
		if col, v, ok := columnLiteral(n.Right, n.Left); ok {
			return Predicate{Column: col, Op: flip(n.Op), Values: []record.Value{v}}, true
		}
	case *In:
		col, ok := n.X.(*Column)
		if !ok || n.Negated {
			return Predicate{}, false
		}
		// NULL items never make IN true.
		vals := make([]record.Value, 0, len(n.List))
		for _, v := range n.List {
			if !v.IsNull() {
				vals = append(vals, v)
			}
		}
		return Predicate{Column: col.Name, Op: "IN", Values: vals}, true
	case *Between:
		col, ok := n.X.(*Column)
		if !ok || n.Negated {
			return Predicate{}, false
		}
		lo, okLo := n.Lo.(*Literal)
		hi, okHi := n.Hi.(*Literal)
		if !okLo || !okHi || lo.Value.IsNull() || hi.Value.IsNull() {
			return Predicate{}, false
		}
		return Predicate{Column: col.Name, Op: "BETWEEN", Values: []record.Value{lo.Value, hi.Value}}, true
	}
	return Predicate{}, false
}

func columnLiteral(l, r Node) (string, record.Value, bool) {
	col, ok := l.(*Column)
	if !ok {
		return "", record.Value{}, false
	}
	lit, ok := r.(*Literal)
	if !ok || lit.Value.IsNull() {
		return "", record.Value{}, false
	}
	return col.Name, lit.Value, true
}
