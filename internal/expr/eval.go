package expr

import (
	"fmt"

	"github.com/hupe1980/vectable/record"
)

type truth uint8

const (
	truthFalse truth = iota
	truthTrue
	truthUnknown
)

func fromBool(b bool) truth {
	if b {
		return truthTrue
	}
	return truthFalse
}

type evaluator struct {
	cols map[string]*record.Column
}

func newEvaluator(b *record.Batch, names []string) (*evaluator, error) {
	ev := &evaluator{cols: make(map[string]*record.Column, len(names))}
	for _, name := range names {
		c, err := b.ColumnByName(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		ev.cols[name] = c
	}
	return ev, nil
}

func (ev *evaluator) value(n Node, row int) record.Value {
	switch n := n.(type) {
	case *Column:
		return ev.cols[n.Name].Value(row)
	case *Literal:
		return n.Value
	}
	switch ev.truth(n, row) {
	case truthTrue:
		return record.BoolValue(true)
	case truthFalse:
		return record.BoolValue(false)
	}
	return record.Null
}

func (ev *evaluator) truth(n Node, row int) truth {
	switch n := n.(type) {
	case *Column, *Literal:
		v := ev.value(n, row)
		if v.Kind != record.TypeBool {
			return truthUnknown
		}
		return fromBool(v.Bool())
	case *Compare:
		return compare(n.Op, ev.value(n.Left, row), ev.value(n.Right, row))
	case *Logical:
		l := ev.truth(n.Left, row)
		if n.Op == "AND" {
			if l == truthFalse {
				return truthFalse
			}
			r := ev.truth(n.Right, row)
			if r == truthFalse {
				return truthFalse
			}
			if l == truthTrue && r == truthTrue {
				return truthTrue
			}
			return truthUnknown
		}
		if l == truthTrue {
			return truthTrue
		}
		r := ev.truth(n.Right, row)
		if r == truthTrue {
			return truthTrue
		}
		if l == truthFalse && r == truthFalse {
			return truthFalse
		}
		return truthUnknown
	case *Not:
		switch ev.truth(n.X, row) {
		case truthTrue:
			return truthFalse
		case truthFalse:
			return truthTrue
		}
		return truthUnknown
	case *In:
		v := ev.value(n.X, row)
		if v.IsNull() {
			return truthUnknown
		}
		res := truthFalse
		for _, item := range n.List {
			switch compare("=", v, item) {
			case truthTrue:
				return negate(truthTrue, n.Negated)
			case truthUnknown:
				res = truthUnknown
			}
		}
		return negate(res, n.Negated)
	case *Between:
		v := ev.value(n.X, row)
		lo := compare(">=", v, ev.value(n.Lo, row))
		hi := compare("<=", v, ev.value(n.Hi, row))
		var res truth
		switch {
		case lo == truthFalse || hi == truthFalse:
			res = truthFalse
		case lo == truthTrue && hi == truthTrue:
			res = truthTrue
		default:
			res = truthUnknown
		}
		return negate(res, n.Negated)
	case *Like:
		v := ev.value(n.X, row)
		if v.Kind != record.TypeString {
			return truthUnknown
		}
		return negate(fromBool(n.re.MatchString(v.Str())), n.Negated)
	case *IsNull:
		return fromBool(ev.value(n.X, row).IsNull() != n.Negated)
	}
	return truthUnknown
}

func negate(t truth, neg bool) truth {
	if !neg || t == truthUnknown {
		return t
	}
	if t == truthTrue {
		return truthFalse
	}
	return truthTrue
}

func compare(op string, a, b record.Value) truth {
	if a.IsNull() || b.IsNull() {
		return truthUnknown
	}
	c, err := record.Compare(a, b)
	if err != nil {
		return truthUnknown
	}
	switch op {
	case "=":
		return fromBool(c == 0)
	case "!=":
		return fromBool(c != 0)
	case "<":
		return fromBool(c < 0)
	case "<=":
		return fromBool(c <= 0)
	case ">":
		return fromBool(c > 0)
	case ">=":
		return fromBool(c >= 0)
	}
	return truthUnknown
}
