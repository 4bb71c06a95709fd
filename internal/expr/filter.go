package expr

import (
	"slices"

	"github.com/hupe1980/vectable/record"
)

// Filter is a parsed predicate bound to a schema.
type Filter struct {
	root    Node
	columns []string
}

// Compile parses src and checks it against schema: every column must exist
// and every comparison must be between comparable types.
func Compile(src string, schema *record.Schema) (*Filter, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	b := binder{schema: schema}
	t, err := b.typeOf(root)
	if err != nil {
		return nil, err
	}
	if t != record.TypeBool && t != record.TypeNull {
		return nil, bindErr("expression %s is %s, not a predicate", root, t)
	}
	slices.Sort(b.columns)
	return &Filter{root: root, columns: slices.Compact(b.columns)}, nil
}

// Root returns the parsed expression.
func (f *Filter) Root() Node { return f.root }

// Columns returns the referenced column names, sorted.
func (f *Filter) Columns() []string { return f.columns }

func (f *Filter) String() string { return f.root.String() }

// Match returns the indexes of the rows of b that satisfy the predicate.
// b must contain every referenced column.
func (f *Filter) Match(b *record.Batch) ([]int, error) {
	ev, err := newEvaluator(b, f.columns)
	if err != nil {
		return nil, err
	}
	var out []int
	for row := range b.NumRows() {
		if ev.truth(f.root, row) == truthTrue {
			out = append(out, row)
		}
	}
	return out, nil
}

// Count returns the number of rows of b that satisfy the predicate.
func (f *Filter) Count(b *record.Batch) (int, error) {
	rows, err := f.Match(b)
	return len(rows), err
}

type binder struct {
	schema  *record.Schema
	columns []string
}

func (b *binder) typeOf(n Node) (record.TypeID, error) {
	switch n := n.(type) {
	case *Column:
		f, ok := b.schema.FieldByName(n.Name)
		if !ok {
			return 0, bindErr("unknown column %q", n.Name)
		}
		b.columns = append(b.columns, n.Name)
		return f.Type.ID, nil
	case *Literal:
		return n.Value.Kind, nil
	case *Compare:
		l, err := b.typeOf(n.Left)
		if err != nil {
			return 0, err
		}
		r, err := b.typeOf(n.Right)
		if err != nil {
			return 0, err
		}
		if !comparable(l, r) {
			return 0, bindErr("cannot compare %s with %s in %s", l, r, n)
		}
		return record.TypeBool, nil
	case *Logical:
		for _, x := range []Node{n.Left, n.Right} {
			if err := b.predicate(x); err != nil {
				return 0, err
			}
		}
		return record.TypeBool, nil
	case *Not:
		return record.TypeBool, b.predicate(n.X)
	case *In:
		t, err := b.typeOf(n.X)
		if err != nil {
			return 0, err
		}
		for _, v := range n.List {
			if !comparable(t, v.Kind) {
				return 0, bindErr("cannot compare %s with %s in %s", t, v.Kind, n)
			}
		}
		return record.TypeBool, nil
	case *Between:
		t, err := b.typeOf(n.X)
		if err != nil {
			return 0, err
		}
		for _, bound := range []Node{n.Lo, n.Hi} {
			bt, err := b.typeOf(bound)
			if err != nil {
				return 0, err
			}
			if !comparable(t, bt) {
				return 0, bindErr("cannot compare %s with %s in %s", t, bt, n)
			}
		}
		return record.TypeBool, nil
	case *Like:
		t, err := b.typeOf(n.X)
		if err != nil {
			return 0, err
		}
		if t != record.TypeString && t != record.TypeNull {
			return 0, bindErr("LIKE needs a string operand, got %s", t)
		}
		return record.TypeBool, nil
	case *IsNull:
		_, err := b.typeOf(n.X)
		return record.TypeBool, err
	}
	return 0, bindErr("unsupported expression %T", n)
}

func (b *binder) predicate(n Node) error {
	t, err := b.typeOf(n)
	if err != nil {
		return err
	}
	if t != record.TypeBool && t != record.TypeNull {
		return bindErr("%s is %s, not a predicate", n, t)
	}
	return nil
}

func comparable(a, b record.TypeID) bool {
	if a == record.TypeNull || b == record.TypeNull {
		return true
	}
	na := record.DataType{ID: a}.IsNumeric()
	nb := record.DataType{ID: b}.IsNumeric()
	if na || nb {
		return na && nb
	}
	return a == b && a != record.TypeVector && a != record.TypeList
}
