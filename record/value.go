package record

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a single dynamically typed cell.
type Value struct {
	Kind TypeID
	b    bool
	i    int64
	f    float64
	s    string
	bs   []byte
	vec  []float32
	list []Value
}

// Null is the null value.
var Null = Value{Kind: TypeNull}

func BoolValue(v bool) Value { return Value{Kind: TypeBool, b: v} }
func Int32Value(v int32) Value { return Value{Kind: TypeInt32, i: int64(v)} }
func Int64Value(v int64) Value { return Value{Kind: TypeInt64, i: v} }
func Float32Value(v float32) Value { return Value{Kind: TypeFloat32, f: float64(v)} }
func Float64Value(v float64) Value { return Value{Kind: TypeFloat64, f: v} }
func StringValue(v string) Value { return Value{Kind: TypeString, s: v} }
func BinaryValue(v []byte) Value { return Value{Kind: TypeBinary, bs: v} }

// VectorValue wraps v without copying.
func VectorValue(v []float32) Value { return Value{Kind: TypeVector, vec: v} }

// ListValue wraps items without copying.
func ListValue(items ...Value) Value { return Value{Kind: TypeList, list: items} }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.Kind == TypeNull }

func (v Value) Bool() bool { return v.b }
func (v Value) Int() int64 { return v.i }
func (v Value) Str() string { return v.s }
func (v Value) Bytes() []byte { return v.bs }
func (v Value) Vector() []float32 { return v.vec }
func (v Value) List() []Value { return v.list }
func (v Value) IsNumeric() bool { return DataType{ID: v.Kind}.IsNumeric() }
func (v Value) isInteger() bool { return v.Kind == TypeInt32 || v.Kind == TypeInt64 }

// Float returns the value as float64 for any numeric kind.
func (v Value) Float() float64 {
	if v.isInteger() {
		return float64(v.i)
	}
	return v.f
}

// Conforms reports whether v can be stored in a column of type t. Integers
// are accepted by wider integer and float columns.
func (v Value) Conforms(t DataType) bool {
	switch t.ID {
	case TypeBool, TypeString, TypeBinary:
		return v.Kind == t.ID
	case TypeInt32:
		return v.Kind == TypeInt32 || (v.Kind == TypeInt64 && v.i >= math.MinInt32 && v.i <= math.MaxInt32)
	case TypeInt64:
		return v.isInteger()
	case TypeFloat32, TypeFloat64:
		return v.IsNumeric()
	case TypeVector:
		return v.Kind == TypeVector && len(v.vec) == t.Dim
	case TypeList:
		if v.Kind != TypeList {
			return false
		}
		for _, item := range v.list {
			if !item.IsNull() && !item.Conforms(*t.Elem) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Equal reports deep equality. Floats compare by bit pattern so NaN equals NaN.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case TypeNull:
		return true
	case TypeBool:
		return v.b == o.b
	case TypeInt32, TypeInt64:
		return v.i == o.i
	case TypeFloat32, TypeFloat64:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case TypeString:
		return v.s == o.s
	case TypeBinary:
		return bytes.Equal(v.bs, o.bs)
	case TypeVector:
		if len(v.vec) != len(o.vec) {
			return false
		}
		for i := range v.vec {
			if math.Float32bits(v.vec[i]) != math.Float32bits(o.vec[i]) {
				return false
			}
		}
		return true
	case TypeList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two scalar values. Numbers of any kind compare with each
// other; strings, bools and binaries only with their own kind.
func Compare(a, b Value) (int, error) {
	switch {
	case a.IsNumeric() && b.IsNumeric():
		if a.isInteger() && b.isInteger() {
			return cmp3(a.i, b.i), nil
		}
		return cmp3(a.Float(), b.Float()), nil
	case a.Kind == TypeString && b.Kind == TypeString:
		return strings.Compare(a.s, b.s), nil
	case a.Kind == TypeBool && b.Kind == TypeBool:
		switch {
		case a.b == b.b:
			return 0, nil
		case !a.b:
			return -1, nil
		default:
			return 1, nil
		}
	case a.Kind == TypeBinary && b.Kind == TypeBinary:
		return bytes.Compare(a.bs, b.bs), nil
	default:
		return 0, fmt.Errorf("cannot compare %s with %s", a.Kind, b.Kind)
	}
}

func cmp3[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (v Value) String() string {
	switch v.Kind {
	case TypeNull:
		return "NULL"
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeInt32, TypeInt64:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat32:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case TypeFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeString:
		return strconv.Quote(v.s)
	case TypeBinary:
		return fmt.Sprintf("0x%x", v.bs)
	case TypeVector:
		return fmt.Sprint(v.vec)
	case TypeList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "?"
}
