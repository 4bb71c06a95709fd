package record

import (
	"fmt"
	"strings"
)

// TypeID identifies the physical kind of a DataType.
type TypeID uint8

const (
	TypeNull TypeID = iota
	TypeBool
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeString
	TypeBinary
	TypeVector
	TypeList
)

func (id TypeID) String() string {
	switch id {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	case TypeVector:
		return "vector"
	case TypeList:
		return "list"
	default:
		return fmt.Sprintf("TypeID(%d)", uint8(id))
	}
}

// DataType is the semantic type of a field. Dim is set for vectors and Elem
// for lists.
type DataType struct {
	ID   TypeID
	Dim  int
	Elem *DataType
}

var (
	BoolType    = DataType{ID: TypeBool}
	Int32Type   = DataType{ID: TypeInt32}
	Int64Type   = DataType{ID: TypeInt64}
	Float32Type = DataType{ID: TypeFloat32}
	Float64Type = DataType{ID: TypeFloat64}
	StringType  = DataType{ID: TypeString}
	BinaryType  = DataType{ID: TypeBinary}
)

// VectorOf returns a fixed-dimension float32 vector type.
func VectorOf(dim int) DataType {
	return DataType{ID: TypeVector, Dim: dim}
}

// ListOf returns a variable-length list type.
func ListOf(elem DataType) DataType {
	e := elem
	return DataType{ID: TypeList, Elem: &e}
}

// Equal reports whether two types are identical.
func (t DataType) Equal(o DataType) bool {
	if t.ID != o.ID {
		return false
	}
	switch t.ID {
	case TypeVector:
		return t.Dim == o.Dim
	case TypeList:
		if t.Elem == nil || o.Elem == nil {
			return t.Elem == o.Elem
		}
		return t.Elem.Equal(*o.Elem)
	default:
		return true
	}
}

// IsNumeric reports whether values of t compare as numbers.
func (t DataType) IsNumeric() bool {
	switch t.ID {
	case TypeInt32, TypeInt64, TypeFloat32, TypeFloat64:
		return true
	default:
		return false
	}
}

// Validate checks that t is well formed.
func (t DataType) Validate() error {
	switch t.ID {
	case TypeBool, TypeInt32, TypeInt64, TypeFloat32, TypeFloat64, TypeString, TypeBinary:
		return nil
	case TypeVector:
		if t.Dim <= 0 {
			return fmt.Errorf("%w: vector dimension must be positive, got %d", ErrInvalidSchema, t.Dim)
		}
		return nil
	case TypeList:
		if t.Elem == nil {
			return fmt.Errorf("%w: list without element type", ErrInvalidSchema)
		}
		return t.Elem.Validate()
	default:
		return fmt.Errorf("%w: unsupported type %s", ErrInvalidSchema, t.ID)
	}
}

func (t DataType) String() string {
	switch t.ID {
	case TypeVector:
		return fmt.Sprintf("vector[%d]", t.Dim)
	case TypeList:
		var sb strings.Builder
		sb.WriteString("list<")
		if t.Elem != nil {
			sb.WriteString(t.Elem.String())
		}
		sb.WriteString(">")
		return sb.String()
	default:
		return t.ID.String()
	}
}
