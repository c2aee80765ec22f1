// Package ir implements the SSA intermediate representation: data types,
// nodes, basic blocks, prototypes and functions, plus the builder
// operations used to construct them.
package ir

import "fmt"

// Kind distinguishes the major families of DataType.
type Kind uint8

const (
	Void Kind = iota
	Int
	Float
	Pointer
)

func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Int:
		return "int"
	case Float:
		return "float"
	case Pointer:
		return "ptr"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Float width tags, stored in DataType.Data when Kind == Float.
const (
	F32 = 32
	F64 = 64
)

// DataType is the (kind, data, width) triple of spec.md §3.
//
// For Int, Data is the bit-width (1..2048). For Float, Data is F32 or
// F64. Width is log2 of the SIMD lane count; 0 means scalar.
type DataType struct {
	Kind  Kind
	Data  int
	Width int
}

func VoidType() DataType { return DataType{Kind: Void} }

func IntType(bits int) DataType { return DataType{Kind: Int, Data: bits} }

func FloatType(bits int) DataType { return DataType{Kind: Float, Data: bits} }

func PointerType() DataType { return DataType{Kind: Pointer, Data: 64} }

// VectorOf returns dt widened to carry 1<<log2Lanes lanes.
func VectorOf(dt DataType, log2Lanes int) DataType {
	dt.Width = log2Lanes
	return dt
}

func (dt DataType) Lanes() int {
	return 1 << dt.Width
}

// Size returns the size in bytes of a single value of dt, including any
// vector lanes.
func (dt DataType) Size() int {
	var scalar int
	switch dt.Kind {
	case Void:
		return 0
	case Pointer:
		scalar = 8
	case Float:
		switch dt.Data {
		case F32:
			scalar = 4
		case F64:
			scalar = 8
		default:
			panic(fmt.Sprintf("ir: invalid float width %d", dt.Data))
		}
	case Int:
		if dt.Data <= 0 {
			panic("ir: invalid int bit-width")
		}
		if dt.Data > 64 {
			scalar = (dt.Data + 7) / 8
		} else {
			scalar = nextPow2Bytes(dt.Data)
		}
	default:
		panic(fmt.Sprintf("ir: invalid data type kind %d", dt.Kind))
	}
	return scalar << dt.Width
}

// Align returns the natural alignment in bytes of dt.
func (dt DataType) Align() int {
	switch dt.Kind {
	case Void:
		return 1
	case Int:
		if dt.Data > 64 {
			return 8
		}
		return nextPow2Bytes(dt.Data)
	default:
		return dt.Size() / dt.Lanes()
	}
}

// nextPow2Bytes rounds bits up to a byte, then up to 1/2/4/8.
func nextPow2Bytes(bits int) int {
	b := (bits + 7) / 8
	switch {
	case b <= 1:
		return 1
	case b <= 2:
		return 2
	case b <= 4:
		return 4
	default:
		return 8
	}
}

func (dt DataType) String() string {
	base := ""
	switch dt.Kind {
	case Void:
		base = "void"
	case Pointer:
		base = "ptr"
	case Int:
		base = fmt.Sprintf("i%d", dt.Data)
	case Float:
		base = fmt.Sprintf("f%d", dt.Data)
	}
	if dt.Width > 0 {
		return fmt.Sprintf("%s x%d", base, dt.Lanes())
	}
	return base
}

func (dt DataType) IsInt() bool   { return dt.Kind == Int }
func (dt DataType) IsFloat() bool { return dt.Kind == Float }
func (dt DataType) Equal(o DataType) bool {
	return dt.Kind == o.Kind && dt.Data == o.Data && dt.Width == o.Width
}
