package chunkset

import "fmt"

// DType identifies the element type of a field.
type DType string

// Supported element types.
const (
	Bool    DType = "bool"
	Int8    DType = "int8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Uint32  DType = "uint32"
	Uint64  DType = "uint64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// ItemSize returns the size of one element in bytes.
func (d DType) ItemSize() (int, error) {
	switch d {
	case Bool, Int8, Uint8:
		return 1, nil
	case Int16, Uint16:
		return 2, nil
	case Int32, Uint32, Float32:
		return 4, nil
	case Int64, Uint64, Float64:
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: dtype %q", ErrUnsupportedValue, string(d))
	}
}

// Valid reports whether d is a supported element type.
func (d DType) Valid() bool {
	_, err := d.ItemSize()
	return err == nil
}
