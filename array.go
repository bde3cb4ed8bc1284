package chunkset

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Array is a dense in-memory value: an element type, a shape and a
// little-endian buffer in row-major order. It is what field reads return
// and what field writes accept.
type Array struct {
	DType DType
	Shape []int
	Data  []byte
}

// NewArray allocates a zero-filled array.
func NewArray(dtype DType, shape ...int) (*Array, error) {
	itemSize, err := dtype.ItemSize()
	if err != nil {
		return nil, err
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d in shape", d)
		}
		n *= d
	}
	return &Array{
		DType: dtype,
		Shape: append([]int(nil), shape...),
		Data:  make([]byte, n*itemSize),
	}, nil
}

// NumElements returns the total element count.
func (a *Array) NumElements() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// ItemSize returns the size of one element in bytes.
func (a *Array) ItemSize() int {
	s, _ := a.DType.ItemSize()
	return s
}

// flatIndex converts a multi-dimensional index to a flat element offset.
func (a *Array) flatIndex(idx []int) (int, error) {
	if len(idx) != len(a.Shape) {
		return 0, fmt.Errorf("index rank %d does not match array rank %d", len(idx), len(a.Shape))
	}
	flat := 0
	for i, v := range idx {
		if v < 0 || v >= a.Shape[i] {
			return 0, fmt.Errorf("index %d out of range for dimension %d (size %d)", v, i, a.Shape[i])
		}
		flat = flat*a.Shape[i] + v
	}
	return flat, nil
}

// SetInt stores an integer element at the given index. Bool fields store
// zero as false and anything else as true.
func (a *Array) SetInt(value int64, idx ...int) error {
	flat, err := a.flatIndex(idx)
	if err != nil {
		return err
	}
	return a.putRaw(flat, uint64(value))
}

// Int reads an integer element at the given index.
func (a *Array) Int(idx ...int) (int64, error) {
	flat, err := a.flatIndex(idx)
	if err != nil {
		return 0, err
	}
	raw, err := a.raw(flat)
	if err != nil {
		return 0, err
	}
	switch a.DType {
	case Int8:
		return int64(int8(raw)), nil
	case Int16:
		return int64(int16(raw)), nil
	case Int32:
		return int64(int32(raw)), nil
	default:
		return int64(raw), nil
	}
}

// SetFloat stores a floating-point element at the given index.
func (a *Array) SetFloat(value float64, idx ...int) error {
	flat, err := a.flatIndex(idx)
	if err != nil {
		return err
	}
	switch a.DType {
	case Float32:
		return a.putRaw(flat, uint64(math.Float32bits(float32(value))))
	case Float64:
		return a.putRaw(flat, math.Float64bits(value))
	default:
		return a.putRaw(flat, uint64(int64(value)))
	}
}

// Float reads a floating-point element at the given index.
func (a *Array) Float(idx ...int) (float64, error) {
	flat, err := a.flatIndex(idx)
	if err != nil {
		return 0, err
	}
	raw, err := a.raw(flat)
	if err != nil {
		return 0, err
	}
	switch a.DType {
	case Float32:
		return float64(math.Float32frombits(uint32(raw))), nil
	case Float64:
		return math.Float64frombits(raw), nil
	default:
		v, err := a.Int(idx...)
		return float64(v), err
	}
}

func (a *Array) putRaw(flat int, value uint64) error {
	itemSize := a.ItemSize()
	off := flat * itemSize
	if off+itemSize > len(a.Data) {
		return fmt.Errorf("element offset %d out of range", flat)
	}
	switch itemSize {
	case 1:
		a.Data[off] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(a.Data[off:], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(a.Data[off:], uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(a.Data[off:], value)
	}
	return nil
}

func (a *Array) raw(flat int) (uint64, error) {
	itemSize := a.ItemSize()
	off := flat * itemSize
	if off+itemSize > len(a.Data) {
		return 0, fmt.Errorf("element offset %d out of range", flat)
	}
	switch itemSize {
	case 1:
		return uint64(a.Data[off]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(a.Data[off:])), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(a.Data[off:])), nil
	default:
		return binary.LittleEndian.Uint64(a.Data[off:]), nil
	}
}

// shapeEqual reports whether two shapes are identical.
func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// shapeSize returns the element count of a shape.
func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
