package chunkset

import "testing"

func TestArrayIntRoundtrip(t *testing.T) {
	for _, dtype := range []DType{Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64} {
		arr, err := NewArray(dtype, 2, 2)
		if err != nil {
			t.Fatalf("%s: NewArray failed: %v", dtype, err)
		}
		if err := arr.SetInt(3, 1, 1); err != nil {
			t.Fatalf("%s: SetInt failed: %v", dtype, err)
		}
		v, err := arr.Int(1, 1)
		if err != nil {
			t.Fatalf("%s: Int failed: %v", dtype, err)
		}
		if v != 3 {
			t.Errorf("%s: expected 3, got %d", dtype, v)
		}
		if v, _ := arr.Int(0, 0); v != 0 {
			t.Errorf("%s: expected zero fill, got %d", dtype, v)
		}
	}
}

func TestArraySignedNegatives(t *testing.T) {
	for _, dtype := range []DType{Int8, Int16, Int32, Int64} {
		arr, _ := NewArray(dtype, 1)
		if err := arr.SetInt(-5, 0); err != nil {
			t.Fatalf("%s: SetInt failed: %v", dtype, err)
		}
		v, _ := arr.Int(0)
		if v != -5 {
			t.Errorf("%s: expected -5, got %d", dtype, v)
		}
	}
}

func TestArrayFloatRoundtrip(t *testing.T) {
	for _, dtype := range []DType{Float32, Float64} {
		arr, _ := NewArray(dtype, 3)
		if err := arr.SetFloat(1.5, 2); err != nil {
			t.Fatalf("%s: SetFloat failed: %v", dtype, err)
		}
		v, err := arr.Float(2)
		if err != nil {
			t.Fatalf("%s: Float failed: %v", dtype, err)
		}
		if v != 1.5 {
			t.Errorf("%s: expected 1.5, got %v", dtype, v)
		}
	}
}

func TestArrayBounds(t *testing.T) {
	arr, _ := NewArray(Int32, 2, 3)

	if err := arr.SetInt(1, 2, 0); err == nil {
		t.Error("expected out-of-range index to fail")
	}
	if err := arr.SetInt(1, 0); err == nil {
		t.Error("expected rank mismatch to fail")
	}
	if _, err := arr.Int(0, -1); err == nil {
		t.Error("expected negative index to fail")
	}
}

func TestNewArrayValidation(t *testing.T) {
	if _, err := NewArray(DType("void"), 2); err == nil {
		t.Error("expected unknown dtype to fail")
	}
	if _, err := NewArray(Int32, -1); err == nil {
		t.Error("expected negative dimension to fail")
	}

	arr, err := NewArray(Float64, 4, 5)
	if err != nil {
		t.Fatalf("NewArray failed: %v", err)
	}
	if arr.NumElements() != 20 {
		t.Errorf("expected 20 elements, got %d", arr.NumElements())
	}
	if len(arr.Data) != 160 {
		t.Errorf("expected 160 bytes, got %d", len(arr.Data))
	}
}
