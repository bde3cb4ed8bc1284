package chunkset

import (
	"context"
	"errors"
	"testing"
)

func newTestStore(t *testing.T, backend StorageBackend, mode AccessMode, desc FieldDescriptor) *TensorStore {
	t.Helper()
	store, err := newTensorStore(context.Background(), backend, mode, []int{-1}, desc)
	if err != nil {
		t.Fatalf("newTensorStore failed: %v", err)
	}
	return store
}

func TestTensorStoreWriteRead(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(), ModeAppend, FieldDescriptor{
		Path:     "/x",
		Shape:    []int{2, 3},
		MaxShape: []int{2, 3},
		DType:    Int32,
		Chunks:   4,
	})

	value, err := NewArray(Int32, 5, 2, 3)
	if err != nil {
		t.Fatalf("NewArray failed: %v", err)
	}
	for s := 0; s < 5; s++ {
		for i := 0; i < 2; i++ {
			for j := 0; j < 3; j++ {
				if err := value.SetInt(int64(s*100+i*10+j), s, i, j); err != nil {
					t.Fatalf("SetInt failed: %v", err)
				}
			}
		}
	}

	if err := store.Write(ctx, []Span{Range(0, 5)}, value); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if store.Length() != 5 {
		t.Errorf("expected length 5, got %d", store.Length())
	}

	got, err := store.Read(ctx, []Span{Range(0, 5)})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !shapeEqual(got.Shape, []int{5, 2, 3}) {
		t.Fatalf("unexpected shape %v", got.Shape)
	}
	v, err := got.Int(3, 1, 2)
	if err != nil {
		t.Fatalf("Int failed: %v", err)
	}
	if v != 312 {
		t.Errorf("expected 312, got %d", v)
	}
}

func TestTensorStoreInnerSelection(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(), ModeAppend, FieldDescriptor{
		Path:     "/x",
		Shape:    []int{4, 4},
		MaxShape: []int{4, 4},
		DType:    Int64,
		Chunks:   2,
	})

	value, _ := NewArray(Int64, 2, 4, 4)
	for s := 0; s < 2; s++ {
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				_ = value.SetInt(int64(s*1000+i*10+j), s, i, j)
			}
		}
	}
	if err := store.Write(ctx, []Span{Range(0, 2)}, value); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Slice out the inner 2x2 corner of sample 1.
	got, err := store.Read(ctx, []Span{Index(1), Range(1, 3), Range(2, 4)})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !shapeEqual(got.Shape, []int{1, 2, 2}) {
		t.Fatalf("unexpected shape %v", got.Shape)
	}
	want := [][]int64{{1012, 1013}, {1022, 1023}}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			v, _ := got.Int(0, i, j)
			if v != want[i][j] {
				t.Errorf("element (%d,%d): expected %d, got %d", i, j, want[i][j], v)
			}
		}
	}
}

func TestTensorStoreSingleSampleSqueeze(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(), ModeAppend, FieldDescriptor{
		Path:     "/x",
		Shape:    []int{3},
		MaxShape: []int{3},
		DType:    Float64,
		Chunks:   4,
	})

	// A value without the sample dimension assigns one sample.
	value, _ := NewArray(Float64, 3)
	for j := 0; j < 3; j++ {
		_ = value.SetFloat(float64(j)*0.5, j)
	}
	if err := store.Write(ctx, []Span{Index(7)}, value); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if store.Length() != 8 {
		t.Errorf("expected length 8 after writing sample 7, got %d", store.Length())
	}

	got, err := store.Read(ctx, []Span{Index(7)})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	v, _ := got.Float(0, 2)
	if v != 1.0 {
		t.Errorf("expected 1.0, got %v", v)
	}

	// Samples below the written one were never stored and read as zeros.
	got, err = store.Read(ctx, []Span{Index(0)})
	if err != nil {
		t.Fatalf("Read of unwritten sample failed: %v", err)
	}
	if v, _ := got.Float(0, 0); v != 0 {
		t.Errorf("expected zero fill, got %v", v)
	}
}

func TestTensorStoreShapeMismatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(), ModeAppend, FieldDescriptor{
		Path: "/x", Shape: []int{3}, MaxShape: []int{3}, DType: Int32, Chunks: 4,
	})

	wrong, _ := NewArray(Int32, 2, 2)
	if err := store.Write(ctx, []Span{Range(0, 2)}, wrong); err == nil {
		t.Error("expected shape mismatch to fail")
	}

	wrongType, _ := NewArray(Int64, 1, 3)
	if err := store.Write(ctx, []Span{Index(0)}, wrongType); err == nil {
		t.Error("expected dtype mismatch to fail")
	}
}

func TestTensorStoreReadOnly(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	newTestStore(t, backend, ModeAppend, FieldDescriptor{
		Path: "/x", Shape: []int{2}, MaxShape: []int{2}, DType: Int32, Chunks: 4,
	})

	store, err := openTensorStore(ctx, backend, ModeRead, []int{-1})
	if err != nil {
		t.Fatalf("openTensorStore failed: %v", err)
	}
	value, _ := NewArray(Int32, 1, 2)
	if err := store.Write(ctx, []Span{Index(0)}, value); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestTensorStoreCommitAndReopen(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := newTestStore(t, backend, ModeAppend, FieldDescriptor{
		Path: "/x", Shape: []int{2}, MaxShape: []int{2}, DType: Int16, Chunks: 3,
	})

	value, _ := NewArray(Int16, 5, 2)
	for s := 0; s < 5; s++ {
		_ = value.SetInt(int64(s), s, 0)
		_ = value.SetInt(int64(-s), s, 1)
	}
	if err := store.Write(ctx, []Span{Range(0, 5)}, value); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	// Committing again with nothing pending must not fail.
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("second Commit failed: %v", err)
	}

	// Five samples at chunk size 3 span two chunk objects.
	for _, key := range []string{"chunks/0", "chunks/1"} {
		if ok, _ := backend.Exists(ctx, key); !ok {
			t.Errorf("expected %s to be written", key)
		}
	}

	reopened, err := openTensorStore(ctx, backend, ModeRead, []int{-1})
	if err != nil {
		t.Fatalf("openTensorStore failed: %v", err)
	}
	if reopened.Length() != 5 {
		t.Errorf("expected length 5 after reopen, got %d", reopened.Length())
	}
	if reopened.DType() != Int16 {
		t.Errorf("expected dtype int16, got %s", reopened.DType())
	}
	if reopened.ChunkSize() != 3 {
		t.Errorf("expected chunk size 3, got %d", reopened.ChunkSize())
	}

	got, err := reopened.Read(ctx, []Span{Index(4)})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if v, _ := got.Int(0, 1); v != -4 {
		t.Errorf("expected -4, got %d", v)
	}
}

func TestTensorStoreBounds(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend(), ModeAppend, FieldDescriptor{
		Path: "/x", Shape: []int{2}, MaxShape: []int{2}, DType: Int32, Chunks: 4,
	})

	// Reading past the written length is out of bounds, not zero fill.
	if _, err := store.Read(ctx, []Span{Index(0)}); !errors.Is(err, ErrInvalidSelector) {
		t.Errorf("expected ErrInvalidSelector reading empty store, got %v", err)
	}

	// An inner range past the dimension bound fails.
	value, _ := NewArray(Int32, 1, 2)
	if err := store.Write(ctx, []Span{Index(0)}, value); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := store.Read(ctx, []Span{Index(0), Range(1, 5)}); !errors.Is(err, ErrInvalidSelector) {
		t.Errorf("expected ErrInvalidSelector, got %v", err)
	}

	// More range terms than dimensions fails.
	if _, err := store.Read(ctx, []Span{Index(0), Index(0), Index(0)}); !errors.Is(err, ErrInvalidSelector) {
		t.Errorf("expected ErrInvalidSelector, got %v", err)
	}
}

func TestDeriveChunkSize(t *testing.T) {
	if got := deriveChunkSize(1); got != defaultChunkBytes {
		t.Errorf("1-byte samples: expected %d, got %d", defaultChunkBytes, got)
	}
	if got := deriveChunkSize(defaultChunkBytes * 4); got != 1 {
		t.Errorf("oversized samples: expected 1, got %d", got)
	}
	if got := deriveChunkSize(0); got != 1 {
		t.Errorf("zero-byte samples: expected 1, got %d", got)
	}
}

func TestLCM(t *testing.T) {
	cases := []struct{ a, b, want int }{
		{4, 6, 12},
		{1, 7, 7},
		{8, 8, 8},
		{3, 5, 15},
	}
	for _, c := range cases {
		if got := lcm(c.a, c.b); got != c.want {
			t.Errorf("lcm(%d,%d): expected %d, got %d", c.a, c.b, c.want, got)
		}
	}
}
