package chunkset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
)

// tensorMetaKey is the per-field metadata object, stored inside the
// field's own storage namespace.
const tensorMetaKey = "array.json"

// defaultChunkBytes is the target payload size for derived chunk sizes.
const defaultChunkBytes = 16 << 20

// CompressorConfig identifies the chunk compression codec.
type CompressorConfig struct {
	ID string `json:"id"`
}

// tensorMeta is the persisted per-field descriptor record.
type tensorMeta struct {
	// Shape is the combined shape (sample dimension first); entries may
	// be -1 for unbounded dimensions.
	Shape []int `json:"shape"`
	// MaxShape bounds Shape.
	MaxShape []int `json:"max_shape"`
	// Chunks is the sample-dimension chunk size.
	Chunks int `json:"chunks"`
	// DType is the element type tag.
	DType string `json:"dtype"`
	// Length is the current sample count covered by stored data.
	Length int `json:"length"`
	// Compressor identifies the chunk codec.
	Compressor *CompressorConfig `json:"compressor"`
	// Format is the layout version tag.
	Format int `json:"format"`
}

// TensorStore is the chunked array store backing one field path. Data is
// chunked along the sample dimension only; each chunk holds a contiguous
// run of samples, snappy-compressed at rest. Unbounded inner dimensions
// are materialized at their max bound.
type TensorStore struct {
	backend StorageBackend
	mode    AccessMode
	meta    tensorMeta

	itemSize    int
	innerDims   []int // materialized per-sample dims
	sampleBytes int

	loaded    map[int][]byte // decompressed chunk payloads
	dirty     map[int]bool
	metaDirty bool
}

// newTensorStore creates the store for one field at dataset creation:
// the field's namespace receives its metadata record and chunks are
// created lazily on write.
func newTensorStore(ctx context.Context, backend StorageBackend, mode AccessMode, sampleShape []int, desc FieldDescriptor) (*TensorStore, error) {
	shape := append(append([]int(nil), sampleShape...), desc.Shape...)
	maxShape := append(append([]int(nil), sampleShape...), desc.MaxShape...)

	itemSize, err := desc.DType.ItemSize()
	if err != nil {
		return nil, err
	}

	length := 0
	if shape[0] > 0 {
		length = shape[0]
	}

	meta := tensorMeta{
		Shape:      shape,
		MaxShape:   maxShape,
		Chunks:     desc.Chunks,
		DType:      string(desc.DType),
		Length:     length,
		Compressor: &CompressorConfig{ID: "snappy"},
		Format:     1,
	}

	t, err := buildTensorStore(backend, mode, meta, itemSize)
	if err != nil {
		return nil, err
	}
	if meta.Chunks <= 0 {
		t.meta.Chunks = deriveChunkSize(t.sampleBytes)
	}
	if err := t.writeMeta(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// openTensorStore attaches to an existing field store. Only the sample
// shape is supplied; the field's own shape is recovered from its
// persisted metadata record.
func openTensorStore(ctx context.Context, backend StorageBackend, mode AccessMode, sampleShape []int) (*TensorStore, error) {
	raw, err := backend.Read(ctx, tensorMetaKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read field metadata: %w", err)
	}
	var meta tensorMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode field metadata: %w", err)
	}
	if len(meta.Shape) < len(sampleShape) {
		return nil, fmt.Errorf("field rank %d below sample rank %d", len(meta.Shape), len(sampleShape))
	}

	itemSize, err := DType(meta.DType).ItemSize()
	if err != nil {
		return nil, err
	}
	return buildTensorStore(backend, mode, meta, itemSize)
}

func buildTensorStore(backend StorageBackend, mode AccessMode, meta tensorMeta, itemSize int) (*TensorStore, error) {
	inner := make([]int, 0, len(meta.Shape)-1)
	for i := 1; i < len(meta.Shape); i++ {
		d := meta.Shape[i]
		if d == -1 {
			d = meta.MaxShape[i]
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid dimension %d in field shape", meta.Shape[i])
		}
		inner = append(inner, d)
	}

	return &TensorStore{
		backend:     backend,
		mode:        mode,
		meta:        meta,
		itemSize:    itemSize,
		innerDims:   inner,
		sampleBytes: shapeSize(inner) * itemSize,
		loaded:      make(map[int][]byte),
		dirty:       make(map[int]bool),
	}, nil
}

// DType returns the element type.
func (t *TensorStore) DType() DType {
	return DType(t.meta.DType)
}

// Shape returns the combined shape, sample dimension first.
func (t *TensorStore) Shape() []int {
	return append([]int(nil), t.meta.Shape...)
}

// Length returns the current sample count.
func (t *TensorStore) Length() int {
	return t.meta.Length
}

// ChunkSize returns the sample-dimension chunk size.
func (t *TensorStore) ChunkSize() int {
	return t.meta.Chunks
}

// rank returns the number of dimensions including the sample dimension.
func (t *TensorStore) rank() int {
	return len(t.meta.Shape)
}

// Read materializes the hyperslab addressed by one span per dimension.
// Missing trailing spans select whole dimensions. Chunks never written
// read back as zeros.
func (t *TensorStore) Read(ctx context.Context, spans []Span) (*Array, error) {
	full, err := t.normalize(spans, false)
	if err != nil {
		return nil, err
	}

	outShape := make([]int, len(full))
	for i, s := range full {
		outShape[i] = s.Len()
	}
	out, err := NewArray(DType(t.meta.DType), outShape...)
	if err != nil {
		return nil, err
	}

	rowBytes := (out.NumElements() / maxInt(outShape[0], 1)) * t.itemSize
	for i := 0; i < full[0].Len(); i++ {
		sample := full[0].Start + i
		src, err := t.sampleSlice(ctx, sample, false)
		if err != nil {
			return nil, err
		}
		dst := out.Data[i*rowBytes : (i+1)*rowBytes]
		copyHyperslab(dst, src, t.innerDims, full[1:], t.itemSize, false)
	}
	return out, nil
}

// Write stores value into the hyperslab addressed by spans. The value
// shape must equal the selection shape; a value without the sample
// dimension is accepted when the selection covers exactly one sample.
func (t *TensorStore) Write(ctx context.Context, spans []Span, value *Array) error {
	if t.mode == ModeRead {
		return ErrReadOnly
	}
	full, err := t.normalize(spans, true)
	if err != nil {
		return err
	}
	if value.DType != DType(t.meta.DType) {
		return fmt.Errorf("value dtype %s does not match field dtype %s", value.DType, t.meta.DType)
	}

	selShape := make([]int, len(full))
	for i, s := range full {
		selShape[i] = s.Len()
	}
	switch {
	case shapeEqual(value.Shape, selShape):
	case selShape[0] == 1 && shapeEqual(value.Shape, selShape[1:]):
		// single-sample assignment without the leading dimension
	default:
		return fmt.Errorf("value shape %v does not match selection shape %v", value.Shape, selShape)
	}

	rowBytes := shapeSize(selShape[1:]) * t.itemSize
	for i := 0; i < full[0].Len(); i++ {
		sample := full[0].Start + i
		dst, err := t.sampleSlice(ctx, sample, true)
		if err != nil {
			return err
		}
		src := value.Data[i*rowBytes : (i+1)*rowBytes]
		copyHyperslab(src, dst, t.innerDims, full[1:], t.itemSize, true)
		if sample >= t.meta.Length {
			t.meta.Length = sample + 1
			t.metaDirty = true
		}
	}
	return nil
}

// Commit flushes every dirty chunk and, if needed, the metadata record.
// Committing with nothing pending is a no-op.
func (t *TensorStore) Commit(ctx context.Context) error {
	for idx, dirty := range t.dirty {
		if !dirty {
			continue
		}
		payload := snappy.Encode(nil, t.loaded[idx])
		if err := t.backend.Write(ctx, chunkKey(idx), payload); err != nil {
			return err
		}
		t.dirty[idx] = false
	}
	if t.metaDirty {
		if err := t.writeMeta(ctx); err != nil {
			return err
		}
	}
	return nil
}

// normalize fills in missing trailing spans and bounds-checks the rest.
// Writes to an unbounded sample dimension may address past the current
// length, growing the field.
func (t *TensorStore) normalize(spans []Span, forWrite bool) ([]Span, error) {
	if len(spans) > t.rank() {
		return nil, newSelectorError(SelectorErrorTypeBounds,
			fmt.Sprintf("selector has %d range terms for a rank-%d field", len(spans), t.rank()), "")
	}

	dims := make([]int, t.rank())
	dims[0] = t.leadingBound(forWrite)
	copy(dims[1:], t.innerDims)

	full := make([]Span, t.rank())
	for i := range full {
		if i < len(spans) {
			s, err := spans[i].resolve(dims[i])
			if err != nil {
				return nil, err
			}
			full[i] = s
		} else {
			bound := dims[i]
			if bound < 0 {
				bound = t.meta.Length
			}
			full[i] = Span{Start: 0, End: bound}
		}
	}
	return full, nil
}

// leadingBound is the addressable sample count: the fixed sample
// dimension when bounded, the written length for reads of an unbounded
// one, and unlimited for writes that grow it.
func (t *TensorStore) leadingBound(forWrite bool) int {
	if t.meta.Shape[0] > 0 {
		return t.meta.Shape[0]
	}
	if forWrite {
		return -1
	}
	return t.meta.Length
}

// sampleSlice returns the in-memory bytes of one sample, loading (or
// zero-creating) its chunk. forWrite marks the chunk dirty.
func (t *TensorStore) sampleSlice(ctx context.Context, sample int, forWrite bool) ([]byte, error) {
	chunkIdx := sample / t.meta.Chunks
	buf, ok := t.loaded[chunkIdx]
	if !ok {
		var err error
		buf, err = t.loadChunk(ctx, chunkIdx)
		if err != nil {
			return nil, err
		}
		t.loaded[chunkIdx] = buf
	}
	if forWrite {
		t.dirty[chunkIdx] = true
	}
	off := (sample % t.meta.Chunks) * t.sampleBytes
	return buf[off : off+t.sampleBytes], nil
}

func (t *TensorStore) loadChunk(ctx context.Context, idx int) ([]byte, error) {
	size := t.meta.Chunks * t.sampleBytes
	exists, err := t.backend.Exists(ctx, chunkKey(idx))
	if err != nil {
		return nil, err
	}
	if !exists {
		return make([]byte, size), nil
	}
	raw, err := t.backend.Read(ctx, chunkKey(idx))
	if err != nil {
		return nil, err
	}
	buf, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress chunk %d: %w", idx, err)
	}
	if len(buf) != size {
		return nil, fmt.Errorf("chunk %d has %d bytes, want %d", idx, len(buf), size)
	}
	return buf, nil
}

func (t *TensorStore) writeMeta(ctx context.Context) error {
	raw, err := json.Marshal(t.meta)
	if err != nil {
		return err
	}
	if err := t.backend.Write(ctx, tensorMetaKey, raw); err != nil {
		return err
	}
	t.metaDirty = false
	return nil
}

func chunkKey(idx int) string {
	return fmt.Sprintf("chunks/%d", idx)
}

// deriveChunkSize picks a sample-dimension chunk size targeting
// defaultChunkBytes per chunk.
func deriveChunkSize(sampleBytes int) int {
	if sampleBytes <= 0 {
		return 1
	}
	n := defaultChunkBytes / sampleBytes
	if n < 1 {
		return 1
	}
	return n
}

// copyHyperslab copies the hyperslab selected by spans between a full
// sample block (dims) and a packed selection buffer. When scatter is
// false it gathers block->packed; when true it scatters packed->block.
func copyHyperslab(packed, block []byte, dims []int, spans []Span, itemSize int, scatter bool) {
	if len(dims) == 0 {
		if scatter {
			copy(block, packed)
		} else {
			copy(packed, block)
		}
		return
	}

	// Strides of the full block, innermost first.
	strides := make([]int, len(dims))
	stride := itemSize
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= dims[i]
	}

	runBytes := spans[len(spans)-1].Len() * itemSize
	outer := spans[:len(spans)-1]

	idx := make([]int, len(outer))
	for {
		blockOff := spans[len(spans)-1].Start * itemSize
		for i, s := range outer {
			blockOff += (s.Start + idx[i]) * strides[i]
		}
		if scatter {
			copy(block[blockOff:blockOff+runBytes], packed[:runBytes])
		} else {
			copy(packed[:runBytes], block[blockOff:blockOff+runBytes])
		}
		packed = packed[runBytes:]

		// odometer over the outer spans
		i := len(outer) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < outer[i].Len() {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// gcd returns the greatest common divisor of two positive integers.
func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// lcm returns the least common multiple of two positive integers.
func lcm(a, b int) int {
	return a / gcd(a, b) * b
}
