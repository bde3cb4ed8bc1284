package chunkset

import (
	"context"
	"errors"
	"testing"
)

func testCapabilities() Capabilities {
	return Capabilities{
		Name: "testfw",
		DTypes: map[DType]string{
			Uint8:   "u8",
			Int64:   "i64",
			Float32: "f32",
		},
	}
}

func TestOutputTypes(t *testing.T) {
	types, err := testCapabilities().OutputTypes(testSchema())
	if err != nil {
		t.Fatalf("OutputTypes failed: %v", err)
	}
	top, ok := types.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", types)
	}
	if top["image"] != "u8" || top["label"] != "i64" {
		t.Errorf("unexpected leaf types: %v", top)
	}
	meta, ok := top["meta"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map for meta, got %T", top["meta"])
	}
	if meta["score"] != "f32" {
		t.Errorf("unexpected score type %v", meta["score"])
	}
}

func TestOutputTypesUnsupported(t *testing.T) {
	caps := Capabilities{Name: "narrow", DTypes: map[DType]string{Uint8: "u8"}}
	_, err := caps.OutputTypes(testSchema())
	if !errors.Is(err, ErrUnsupportedValue) {
		t.Fatalf("expected ErrUnsupportedValue, got %v", err)
	}
}

func TestMaterialize(t *testing.T) {
	ctx := context.Background()
	ds := createTestDataset(t, NewMemoryBackend())
	fillLabels(t, ds, 3)

	rec, err := ds.Record(1)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	sample, err := Materialize(ctx, rec)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	label, ok := sample["label"].(*Array)
	if !ok {
		t.Fatalf("expected label array, got %T", sample["label"])
	}
	if v, _ := label.Int(0); v != 11 {
		t.Errorf("expected 11, got %d", v)
	}
	meta, ok := sample["meta"].(Sample)
	if !ok {
		t.Fatalf("expected nested sample for meta, got %T", sample["meta"])
	}
	if _, ok := meta["score"].(*Array); !ok {
		t.Errorf("expected score array, got %T", meta["score"])
	}
}

func TestSampleSequence(t *testing.T) {
	ctx := context.Background()
	ds := createTestDataset(t, NewMemoryBackend())
	fillLabels(t, ds, 4)

	seq, err := NewSampleSequence(ds, testCapabilities(), nil)
	if err != nil {
		t.Fatalf("NewSampleSequence failed: %v", err)
	}
	if seq.Len() != 4 {
		t.Errorf("expected length 4, got %d", seq.Len())
	}

	sample, err := seq.At(ctx, 2)
	if err != nil {
		t.Fatalf("At failed: %v", err)
	}
	if v, _ := sample["label"].(*Array).Int(0); v != 22 {
		t.Errorf("expected 22, got %d", v)
	}

	// Validation fails up front when the schema has an unmapped dtype.
	narrow := Capabilities{Name: "narrow", DTypes: map[DType]string{Int64: "i64"}}
	if _, err := NewSampleSequence(ds, narrow, nil); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("expected ErrUnsupportedValue, got %v", err)
	}
}

func TestSampleSequenceTransform(t *testing.T) {
	ctx := context.Background()
	ds := createTestDataset(t, NewMemoryBackend())
	fillLabels(t, ds, 2)

	seq, err := NewSampleSequence(ds, testCapabilities(), func(s Sample) (Sample, error) {
		s["extra"] = s["label"]
		return s, nil
	})
	if err != nil {
		t.Fatalf("NewSampleSequence failed: %v", err)
	}
	sample, err := seq.At(ctx, 0)
	if err != nil {
		t.Fatalf("At failed: %v", err)
	}
	if _, ok := sample["extra"]; !ok {
		t.Error("transform output missing")
	}
}

func TestSampleGenerator(t *testing.T) {
	ctx := context.Background()
	ds := createTestDataset(t, NewMemoryBackend())
	fillLabels(t, ds, 3)

	gen, err := NewSampleGenerator(ds, testCapabilities())
	if err != nil {
		t.Fatalf("NewSampleGenerator failed: %v", err)
	}

	var labels []int64
	for gen.Next(ctx) {
		v, _ := gen.Sample()["label"].(*Array).Int(0)
		labels = append(labels, v)
	}
	if err := gen.Err(); err != nil {
		t.Fatalf("generation failed: %v", err)
	}
	if len(labels) != 3 || labels[0] != 0 || labels[1] != 11 || labels[2] != 22 {
		t.Errorf("unexpected labels %v", labels)
	}
}
