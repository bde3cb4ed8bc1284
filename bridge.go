package chunkset

import (
	"context"
	"fmt"
)

// Capabilities declares what an external framework adapter can
// represent. Adapters receive this explicitly; the core never probes for
// framework availability.
type Capabilities struct {
	// Name identifies the framework, for error messages.
	Name string
	// DTypes maps each supported element type to the framework's own
	// type name.
	DTypes map[DType]string
}

// OutputTypes maps a schema tree to the framework's type description:
// a nested map for groups, a type name string for leaves. A dtype the
// framework cannot represent fails with ErrUnsupportedValue.
func (c Capabilities) OutputTypes(schema SchemaNode) (any, error) {
	switch n := schema.(type) {
	case Primitive:
		return c.typeName(n.DType)
	case Tensor:
		return c.typeName(n.DType)
	case *Group:
		out := make(map[string]any, len(n.entries))
		for _, e := range n.entries {
			t, err := c.OutputTypes(e.node)
			if err != nil {
				return nil, err
			}
			out[e.name] = t
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: schema node %T", ErrUnsupportedValue, schema)
	}
}

func (c Capabilities) typeName(d DType) (string, error) {
	name, ok := c.DTypes[d]
	if !ok {
		return "", fmt.Errorf("%w: dtype %s has no %s mapping", ErrUnsupportedValue, d, c.Name)
	}
	return name, nil
}

// Sample is a materialized nested record: group names map to sub-samples,
// field names map to dense arrays.
type Sample map[string]any

// Materialize computes every view of a nested record into arrays.
func Materialize(ctx context.Context, rec Record) (Sample, error) {
	out := make(Sample, len(rec))
	for name, view := range rec {
		switch v := view.(type) {
		case *TensorView:
			arr, err := v.Compute(ctx)
			if err != nil {
				return nil, err
			}
			out[name] = arr
		case Record:
			sub, err := Materialize(ctx, v)
			if err != nil {
				return nil, err
			}
			out[name] = sub
		default:
			return nil, fmt.Errorf("%w: view %T in record", ErrUnsupportedValue, view)
		}
	}
	return out, nil
}

// SampleSequence is the sequence-style bridging adapter: a length and a
// per-index nested-record lookup, the shape map-style training loaders
// expect. An optional transform runs on each materialized sample.
type SampleSequence struct {
	ds        *Dataset
	caps      Capabilities
	transform func(Sample) (Sample, error)
}

// NewSampleSequence validates the dataset's schema against the
// framework's capabilities and returns the adapter.
func NewSampleSequence(ds *Dataset, caps Capabilities, transform func(Sample) (Sample, error)) (*SampleSequence, error) {
	if _, err := caps.OutputTypes(ds.Schema()); err != nil {
		return nil, err
	}
	return &SampleSequence{ds: ds, caps: caps, transform: transform}, nil
}

// Len returns the number of samples.
func (s *SampleSequence) Len() int {
	return s.ds.Len()
}

// At materializes the nested record of sample i.
func (s *SampleSequence) At(ctx context.Context, i int) (Sample, error) {
	rec, err := s.ds.Record(i)
	if err != nil {
		return nil, err
	}
	sample, err := Materialize(ctx, rec)
	if err != nil {
		return nil, err
	}
	if s.transform != nil {
		return s.transform(sample)
	}
	return sample, nil
}

// SampleGenerator is the lazy-sequence bridging adapter: it yields the
// same nested records one at a time, holding only the current sample.
type SampleGenerator struct {
	seq *SampleSequence
	it  *SampleIterator
	cur Sample
	err error
}

// NewSampleGenerator validates capabilities and returns a generator
// positioned before the first sample.
func NewSampleGenerator(ds *Dataset, caps Capabilities) (*SampleGenerator, error) {
	seq, err := NewSampleSequence(ds, caps, nil)
	if err != nil {
		return nil, err
	}
	return &SampleGenerator{seq: seq, it: ds.Samples()}, nil
}

// Next advances to the next sample, materializing it.
func (g *SampleGenerator) Next(ctx context.Context) bool {
	if g.err != nil || !g.it.Next() {
		g.cur = nil
		if g.err == nil {
			g.err = g.it.Err()
		}
		return false
	}
	g.cur, g.err = Materialize(ctx, g.it.Record())
	return g.err == nil
}

// Sample returns the current materialized sample.
func (g *SampleGenerator) Sample() Sample {
	return g.cur
}

// Err returns the error that stopped generation, if any.
func (g *SampleGenerator) Err() error {
	return g.err
}
