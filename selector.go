package chunkset

import (
	"context"
	"fmt"
)

// AccessMode is the fixed access mode of an open dataset. All downstream
// logic switches on this enum; mode strings from urls or config files are
// parsed once at construction.
type AccessMode int

const (
	// ModeRead opens an existing dataset read-only.
	ModeRead AccessMode = iota
	// ModeWrite creates a dataset, overwriting an existing one.
	ModeWrite
	// ModeAppend opens an existing dataset for writing, creating it if
	// the location is empty.
	ModeAppend
)

// ParseAccessMode converts the conventional one-letter mode strings.
func ParseAccessMode(s string) (AccessMode, error) {
	switch s {
	case "r":
		return ModeRead, nil
	case "w":
		return ModeWrite, nil
	case "a", "":
		return ModeAppend, nil
	default:
		return 0, fmt.Errorf("unknown access mode %q", s)
	}
}

func (m AccessMode) String() string {
	switch m {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	default:
		return "a"
	}
}

// writable reports whether the mode permits writes.
func (m AccessMode) writable() bool {
	return m != ModeRead
}

// Span is a half-open range selector over one dimension. End == -1
// selects through the end of the dimension.
type Span struct {
	Start int
	End   int
}

// Index selects a single position.
func Index(i int) Span {
	return Span{Start: i, End: i + 1}
}

// Range selects the half-open range [start, end).
func Range(start, end int) Span {
	return Span{Start: start, End: end}
}

// All selects a whole dimension.
func All() Span {
	return Span{Start: 0, End: -1}
}

// Len returns the number of selected positions. Only meaningful after
// resolve.
func (s Span) Len() int {
	return s.End - s.Start
}

// resolve bounds-checks the span against a dimension size and fills in
// an open end. A negative bound means the dimension is unbounded: any
// concrete range is accepted, but an open end cannot be filled in.
func (s Span) resolve(bound int) (Span, error) {
	if s.End == -1 {
		if bound < 0 {
			return Span{}, newSelectorError(SelectorErrorTypeBounds,
				"cannot use an open range on an unbounded dimension", "")
		}
		s.End = bound
	}
	if s.Start < 0 || s.End < s.Start || (bound >= 0 && s.End > bound) {
		return Span{}, newSelectorError(SelectorErrorTypeBounds,
			fmt.Sprintf("range [%d:%d) out of bounds for dimension of size %d", s.Start, s.End, bound), "")
	}
	return s, nil
}

// Term is one element of a selector: a field path or a range specifier.
type Term interface {
	isTerm()
}

// pathTerm selects a field or group by slash-delimited path.
type pathTerm string

func (pathTerm) isTerm() {}
func (Span) isTerm()     {}

// Field makes a path selector term. Leading slash is optional:
// Field("image") and Field("/image") address the same field.
func Field(path string) Term {
	return pathTerm(path)
}

// splitSelector splits a term sequence into an optional leading field
// path and the ordered range specifiers, mirroring how combined
// selectors are split everywhere: at most one path term, and only in
// front.
func splitSelector(terms []Term) (string, []Span, error) {
	if len(terms) == 0 {
		return "", nil, newSelectorError(SelectorErrorTypeEmpty, "empty selector", "")
	}

	var subpath string
	var spans []Span
	for i, term := range terms {
		switch v := term.(type) {
		case pathTerm:
			if i != 0 {
				return "", nil, newSelectorError(SelectorErrorTypeUnknown,
					"field path must be the leading selector term", string(v))
			}
			subpath = normalizePath(string(v))
		case Span:
			spans = append(spans, v)
		default:
			return "", nil, newSelectorError(SelectorErrorTypeUnknown,
				fmt.Sprintf("unknown selector term %T", term), "")
		}
	}
	return subpath, spans, nil
}

// normalizePath canonicalizes a field path to the registered "/a/b" form.
func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	if p[0] != '/' {
		p = "/" + p
	}
	for len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}

// View is a lazy, unmaterialized reference into a dataset: a slice of
// the whole dataset, a slice of one field, or a nested group of field
// views. Views never own data.
type View interface {
	isView()
}

// DatasetView is a whole-dataset view over a sample range.
type DatasetView struct {
	ds     *Dataset
	Offset int
	Num    int
}

func (*DatasetView) isView() {}

// Len returns the number of samples in the view.
func (v *DatasetView) Len() int {
	return v.Num
}

// Record materializes the nested record of the i-th sample of the view.
func (v *DatasetView) Record(i int) (Record, error) {
	if i < 0 || i >= v.Num {
		return nil, newSelectorError(SelectorErrorTypeBounds,
			fmt.Sprintf("sample %d out of range for view of %d samples", i, v.Num), "")
	}
	return v.ds.buildRecord("", Index(v.Offset+i))
}

// TensorView is a field view bound to a range selection.
type TensorView struct {
	ds    *Dataset
	path  string
	spans []Span
}

func (*TensorView) isView() {}

// Path returns the field path the view addresses.
func (v *TensorView) Path() string {
	return v.path
}

// Compute materializes the view into a dense array.
func (v *TensorView) Compute(ctx context.Context) (*Array, error) {
	store, ok := v.ds.fields[v.path]
	if !ok {
		return nil, newSelectorError(SelectorErrorTypeMissing, "no such field", v.path)
	}
	return store.Read(ctx, v.spans)
}

// Record is a grouped-dictionary view: a nested mapping from group
// member names to field views or sub-groups.
type Record map[string]View

func (Record) isView() {}

// Get resolves a combined path+range selector into a view, without
// materializing any data.
//
// Resolution rules, for a selector split into (subpath, spans):
//   - no subpath and exactly one range: whole-dataset view over that range
//   - no subpath and several ranges: invalid
//   - subpath naming a field: field view; the first range constrains the
//     sample dimension, the rest the field's own dimensions in order
//   - subpath naming a group: nested record of member views, with at most
//     one range applied to every member's sample dimension
func (ds *Dataset) Get(terms ...Term) (View, error) {
	subpath, spans, err := splitSelector(terms)
	if err != nil {
		return nil, err
	}

	if subpath == "" {
		if len(spans) != 1 {
			return nil, newSelectorError(SelectorErrorTypeMultiRange,
				"cannot slice a dataset with multiple ranges and no field path", "")
		}
		span, err := spans[0].resolve(ds.Len())
		if err != nil {
			return nil, err
		}
		return &DatasetView{ds: ds, Offset: span.Start, Num: span.Len()}, nil
	}

	if _, ok := ds.fields[subpath]; ok {
		fieldSpans := spans
		if len(fieldSpans) == 0 {
			fieldSpans = []Span{Range(0, ds.Len())}
		}
		return &TensorView{ds: ds, path: subpath, spans: fieldSpans}, nil
	}

	switch len(spans) {
	case 0:
		return ds.buildRecord(subpath, Range(0, ds.Len()))
	case 1:
		return ds.buildRecord(subpath, spans[0])
	default:
		return nil, newSelectorError(SelectorErrorTypeMultiRange,
			"cannot apply multiple range terms to a field group", subpath)
	}
}

// Set writes value through a combined path+range selector. The selector
// must name a leaf field: assignment without a field path, or to a field
// group, is invalid.
func (ds *Dataset) Set(ctx context.Context, value *Array, terms ...Term) error {
	subpath, spans, err := splitSelector(terms)
	if err != nil {
		return err
	}
	if subpath == "" {
		return newSelectorError(SelectorErrorTypeNoPath,
			"cannot assign to a dataset slice without a field path", "")
	}

	store, ok := ds.fields[subpath]
	if !ok {
		if ds.hasGroup(subpath) {
			return newSelectorError(SelectorErrorTypeNoPath,
				"cannot assign to a field group; write to a leaf field", subpath)
		}
		return newSelectorError(SelectorErrorTypeMissing, "no such field", subpath)
	}

	if len(spans) == 0 {
		spans = []Span{Range(0, ds.Len())}
	}
	return store.Write(ctx, spans, value)
}
