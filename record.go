package chunkset

import (
	"sort"
	"strings"
)

// buildRecord folds every registered field path under a group prefix into
// a nested Record of field views bound to the given sample range. The
// fold walks paths in sorted order, so the result is identical regardless
// of field registration order. An empty prefix matches all fields.
func (ds *Dataset) buildRecord(prefix string, span Span) (Record, error) {
	span, err := span.resolve(ds.Len())
	if err != nil {
		return nil, err
	}

	matchPrefix := prefix
	if matchPrefix != "" && !strings.HasSuffix(matchPrefix, "/") {
		matchPrefix += "/"
	}

	var matched []string
	for path := range ds.fields {
		if strings.HasPrefix(path, matchPrefix) {
			matched = append(matched, path)
		}
	}
	if len(matched) == 0 {
		return nil, newSelectorError(SelectorErrorTypeMissing, "no field under prefix", prefix)
	}
	sort.Strings(matched)

	record := make(Record)
	for _, path := range matched {
		rest := strings.TrimPrefix(path, matchPrefix)
		segments := strings.Split(strings.TrimPrefix(rest, "/"), "/")

		cur := record
		for _, seg := range segments[:len(segments)-1] {
			sub, ok := cur[seg].(Record)
			if !ok {
				sub = make(Record)
				cur[seg] = sub
			}
			cur = sub
		}
		cur[segments[len(segments)-1]] = &TensorView{
			ds:    ds,
			path:  path,
			spans: []Span{span},
		}
	}
	return record, nil
}

// hasGroup reports whether any registered field lies under the prefix.
func (ds *Dataset) hasGroup(prefix string) bool {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	for path := range ds.fields {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Record materializes nothing: it returns the nested per-sample record of
// field views for sample i.
func (ds *Dataset) Record(i int) (Record, error) {
	return ds.buildRecord("", Index(i))
}

// SampleIterator walks the dataset one nested record at a time. It holds
// at most one sample's record and can be restarted from any index with
// Seek, so iteration memory is bounded regardless of dataset size.
type SampleIterator struct {
	ds   *Dataset
	next int
	rec  Record
	err  error
}

// Samples returns an iterator over per-sample records, starting at
// sample 0.
func (ds *Dataset) Samples() *SampleIterator {
	return &SampleIterator{ds: ds}
}

// Seek positions the iterator so the next call to Next yields sample i.
func (it *SampleIterator) Seek(i int) {
	it.next = i
	it.rec = nil
	it.err = nil
}

// Next advances to the next sample. It returns false at the end of the
// dataset or on error.
func (it *SampleIterator) Next() bool {
	if it.err != nil || it.next >= it.ds.Len() {
		it.rec = nil
		return false
	}
	it.rec, it.err = it.ds.Record(it.next)
	if it.err != nil {
		return false
	}
	it.next++
	return true
}

// Record returns the current sample's nested record.
func (it *SampleIterator) Record() Record {
	return it.rec
}

// Err returns the error that stopped iteration, if any.
func (it *SampleIterator) Err() error {
	return it.err
}
