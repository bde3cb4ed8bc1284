package chunkset

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// metaKey is the dataset descriptor record, at a fixed key in the
// dataset's storage map.
const metaKey = "meta.json"

// metaFormatVersion tags the persisted descriptor layout.
const metaFormatVersion = 1

// datasetMeta is the single persisted descriptor record: the sample
// shape, the serialized schema and a format version. It is written once
// at the end of a successful create and read once at the start of open.
type datasetMeta struct {
	Shape   []*int          `json:"shape"`
	Schema  json.RawMessage `json:"schema"`
	Version int             `json:"version"`
}

// Dataset presents a hierarchy of independently stored fields as one
// logical table addressed by a shared sample dimension.
type Dataset struct {
	url         string
	mode        AccessMode
	sampleShape []int
	schema      SchemaNode

	descriptors []FieldDescriptor
	fields      map[string]*TensorStore
	order       []string // field paths in flatten order

	backend   StorageBackend
	ownsStore bool
}

// Open creates or opens the dataset at url.
//
// Whether the call creates, opens or fails depends on the existing state
// of the location and the requested access mode:
//
//   - metadata present, write mode: the tree is destroyed and recreated
//   - metadata present, other modes: the dataset is opened
//   - no metadata, read mode: ErrDatasetNotFound
//   - no metadata, nonempty location: ErrNotDatasetToOverwrite (write)
//     or ErrNotDatasetToAppend (append)
//   - otherwise: a new dataset is created from opts.Schema
//
// With opts.SafeMode, an existing dataset is reopened read-only no
// matter which mode was requested. If creation fails partway, the newly
// created tree is deleted before the error is returned.
func Open(ctx context.Context, url string, opts *Options) (*Dataset, error) {
	opts = opts.withDefaults()

	backend := opts.Backend
	ownsStore := false
	if backend == nil {
		var err error
		backend, err = BackendForURL(url)
		if err != nil {
			return nil, err
		}
		ownsStore = true
	}
	if opts.Encryption != nil && opts.Encryption.Enabled {
		var err error
		backend, err = NewEncryptedBackend(ctx, backend, *opts.Encryption)
		if err != nil {
			return nil, err
		}
	}
	if opts.CacheBytes > 0 {
		backend = NewCachedBackend(backend, opts.CacheBytes)
	}

	ds := &Dataset{
		url:       url,
		mode:      opts.Mode,
		backend:   backend,
		ownsStore: ownsStore,
		fields:    make(map[string]*TensorStore),
	}

	needCreate, err := ds.resolveLifecycle(ctx)
	if err != nil {
		return nil, err
	}

	if !needCreate {
		if opts.SafeMode {
			ds.mode = ModeRead
		}
		if err := ds.open(ctx); err != nil {
			return nil, err
		}
		return ds, nil
	}

	if err := ds.create(ctx, opts); err != nil {
		// No partially created dataset may remain discoverable.
		_ = backend.DeletePrefix(ctx, "")
		return nil, err
	}
	return ds, nil
}

// resolveLifecycle inspects the existing storage state and decides
// create-vs-open-vs-fail. It returns true when the dataset must be
// created. A write-mode open onto an existing dataset destroys it here.
func (ds *Dataset) resolveLifecycle(ctx context.Context) (bool, error) {
	hasMeta, err := ds.backend.Exists(ctx, metaKey)
	if err != nil {
		return false, err
	}

	if hasMeta {
		if ds.mode == ModeWrite {
			if err := ds.backend.DeletePrefix(ctx, ""); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	if ds.mode == ModeRead {
		return false, fmt.Errorf("%w: %s", ErrDatasetNotFound, ds.url)
	}

	n, err := countPrefix(ctx, ds.backend, "")
	if err != nil {
		return false, err
	}
	if n > 0 {
		if ds.mode == ModeWrite {
			return false, fmt.Errorf("%w: %s", ErrNotDatasetToOverwrite, ds.url)
		}
		return false, fmt.Errorf("%w: %s", ErrNotDatasetToAppend, ds.url)
	}
	return true, nil
}

// create flattens the schema, builds one field store per descriptor and
// persists the descriptor record last, so a discoverable dataset always
// has all of its field stores.
func (ds *Dataset) create(ctx context.Context, opts *Options) error {
	if opts.Schema == nil {
		return fmt.Errorf("schema is required to create dataset %s", ds.url)
	}
	sampleShape := opts.Shape
	if len(sampleShape) == 0 {
		sampleShape = []int{-1}
	}
	if len(sampleShape) != 1 {
		return fmt.Errorf("sample shape must have exactly one dimension, got %v", sampleShape)
	}

	descs, err := Flatten(opts.Schema)
	if err != nil {
		return err
	}

	ds.sampleShape = append([]int(nil), sampleShape...)
	ds.schema = opts.Schema
	ds.descriptors = descs

	for _, desc := range descs {
		fieldBackend := NewPrefixBackend(ds.backend, fieldStoragePrefix(desc.Path))
		store, err := newTensorStore(ctx, fieldBackend, ds.mode, ds.sampleShape, desc)
		if err != nil {
			return newFieldError(desc.Path, "create", err)
		}
		ds.fields[desc.Path] = store
		ds.order = append(ds.order, desc.Path)
	}

	rawSchema, err := SerializeSchema(ds.schema)
	if err != nil {
		return err
	}
	meta := datasetMeta{
		Shape:   encodeShape(ds.sampleShape),
		Schema:  rawSchema,
		Version: metaFormatVersion,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return ds.backend.Write(ctx, metaKey, raw)
}

// open reads the descriptor record and re-attaches every field store.
func (ds *Dataset) open(ctx context.Context) error {
	raw, err := ds.backend.Read(ctx, metaKey)
	if err != nil {
		return fmt.Errorf("failed to read dataset metadata: %w", err)
	}
	var meta datasetMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("failed to decode dataset metadata: %w", err)
	}

	ds.sampleShape = decodeShape(meta.Shape)
	ds.schema, err = DeserializeSchema(meta.Schema)
	if err != nil {
		return err
	}
	ds.descriptors, err = Flatten(ds.schema)
	if err != nil {
		return err
	}

	for _, desc := range ds.descriptors {
		fieldBackend := NewPrefixBackend(ds.backend, fieldStoragePrefix(desc.Path))
		store, err := openTensorStore(ctx, fieldBackend, ds.mode, ds.sampleShape)
		if err != nil {
			return newFieldError(desc.Path, "open", err)
		}
		ds.fields[desc.Path] = store
		ds.order = append(ds.order, desc.Path)
	}
	return nil
}

// URL returns the dataset location.
func (ds *Dataset) URL() string {
	return ds.url
}

// Mode returns the effective access mode.
func (ds *Dataset) Mode() AccessMode {
	return ds.mode
}

// Shape returns the sample shape; a -1 entry is unbounded.
func (ds *Dataset) Shape() []int {
	return append([]int(nil), ds.sampleShape...)
}

// Schema returns the dataset's schema tree.
func (ds *Dataset) Schema() SchemaNode {
	return ds.schema
}

// FieldPaths returns the registered field paths in flatten order.
func (ds *Dataset) FieldPaths() []string {
	return append([]string(nil), ds.order...)
}

// Descriptors returns the flattened field descriptors.
func (ds *Dataset) Descriptors() []FieldDescriptor {
	return append([]FieldDescriptor(nil), ds.descriptors...)
}

// Len returns the number of samples. For an unbounded sample dimension
// it is the largest sample count any field has stored.
func (ds *Dataset) Len() int {
	if len(ds.sampleShape) > 0 && ds.sampleShape[0] > 0 {
		return ds.sampleShape[0]
	}
	n := 0
	for _, path := range ds.order {
		if l := ds.fields[path].Length(); l > n {
			n = l
		}
	}
	return n
}

// ChunkSize returns the least common multiple of every field's sample-
// dimension chunk size, a consumer-friendly iteration stride.
func (ds *Dataset) ChunkSize() int {
	size := 1
	for _, path := range ds.order {
		size = lcm(size, ds.fields[path].ChunkSize())
	}
	return size
}

// Commit flushes every field store's pending state, in flatten order.
// Each field's commit is independently safe; a failure propagates
// immediately and leaves later fields uncommitted. Committing twice in
// a row is harmless.
func (ds *Dataset) Commit(ctx context.Context) error {
	for _, path := range ds.order {
		if err := ds.fields[path].Commit(ctx); err != nil {
			return newFieldError(path, "commit", err)
		}
	}
	return nil
}

// Close commits pending state and releases the backend if this dataset
// opened it. The dataset must not be used afterwards.
func (ds *Dataset) Close(ctx context.Context) error {
	err := ds.Commit(ctx)
	if ds.ownsStore {
		if cerr := ds.backend.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// With opens a dataset, runs fn, and commits exactly once on the way
// out — also when fn fails, in which case fn's error wins over the
// commit error.
func With(ctx context.Context, url string, opts *Options, fn func(*Dataset) error) error {
	ds, err := Open(ctx, url, opts)
	if err != nil {
		return err
	}
	fnErr := fn(ds)
	commitErr := ds.Commit(ctx)
	if fnErr != nil {
		return fnErr
	}
	return commitErr
}

// fieldStoragePrefix maps a field path to its storage namespace below
// the dataset root.
func fieldStoragePrefix(path string) string {
	return "fields/" + strings.TrimPrefix(path, "/")
}

func encodeShape(shape []int) []*int {
	out := make([]*int, len(shape))
	for i, d := range shape {
		if d > 0 {
			v := d
			out[i] = &v
		}
	}
	return out
}

func decodeShape(shape []*int) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		if d == nil {
			out[i] = -1
		} else {
			out[i] = *d
		}
	}
	return out
}
