package chunkset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options configures opening or creating a dataset.
type Options struct {
	// Mode is the requested access mode. Default: ModeAppend.
	Mode AccessMode

	// SafeMode reopens an existing dataset read-only regardless of Mode.
	SafeMode bool

	// Shape is the sample shape, a single entry; -1 or absent means
	// unbounded. Required for creation, ignored when opening.
	Shape []int

	// Schema describes one sample. Required for creation, ignored when
	// opening.
	Schema SchemaNode

	// Backend overrides url-based backend resolution.
	Backend StorageBackend

	// CacheBytes is the read-cache budget in front of the backend.
	// 0 disables caching.
	CacheBytes int64

	// Encryption configures encryption at rest.
	// If nil or Enabled is false, data is stored unencrypted.
	Encryption *EncryptionConfig
}

// withDefaults returns a non-nil options value with defaults applied.
func (o *Options) withDefaults() *Options {
	if o == nil {
		return &Options{Mode: ModeAppend}
	}
	out := *o
	return &out
}

// DatasetConfig is the declarative YAML form of a dataset definition,
// for tools that create datasets from files rather than code.
type DatasetConfig struct {
	URL      string `yaml:"url"`
	Mode     string `yaml:"mode"`
	SafeMode bool   `yaml:"safe_mode"`
	Shape    []int  `yaml:"shape"`

	// Schema maps field names to field specs; mapping order is field
	// registration order.
	Schema yaml.Node `yaml:"schema"`

	CacheBytes int64 `yaml:"cache_bytes"`

	S3     *S3BackendConfig     `yaml:"s3"`
	SQLite *SQLiteBackendConfig `yaml:"sqlite"`

	EncryptionPassword string `yaml:"encryption_password"`
}

// fieldSpec is one leaf entry in a YAML schema.
type fieldSpec struct {
	DType    string `yaml:"dtype"`
	Shape    []int  `yaml:"shape"`
	MaxShape []int  `yaml:"max_shape"`
	Chunks   int    `yaml:"chunks"`
}

// LoadConfig reads a dataset definition from a YAML file.
func LoadConfig(path string) (*DatasetConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(raw)
}

// ParseConfig parses a dataset definition from YAML bytes.
func ParseConfig(raw []byte) (*DatasetConfig, error) {
	var cfg DatasetConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse dataset config: %w", err)
	}
	return &cfg, nil
}

// Options converts the declarative config to open options.
func (c *DatasetConfig) Options() (*Options, error) {
	mode, err := ParseAccessMode(c.Mode)
	if err != nil {
		return nil, err
	}

	opts := &Options{
		Mode:       mode,
		SafeMode:   c.SafeMode,
		Shape:      c.Shape,
		CacheBytes: c.CacheBytes,
	}

	if c.Schema.Kind != 0 {
		schema, err := schemaFromYAML(&c.Schema)
		if err != nil {
			return nil, err
		}
		opts.Schema = schema
	}

	switch {
	case c.S3 != nil:
		backend, err := NewS3Backend(*c.S3)
		if err != nil {
			return nil, err
		}
		opts.Backend = backend
	case c.SQLite != nil:
		backend, err := NewSQLiteBackend(*c.SQLite)
		if err != nil {
			return nil, err
		}
		opts.Backend = backend
	}

	if c.EncryptionPassword != "" {
		opts.Encryption = &EncryptionConfig{
			Enabled:     true,
			KeyPassword: c.EncryptionPassword,
		}
	}
	return opts, nil
}

// schemaFromYAML builds a schema tree from a YAML mapping node,
// preserving the declaration order of its keys. A mapping with a dtype
// key is a leaf; any other mapping is a group.
func schemaFromYAML(node *yaml.Node) (SchemaNode, error) {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("schema must be a mapping, got yaml kind %d", node.Kind)
	}

	group := NewGroup()
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		value := node.Content[i+1]

		if isLeafSpec(value) {
			var spec fieldSpec
			if err := value.Decode(&spec); err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			if len(spec.Shape) == 0 {
				group.Add(name, Primitive{DType: DType(spec.DType)})
			} else {
				group.Add(name, Tensor{
					Shape:    spec.Shape,
					MaxShape: spec.MaxShape,
					DType:    DType(spec.DType),
					Chunks:   spec.Chunks,
				})
			}
			continue
		}

		child, err := schemaFromYAML(value)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", name, err)
		}
		group.Add(name, child)
	}
	return group, nil
}

// isLeafSpec reports whether a mapping node describes a field rather
// than a nested group.
func isLeafSpec(node *yaml.Node) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "dtype" {
			return true
		}
	}
	return false
}
