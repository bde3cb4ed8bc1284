package chunkset

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// ArtifactCodec encodes and decodes one class of model artifact,
// selected by file extension.
type ArtifactCodec interface {
	// Encode serializes an artifact to bytes.
	Encode(artifact any) ([]byte, error)
	// Decode deserializes an artifact from bytes.
	Decode(data []byte) (any, error)
}

// ArtifactStore saves and loads opaque model artifacts next to (or apart
// from) datasets, on any storage backend. Codecs are registered
// explicitly per extension; there is no probing for framework presence.
type ArtifactStore struct {
	backend StorageBackend
	codecs  map[string]ArtifactCodec
}

// NewArtifactStore creates an artifact store on a backend with no codecs
// registered.
func NewArtifactStore(backend StorageBackend) *ArtifactStore {
	return &ArtifactStore{
		backend: backend,
		codecs:  make(map[string]ArtifactCodec),
	}
}

// OpenArtifactStore resolves a url to a backend and creates a store on it.
func OpenArtifactStore(url string) (*ArtifactStore, error) {
	backend, err := BackendForURL(url)
	if err != nil {
		return nil, err
	}
	return NewArtifactStore(backend), nil
}

// Register associates a codec with a file extension such as ".json".
func (s *ArtifactStore) Register(ext string, codec ArtifactCodec) {
	s.codecs[strings.ToLower(ext)] = codec
}

func (s *ArtifactStore) codecFor(key string) (ArtifactCodec, error) {
	ext := strings.ToLower(path.Ext(key))
	codec, ok := s.codecs[ext]
	if !ok {
		return nil, fmt.Errorf("%w: no artifact codec for extension %q", ErrUnsupportedValue, ext)
	}
	return codec, nil
}

// Save encodes an artifact and stores it at key. The key's extension
// picks the codec.
func (s *ArtifactStore) Save(ctx context.Context, key string, artifact any) error {
	codec, err := s.codecFor(key)
	if err != nil {
		return err
	}
	data, err := codec.Encode(artifact)
	if err != nil {
		return fmt.Errorf("failed to encode artifact %s: %w", key, err)
	}
	return s.backend.Write(ctx, key, data)
}

// Load reads and decodes the artifact at key.
func (s *ArtifactStore) Load(ctx context.Context, key string) (any, error) {
	codec, err := s.codecFor(key)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	artifact, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", key, err)
	}
	return artifact, nil
}

// RawCodec passes artifact bytes through unchanged, for formats the
// caller serializes itself.
type RawCodec struct{}

func (RawCodec) Encode(artifact any) ([]byte, error) {
	data, ok := artifact.([]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec expects []byte, got %T", artifact)
	}
	return data, nil
}

func (RawCodec) Decode(data []byte) (any, error) {
	return data, nil
}

// JSONCodec stores artifacts as JSON documents.
type JSONCodec struct{}

func (JSONCodec) Encode(artifact any) ([]byte, error) {
	return json.Marshal(artifact)
}

func (JSONCodec) Decode(data []byte) (any, error) {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
