package chunkset

import (
	"context"
	"strings"
)

// PrefixBackend exposes the keyspace below a fixed prefix of another
// backend as a backend of its own. Each field store sees only its own
// namespace through one of these.
type PrefixBackend struct {
	backend StorageBackend
	prefix  string
}

// NewPrefixBackend scopes backend to the given prefix. A trailing slash is
// appended if missing so that sibling prefixes never alias.
func NewPrefixBackend(backend StorageBackend, prefix string) *PrefixBackend {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &PrefixBackend{backend: backend, prefix: prefix}
}

func (p *PrefixBackend) Read(ctx context.Context, key string) ([]byte, error) {
	return p.backend.Read(ctx, p.prefix+key)
}

func (p *PrefixBackend) Write(ctx context.Context, key string, data []byte) error {
	return p.backend.Write(ctx, p.prefix+key, data)
}

func (p *PrefixBackend) Delete(ctx context.Context, key string) error {
	return p.backend.Delete(ctx, p.prefix+key)
}

func (p *PrefixBackend) DeletePrefix(ctx context.Context, prefix string) error {
	return p.backend.DeletePrefix(ctx, p.prefix+prefix)
}

func (p *PrefixBackend) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.backend.List(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, p.prefix))
	}
	return out, nil
}

func (p *PrefixBackend) Exists(ctx context.Context, key string) (bool, error) {
	return p.backend.Exists(ctx, p.prefix+key)
}

// Close is a no-op; the parent backend owns the resources.
func (p *PrefixBackend) Close() error {
	return nil
}
