package chunkset

import (
	"fmt"
	"strings"
	"sync"
)

// memoryBackends keeps mem:// locations alive for the life of the
// process, so a dataset created at mem://x can be reopened at mem://x.
var (
	memoryBackends   = make(map[string]*MemoryBackend)
	memoryBackendsMu sync.Mutex
)

// BackendForURL resolves a dataset url to a storage backend:
//
//	mem://name               process-local in-memory map
//	s3://bucket/prefix       S3 or S3-compatible object storage
//	sqlite://path/to/file.db single SQLite file
//	file://path or bare path local filesystem directory
func BackendForURL(url string) (StorageBackend, error) {
	switch {
	case strings.HasPrefix(url, "mem://"):
		memoryBackendsMu.Lock()
		defer memoryBackendsMu.Unlock()
		backend, ok := memoryBackends[url]
		if !ok {
			backend = NewMemoryBackend()
			memoryBackends[url] = backend
		}
		return backend, nil

	case strings.HasPrefix(url, "s3://"):
		rest := strings.TrimPrefix(url, "s3://")
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid s3 url %q: missing bucket", url)
		}
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		return NewS3Backend(S3BackendConfig{Bucket: bucket, Prefix: prefix})

	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("invalid sqlite url %q: missing path", url)
		}
		cfg := DefaultSQLiteBackendConfig()
		cfg.Path = path
		return NewSQLiteBackend(cfg)

	case strings.HasPrefix(url, "file://"):
		return NewFileBackend(strings.TrimPrefix(url, "file://"))

	case strings.Contains(url, "://"):
		return nil, fmt.Errorf("unsupported url scheme in %q", url)

	default:
		return NewFileBackend(url)
	}
}
