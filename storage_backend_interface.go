package chunkset

import "context"

// StorageBackend is the byte-addressable storage map a dataset lives on.
// It maps string keys to byte sequences and is the only storage primitive
// the dataset core relies on. Implementations cover local filesystem,
// in-memory maps, S3-compatible object stores and SQLite files.
type StorageBackend interface {
	// Read reads the value stored at key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores data at key, replacing any previous value.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes the value at key.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key under the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// List returns all keys under a prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks whether a key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases any resources.
	Close() error
}

// Ensure interfaces are implemented
var (
	_ StorageBackend = (*MemoryBackend)(nil)
	_ StorageBackend = (*FileBackend)(nil)
	_ StorageBackend = (*S3Backend)(nil)
	_ StorageBackend = (*SQLiteBackend)(nil)
	_ StorageBackend = (*PrefixBackend)(nil)
	_ StorageBackend = (*CachedBackend)(nil)
	_ StorageBackend = (*EncryptedBackend)(nil)
)

// countPrefix returns the number of entries under a prefix. The dataset
// lifecycle uses it to decide whether a location is empty.
func countPrefix(ctx context.Context, b StorageBackend, prefix string) (int, error) {
	keys, err := b.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
