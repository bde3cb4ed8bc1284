package chunkset

import (
	"context"
	"testing"
)

func TestBackendForURLMemory(t *testing.T) {
	a, err := BackendForURL("mem://url-identity")
	if err != nil {
		t.Fatalf("BackendForURL failed: %v", err)
	}
	b, err := BackendForURL("mem://url-identity")
	if err != nil {
		t.Fatalf("BackendForURL failed: %v", err)
	}
	// The same url must resolve to the same live map, so a dataset
	// created there can be reopened.
	if a != b {
		t.Error("expected identical backend for repeated mem url")
	}

	ctx := context.Background()
	if err := a.Write(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if ok, _ := b.Exists(ctx, "k"); !ok {
		t.Error("expected write to be visible through second handle")
	}

	c, err := BackendForURL("mem://url-other")
	if err != nil {
		t.Fatalf("BackendForURL failed: %v", err)
	}
	if ok, _ := c.Exists(ctx, "k"); ok {
		t.Error("distinct mem urls must not share state")
	}
}

func TestBackendForURLFile(t *testing.T) {
	dir := t.TempDir()

	for _, url := range []string{dir, "file://" + dir} {
		backend, err := BackendForURL(url)
		if err != nil {
			t.Fatalf("%s: BackendForURL failed: %v", url, err)
		}
		if _, ok := backend.(*FileBackend); !ok {
			t.Errorf("%s: expected *FileBackend, got %T", url, backend)
		}
	}
}

func TestBackendForURLSQLite(t *testing.T) {
	path := t.TempDir() + "/ds.db"
	backend, err := BackendForURL("sqlite://" + path)
	if err != nil {
		t.Fatalf("BackendForURL failed: %v", err)
	}
	sb, ok := backend.(*SQLiteBackend)
	if !ok {
		t.Fatalf("expected *SQLiteBackend, got %T", backend)
	}
	defer sb.Close()

	if _, err := BackendForURL("sqlite://"); err == nil {
		t.Error("expected empty sqlite path to fail")
	}
}

func TestBackendForURLErrors(t *testing.T) {
	if _, err := BackendForURL("gopher://whatever"); err == nil {
		t.Error("expected unsupported scheme to fail")
	}
	if _, err := BackendForURL("s3://"); err == nil {
		t.Error("expected s3 url without bucket to fail")
	}
}
