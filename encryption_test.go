package chunkset

import (
	"bytes"
	"context"
	"testing"
)

func TestEncryptorRoundtrip(t *testing.T) {
	enc, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "secret"})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}

	plaintext := []byte("chunk payload")
	sealed, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	opened, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("expected %q, got %q", plaintext, opened)
	}
}

func TestEncryptorSaltDerivation(t *testing.T) {
	enc, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "secret"})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	sealed, err := enc.Encrypt([]byte("data"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// The same password with the original salt decrypts.
	same, err := NewEncryptorWithSalt("secret", enc.Salt())
	if err != nil {
		t.Fatalf("NewEncryptorWithSalt failed: %v", err)
	}
	if _, err := same.Decrypt(sealed); err != nil {
		t.Errorf("Decrypt with rederived key failed: %v", err)
	}

	// A wrong password does not.
	wrong, err := NewEncryptorWithSalt("guess", enc.Salt())
	if err != nil {
		t.Fatalf("NewEncryptorWithSalt failed: %v", err)
	}
	if _, err := wrong.Decrypt(sealed); err == nil {
		t.Error("expected decrypt with wrong password to fail")
	}
}

func TestNewEncryptorValidation(t *testing.T) {
	if enc, err := NewEncryptor(EncryptionConfig{}); enc != nil || err != nil {
		t.Errorf("disabled config must produce nil encryptor, got %v/%v", enc, err)
	}
	if _, err := NewEncryptor(EncryptionConfig{Enabled: true}); err == nil {
		t.Error("expected missing key material to fail")
	}
	if _, err := NewEncryptor(EncryptionConfig{Enabled: true, Key: []byte("short")}); err == nil {
		t.Error("expected short key to fail")
	}
}

func TestEncryptedBackend(t *testing.T) {
	ctx := context.Background()
	parent := NewMemoryBackend()

	backend, err := NewEncryptedBackend(ctx, parent, EncryptionConfig{
		Enabled:     true,
		KeyPassword: "secret",
	})
	if err != nil {
		t.Fatalf("NewEncryptedBackend failed: %v", err)
	}

	payload := []byte("sensitive bytes")
	if err := backend.Write(ctx, "data/k", payload); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// At rest the value is ciphertext.
	raw, err := parent.Read(ctx, "data/k")
	if err != nil {
		t.Fatalf("parent Read failed: %v", err)
	}
	if bytes.Contains(raw, payload) {
		t.Error("value stored in cleartext")
	}

	got, err := backend.Read(ctx, "data/k")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("expected %q, got %q", payload, got)
	}

	// Listing never surfaces the persisted salt object.
	keys, err := backend.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, k := range keys {
		if k == encryptionSaltKey {
			t.Error("salt object leaked into listing")
		}
	}

	// A covering delete keeps the location reopenable with the password.
	if err := backend.DeletePrefix(ctx, ""); err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}
	if ok, _ := parent.Exists(ctx, encryptionSaltKey); !ok {
		t.Error("salt lost after covering delete")
	}
}

func TestEncryptedBackendReopen(t *testing.T) {
	ctx := context.Background()
	parent := NewMemoryBackend()

	first, err := NewEncryptedBackend(ctx, parent, EncryptionConfig{Enabled: true, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("NewEncryptedBackend failed: %v", err)
	}
	if err := first.Write(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// A second wrapper over the same storage rederives the key from the
	// persisted salt.
	second, err := NewEncryptedBackend(ctx, parent, EncryptionConfig{Enabled: true, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := second.Read(ctx, "k")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("expected 'v', got %q", got)
	}

	wrong, err := NewEncryptedBackend(ctx, parent, EncryptionConfig{Enabled: true, KeyPassword: "other"})
	if err != nil {
		t.Fatalf("NewEncryptedBackend failed: %v", err)
	}
	if _, err := wrong.Read(ctx, "k"); err == nil {
		t.Error("expected read with wrong password to fail")
	}
}

func TestDatasetEncrypted(t *testing.T) {
	ctx := context.Background()
	parent := NewMemoryBackend()
	encOpts := &EncryptionConfig{Enabled: true, KeyPassword: "pw"}

	ds, err := Open(ctx, "mem://enc", &Options{
		Mode:       ModeAppend,
		Backend:    parent,
		Schema:     NewGroup().Add("label", Primitive{DType: Int64}),
		Encryption: encOpts,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	value, _ := NewArray(Int64, 2)
	_ = value.SetInt(1, 0)
	_ = value.SetInt(2, 1)
	if err := ds.Set(ctx, value, Field("label"), Range(0, 2)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := ds.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// The descriptor record is unreadable without the key.
	raw, err := parent.Read(ctx, metaKey)
	if err != nil {
		t.Fatalf("parent Read failed: %v", err)
	}
	if bytes.Contains(raw, []byte("schema")) {
		t.Error("dataset metadata stored in cleartext")
	}

	reopened, err := Open(ctx, "mem://enc", &Options{
		Mode:       ModeRead,
		Backend:    parent,
		Encryption: encOpts,
	})
	if err != nil {
		t.Fatalf("encrypted reopen failed: %v", err)
	}
	view, err := reopened.Get(Field("label"), Index(1))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	arr, err := view.(*TensorView).Compute(ctx)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if v, _ := arr.Int(0); v != 2 {
		t.Errorf("expected 2, got %d", v)
	}
}
