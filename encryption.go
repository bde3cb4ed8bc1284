package chunkset

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the nonce size for AES-GCM
	EncryptionNonceSize = 12
	// EncryptionSaltSize is the salt size for key derivation
	EncryptionSaltSize = 32
	// EncryptionKeySize is the AES-256 key size
	EncryptionKeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation
	PBKDF2Iterations = 100000
)

// encryptionSaltKey is where the key-derivation salt is persisted, next to
// the dataset's other objects. The salt itself is not secret.
const encryptionSaltKey = ".encryption-salt"

// EncryptionConfig configures encryption at rest.
type EncryptionConfig struct {
	// Enabled turns on encryption for stored values
	Enabled bool
	// Key is the encryption key (must be 32 bytes for AES-256)
	// If empty, KeyPassword is used to derive a key
	Key []byte
	// KeyPassword is used to derive the encryption key via PBKDF2
	KeyPassword string
}

// Encryptor provides encryption/decryption for stored values.
type Encryptor struct {
	gcm  cipher.AEAD
	salt []byte
}

// NewEncryptor creates a new encryptor from a key or password, generating
// a fresh salt for password-derived keys.
func NewEncryptor(cfg EncryptionConfig) (*Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	salt := make([]byte, EncryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	var key []byte
	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != EncryptionKeySize {
			return nil, errors.New("encryption key must be 32 bytes for AES-256")
		}
		key = cfg.Key
	case cfg.KeyPassword != "":
		key = pbkdf2.Key([]byte(cfg.KeyPassword), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	default:
		return nil, errors.New("encryption enabled but no key or password provided")
	}

	return newEncryptorFromKey(key, salt)
}

// NewEncryptorWithSalt creates an encryptor using an existing salt, for
// reopening a dataset encrypted with a password.
func NewEncryptorWithSalt(password string, salt []byte) (*Encryptor, error) {
	if len(salt) != EncryptionSaltSize {
		return nil, errors.New("invalid salt size")
	}
	key := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	return newEncryptorFromKey(key, salt)
}

func newEncryptorFromKey(key, salt []byte) (*Encryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm, salt: salt}, nil
}

// Salt returns the salt used for key derivation.
func (e *Encryptor) Salt() []byte {
	return e.salt
}

// Encrypt encrypts plaintext and returns ciphertext with prepended nonce.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, EncryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext (with prepended nonce) and returns plaintext.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < EncryptionNonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:EncryptionNonceSize]
	return e.gcm.Open(nil, nonce, ciphertext[EncryptionNonceSize:], nil)
}

// EncryptedBackend wraps a StorageBackend so every stored value is
// AES-GCM encrypted. The key-derivation salt is persisted alongside the
// data so a password-protected dataset can be reopened.
type EncryptedBackend struct {
	backend   StorageBackend
	encryptor *Encryptor
}

// NewEncryptedBackend wraps backend with encryption at rest. For
// password-derived keys it reuses a previously persisted salt if one
// exists, otherwise it persists the freshly generated one.
func NewEncryptedBackend(ctx context.Context, backend StorageBackend, cfg EncryptionConfig) (*EncryptedBackend, error) {
	if !cfg.Enabled {
		return nil, errors.New("encryption config is not enabled")
	}

	var enc *Encryptor
	exists, err := backend.Exists(ctx, encryptionSaltKey)
	if err != nil {
		return nil, err
	}
	if exists && cfg.KeyPassword != "" && len(cfg.Key) == 0 {
		salt, err := backend.Read(ctx, encryptionSaltKey)
		if err != nil {
			return nil, err
		}
		enc, err = NewEncryptorWithSalt(cfg.KeyPassword, salt)
		if err != nil {
			return nil, err
		}
	} else {
		enc, err = NewEncryptor(cfg)
		if err != nil {
			return nil, err
		}
		if err := backend.Write(ctx, encryptionSaltKey, enc.Salt()); err != nil {
			return nil, err
		}
	}

	return &EncryptedBackend{backend: backend, encryptor: enc}, nil
}

func (e *EncryptedBackend) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := e.backend.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.encryptor.Decrypt(data)
}

func (e *EncryptedBackend) Write(ctx context.Context, key string, data []byte) error {
	sealed, err := e.encryptor.Encrypt(data)
	if err != nil {
		return err
	}
	return e.backend.Write(ctx, key, sealed)
}

func (e *EncryptedBackend) Delete(ctx context.Context, key string) error {
	return e.backend.Delete(ctx, key)
}

func (e *EncryptedBackend) DeletePrefix(ctx context.Context, prefix string) error {
	if err := e.backend.DeletePrefix(ctx, prefix); err != nil {
		return err
	}
	// A covering delete takes the persisted salt with it; put it back so
	// the location stays reopenable with the same password.
	if strings.HasPrefix(encryptionSaltKey, prefix) {
		return e.backend.Write(ctx, encryptionSaltKey, e.encryptor.Salt())
	}
	return nil
}

func (e *EncryptedBackend) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := e.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	// The salt object is infrastructure, not dataset content.
	out := keys[:0]
	for _, k := range keys {
		if k != encryptionSaltKey {
			out = append(out, k)
		}
	}
	return out, nil
}

func (e *EncryptedBackend) Exists(ctx context.Context, key string) (bool, error) {
	return e.backend.Exists(ctx, key)
}

func (e *EncryptedBackend) Close() error {
	return e.backend.Close()
}
