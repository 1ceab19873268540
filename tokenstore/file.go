package tokenstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	fileExt  = ".json"
	filePerm = 0o600
	dirPerm  = 0o700
)

var _ Backend = (*FileBackend)(nil)

// FileBackend stores each key in its own file under dir. Writes go to a
// temporary file that is renamed over the target, so a reader sees either the
// old or the new value. With a key configured, values are sealed with
// XChaCha20-Poly1305 and the storage key is bound as additional data.
type FileBackend struct {
	dir  string
	aead cipher.AEAD
}

// NewFileBackend creates dir if needed. encryptionKey may be nil; otherwise it
// must be chacha20poly1305.KeySize bytes.
func NewFileBackend(dir string, encryptionKey []byte) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("[tokenstore NewFileBackend] dir is required")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("[tokenstore NewFileBackend] create %s: %w", dir, err)
	}

	fb := &FileBackend{dir: dir}
	if encryptionKey != nil {
		aead, err := chacha20poly1305.NewX(encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("[tokenstore NewFileBackend] encryption key: %w", err)
		}
		fb.aead = aead
	}
	return fb, nil
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, key+fileExt)
}

func (f *FileBackend) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[FileBackend Read] %s: %w", key, err)
	}
	return f.open(key, data)
}

func (f *FileBackend) Write(_ context.Context, key string, value []byte) error {
	data, err := f.seal(key, value)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("[FileBackend Write] create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("[FileBackend Write] write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("[FileBackend Write] sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[FileBackend Write] close temp: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		return fmt.Errorf("[FileBackend Write] chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		return fmt.Errorf("[FileBackend Write] rename: %w", err)
	}
	return nil
}

func (f *FileBackend) Delete(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("[FileBackend Delete] %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) seal(key string, plaintext []byte) ([]byte, error) {
	if f.aead == nil {
		return plaintext, nil
	}
	nonce := make([]byte, f.aead.NonceSize(), f.aead.NonceSize()+len(plaintext)+f.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("[FileBackend seal] nonce: %w", err)
	}
	return f.aead.Seal(nonce, nonce, plaintext, []byte(key)), nil
}

func (f *FileBackend) open(key string, data []byte) ([]byte, error) {
	if f.aead == nil {
		return data, nil
	}
	if len(data) < f.aead.NonceSize() {
		return nil, fmt.Errorf("[FileBackend open] %s: ciphertext too short", key)
	}
	nonce, ciphertext := data[:f.aead.NonceSize()], data[f.aead.NonceSize():]
	plaintext, err := f.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("[FileBackend open] %s: %w", key, err)
	}
	return plaintext, nil
}
