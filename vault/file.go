package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	fileVersion  byte = 1
	hkdfInfo          = "authflow vault v1"
	minMasterKey      = 32
)

var (
	// ErrCorrupt means a stored value failed to decrypt, usually because the
	// master key changed or the file was tampered with.
	ErrCorrupt = errors.New("vault: corrupt entry")
	// ErrShortKey is returned by NewFile for master keys under 32 bytes.
	ErrShortKey = errors.New("vault: master key must be at least 32 bytes")
)

// File stores one encrypted file per key under dir. The key name is bound to
// its ciphertext, so files cannot be swapped between keys.
type File struct {
	dir  string
	aead cipher.AEAD
	mu   sync.Mutex
}

// NewFile creates dir with mode 0700 if needed.
func NewFile(dir string, masterKey []byte) (*File, error) {
	if len(masterKey) < minMasterKey {
		return nil, ErrShortKey
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: create dir: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	clear(key)
	if err != nil {
		return nil, err
	}
	return &File{dir: dir, aead: aead}, nil
}

func (f *File) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:]))
}

// Store writes value atomically through a temp file and rename.
func (f *File) Store(key string, value []byte) error {
	nonce := make([]byte, f.aead.NonceSize(), 1+f.aead.NonceSize()+len(value)+f.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	out := append([]byte{fileVersion}, nonce...)
	out = f.aead.Seal(out, nonce, value, []byte(key))

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: %w", err)
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if err := os.Rename(name, f.path(key)); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	return nil
}

func (f *File) Read(key string) ([]byte, error) {
	f.mu.Lock()
	data, err := os.ReadFile(f.path(key))
	f.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vault: %w", err)
	}

	ns := f.aead.NonceSize()
	if len(data) < 1+ns+f.aead.Overhead() || data[0] != fileVersion {
		return nil, ErrCorrupt
	}
	plain, err := f.aead.Open(nil, data[1:1+ns], data[1+ns:], []byte(key))
	if err != nil {
		return nil, ErrCorrupt
	}
	return plain, nil
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("vault: %w", err)
	}
	return nil
}
