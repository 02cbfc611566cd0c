package journal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

// SecretSize is the length of the per-install secret.
const SecretSize = 32

var errWeakSecret = errors.New("journal: secret is too short")

// LoadOrCreateSecret reads the per-install secret at path, creating it with
// fresh random bytes and mode 0600 if it does not exist.
func LoadOrCreateSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil {
		if len(secret) < SecretSize {
			return nil, fmt.Errorf("%w: %d bytes in %s", errWeakSecret, len(secret), path)
		}
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read secret: %w", err)
	}

	secret = make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create secret directory: %w", err)
	}
	// O_EXCL so two daemons racing on first start cannot overwrite each other.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return LoadOrCreateSecret(path)
		}
		return nil, fmt.Errorf("create secret: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(secret); err != nil {
		return nil, fmt.Errorf("write secret: %w", err)
	}
	return secret, nil
}

// DeriveKey derives the row MAC key from the install secret with
// HKDF-SHA256.
func DeriveKey(secret []byte) ([]byte, error) {
	if len(secret) < SecretSize {
		return nil, errWeakSecret
	}
	r := hkdf.New(sha256.New, secret, nil, []byte("screenguard:journal:v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive journal key: %w", err)
	}
	return key, nil
}
