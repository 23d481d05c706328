package tokenstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const fileSlotInfo = "partsearch-token-slot"

// FileSlot keeps the token sealed on disk, one file per session name.
// The sealing key is derived from the configured secret key.
type FileSlot struct {
	path    string
	session string
	key     []byte
}

func NewFileSlot(dir string, session string, secretKey string) (*FileSlot, error) {
	if secretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if session == "" {
		return nil, errors.New("session name must not be empty")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("error while creating state dir. Err: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secretKey), nil, []byte(fileSlotInfo)), key); err != nil {
		return nil, fmt.Errorf("error while deriving slot key. Err: %w", err)
	}

	return &FileSlot{
		path:    filepath.Join(dir, session+".token"),
		session: session,
		key:     key,
	}, nil
}

func (s *FileSlot) Load(_ context.Context) (string, error) {
	sealed, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("error while reading token file. Err: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", errors.New("token file is truncated")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(s.session))
	if err != nil {
		return "", fmt.Errorf("error while opening token file. Err: %w", err)
	}

	return string(plain), nil
}

func (s *FileSlot) Save(_ context.Context, token string) error {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(token)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("error while generating nonce. Err: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(token), []byte(s.session))

	// Write to temp file and rename so a crash never leaves half a token
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".token-*")
	if err != nil {
		return fmt.Errorf("error while creating temp file. Err: %w", err)
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck

	if _, err := tmp.Write(sealed); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("error while writing token file. Err: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.path)
}

func (s *FileSlot) Clear(_ context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
