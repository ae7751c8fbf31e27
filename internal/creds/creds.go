// Package creds stores the saved portal password encrypted at rest. A
// locally generated X25519 identity lives next to the cache; the password is
// encrypted to its recipient and kept base64-armored in the configuration,
// so neither file alone reveals it.
package creds

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// Store encrypts and decrypts passwords against the identity file at
// keyPath. The identity is generated on first use.
type Store struct {
	keyPath string
}

func NewStore(keyPath string) *Store {
	return &Store{keyPath: keyPath}
}

// Encrypt returns the password age-encrypted to the local identity,
// base64-armored for embedding in a text configuration file.
func (s *Store) Encrypt(password string) (string, error) {
	identity, err := s.identity()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, password); err != nil {
		return "", fmt.Errorf("encrypting password: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decrypt reverses Encrypt. It fails when the identity file was removed or
// replaced since the password was saved.
func (s *Store) Decrypt(armored string) (string, error) {
	identity, err := s.identity()
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(armored)
	if err != nil {
		return "", fmt.Errorf("decoding saved password: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return "", fmt.Errorf("decrypting saved password: %w", err)
	}
	password, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decrypting saved password: %w", err)
	}
	return string(password), nil
}

// identity loads the local key, generating and persisting a fresh one when
// none exists yet.
func (s *Store) identity() (*age.X25519Identity, error) {
	data, err := os.ReadFile(s.keyPath)
	if os.IsNotExist(err) {
		return s.generate()
	}
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}
	return identity, nil
}

func (s *Store) generate() (*age.X25519Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.keyPath), 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(s.keyPath, []byte(identity.String()+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	return identity, nil
}
