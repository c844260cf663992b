// Package keys manages the device key: an age X25519 identity kept in a
// mode-0600 key file. The key authenticates the store through a sentinel
// check; snapshot exports are encrypted to a passphrase instead, so they
// stay readable without the device key.
package keys

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// StoreKey is a loaded store identity.
type StoreKey struct {
	identity *age.X25519Identity
}

// Encrypt reads plaintext from r and writes age ciphertext to w.
func (k *StoreKey) Encrypt(r io.Reader, w io.Writer) error {
	encWriter, err := age.Encrypt(w, k.identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Decrypt reads age ciphertext from r and writes plaintext to w.
// Fails if the ciphertext was not encrypted to this key.
func (k *StoreKey) Decrypt(r io.Reader, w io.Writer) error {
	decReader, err := age.Decrypt(r, k.identity)
	if err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("reading decrypted data: %w", err)
	}
	return nil
}

// Seal encrypts a small payload in memory.
func (k *StoreKey) Seal(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := k.Encrypt(bytes.NewReader(data), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Open decrypts a payload produced by Seal.
func (k *StoreKey) Open(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := k.Decrypt(bytes.NewReader(data), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Manager handles the key file on disk.
type Manager struct {
	keyPath string
}

// NewManager creates a manager for the given key file path.
func NewManager(keyPath string) *Manager {
	return &Manager{keyPath: keyPath}
}

// Exists reports whether a key file is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.keyPath)
	return err == nil
}

// Generate creates a fresh X25519 identity and writes it to the key file,
// replacing any existing one.
func (m *Manager) Generate() (*StoreKey, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.keyPath), 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(m.keyPath, []byte(identity.String()+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}

	return &StoreKey{identity: identity}, nil
}

// Load reads and parses the key file. A missing or unparseable file is
// key corruption from the store's point of view.
func (m *Manager) Load() (*StoreKey, error) {
	data, err := os.ReadFile(m.keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}
	return &StoreKey{identity: identity}, nil
}

// Wipe removes the key file. Missing files are fine.
func (m *Manager) Wipe() error {
	if err := os.Remove(m.keyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing key file: %w", err)
	}
	return nil
}

// EncryptWithPassphrase encrypts r to w using age's scrypt-based
// passphrase encryption. Used for snapshot exports that must be readable
// without the device key.
func EncryptWithPassphrase(r io.Reader, w io.Writer, passphrase string) error {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}
