package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"
)

// FileVersion is the current version of the store file format.
const FileVersion = 1

// scrypt parameters for the file-encryption key.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// fileState is the on-disk JSON shape of a FileStore.
type fileState struct {
	// Version is the store file format version.
	Version int `json:"version"`

	// SavedAt is when the store was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Salt is the base64 scrypt salt for this file.
	Salt string `json:"salt"`

	// Entries maps store keys to encrypted values.
	Entries map[string]fileEntry `json:"entries,omitempty"`
}

// fileEntry is one encrypted value.
type fileEntry struct {
	// Nonce is the base64 AES-GCM nonce.
	Nonce string `json:"nonce"`

	// Ciphertext is the base64 encrypted value.
	Ciphertext string `json:"ciphertext"`
}

// FileStore persists credential values to a single JSON file. Values are
// encrypted with AES-256-GCM under a key derived from the passphrase via
// scrypt, so the device private key never reaches disk in the clear.
type FileStore struct {
	mu   sync.Mutex
	path string

	aead   cipher.AEAD
	salt   []byte
	values map[string]fileEntry
}

// NewFileStore opens (or creates) a file-based credential store at path,
// deriving the encryption key from passphrase. Opening an existing file
// with the wrong passphrase succeeds, but reads will fail to decrypt.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		values: make(map[string]fileEntry),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	if s.salt == nil {
		s.salt = make([]byte, saltLen)
		if _, err := rand.Read(s.salt); err != nil {
			return nil, fmt.Errorf("generating salt: %w", err)
		}
	}

	key, err := scrypt.Key([]byte(passphrase), s.salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving file key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	s.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Get returns the decrypted value stored under key.
func (s *FileStore) Get(key string) (string, error) {
	if key == "" {
		return "", ErrBadKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.values[key]
	if !exists {
		return "", ErrKeyNotFound
	}

	nonce, err := base64.StdEncoding.DecodeString(entry.Nonce)
	if err != nil {
		return "", fmt.Errorf("decoding nonce for %q: %w", key, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(entry.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext for %q: %w", key, err)
	}

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", fmt.Errorf("decrypting %q: %w", key, err)
	}
	return string(plaintext), nil
}

// Set encrypts value and stores it under key, persisting the file.
func (s *FileStore) Set(key, value string) error {
	if key == "" {
		return ErrBadKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := s.aead.Seal(nil, nonce, []byte(value), []byte(key))
	s.values[key] = fileEntry{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	return s.save()
}

// Delete removes the value stored under key, persisting the file.
func (s *FileStore) Delete(key string) error {
	if key == "" {
		return ErrBadKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.values[key]; !exists {
		return nil
	}
	delete(s.values, key)
	return s.save()
}

// Exists reports whether a value is stored under key.
func (s *FileStore) Exists(key string) (bool, error) {
	if key == "" {
		return false, ErrBadKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.values[key]
	return exists, nil
}

// load reads the store file from disk. A missing file is an empty store.
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	state := fileState{}
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parsing store file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(state.Salt)
	if err != nil {
		return fmt.Errorf("decoding salt: %w", err)
	}
	// A missing or truncated salt would silently weaken the derived
	// key, so a damaged store file is rejected here instead.
	if len(salt) != saltLen {
		return fmt.Errorf("parsing store file: salt is %d bytes, want %d", len(salt), saltLen)
	}

	s.salt = salt
	if state.Entries != nil {
		s.values = state.Entries
	}
	return nil
}

// save writes the store file to disk. Caller holds the lock.
func (s *FileStore) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	state := fileState{
		Version: FileVersion,
		SavedAt: time.Now(),
		Salt:    base64.StdEncoding.EncodeToString(s.salt),
		Entries: s.values,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0600)
}

// Compile-time interface satisfaction check.
var _ Store = (*FileStore)(nil)
