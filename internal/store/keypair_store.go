package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"nativemsg/internal/crypto"
	"nativemsg/internal/domain"
)

// KeyPairFile is the file name of the sealed key pair inside the store dir.
const KeyPairFile = "keypair.json.enc"

// ErrNoKeyPair is returned by LoadKeyPair before any pair has been saved.
var ErrNoKeyPair = errors.New("no key pair stored")

// KeyPairFileStore persists the local RSA key pair to disk.
type KeyPairFileStore struct {
	dir string
	kdf ScryptParams
	mu  sync.Mutex
}

// NewKeyPairFileStore returns a KeyPairFileStore rooted at dir.
func NewKeyPairFileStore(dir string) *KeyPairFileStore {
	return &KeyPairFileStore{dir: dir, kdf: DefaultScryptParams()}
}

// WithScryptParams overrides the key-derivation cost for new saves.
func (s *KeyPairFileStore) WithScryptParams(p ScryptParams) *KeyPairFileStore {
	s.kdf = p
	return s
}

// Path returns the key file location.
func (s *KeyPairFileStore) Path() string { return filepath.Join(s.dir, KeyPairFile) }

// Exists reports whether a key pair has been saved.
func (s *KeyPairFileStore) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// SaveKeyPair seals kp under passphrase, replacing any previous pair.
func (s *KeyPairFileStore) SaveKeyPair(passphrase string, kp domain.KeyPair) error {
	if passphrase == "" {
		return fmt.Errorf("store: empty passphrase")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(kp)
	if err != nil {
		return err
	}
	defer crypto.Wipe(raw)
	ct, err := seal(passphrase, raw, KeyPairFile, s.kdf)
	if err != nil {
		return err
	}
	return writeFile(s.Path(), ct, 0o600)
}

// LoadKeyPair reads and decrypts the key pair.
func (s *KeyPairFileStore) LoadKeyPair(passphrase string) (domain.KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return domain.KeyPair{}, ErrNoKeyPair
	}
	if err != nil {
		return domain.KeyPair{}, err
	}
	pt, err := open(passphrase, b, KeyPairFile)
	if err != nil {
		return domain.KeyPair{}, err
	}
	defer crypto.Wipe(pt)
	var kp domain.KeyPair
	if err := json.Unmarshal(pt, &kp); err != nil {
		return domain.KeyPair{}, err
	}
	return kp, nil
}

// Compile-time assertion that KeyPairFileStore implements domain.KeyPairStore.
var _ domain.KeyPairStore = (*KeyPairFileStore)(nil)
