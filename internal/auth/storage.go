package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/zalando/go-keyring"
)

// StorageBackend persists serialized credentials per profile
type StorageBackend interface {
	Save(profile string, data []byte) error
	Load(profile string) ([]byte, error)
	Delete(profile string) error
	Name() string
}

// errNoCredentials is returned by Load when a profile has nothing stored
var errNoCredentials = fmt.Errorf("no stored credentials")

// KeyringStorage keeps credentials in the system keyring
type KeyringStorage struct {
	serviceName string
}

// NewKeyringStorage creates a keyring backend under serviceName
func NewKeyringStorage(serviceName string) *KeyringStorage {
	return &KeyringStorage{serviceName: serviceName}
}

func (s *KeyringStorage) Save(profile string, data []byte) error {
	return keyring.Set(s.serviceName, profile, string(data))
}

func (s *KeyringStorage) Load(profile string) ([]byte, error) {
	data, err := keyring.Get(s.serviceName, profile)
	if err == keyring.ErrNotFound {
		return nil, errNoCredentials
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (s *KeyringStorage) Delete(profile string) error {
	if err := keyring.Delete(s.serviceName, profile); err != nil && err != keyring.ErrNotFound {
		return err
	}
	return nil
}

func (s *KeyringStorage) Name() string {
	return "system-keyring"
}

// EncryptedFileStorage stores AES-GCM encrypted credential files
type EncryptedFileStorage struct {
	baseDir string
	key     []byte
}

// NewEncryptedFileStorage creates an encrypted file backend. The key is
// generated on first use and kept next to the credentials.
func NewEncryptedFileStorage(baseDir string) (*EncryptedFileStorage, error) {
	key, err := getOrCreateEncryptionKey(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get encryption key: %w", err)
	}
	return &EncryptedFileStorage{baseDir: baseDir, key: key}, nil
}

func (s *EncryptedFileStorage) Save(profile string, data []byte) error {
	encrypted, err := s.encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	return writeCredentialFile(s.path(profile), encrypted)
}

func (s *EncryptedFileStorage) Load(profile string) ([]byte, error) {
	encrypted, err := os.ReadFile(s.path(profile))
	if os.IsNotExist(err) {
		return nil, errNoCredentials
	}
	if err != nil {
		return nil, err
	}
	return s.decrypt(encrypted)
}

func (s *EncryptedFileStorage) Delete(profile string) error {
	return removeCredentialFile(s.path(profile))
}

func (s *EncryptedFileStorage) Name() string {
	return "encrypted-file"
}

func (s *EncryptedFileStorage) path(profile string) string {
	return filepath.Join(s.baseDir, "credentials", profile+".enc")
}

func (s *EncryptedFileStorage) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *EncryptedFileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("invalid ciphertext")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}
	return plaintext, nil
}

func (s *EncryptedFileStorage) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// PlainFileStorage stores credentials unencrypted (development only)
type PlainFileStorage struct {
	baseDir string
}

// NewPlainFileStorage creates a plain file backend
func NewPlainFileStorage(baseDir string) *PlainFileStorage {
	return &PlainFileStorage{baseDir: baseDir}
}

func (s *PlainFileStorage) Save(profile string, data []byte) error {
	return writeCredentialFile(s.path(profile), data)
}

func (s *PlainFileStorage) Load(profile string) ([]byte, error) {
	data, err := os.ReadFile(s.path(profile))
	if os.IsNotExist(err) {
		return nil, errNoCredentials
	}
	return data, err
}

func (s *PlainFileStorage) Delete(profile string) error {
	return removeCredentialFile(s.path(profile))
}

func (s *PlainFileStorage) Name() string {
	return "plain-file"
}

func (s *PlainFileStorage) path(profile string) string {
	return filepath.Join(s.baseDir, "credentials", profile+".json")
}

func writeCredentialFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func removeCredentialFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func getOrCreateEncryptionKey(baseDir string) ([]byte, error) {
	keyFile := filepath.Join(baseDir, ".keyfile")

	if data, err := os.ReadFile(keyFile); err == nil {
		key, err := base64.StdEncoding.DecodeString(string(data))
		if err == nil && len(key) == 32 {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyFile, []byte(base64.StdEncoding.EncodeToString(key)), 0600); err != nil {
		return nil, err
	}
	return key, nil
}

// ListProfiles lists every profile with stored credentials. The keyring
// cannot be enumerated, so keyring profiles are tracked in profiles.json.
func (m *Manager) ListProfiles() ([]string, error) {
	if m.useKeyring {
		return m.readProfileList()
	}

	entries, err := os.ReadDir(filepath.Join(m.configDir, "credentials"))
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	profiles := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if ext := filepath.Ext(name); ext == ".json" || ext == ".enc" {
			profiles = append(profiles, name[:len(name)-len(ext)])
		}
	}
	sort.Strings(profiles)
	return profiles, nil
}

func (m *Manager) profileListPath() string {
	return filepath.Join(m.configDir, "profiles.json")
}

func (m *Manager) readProfileList() ([]string, error) {
	data, err := os.ReadFile(m.profileListPath())
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var profiles []string
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (m *Manager) writeProfileList(profiles []string) error {
	sort.Strings(profiles)
	data, err := json.Marshal(profiles)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return err
	}
	return os.WriteFile(m.profileListPath(), data, 0600)
}

func (m *Manager) trackProfile(profile string, present bool) error {
	if !m.useKeyring {
		return nil
	}
	profiles, err := m.readProfileList()
	if err != nil {
		return err
	}
	updated := make([]string, 0, len(profiles)+1)
	for _, p := range profiles {
		if p != profile {
			updated = append(updated, p)
		}
	}
	if present {
		updated = append(updated, profile)
	}
	return m.writeProfileList(updated)
}
