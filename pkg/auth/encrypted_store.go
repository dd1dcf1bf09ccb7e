package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseEnv overrides the generated passphrase of the encrypted store.
const PassphraseEnv = "IGHARVEST_PASSPHRASE"

const (
	envelopeVersion = 2
	kdfIterations   = 100000
	kdfSaltSize     = 32
	aesKeySize      = 32
)

// envelope is the on-disk form of an EncryptedFileStore.
type envelope struct {
	Version    int       `json:"version"`
	Salt       []byte    `json:"salt"`
	Iterations int       `json:"iterations"`
	Payload    []byte    `json:"payload"` // nonce || AES-GCM ciphertext
	UpdatedAt  time.Time `json:"updated_at"`
}

// sessionVault is the decrypted payload: session blobs keyed by username.
type sessionVault map[string]json.RawMessage

// EncryptedFileStore keeps every session blob in a single AES-GCM sealed
// file. The key is derived with PBKDF2 from PassphraseEnv, or from a
// .passphrase file generated next to the store on first use.
type EncryptedFileStore struct {
	path       string
	passphrase []byte
	mu         sync.RWMutex
}

// NewEncryptedFileStore creates the store, creating its directory if needed.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	pass, err := loadPassphrase(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: pass}, nil
}

func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Username == "" {
		return ErrInvalidCredentials
	}
	blob, err := account.Blob()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.open()
	if err != nil {
		return err
	}
	v[account.Username] = blob
	return e.seal(v)
}

func (e *EncryptedFileStore) Retrieve(username string) (*Account, error) {
	if username == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	v, err := e.open()
	if err != nil {
		return nil, err
	}
	blob, ok := v[username]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return decodeAccount(blob)
}

// List returns the stored accounts ordered by username.
func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, err := e.open()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)

	accounts := make([]*Account, 0, len(names))
	for _, name := range names {
		account, err := decodeAccount(v[name])
		if err != nil {
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Delete removes username. The file is removed with its last entry.
func (e *EncryptedFileStore) Delete(username string) error {
	if username == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.open()
	if err != nil {
		return err
	}
	if _, ok := v[username]; !ok {
		return ErrCredentialsNotFound
	}
	delete(v, username)
	if len(v) == 0 {
		return os.Remove(e.path)
	}
	return e.seal(v)
}

func (e *EncryptedFileStore) Exists(username string) bool {
	_, err := e.Retrieve(username)
	return err == nil
}

// open reads and decrypts the vault. A missing file is an empty vault.
func (e *EncryptedFileStore) open() (sessionVault, error) {
	content, err := os.ReadFile(e.path)
	if errors.Is(err, os.ErrNotExist) {
		return sessionVault{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if env.Iterations <= 0 || len(env.Salt) == 0 {
		return nil, fmt.Errorf("unsupported credentials file version %d", env.Version)
	}

	gcm, err := e.aead(env.Salt, env.Iterations)
	if err != nil {
		return nil, err
	}
	if len(env.Payload) < gcm.NonceSize() {
		return nil, errors.New("failed to decrypt credentials: payload too short")
	}
	nonce, sealed := env.Payload[:gcm.NonceSize()], env.Payload[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	v := sessionVault{}
	if err := json.Unmarshal(plain, &v); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return v, nil
}

// seal encrypts v under a fresh salt and nonce and atomically replaces the file.
func (e *EncryptedFileStore) seal(v sessionVault) error {
	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	salt, err := randomBytes(kdfSaltSize)
	if err != nil {
		return err
	}
	gcm, err := e.aead(salt, kdfIterations)
	if err != nil {
		return err
	}
	nonce, err := randomBytes(gcm.NonceSize())
	if err != nil {
		return err
	}

	content, err := json.MarshalIndent(envelope{
		Version:    envelopeVersion,
		Salt:       salt,
		Iterations: kdfIterations,
		Payload:    gcm.Seal(nonce, nonce, plain, nil),
		UpdatedAt:  time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(e.path, content)
}

func (e *EncryptedFileStore) aead(salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.passphrase, salt, iterations, aesKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func decodeAccount(blob []byte) (*Account, error) {
	var account Account
	if err := json.Unmarshal(blob, &account); err != nil {
		return nil, fmt.Errorf("failed to parse stored session: %w", err)
	}
	return &account, nil
}

// loadPassphrase returns PassphraseEnv, or the .passphrase file in dir,
// generating it on first use.
func loadPassphrase(dir string) ([]byte, error) {
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return []byte(pass), nil
	}

	file := filepath.Join(dir, ".passphrase")
	if content, err := os.ReadFile(file); err == nil && len(content) > 0 {
		return content, nil
	}

	raw, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	pass := []byte(base64.RawURLEncoding.EncodeToString(raw))
	if err := os.WriteFile(file, pass, 0600); err != nil {
		return nil, fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// writeFileAtomic writes content to a 0600 temp file and renames it over path.
func writeFileAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
