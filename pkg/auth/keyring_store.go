package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "igharvest"
	// keyringIndexKey lists the stored usernames; keychains cannot enumerate
	keyringIndexKey = "index"
)

func keyringKey(username string) string { return "session/" + username }

// KeyringStore keeps session blobs in the system keychain.
type KeyringStore struct {
	mu sync.Mutex
}

// NewKeyringStore returns a KeyringStore if the keychain accepts writes.
func NewKeyringStore() (*KeyringStore, error) {
	const probe = "probe"
	if err := keyring.Set(keyringService, probe, "ok"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	_ = keyring.Delete(keyringService, probe)
	return &KeyringStore{}, nil
}

func (k *KeyringStore) Store(account *Account) error {
	if account == nil || account.Username == "" {
		return ErrInvalidCredentials
	}
	blob, err := account.Blob()
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Set(keyringService, keyringKey(account.Username), string(blob)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	names, err := k.index()
	if err != nil {
		return err
	}
	return k.saveIndex(append(names, account.Username))
}

func (k *KeyringStore) Retrieve(username string) (*Account, error) {
	if username == "" {
		return nil, ErrInvalidCredentials
	}
	blob, err := keyring.Get(keyringService, keyringKey(username))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	return decodeAccount([]byte(blob))
}

// List returns the indexed accounts that are still present.
func (k *KeyringStore) List() ([]*Account, error) {
	k.mu.Lock()
	names, err := k.index()
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(names))
	for _, name := range names {
		if account, err := k.Retrieve(name); err == nil {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

func (k *KeyringStore) Delete(username string) error {
	if username == "" {
		return ErrInvalidCredentials
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	err := keyring.Delete(keyringService, keyringKey(username))
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}

	names, err := k.index()
	if err != nil {
		return err
	}
	kept := names[:0]
	for _, n := range names {
		if n != username {
			kept = append(kept, n)
		}
	}
	return k.saveIndex(kept)
}

func (k *KeyringStore) Exists(username string) bool {
	if username == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringKey(username))
	return err == nil
}

func (k *KeyringStore) index() ([]string, error) {
	raw, err := keyring.Get(keyringService, keyringIndexKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("failed to parse keyring index: %w", err)
	}
	return names, nil
}

// saveIndex writes names sorted and deduplicated.
func (k *KeyringStore) saveIndex(names []string) error {
	sort.Strings(names)
	uniq := names[:0]
	for i, n := range names {
		if i == 0 || n != names[i-1] {
			uniq = append(uniq, n)
		}
	}
	raw, err := json.Marshal(uniq)
	if err != nil {
		return err
	}
	if err := keyring.Set(keyringService, keyringIndexKey, string(raw)); err != nil {
		return fmt.Errorf("failed to update keyring index: %w", err)
	}
	return nil
}
