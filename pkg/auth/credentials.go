package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Account is the cookie set of an authenticated Instagram session. Its JSON
// encoding is the opaque session blob handed between the Instagram client,
// the session service and persistence.
type Account struct {
	Username     string    `json:"username"`
	UserID       string    `json:"user_id,omitempty"`
	SessionID    string    `json:"session_id"`
	CSRFToken    string    `json:"csrf_token"`
	MachineID    string    `json:"mid,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Validate reports the first missing required field.
func (a *Account) Validate() error {
	switch {
	case a == nil:
		return ErrInvalidCredentials
	case a.Username == "":
		return errors.New("username is required")
	case a.SessionID == "":
		return errors.New("session ID is required")
	case a.CSRFToken == "":
		return errors.New("CSRF token is required")
	}
	return nil
}

// Blob encodes the account as a session blob.
func (a *Account) Blob() ([]byte, error) {
	return json.Marshal(a)
}

// ParseBlob decodes a session blob.
func ParseBlob(blob []byte) (*Account, error) {
	var account Account
	if err := json.Unmarshal(blob, &account); err != nil {
		return nil, fmt.Errorf("invalid session blob: %w", err)
	}
	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session blob: %w", err)
	}
	return &account, nil
}

// CredentialStore persists accounts by username.
type CredentialStore interface {
	Store(account *Account) error
	Retrieve(username string) (*Account, error)
	List() ([]*Account, error)
	Delete(username string) error
	Exists(username string) bool
}

// Manager layers credential stores. Writes go to the first store that
// accepts them, reads take the first hit, and deletes reach every store.
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a Manager rooted at <user config dir>/igharvest, using
// the system keychain when one is available.
func NewManager() (*Manager, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate config directory: %w", err)
	}
	return NewManagerWithDir(filepath.Join(base, "igharvest"), true)
}

// NewManagerWithDir creates a Manager whose encrypted file lives in dir,
// followed by the read-only environment store.
func NewManagerWithDir(dir string, useKeyring bool) (*Manager, error) {
	var stores []CredentialStore
	if useKeyring {
		if ks, err := NewKeyringStore(); err == nil {
			stores = append(stores, ks)
		}
	}

	fs, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, fs, NewEnvironmentStore())
	return &Manager{stores: stores}, nil
}

// Store validates account, stamps LastModified and saves it.
func (m *Manager) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	account.LastModified = time.Now()

	var failures []error
	for _, s := range m.stores {
		err := s.Store(account)
		if err == nil {
			return nil
		}
		failures = append(failures, err)
	}
	if len(failures) == 0 {
		return ErrStoreUnavailable
	}
	return fmt.Errorf("failed to store credentials: %w", errors.Join(failures...))
}

func (m *Manager) Retrieve(username string) (*Account, error) {
	for _, s := range m.stores {
		if account, err := s.Retrieve(username); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, username)
}

// RetrieveDefault returns the most recently modified account.
func (m *Manager) RetrieveDefault() (*Account, error) {
	accounts, err := m.List()
	if err != nil || len(accounts) == 0 {
		return nil, ErrCredentialsNotFound
	}
	return accounts[0], nil
}

// List merges every store, keeping the newest copy of each username, and
// returns the accounts newest first. Unreadable stores are skipped.
func (m *Manager) List() ([]*Account, error) {
	newest := make(map[string]*Account)
	for _, s := range m.stores {
		accounts, err := s.List()
		if err != nil {
			continue
		}
		for _, a := range accounts {
			if cur, ok := newest[a.Username]; !ok || a.LastModified.After(cur.LastModified) {
				newest[a.Username] = a
			}
		}
	}

	out := make([]*Account, 0, len(newest))
	for _, a := range newest {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.After(out[j].LastModified)
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}

// Delete removes username from every writable store. It fails with
// ErrCredentialsNotFound when no store held the account.
func (m *Manager) Delete(username string) error {
	removed := false
	var failures []error
	for _, s := range m.stores {
		err := s.Delete(username)
		switch {
		case err == nil:
			removed = true
		case errors.Is(err, ErrCredentialsNotFound), errors.Is(err, ErrStoreUnavailable):
		default:
			failures = append(failures, err)
		}
	}
	if removed {
		return nil
	}
	if len(failures) > 0 {
		return fmt.Errorf("failed to delete credentials: %w", errors.Join(failures...))
	}
	return fmt.Errorf("%w: %s", ErrCredentialsNotFound, username)
}

// SanitizeAccount creates a copy of the account with sensitive data masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	return &Account{
		Username:     account.Username,
		UserID:       account.UserID,
		SessionID:    maskString(account.SessionID),
		CSRFToken:    maskString(account.CSRFToken),
		UserAgent:    account.UserAgent,
		LastModified: account.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
