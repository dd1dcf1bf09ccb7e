package auth

import "os"

// Environment variables read by EnvironmentStore. EnvSession holds a whole
// session blob and wins over the individual cookie variables.
const (
	EnvSession   = "IGHARVEST_SESSION"
	EnvUsername  = "IGHARVEST_USERNAME"
	EnvUserID    = "IGHARVEST_USER_ID"
	EnvSessionID = "IGHARVEST_SESSION_ID"
	EnvCSRFToken = "IGHARVEST_CSRF_TOKEN"
)

// EnvironmentStore is a read-only CredentialStore for containers where
// neither a keychain nor a config directory persists.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Store(*Account) error { return ErrStoreUnavailable }

func (e *EnvironmentStore) Delete(string) error { return ErrStoreUnavailable }

// Retrieve returns the environment session. A non-empty username must match
// the session's account.
func (e *EnvironmentStore) Retrieve(username string) (*Account, error) {
	account, err := e.account()
	if err != nil {
		return nil, err
	}
	if username != "" && account.Username != "" && account.Username != username {
		return nil, ErrCredentialsNotFound
	}
	if account.Username == "" {
		account.Username = username
	}
	if account.Username == "" {
		account.Username = "default"
	}
	return account, nil
}

func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return nil, nil
	}
	return []*Account{account}, nil
}

func (e *EnvironmentStore) Exists(username string) bool {
	_, err := e.Retrieve(username)
	return err == nil
}

// account reads EnvSession, else the cookie variables. LastModified stays
// zero so any stored copy wins in Manager.List.
func (e *EnvironmentStore) account() (*Account, error) {
	if blob := os.Getenv(EnvSession); blob != "" {
		account, err := decodeAccount([]byte(blob))
		if err != nil {
			return nil, err
		}
		if account.SessionID == "" || account.CSRFToken == "" {
			return nil, ErrInvalidCredentials
		}
		return account, nil
	}

	sessionID, csrf := os.Getenv(EnvSessionID), os.Getenv(EnvCSRFToken)
	if sessionID == "" || csrf == "" {
		return nil, ErrCredentialsNotFound
	}
	return &Account{
		Username:  os.Getenv(EnvUsername),
		UserID:    os.Getenv(EnvUserID),
		SessionID: sessionID,
		CSRFToken: csrf,
	}, nil
}
