package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func testAccount(name string) *Account {
	return &Account{
		Username:  name,
		UserID:    "4242",
		SessionID: "4242%3Asession_value_" + name,
		CSRFToken: "csrf_token_value_" + name,
		UserAgent: "TestAgent/1.0",
	}
}

func TestCredentialManager(t *testing.T) {
	manager, store := NewMemoryManager()

	account := testAccount("testuser")
	require.NoError(t, manager.Store(account))
	assert.False(t, account.LastModified.IsZero())

	retrieved, err := manager.Retrieve("testuser")
	require.NoError(t, err)
	assert.Equal(t, account.SessionID, retrieved.SessionID)
	assert.Equal(t, account.CSRFToken, retrieved.CSRFToken)
	assert.Equal(t, "4242", retrieved.UserID)

	accounts, err := manager.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	require.NoError(t, manager.Delete("testuser"))
	_, err = manager.Retrieve("testuser")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.Equal(t, 0, store.Count())

	assert.ErrorIs(t, manager.Delete("testuser"), ErrCredentialsNotFound)
}

func TestManagerStoreValidates(t *testing.T) {
	manager, _ := NewMemoryManager()

	assert.Error(t, manager.Store(&Account{SessionID: "s", CSRFToken: "c"}))
	assert.Error(t, manager.Store(&Account{Username: "u", CSRFToken: "c"}))
	assert.Error(t, manager.Store(&Account{Username: "u", SessionID: "s"}))
}

func TestManagerFallsBackToNextStore(t *testing.T) {
	failing := NewMemoryStore()
	failing.StoreError = errors.New("keychain locked")
	backup := NewMemoryStore()
	manager := NewManagerWithStores(failing, backup)

	require.NoError(t, manager.Store(testAccount("a")))
	assert.Equal(t, 0, failing.Count())
	assert.Equal(t, 1, backup.Count())
}

func TestManagerListNewestFirst(t *testing.T) {
	older := NewMemoryStore()
	newer := NewMemoryStore()
	manager := NewManagerWithStores(older, newer)

	a := testAccount("a")
	a.LastModified = time.Now().Add(-time.Hour)
	require.NoError(t, older.Store(a))

	stale := testAccount("b")
	stale.LastModified = time.Now().Add(-2 * time.Hour)
	stale.SessionID = "stale"
	require.NoError(t, older.Store(stale))

	fresh := testAccount("b")
	fresh.LastModified = time.Now()
	require.NoError(t, newer.Store(fresh))

	accounts, err := manager.List()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "b", accounts[0].Username)
	assert.Equal(t, fresh.SessionID, accounts[0].SessionID)

	def, err := manager.RetrieveDefault()
	require.NoError(t, err)
	assert.Equal(t, "b", def.Username)
}

func TestBlobRoundTrip(t *testing.T) {
	blob, err := testAccount("shop").Blob()
	require.NoError(t, err)

	account, err := ParseBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, "shop", account.Username)

	_, err = ParseBlob([]byte(`{"username":"x"}`))
	assert.Error(t, err)
	_, err = ParseBlob([]byte(`not json`))
	assert.Error(t, err)
}

func TestSanitizeAccount(t *testing.T) {
	account := testAccount("masked")
	sanitized := SanitizeAccount(account)

	assert.Equal(t, account.Username, sanitized.Username)
	assert.NotEqual(t, account.SessionID, sanitized.SessionID)
	assert.Contains(t, sanitized.SessionID, "...")
	assert.Equal(t, "********", maskString("short"))
	assert.Nil(t, SanitizeAccount(nil))
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(PassphraseEnv, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "nested", "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	account := testAccount("encrypted_user")
	require.NoError(t, store.Store(account))

	retrieved, err := store.Retrieve("encrypted_user")
	require.NoError(t, err)
	assert.Equal(t, account.SessionID, retrieved.SessionID)
	assert.True(t, store.Exists("encrypted_user"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), account.SessionID)
	assert.NotContains(t, string(content), account.CSRFToken)

	// A different passphrase cannot read the file.
	t.Setenv(PassphraseEnv, "another")
	other, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = other.Retrieve("encrypted_user")
	assert.Error(t, err)

	t.Setenv(PassphraseEnv, "test_passphrase_123")
	require.NoError(t, store.Delete("encrypted_user"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "empty store removes its file")
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	dir := t.TempDir()

	store, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	require.NoError(t, store.Store(testAccount("gen")))

	info, err := os.Stat(filepath.Join(dir, ".passphrase"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	_, err = reopened.Retrieve("gen")
	assert.NoError(t, err)
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv(EnvSessionID, "env_session")
	t.Setenv(EnvCSRFToken, "env_csrf")
	t.Setenv(EnvUsername, "envuser")
	t.Setenv(EnvUserID, "99")

	store := NewEnvironmentStore()

	account, err := store.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, "envuser", account.Username)
	assert.Equal(t, "env_session", account.SessionID)
	assert.Equal(t, "99", account.UserID)

	_, err = store.Retrieve("someoneelse")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	assert.ErrorIs(t, store.Store(&Account{}), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("envuser"), ErrStoreUnavailable)

	t.Setenv(EnvSessionID, "")
	assert.False(t, store.Exists(""))
}

func TestEnvironmentStoreSessionBlob(t *testing.T) {
	blob, err := testAccount("blobuser").Blob()
	require.NoError(t, err)
	t.Setenv(EnvSession, string(blob))
	t.Setenv(EnvSessionID, "ignored")
	t.Setenv(EnvCSRFToken, "ignored")

	store := NewEnvironmentStore()
	account, err := store.Retrieve("blobuser")
	require.NoError(t, err)
	assert.Equal(t, "4242%3Asession_value_blobuser", account.SessionID)
	assert.True(t, account.LastModified.IsZero())

	_, err = store.Retrieve("other")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	t.Setenv(EnvSession, `{"username":"x"}`)
	assert.False(t, store.Exists(""))
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	require.NoError(t, err)

	require.NoError(t, store.Store(testAccount("k1")))
	require.NoError(t, store.Store(testAccount("k2")))

	accounts, err := store.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	require.NoError(t, store.Delete("k1"))
	assert.False(t, store.Exists("k1"))
	assert.ErrorIs(t, store.Delete("k1"), ErrCredentialsNotFound)

	accounts, err = store.List()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "k2", accounts[0].Username)
}

func TestNewManagerWithDir(t *testing.T) {
	t.Setenv(PassphraseEnv, "dir_passphrase")
	t.Setenv(EnvSessionID, "")
	manager, err := NewManagerWithDir(t.TempDir(), false)
	require.NoError(t, err)

	require.NoError(t, manager.Store(testAccount("realuser")))
	retrieved, err := manager.Retrieve("realuser")
	require.NoError(t, err)
	assert.Equal(t, "realuser", retrieved.Username)
}

func TestWriteCookieGuide(t *testing.T) {
	var buf bytes.Buffer
	WriteCookieGuide(&buf)
	assert.Contains(t, buf.String(), "sessionid")
	assert.Contains(t, buf.String(), "csrftoken")
}
