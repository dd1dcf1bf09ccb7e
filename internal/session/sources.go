package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"igharvest/pkg/auth"
	"igharvest/pkg/models"
)

// CredentialStore adapts an auth.Manager to SessionSaver and SessionSource.
type CredentialStore struct {
	Manager *auth.Manager
}

// SaveSession stores the blob as an account in the credential manager.
func (c CredentialStore) SaveSession(_ context.Context, username string, blob []byte) error {
	account, err := auth.ParseBlob(blob)
	if err != nil {
		return err
	}
	if account.Username == "" {
		account.Username = username
	}
	account.LastModified = time.Now()
	return c.Manager.Store(account)
}

// ListSessions returns the stored accounts, newest first.
func (c CredentialStore) ListSessions(_ context.Context) ([]models.SessionRecord, error) {
	accounts, err := c.Manager.List()
	if err != nil {
		return nil, err
	}
	records := make([]models.SessionRecord, 0, len(accounts))
	for _, a := range accounts {
		blob, err := a.Blob()
		if err != nil {
			continue
		}
		records = append(records, models.SessionRecord{
			Username:  a.Username,
			Data:      blob,
			UpdatedAt: a.LastModified,
		})
	}
	return records, nil
}

// ImportDir reads session blobs dropped as *.json files into a directory,
// newest file first. A missing directory yields no sessions.
type ImportDir struct {
	Dir string
}

// ListSessions implements SessionSource.
func (d ImportDir) ListSessions(_ context.Context) ([]models.SessionRecord, error) {
	if d.Dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var records []models.SessionRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		blob, err := os.ReadFile(filepath.Join(d.Dir, e.Name()))
		if err != nil {
			continue
		}
		records = append(records, models.SessionRecord{
			Username:  strings.TrimSuffix(e.Name(), ".json"),
			Data:      blob,
			UpdatedAt: info.ModTime(),
		})
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records, nil
}
