package session

import (
	"context"

	"igharvest/pkg/models"
)

// Loader is one authenticated (or anonymous) connection to the media
// source. *instagram.Client satisfies it.
type Loader interface {
	Login(ctx context.Context, username, password string) error
	TwoFactorLogin(ctx context.Context, code string) error
	TestLogin(ctx context.Context) (string, error)
	Username() string

	Profile(ctx context.Context, username string) (*models.Profile, error)
	Post(ctx context.Context, shortcode string) (*models.Post, error)
	Stories(ctx context.Context, username string) ([]models.MediaItem, error)
	FetchMedia(ctx context.Context, item models.MediaItem) (*models.Media, error)

	ExportSession() ([]byte, error)
	ImportSession(blob []byte) error
	Close() error
}

// LoaderFactory creates a fresh, anonymous Loader.
type LoaderFactory func() (Loader, error)

// SessionSaver persists the credential blob of a freshly authenticated
// session.
type SessionSaver interface {
	SaveSession(ctx context.Context, username string, blob []byte) error
}

// SessionSource yields previously persisted sessions, newest first.
type SessionSource interface {
	ListSessions(ctx context.Context) ([]models.SessionRecord, error)
}
