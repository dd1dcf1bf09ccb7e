package session

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"igharvest/pkg/auth"
	errs "igharvest/pkg/errors"
	"igharvest/pkg/models"
)

// upstream is shared state behind every fakeLoader of a test.
type upstream struct {
	created  atomic.Int32
	closed   atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration

	mu      sync.Mutex
	loaders []*fakeLoader
}

func (u *upstream) factory() (Loader, error) {
	u.created.Add(1)
	l := &fakeLoader{up: u}
	u.mu.Lock()
	u.loaders = append(u.loaders, l)
	u.mu.Unlock()
	return l, nil
}

func (u *upstream) enter() func() {
	n := u.inFlight.Add(1)
	for {
		m := u.maxSeen.Load()
		if n <= m || u.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if u.delay > 0 {
		time.Sleep(u.delay)
	}
	return func() { u.inFlight.Add(-1) }
}

type fakeLoader struct {
	up *upstream

	mu       sync.Mutex
	username string
	pending  string
	closed   bool
}

func (f *fakeLoader) Login(ctx context.Context, username, password string) error {
	defer f.up.enter()()
	if password != "pw" {
		return errs.ErrAuth
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if username == "bob" {
		f.pending = username
		return errs.New(errs.ErrorTypeChallenge, http.StatusAccepted, "code required")
	}
	f.username = username
	return nil
}

func (f *fakeLoader) TwoFactorLogin(ctx context.Context, code string) error {
	defer f.up.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == "" {
		return errs.ErrNoPendingChallenge
	}
	if code != "123456" {
		return errs.ErrInvalidCode
	}
	f.username, f.pending = f.pending, ""
	return nil
}

func (f *fakeLoader) TestLogin(ctx context.Context) (string, error) {
	defer f.up.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.username == "" || f.username == "expired" {
		return "", errs.ErrNotAuthenticated
	}
	return f.username, nil
}

func (f *fakeLoader) Username() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.username
}

func (f *fakeLoader) Profile(ctx context.Context, username string) (*models.Profile, error) {
	defer f.up.enter()()
	if username == "ghost" {
		return nil, errs.ErrNotFound
	}
	return &models.Profile{Username: username, Followers: 10}, nil
}

func (f *fakeLoader) Post(ctx context.Context, shortcode string) (*models.Post, error) {
	defer f.up.enter()()
	switch shortcode {
	case "BB":
		return &models.Post{Shortcode: shortcode, Media: []models.MediaItem{
			{ID: "b1", Locator: "u1", Position: 1},
			{ID: "b2", Locator: "u2", Position: 2},
		}}, nil
	case "EMPTY":
		return &models.Post{Shortcode: shortcode}, nil
	}
	return nil, errs.ErrNotFound
}

func (f *fakeLoader) Stories(ctx context.Context, username string) ([]models.MediaItem, error) {
	defer f.up.enter()()
	if f.Username() == "" {
		return nil, errs.ErrNotAuthenticated
	}
	return []models.MediaItem{
		{ID: "s1", Locator: "s1", Owner: username, Position: 1},
		{ID: "s2", Locator: "s2", Owner: username, Position: 2},
	}, nil
}

func (f *fakeLoader) FetchMedia(ctx context.Context, item models.MediaItem) (*models.Media, error) {
	defer f.up.enter()()
	return &models.Media{Content: []byte("bytes-" + item.ID), MimeType: "image/jpeg"}, nil
}

func (f *fakeLoader) ExportSession() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &auth.Account{Username: f.username, SessionID: "sid-" + f.username, CSRFToken: "csrf"}
	return a.Blob()
}

func (f *fakeLoader) ImportSession(blob []byte) error {
	a, err := auth.ParseBlob(blob)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.username = a.Username
	f.mu.Unlock()
	return nil
}

func (f *fakeLoader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.up.closed.Add(1)
	}
	return nil
}

func (f *fakeLoader) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type recordingSaver struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func (r *recordingSaver) SaveSession(ctx context.Context, username string, blob []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		r.saved = make(map[string][]byte)
	}
	r.saved[username] = blob
	return r.err
}

func (r *recordingSaver) get(username string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved[username]
}

type staticSource struct {
	records []models.SessionRecord
	err     error
}

func (s staticSource) ListSessions(ctx context.Context) ([]models.SessionRecord, error) {
	return s.records, s.err
}

func blobFor(username string) []byte {
	b, _ := (&auth.Account{Username: username, SessionID: "sid", CSRFToken: "csrf"}).Blob()
	return b
}
