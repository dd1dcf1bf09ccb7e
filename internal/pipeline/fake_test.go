package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"igharvest/internal/extract"
	errs "igharvest/pkg/errors"
	"igharvest/pkg/models"
)

type fakeSession struct {
	stories   map[string][]models.MediaItem
	posts     map[string][]models.MediaItem
	profiles  map[string]*models.Profile
	failFetch map[string]bool

	mu      sync.Mutex
	fetched []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		stories:   map[string][]models.MediaItem{},
		posts:     map[string][]models.MediaItem{},
		profiles:  map[string]*models.Profile{},
		failFetch: map[string]bool{},
	}
}

func (f *fakeSession) GetProfile(_ context.Context, username string) (*models.Profile, error) {
	p, ok := f.profiles[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return p, nil
}

func (f *fakeSession) GetPost(_ context.Context, shortcode string) (*models.Post, error) {
	items, ok := f.posts[shortcode]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &models.Post{ID: "id-" + shortcode, Shortcode: shortcode, Media: items}, nil
}

func (f *fakeSession) GetPostMedia(_ context.Context, shortcode string) ([]models.MediaItem, error) {
	items, ok := f.posts[shortcode]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return items, nil
}

func (f *fakeSession) FetchPostItem(_ context.Context, item models.MediaItem) (*models.Media, error) {
	return f.fetch(item)
}

func (f *fakeSession) GetStories(_ context.Context, username string) ([]models.MediaItem, error) {
	items, ok := f.stories[username]
	if !ok {
		return nil, errs.ErrNotAuthenticated
	}
	return items, nil
}

func (f *fakeSession) FetchStoryItem(_ context.Context, item models.MediaItem) (*models.Media, error) {
	return f.fetch(item)
}

func (f *fakeSession) fetch(item models.MediaItem) (*models.Media, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, item.ID)
	f.mu.Unlock()
	if f.failFetch[item.ID] {
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "fetch %s failed", item.ID)
	}
	return &models.Media{Content: []byte("bytes-" + item.ID), MimeType: "image/jpeg"}, nil
}

func images(owner string, ids ...string) []models.MediaItem {
	out := make([]models.MediaItem, 0, len(ids))
	for i, id := range ids {
		out = append(out, models.MediaItem{
			ID:       id,
			IsVideo:  strings.HasPrefix(id, "vid"),
			Locator:  "https://cdn.example/" + id,
			Owner:    owner,
			Position: i + 1,
		})
	}
	return out
}

// fakeExtractor returns one product per request titled after the source id.
type fakeExtractor struct {
	mu       sync.Mutex
	requests []extract.Request
	hook     func(extract.Request)
	empty    map[string]bool
}

func (f *fakeExtractor) Extract(_ context.Context, req extract.Request) []models.Product {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	if f.empty[req.SourceID] {
		return nil
	}
	title := "product " + req.SourceID
	return []models.Product{{
		ID:         extract.ProductID(req.SourceKind, req.SourceID, title),
		Title:      title,
		SourceKind: req.SourceKind,
		SourceID:   req.SourceID,
	}}
}

func (f *fakeExtractor) sourceIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		ids = append(ids, r.SourceID)
	}
	return ids
}

type fakeProducts struct {
	mu     sync.Mutex
	stored map[string]models.Product
	failOn map[string]bool
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{stored: map[string]models.Product{}, failOn: map[string]bool{}}
}

func (f *fakeProducts) UpsertProduct(_ context.Context, p *models.Product) error {
	if f.failOn[p.SourceID] {
		return errs.New(errs.ErrorTypePersistence, 500, "insert failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[p.ID] = *p
	return nil
}

func (f *fakeProducts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

type fakeSnapshots struct {
	profiles map[string]json.RawMessage
	posts    map[string]json.RawMessage
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{profiles: map[string]json.RawMessage{}, posts: map[string]json.RawMessage{}}
}

func (f *fakeSnapshots) SaveProfileSnapshot(_ context.Context, username string, data json.RawMessage) error {
	f.profiles[username] = data
	return nil
}

func (f *fakeSnapshots) SavePostSnapshot(_ context.Context, shortcode string, data json.RawMessage) error {
	f.posts[shortcode] = data
	return nil
}

type savedMedia struct {
	target, sourceID, digest string
}

type fakeArchive struct {
	archived map[string]bool
	saved    []savedMedia
}

func (f *fakeArchive) IsArchived(target, mediaID string) bool {
	return f.archived[target+"/"+mediaID]
}

func (f *fakeArchive) Save(target, sourceID string, item models.MediaItem, _ *models.Media, digest string) (string, error) {
	f.saved = append(f.saved, savedMedia{target: target, sourceID: sourceID, digest: digest})
	return fmt.Sprintf("/archive/%s/%s", target, item.ID), nil
}

type recorder struct {
	runs chan Summary
}

func (r *recorder) RecordRun(s Summary) {
	select {
	case r.runs <- s:
	default:
	}
}
