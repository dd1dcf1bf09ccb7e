package session

import (
	"context"
	"fmt"

	errs "igharvest/pkg/errors"
	"igharvest/pkg/models"
)

// withTransient runs fn against a fresh anonymous loader that is closed
// afterwards.
func withTransient[T any](s *Service, ctx context.Context, op string, fn func(ctx context.Context, l Loader) (T, error)) (T, error) {
	return dispatch(s, ctx, op, func(ctx context.Context) (T, error) {
		var zero T
		l, err := s.factory()
		if err != nil {
			return zero, fmt.Errorf("failed to create loader: %w", err)
		}
		defer s.release(l)
		return fn(ctx, l)
	})
}

// withSession runs fn against the authenticated loader.
func withSession[T any](s *Service, ctx context.Context, op string, fn func(ctx context.Context, l Loader) (T, error)) (T, error) {
	cur := s.current.Load()
	if cur.state != Authenticated {
		var zero T
		return zero, errs.ErrNotAuthenticated
	}
	return dispatch(s, ctx, op, func(ctx context.Context) (T, error) {
		return fn(ctx, cur.loader)
	})
}

// GetProfile returns the public profile of username.
func (s *Service) GetProfile(ctx context.Context, username string) (*models.Profile, error) {
	return withTransient(s, ctx, "profile", func(ctx context.Context, l Loader) (*models.Profile, error) {
		return l.Profile(ctx, username)
	})
}

// GetPost returns post metadata by short code.
func (s *Service) GetPost(ctx context.Context, shortcode string) (*models.Post, error) {
	return withTransient(s, ctx, "post", func(ctx context.Context, l Loader) (*models.Post, error) {
		return l.Post(ctx, shortcode)
	})
}

// GetPostMedia lists the media of a post in display order.
func (s *Service) GetPostMedia(ctx context.Context, shortcode string) ([]models.MediaItem, error) {
	return withTransient(s, ctx, "post_media", func(ctx context.Context, l Loader) ([]models.MediaItem, error) {
		post, err := l.Post(ctx, shortcode)
		if err != nil {
			return nil, err
		}
		return post.Media, nil
	})
}

// GetPostMediaBytes fetches the index-th (1-based) media of a post.
func (s *Service) GetPostMediaBytes(ctx context.Context, shortcode string, index int) (*models.Media, error) {
	return withTransient(s, ctx, "post_media_bytes", func(ctx context.Context, l Loader) (*models.Media, error) {
		post, err := l.Post(ctx, shortcode)
		if err != nil {
			return nil, err
		}
		item, err := pick(post.Media, index)
		if err != nil {
			return nil, err
		}
		return l.FetchMedia(ctx, item)
	})
}

// FetchPostItem fetches the bytes of a media item listed by GetPostMedia.
func (s *Service) FetchPostItem(ctx context.Context, item models.MediaItem) (*models.Media, error) {
	return withTransient(s, ctx, "fetch_media", func(ctx context.Context, l Loader) (*models.Media, error) {
		return l.FetchMedia(ctx, item)
	})
}

// GetStories lists the current stories of username. Requires a session.
func (s *Service) GetStories(ctx context.Context, username string) ([]models.MediaItem, error) {
	return withSession(s, ctx, "stories", func(ctx context.Context, l Loader) ([]models.MediaItem, error) {
		return l.Stories(ctx, username)
	})
}

// GetStoryMedia fetches the index-th (1-based) current story of username.
func (s *Service) GetStoryMedia(ctx context.Context, username string, index int) (*models.Media, error) {
	return withSession(s, ctx, "story_media", func(ctx context.Context, l Loader) (*models.Media, error) {
		items, err := l.Stories(ctx, username)
		if err != nil {
			return nil, err
		}
		item, err := pick(items, index)
		if err != nil {
			return nil, err
		}
		return l.FetchMedia(ctx, item)
	})
}

// FetchStoryItem fetches the bytes of a story listed by GetStories.
func (s *Service) FetchStoryItem(ctx context.Context, item models.MediaItem) (*models.Media, error) {
	return withSession(s, ctx, "fetch_media", func(ctx context.Context, l Loader) (*models.Media, error) {
		return l.FetchMedia(ctx, item)
	})
}
