package instagram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	errs "igharvest/pkg/errors"
	"igharvest/pkg/models"
	"igharvest/pkg/retry"
)

const (
	mediaTypeImage    = 1
	mediaTypeVideo    = 2
	mediaTypeCarousel = 8
)

// Profile fetches the public profile of username
func (c *Client) Profile(ctx context.Context, username string) (*models.Profile, error) {
	c.logger.DebugWithFields("fetching user profile", map[string]interface{}{
		"username": username,
	})

	var response webProfileResponse
	body, err := c.getJSON(ctx, profilePath(username), &response)
	if err != nil {
		c.logger.ErrorWithFields("failed to fetch user profile", map[string]interface{}{
			"username": username,
			"error":    err.Error(),
		})
		return nil, err
	}
	u := response.Data.User
	if u == nil {
		return nil, errs.New(errs.ErrorTypeNotFound, http.StatusNotFound, "profile %s not found", username)
	}

	pic := u.ProfilePicURLHD
	if pic == "" {
		pic = u.ProfilePicURL
	}

	return &models.Profile{
		ID:            u.ID,
		Username:      u.Username,
		FullName:      u.FullName,
		Biography:     u.Biography,
		IsPrivate:     u.IsPrivate,
		IsVerified:    u.IsVerified,
		Followers:     u.EdgeFollowedBy.Count,
		Following:     u.EdgeFollow.Count,
		MediaCount:    u.EdgeOwnerToTimelineMedia.Count,
		ProfilePicURL: pic,
		ExternalURL:   u.ExternalURL,
		URL:           GetUserProfileURL(u.Username),
		Raw:           json.RawMessage(body),
	}, nil
}

// Post fetches a post and its media list by short code
func (c *Client) Post(ctx context.Context, shortcode string) (*models.Post, error) {
	mediaID, err := ShortcodeToMediaID(shortcode)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeNotFound, http.StatusNotFound, "post %s: %v", shortcode, err)
	}

	c.logger.DebugWithFields("fetching post", map[string]interface{}{
		"shortcode": shortcode,
		"media_id":  mediaID,
	})

	var response mediaInfoResponse
	if _, err := c.getJSON(ctx, mediaInfoPath(mediaID), &response); err != nil {
		c.logger.ErrorWithFields("failed to fetch post", map[string]interface{}{
			"shortcode": shortcode,
			"error":     err.Error(),
		})
		return nil, err
	}
	if len(response.Items) == 0 {
		return nil, errs.New(errs.ErrorTypeNotFound, http.StatusNotFound, "post %s not found", shortcode)
	}

	var item mediaItem
	if err := json.Unmarshal(response.Items[0], &item); err != nil {
		return nil, errs.New(errs.ErrorTypeParsing, http.StatusOK, "failed to parse post %s: %v", shortcode, err)
	}
	if item.Code == "" {
		item.Code = shortcode
	}

	post := &models.Post{
		ID:        item.PK.String(),
		Shortcode: item.Code,
		Owner:     item.User.Username,
		IsVideo:   item.MediaType == mediaTypeVideo,
		Likes:     item.LikeCount,
		Comments:  item.CommentCount,
		TakenAt:   unixTime(item.TakenAt),
		Typename:  typename(item.MediaType),
		Permalink: GetPostURL(item.Code),
		Media:     postMedia(item),
		Raw:       response.Items[0],
	}
	if item.Caption != nil {
		post.Caption = item.Caption.Text
	}
	return post, nil
}

// Stories lists the current stories of username. Requires a logged-in session.
func (c *Client) Stories(ctx context.Context, username string) ([]models.MediaItem, error) {
	if c.Username() == "" {
		return nil, errs.ErrNotAuthenticated
	}

	profile, err := c.Profile(ctx, username)
	if err != nil {
		return nil, err
	}

	c.logger.DebugWithFields("fetching stories", map[string]interface{}{
		"username": username,
		"user_id":  profile.ID,
	})

	var response reelsMediaResponse
	if _, err := c.getJSON(ctx, reelsMediaPath(profile.ID), &response); err != nil {
		c.logger.ErrorWithFields("failed to fetch stories", map[string]interface{}{
			"username": username,
			"error":    err.Error(),
		})
		return nil, err
	}

	var items []mediaItem
	if r, ok := response.Reels[profile.ID]; ok {
		items = r.Items
	} else if len(response.ReelsMedia) > 0 {
		items = response.ReelsMedia[0].Items
	}

	stories := make([]models.MediaItem, 0, len(items))
	for i, it := range items {
		stories = append(stories, models.MediaItem{
			ID:        it.PK.String(),
			Shortcode: it.Code,
			IsVideo:   it.MediaType == mediaTypeVideo,
			Locator:   bestURL(it),
			TakenAt:   unixTime(it.TakenAt),
			Owner:     username,
			Position:  i + 1,
		})
	}
	return stories, nil
}

// FetchMedia downloads the bytes behind item.Locator
func (c *Client) FetchMedia(ctx context.Context, item models.MediaItem) (*models.Media, error) {
	if item.Locator == "" {
		return nil, errs.New(errs.ErrorTypeNotFound, http.StatusNotFound, "media %s has no locator", item.ID)
	}

	c.logger.DebugWithFields("downloading media", map[string]interface{}{
		"media_id": item.ID,
	})

	return retry.DoWithResult(ctx, func(ctx context.Context) (*models.Media, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.Locator, nil)
		if err != nil {
			return nil, errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
		}

		resp, err := c.doRequest(c.mediaClient, req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := c.checkResponseStatus(resp); err != nil {
			return nil, err
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
		if err != nil {
			c.logger.ErrorWithFields("failed to read media data", map[string]interface{}{
				"media_id": item.ID,
				"error":    err.Error(),
			})
			return nil, errs.New(errs.ErrorTypeNetwork, 0, "failed to download media: %v", err)
		}

		mime := resp.Header.Get("Content-Type")
		if mime == "" {
			mime = "application/octet-stream"
		}

		c.logger.DebugWithFields("successfully downloaded media", map[string]interface{}{
			"media_id": item.ID,
			"size":     len(data),
		})
		return &models.Media{Content: data, MimeType: mime}, nil
	}, c.retry)
}

// postMedia yields one entry per carousel child, or a single entry
func postMedia(item mediaItem) []models.MediaItem {
	taken := unixTime(item.TakenAt)
	if item.MediaType == mediaTypeCarousel && len(item.CarouselMedia) > 0 {
		out := make([]models.MediaItem, 0, len(item.CarouselMedia))
		for i, child := range item.CarouselMedia {
			out = append(out, models.MediaItem{
				ID:        child.PK.String(),
				Shortcode: item.Code,
				IsVideo:   child.MediaType == mediaTypeVideo,
				Locator:   bestURL(child),
				TakenAt:   taken,
				Owner:     item.User.Username,
				Position:  i + 1,
			})
		}
		return out
	}
	return []models.MediaItem{{
		ID:        item.PK.String(),
		Shortcode: item.Code,
		IsVideo:   item.MediaType == mediaTypeVideo,
		Locator:   bestURL(item),
		TakenAt:   taken,
		Owner:     item.User.Username,
		Position:  1,
	}}
}

// bestURL picks the video URL for videos, else the widest image candidate
func bestURL(item mediaItem) string {
	if item.MediaType == mediaTypeVideo && len(item.VideoVersions) > 0 {
		return item.VideoVersions[0].URL
	}
	best := ""
	width := -1
	for _, cand := range item.ImageVersions2.Candidates {
		if cand.Width > width {
			best, width = cand.URL, cand.Width
		}
	}
	return best
}

func typename(mediaType int) string {
	switch mediaType {
	case mediaTypeVideo:
		return "GraphVideo"
	case mediaTypeCarousel:
		return "GraphSidecar"
	default:
		return "GraphImage"
	}
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
