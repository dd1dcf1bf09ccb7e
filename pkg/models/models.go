package models

import (
	"encoding/json"
	"time"
)

// Source kinds for extracted products.
const (
	SourceStory = "story"
	SourcePost  = "post"
)

// Profile is the public metadata of an account.
type Profile struct {
	ID            string          `json:"id"`
	Username      string          `json:"username"`
	FullName      string          `json:"full_name"`
	Biography     string          `json:"biography"`
	IsPrivate     bool            `json:"is_private"`
	IsVerified    bool            `json:"is_verified"`
	Followers     int             `json:"followers"`
	Following     int             `json:"following"`
	MediaCount    int             `json:"mediacount"`
	ProfilePicURL string          `json:"profile_pic_url"`
	ExternalURL   string          `json:"external_url,omitempty"`
	URL           string          `json:"url"`
	Raw           json.RawMessage `json:"-"`
}

// Post is the metadata of a single post.
type Post struct {
	ID        string          `json:"id"`
	Shortcode string          `json:"shortcode"`
	Owner     string          `json:"owner_username"`
	Caption   string          `json:"caption"`
	IsVideo   bool            `json:"is_video"`
	Likes     int             `json:"likes"`
	Comments  int             `json:"comments"`
	TakenAt   time.Time       `json:"date"`
	Typename  string          `json:"typename"`
	Permalink string          `json:"permalink"`
	Media     []MediaItem     `json:"media,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// MediaItem locates one photo or video. Bytes are fetched separately.
type MediaItem struct {
	ID        string    `json:"mediaid"`
	Shortcode string    `json:"shortcode,omitempty"`
	IsVideo   bool      `json:"is_video"`
	Locator   string    `json:"url"`
	TakenAt   time.Time `json:"date"`
	Owner     string    `json:"owner,omitempty"`
	Position  int       `json:"index"`
}

// Media is fetched content.
type Media struct {
	Content  []byte
	MimeType string
}

// MarketPrice is one (market, price) observation.
type MarketPrice struct {
	Market string  `json:"market"`
	Price  float64 `json:"price"`
}

// Product is a product recognized in an image.
type Product struct {
	ID           string          `json:"id"`
	ProviderID   string          `json:"provider_id,omitempty"`
	Title        string          `json:"title"`
	MarketPrices []MarketPrice   `json:"market_prices"`
	ImageURL     string          `json:"image_url,omitempty"`
	Description  string          `json:"description,omitempty"`
	SourceKind   string          `json:"source_kind"`
	SourceID     string          `json:"source_id"`
	MediaDigest  string          `json:"media_digest,omitempty"`
	Raw          json.RawMessage `json:"raw_data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// SessionRecord is a persisted credential blob.
type SessionRecord struct {
	Username  string    `json:"username"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is an append-only copy of fetched profile or post metadata.
type Snapshot struct {
	ID        int64           `json:"id"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
}
