package instagram

import "encoding/json"

// Wire shapes of the web API responses. Only the fields the client maps are declared.

type countEdge struct {
	Count int `json:"count"`
}

type webProfileResponse struct {
	Data struct {
		User *webUser `json:"user"`
	} `json:"data"`
	Status string `json:"status"`
}

type webUser struct {
	ID                       string    `json:"id"`
	Username                 string    `json:"username"`
	FullName                 string    `json:"full_name"`
	Biography                string    `json:"biography"`
	IsPrivate                bool      `json:"is_private"`
	IsVerified               bool      `json:"is_verified"`
	ProfilePicURL            string    `json:"profile_pic_url"`
	ProfilePicURLHD          string    `json:"profile_pic_url_hd"`
	ExternalURL              string    `json:"external_url"`
	EdgeFollowedBy           countEdge `json:"edge_followed_by"`
	EdgeFollow               countEdge `json:"edge_follow"`
	EdgeOwnerToTimelineMedia countEdge `json:"edge_owner_to_timeline_media"`
}

type imageCandidate struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type videoVersion struct {
	URL string `json:"url"`
}

// mediaItem is an element of /media/{id}/info/ and reels_media responses
type mediaItem struct {
	PK             json.Number `json:"pk"`
	ID             string      `json:"id"`
	Code           string      `json:"code"`
	TakenAt        int64       `json:"taken_at"`
	MediaType      int         `json:"media_type"`
	ProductType    string      `json:"product_type"`
	LikeCount      int         `json:"like_count"`
	CommentCount   int         `json:"comment_count"`
	ImageVersions2 struct {
		Candidates []imageCandidate `json:"candidates"`
	} `json:"image_versions2"`
	VideoVersions []videoVersion `json:"video_versions"`
	CarouselMedia []mediaItem    `json:"carousel_media"`
	Caption       *struct {
		Text string `json:"text"`
	} `json:"caption"`
	User struct {
		PK       json.Number `json:"pk"`
		Username string      `json:"username"`
	} `json:"user"`
}

type mediaInfoResponse struct {
	Items  []json.RawMessage `json:"items"`
	Status string            `json:"status"`
}

type reelsMediaResponse struct {
	Reels      map[string]reel `json:"reels"`
	ReelsMedia []reel          `json:"reels_media"`
	Status     string          `json:"status"`
}

type reel struct {
	ID    json.RawMessage `json:"id"`
	Items []mediaItem     `json:"items"`
}

type loginResponse struct {
	Authenticated     bool        `json:"authenticated"`
	User              bool        `json:"user"`
	UserID            json.Number `json:"userId"`
	Status            string      `json:"status"`
	Message           string      `json:"message"`
	ErrorType         string      `json:"error_type"`
	CheckpointURL     string      `json:"checkpoint_url"`
	TwoFactorRequired bool        `json:"two_factor_required"`
	TwoFactorInfo     struct {
		Identifier string `json:"two_factor_identifier"`
		Username   string `json:"username"`
	} `json:"two_factor_info"`
}

type currentUserResponse struct {
	User struct {
		PK       json.Number `json:"pk"`
		Username string      `json:"username"`
	} `json:"user"`
	Status string `json:"status"`
}
