package instagram

import (
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

const (
	// BaseURL is the base URL for Instagram
	BaseURL = "https://www.instagram.com"

	// DefaultAppID is the web client's X-IG-App-ID
	DefaultAppID = "936619743392459"

	// DefaultUserAgent is sent when no user agent is configured
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

	LoginPageEndpoint   = "/accounts/login/"
	LoginEndpoint       = "/api/v1/web/accounts/login/ajax/"
	TwoFactorEndpoint   = "/api/v1/web/accounts/login/ajax/two_factor/"
	CurrentUserEndpoint = "/api/v1/accounts/current_user/"
	ProfileEndpoint     = "/api/v1/users/web_profile_info/"
	ReelsMediaEndpoint  = "/api/v1/feed/reels_media/"
)

const shortcodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// profilePath returns the path and query for a profile lookup
func profilePath(username string) string {
	params := url.Values{}
	params.Set("username", username)
	return ProfileEndpoint + "?" + params.Encode()
}

// mediaInfoPath returns the path for a media info lookup
func mediaInfoPath(mediaID string) string {
	return fmt.Sprintf("/api/v1/media/%s/info/", url.PathEscape(mediaID))
}

// reelsMediaPath returns the path for the story reel of a user id
func reelsMediaPath(userID string) string {
	params := url.Values{}
	params.Set("reel_ids", userID)
	return ReelsMediaEndpoint + "?" + params.Encode()
}

// ShortcodeToMediaID converts a post short code to its numeric media id.
func ShortcodeToMediaID(shortcode string) (string, error) {
	if shortcode == "" {
		return "", fmt.Errorf("empty shortcode")
	}
	// Private post links append a long suffix; only the first 11 characters encode the id
	if len(shortcode) > 11 {
		shortcode = shortcode[:11]
	}
	id := new(big.Int)
	base := big.NewInt(64)
	for _, ch := range shortcode {
		idx := strings.IndexRune(shortcodeAlphabet, ch)
		if idx < 0 {
			return "", fmt.Errorf("invalid shortcode character %q", ch)
		}
		id.Mul(id, base)
		id.Add(id, big.NewInt(int64(idx)))
	}
	return id.String(), nil
}

// GetPostURL constructs the public URL for a specific post
func GetPostURL(shortcode string) string {
	if shortcode == "" {
		return ""
	}
	return fmt.Sprintf("%s/p/%s/", BaseURL, shortcode)
}

// GetUserProfileURL constructs the public profile URL for a user
func GetUserProfileURL(username string) string {
	if username == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/", BaseURL, username)
}

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}

	// Letters, numbers, periods and underscores only
	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '_') {
			return false
		}
	}

	return true
}

// IsValidShortcode reports whether s uses only the short code alphabet.
func IsValidShortcode(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, ch := range s {
		if !strings.ContainsRune(shortcodeAlphabet, ch) {
			return false
		}
	}
	return true
}

// SanitizeUsername strips a leading @ and trailing slashes or spaces
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(username, "/ ")
}
