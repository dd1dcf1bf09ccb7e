package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"igharvest/pkg/instagram"
	"igharvest/pkg/models"
)

// Profile handles GET /profile/{username}.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(w, r)
	if !ok {
		return
	}
	profile, err := h.session.GetProfile(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusNotFound, detailOf(err))
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Post handles GET /post/{shortcode}.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	post, err := h.session.GetPost(r.Context(), chi.URLParam(r, "shortcode"))
	if err != nil {
		writeError(w, http.StatusNotFound, detailOf(err))
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// PostMedia handles GET /post/{shortcode}/media.
func (h *Handler) PostMedia(w http.ResponseWriter, r *http.Request) {
	items, err := h.session.GetPostMedia(r.Context(), chi.URLParam(r, "shortcode"))
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

// PostMediaBytes handles GET /post/{shortcode}/media/{index}.
func (h *Handler) PostMediaBytes(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	media, err := h.session.GetPostMediaBytes(r.Context(), chi.URLParam(r, "shortcode"), index)
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeMedia(w, media)
}

// Stories handles GET /stories/{username}.
func (h *Handler) Stories(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(w, r)
	if !ok {
		return
	}
	items, err := h.session.GetStories(r.Context(), username)
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

// StoryMediaBytes handles GET /stories/{username}/media/{index}.
func (h *Handler) StoryMediaBytes(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(w, r)
	if !ok {
		return
	}
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	media, err := h.session.GetStoryMedia(r.Context(), username, index)
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeMedia(w, media)
}

// usernameParam answers 400 for names Instagram would never accept, so they
// never reach the upstream API.
func usernameParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	username := instagram.SanitizeUsername(chi.URLParam(r, "username"))
	if !instagram.IsValidUsername(username) {
		writeError(w, http.StatusBadRequest, "invalid username")
		return "", false
	}
	return username, true
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "media index must be an integer")
		return 0, false
	}
	return index, true
}

func writeMedia(w http.ResponseWriter, media *models.Media) {
	mime := media.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(media.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(media.Content)
}

func nonNil(items []models.MediaItem) []models.MediaItem {
	if items == nil {
		return []models.MediaItem{}
	}
	return items
}
