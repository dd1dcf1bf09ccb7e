package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	errs "igharvest/pkg/errors"
)

const maxBodyBytes = 64 << 10

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type twoFactorRequest struct {
	Code string `json:"code" validate:"required"`
}

type loginResponse struct {
	Status   string `json:"status"`
	Username string `json:"username,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type statusResponse struct {
	LoggedIn bool   `json:"logged_in"`
	Username string `json:"username,omitempty"`
	State    string `json:"state"`
}

// decode reads a JSON body into v and validates it. It writes the 400
// itself and reports false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "missing required field: "+verrs[0].Field())
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// Login handles POST /login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.session.Login(r.Context(), req.Username, req.Password)
	h.recorder.RecordLogin("password", err)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, loginResponse{Status: "logged_in", Username: req.Username})
	case errors.Is(err, errs.ErrChallengeRequired):
		writeJSON(w, http.StatusOK, loginResponse{
			Status: "2fa_required",
			Detail: "Two-factor authentication required. Call /login/2fa with the code.",
		})
	default:
		writeError(w, http.StatusForbidden, detailOf(err))
	}
}

// LoginTwoFactor handles POST /login/2fa.
func (h *Handler) LoginTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.session.SubmitCode(r.Context(), req.Code)
	h.recorder.RecordLogin("code", err)
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Status: "logged_in", Username: h.session.Status().Username})
}

// Logout handles POST /logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Logout(r.Context()); err != nil {
		if errors.Is(err, errs.ErrNotAuthenticated) {
			writeError(w, http.StatusBadRequest, "not logged in")
			return
		}
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Status: "logged_out"})
}

// LoginStatus handles GET /login/status.
func (h *Handler) LoginStatus(w http.ResponseWriter, r *http.Request) {
	st := h.session.Status()
	resp := statusResponse{LoggedIn: st.LoggedIn(), State: st.State.String()}
	if st.LoggedIn() {
		resp.Username = st.Username
	}
	writeJSON(w, http.StatusOK, resp)
}
