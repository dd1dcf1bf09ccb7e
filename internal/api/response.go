package api

import (
	"encoding/json"
	"errors"
	"net/http"

	errs "igharvest/pkg/errors"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// writeErr answers with the status of err's type, or fallback for errors
// the HTTP surface does not distinguish.
func writeErr(w http.ResponseWriter, err error, fallback int) {
	writeError(w, errs.HTTPStatus(err, fallback), detailOf(err))
}

func detailOf(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
