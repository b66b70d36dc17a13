// Package handlers implements the local control API the app shell talks
// to. Handlers stay thin: decode, call the facade or engine, encode.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/fieldhq/fieldsync/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps the app error taxonomy onto HTTP statuses and emits
// the same {"error","code"} body shape the backend uses, so the shell
// parses both sides the same way.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	writeJSON(w, statusFor(code), map[string]interface{}{
		"error": err.Error(),
		"code":  string(code),
	})
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrValidation, errors.ErrInvalid, errors.ErrQueuePayload:
		return http.StatusBadRequest
	case errors.ErrTaskNotFound, errors.ErrPhotoNotFound, errors.ErrCommentNotFound, errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrSyncInProgress, errors.ErrSyncDisabled, errors.ErrNotConflicted, errors.ErrDuplicate:
		return http.StatusConflict
	case errors.ErrSyncOffline, errors.ErrRemoteUnreachable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
