package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vidstream/apiserver/internal/services"
	"github.com/vidstream/apiserver/types"
)

type contextKey string

const contextUserKey contextKey = "user"

// APIResponse is the uniform success envelope.
type APIResponse struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// APIErrorResponse is the uniform failure envelope. Data is always null and
// Errors is always present, possibly empty.
type APIErrorResponse struct {
	APIResponse
	Errors []string `json:"errors"`
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func userFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeData(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, APIResponse{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    true,
	})
}

func writeError(w http.ResponseWriter, status int, message string, errs ...string) {
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, status, APIErrorResponse{
		APIResponse: APIResponse{
			StatusCode: status,
			Data:       nil,
			Message:    message,
			Success:    false,
		},
		Errors: errs,
	})
}

// writeServiceError is the single mapping from service error kinds to HTTP
// statuses. Token failures collapse to one uniform 401; the internal
// distinction stays in logs.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, "account does not exist")
	case errors.Is(err, services.ErrUnauthorized),
		errors.Is(err, services.ErrInvalidToken),
		errors.Is(err, services.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, services.ErrUploadFailed):
		writeError(w, http.StatusBadRequest, "file upload failed")
	default:
		writeError(w, http.StatusInternalServerError, "something went wrong")
	}
}
