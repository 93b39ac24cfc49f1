package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/szczecha/saleor/internal/service"
	apperrors "github.com/szczecha/saleor/pkg/errors"
	"github.com/szczecha/saleor/pkg/logger"
	"github.com/szczecha/saleor/pkg/validator"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type response struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(response{Data: data})
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		writeErrorBody(w, http.StatusBadRequest, &errorBody{
			Code:    "VALIDATION_ERROR",
			Message: "request validation failed",
			Fields:  validationErr.Fields(),
		})
		return
	}

	status := apperrors.HTTPStatus(err)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if status >= http.StatusInternalServerError {
			logger.FromContext(r.Context()).ErrorContext(r.Context(), "request failed",
				slog.String("error", err.Error()))
			writeErrorBody(w, status, &errorBody{Code: appErr.Code, Message: "internal server error"})
			return
		}
		writeErrorBody(w, status, &errorBody{Code: appErr.Code, Message: appErr.Message})
		return
	}

	logger.FromContext(r.Context()).ErrorContext(r.Context(), "request failed",
		slog.String("error", err.Error()))
	writeErrorBody(w, http.StatusInternalServerError, &errorBody{
		Code:    "INTERNAL_ERROR",
		Message: "internal server error",
	})
}

func writeErrorBody(w http.ResponseWriter, status int, body *errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{Error: body})
}

// decodeJSON reads and validates a request body into target. Bodies are
// limited to 1 MiB and unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return apperrors.InvalidInput("malformed request body: " + err.Error())
	}
	return validator.Validate(target)
}

// actorFromRequest reads the authenticated caller identity from the gateway
// headers. X-User-ID takes precedence when both are present upstream, but
// sending both is rejected by the service layer.
func actorFromRequest(r *http.Request) service.Actor {
	var actor service.Actor
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		actor.UserID = &userID
	}
	if appID := r.Header.Get("X-App-ID"); appID != "" {
		actor.AppID = &appID
	}
	return actor
}
