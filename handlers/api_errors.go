package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/errs"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
	Field  string `json:"field,omitempty"`
	ID     string `json:"id,omitempty"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	writeAPIErrorDetail(w, httpStatus, APIErrorDetail{Code: code, Detail: detail})
}

func writeAPIErrorDetail(w http.ResponseWriter, httpStatus int, detail APIErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	detail.Status = strconv.Itoa(httpStatus)
	resp := APIErrorResponse{Errors: []APIErrorDetail{detail}}

	_ = json.NewEncoder(w).Encode(resp)
}

// statusForKind maps an error kind to its HTTP status.
func statusForKind(k errs.Kind) int {
	switch k {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindValidation:
		return http.StatusUnprocessableEntity
	case errs.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err from a service call. Errors without a kind are
// logged and reported as a generic internal error.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var typed *errs.Error
	if !errors.As(err, &typed) || typed.Kind == errs.KindUnknown {
		log.Error().Err(err).Msg("request failed")
		WriteAPIError(w, http.StatusInternalServerError, "internal", "An internal error occurred")
		return
	}

	status := statusForKind(typed.Kind)
	detail := typed.Msg
	if detail == "" {
		detail = defaultDetail(typed.Kind)
	}
	if typed.Kind == errs.KindUnavailable {
		w.Header().Set("Retry-After", "1")
		log.Warn().Err(err).Msg("store unavailable")
	}
	writeAPIErrorDetail(w, status, APIErrorDetail{
		Code:   typed.Kind.String(),
		Detail: detail,
		Field:  typed.Field,
		ID:     typed.ID,
	})
}

func defaultDetail(k errs.Kind) string {
	switch k {
	case errs.KindNotFound:
		return "Not found"
	case errs.KindConflict:
		return "Conflicts with the current state"
	case errs.KindForbidden:
		return "Not allowed"
	case errs.KindValidation:
		return "Invalid input"
	case errs.KindUnavailable:
		return "Temporarily unavailable, retry later"
	default:
		return "An internal error occurred"
	}
}
