package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("error encoding JSON response")
		}
	}
}

// decodeJSON reads a bounded JSON body into dst and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			WriteAPIError(w, http.StatusRequestEntityTooLarge, "too_large", "Request body is too large")
		case errors.Is(err, io.EOF):
			WriteAPIError(w, http.StatusBadRequest, "bad_request", "Request body is required")
		default:
			WriteAPIError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("Invalid request payload: %v", err))
		}
		return false
	}
	return true
}
