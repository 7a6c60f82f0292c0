package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/workers"
)

const maxImportBytes = 5 << 20

// ImportQueue accepts guest list uploads.
type ImportQueue interface {
	QueueJob(name string, data []byte) (workers.JobState, error)
	Job(id string) (workers.JobState, bool)
}

type ImportHandler struct {
	Queue ImportQueue
	Log   zerolog.Logger
}

// CreateImport queues a guest list. The file is either the "file" part of a
// multipart form or the raw request body.
func (h *ImportHandler) CreateImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	name := "upload.csv"
	var src io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, "bad_request", "Missing form file 'file'")
			return
		}
		defer file.Close()
		name = header.Filename
		src = file
	}

	data, err := io.ReadAll(src)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteAPIError(w, http.StatusRequestEntityTooLarge, "too_large", "Guest list is too large")
			return
		}
		WriteAPIError(w, http.StatusBadRequest, "bad_request", "Failed to read guest list")
		return
	}
	if len(data) == 0 {
		WriteAPIError(w, http.StatusBadRequest, "bad_request", "Guest list is empty")
		return
	}

	state, err := h.Queue.QueueJob(name, data)
	if err != nil {
		if errors.Is(err, workers.ErrQueueFull) {
			w.Header().Set("Retry-After", "5")
			WriteAPIError(w, http.StatusServiceUnavailable, "unavailable", "Import queue is full, retry later")
			return
		}
		if errors.Is(err, workers.ErrStopped) {
			WriteAPIError(w, http.StatusServiceUnavailable, "unavailable", "Server is shutting down")
			return
		}
		h.Log.Error().Err(err).Msg("failed to queue import")
		WriteAPIError(w, http.StatusInternalServerError, "internal", "Failed to queue import")
		return
	}
	writeJSON(w, http.StatusAccepted, state)
}

func (h *ImportHandler) GetImport(w http.ResponseWriter, r *http.Request) {
	state, ok := h.Queue.Job(chi.URLParam(r, "job_id"))
	if !ok {
		WriteAPIError(w, http.StatusNotFound, "not_found", "Import job not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}
