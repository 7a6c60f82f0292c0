package handlers

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/database"
)

// Querier runs report queries against the raw connection pool.
type Querier interface {
	Query(ctx context.Context, op string, fn func(ctx context.Context, db *sql.DB) error) error
}

type ReportHandler struct {
	Store Querier
	Log   zerolog.Logger
}

func (h *ReportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	var summary database.AttendanceSummary
	err := h.Store.Query(r.Context(), "reports.Summary", func(ctx context.Context, db *sql.DB) error {
		var err error
		summary, err = database.GetAttendanceSummary(ctx, db)
		return err
	})
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *ReportHandler) Dietary(w http.ResponseWriter, r *http.Request) {
	var entries []database.DietaryEntry
	err := h.Store.Query(r.Context(), "reports.Dietary", func(ctx context.Context, db *sql.DB) error {
		var err error
		entries, err = database.ListDietaryNotes(ctx, db)
		return err
	})
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	if entries == nil {
		entries = []database.DietaryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
