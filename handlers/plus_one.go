package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/metrics"
	"github.com/camden-git/rsvpbackend/realtime"
	"github.com/camden-git/rsvpbackend/services"
)

// Provisioner creates plus-ones.
type Provisioner interface {
	Provision(ctx context.Context, inviterID string, companion services.Companion, initialResponse *services.ResponsePayload) (*services.ProvisionResult, error)
}

type PlusOneHandler struct {
	PlusOnes Provisioner
	Events   EventPublisher
	Log      zerolog.Logger
}

type PlusOnePayload struct {
	services.Companion
	Response *services.ResponsePayload `json:"response"`
}

// Create provisions a plus-one for the caller.
func (h *PlusOneHandler) Create(w http.ResponseWriter, r *http.Request) {
	me := PersonFromContext(r.Context())
	if me == nil {
		WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var payload PlusOnePayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	result, err := h.PlusOnes.Provision(r.Context(), me.ID, payload.Companion, payload.Response)
	metrics.Observe("plusone.Provision", err)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}

	publish(h.Events, realtime.Event{Type: realtime.EventPlusOneCreated, PersonID: result.PlusOne.ID,
		Extra: map[string]interface{}{"inviter_id": me.ID}})
	writeJSON(w, http.StatusCreated, result)
}
