package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/metrics"
	"github.com/camden-git/rsvpbackend/realtime"
	"github.com/camden-git/rsvpbackend/services"
)

// Ledger is the response ledger surface used by the HTTP handlers.
type Ledger interface {
	Submit(ctx context.Context, req services.SubmitRequest) (*services.SubmitResult, error)
	Get(ctx context.Context, ownerID string) (*services.Responses, error)
}

type RSVPHandler struct {
	Ledger Ledger
	Events EventPublisher
	Log    zerolog.Logger
}

// SubmitPayload is the body of PUT /api/rsvp. OwnerID defaults to the caller; a
// partner sets it to answer for the owner.
type SubmitPayload struct {
	OwnerID string `json:"owner_id"`
	services.ResponsePayload
	PartnerResponse *services.ResponsePayload `json:"partner_response"`
	PlusOne         *services.Companion       `json:"plus_one"`
}

func (h *RSVPHandler) Get(w http.ResponseWriter, r *http.Request) {
	me := PersonFromContext(r.Context())
	if me == nil {
		WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	responses, err := h.Ledger.Get(r.Context(), me.ID)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *RSVPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	me := PersonFromContext(r.Context())
	if me == nil {
		WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var payload SubmitPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	ownerID := payload.OwnerID
	if ownerID == "" {
		ownerID = me.ID
	}

	result, err := h.Ledger.Submit(r.Context(), services.SubmitRequest{
		OwnerID:        ownerID,
		SubmittedByID:  me.ID,
		Payload:        payload.ResponsePayload,
		PartnerPayload: payload.PartnerResponse,
		PlusOne:        payload.PlusOne,
	})
	metrics.Observe("ledger.Submit", err)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}

	if result.PlusOne != nil {
		publish(h.Events, realtime.Event{Type: realtime.EventPlusOneCreated, PersonID: result.PlusOne.ID,
			Extra: map[string]interface{}{"inviter_id": ownerID}})
	}
	publish(h.Events, realtime.Event{Type: realtime.EventResponseSubmitted, PersonID: result.Own.OwnerID, Status: string(result.Own.Status)})
	if result.Partner != nil {
		publish(h.Events, realtime.Event{Type: realtime.EventResponseSubmitted, PersonID: result.Partner.OwnerID, Status: string(result.Partner.Status)})
	}
	writeJSON(w, http.StatusOK, result)
}
