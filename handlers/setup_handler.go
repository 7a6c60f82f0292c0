package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/metrics"
	"github.com/camden-git/rsvpbackend/models"
	"github.com/camden-git/rsvpbackend/realtime"
	"github.com/camden-git/rsvpbackend/services"
)

// Bootstrapper creates the first administrator.
type Bootstrapper interface {
	BootstrapAdmin(ctx context.Context, in services.NewPerson, secret string) (*models.Person, error)
}

type SetupHandler struct {
	Identity Bootstrapper
	Tokens   TokenIssuer
	Events   EventPublisher
	Log      zerolog.Logger
}

type FirstAdminPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// CreateFirstAdmin works only while no administrator exists.
func (h *SetupHandler) CreateFirstAdmin(w http.ResponseWriter, r *http.Request) {
	var payload FirstAdminPayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	admin, err := h.Identity.BootstrapAdmin(r.Context(), services.NewPerson{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Email:     payload.Email,
	}, payload.Password)
	metrics.Observe("identity.BootstrapAdmin", err)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}

	publish(h.Events, realtime.Event{Type: realtime.EventPersonCreated, PersonID: admin.ID})

	token, expiresAt, err := h.Tokens.Issue(admin.ID)
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to issue token for first admin")
		writeJSON(w, http.StatusCreated, admin)
		return
	}
	writeJSON(w, http.StatusCreated, LoginResponse{Token: token, Person: admin, ExpiresAt: expiresAt})
}
