package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/errs"
	"github.com/camden-git/rsvpbackend/metrics"
	"github.com/camden-git/rsvpbackend/models"
	"github.com/camden-git/rsvpbackend/realtime"
)

// Identity is the identity store surface used by the HTTP handlers.
type Identity interface {
	PersonLoader
	FindByName(ctx context.Context, first, last string) (*models.Person, error)
	Register(ctx context.Context, id, email, secret string) (*models.Person, error)
	Authenticate(ctx context.Context, email, secret string) (*models.Person, error)
}

// TokenIssuer signs tokens for authenticated people.
type TokenIssuer interface {
	TokenParser
	Issue(personID string) (string, time.Time, error)
}

// EventPublisher receives events for the admin feed.
type EventPublisher interface {
	Broadcast(event realtime.Event)
}

func publish(p EventPublisher, event realtime.Event) {
	if p != nil {
		p.Broadcast(event)
	}
}

type AuthHandler struct {
	Identity Identity
	Tokens   TokenIssuer
	Events   EventPublisher
	Log      zerolog.Logger
}

type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string         `json:"token"`
	Person    *models.Person `json:"person"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload LoginPayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	person, err := h.Identity.Authenticate(r.Context(), payload.Email, payload.Password)
	metrics.Observe("identity.Authenticate", err)
	if err != nil {
		if errs.IsForbidden(err) {
			WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Invalid email or password")
			return
		}
		writeServiceError(w, h.Log, err)
		return
	}

	h.writeToken(w, http.StatusOK, person)
}

func (h *AuthHandler) writeToken(w http.ResponseWriter, status int, person *models.Person) {
	token, expiresAt, err := h.Tokens.Issue(person.ID)
	if err != nil {
		h.Log.Error().Err(err).Str("person_id", person.ID).Msg("failed to issue token")
		WriteAPIError(w, http.StatusInternalServerError, "internal", "Failed to generate token")
		return
	}
	writeJSON(w, status, LoginResponse{Token: token, Person: person, ExpiresAt: expiresAt})
}

type RegisterPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Register lets an invited person claim their account by name.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload RegisterPayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	person, err := h.Identity.FindByName(r.Context(), payload.FirstName, payload.LastName)
	if err != nil {
		metrics.Observe("identity.Register", err)
		writeServiceError(w, h.Log, err)
		return
	}

	registered, err := h.Identity.Register(r.Context(), person.ID, payload.Email, payload.Password)
	metrics.Observe("identity.Register", err)
	if err != nil {
		// The caller named the person; do not hand back their id.
		writeServiceError(w, h.Log, errs.WithID(err, ""))
		return
	}

	publish(h.Events, realtime.Event{Type: realtime.EventPersonRegistered, PersonID: registered.ID})
	h.writeToken(w, http.StatusCreated, registered)
}

// CurrentPerson returns the authenticated person. This handler should be
// protected by the AuthMiddleware.
func (h *AuthHandler) CurrentPerson(w http.ResponseWriter, r *http.Request) {
	person := PersonFromContext(r.Context())
	if person == nil {
		WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, person)
}
