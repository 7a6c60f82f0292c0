package handlers

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/facette/natsort"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/metrics"
	"github.com/camden-git/rsvpbackend/models"
	"github.com/camden-git/rsvpbackend/realtime"
	"github.com/camden-git/rsvpbackend/services"
)

// PeopleAdmin is the identity surface used by administrators.
type PeopleAdmin interface {
	PersonLoader
	ListActive(ctx context.Context) ([]models.Person, error)
	Create(ctx context.Context, in services.NewPerson) (*models.Person, error)
	SoftDelete(ctx context.Context, id string) error
	SetPlusOneAllowed(ctx context.Context, id string, allowed bool) (*models.Person, error)
}

// Relationships links and unlinks partners.
type Relationships interface {
	Link(ctx context.Context, a, b string) error
	Unlink(ctx context.Context, a string) error
}

type AdminPersonHandler struct {
	People        PeopleAdmin
	Relationships Relationships
	Ledger        Ledger
	Events        EventPublisher
	Log           zerolog.Logger
}

// ListPeople returns every active person in natural name order.
func (h *AdminPersonHandler) ListPeople(w http.ResponseWriter, r *http.Request) {
	people, err := h.People.ListActive(r.Context())
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	if people == nil {
		people = []models.Person{}
	}
	sort.SliceStable(people, func(i, j int) bool {
		a := strings.ToLower(people[i].LastName + " " + people[i].FirstName)
		b := strings.ToLower(people[j].LastName + " " + people[j].FirstName)
		return natsort.Compare(a, b)
	})
	writeJSON(w, http.StatusOK, people)
}

func (h *AdminPersonHandler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	var payload services.NewPerson
	if !decodeJSON(w, r, &payload) {
		return
	}

	person, err := h.People.Create(r.Context(), payload)
	metrics.Observe("identity.Create", err)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}

	publish(h.Events, realtime.Event{Type: realtime.EventPersonCreated, PersonID: person.ID})
	writeJSON(w, http.StatusCreated, person)
}

func (h *AdminPersonHandler) GetPerson(w http.ResponseWriter, r *http.Request) {
	person, err := h.People.FindByID(r.Context(), chi.URLParam(r, "person_id"))
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, person)
}

func (h *AdminPersonHandler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "person_id")

	err := h.People.SoftDelete(r.Context(), personID)
	metrics.Observe("identity.SoftDelete", err)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}

	publish(h.Events, realtime.Event{Type: realtime.EventPersonRemoved, PersonID: personID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminPersonHandler) SetPlusOne(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Allowed *bool `json:"allowed"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if payload.Allowed == nil {
		writeAPIErrorDetail(w, http.StatusUnprocessableEntity, APIErrorDetail{Code: "validation", Field: "allowed", Detail: "is required"})
		return
	}

	person, err := h.People.SetPlusOneAllowed(r.Context(), chi.URLParam(r, "person_id"), *payload.Allowed)
	metrics.Observe("identity.SetPlusOneAllowed", err)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, person)
}

func (h *AdminPersonHandler) LinkPartner(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "person_id")
	var payload struct {
		PartnerID string `json:"partner_id"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}

	err := h.Relationships.Link(r.Context(), personID, payload.PartnerID)
	metrics.Observe("relationships.Link", err)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}

	publish(h.Events, realtime.Event{Type: realtime.EventPartnerLinked, PersonID: personID,
		Extra: map[string]interface{}{"partner_id": payload.PartnerID}})
	h.GetPerson(w, r)
}

func (h *AdminPersonHandler) UnlinkPartner(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "person_id")

	err := h.Relationships.Unlink(r.Context(), personID)
	metrics.Observe("relationships.Unlink", err)
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}

	publish(h.Events, realtime.Event{Type: realtime.EventPartnerUnlinked, PersonID: personID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminPersonHandler) GetRSVP(w http.ResponseWriter, r *http.Request) {
	responses, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "person_id"))
	if err != nil {
		writeServiceError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, responses)
}
