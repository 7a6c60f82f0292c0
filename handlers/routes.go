package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// IdentityService is everything the router needs from the identity store.
type IdentityService interface {
	Identity
	PeopleAdmin
	Bootstrapper
}

// Deps are the collaborators wired into the router.
type Deps struct {
	Identity       IdentityService
	Relationships  Relationships
	Ledger         Ledger
	PlusOnes       Provisioner
	Reports        Querier
	Imports        ImportQueue
	Tokens         TokenIssuer
	Events         EventPublisher
	EventsHandler  http.HandlerFunc
	Metrics        http.Handler
	AllowedOrigins []string
	Log            zerolog.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Log))
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	authHandler := &AuthHandler{Identity: d.Identity, Tokens: d.Tokens, Events: d.Events, Log: d.Log}
	setupHandler := &SetupHandler{Identity: d.Identity, Tokens: d.Tokens, Events: d.Events, Log: d.Log}
	rsvpHandler := &RSVPHandler{Ledger: d.Ledger, Events: d.Events, Log: d.Log}
	plusOneHandler := &PlusOneHandler{PlusOnes: d.PlusOnes, Events: d.Events, Log: d.Log}
	adminPersonHandler := &AdminPersonHandler{
		People:        d.Identity,
		Relationships: d.Relationships,
		Ledger:        d.Ledger,
		Events:        d.Events,
		Log:           d.Log,
	}
	reportHandler := &ReportHandler{Store: d.Reports, Log: d.Log}
	importHandler := &ImportHandler{Queue: d.Imports, Log: d.Log}

	requireAuth := AuthMiddleware(d.Tokens, d.Identity, d.Log)

	r.Route("/api", func(r chi.Router) {
		r.Post("/setup/admin", setupHandler.CreateFirstAdmin)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/register", authHandler.Register)
			r.With(requireAuth).Get("/me", authHandler.CurrentPerson)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/rsvp", rsvpHandler.Get)
			r.Put("/rsvp", rsvpHandler.Submit)
			r.Post("/plus-one", plusOneHandler.Create)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)

				r.Route("/people", func(r chi.Router) {
					r.Get("/", adminPersonHandler.ListPeople)
					r.Post("/", adminPersonHandler.CreatePerson)
					r.Route("/{person_id}", func(r chi.Router) {
						r.Get("/", adminPersonHandler.GetPerson)
						r.Delete("/", adminPersonHandler.DeletePerson)
						r.Put("/plus-one", adminPersonHandler.SetPlusOne)
						r.Put("/partner", adminPersonHandler.LinkPartner)
						r.Delete("/partner", adminPersonHandler.UnlinkPartner)
						r.Get("/rsvp", adminPersonHandler.GetRSVP)
					})
				})

				r.Get("/summary", reportHandler.Summary)
				r.Get("/dietary", reportHandler.Dietary)

				if d.Imports != nil {
					r.Post("/imports", importHandler.CreateImport)
					r.Get("/imports/{job_id}", importHandler.GetImport)
				}
				if d.EventsHandler != nil {
					r.Get("/events", d.EventsHandler)
				}
			})
		})
	})

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	return r
}
