package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/errs"
	"github.com/camden-git/rsvpbackend/models"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// PersonContextKey is the key used to store the authenticated person in the request context.
	PersonContextKey ContextKey = "person"
)

// TokenParser verifies a bearer token and returns the person id it carries.
type TokenParser interface {
	Parse(token string) (string, error)
}

// PersonLoader resolves an active person.
type PersonLoader interface {
	FindByID(ctx context.Context, id string) (*models.Person, error)
}

// AuthMiddleware verifies the bearer token and loads the person it names on every
// request, so a removed person is locked out even with an unexpired token.
func AuthMiddleware(tokens TokenParser, people PersonLoader, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			// Browsers cannot set headers on websocket handshakes.
			if authHeader == "" && websocket.IsWebSocketUpgrade(r) {
				if token := r.URL.Query().Get("access_token"); token != "" {
					authHeader = "Bearer " + token
				}
			}
			if authHeader == "" {
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Authorization header format must be Bearer {token}")
				return
			}

			personID, err := tokens.Parse(strings.TrimSpace(parts[1]))
			if err != nil {
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			person, err := people.FindByID(r.Context(), personID)
			if err != nil {
				if errs.IsNotFound(err) {
					WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Account is no longer active")
					return
				}
				writeServiceError(w, log, err)
				return
			}
			if !person.AccountStatus.CanAuthenticate() {
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Account is not registered")
				return
			}

			ctx := context.WithValue(r.Context(), PersonContextKey, person)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PersonFromContext returns the authenticated person, or nil.
func PersonFromContext(ctx context.Context) *models.Person {
	p, _ := ctx.Value(PersonContextKey).(*models.Person)
	return p
}

// RequireAdmin rejects callers that are not administrators. It must run after
// AuthMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		person := PersonFromContext(r.Context())
		if person == nil {
			WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}
		if !person.IsAdmin {
			WriteAPIError(w, http.StatusForbidden, "forbidden", "Administrator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request through zerolog.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				ev := log.Info()
				if ww.Status() >= http.StatusInternalServerError {
					ev = log.Error()
				}
				ev.Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
