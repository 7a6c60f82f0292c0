package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/camden-git/rsvpbackend/auth"
	"github.com/camden-git/rsvpbackend/database"
	"github.com/camden-git/rsvpbackend/models"
	"github.com/camden-git/rsvpbackend/repository"
	"github.com/camden-git/rsvpbackend/services"
)

type testServer struct {
	handler  http.Handler
	identity *services.IdentityStore
	store    *repository.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithTimeout(t, 10*time.Second)
}

func newTestServerWithTimeout(t *testing.T, timeout time.Duration) *testServer {
	t.Helper()

	db, err := database.InitGormDB(filepath.Join(t.TempDir(), "api.db"), database.Options{MaxWait: timeout})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	if _, err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := zerolog.Nop()
	store := repository.NewStore(db, timeout)
	identity := services.NewIdentityStore(store, auth.NewBcryptHasher(bcrypt.MinCost), log)
	rel := services.NewRelationshipManager(store, log)
	plusOnes := services.NewPlusOneProvisioner(store, log)
	ledger := services.NewResponseLedger(store, plusOnes, log)

	handler := NewRouter(Deps{
		Identity:       identity,
		Relationships:  rel,
		Ledger:         ledger,
		PlusOnes:       plusOnes,
		Reports:        store,
		Tokens:         auth.NewTokenIssuer([]byte("test-secret"), time.Hour),
		AllowedOrigins: []string{"*"},
		Log:            log,
	})
	return &testServer{handler: handler, identity: identity, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status=%d want %d body=%s", rec.Code, want, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func firstError(t *testing.T, rec *httptest.ResponseRecorder) APIErrorDetail {
	t.Helper()
	resp := decode[APIErrorResponse](t, rec)
	if len(resp.Errors) == 0 {
		t.Fatalf("no errors in %s", rec.Body.String())
	}
	return resp.Errors[0]
}

func (ts *testServer) admin(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/setup/admin", "", FirstAdminPayload{
		FirstName: "Root", LastName: "Admin", Email: "root@example.com", Password: "correct horse",
	})
	expectStatus(t, rec, http.StatusCreated)
	return decode[LoginResponse](t, rec).Token
}

// guest seeds a person and registers them, returning the person and a token.
func (ts *testServer) guest(t *testing.T, first, last, email string) (*models.Person, string) {
	t.Helper()
	p, err := ts.identity.Create(context.Background(), services.NewPerson{FirstName: first, LastName: last})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", RegisterPayload{
		FirstName: first, LastName: last, Email: email, Password: "correct horse",
	})
	expectStatus(t, rec, http.StatusCreated)
	return p, decode[LoginResponse](t, rec).Token
}

func TestSetupAdminOnlyOnce(t *testing.T) {
	ts := newTestServer(t)
	ts.admin(t)

	rec := ts.do(t, http.MethodPost, "/api/setup/admin", "", FirstAdminPayload{
		FirstName: "Other", LastName: "Admin", Email: "other@example.com", Password: "correct horse",
	})
	expectStatus(t, rec, http.StatusForbidden)
}

func TestRegisterLoginAndMe(t *testing.T) {
	ts := newTestServer(t)
	p, token := ts.guest(t, "Ada", "Lovelace", "ada@example.com")

	rec := ts.do(t, http.MethodGet, "/api/auth/me", token, nil)
	expectStatus(t, rec, http.StatusOK)
	if me := decode[models.Person](t, rec); me.ID != p.ID {
		t.Fatalf("me=%s want %s", me.ID, p.ID)
	}

	rec = ts.do(t, http.MethodPost, "/api/auth/login", "", LoginPayload{Email: "ADA@example.com", Password: "correct horse"})
	expectStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodPost, "/api/auth/login", "", LoginPayload{Email: "ada@example.com", Password: "wrong horse"})
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = ts.do(t, http.MethodPost, "/api/auth/register", "", RegisterPayload{
		FirstName: "ada", LastName: "LOVELACE", Email: "ada2@example.com", Password: "correct horse",
	})
	expectStatus(t, rec, http.StatusConflict)
	if e := firstError(t, rec); e.ID != "" {
		t.Fatalf("registration conflict exposed id %q", e.ID)
	}

	rec = ts.do(t, http.MethodPost, "/api/auth/register", "", RegisterPayload{
		FirstName: "Not", LastName: "Invited", Email: "x@example.com", Password: "correct horse",
	})
	expectStatus(t, rec, http.StatusNotFound)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	expectStatus(t, ts.do(t, http.MethodGet, "/api/rsvp", "", nil), http.StatusUnauthorized)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/rsvp", "garbage", nil), http.StatusUnauthorized)

	_, token := ts.guest(t, "Ada", "Lovelace", "ada@example.com")
	expectStatus(t, ts.do(t, http.MethodGet, "/api/admin/people", token, nil), http.StatusForbidden)
}

func TestRemovedPersonTokenIsRejected(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.admin(t)
	p, token := ts.guest(t, "Ada", "Lovelace", "ada@example.com")

	expectStatus(t, ts.do(t, http.MethodDelete, "/api/admin/people/"+p.ID, adminToken, nil), http.StatusNoContent)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/auth/me", token, nil), http.StatusUnauthorized)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/admin/people/"+p.ID, adminToken, nil), http.StatusNotFound)
}

func TestSubmitAndReadRSVP(t *testing.T) {
	ts := newTestServer(t)
	p, token := ts.guest(t, "Ada", "Lovelace", "ada@example.com")

	rec := ts.do(t, http.MethodPut, "/api/rsvp", token, map[string]interface{}{
		"status":        "attending",
		"dietary_notes": "vegan",
	})
	expectStatus(t, rec, http.StatusOK)
	result := decode[services.SubmitResult](t, rec)
	if result.Own == nil || result.Own.OwnerID != p.ID || result.Own.Status != models.ResponseAttending {
		t.Fatalf("result=%+v", result)
	}

	rec = ts.do(t, http.MethodGet, "/api/rsvp", token, nil)
	expectStatus(t, rec, http.StatusOK)
	got := decode[services.Responses](t, rec)
	if got.Own == nil || got.Own.DietaryNotes != "vegan" || got.Partner != nil {
		t.Fatalf("got=%+v", got)
	}

	rec = ts.do(t, http.MethodPut, "/api/rsvp", token, map[string]interface{}{"status": "maybe"})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	if e := firstError(t, rec); e.Field != "status" || e.Code != "validation" {
		t.Fatalf("error=%+v", e)
	}
}

func TestPartnerSubmitsForOwner(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.admin(t)
	a, _ := ts.guest(t, "Ada", "Lovelace", "ada@example.com")
	b, bToken := ts.guest(t, "Charles", "Babbage", "charles@example.com")
	_, cToken := ts.guest(t, "Grace", "Hopper", "grace@example.com")

	rec := ts.do(t, http.MethodPut, "/api/admin/people/"+a.ID+"/partner", adminToken, map[string]string{"partner_id": b.ID})
	expectStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodPut, "/api/rsvp", bToken, map[string]interface{}{
		"owner_id": a.ID,
		"status":   "not_attending",
	})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[services.SubmitResult](t, rec); got.Own.SubmittedByID != b.ID {
		t.Fatalf("submitted_by=%s", got.Own.SubmittedByID)
	}

	rec = ts.do(t, http.MethodPut, "/api/rsvp", cToken, map[string]interface{}{
		"owner_id": a.ID,
		"status":   "attending",
	})
	expectStatus(t, rec, http.StatusForbidden)

	rec = ts.do(t, http.MethodGet, "/api/admin/people/"+a.ID+"/rsvp", adminToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[services.Responses](t, rec); got.Own == nil || got.Own.Status != models.ResponseNotAttending {
		t.Fatalf("admin view=%+v", got)
	}

	expectStatus(t, ts.do(t, http.MethodDelete, "/api/admin/people/"+a.ID+"/partner", adminToken, nil), http.StatusNoContent)
	rec = ts.do(t, http.MethodPut, "/api/rsvp", bToken, map[string]interface{}{"owner_id": a.ID, "status": "attending"})
	expectStatus(t, rec, http.StatusForbidden)
}

func TestPlusOneFlow(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.admin(t)
	p, token := ts.guest(t, "Ada", "Lovelace", "ada@example.com")
	companion := map[string]interface{}{
		"first_name": "Guest",
		"last_name":  "Person",
		"email":      "guest@example.com",
		"response":   map[string]string{"status": "attending"},
	}

	expectStatus(t, ts.do(t, http.MethodPost, "/api/plus-one", token, companion), http.StatusForbidden)

	rec := ts.do(t, http.MethodPut, "/api/admin/people/"+p.ID+"/plus-one", adminToken, map[string]bool{"allowed": true})
	expectStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodPost, "/api/plus-one", token, companion)
	expectStatus(t, rec, http.StatusCreated)
	result := decode[services.ProvisionResult](t, rec)
	if result.PlusOne == nil || result.Response == nil || result.PlusOne.PartnerID == nil || *result.PlusOne.PartnerID != p.ID {
		t.Fatalf("result=%+v", result)
	}

	// A second plus-one is refused because the inviter is now partnered.
	companion["email"] = "other@example.com"
	companion["first_name"] = "Other"
	expectStatus(t, ts.do(t, http.MethodPost, "/api/plus-one", token, companion), http.StatusForbidden)
}

func TestAdminPeopleAndReports(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.admin(t)

	for _, name := range [][2]string{{"Guest", "10"}, {"Guest", "2"}, {"Guest", "1"}} {
		rec := ts.do(t, http.MethodPost, "/api/admin/people", adminToken, services.NewPerson{FirstName: name[0], LastName: name[1]})
		expectStatus(t, rec, http.StatusCreated)
	}
	rec := ts.do(t, http.MethodPost, "/api/admin/people", adminToken, services.NewPerson{FirstName: "guest", LastName: "2"})
	expectStatus(t, rec, http.StatusConflict)
	if e := firstError(t, rec); e.Field != "name" {
		t.Fatalf("error=%+v", e)
	}

	rec = ts.do(t, http.MethodGet, "/api/admin/people", adminToken, nil)
	expectStatus(t, rec, http.StatusOK)
	people := decode[[]models.Person](t, rec)
	var guests []string
	for _, p := range people {
		if p.FirstName == "Guest" {
			guests = append(guests, p.LastName)
		}
	}
	if len(guests) != 3 || guests[0] != "1" || guests[1] != "2" || guests[2] != "10" {
		t.Fatalf("guest order=%v", guests)
	}

	rec = ts.do(t, http.MethodGet, "/api/admin/summary", adminToken, nil)
	expectStatus(t, rec, http.StatusOK)
	summary := decode[database.AttendanceSummary](t, rec)
	if summary.Total != 4 || summary.Pending != 4 || summary.Registered != 1 {
		t.Fatalf("summary=%+v", summary)
	}

	rec = ts.do(t, http.MethodGet, "/api/admin/dietary", adminToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if entries := decode[[]database.DietaryEntry](t, rec); len(entries) != 0 {
		t.Fatalf("dietary=%+v", entries)
	}
}

func TestLockedStoreAnswers503(t *testing.T) {
	ts := newTestServerWithTimeout(t, 150*time.Millisecond)
	_, token := ts.guest(t, "Ada", "Lovelace", "ada@example.com")

	sqlDB, err := ts.store.DB().DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(context.Background(), "BEGIN IMMEDIATE"); err != nil {
		t.Fatalf("begin immediate: %v", err)
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), "ROLLBACK") }()

	rec := ts.do(t, http.MethodPut, "/api/rsvp", token, map[string]interface{}{"status": "attending"})
	expectStatus(t, rec, http.StatusServiceUnavailable)
	if got := rec.Header().Get("Retry-After"); got == "" {
		t.Fatalf("missing Retry-After header")
	}
	if e := firstError(t, rec); e.Code != "unavailable" {
		t.Fatalf("error=%+v", e)
	}
}
