package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/database"
	"github.com/camden-git/rsvpbackend/errs"
	"github.com/camden-git/rsvpbackend/models"
	"github.com/camden-git/rsvpbackend/repository"
)

type plainHasher struct{}

func (plainHasher) Hash(secret string) (string, error) {
	return "plain:" + secret, nil
}

func (plainHasher) Compare(hash, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(hash), []byte("plain:"+secret)) == 1
}

type testEnv struct {
	store         *repository.Store
	identity      *IdentityStore
	relationships *RelationshipManager
	plusOnes      *PlusOneProvisioner
	ledger        *ResponseLedger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithTimeout(t, 10*time.Second)
}

// newTestEnvWithTimeout builds an env whose store calls, including waits on the
// SQLite write lock, give up after timeout.
func newTestEnvWithTimeout(t *testing.T, timeout time.Duration) *testEnv {
	t.Helper()

	db, err := database.InitGormDB(filepath.Join(t.TempDir(), "rsvp.db"), database.Options{MaxWait: timeout})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	if _, err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := repository.NewStore(db, timeout)
	log := zerolog.Nop()
	plusOnes := NewPlusOneProvisioner(store, log)
	return &testEnv{
		store:         store,
		identity:      NewIdentityStore(store, plainHasher{}, log),
		relationships: NewRelationshipManager(store, log),
		plusOnes:      plusOnes,
		ledger:        NewResponseLedger(store, plusOnes, log),
	}
}

func (e *testEnv) person(t *testing.T, first, last string, plusOneAllowed bool) *models.Person {
	t.Helper()
	p, err := e.identity.Create(context.Background(), NewPerson{FirstName: first, LastName: last, PlusOneAllowed: plusOneAllowed})
	if err != nil {
		t.Fatalf("create %s %s: %v", first, last, err)
	}
	return p
}

func (e *testEnv) couple(t *testing.T) (*models.Person, *models.Person) {
	t.Helper()
	a := e.person(t, "Ada", "Lovelace", false)
	b := e.person(t, "Charles", "Babbage", false)
	if err := e.relationships.Link(context.Background(), a.ID, b.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	return a, b
}

// raw loads a person including removed rows.
func (e *testEnv) raw(t *testing.T, id string) *models.Person {
	t.Helper()
	var p models.Person
	if err := e.store.DB().Unscoped().Where("id = ?", id).First(&p).Error; err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return &p
}

func (e *testEnv) countPeople(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := e.store.DB().Unscoped().Model(&models.Person{}).Count(&n).Error; err != nil {
		t.Fatalf("count people: %v", err)
	}
	return n
}

func (e *testEnv) countResponses(t *testing.T, ownerID string) int64 {
	t.Helper()
	var n int64
	if err := e.store.DB().Model(&models.Response{}).Where("owner_id = ?", ownerID).Count(&n).Error; err != nil {
		t.Fatalf("count responses: %v", err)
	}
	return n
}

// holdWriteLock takes the database write lock on a separate connection until the
// test ends or release is called.
func (e *testEnv) holdWriteLock(t *testing.T) (release func()) {
	t.Helper()
	sqlDB, err := e.store.DB().DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	if _, err := conn.ExecContext(context.Background(), "BEGIN IMMEDIATE"); err != nil {
		conn.Close()
		t.Fatalf("begin immediate: %v", err)
	}
	var once sync.Once
	release = func() {
		once.Do(func() {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
			_ = conn.Close()
		})
	}
	t.Cleanup(release)
	return release
}

func requireKind(t *testing.T, err error, want errs.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	if got := errs.KindOf(err); got != want {
		t.Fatalf("expected %v error, got %v: %v", want, got, err)
	}
}

func requireField(t *testing.T, err error, field string) {
	t.Helper()
	var e *errs.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *errs.Error, got %T: %v", err, err)
	}
	if e.Field != field {
		t.Fatalf("field=%q want=%q (%v)", e.Field, field, err)
	}
}

func requireID(t *testing.T, err error, id string) {
	t.Helper()
	var e *errs.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *errs.Error, got %T: %v", err, err)
	}
	if e.ID != id {
		t.Fatalf("id=%q want=%q (%v)", e.ID, id, err)
	}
}

func partnerOf(p *models.Person) string {
	if p.PartnerID == nil {
		return ""
	}
	return *p.PartnerID
}

// fixedClock returns successive instants one minute apart.
func fixedClock(start time.Time) clock {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Minute)
		return now
	}
}
