package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/camden-git/rsvpbackend/database"
	"github.com/camden-git/rsvpbackend/errs"
	"github.com/camden-git/rsvpbackend/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.InitGormDB(filepath.Join(t.TempDir(), "store.db"), database.Options{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	if _, err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db, 5*time.Second)
}

func requireConflictField(t *testing.T, err error, field string) {
	t.Helper()
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if e.Field != field {
		t.Fatalf("field=%q want %q (%v)", e.Field, field, err)
	}
}

func TestUniqueViolationsBecomeConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	email := "ada@example.com"

	create := func(p *models.Person) error {
		return store.Transaction(ctx, "test.create", func(r Repositories) error {
			return r.People.Create(p)
		})
	}
	first := &models.Person{FirstName: "Ada", LastName: "Lovelace", Email: &email}
	if err := create(first); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The repository skips the service-level checks, so the indexes decide.
	err := create(&models.Person{FirstName: " ada ", LastName: "LOVELACE"})
	requireConflictField(t, err, "name")

	upper := "ADA@example.com"
	err = create(&models.Person{FirstName: "Augusta", LastName: "King", Email: &upper})
	requireConflictField(t, err, "email")

	err = store.Transaction(ctx, "test.response", func(r Repositories) error {
		for i := 0; i < 2; i++ {
			resp := &models.Response{OwnerID: first.ID, SubmittedByID: first.ID, Status: models.ResponsePending, RespondedAt: time.Now()}
			if err := r.Responses.Create(resp); err != nil {
				return err
			}
		}
		return nil
	})
	requireConflictField(t, err, "owner_id")
}

func TestClassify(t *testing.T) {
	expired, cancel := context.WithCancel(context.Background())
	cancel()

	cases := []struct {
		name string
		ctx  context.Context
		err  error
		want errs.Kind
	}{
		{name: "deadline", ctx: context.Background(), err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: errs.KindUnavailable},
		{name: "cancelled context", ctx: expired, err: errors.New("interrupted"), want: errs.KindUnavailable},
		{name: "busy", ctx: context.Background(), err: sqlite3.Error{Code: sqlite3.ErrBusy}, want: errs.KindUnavailable},
		{name: "locked", ctx: context.Background(), err: sqlite3.Error{Code: sqlite3.ErrLocked}, want: errs.KindUnavailable},
		{name: "missing row", ctx: context.Background(), err: gorm.ErrRecordNotFound, want: errs.KindNotFound},
		{name: "typed passes through", ctx: context.Background(), err: errs.Forbidden("x", "no"), want: errs.KindForbidden},
		{name: "other", ctx: context.Background(), err: errors.New("disk I/O error"), want: errs.KindUnknown},
	}
	for _, tc := range cases {
		got := Classify(tc.ctx, "test.op", tc.err)
		if k := errs.KindOf(got); k != tc.want {
			t.Fatalf("%s: kind=%v want %v (%v)", tc.name, k, tc.want, got)
		}
		if tc.want == errs.KindUnavailable && !errs.IsRetryable(got) {
			t.Fatalf("%s: not retryable", tc.name)
		}
		if !errors.Is(got, tc.err) {
			t.Fatalf("%s: cause lost: %v", tc.name, got)
		}
	}
	if Classify(context.Background(), "test.op", nil) != nil {
		t.Fatalf("nil error classified")
	}
}

func TestUniqueField(t *testing.T) {
	cases := map[string]string{
		"UNIQUE constraint failed: people.email_norm":                             "email",
		"UNIQUE constraint failed: people.first_name_norm, people.last_name_norm": "name",
		"UNIQUE constraint failed: responses.owner_id":                            "owner_id",
		"UNIQUE constraint failed: people.id":                                     "id",
		"UNIQUE constraint failed: schema_migrations.version":                     "",
	}
	for msg, want := range cases {
		if got := uniqueField(msg); got != want {
			t.Fatalf("uniqueField(%q)=%q want %q", msg, got, want)
		}
	}
}
