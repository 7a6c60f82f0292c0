package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/errs"
	"github.com/camden-git/rsvpbackend/models"
	"github.com/camden-git/rsvpbackend/repository"
)

// IdentityStore looks up, creates, registers and removes people.
type IdentityStore struct {
	store    *repository.Store
	hasher   SecretHasher
	validate *validator.Validate
	log      zerolog.Logger
	now      clock

	dummyOnce sync.Once
	dummyHash string
}

// NewIdentityStore creates a new identity store
func NewIdentityStore(store *repository.Store, hasher SecretHasher, log zerolog.Logger) *IdentityStore {
	return &IdentityStore{
		store:    store,
		hasher:   hasher,
		validate: newValidator(),
		log:      log.With().Str("component", "identity").Logger(),
		now:      utcNow,
	}
}

// FindByName returns the single active person with this name, compared
// case-insensitively. Two active matches are a Conflict an administrator must
// resolve; no match is NotFound.
func (s *IdentityStore) FindByName(ctx context.Context, first, last string) (*models.Person, error) {
	const op = "identity.FindByName"

	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if first == "" {
		return nil, errs.Validation(op, "first_name", "is required")
	}
	if last == "" {
		return nil, errs.Validation(op, "last_name", "is required")
	}

	var found *models.Person
	err := s.store.Read(ctx, op, func(r repository.Repositories) error {
		people, err := r.People.FindByNormalizedName(models.NormalizeName(first), models.NormalizeName(last))
		if err != nil {
			return err
		}
		switch len(people) {
		case 0:
			return errs.NotFound(op, "name", "")
		case 1:
			found = &people[0]
			return nil
		default:
			return errs.Conflict(op, "name", fmt.Sprintf("%d active people share this name", len(people)))
		}
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// FindByID returns an active person.
func (s *IdentityStore) FindByID(ctx context.Context, id string) (*models.Person, error) {
	const op = "identity.FindByID"

	var found *models.Person
	err := s.store.Read(ctx, op, func(r repository.Repositories) error {
		p, err := loadPerson(r, op, "id", id, errs.KindNotFound)
		found = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListActive returns every active person.
func (s *IdentityStore) ListActive(ctx context.Context) ([]models.Person, error) {
	const op = "identity.ListActive"

	var people []models.Person
	err := s.store.Read(ctx, op, func(r repository.Repositories) error {
		var err error
		people, err = r.People.ListActive()
		return err
	})
	if err != nil {
		return nil, err
	}
	return people, nil
}

// Create seeds a new unregistered person.
func (s *IdentityStore) Create(ctx context.Context, in NewPerson) (*models.Person, error) {
	const op = "identity.Create"

	in.trim()
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(op, err)
	}

	person := &models.Person{
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		PlusOneAllowed: in.PlusOneAllowed,
		IsAdmin:        in.IsAdmin,
		AccountStatus:  models.AccountUnregistered,
	}
	if in.Email != "" {
		email := in.Email
		person.Email = &email
	}

	err := s.store.Transaction(ctx, op, func(r repository.Repositories) error {
		holderID, err := createPersonTx(r, op, person)
		if holderID != "" {
			// Administrators get the colliding person's id to resolve the clash.
			return errs.WithID(err, holderID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("person_id", person.ID).Str("name", person.DisplayName()).Msg("person created")
	return person, nil
}

// createPersonTx inserts p after checking the active-name and active-email
// uniqueness rules. The store's unique indexes back both checks. On a name clash
// holderID names the active person holding the name; the returned error never
// carries it.
func createPersonTx(r repository.Repositories, op string, p *models.Person) (holderID string, err error) {
	existing, err := r.People.FindByNormalizedName(models.NormalizeName(p.FirstName), models.NormalizeName(p.LastName))
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return existing[0].ID, errs.Conflict(op, "name", "an active person with this name already exists")
	}
	if p.Email != nil {
		if err := ensureEmailFree(r, op, *p.Email, ""); err != nil {
			return "", err
		}
	}
	return "", r.People.Create(p)
}

// ensureEmailFree fails with Conflict when email belongs to an active person other
// than selfID.
func ensureEmailFree(r repository.Repositories, op, email, selfID string) error {
	other, err := r.People.FindByEmail(email)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return err
	}
	if other.ID == selfID {
		return nil
	}
	return errs.Conflict(op, "email", "email is already in use")
}

// Register gives an unregistered person a login credential.
func (s *IdentityStore) Register(ctx context.Context, id, email, secret string) (*models.Person, error) {
	const op = "identity.Register"

	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email,max=254"); err != nil {
		return nil, errs.Validation(op, "email", "must be a valid email address")
	}
	if err := validateSecret(op, secret); err != nil {
		return nil, err
	}

	// Cheap rejection before paying for the hash.
	err := s.store.Read(ctx, op, func(r repository.Repositories) error {
		p, err := loadPerson(r, op, "id", id, errs.KindForbidden)
		if err != nil {
			return err
		}
		return transitionAccount(op, p, models.AccountRegistered)
	})
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to hash secret: %w", op, err)
	}

	var registered *models.Person
	err = s.store.Transaction(ctx, op, func(r repository.Repositories) error {
		p, err := loadPerson(r, op, "id", id, errs.KindForbidden)
		if err != nil {
			return err
		}
		if err := transitionAccount(op, p, models.AccountRegistered); err != nil {
			return err
		}
		if err := ensureEmailFree(r, op, email, p.ID); err != nil {
			return err
		}
		ok, err := r.People.SetCredential(p.ID, email, hash, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return &errs.Error{Op: op, Kind: errs.KindConflict, Field: "account_status", ID: p.ID, Msg: "account already registered"}
		}
		registered, err = r.People.GetByID(p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("person_id", registered.ID).Msg("person registered")
	return registered, nil
}

// Authenticate checks an email and secret. Every failure looks the same to the
// caller so accounts cannot be enumerated.
func (s *IdentityStore) Authenticate(ctx context.Context, email, secret string) (*models.Person, error) {
	const op = "identity.Authenticate"

	var p *models.Person
	err := s.store.Read(ctx, op, func(r repository.Repositories) error {
		found, err := r.People.FindByEmail(email)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil
			}
			return err
		}
		p = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p == nil || !p.AccountStatus.CanAuthenticate() || !p.Credential.Present() {
		s.hasher.Compare(s.dummy(), secret)
		return nil, errs.Forbidden(op, "invalid credentials")
	}
	if !s.hasher.Compare(p.Credential.SecretHash, secret) {
		return nil, errs.Forbidden(op, "invalid credentials")
	}
	return p, nil
}

func (s *IdentityStore) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("placeholder-secret-for-timing")
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to build dummy hash")
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// SoftDelete removes a person. Partner links and responses are kept; read paths
// treat them as absent.
func (s *IdentityStore) SoftDelete(ctx context.Context, id string) error {
	const op = "identity.SoftDelete"

	err := s.store.Transaction(ctx, op, func(r repository.Repositories) error {
		p, err := loadPerson(r, op, "id", id, errs.KindNotFound)
		if err != nil {
			return err
		}
		if err := transitionAccount(op, p, models.AccountRemoved); err != nil {
			return err
		}
		return r.People.SoftDelete(p.ID)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("person_id", id).Msg("person removed")
	return nil
}

// SetPlusOneAllowed sets the administrator-controlled plus-one permission.
func (s *IdentityStore) SetPlusOneAllowed(ctx context.Context, id string, allowed bool) (*models.Person, error) {
	const op = "identity.SetPlusOneAllowed"

	var updated *models.Person
	err := s.store.Transaction(ctx, op, func(r repository.Repositories) error {
		p, err := loadPerson(r, op, "id", id, errs.KindNotFound)
		if err != nil {
			return err
		}
		if err := r.People.SetPlusOneAllowed(p.ID, allowed); err != nil {
			return err
		}
		updated, err = r.People.GetByID(p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// BootstrapAdmin creates the first administrator, registered with secret. It is
// refused once any active administrator exists.
func (s *IdentityStore) BootstrapAdmin(ctx context.Context, in NewPerson, secret string) (*models.Person, error) {
	const op = "identity.BootstrapAdmin"

	in.trim()
	in.IsAdmin = true
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(op, err)
	}
	if in.Email == "" {
		return nil, errs.Validation(op, "email", "is required")
	}
	if err := validateSecret(op, secret); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to hash secret: %w", op, err)
	}

	var admin *models.Person
	err = s.store.Transaction(ctx, op, func(r repository.Repositories) error {
		count, err := r.People.CountAdmins()
		if err != nil {
			return err
		}
		if count > 0 {
			return errs.Forbidden(op, "setup has already been completed")
		}

		email := in.Email
		p := &models.Person{
			FirstName:      in.FirstName,
			LastName:       in.LastName,
			Email:          &email,
			PlusOneAllowed: in.PlusOneAllowed,
			IsAdmin:        true,
			AccountStatus:  models.AccountUnregistered,
		}
		if _, err := createPersonTx(r, op, p); err != nil {
			return err
		}
		ok, err := r.People.SetCredential(p.ID, email, hash, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: freshly created admin %s was not registrable", op, p.ID)
		}
		admin, err = r.People.GetByID(p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("person_id", admin.ID).Msg("initial administrator created")
	return admin, nil
}
