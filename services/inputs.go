package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/camden-git/rsvpbackend/errs"
	"github.com/camden-git/rsvpbackend/models"
	"github.com/camden-git/rsvpbackend/repository"
)

// maxSecretBytes is bcrypt's input limit.
const maxSecretBytes = 72

// SecretHasher is the credential hashing collaborator. Compare must run in
// constant time with respect to the secret.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Compare(hash, secret string) bool
}

// NewPerson describes a person created by an administrator or the bulk importer.
type NewPerson struct {
	FirstName      string `json:"first_name" validate:"required,max=100"`
	LastName       string `json:"last_name" validate:"required,max=100"`
	Email          string `json:"email" validate:"omitempty,email,max=254"`
	PlusOneAllowed bool   `json:"plus_one_allowed"`
	IsAdmin        bool   `json:"is_admin"`
}

func (p *NewPerson) trim() {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.TrimSpace(p.Email)
}

// ResponsePayload is the owner-specific part of an attendance answer.
type ResponsePayload struct {
	Status       models.ResponseStatus `json:"status" validate:"required,response_status"`
	DietaryNotes string                `json:"dietary_notes" validate:"max=500"`
	Message      string                `json:"message" validate:"max=2000"`
}

func (p *ResponsePayload) trim() {
	p.DietaryNotes = strings.TrimSpace(p.DietaryNotes)
	p.Message = strings.TrimSpace(p.Message)
}

// Companion is an unlisted guest brought by a person allowed a plus-one.
type Companion struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email,max=254"`
}

func (c *Companion) trim() {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Email = strings.TrimSpace(c.Email)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("response_status", func(fl validator.FieldLevel) bool {
		return models.ResponseStatus(fl.Field().String()).Valid()
	})
	return v
}

// validationError turns validator output into a Validation error naming the first
// offending field.
func validationError(op string, err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return errs.Validation(op, "", err.Error())
	}
	fe := ve[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "email":
		msg = "must be a valid email address"
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		msg = fmt.Sprintf("must be at least %s characters", fe.Param())
	case "response_status":
		msg = "must be one of: attending, not_attending, pending"
	default:
		msg = "is invalid"
	}
	return errs.Validation(op, fe.Field(), msg)
}

func validateSecret(op, secret string) error {
	if len(secret) < 8 {
		return errs.Validation(op, "password", "must be at least 8 characters")
	}
	if len(secret) > maxSecretBytes {
		return errs.Validation(op, "password", "must be at most 72 bytes")
	}
	return nil
}

// loadPerson resolves id inside a unit of work. A missing row is NotFound; a removed
// row fails with removedKind, which differs per operation.
func loadPerson(r repository.Repositories, op, field, id string, removedKind errs.Kind) (*models.Person, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errs.Validation(op, field, "is required")
	}
	p, err := r.People.GetByIDUnscoped(id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errs.NotFound(op, field, id)
		}
		return nil, err
	}
	if p.IsRemoved() {
		if removedKind == errs.KindNotFound {
			return nil, errs.NotFound(op, field, id)
		}
		return nil, &errs.Error{Op: op, Kind: removedKind, Field: field, ID: id, Msg: "person has been removed"}
	}
	return p, nil
}

// activePartner returns p's partner when the recorded partner still exists, is
// active and points back at p. A dangling id yields nil.
func activePartner(r repository.Repositories, p *models.Person) (*models.Person, error) {
	if !p.HasPartner() {
		return nil, nil
	}
	partner, err := r.People.GetByID(*p.PartnerID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !partner.PartnerIs(p.ID) {
		return nil, nil
	}
	return partner, nil
}

type clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}
