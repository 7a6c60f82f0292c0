package services

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/errs"
	"github.com/camden-git/rsvpbackend/models"
	"github.com/camden-git/rsvpbackend/repository"
)

// ProvisionResult is the companion created by Provision and, when an initial
// answer was supplied, the companion's response.
type ProvisionResult struct {
	PlusOne  *models.Person   `json:"plus_one"`
	Response *models.Response `json:"response,omitempty"`
}

// PlusOneProvisioner creates a companion for an inviter and links the two.
type PlusOneProvisioner struct {
	store    *repository.Store
	validate *validator.Validate
	log      zerolog.Logger
	now      clock

	// beforeLink runs between creating the companion and linking it. Tests use it
	// to fail the unit of work halfway.
	beforeLink func(*models.Person) error
}

func NewPlusOneProvisioner(store *repository.Store, log zerolog.Logger) *PlusOneProvisioner {
	return &PlusOneProvisioner{
		store:    store,
		validate: newValidator(),
		log:      log.With().Str("component", "plus_one").Logger(),
		now:      utcNow,
	}
}

// Provision creates the companion as an unregistered person, links it to the
// inviter and optionally records initialResponse for it, submitted by the inviter.
// Either all of it is stored or none of it.
func (p *PlusOneProvisioner) Provision(ctx context.Context, inviterID string, companion Companion, initialResponse *ResponsePayload) (*ProvisionResult, error) {
	const op = "plusone.Provision"

	now := p.now()
	result := &ProvisionResult{}
	err := p.store.Transaction(ctx, op, func(r repository.Repositories) error {
		created, err := p.provisionTx(r, op, inviterID, companion)
		if err != nil {
			return err
		}
		result.PlusOne = created

		if initialResponse == nil {
			return nil
		}
		payload := *initialResponse
		payload.trim()
		if err := p.validate.Struct(payload); err != nil {
			return validationError(op, err)
		}
		result.Response, err = upsertResponseTx(r, created.ID, inviterID, payload, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("inviter_id", inviterID).
		Str("plus_one_id", result.PlusOne.ID).
		Bool("with_response", result.Response != nil).
		Msg("plus-one provisioned")
	return result, nil
}

// provisionTx checks the inviter's permission before looking at the companion, so
// an inviter without the privilege learns nothing about the companion's email.
func (p *PlusOneProvisioner) provisionTx(r repository.Repositories, op, inviterID string, c Companion) (*models.Person, error) {
	inviter, err := loadPerson(r, op, "inviter_id", inviterID, errs.KindForbidden)
	if err != nil {
		return nil, err
	}
	if !inviter.PlusOneAllowed {
		return nil, &errs.Error{Op: op, Kind: errs.KindForbidden, Field: "plus_one_allowed", ID: inviter.ID,
			Msg: "person is not allowed a plus-one"}
	}
	if inviter.HasPartner() {
		current, err := activePartnerRecord(r, *inviter.PartnerID)
		if err != nil {
			return nil, err
		}
		if current != nil {
			return nil, &errs.Error{Op: op, Kind: errs.KindForbidden, Field: "partner_id", ID: inviter.ID,
				Msg: "person already has a partner"}
		}
	}

	c.trim()
	if err := p.validate.Struct(c); err != nil {
		return nil, validationError(op, err)
	}
	if err := ensureEmailFree(r, op, c.Email, ""); err != nil {
		return nil, err
	}

	email := c.Email
	companion := &models.Person{
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		Email:          &email,
		PlusOneAllowed: false,
		AccountStatus:  models.AccountUnregistered,
	}
	if _, err := createPersonTx(r, op, companion); err != nil {
		return nil, err
	}

	if p.beforeLink != nil {
		if err := p.beforeLink(companion); err != nil {
			return nil, err
		}
	}

	if err := linkTx(r, op, inviter.ID, companion.ID); err != nil {
		return nil, err
	}
	return r.People.GetByID(companion.ID)
}
