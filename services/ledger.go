package services

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/errs"
	"github.com/camden-git/rsvpbackend/models"
	"github.com/camden-git/rsvpbackend/repository"
)

// SubmitRequest is one attendance submission. SubmittedByID is the authenticated
// caller and must be the owner or the owner's partner.
type SubmitRequest struct {
	OwnerID        string
	SubmittedByID  string
	Payload        ResponsePayload
	PartnerPayload *ResponsePayload
	// PlusOne asks for a companion to be provisioned and linked as the owner's
	// partner in the same transaction.
	PlusOne *Companion
}

// SubmitResult holds the responses written by Submit.
type SubmitResult struct {
	Own     *models.Response `json:"own_response"`
	Partner *models.Response `json:"partner_response"`
	PlusOne *models.Person   `json:"plus_one,omitempty"`
}

// Responses is the read view of an owner's answer and their partner's.
type Responses struct {
	Own       *models.Response `json:"own_response"`
	Partner   *models.Response `json:"partner_response"`
	PartnerID *string          `json:"partner_id,omitempty"`
}

// ResponseLedger stores one response per person.
type ResponseLedger struct {
	store    *repository.Store
	plusOnes *PlusOneProvisioner
	validate *validator.Validate
	log      zerolog.Logger
	now      clock
}

func NewResponseLedger(store *repository.Store, plusOnes *PlusOneProvisioner, log zerolog.Logger) *ResponseLedger {
	return &ResponseLedger{
		store:    store,
		plusOnes: plusOnes,
		validate: newValidator(),
		log:      log.With().Str("component", "ledger").Logger(),
		now:      utcNow,
	}
}

// Submit upserts the owner's response and, when a partner payload is given and the
// owner has an active partner, the partner's response too. Everything happens in
// one transaction.
func (l *ResponseLedger) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	const op = "ledger.Submit"

	req.Payload.trim()
	if err := l.validate.Struct(req.Payload); err != nil {
		return nil, validationError(op, err)
	}
	if req.PartnerPayload != nil {
		pp := *req.PartnerPayload
		pp.trim()
		if err := l.validate.Struct(pp); err != nil {
			return nil, validationError(op, err)
		}
		req.PartnerPayload = &pp
	}
	if req.SubmittedByID == "" {
		return nil, errs.Validation(op, "submitted_by_id", "is required")
	}

	now := l.now()
	result := &SubmitResult{}
	err := l.store.Transaction(ctx, op, func(r repository.Repositories) error {
		owner, err := loadPerson(r, op, "owner_id", req.OwnerID, errs.KindNotFound)
		if err != nil {
			return err
		}
		if err := checkSubmitter(r, op, owner, req.SubmittedByID); err != nil {
			return err
		}

		partnerPayload := req.PartnerPayload
		if req.PlusOne != nil {
			if req.SubmittedByID != owner.ID {
				return errs.Forbidden(op, "only the inviter may bring a plus-one")
			}
			if l.plusOnes == nil {
				return errs.Forbidden(op, "plus-ones are not enabled")
			}
			companion, err := l.plusOnes.provisionTx(r, op, owner.ID, *req.PlusOne)
			if err != nil {
				return err
			}
			owner.PartnerID = &companion.ID
			result.PlusOne = companion
			if partnerPayload == nil {
				partnerPayload = &ResponsePayload{Status: models.ResponseAttending}
			}
		}

		result.Own, err = upsertResponseTx(r, owner.ID, req.SubmittedByID, req.Payload, now)
		if err != nil {
			return err
		}

		if partnerPayload == nil {
			return nil
		}
		partner, err := activePartner(r, owner)
		if err != nil {
			return err
		}
		if partner == nil {
			return nil
		}
		result.Partner, err = upsertResponseTx(r, partner.ID, req.SubmittedByID, *partnerPayload, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	ev := l.log.Info().
		Str("owner_id", req.OwnerID).
		Str("submitted_by_id", req.SubmittedByID).
		Str("status", string(result.Own.Status))
	if result.Partner != nil {
		ev = ev.Str("partner_id", result.Partner.OwnerID)
	}
	if result.PlusOne != nil {
		ev = ev.Str("plus_one_id", result.PlusOne.ID)
	}
	ev.Msg("response submitted")
	return result, nil
}

// checkSubmitter allows the owner, or an active partner whose link is mutual.
func checkSubmitter(r repository.Repositories, op string, owner *models.Person, submitterID string) error {
	if submitterID == owner.ID {
		return nil
	}
	if !owner.PartnerIs(submitterID) {
		return &errs.Error{Op: op, Kind: errs.KindForbidden, Field: "submitted_by_id", ID: submitterID,
			Msg: "only the owner or their partner may respond"}
	}
	submitter, err := loadPerson(r, op, "submitted_by_id", submitterID, errs.KindForbidden)
	if err != nil {
		if errs.IsNotFound(err) {
			return &errs.Error{Op: op, Kind: errs.KindForbidden, Field: "submitted_by_id", ID: submitterID,
				Msg: "submitter is not an active person"}
		}
		return err
	}
	if !submitter.PartnerIs(owner.ID) {
		return &errs.Error{Op: op, Kind: errs.KindForbidden, Field: "submitted_by_id", ID: submitterID,
			Msg: "only the owner or their partner may respond"}
	}
	return nil
}

// upsertResponseTx writes ownerID's single response. An identical resubmission only
// bumps updated_at. A concurrent insert for the same owner trips the owner_id
// unique index and fails the transaction.
func upsertResponseTx(r repository.Repositories, ownerID, submittedByID string, p ResponsePayload, now time.Time) (*models.Response, error) {
	existing, err := r.Responses.GetByOwner(ownerID)
	if err != nil && !repository.IsNotFound(err) {
		return nil, err
	}

	if existing == nil {
		resp := &models.Response{
			OwnerID:       ownerID,
			SubmittedByID: submittedByID,
			Status:        p.Status,
			DietaryNotes:  p.DietaryNotes,
			Message:       p.Message,
			RespondedAt:   now,
		}
		if err := r.Responses.Create(resp); err != nil {
			return nil, err
		}
		return resp, nil
	}

	if existing.SameAnswer(p.Status, p.DietaryNotes, p.Message, submittedByID) {
		if err := r.Responses.Touch(existing.ID, now); err != nil {
			return nil, err
		}
		existing.UpdatedAt = now
		return existing, nil
	}

	existing.SubmittedByID = submittedByID
	existing.Status = p.Status
	existing.DietaryNotes = p.DietaryNotes
	existing.Message = p.Message
	existing.RespondedAt = now
	if err := r.Responses.UpdateAnswer(existing); err != nil {
		return nil, err
	}
	existing.UpdatedAt = now
	return existing, nil
}

// Get returns the owner's response and, through an active partner link, the
// partner's. Either may be nil.
func (l *ResponseLedger) Get(ctx context.Context, ownerID string) (*Responses, error) {
	const op = "ledger.Get"

	// One snapshot: a concurrent Submit is visible for both people or for neither.
	out := &Responses{}
	err := l.store.Snapshot(ctx, op, func(r repository.Repositories) error {
		owner, err := loadPerson(r, op, "owner_id", ownerID, errs.KindNotFound)
		if err != nil {
			return err
		}
		if out.Own, err = responseOrNil(r, owner.ID); err != nil {
			return err
		}

		partner, err := activePartner(r, owner)
		if err != nil || partner == nil {
			return err
		}
		out.PartnerID = &partner.ID
		out.Partner, err = responseOrNil(r, partner.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func responseOrNil(r repository.Repositories, ownerID string) (*models.Response, error) {
	resp, err := r.Responses.GetByOwner(ownerID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp, nil
}
