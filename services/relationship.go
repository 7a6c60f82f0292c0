package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/errs"
	"github.com/camden-git/rsvpbackend/models"
	"github.com/camden-git/rsvpbackend/repository"
)

// RelationshipManager owns the partner edge. Nothing else writes partner_id.
type RelationshipManager struct {
	store *repository.Store
	log   zerolog.Logger
}

func NewRelationshipManager(store *repository.Store, log zerolog.Logger) *RelationshipManager {
	return &RelationshipManager{
		store: store,
		log:   log.With().Str("component", "relationships").Logger(),
	}
}

// Link pairs a and b. Linking an already linked pair succeeds without changes.
func (m *RelationshipManager) Link(ctx context.Context, a, b string) error {
	const op = "relationships.Link"

	err := m.store.Transaction(ctx, op, func(r repository.Repositories) error {
		return linkTx(r, op, a, b)
	})
	if err != nil {
		return err
	}

	m.log.Info().Str("person_id", a).Str("partner_id", b).Msg("partners linked")
	return nil
}

// linkTx writes both sides of the edge inside the caller's transaction. Each side
// is a conditional update, so a concurrent link that claimed either slot first
// makes this one fail instead of overwriting it.
func linkTx(r repository.Repositories, op, a, b string) error {
	if a == b {
		return errs.Validation(op, "partner_id", "a person cannot be their own partner")
	}

	pa, err := loadPerson(r, op, "person_id", a, errs.KindForbidden)
	if err != nil {
		return err
	}
	pb, err := loadPerson(r, op, "partner_id", b, errs.KindForbidden)
	if err != nil {
		return err
	}

	if pa.PartnerIs(pb.ID) && pb.PartnerIs(pa.ID) {
		return nil
	}
	if err := ensureNoOtherPartner(r, op, pa, pb.ID); err != nil {
		return err
	}
	if err := ensureNoOtherPartner(r, op, pb, pa.ID); err != nil {
		return err
	}

	for _, side := range [][2]string{{pa.ID, pb.ID}, {pb.ID, pa.ID}} {
		ok, err := r.People.SetPartner(side[0], side[1])
		if err != nil {
			return err
		}
		if !ok {
			return &errs.Error{Op: op, Kind: errs.KindConflict, Field: "partner_id", ID: side[0],
				Msg: "person was linked to someone else concurrently"}
		}
	}
	return nil
}

// ensureNoOtherPartner fails when p is linked to an active person other than want.
// A partner id left dangling by a removal does not count.
func ensureNoOtherPartner(r repository.Repositories, op string, p *models.Person, want string) error {
	if !p.HasPartner() || p.PartnerIs(want) {
		return nil
	}
	current, err := activePartnerRecord(r, *p.PartnerID)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	return &errs.Error{Op: op, Kind: errs.KindConflict, Field: "partner_id", ID: p.ID,
		Msg: "person is already linked to another partner"}
}

func activePartnerRecord(r repository.Repositories, id string) (*models.Person, error) {
	p, err := r.People.GetByID(id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// Unlink clears a's partner edge on both sides. Unlinking an unpaired person is a
// no-op.
func (m *RelationshipManager) Unlink(ctx context.Context, a string) error {
	const op = "relationships.Unlink"

	var former string
	err := m.store.Transaction(ctx, op, func(r repository.Repositories) error {
		pa, err := loadPerson(r, op, "person_id", a, errs.KindForbidden)
		if err != nil {
			return err
		}
		if !pa.HasPartner() {
			return nil
		}
		former = *pa.PartnerID
		if err := r.People.ClearPartner(pa.ID, former); err != nil {
			return err
		}
		return r.People.ClearPartner(former, pa.ID)
	})
	if err != nil {
		return err
	}

	if former != "" {
		m.log.Info().Str("person_id", a).Str("partner_id", former).Msg("partners unlinked")
	}
	return nil
}
