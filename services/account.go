package services

import (
	"fmt"

	"github.com/camden-git/rsvpbackend/errs"
	"github.com/camden-git/rsvpbackend/models"
)

// transitionAccount guards a lifecycle move for p. Removed people can no longer be
// acted on; repeating a move (double registration) is a conflict.
func transitionAccount(op string, p *models.Person, next models.AccountStatus) error {
	if !next.Valid() {
		return errs.Validation(op, "account_status", fmt.Sprintf("unknown account status %q", next))
	}
	current := p.AccountStatus
	if p.DeletedAt.Valid {
		current = models.AccountRemoved
	}
	if current.CanTransitionTo(next) {
		return nil
	}

	switch {
	case current == models.AccountRemoved:
		return &errs.Error{Op: op, Kind: errs.KindForbidden, Field: "account_status", ID: p.ID, Msg: "person has been removed"}
	case current == next:
		return &errs.Error{Op: op, Kind: errs.KindConflict, Field: "account_status", ID: p.ID, Msg: fmt.Sprintf("account already %s", next)}
	default:
		return &errs.Error{Op: op, Kind: errs.KindConflict, Field: "account_status", ID: p.ID,
			Msg: fmt.Sprintf("cannot move account from %s to %s", current, next)}
	}
}
