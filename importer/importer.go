package importer

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/errs"
	"github.com/camden-git/rsvpbackend/metrics"
	"github.com/camden-git/rsvpbackend/models"
	"github.com/camden-git/rsvpbackend/services"
)

// People is the part of the identity store the importer needs.
type People interface {
	FindByName(ctx context.Context, first, last string) (*models.Person, error)
	Create(ctx context.Context, in services.NewPerson) (*models.Person, error)
	SetPlusOneAllowed(ctx context.Context, id string, allowed bool) (*models.Person, error)
}

// Linker pairs two people.
type Linker interface {
	Link(ctx context.Context, a, b string) error
}

// Report summarizes one import run.
type Report struct {
	Rows       int        `json:"rows"`
	Created    int        `json:"created"`
	Reused     int        `json:"reused"`
	Linked     int        `json:"linked"`
	Errors     []RowError `json:"errors,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Importer seeds people from a guest list file. People already present under the
// same name are reused, so running the same file twice changes nothing.
type Importer struct {
	people People
	linker Linker
	log    zerolog.Logger
}

func New(people People, linker Linker, log zerolog.Logger) *Importer {
	return &Importer{
		people: people,
		linker: linker,
		log:    log.With().Str("component", "importer").Logger(),
	}
}

type nameKey struct{ first, last string }

func keyOf(first, last string) nameKey {
	return nameKey{models.NormalizeName(first), models.NormalizeName(last)}
}

// Import applies src in two passes: people first, then partner links, so a row may
// name a partner that appears later in the file.
func (im *Importer) Import(ctx context.Context, src io.Reader) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}

	rows, rowErrs, err := Parse(src)
	if err != nil {
		return nil, err
	}
	report.Rows = len(rows) + len(rowErrs)
	report.Errors = append(report.Errors, rowErrs...)
	metrics.ImportRows.WithLabelValues("invalid").Add(float64(len(rowErrs)))

	ids := make(map[nameKey]string, len(rows))
	var linkRows []Row
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		id, created, err := im.upsert(ctx, row)
		if err != nil {
			if errs.IsRetryable(err) {
				return report, err
			}
			im.fail(report, row.Line, err)
			continue
		}
		ids[keyOf(row.FirstName, row.LastName)] = id
		if created {
			report.Created++
			metrics.ImportRows.WithLabelValues("created").Inc()
		} else {
			report.Reused++
			metrics.ImportRows.WithLabelValues("reused").Inc()
		}
		if row.HasPartner() {
			linkRows = append(linkRows, row)
		}
	}

	linked := make(map[[2]string]bool)
	for _, row := range linkRows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		self := ids[keyOf(row.FirstName, row.LastName)]
		partner, ok := ids[keyOf(row.PartnerFirstName, row.PartnerLastName)]
		if !ok {
			p, err := im.people.FindByName(ctx, row.PartnerFirstName, row.PartnerLastName)
			if err != nil {
				im.fail(report, row.Line, partnerError(err))
				continue
			}
			partner = p.ID
		}
		pair := [2]string{self, partner}
		if pair[0] > pair[1] {
			pair[0], pair[1] = pair[1], pair[0]
		}
		if linked[pair] {
			continue
		}
		if err := im.linker.Link(ctx, self, partner); err != nil {
			if errs.IsRetryable(err) {
				return report, err
			}
			im.fail(report, row.Line, err)
			continue
		}
		linked[pair] = true
		report.Linked++
	}

	report.FinishedAt = time.Now().UTC()
	im.log.Info().
		Int("rows", report.Rows).
		Int("created", report.Created).
		Int("reused", report.Reused).
		Int("linked", report.Linked).
		Int("errors", len(report.Errors)).
		Msg("guest list imported")
	return report, nil
}

// upsert returns the id of the person for row, creating them when no active person
// has the name. A reused person only gains the plus-one privilege, never loses it.
func (im *Importer) upsert(ctx context.Context, row Row) (string, bool, error) {
	existing, err := im.people.FindByName(ctx, row.FirstName, row.LastName)
	switch {
	case err == nil:
		if row.PlusOneAllowed && !existing.PlusOneAllowed {
			if _, err := im.people.SetPlusOneAllowed(ctx, existing.ID, true); err != nil {
				return "", false, err
			}
		}
		return existing.ID, false, nil
	case errs.IsNotFound(err):
	default:
		return "", false, err
	}

	created, err := im.people.Create(ctx, services.NewPerson{
		FirstName:      row.FirstName,
		LastName:       row.LastName,
		Email:          row.Email,
		PlusOneAllowed: row.PlusOneAllowed,
	})
	if err != nil {
		return "", false, err
	}
	return created.ID, true, nil
}

func partnerError(err error) error {
	if errs.IsNotFound(err) {
		return &errs.Error{Op: "importer.Import", Kind: errs.KindNotFound, Field: colPartnerLastName, Msg: "partner is not on the guest list"}
	}
	return err
}

func (im *Importer) fail(report *Report, line int, err error) {
	rowErr := RowError{Line: line, Message: err.Error()}
	var typed *errs.Error
	if errors.As(err, &typed) {
		rowErr.Field = typed.Field
		if typed.Msg != "" {
			rowErr.Message = typed.Msg
		}
	}
	report.Errors = append(report.Errors, rowErr)
	result := "failed"
	if errs.IsValidation(err) {
		result = "invalid"
	}
	metrics.ImportRows.WithLabelValues(result).Inc()
	im.log.Warn().Int("line", line).Err(err).Msg("guest list row rejected")
}
