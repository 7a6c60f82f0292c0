package repository

import (
	"time"

	"github.com/camden-git/rsvpbackend/models"
)

// PersonRepository defines the methods for person data operations.
// Lookups exclude removed people unless the method name says Unscoped.
type PersonRepository interface {
	Create(person *models.Person) error
	GetByID(id string) (*models.Person, error)
	GetByIDUnscoped(id string) (*models.Person, error)
	FindByNormalizedName(firstNorm, lastNorm string) ([]models.Person, error)
	FindByEmail(email string) (*models.Person, error)
	ListActive() ([]models.Person, error)
	CountAdmins() (int64, error)

	// SetCredential registers an unregistered active person. It reports false when
	// the row was not in a registrable state.
	SetCredential(id, email, secretHash string, at time.Time) (bool, error)
	SetPlusOneAllowed(id string, allowed bool) error
	// SetPartner points id at partnerID if id has no active partner, or already points
	// at partnerID. It reports false when another active partner holds the slot.
	SetPartner(id, partnerID string) (bool, error)
	// ClearPartner clears id's partner only while it still equals expected.
	ClearPartner(id, expected string) error
	SoftDelete(id string) error
}

// ResponseRepository defines the methods for response data operations
type ResponseRepository interface {
	GetByOwner(ownerID string) (*models.Response, error)
	Create(response *models.Response) error
	UpdateAnswer(response *models.Response) error
	Touch(id string, at time.Time) error
}

// Repositories bundles the repositories bound to one connection or transaction.
type Repositories struct {
	People    PersonRepository
	Responses ResponseRepository
}
