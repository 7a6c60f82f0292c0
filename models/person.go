package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Credential is the login sub-structure of a Person. It is empty until the
// person registers.
type Credential struct {
	SecretHash   string     `json:"-" gorm:"column:secret_hash"`
	RegisteredAt *time.Time `json:"registered_at,omitempty" gorm:"column:registered_at"`
}

// Present reports whether a secret has been stored.
func (c Credential) Present() bool {
	return c.SecretHash != ""
}

// Person is an invited guest and, once registered, an account holder.
// It corresponds to the 'people' table.
type Person struct {
	ID            string  `json:"id" gorm:"primaryKey;type:varchar(36)"`
	FirstName     string  `json:"first_name" gorm:"not null"`
	LastName      string  `json:"last_name" gorm:"not null"`
	FirstNameNorm string  `json:"-" gorm:"not null"`
	LastNameNorm  string  `json:"-" gorm:"not null"`
	PartnerID     *string `json:"partner_id,omitempty" gorm:"type:varchar(36);index"`
	// Email is captured at import or plus-one provisioning time and confirmed on registration.
	Email          *string       `json:"email,omitempty"`
	EmailNorm      *string       `json:"-"`
	PlusOneAllowed bool          `json:"plus_one_allowed" gorm:"not null;default:false"`
	Credential     Credential    `json:"credential" gorm:"embedded;embeddedPrefix:credential_"`
	AccountStatus  AccountStatus `json:"account_status" gorm:"type:varchar(16);not null;default:unregistered;index"`
	IsAdmin        bool          `json:"is_admin" gorm:"not null;default:false"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName explicitly sets the table name for GORM.
func (Person) TableName() string {
	return "people"
}

// BeforeCreate assigns an id and keeps the normalized lookup columns in sync.
func (p *Person) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.AccountStatus == "" {
		p.AccountStatus = AccountUnregistered
	}
	p.FirstNameNorm = NormalizeName(p.FirstName)
	p.LastNameNorm = NormalizeName(p.LastName)
	if p.Email != nil {
		norm := NormalizeEmail(*p.Email)
		p.EmailNorm = &norm
	}
	return
}

// DisplayName is the derived "First Last" form.
func (p *Person) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// HasPartner reports whether a partner id is recorded. The partner may have been
// removed since; callers that care must resolve it.
func (p *Person) HasPartner() bool {
	return p.PartnerID != nil && *p.PartnerID != ""
}

// PartnerIs reports whether the recorded partner id equals id.
func (p *Person) PartnerIs(id string) bool {
	return p.HasPartner() && *p.PartnerID == id
}

// IsRemoved reports whether the person has been soft-deleted.
func (p *Person) IsRemoved() bool {
	return p.DeletedAt.Valid || p.AccountStatus == AccountRemoved
}
