package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResponseStatus is a person's attendance answer.
type ResponseStatus string

const (
	ResponseAttending    ResponseStatus = "attending"
	ResponseNotAttending ResponseStatus = "not_attending"
	ResponsePending      ResponseStatus = "pending"
)

// Valid reports whether s is one of the known statuses.
func (s ResponseStatus) Valid() bool {
	switch s {
	case ResponseAttending, ResponseNotAttending, ResponsePending:
		return true
	}
	return false
}

// Response is the single attendance record of one Person (owner_id is unique).
// It may have been submitted by the owner or by the owner's partner.
type Response struct {
	ID            string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OwnerID       string         `json:"owner_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_responses_owner"`
	SubmittedByID string         `json:"submitted_by_id" gorm:"type:varchar(36);not null;index"`
	Status        ResponseStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	DietaryNotes  string         `json:"dietary_notes" gorm:"type:text"`
	Message       string         `json:"message" gorm:"type:text"`
	RespondedAt   time.Time      `json:"responded_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName explicitly sets the table name for GORM.
func (Response) TableName() string {
	return "responses"
}

// BeforeCreate generates an id if not provided.
func (r *Response) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return
}

// SameAnswer reports whether r already holds exactly this answer from this submitter.
func (r *Response) SameAnswer(status ResponseStatus, dietaryNotes, message, submittedByID string) bool {
	return r.Status == status &&
		r.DietaryNotes == dietaryNotes &&
		r.Message == message &&
		r.SubmittedByID == submittedByID
}
