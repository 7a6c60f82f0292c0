package repository

import (
	"fmt"
	"time"

	"github.com/camden-git/rsvpbackend/models"
	"gorm.io/gorm"
)

type GormResponseRepository struct {
	db *gorm.DB
}

func NewGormResponseRepository(db *gorm.DB) ResponseRepository {
	return &GormResponseRepository{db: db}
}

func (r *GormResponseRepository) GetByOwner(ownerID string) (*models.Response, error) {
	var response models.Response
	if err := r.db.Where("owner_id = ?", ownerID).First(&response).Error; err != nil {
		return nil, err
	}
	return &response, nil
}

// Create inserts a new response. A second row for the same owner violates
// idx_responses_owner and surfaces as a unique constraint error.
func (r *GormResponseRepository) Create(response *models.Response) error {
	if err := r.db.Create(response).Error; err != nil {
		return fmt.Errorf("failed to create response for owner %s: %w", response.OwnerID, err)
	}
	return nil
}

// UpdateAnswer overwrites the answer fields of an existing response in place.
func (r *GormResponseRepository) UpdateAnswer(response *models.Response) error {
	result := r.db.Model(&models.Response{}).
		Where("id = ?", response.ID).
		Updates(map[string]interface{}{
			"submitted_by_id": response.SubmittedByID,
			"status":          response.Status,
			"dietary_notes":   response.DietaryNotes,
			"message":         response.Message,
			"responded_at":    response.RespondedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update response %s: %w", response.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Touch bumps updated_at only.
func (r *GormResponseRepository) Touch(id string, at time.Time) error {
	return r.db.Model(&models.Response{}).Where("id = ?", id).UpdateColumn("updated_at", at).Error
}
