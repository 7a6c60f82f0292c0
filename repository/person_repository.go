package repository

import (
	"fmt"
	"time"

	"github.com/camden-git/rsvpbackend/models"
	"gorm.io/gorm"
)

type GormPersonRepository struct {
	db *gorm.DB
}

func NewGormPersonRepository(db *gorm.DB) PersonRepository {
	return &GormPersonRepository{db: db}
}

// Create creates a new person record in the database
func (r *GormPersonRepository) Create(person *models.Person) error {
	if err := r.db.Create(person).Error; err != nil {
		return fmt.Errorf("failed to create person %s: %w", person.DisplayName(), err)
	}
	return nil
}

func (r *GormPersonRepository) GetByID(id string) (*models.Person, error) {
	var person models.Person
	if err := r.db.Where("id = ?", id).First(&person).Error; err != nil {
		return nil, err
	}
	return &person, nil
}

func (r *GormPersonRepository) GetByIDUnscoped(id string) (*models.Person, error) {
	var person models.Person
	if err := r.db.Unscoped().Where("id = ?", id).First(&person).Error; err != nil {
		return nil, err
	}
	return &person, nil
}

// FindByNormalizedName returns every active person matching the normalized name.
// More than one match is possible only for rows that predate the uniqueness index.
func (r *GormPersonRepository) FindByNormalizedName(firstNorm, lastNorm string) ([]models.Person, error) {
	var people []models.Person
	err := r.db.Where("first_name_norm = ? AND last_name_norm = ?", firstNorm, lastNorm).
		Order("created_at ASC").
		Find(&people).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search people by name: %w", err)
	}
	return people, nil
}

func (r *GormPersonRepository) FindByEmail(email string) (*models.Person, error) {
	var person models.Person
	err := r.db.Where("email_norm = ?", models.NormalizeEmail(email)).First(&person).Error
	if err != nil {
		return nil, err
	}
	return &person, nil
}

// ListActive retrieves all active people, ordered by last and first name
func (r *GormPersonRepository) ListActive() ([]models.Person, error) {
	var people []models.Person
	err := r.db.Order("last_name_norm ASC, first_name_norm ASC").Find(&people).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	return people, nil
}

func (r *GormPersonRepository) CountAdmins() (int64, error) {
	var count int64
	err := r.db.Model(&models.Person{}).Where("is_admin = ?", true).Count(&count).Error
	return count, err
}

func (r *GormPersonRepository) SetCredential(id, email, secretHash string, at time.Time) (bool, error) {
	norm := models.NormalizeEmail(email)
	result := r.db.Model(&models.Person{}).
		Where("id = ? AND account_status = ?", id, models.AccountUnregistered).
		Updates(map[string]interface{}{
			"email":                    email,
			"email_norm":               norm,
			"credential_secret_hash":   secretHash,
			"credential_registered_at": at,
			"account_status":           models.AccountRegistered,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormPersonRepository) SetPlusOneAllowed(id string, allowed bool) error {
	result := r.db.Model(&models.Person{}).Where("id = ?", id).Update("plus_one_allowed", allowed)
	if result.Error != nil {
		return fmt.Errorf("failed to update plus_one_allowed for person %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *GormPersonRepository) SetPartner(id, partnerID string) (bool, error) {
	activeIDs := r.db.Session(&gorm.Session{NewDB: true}).Model(&models.Person{}).Select("id")
	result := r.db.Model(&models.Person{}).
		Where("id = ?", id).
		Where(r.db.Session(&gorm.Session{NewDB: true}).
			Where("partner_id IS NULL").
			Or("partner_id = ?", partnerID).
			Or("partner_id NOT IN (?)", activeIDs)).
		Update("partner_id", partnerID)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormPersonRepository) ClearPartner(id, expected string) error {
	return r.db.Unscoped().Model(&models.Person{}).
		Where("id = ? AND partner_id = ?", id, expected).
		Update("partner_id", nil).Error
}

// SoftDelete marks the person removed and sets deleted_at. Partner links and
// responses are left in place.
func (r *GormPersonRepository) SoftDelete(id string) error {
	result := r.db.Model(&models.Person{}).Where("id = ?", id).Update("account_status", models.AccountRemoved)
	if result.Error != nil {
		return fmt.Errorf("failed to mark person %s removed: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	if err := r.db.Where("id = ?", id).Delete(&models.Person{}).Error; err != nil {
		return fmt.Errorf("failed to delete person %s: %w", id, err)
	}
	return nil
}
