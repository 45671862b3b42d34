package repository

import (
	"errors"

	"quickbite/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TrackingRepository interface {
	Upsert(session *models.TrackingSession) error
	GetByOrderID(orderID string) (*models.TrackingSession, error)
	Delete(orderID string) error
}

type trackingRepository struct {
	db *gorm.DB
}

func NewTrackingRepository(db *gorm.DB) TrackingRepository {
	return &trackingRepository{db: db}
}

func (r *trackingRepository) Upsert(session *models.TrackingSession) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"agent_id", "lat", "lng", "status", "updated_at",
		}),
	}).Create(session).Error
}

func (r *trackingRepository) GetByOrderID(orderID string) (*models.TrackingSession, error) {
	var session models.TrackingSession
	err := r.db.Where("order_id = ?", orderID).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes the session; a missing row is not an error.
func (r *trackingRepository) Delete(orderID string) error {
	err := r.db.Delete(&models.TrackingSession{}, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
