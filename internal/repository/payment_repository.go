package repository

import (
	"quickbite/internal/models"

	"gorm.io/gorm"
)

type PaymentRepository interface {
	CreateIntent(intent *models.PaymentIntent) error
	GetIntentByID(id string) (*models.PaymentIntent, error)
	GetIntentByOrderID(orderID string) (*models.PaymentIntent, error)
	UpdateIntent(intent *models.PaymentIntent) error
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) CreateIntent(intent *models.PaymentIntent) error {
	return r.db.Create(intent).Error
}

func (r *paymentRepository) GetIntentByID(id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.Where("id = ?", id).First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *paymentRepository) GetIntentByOrderID(orderID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.Where("order_id = ?", orderID).First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *paymentRepository) UpdateIntent(intent *models.PaymentIntent) error {
	return r.db.Save(intent).Error
}
