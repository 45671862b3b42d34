package repository

import (
	"quickbite/internal/models"

	"gorm.io/gorm"
)

type OrderRepository interface {
	Create(order *models.Order) error
	CreateTx(tx *gorm.DB, order *models.Order) error
	GetByID(id string) (*models.Order, error)
	GetByIDTx(tx *gorm.DB, id string) (*models.Order, error)
	GetByUserID(userID string) ([]models.Order, error)
	GetActive() ([]models.Order, error)
	Update(order *models.Order) error
	UpdateTx(tx *gorm.DB, order *models.Order) error
	Transaction(fn func(tx *gorm.DB) error) error
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

func (r *orderRepository) CreateTx(tx *gorm.DB, order *models.Order) error {
	return tx.Create(order).Error
}

func (r *orderRepository) GetByID(id string) (*models.Order, error) {
	return r.getByID(r.db, id)
}

func (r *orderRepository) GetByIDTx(tx *gorm.DB, id string) (*models.Order, error) {
	return r.getByID(tx, id)
}

func (r *orderRepository) getByID(db *gorm.DB, id string) (*models.Order, error) {
	var order models.Order
	err := db.Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetByUserID(userID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&orders).Error
	return orders, err
}

// GetActive returns orders that still need kitchen or delivery attention.
func (r *orderRepository) GetActive() ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Where("status NOT IN ?", []models.OrderStatus{models.OrderDelivered, models.OrderCancelled}).
		Order("created_at ASC").Find(&orders).Error
	return orders, err
}

func (r *orderRepository) Update(order *models.Order) error {
	return r.db.Save(order).Error
}

func (r *orderRepository) UpdateTx(tx *gorm.DB, order *models.Order) error {
	return tx.Save(order).Error
}

func (r *orderRepository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}
