package repository

import (
	"strings"

	"quickbite/internal/models"

	"gorm.io/gorm"
)

type CouponRepository interface {
	Create(coupon *models.Coupon) error
	Update(coupon *models.Coupon) error
	GetByCode(code string) (*models.Coupon, error)
	GetByCodeTx(tx *gorm.DB, code string) (*models.Coupon, error)
	GetAll() ([]models.Coupon, error)
	IncrementUsedTx(tx *gorm.DB, couponID uint) (int64, error)
	Transaction(fn func(tx *gorm.DB) error) error
}

type couponRepository struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) CouponRepository {
	return &couponRepository{db: db}
}

func (r *couponRepository) Create(coupon *models.Coupon) error {
	coupon.Code = strings.ToUpper(coupon.Code)
	return r.db.Create(coupon).Error
}

func (r *couponRepository) Update(coupon *models.Coupon) error {
	return r.db.Save(coupon).Error
}

func (r *couponRepository) GetByCode(code string) (*models.Coupon, error) {
	return r.getByCode(r.db, code)
}

func (r *couponRepository) GetByCodeTx(tx *gorm.DB, code string) (*models.Coupon, error) {
	return r.getByCode(tx, code)
}

func (r *couponRepository) getByCode(db *gorm.DB, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := db.Where("code = ?", strings.ToUpper(code)).First(&coupon).Error
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *couponRepository) GetAll() ([]models.Coupon, error) {
	var coupons []models.Coupon
	err := r.db.Order("created_at DESC").Find(&coupons).Error
	return coupons, err
}

// IncrementUsedTx bumps used_count by exactly one, guarded by the usage
// limit in the same statement. Zero rows affected means the limit was
// already reached; there is no window for a lost update.
func (r *couponRepository) IncrementUsedTx(tx *gorm.DB, couponID uint) (int64, error) {
	res := tx.Model(&models.Coupon{}).
		Where("id = ? AND used_count < usage_limit", couponID).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	return res.RowsAffected, res.Error
}

func (r *couponRepository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}
