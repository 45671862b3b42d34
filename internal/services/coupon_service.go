package services

import (
	"errors"
	"fmt"
	"time"

	"quickbite/internal/apperr"
	"quickbite/internal/models"
	"quickbite/internal/repository"

	"gorm.io/gorm"
)

type CouponService interface {
	// Validate is the read-only eligibility preview used by the cart screen.
	Validate(code string, orderAmount float64) (*models.Coupon, float64, error)
	// TryRedeem atomically validates eligibility and consumes one use.
	TryRedeem(code string, orderAmount float64) (float64, error)
	// RedeemTx is TryRedeem running inside a caller-owned transaction; the
	// order coordinator uses it so coupon use and order creation commit as
	// one unit.
	RedeemTx(tx *gorm.DB, code string, orderAmount float64) (float64, error)

	// Operator surface.
	CreateCoupon(coupon *models.Coupon) error
	UpdateCoupon(coupon *models.Coupon) error
	GetCoupon(code string) (*models.Coupon, error)
	GetAllCoupons() ([]models.Coupon, error)
}

type couponService struct {
	couponRepo repository.CouponRepository
}

func NewCouponService(couponRepo repository.CouponRepository) CouponService {
	return &couponService{couponRepo: couponRepo}
}

func (s *couponService) Validate(code string, orderAmount float64) (*models.Coupon, float64, error) {
	coupon, err := s.couponRepo.GetByCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, apperr.New(apperr.NotFound, "coupon not found")
		}
		return nil, 0, apperr.Wrap(apperr.Internal, "failed to load coupon", err)
	}

	if err := eligibility(coupon, orderAmount, time.Now()); err != nil {
		return nil, 0, err
	}
	return coupon, coupon.DiscountFor(orderAmount), nil
}

func (s *couponService) TryRedeem(code string, orderAmount float64) (float64, error) {
	var discount float64
	err := s.couponRepo.Transaction(func(tx *gorm.DB) error {
		var err error
		discount, err = s.RedeemTx(tx, code, orderAmount)
		return err
	})
	if err != nil {
		return 0, err
	}
	return discount, nil
}

func (s *couponService) RedeemTx(tx *gorm.DB, code string, orderAmount float64) (float64, error) {
	// Values read outside the transaction are not valid inside it; re-read
	// and re-validate here.
	coupon, err := s.couponRepo.GetByCodeTx(tx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperr.New(apperr.NotFound, "coupon not found")
		}
		return 0, apperr.Wrap(apperr.Internal, "failed to load coupon", err)
	}

	if err := eligibility(coupon, orderAmount, time.Now()); err != nil {
		return 0, err
	}

	rows, err := s.couponRepo.IncrementUsedTx(tx, coupon.ID)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "failed to redeem coupon", err)
	}
	if rows == 0 {
		// Lost the race for the last remaining use.
		return 0, apperr.New(apperr.FailedPrecondition, "coupon usage limit reached")
	}

	return coupon.DiscountFor(orderAmount), nil
}

// eligibility rejects a coupon that cannot be applied right now. The limit
// check here is advisory; the authoritative check is the guarded increment.
func eligibility(coupon *models.Coupon, orderAmount float64, now time.Time) error {
	if !coupon.IsActive {
		return apperr.New(apperr.FailedPrecondition, "coupon is inactive")
	}
	if now.Before(coupon.ValidFrom) || now.After(coupon.ValidTo) {
		return apperr.New(apperr.FailedPrecondition, "coupon is not valid at this time")
	}
	if orderAmount < coupon.MinOrderAmount {
		return apperr.Newf(apperr.FailedPrecondition, "order amount below coupon minimum of %.2f", coupon.MinOrderAmount)
	}
	if coupon.UsedCount >= coupon.UsageLimit {
		return apperr.New(apperr.FailedPrecondition, "coupon usage limit reached")
	}
	return nil
}

func (s *couponService) CreateCoupon(coupon *models.Coupon) error {
	if coupon.Code == "" {
		return apperr.New(apperr.InvalidArgument, "coupon code is required")
	}
	if coupon.UsageLimit <= 0 {
		return apperr.New(apperr.InvalidArgument, "usage limit must be positive")
	}
	if coupon.DiscountPercent <= 0 && coupon.DiscountFlat <= 0 {
		return apperr.New(apperr.InvalidArgument, "coupon must carry a percentage or flat discount")
	}
	if err := s.couponRepo.Create(coupon); err != nil {
		return fmt.Errorf("failed to create coupon: %w", err)
	}
	return nil
}

func (s *couponService) UpdateCoupon(coupon *models.Coupon) error {
	return s.couponRepo.Update(coupon)
}

func (s *couponService) GetCoupon(code string) (*models.Coupon, error) {
	coupon, err := s.couponRepo.GetByCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "coupon not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to load coupon", err)
	}
	return coupon, nil
}

func (s *couponService) GetAllCoupons() ([]models.Coupon, error) {
	return s.couponRepo.GetAll()
}
