package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const maxCouponCodeLength = 64

// CouponServiceDeps bundles collaborators required by the coupon engine.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCouponService constructs the coupon engine.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		coupons: deps.Coupons,
		clock: func() time.Time {
			return clock().UTC().Truncate(time.Microsecond)
		},
		logger: logger,
	}, nil
}

// NormalizeCouponCode trims and case-folds a coupon code for lookup and storage.
func NormalizeCouponCode(code string) string {
	return domain.FoldCouponCode(code)
}

func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error) {
	code := NormalizeCouponCode(cmd.Code)
	if code == "" {
		return CouponValidation{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	if len(code) > maxCouponCodeLength {
		return CouponValidation{}, fmt.Errorf("%w: code is too long", ErrCouponInvalidInput)
	}
	if cmd.Subtotal < 0 {
		return CouponValidation{}, fmt.Errorf("%w: subtotal must be non-negative", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return CouponValidation{}, s.mapRepositoryError(err)
	}
	if err := s.checkEligibility(ctx, coupon, strings.TrimSpace(cmd.UserID), cmd.Subtotal); err != nil {
		return CouponValidation{}, err
	}

	return CouponValidation{
		CouponID:       coupon.ID,
		Code:           coupon.Code,
		Subtotal:       cmd.Subtotal,
		DiscountAmount: ComputeDiscount(coupon, cmd.Subtotal),
	}, nil
}

// checkEligibility applies the validation steps in order: active, window, global limit,
// per-user limit, minimum purchase.
func (s *couponService) checkEligibility(ctx context.Context, coupon Coupon, userID string, subtotal int64) error {
	if !coupon.IsActive {
		return fmt.Errorf("%w: coupon is inactive", ErrCouponNotFound)
	}
	now := s.clock()
	if now.Before(coupon.ValidFrom) {
		return fmt.Errorf("%w: coupon is not yet valid", ErrCouponExpired)
	}
	if coupon.ValidUntil != nil && now.After(*coupon.ValidUntil) {
		return fmt.Errorf("%w: coupon expired at %s", ErrCouponExpired, coupon.ValidUntil.UTC().Format(time.RFC3339))
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return fmt.Errorf("%w: %d of %d uses consumed", ErrCouponUsageLimitReached, coupon.UsedCount, *coupon.UsageLimit)
	}
	if coupon.PerUserLimit != nil && userID != "" {
		used, err := s.coupons.CountUserRedemptions(ctx, coupon.ID, userID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if used >= *coupon.PerUserLimit {
			return fmt.Errorf("%w: per-user limit of %d reached", ErrCouponUsageLimitReached, *coupon.PerUserLimit)
		}
	}
	if coupon.MinPurchaseAmount != nil && subtotal < *coupon.MinPurchaseAmount {
		return fmt.Errorf("%w: subtotal %d below %d", ErrCouponMinimumNotMet, subtotal, *coupon.MinPurchaseAmount)
	}
	return nil
}

// ComputeDiscount returns the discount a coupon grants on subtotal, clamped to the coupon's cap
// and to the subtotal itself.
func ComputeDiscount(coupon Coupon, subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	var raw int64
	switch coupon.DiscountType {
	case domain.DiscountPercentage:
		raw = subtotal * coupon.DiscountValue / 100
	case domain.DiscountFixed:
		raw = coupon.DiscountValue
	}
	if raw < 0 {
		raw = 0
	}
	if coupon.MaxDiscountAmount != nil && raw > *coupon.MaxDiscountAmount {
		raw = *coupon.MaxDiscountAmount
	}
	return min(raw, subtotal)
}

func (s *couponService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("coupon: repository unavailable: %w", err)
		}
	}
	return err
}
