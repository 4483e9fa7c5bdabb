package memory

import (
	"context"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

type couponRepository struct{ r *Registry }

func (c couponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	unlock := c.r.lock(ctx)
	defer unlock()
	code = domain.FoldCouponCode(code)
	for _, coupon := range c.r.state.coupons {
		if domain.FoldCouponCode(coupon.Code) == code {
			return coupon, nil
		}
	}
	return domain.Coupon{}, notFound("coupon.find_by_code", "coupon %q not found", code)
}

func (c couponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	unlock := c.r.lock(ctx)
	defer unlock()
	coupon, ok := c.r.state.coupons[couponID]
	if !ok {
		return domain.Coupon{}, notFound("coupon.find", "coupon %s not found", couponID)
	}
	return coupon, nil
}

func (c couponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	unlock := c.r.lock(ctx)
	defer unlock()
	if _, exists := c.r.state.coupons[coupon.ID]; exists {
		return conflict("coupon.insert", "coupon %s already exists", coupon.ID)
	}
	for _, existing := range c.r.state.coupons {
		if domain.FoldCouponCode(existing.Code) == domain.FoldCouponCode(coupon.Code) {
			return conflict("coupon.insert", "coupon code %q already exists", coupon.Code)
		}
	}
	c.r.state.coupons[coupon.ID] = coupon
	return nil
}

func (c couponRepository) IncrementUsage(ctx context.Context, couponID string) error {
	unlock := c.r.lock(ctx)
	defer unlock()
	coupon, ok := c.r.state.coupons[couponID]
	if !ok {
		return notFound("coupon.increment_usage", "coupon %s not found", couponID)
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		usageErr := repositories.NewCouponUsageError(couponID)
		usageErr.Op = "coupon.increment_usage"
		return usageErr
	}
	coupon.UsedCount++
	c.r.state.coupons[couponID] = coupon
	return nil
}

func (c couponRepository) DecrementUsage(ctx context.Context, couponID string) (bool, error) {
	unlock := c.r.lock(ctx)
	defer unlock()
	coupon, ok := c.r.state.coupons[couponID]
	if !ok {
		return false, notFound("coupon.decrement_usage", "coupon %s not found", couponID)
	}
	if coupon.UsedCount <= 0 {
		return false, nil
	}
	coupon.UsedCount--
	c.r.state.coupons[couponID] = coupon
	return true, nil
}

func (c couponRepository) CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	unlock := c.r.lock(ctx)
	defer unlock()
	count := 0
	for _, order := range c.r.state.orders {
		if order.UserID != userID || order.Status == domain.OrderStatusCancelled {
			continue
		}
		if order.CouponID != nil && *order.CouponID == couponID {
			count++
		}
	}
	return count, nil
}
