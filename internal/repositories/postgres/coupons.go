package postgres

import (
	"context"
	"database/sql"
	"errors"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

type couponRepository struct{ c *Client }

const couponColumns = `id, code, discount_type, discount_value, min_purchase_amount, max_discount_amount,
	usage_limit, per_user_limit, used_count, is_active, valid_from, valid_until, created_at, updated_at`

func scanCoupon(row interface{ Scan(...any) error }) (domain.Coupon, error) {
	var (
		c                        domain.Coupon
		discountType             string
		minPurchase, maxDiscount sql.NullInt64
		usageLimit, perUserLimit sql.NullInt32
		validUntil               sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Code, &discountType, &c.DiscountValue, &minPurchase, &maxDiscount,
		&usageLimit, &perUserLimit, &c.UsedCount, &c.IsActive, &c.ValidFrom, &validUntil, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Coupon{}, err
	}
	c.DiscountType = domain.DiscountType(discountType)
	c.MinPurchaseAmount = int64Ptr(minPurchase)
	c.MaxDiscountAmount = int64Ptr(maxDiscount)
	c.UsageLimit = intPtr(usageLimit)
	c.PerUserLimit = intPtr(perUserLimit)
	c.ValidUntil = timePtr(validUntil)
	return c, nil
}

func (r couponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	row := r.c.conn(ctx).QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE lower(code) = $1`, domain.FoldCouponCode(code))
	coupon, err := scanCoupon(row)
	if err != nil {
		return domain.Coupon{}, WrapError("coupon.find_by_code", err)
	}
	return coupon, nil
}

func (r couponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	row := r.c.conn(ctx).QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, couponID)
	coupon, err := scanCoupon(row)
	if err != nil {
		return domain.Coupon{}, WrapError("coupon.find", err)
	}
	return coupon, nil
}

func (r couponRepository) Insert(ctx context.Context, c domain.Coupon) error {
	_, err := r.c.conn(ctx).ExecContext(ctx,
		`INSERT INTO coupons (`+couponColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.Code, string(c.DiscountType), c.DiscountValue, nullableInt64(c.MinPurchaseAmount), nullableInt64(c.MaxDiscountAmount),
		nullableInt(c.UsageLimit), nullableInt(c.PerUserLimit), c.UsedCount, c.IsActive, c.ValidFrom, nullableTime(c.ValidUntil),
		c.CreatedAt, c.UpdatedAt)
	return WrapError("coupon.insert", err)
}

// IncrementUsage relies on the row lock taken by UPDATE: a concurrent redeemer re-evaluates the
// guard after the first commits and matches zero rows.
func (r couponRepository) IncrementUsage(ctx context.Context, couponID string) error {
	q := r.c.conn(ctx)
	res, err := q.ExecContext(ctx,
		`UPDATE coupons SET used_count = used_count + 1, updated_at = now()
		 WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`, couponID)
	if err != nil {
		return WrapError("coupon.increment_usage", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return WrapError("coupon.increment_usage", err)
	}
	if affected == 1 {
		return nil
	}
	if err := r.exists(ctx, q, couponID); err != nil {
		return WrapError("coupon.increment_usage", err)
	}
	usageErr := repositories.NewCouponUsageError(couponID)
	usageErr.Op = "coupon.increment_usage"
	return usageErr
}

func (r couponRepository) DecrementUsage(ctx context.Context, couponID string) (bool, error) {
	q := r.c.conn(ctx)
	res, err := q.ExecContext(ctx,
		`UPDATE coupons SET used_count = used_count - 1, updated_at = now() WHERE id = $1 AND used_count > 0`, couponID)
	if err != nil {
		return false, WrapError("coupon.decrement_usage", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, WrapError("coupon.decrement_usage", err)
	}
	if affected == 1 {
		return true, nil
	}
	if err := r.exists(ctx, q, couponID); err != nil {
		return false, WrapError("coupon.decrement_usage", err)
	}
	return false, nil
}

func (r couponRepository) exists(ctx context.Context, q querier, couponID string) error {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM coupons WHERE id = $1`, couponID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError("", "coupon %s not found", couponID)
	}
	return err
}

func (r couponRepository) CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	var count int
	err := r.c.conn(ctx).QueryRowContext(ctx,
		`SELECT count(*) FROM orders WHERE coupon_id = $1 AND user_id = $2 AND status <> 'CANCELLED'`,
		couponID, userID).Scan(&count)
	if err != nil {
		return 0, WrapError("coupon.count_redemptions", err)
	}
	return count, nil
}
