package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/repositories/memory"
)

type stubCouponRepo struct {
	findByCodeFn func(context.Context, string) (domain.Coupon, error)
	countFn      func(context.Context, string, string) (int, error)
}

func (s *stubCouponRepo) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if s.findByCodeFn != nil {
		return s.findByCodeFn(ctx, code)
	}
	return domain.Coupon{}, &stubRepoError{notFound: true}
}

func (s *stubCouponRepo) FindByID(context.Context, string) (domain.Coupon, error) {
	return domain.Coupon{}, &stubRepoError{notFound: true}
}

func (s *stubCouponRepo) Insert(context.Context, domain.Coupon) error { return nil }

func (s *stubCouponRepo) IncrementUsage(context.Context, string) error { return nil }

func (s *stubCouponRepo) DecrementUsage(context.Context, string) (bool, error) { return true, nil }

func (s *stubCouponRepo) CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	if s.countFn != nil {
		return s.countFn(ctx, couponID, userID)
	}
	return 0, nil
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "stub repository error" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*stubRepoError)(nil)

func newCouponServiceWith(t *testing.T, coupon domain.Coupon, redemptions int) CouponService {
	t.Helper()
	svc, err := NewCouponService(CouponServiceDeps{
		Coupons: &stubCouponRepo{
			findByCodeFn: func(_ context.Context, code string) (domain.Coupon, error) {
				if code != NormalizeCouponCode(coupon.Code) {
					t.Fatalf("unexpected code lookup %q", code)
				}
				return coupon, nil
			},
			countFn: func(context.Context, string, string) (int, error) {
				return redemptions, nil
			},
		},
		Clock: func() time.Time { return fixtureNow },
	})
	if err != nil {
		t.Fatalf("new coupon service: %v", err)
	}
	return svc
}

func baseCoupon() domain.Coupon {
	return domain.Coupon{
		ID:            "cpn_1",
		Code:          "SAVE10",
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: 10,
		IsActive:      true,
		ValidFrom:     fixtureNow.Add(-24 * time.Hour),
	}
}

// Percentage discount clamped to the coupon cap.
func TestCouponValidateClampsToMaxDiscount(t *testing.T) {
	coupon := baseCoupon()
	coupon.MaxDiscountAmount = int64Ptr(50)
	svc := newCouponServiceWith(t, coupon, 0)

	result, err := svc.Validate(context.Background(), ValidateCouponCommand{Code: " save10 ", Subtotal: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DiscountAmount != 50 || result.CouponID != "cpn_1" || result.Code != "SAVE10" {
		t.Fatalf("unexpected validation %+v", result)
	}
}

func TestCouponValidateFailures(t *testing.T) {
	past := fixtureNow.Add(-time.Hour)
	cases := []struct {
		name        string
		mutate      func(*domain.Coupon)
		subtotal    int64
		userID      string
		redemptions int
		kind        ErrorKind
	}{
		{name: "inactive", mutate: func(c *domain.Coupon) { c.IsActive = false }, subtotal: 1000, kind: KindNotFound},
		{name: "not yet valid", mutate: func(c *domain.Coupon) { c.ValidFrom = fixtureNow.Add(time.Hour) }, subtotal: 1000, kind: KindExpired},
		{name: "expired", mutate: func(c *domain.Coupon) { c.ValidUntil = &past }, subtotal: 1000, kind: KindExpired},
		{name: "global limit", mutate: func(c *domain.Coupon) { c.UsageLimit = intPtr(3); c.UsedCount = 3 }, subtotal: 1000, kind: KindUsageLimitReached},
		{name: "per user limit", mutate: func(c *domain.Coupon) { c.PerUserLimit = intPtr(1) }, subtotal: 1000, userID: "user-1", redemptions: 1, kind: KindUsageLimitReached},
		{name: "minimum", mutate: func(c *domain.Coupon) { c.MinPurchaseAmount = int64Ptr(5000) }, subtotal: 4999, kind: KindMinimumNotMet},
		{name: "expired wins over minimum", mutate: func(c *domain.Coupon) { c.ValidUntil = &past; c.MinPurchaseAmount = int64Ptr(5000) }, subtotal: 1, kind: KindExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coupon := baseCoupon()
			tc.mutate(&coupon)
			svc := newCouponServiceWith(t, coupon, tc.redemptions)
			_, err := svc.Validate(context.Background(), ValidateCouponCommand{Code: "SAVE10", UserID: tc.userID, Subtotal: tc.subtotal})
			if KindOf(err) != tc.kind {
				t.Fatalf("expected %s, got %v (%s)", tc.kind, err, KindOf(err))
			}
		})
	}
}

func TestCouponValidatePerUserLimitIgnoredForAnonymous(t *testing.T) {
	coupon := baseCoupon()
	coupon.PerUserLimit = intPtr(1)
	svc := newCouponServiceWith(t, coupon, 5)
	if _, err := svc.Validate(context.Background(), ValidateCouponCommand{Code: "SAVE10", Subtotal: 100}); err != nil {
		t.Fatalf("expected success without user id, got %v", err)
	}
}

func TestCouponValidateUnknownCode(t *testing.T) {
	svc, err := NewCouponService(CouponServiceDeps{Coupons: &stubCouponRepo{}})
	if err != nil {
		t.Fatalf("new coupon service: %v", err)
	}
	_, err = svc.Validate(context.Background(), ValidateCouponCommand{Code: "nope", Subtotal: 100})
	if !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = svc.Validate(context.Background(), ValidateCouponCommand{Code: "  ", Subtotal: 100})
	if !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestComputeDiscount(t *testing.T) {
	cases := []struct {
		name     string
		coupon   domain.Coupon
		subtotal int64
		want     int64
	}{
		{name: "percentage", coupon: domain.Coupon{DiscountType: domain.DiscountPercentage, DiscountValue: 15}, subtotal: 2000, want: 300},
		{name: "percentage rounds down", coupon: domain.Coupon{DiscountType: domain.DiscountPercentage, DiscountValue: 10}, subtotal: 999, want: 99},
		{name: "fixed", coupon: domain.Coupon{DiscountType: domain.DiscountFixed, DiscountValue: 500}, subtotal: 2000, want: 500},
		{name: "fixed above subtotal", coupon: domain.Coupon{DiscountType: domain.DiscountFixed, DiscountValue: 5000}, subtotal: 1200, want: 1200},
		{name: "capped", coupon: domain.Coupon{DiscountType: domain.DiscountFixed, DiscountValue: 800, MaxDiscountAmount: int64Ptr(300)}, subtotal: 2000, want: 300},
		{name: "zero subtotal", coupon: domain.Coupon{DiscountType: domain.DiscountFixed, DiscountValue: 800}, subtotal: 0, want: 0},
	}
	for _, tc := range cases {
		if got := ComputeDiscount(tc.coupon, tc.subtotal); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestCouponCodeFoldingMatchesStoredCode(t *testing.T) {
	if got := NormalizeCouponCode("  STRAßE10 "); got != "straße10" {
		t.Fatalf("expected simple lower-casing, got %q", got)
	}

	reg := memory.NewRegistry()
	coupon := baseCoupon()
	coupon.Code = "STRAßE10"
	reg.SeedCoupons(coupon)
	svc, err := NewCouponService(CouponServiceDeps{Coupons: reg.Coupons(), Clock: func() time.Time { return fixtureNow }})
	if err != nil {
		t.Fatalf("new coupon service: %v", err)
	}

	ctx := context.Background()
	result, err := svc.Validate(ctx, ValidateCouponCommand{Code: "straße10", Subtotal: 1000})
	if err != nil {
		t.Fatalf("expected folded code to match, got %v", err)
	}
	if result.CouponID != coupon.ID {
		t.Fatalf("unexpected coupon %q", result.CouponID)
	}
	if _, err := svc.Validate(ctx, ValidateCouponCommand{Code: "STRASSE10", Subtotal: 1000}); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected full case folding not to apply, got %v", err)
	}
}
