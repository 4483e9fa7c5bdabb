package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/services"
)

func TestCartHandlersGetCart(t *testing.T) {
	updated := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	carts := &stubCartService{
		getFn: func(_ context.Context, p services.Principal) (services.CartView, error) {
			if p.OwnerKey() != guest.OwnerKey() {
				t.Fatalf("unexpected principal %+v", p)
			}
			return services.CartView{
				Lines: []services.CartLineView{{
					CartLine:    domain.CartLine{ID: "line-1", ProductID: "prod-1", Quantity: 2, UpdatedAt: updated},
					ProductName: "Notebook",
					UnitPrice:   1200,
					Currency:    "JPY",
					Stock:       5,
					Available:   true,
				}},
				Subtotal:  2400,
				Currency:  "JPY",
				ItemCount: 2,
			}, nil
		},
	}
	handler := mountRoutes(NewCartHandlers(carts, nil).Routes)

	rr, env := serve(t, handler, &guest, http.MethodGet, "/", nil)
	if rr.Code != http.StatusOK || !env.Success {
		t.Fatalf("expected 200 success, got %d %s", rr.Code, rr.Body.String())
	}
	cart := decodeData[cartPayload](t, env)
	if cart.Subtotal != 2400 || cart.ItemCount != 2 || len(cart.Lines) != 1 {
		t.Fatalf("unexpected cart %+v", cart)
	}
	if line := cart.Lines[0]; line.ProductName != "Notebook" || line.UpdatedAt != "2025-02-01T10:00:00Z" {
		t.Fatalf("unexpected line %+v", line)
	}
}

func TestCartHandlersRequirePrincipal(t *testing.T) {
	handler := mountRoutes(NewCartHandlers(&stubCartService{}, nil).Routes)
	rr, env := serve(t, handler, nil, http.MethodGet, "/", nil)
	if rr.Code != http.StatusUnauthorized || env.Error != "unauthenticated" {
		t.Fatalf("expected 401 unauthenticated, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersAddLineDefaultsQuantity(t *testing.T) {
	var captured services.AddCartLineCommand
	carts := &stubCartService{
		addFn: func(_ context.Context, cmd services.AddCartLineCommand) (services.CartLine, error) {
			captured = cmd
			return services.CartLine{ID: "line-9", ProductID: cmd.ProductID, Quantity: cmd.Quantity}, nil
		},
	}
	handler := mountRoutes(NewCartHandlers(carts, nil).Routes)

	rr, env := serve(t, handler, &shopper, http.MethodPost, "/lines", map[string]any{"product_id": " prod-7 "})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prod-7" || captured.Quantity != 1 || captured.Principal.ID != "user-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if line := decodeData[cartLinePayload](t, env); line.ID != "line-9" {
		t.Fatalf("unexpected line %+v", line)
	}
}

func TestCartHandlersAddLineRejectsUnknownFields(t *testing.T) {
	handler := mountRoutes(NewCartHandlers(&stubCartService{}, nil).Routes)
	rr, env := serve(t, handler, &shopper, http.MethodPost, "/lines", `{"product_id":"p","price":1}`)
	if rr.Code != http.StatusBadRequest || env.Error != "invalid_request" {
		t.Fatalf("expected invalid_request, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersAddLineMapsStockShortage(t *testing.T) {
	carts := &stubCartService{
		addFn: func(context.Context, services.AddCartLineCommand) (services.CartLine, error) {
			return services.CartLine{}, fmt.Errorf("%w: only 1 left", services.ErrCartInsufficientStock)
		},
	}
	handler := mountRoutes(NewCartHandlers(carts, nil).Routes)
	rr, env := serve(t, handler, &shopper, http.MethodPost, "/lines", map[string]any{"product_id": "p", "quantity": 3})
	if rr.Code != http.StatusUnprocessableEntity || env.ErrorKind != string(services.KindInsufficientStock) {
		t.Fatalf("expected 422 InsufficientStock, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersUpdateLineRemovesAtZero(t *testing.T) {
	carts := &stubCartService{
		updateFn: func(_ context.Context, cmd services.UpdateCartLineCommand) (services.CartLineUpdate, error) {
			if cmd.LineID != "line-1" || cmd.Quantity != 0 {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.CartLineUpdate{Removed: true}, nil
		},
	}
	handler := mountRoutes(NewCartHandlers(carts, nil).Routes)
	rr, env := serve(t, handler, &shopper, http.MethodPatch, "/lines/line-1", map[string]any{"quantity": 0})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	resp := decodeData[updateLineResponse](t, env)
	if !resp.Removed || resp.Line != nil {
		t.Fatalf("expected removal, got %+v", resp)
	}
}

func TestCartHandlersUpdateLineRequiresQuantity(t *testing.T) {
	handler := mountRoutes(NewCartHandlers(&stubCartService{}, nil).Routes)
	rr, _ := serve(t, handler, &shopper, http.MethodPatch, "/lines/line-1", map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveAndClear(t *testing.T) {
	var removed string
	cleared := false
	carts := &stubCartService{
		removeFn: func(_ context.Context, _ services.Principal, id string) error {
			removed = id
			return nil
		},
		clearFn: func(context.Context, services.Principal) error {
			cleared = true
			return nil
		},
	}
	handler := mountRoutes(NewCartHandlers(carts, nil).Routes)

	if rr, _ := serve(t, handler, &guest, http.MethodDelete, "/lines/line-3", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on remove, got %d", rr.Code)
	}
	if rr, _ := serve(t, handler, &guest, http.MethodDelete, "/", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on clear, got %d", rr.Code)
	}
	if removed != "line-3" || !cleared {
		t.Fatalf("expected remove and clear calls, got %q %v", removed, cleared)
	}
}

func TestCartHandlersRemoveMissingLine(t *testing.T) {
	carts := &stubCartService{
		removeFn: func(context.Context, services.Principal, string) error { return services.ErrCartNotFound },
	}
	handler := mountRoutes(NewCartHandlers(carts, nil).Routes)
	rr, env := serve(t, handler, &guest, http.MethodDelete, "/lines/nope", nil)
	if rr.Code != http.StatusNotFound || env.Error != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersValidateCouponUsesLiveSubtotal(t *testing.T) {
	carts := &stubCartService{
		getFn: func(context.Context, services.Principal) (services.CartView, error) {
			return services.CartView{Subtotal: 5000, Currency: "JPY"}, nil
		},
	}
	var captured services.ValidateCouponCommand
	coupons := &stubCouponService{
		validateFn: func(_ context.Context, cmd services.ValidateCouponCommand) (services.CouponValidation, error) {
			captured = cmd
			return services.CouponValidation{Code: "SPRING", Subtotal: cmd.Subtotal, DiscountAmount: 500}, nil
		},
	}
	handler := mountRoutes(NewCartHandlers(carts, coupons).Routes)

	rr, env := serve(t, handler, &shopper, http.MethodPost, "/coupon:validate", map[string]any{"code": "spring"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if captured.Subtotal != 5000 || captured.UserID != "user-1" || captured.Code != "spring" {
		t.Fatalf("unexpected command %+v", captured)
	}
	preview := decodeData[couponPreviewResponse](t, env)
	if preview.Total != 4500 || preview.DiscountAmount != 500 || preview.Currency != "JPY" {
		t.Fatalf("unexpected preview %+v", preview)
	}

	if _, _ = serve(t, handler, &guest, http.MethodPost, "/coupon:validate", map[string]any{"code": "spring"}); captured.UserID != "" {
		t.Fatalf("guest validation must not carry a user id, got %q", captured.UserID)
	}
}

func TestCartHandlersValidateCouponRateLimited(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	coupons := &stubCouponService{
		validateFn: func(context.Context, services.ValidateCouponCommand) (services.CouponValidation, error) {
			return services.CouponValidation{}, services.ErrCouponNotFound
		},
	}
	handler := mountRoutes(NewCartHandlers(&stubCartService{}, coupons, WithCouponRateLimit(2, func() time.Time { return now })).Routes)

	for i := 0; i < 2; i++ {
		if rr, _ := serve(t, handler, &shopper, http.MethodPost, "/coupon:validate", map[string]any{"code": "x"}); rr.Code != http.StatusNotFound {
			t.Fatalf("attempt %d: expected 404, got %d", i, rr.Code)
		}
	}
	rr, env := serve(t, handler, &shopper, http.MethodPost, "/coupon:validate", map[string]any{"code": "x"})
	if rr.Code != http.StatusTooManyRequests || env.Error != "rate_limited" || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429, got %d %s", rr.Code, rr.Body.String())
	}
	if rr, _ := serve(t, handler, &guest, http.MethodPost, "/coupon:validate", map[string]any{"code": "x"}); rr.Code != http.StatusNotFound {
		t.Fatalf("other principals keep their own budget, got %d", rr.Code)
	}

	now = now.Add(time.Minute)
	if rr, _ := serve(t, handler, &shopper, http.MethodPost, "/coupon:validate", map[string]any{"code": "x"}); rr.Code != http.StatusNotFound {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}
