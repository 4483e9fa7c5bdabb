package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

// CartHandlers exposes the cart of the current principal, account or guest.
type CartHandlers struct {
	carts   services.CartService
	coupons services.CouponService
	limiter rateLimiter
}

// CartOption customises CartHandlers.
type CartOption func(*CartHandlers)

// WithCouponRateLimit caps coupon validations per principal per minute.
func WithCouponRateLimit(perMinute int, clock func() time.Time) CartOption {
	return func(h *CartHandlers) {
		h.limiter = newWindowLimiter(perMinute, time.Minute, clock)
	}
}

func NewCartHandlers(carts services.CartService, coupons services.CouponService, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{carts: carts, coupons: coupons}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /cart.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Use(auth.RequirePrincipal())
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/lines", h.addLine)
	r.Patch("/lines/{lineID}", h.updateLine)
	r.Delete("/lines/{lineID}", h.removeLine)
	r.Post("/coupon:validate", h.validateCoupon)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	view, err := h.carts.GetLines(ctx, principal)
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, buildCartPayload(view))
}

type addLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

func (h *CartHandlers) addLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req addLineRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	line, err := h.carts.AddLine(ctx, services.AddCartLineCommand{
		Principal: principal,
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  quantity,
	})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusCreated, buildLinePayload(line))
}

type updateLineRequest struct {
	Quantity *int `json:"quantity"`
}

type updateLineResponse struct {
	Line    *cartLinePayload `json:"line,omitempty"`
	Removed bool             `json:"removed"`
}

func (h *CartHandlers) updateLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req updateLineRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Quantity == nil {
		invalidRequest(ctx, w, "quantity is required")
		return
	}

	update, err := h.carts.UpdateLineQuantity(ctx, services.UpdateCartLineCommand{
		Principal: principal,
		LineID:    strings.TrimSpace(chi.URLParam(r, "lineID")),
		Quantity:  *req.Quantity,
	})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	resp := updateLineResponse{Removed: update.Removed}
	if !update.Removed {
		line := buildLinePayload(update.Line)
		resp.Line = &line
	}
	httpx.WriteResult(w, http.StatusOK, resp)
}

func (h *CartHandlers) removeLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	if err := h.carts.RemoveLine(ctx, principal, strings.TrimSpace(chi.URLParam(r, "lineID"))); err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	if err := h.carts.Clear(ctx, principal); err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateCouponRequest struct {
	Code string `json:"code"`
}

type couponPreviewResponse struct {
	Code           string `json:"code"`
	Subtotal       int64  `json:"subtotal"`
	DiscountAmount int64  `json:"discount_amount"`
	Total          int64  `json:"total"`
	Currency       string `json:"currency"`
}

// validateCoupon previews a code against the live cart subtotal. Usage is not consumed.
func (h *CartHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil || h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(auth.PrincipalLogKey(principal)) {
		w.Header().Set("Retry-After", "60")
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many coupon validations", http.StatusTooManyRequests))
		return
	}
	var req validateCouponRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	view, err := h.carts.GetLines(ctx, principal)
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	userID := ""
	if principal.IsAccount() {
		userID = principal.ID
	}
	validation, err := h.coupons.Validate(ctx, services.ValidateCouponCommand{
		Code:     req.Code,
		UserID:   userID,
		Subtotal: view.Subtotal,
	})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, couponPreviewResponse{
		Code:           validation.Code,
		Subtotal:       validation.Subtotal,
		DiscountAmount: validation.DiscountAmount,
		Total:          validation.Subtotal - validation.DiscountAmount,
		Currency:       view.Currency,
	})
}
