package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

// Middleware is the chi middleware signature used for route level wrappers.
type Middleware = func(http.Handler) http.Handler

// CheckoutHandlers turns the caller's cart into an order.
type CheckoutHandlers struct {
	orders     services.OrderService
	idempotent Middleware
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency wraps order creation with the idempotency middleware.
func WithCheckoutIdempotency(mw Middleware) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotent = mw
	}
}

func NewCheckoutHandlers(orders services.OrderService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /checkout. Guest carts have to be merged before checkout.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	r.Use(auth.RequireAccount())
	group := r
	if h.idempotent != nil {
		group = group.With(h.idempotent)
	}
	group.Post("/orders", h.createOrder)
}

type createOrderRequest struct {
	AddressID  string `json:"address_id"`
	CouponCode string `json:"coupon_code"`
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	addressID := strings.TrimSpace(req.AddressID)
	if addressID == "" {
		invalidRequest(ctx, w, "address_id is required")
		return
	}

	order, err := h.orders.CreateFromCart(ctx, services.CreateOrderCommand{
		Principal:  principal,
		AddressID:  addressID,
		CouponCode: strings.TrimSpace(req.CouponCode),
	})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteResult(w, http.StatusCreated, buildOrderPayload(order))
}
