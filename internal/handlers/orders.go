package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

var orderStatusFilters = []string{
	string(domain.OrderStatusPending),
	string(domain.OrderStatusConfirmed),
	string(domain.OrderStatusShipped),
	string(domain.OrderStatusDelivered),
	string(domain.OrderStatusCancelled),
}

// OrderHandlers serves the signed-in user's orders and their return requests.
type OrderHandlers struct {
	orders     services.OrderService
	returns    services.ReturnService
	idempotent Middleware
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithReturnIdempotency wraps return request creation with the idempotency middleware.
func WithReturnIdempotency(mw Middleware) OrderOption {
	return func(h *OrderHandlers) {
		h.idempotent = mw
	}
}

func NewOrderHandlers(orders services.OrderService, returns services.ReturnService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders, returns: returns}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /orders.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Use(auth.RequireAccount())
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	create := r
	if h.idempotent != nil {
		create = create.With(h.idempotent)
	}
	create.Post("/{orderID}/returns", h.createReturn)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	params, ok := pageParams(w, r, orderStatusFilters)
	if !ok {
		return
	}
	statuses := make([]domain.OrderStatus, 0, len(params.Statuses))
	for _, status := range params.Statuses {
		statuses = append(statuses, domain.OrderStatus(status))
	}

	page, err := h.orders.ListOrders(ctx, services.ListOrdersQuery{
		Principal:  principal,
		Statuses:   statuses,
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, buildList(page, buildOrderPayload))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, principal, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, buildOrderPayload(order))
}

type returnItemRequest struct {
	OrderItemID string `json:"order_item_id"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason"`
}

type createReturnRequest struct {
	Type   string              `json:"type"`
	Reason string              `json:"reason"`
	Items  []returnItemRequest `json:"items"`
}

func (h *OrderHandlers) createReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		serviceUnavailable(ctx, w, "return")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req createReturnRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	requestType := domain.ReturnRequestType(strings.ToUpper(strings.TrimSpace(req.Type)))
	switch requestType {
	case domain.ReturnTypeReturn, domain.ReturnTypeCancellation:
	default:
		invalidRequest(ctx, w, "type must be RETURN or CANCELLATION")
		return
	}
	items := make([]services.ReturnItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.ReturnItemInput{
			OrderItemID: strings.TrimSpace(item.OrderItemID),
			Quantity:    item.Quantity,
			Reason:      strings.TrimSpace(item.Reason),
		})
	}

	created, err := h.returns.CreateRequest(ctx, services.CreateReturnRequestCommand{
		Principal: principal,
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderID")),
		Type:      requestType,
		Reason:    req.Reason,
		Items:     items,
	})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusCreated, buildReturnPayload(created))
}
