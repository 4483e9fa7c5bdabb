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

var returnStatusFilters = []string{
	string(domain.ReturnStatusPending),
	string(domain.ReturnStatusApproved),
	string(domain.ReturnStatusRejected),
	string(domain.ReturnStatusProcessing),
	string(domain.ReturnStatusCompleted),
}

// AdminHandlers exposes operator actions on orders and return requests.
type AdminHandlers struct {
	orders  services.OrderService
	returns services.ReturnService
	system  services.SystemService
}

func NewAdminHandlers(orders services.OrderService, returns services.ReturnService, system services.SystemService) *AdminHandlers {
	return &AdminHandlers{orders: orders, returns: returns, system: system}
}

// Routes registers /admin for staff and admin accounts.
func (h *AdminHandlers) Routes(r chi.Router) {
	r.Use(auth.RequireAccount(auth.RoleStaff, auth.RoleAdmin))
	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
	r.Post("/orders/{orderID}:cancel", h.cancelOrder)
	r.Get("/returns", h.listReturns)
	r.Post("/returns/{requestID}:status", h.updateReturnStatus)
	r.Get("/audit-logs", h.auditLogs)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
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
		AllUsers:   true,
		Statuses:   statuses,
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, buildList(page, buildOrderPayload))
}

type transitionRequest struct {
	Status         string  `json:"status"`
	TrackingNumber *string `json:"tracking_number"`
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if target == "" {
		invalidRequest(ctx, w, "status is required")
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderTransitionCommand{
		OrderID:        strings.TrimSpace(chi.URLParam(r, "orderID")),
		Target:         target,
		TrackingNumber: req.TrackingNumber,
		ActorID:        principal.ID,
	})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, buildOrderPayload(order))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:     strings.TrimSpace(chi.URLParam(r, "orderID")),
		InitiatedBy: domain.InitiatedByAdmin,
		ActorID:     principal.ID,
		Reason:      strings.TrimSpace(req.Reason),
	})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		serviceUnavailable(ctx, w, "return")
		return
	}
	params, ok := pageParams(w, r, returnStatusFilters)
	if !ok {
		return
	}
	query := r.URL.Query()
	filter := services.ReturnRequestListFilter{
		OrderID:    strings.TrimSpace(query.Get("orderId")),
		UserID:     strings.TrimSpace(query.Get("userId")),
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}
	for _, status := range params.Statuses {
		filter.Statuses = append(filter.Statuses, domain.ReturnStatus(status))
	}
	for _, raw := range query["type"] {
		switch t := domain.ReturnRequestType(strings.ToUpper(strings.TrimSpace(raw))); t {
		case domain.ReturnTypeReturn, domain.ReturnTypeCancellation:
			filter.Types = append(filter.Types, t)
		default:
			invalidRequest(ctx, w, "type must be RETURN or CANCELLATION")
			return
		}
	}

	page, err := h.returns.ListReturnRequests(ctx, filter)
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, buildList(page, buildReturnPayload))
}

type returnStatusRequest struct {
	Status       string  `json:"status"`
	AdminNote    *string `json:"admin_note"`
	RefundAmount *int64  `json:"refund_amount"`
}

func (h *AdminHandlers) updateReturnStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		serviceUnavailable(ctx, w, "return")
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req returnStatusRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	status := domain.ReturnStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status == "" {
		invalidRequest(ctx, w, "status is required")
		return
	}

	updated, err := h.returns.UpdateStatus(ctx, services.UpdateReturnStatusCommand{
		RequestID:    strings.TrimSpace(chi.URLParam(r, "requestID")),
		Status:       status,
		AdminNote:    req.AdminNote,
		RefundAmount: req.RefundAmount,
		ActorID:      principal.ID,
	})
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	httpx.WriteResult(w, http.StatusOK, buildReturnPayload(updated))
}

func (h *AdminHandlers) auditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		serviceUnavailable(ctx, w, "system")
		return
	}
	target := strings.TrimSpace(r.URL.Query().Get("targetRef"))
	if target == "" {
		invalidRequest(ctx, w, "targetRef is required")
		return
	}
	entries, err := h.system.AuditTrail(ctx, target)
	if err != nil {
		httpx.WriteServiceError(ctx, w, err)
		return
	}
	items := make([]auditEntryPayload, 0, len(entries))
	for _, entry := range entries {
		items = append(items, buildAuditPayload(entry))
	}
	httpx.WriteResult(w, http.StatusOK, listPayload[auditEntryPayload]{Items: items})
}
