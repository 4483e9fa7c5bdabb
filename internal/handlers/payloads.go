package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/services"
)

const defaultBodyLimit = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

// decodeBody reads a JSON object into dst. Unknown fields are rejected. When optional
// is set an empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	ctx := r.Context()
	data, err := readLimitedBody(r, defaultBodyLimit)
	switch {
	case errors.Is(err, errEmptyBody) && optional:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return false
	}
	return true
}

func principalFrom(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "session or account credentials required", http.StatusUnauthorized))
		return domain.Principal{}, false
	}
	return principal, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

func invalidRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

func pageParams(w http.ResponseWriter, r *http.Request, allowedStatuses []string) (pagination.Params, bool) {
	params, err := pagination.FromRequest(r, pagination.Options{AllowedStatuses: allowedStatuses})
	if err != nil {
		invalidRequest(r.Context(), w, err.Error())
		return pagination.Params{}, false
	}
	return params, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

type listPayload[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func buildList[S any, T any](page domain.CursorPage[S], convert func(S) T) listPayload[T] {
	items := make([]T, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, convert(item))
	}
	return listPayload[T]{Items: items, NextPageToken: page.NextPageToken}
}

type cartLinePayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	ProductName string `json:"product_name,omitempty"`
	UnitPrice   int64  `json:"unit_price,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Stock       int    `json:"stock"`
	Image       string `json:"image,omitempty"`
	Available   bool   `json:"available"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type cartPayload struct {
	Lines     []cartLinePayload `json:"lines"`
	Subtotal  int64             `json:"subtotal"`
	Currency  string            `json:"currency"`
	ItemCount int               `json:"item_count"`
}

func buildCartPayload(view services.CartView) cartPayload {
	lines := make([]cartLinePayload, 0, len(view.Lines))
	for _, line := range view.Lines {
		lines = append(lines, cartLinePayload{
			ID:          line.ID,
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice,
			Currency:    line.Currency,
			Stock:       line.Stock,
			Image:       line.Image,
			Available:   line.Available,
			UpdatedAt:   formatTime(line.UpdatedAt),
		})
	}
	return cartPayload{Lines: lines, Subtotal: view.Subtotal, Currency: view.Currency, ItemCount: view.ItemCount}
}

func buildLinePayload(line services.CartLine) cartLinePayload {
	return cartLinePayload{
		ID:        line.ID,
		ProductID: line.ProductID,
		Quantity:  line.Quantity,
		UpdatedAt: formatTime(line.UpdatedAt),
	}
}

type orderItemPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type orderPayload struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	Status         string             `json:"status"`
	Currency       string             `json:"currency"`
	Subtotal       int64              `json:"subtotal"`
	Discount       int64              `json:"discount"`
	Total          int64              `json:"total"`
	CouponCode     *string            `json:"coupon_code,omitempty"`
	AddressID      string             `json:"address_id"`
	TrackingNumber *string            `json:"tracking_number,omitempty"`
	CancelledBy    *domain.Initiator  `json:"cancelled_by,omitempty"`
	Items          []orderItemPayload `json:"items"`
	CreatedAt      string             `json:"created_at"`
	UpdatedAt      string             `json:"updated_at,omitempty"`
	ConfirmedAt    string             `json:"confirmed_at,omitempty"`
	ShippedAt      string             `json:"shipped_at,omitempty"`
	DeliveredAt    string             `json:"delivered_at,omitempty"`
	CancelledAt    string             `json:"cancelled_at,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			Name:      item.NameSnapshot,
			Quantity:  item.Quantity,
			UnitPrice: item.PriceSnapshot,
			Total:     item.LineTotal(),
		})
	}
	return orderPayload{
		ID:             order.ID,
		UserID:         order.UserID,
		Status:         string(order.Status),
		Currency:       order.Currency,
		Subtotal:       order.Subtotal,
		Discount:       order.Discount,
		Total:          order.Total,
		CouponCode:     order.CouponCode,
		AddressID:      order.AddressID,
		TrackingNumber: order.TrackingNumber,
		CancelledBy:    order.CancelledBy,
		Items:          items,
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
		ConfirmedAt:    formatTimePtr(order.ConfirmedAt),
		ShippedAt:      formatTimePtr(order.ShippedAt),
		DeliveredAt:    formatTimePtr(order.DeliveredAt),
		CancelledAt:    formatTimePtr(order.CancelledAt),
	}
}

type returnItemPayload struct {
	OrderItemID string  `json:"order_item_id"`
	Quantity    int     `json:"quantity"`
	Reason      *string `json:"reason,omitempty"`
}

type returnPayload struct {
	ID           string              `json:"id"`
	OrderID      string              `json:"order_id"`
	UserID       string              `json:"user_id"`
	Type         string              `json:"type"`
	Status       string              `json:"status"`
	Reason       string              `json:"reason"`
	AdminNote    *string             `json:"admin_note,omitempty"`
	RefundAmount *int64              `json:"refund_amount,omitempty"`
	Items        []returnItemPayload `json:"items,omitempty"`
	CreatedAt    string              `json:"created_at"`
	UpdatedAt    string              `json:"updated_at,omitempty"`
	ProcessedAt  string              `json:"processed_at,omitempty"`
}

func buildReturnPayload(req services.ReturnRequest) returnPayload {
	items := make([]returnItemPayload, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, returnItemPayload{OrderItemID: item.OrderItemID, Quantity: item.Quantity, Reason: item.Reason})
	}
	return returnPayload{
		ID:           req.ID,
		OrderID:      req.OrderID,
		UserID:       req.UserID,
		Type:         string(req.Type),
		Status:       string(req.Status),
		Reason:       req.Reason,
		AdminNote:    req.AdminNote,
		RefundAmount: req.RefundAmount,
		Items:        items,
		CreatedAt:    formatTime(req.CreatedAt),
		UpdatedAt:    formatTime(req.UpdatedAt),
		ProcessedAt:  formatTimePtr(req.ProcessedAt),
	}
}

type auditEntryPayload struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	ActorType  string         `json:"actor_type"`
	Action     string         `json:"action"`
	TargetRef  string         `json:"target_ref"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	OccurredAt string         `json:"occurred_at"`
}

func buildAuditPayload(entry services.AuditLogEntry) auditEntryPayload {
	return auditEntryPayload{
		ID:         entry.ID,
		Actor:      entry.Actor,
		ActorType:  entry.ActorType,
		Action:     entry.Action,
		TargetRef:  entry.TargetRef,
		Metadata:   entry.Metadata,
		RequestID:  entry.RequestID,
		OccurredAt: formatTime(entry.OccurredAt),
	}
}
