package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/idempotency"
	"github.com/hanko-field/commerce/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder(id string, status domain.OrderStatus) services.Order {
	code := "SPRING"
	return services.Order{
		ID:         id,
		UserID:     "user-1",
		Status:     status,
		Currency:   "JPY",
		Subtotal:   3000,
		Discount:   300,
		Total:      2700,
		CouponCode: &code,
		AddressID:  "addr-1",
		Items: []services.OrderItem{
			{ID: "item-1", ProductID: "prod-1", Quantity: 2, PriceSnapshot: 1500, NameSnapshot: "Mug"},
		},
		CreatedAt: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestCheckoutHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder("ord-1", domain.OrderStatusPending), nil
		},
	}
	handler := mountRoutes(NewCheckoutHandlers(orders).Routes)

	rr, env := serve(t, handler, &shopper, http.MethodPost, "/orders", map[string]any{"address_id": "addr-1", "coupon_code": " SPRING "})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "/api/v1/orders/ord-1", rr.Header().Get("Location"))
	assert.Equal(t, "SPRING", captured.CouponCode)
	assert.Equal(t, "addr-1", captured.AddressID)

	order := decodeData[orderPayload](t, env)
	assert.Equal(t, "PENDING", order.Status)
	assert.Equal(t, int64(2700), order.Total)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(3000), order.Items[0].Total)
}

func TestCheckoutHandlersRejectsGuests(t *testing.T) {
	handler := mountRoutes(NewCheckoutHandlers(&stubOrderService{}).Routes)
	rr, env := serve(t, handler, &guest, http.MethodPost, "/orders", map[string]any{"address_id": "addr-1"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "unauthenticated", env.Error)
}

func TestCheckoutHandlersMapsDomainErrors(t *testing.T) {
	cases := map[error]struct {
		status int
		kind   services.ErrorKind
	}{
		services.ErrOrderEmptyCart:          {http.StatusUnprocessableEntity, services.KindEmptyCart},
		services.ErrCouponUsageLimitReached: {http.StatusUnprocessableEntity, services.KindUsageLimitReached},
		services.ErrCouponExpired:           {http.StatusUnprocessableEntity, services.KindExpired},
		services.ErrOrderInvalidInput:       {http.StatusBadRequest, services.KindInvalidArgument},
	}
	for err, want := range cases {
		orders := &stubOrderService{
			createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) { return services.Order{}, err },
		}
		handler := mountRoutes(NewCheckoutHandlers(orders).Routes)
		rr, env := serve(t, handler, &shopper, http.MethodPost, "/orders", map[string]any{"address_id": "addr-1"})
		assert.Equal(t, want.status, rr.Code, err.Error())
		assert.Equal(t, string(want.kind), env.ErrorKind, err.Error())
		assert.False(t, env.Success)
	}
}

func TestCheckoutHandlersReplayIdempotentRequest(t *testing.T) {
	calls := 0
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			calls++
			return sampleOrder("ord-1", domain.OrderStatusPending), nil
		},
	}
	store := idempotency.NewMemoryStore()
	handler := mountRoutes(NewCheckoutHandlers(orders, WithCheckoutIdempotency(idempotency.Middleware(store))).Routes)

	send := func() (int, string, string) {
		req := newJSONRequest(t, http.MethodPost, "/orders", `{"address_id":"addr-1"}`, &shopper)
		req.Header.Set(idempotency.DefaultHeader, "key-1")
		rr := record(handler, req)
		return rr.Code, rr.Header().Get(idempotency.ReplayHeader), rr.Body.String()
	}
	status, replay, first := send()
	require.Equal(t, http.StatusCreated, status, first)
	assert.Empty(t, replay)

	status, replay, second := send()
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "true", replay)
	assert.JSONEq(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestOrderHandlersListOrders(t *testing.T) {
	var captured services.ListOrdersQuery
	orders := &stubOrderService{
		listFn: func(_ context.Context, q services.ListOrdersQuery) (domain.CursorPage[services.Order], error) {
			captured = q
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder("ord-2", domain.OrderStatusShipped)},
				NextPageToken: "next",
			}, nil
		},
	}
	handler := mountRoutes(NewOrderHandlers(orders, nil).Routes)

	rr, env := serve(t, handler, &shopper, http.MethodGet, "/?pageSize=5&status=shipped", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 5, captured.Pagination.PageSize)
	assert.Equal(t, []domain.OrderStatus{domain.OrderStatusShipped}, captured.Statuses)
	assert.False(t, captured.AllUsers)

	list := decodeData[listPayload[orderPayload]](t, env)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "next", list.NextPageToken)
}

func TestOrderHandlersListOrdersRejectsBadInput(t *testing.T) {
	handler := mountRoutes(NewOrderHandlers(&stubOrderService{}, nil).Routes)
	for _, target := range []string{"/?pageSize=abc", "/?status=LOST", "/?pageToken=not-a-token"} {
		rr, env := serve(t, handler, &shopper, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
		assert.Equal(t, "invalid_request", env.Error, target)
	}
}

func TestOrderHandlersGetOrderHidesForeignOrders(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, p services.Principal, id string) (services.Order, error) {
			if id == "ord-mine" && p.ID == "user-1" {
				return sampleOrder(id, domain.OrderStatusConfirmed), nil
			}
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	handler := mountRoutes(NewOrderHandlers(orders, nil).Routes)

	rr, env := serve(t, handler, &shopper, http.MethodGet, "/ord-mine", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ord-mine", decodeData[orderPayload](t, env).ID)

	rr, env = serve(t, handler, &shopper, http.MethodGet, "/ord-other", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, string(services.KindNotFound), env.ErrorKind)
}

func TestOrderHandlersCreateReturn(t *testing.T) {
	var captured services.CreateReturnRequestCommand
	returns := &stubReturnService{
		createFn: func(_ context.Context, cmd services.CreateReturnRequestCommand) (services.ReturnRequest, error) {
			captured = cmd
			return services.ReturnRequest{ID: "ret-1", OrderID: cmd.OrderID, Type: cmd.Type, Status: domain.ReturnStatusPending, Reason: cmd.Reason}, nil
		},
	}
	handler := mountRoutes(NewOrderHandlers(&stubOrderService{}, returns).Routes)

	body := map[string]any{
		"type":   "return",
		"reason": "damaged",
		"items":  []map[string]any{{"order_item_id": "item-1", "quantity": 1, "reason": " cracked "}},
	}
	rr, env := serve(t, handler, &shopper, http.MethodPost, "/ord-1/returns", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, domain.ReturnTypeReturn, captured.Type)
	assert.Equal(t, "ord-1", captured.OrderID)
	require.Len(t, captured.Items, 1)
	assert.Equal(t, "cracked", captured.Items[0].Reason)
	assert.Equal(t, "PENDING", decodeData[returnPayload](t, env).Status)
}

func TestOrderHandlersCreateReturnValidatesType(t *testing.T) {
	handler := mountRoutes(NewOrderHandlers(&stubOrderService{}, &stubReturnService{}).Routes)
	rr, env := serve(t, handler, &shopper, http.MethodPost, "/ord-1/returns", map[string]any{"type": "EXCHANGE", "reason": "x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.True(t, strings.Contains(env.Message, "RETURN or CANCELLATION"))
}

func TestOrderHandlersCreateReturnConflict(t *testing.T) {
	returns := &stubReturnService{
		createFn: func(context.Context, services.CreateReturnRequestCommand) (services.ReturnRequest, error) {
			return services.ReturnRequest{}, services.ErrReturnConflict
		},
	}
	router := chi.NewRouter()
	NewOrderHandlers(&stubOrderService{}, returns).Routes(router)
	rr, env := serve(t, router, &shopper, http.MethodPost, "/ord-1/returns", map[string]any{"type": "CANCELLATION", "reason": "changed mind"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, string(services.KindConflict), env.ErrorKind)
}

func TestReturnHandlersListAndGet(t *testing.T) {
	returns := &stubReturnService{
		mineFn: func(_ context.Context, p services.Principal, page services.Pagination) (domain.CursorPage[services.ReturnRequest], error) {
			assert.Equal(t, "user-1", p.ID)
			assert.Equal(t, 20, page.PageSize)
			return domain.CursorPage[services.ReturnRequest]{Items: []services.ReturnRequest{{ID: "ret-1"}}}, nil
		},
		getFn: func(_ context.Context, _ services.Principal, id string) (services.ReturnRequest, error) {
			if id != "ret-1" {
				return services.ReturnRequest{}, services.ErrReturnNotFound
			}
			return services.ReturnRequest{ID: id, Type: domain.ReturnTypeCancellation}, nil
		},
	}
	handler := mountRoutes(NewReturnHandlers(returns).Routes)

	rr, env := serve(t, handler, &shopper, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeData[listPayload[returnPayload]](t, env).Items, 1)

	rr, env = serve(t, handler, &shopper, http.MethodGet, "/ret-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "CANCELLATION", decodeData[returnPayload](t, env).Type)

	rr, _ = serve(t, handler, &shopper, http.MethodGet, "/ret-2", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = serve(t, handler, &guest, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
