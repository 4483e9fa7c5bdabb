package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/services"
)

var errNotStubbed = errors.New("not implemented")

type stubCartService struct {
	getFn    func(context.Context, services.Principal) (services.CartView, error)
	addFn    func(context.Context, services.AddCartLineCommand) (services.CartLine, error)
	updateFn func(context.Context, services.UpdateCartLineCommand) (services.CartLineUpdate, error)
	removeFn func(context.Context, services.Principal, string) error
	clearFn  func(context.Context, services.Principal) error
	mergeFn  func(context.Context, services.MergeCartCommand) (services.MergeCartResult, error)
}

func (s *stubCartService) GetLines(ctx context.Context, p services.Principal) (services.CartView, error) {
	if s.getFn != nil {
		return s.getFn(ctx, p)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) AddLine(ctx context.Context, cmd services.AddCartLineCommand) (services.CartLine, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.CartLine{}, errNotStubbed
}

func (s *stubCartService) UpdateLineQuantity(ctx context.Context, cmd services.UpdateCartLineCommand) (services.CartLineUpdate, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.CartLineUpdate{}, errNotStubbed
}

func (s *stubCartService) RemoveLine(ctx context.Context, p services.Principal, lineID string) error {
	if s.removeFn != nil {
		return s.removeFn(ctx, p, lineID)
	}
	return errNotStubbed
}

func (s *stubCartService) Clear(ctx context.Context, p services.Principal) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, p)
	}
	return errNotStubbed
}

func (s *stubCartService) MergeOnLogin(ctx context.Context, cmd services.MergeCartCommand) (services.MergeCartResult, error) {
	if s.mergeFn != nil {
		return s.mergeFn(ctx, cmd)
	}
	return services.MergeCartResult{}, errNotStubbed
}

type stubCouponService struct {
	validateFn func(context.Context, services.ValidateCouponCommand) (services.CouponValidation, error)
}

func (s *stubCouponService) Validate(ctx context.Context, cmd services.ValidateCouponCommand) (services.CouponValidation, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, cmd)
	}
	return services.CouponValidation{}, errNotStubbed
}

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn        func(context.Context, services.Principal, string) (services.Order, error)
	listFn       func(context.Context, services.ListOrdersQuery) (domain.CursorPage[services.Order], error)
	transitionFn func(context.Context, services.OrderTransitionCommand) (services.Order, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) CreateFromCart(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, p services.Principal, id string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, p, id)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListOrders(ctx context.Context, q services.ListOrdersQuery) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, q)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

type stubReturnService struct {
	createFn func(context.Context, services.CreateReturnRequestCommand) (services.ReturnRequest, error)
	getFn    func(context.Context, services.Principal, string) (services.ReturnRequest, error)
	mineFn   func(context.Context, services.Principal, services.Pagination) (domain.CursorPage[services.ReturnRequest], error)
	listFn   func(context.Context, services.ReturnRequestListFilter) (domain.CursorPage[services.ReturnRequest], error)
	updateFn func(context.Context, services.UpdateReturnStatusCommand) (services.ReturnRequest, error)
}

func (s *stubReturnService) CreateRequest(ctx context.Context, cmd services.CreateReturnRequestCommand) (services.ReturnRequest, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.ReturnRequest{}, errNotStubbed
}

func (s *stubReturnService) GetRequest(ctx context.Context, p services.Principal, id string) (services.ReturnRequest, error) {
	if s.getFn != nil {
		return s.getFn(ctx, p, id)
	}
	return services.ReturnRequest{}, errNotStubbed
}

func (s *stubReturnService) ListForUser(ctx context.Context, p services.Principal, page services.Pagination) (domain.CursorPage[services.ReturnRequest], error) {
	if s.mineFn != nil {
		return s.mineFn(ctx, p, page)
	}
	return domain.CursorPage[services.ReturnRequest]{}, nil
}

func (s *stubReturnService) ListReturnRequests(ctx context.Context, f services.ReturnRequestListFilter) (domain.CursorPage[services.ReturnRequest], error) {
	if s.listFn != nil {
		return s.listFn(ctx, f)
	}
	return domain.CursorPage[services.ReturnRequest]{}, nil
}

func (s *stubReturnService) UpdateStatus(ctx context.Context, cmd services.UpdateReturnStatusCommand) (services.ReturnRequest, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.ReturnRequest{}, errNotStubbed
}

type stubSystemService struct {
	healthFn func(context.Context) (services.SystemHealthReport, error)
	auditFn  func(context.Context, string) ([]services.AuditLogEntry, error)
}

func (s *stubSystemService) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	if s.healthFn != nil {
		return s.healthFn(ctx)
	}
	return services.SystemHealthReport{}, errNotStubbed
}

func (s *stubSystemService) AuditTrail(ctx context.Context, target string) ([]services.AuditLogEntry, error) {
	if s.auditFn != nil {
		return s.auditFn(ctx, target)
	}
	return nil, nil
}

var (
	shopper = domain.AccountPrincipal("user-1", domain.RoleUser)
	guest   = domain.SessionPrincipal("sess_guest")
	staff   = domain.AccountPrincipal("staff-1", domain.RoleStaff)
)

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorKind string          `json:"errorKind"`
	Message   string          `json:"message"`
}

func mountRoutes(routes func(chi.Router)) http.Handler {
	router := chi.NewRouter()
	routes(router)
	return router
}

// serve runs one request through handler with principal injected when non-nil.
func serve(t *testing.T, handler http.Handler, principal *domain.Principal, method, target string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if principal != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *principal))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var env envelope
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data %s: %v", string(env.Data), err)
	}
	return out
}

func newJSONRequest(t *testing.T, method, target, body string, principal *domain.Principal) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if principal != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *principal))
	}
	return req
}

func record(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
