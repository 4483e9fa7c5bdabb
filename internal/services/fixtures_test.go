package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories/memory"
)

var fixtureNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	mu            sync.Mutex
	created       []Order
	orderChanges  []OrderStatus
	returnChanges []ReturnStatus
	err           error
}

func (n *recordingNotifier) NotifyOrderCreated(_ context.Context, order Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, order)
	return n.err
}

func (n *recordingNotifier) NotifyOrderStatusChanged(_ context.Context, order Order, _ OrderStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orderChanges = append(n.orderChanges, order.Status)
	return n.err
}

func (n *recordingNotifier) NotifyReturnStatusChanged(_ context.Context, request ReturnRequest, _ ReturnStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.returnChanges = append(n.returnChanges, request.Status)
	return n.err
}

type recordedEvent struct {
	name   string
	fields map[string]any
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *eventLog) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{name: event, fields: fields})
}

func (l *eventLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.name == name {
			n++
		}
	}
	return n
}

type lifecycleFixture struct {
	reg      *memory.Registry
	carts    CartService
	coupons  CouponService
	orders   OrderService
	returns  ReturnService
	audit    AuditLogService
	notifier *recordingNotifier
	events   *eventLog
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	reg := memory.NewRegistry()
	notifier := &recordingNotifier{}
	events := &eventLog{}
	clock := func() time.Time { return fixtureNow }
	var seq atomic.Int64
	ids := func() string { return fmt.Sprintf("%06d", seq.Add(1)) }

	audit, err := NewAuditLogService(AuditLogServiceDeps{Repository: reg.AuditLogs(), Clock: clock, IDGenerator: ids})
	if err != nil {
		t.Fatalf("audit service: %v", err)
	}
	carts, err := NewCartService(CartServiceDeps{
		Carts: reg.Carts(), Catalog: reg.Catalog(), UnitOfWork: reg, Clock: clock, IDGenerator: ids, Logger: events.log,
	})
	if err != nil {
		t.Fatalf("cart service: %v", err)
	}
	coupons, err := NewCouponService(CouponServiceDeps{Coupons: reg.Coupons(), Clock: clock})
	if err != nil {
		t.Fatalf("coupon service: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders: reg.Orders(), Carts: reg.Carts(), Catalog: reg.Catalog(), Coupons: reg.Coupons(),
		CouponEngine: coupons, Audit: audit, UnitOfWork: reg, Notifier: notifier,
		Clock: clock, IDGenerator: ids, Logger: events.log,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	returns, err := NewReturnService(ReturnServiceDeps{
		Returns: reg.Returns(), Orders: reg.Orders(), OrderEngine: orders, Audit: audit,
		UnitOfWork: reg, Notifier: notifier, Clock: clock, IDGenerator: ids, Logger: events.log,
	})
	if err != nil {
		t.Fatalf("return service: %v", err)
	}
	return &lifecycleFixture{
		reg: reg, carts: carts, coupons: coupons, orders: orders, returns: returns,
		audit: audit, notifier: notifier, events: events,
	}
}

func (f *lifecycleFixture) stock(t *testing.T, productID string) int {
	t.Helper()
	product, err := f.reg.Catalog().FindProduct(context.Background(), productID)
	if err != nil {
		t.Fatalf("find product %s: %v", productID, err)
	}
	return product.Stock
}

func (f *lifecycleFixture) usedCount(t *testing.T, couponID string) int {
	t.Helper()
	coupon, err := f.reg.Coupons().FindByID(context.Background(), couponID)
	if err != nil {
		t.Fatalf("find coupon %s: %v", couponID, err)
	}
	return coupon.UsedCount
}

// checkout fills the account's cart and places an order.
func (f *lifecycleFixture) checkout(t *testing.T, accountID string, lines map[string]int, couponCode string) Order {
	t.Helper()
	ctx := context.Background()
	principal := domain.AccountPrincipal(accountID)
	for productID, qty := range lines {
		if _, err := f.carts.AddLine(ctx, AddCartLineCommand{Principal: principal, ProductID: productID, Quantity: qty}); err != nil {
			t.Fatalf("add line %s: %v", productID, err)
		}
	}
	order, err := f.orders.CreateFromCart(ctx, CreateOrderCommand{Principal: principal, AddressID: "addr_1", CouponCode: couponCode})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return order
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func seedCatalog(reg *memory.Registry) {
	reg.SeedProducts(
		domain.Product{ID: "prd_mug", Name: "Mug", Price: 1200, Currency: "JPY", Stock: 10, Images: []string{"mug.png"}},
		domain.Product{ID: "prd_tee", Name: "T-Shirt", Price: 3000, Currency: "JPY", Stock: 3},
		domain.Product{ID: "prd_cap", Name: "Cap", Price: 2500, Currency: "JPY", Stock: 1},
	)
}
