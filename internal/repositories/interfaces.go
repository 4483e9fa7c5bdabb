package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Carts() CartRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Returns() ReturnRequestRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories invoked
// with the context passed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository is the read port over the external product catalog plus the conditional
// stock counters the lifecycle core is allowed to move.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
	FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// DecrementStock subtracts qty only when stock >= qty; otherwise it returns a *StockError.
	DecrementStock(ctx context.Context, productID string, qty int) error
	IncrementStock(ctx context.Context, productID string, qty int) error
	UpdateProduct(ctx context.Context, product domain.Product) error
}

// CartRepository persists cart lines keyed by owner.
type CartRepository interface {
	ListLines(ctx context.Context, owner domain.OwnerKey) ([]domain.CartLine, error)
	FindLine(ctx context.Context, owner domain.OwnerKey, lineID string) (domain.CartLine, error)
	FindLineByProduct(ctx context.Context, owner domain.OwnerKey, productID string) (domain.CartLine, error)
	InsertLine(ctx context.Context, line domain.CartLine) error
	UpdateQuantity(ctx context.Context, owner domain.OwnerKey, lineID string, quantity int, updatedAt time.Time) error
	Reassign(ctx context.Context, lineID string, from, to domain.OwnerKey, updatedAt time.Time) error
	DeleteLine(ctx context.Context, owner domain.OwnerKey, lineID string) error
	DeleteAll(ctx context.Context, owner domain.OwnerKey) (int, error)
}

// CouponRepository persists coupons and their usage counters.
type CouponRepository interface {
	// FindByCode looks up a coupon by its folded code.
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	FindByID(ctx context.Context, couponID string) (domain.Coupon, error)
	Insert(ctx context.Context, coupon domain.Coupon) error
	// IncrementUsage adds one use only while used_count < usage_limit (or no limit is set);
	// otherwise it returns a *CouponUsageError.
	IncrementUsage(ctx context.Context, couponID string) error
	// DecrementUsage removes one use, never going below zero. It reports whether a decrement happened.
	DecrementUsage(ctx context.Context, couponID string) (bool, error)
	// CountUserRedemptions counts non-cancelled orders of the user that redeemed the coupon.
	CountUserRedemptions(ctx context.Context, couponID, userID string) (int, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     string
	Statuses   []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderRepository persists orders together with their immutable item snapshots.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// UpdateStatus applies a status change only when the stored status equals expected.
	UpdateStatus(ctx context.Context, update OrderStatusUpdate) error
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderStatusUpdate carries a guarded status change plus the fields that accompany it.
type OrderStatusUpdate struct {
	OrderID        string
	Expected       domain.OrderStatus
	Status         domain.OrderStatus
	TrackingNumber *string
	CancelledBy    *domain.Initiator
	At             time.Time
}

// ReturnRequestFilter narrows return request listings.
type ReturnRequestFilter struct {
	UserID     string
	OrderID    string
	Types      []domain.ReturnRequestType
	Statuses   []domain.ReturnStatus
	Pagination domain.Pagination
}

// ReturnRequestRepository persists return and cancellation requests.
type ReturnRequestRepository interface {
	Insert(ctx context.Context, request domain.ReturnRequest) error
	FindByID(ctx context.Context, requestID string) (domain.ReturnRequest, error)
	HasPendingCancellation(ctx context.Context, orderID string) (bool, error)
	// UpdateStatus applies the change only when the stored status equals expected.
	UpdateStatus(ctx context.Context, update ReturnStatusUpdate) error
	List(ctx context.Context, filter ReturnRequestFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

// ReturnStatusUpdate carries a guarded return request status change.
type ReturnStatusUpdate struct {
	RequestID    string
	Expected     domain.ReturnStatus
	Status       domain.ReturnStatus
	AdminNote    *string
	RefundAmount *int64
	ProcessedAt  *time.Time
	At           time.Time
}

// AuditLogRepository appends audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	ListByTarget(ctx context.Context, targetRef string) ([]domain.AuditLogEntry, error)
}

// HealthRepository performs dependency health checks for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
