package services

import (
	"context"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Principal          = domain.Principal
	OwnerKey           = domain.OwnerKey
	Product            = domain.Product
	CartLine           = domain.CartLine
	CartLineView       = domain.CartLineView
	Coupon             = domain.Coupon
	CouponValidation   = domain.CouponValidation
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	Initiator          = domain.Initiator
	ReturnRequest      = domain.ReturnRequest
	ReturnItem         = domain.ReturnItem
	ReturnStatus       = domain.ReturnStatus
	ReturnRequestType  = domain.ReturnRequestType
	AuditLogEntry      = domain.AuditLogEntry
	SystemHealthReport = domain.SystemHealthReport
)

// CartService owns cart lines keyed by account or guest session.
type CartService interface {
	GetLines(ctx context.Context, principal Principal) (CartView, error)
	AddLine(ctx context.Context, cmd AddCartLineCommand) (CartLine, error)
	// UpdateLineQuantity removes the line when the quantity is below one.
	UpdateLineQuantity(ctx context.Context, cmd UpdateCartLineCommand) (CartLineUpdate, error)
	RemoveLine(ctx context.Context, principal Principal, lineID string) error
	Clear(ctx context.Context, principal Principal) error
	MergeOnLogin(ctx context.Context, cmd MergeCartCommand) (MergeCartResult, error)
}

// CouponService validates coupon codes without consuming usage.
type CouponService interface {
	Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error)
}

// OrderService creates orders from carts and owns the order state machine.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, principal Principal, orderID string) (Order, error)
	ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// ReturnService owns return and cancellation requests.
type ReturnService interface {
	CreateRequest(ctx context.Context, cmd CreateReturnRequestCommand) (ReturnRequest, error)
	GetRequest(ctx context.Context, principal Principal, requestID string) (ReturnRequest, error)
	ListForUser(ctx context.Context, principal Principal, page Pagination) (domain.CursorPage[ReturnRequest], error)
	ListReturnRequests(ctx context.Context, filter ReturnRequestListFilter) (domain.CursorPage[ReturnRequest], error)
	UpdateStatus(ctx context.Context, cmd UpdateReturnStatusCommand) (ReturnRequest, error)
}

// AuditLogService appends audit entries. Record runs inside the caller's transaction.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord) error
	ListByTarget(ctx context.Context, targetRef string) ([]AuditLogEntry, error)
}

// Notifier is the outbound notification port. Implementations must not block on delivery;
// returned errors are logged by the caller and never fail the originating operation.
type Notifier interface {
	NotifyOrderCreated(ctx context.Context, order Order) error
	NotifyOrderStatusChanged(ctx context.Context, order Order, previous OrderStatus) error
	NotifyReturnStatusChanged(ctx context.Context, request ReturnRequest, previous ReturnStatus) error
}

// OrderMetrics records lifecycle counters.
type OrderMetrics interface {
	RecordCheckout(ctx context.Context, outcome string)
	RecordCancellation(ctx context.Context, initiatedBy Initiator)
}

// CartView is the display form of a cart joined with live catalog data.
type CartView struct {
	Lines     []CartLineView
	Subtotal  int64
	Currency  string
	ItemCount int
}

// AddCartLineCommand adds quantity of a product to the principal's cart.
type AddCartLineCommand struct {
	Principal Principal
	ProductID string
	Quantity  int
}

// UpdateCartLineCommand sets a line's quantity.
type UpdateCartLineCommand struct {
	Principal Principal
	LineID    string
	Quantity  int
}

// CartLineUpdate reports the line after an update, or that it was removed.
type CartLineUpdate struct {
	Line    CartLine
	Removed bool
}

// MergeCartCommand folds a guest session cart into an account cart at login.
type MergeCartCommand struct {
	SessionToken string
	AccountID    string
}

// MergeCartResult summarises a merge.
type MergeCartResult struct {
	Moved     int
	Merged    int
	Truncated int
}

// ValidateCouponCommand checks a code against a subtotal for a principal.
type ValidateCouponCommand struct {
	Code     string
	UserID   string
	Subtotal int64
}

// CreateOrderCommand checks out the principal's cart.
type CreateOrderCommand struct {
	Principal  Principal
	AddressID  string
	CouponCode string
}

// ListOrdersQuery lists orders. AllUsers requires an operator principal.
type ListOrdersQuery struct {
	Principal  Principal
	AllUsers   bool
	Statuses   []OrderStatus
	Pagination Pagination
}

// OrderTransitionCommand moves an order forward along the admin-driven path.
type OrderTransitionCommand struct {
	OrderID        string
	Target         OrderStatus
	TrackingNumber *string
	ActorID        string
}

// CancelOrderCommand cancels a PENDING or CONFIRMED order with compensating effects.
type CancelOrderCommand struct {
	OrderID       string
	InitiatedBy   Initiator
	SkipReturnLog bool
	ActorID       string
	Reason        string
}

// ReturnItemInput references an order line in a RETURN request.
type ReturnItemInput struct {
	OrderItemID string
	Quantity    int
	Reason      string
}

// CreateReturnRequestCommand opens a RETURN or CANCELLATION request.
type CreateReturnRequestCommand struct {
	Principal Principal
	OrderID   string
	Type      ReturnRequestType
	Reason    string
	Items     []ReturnItemInput
}

// ReturnRequestListFilter narrows the admin listing.
type ReturnRequestListFilter struct {
	OrderID    string
	UserID     string
	Types      []ReturnRequestType
	Statuses   []ReturnStatus
	Pagination Pagination
}

// UpdateReturnStatusCommand is an admin decision on a request.
type UpdateReturnStatusCommand struct {
	RequestID    string
	Status       ReturnStatus
	AdminNote    *string
	RefundAmount *int64
	ActorID      string
}

// AuditLogRecord is the input to AuditLogService.Record.
type AuditLogRecord struct {
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	RequestID string
}
