package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role constants carried on account principals.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// PrincipalKind distinguishes authenticated accounts from anonymous sessions.
type PrincipalKind string

const (
	// PrincipalAccount is an authenticated account identified by its account id.
	PrincipalAccount PrincipalKind = "account"
	// PrincipalSession is an anonymous visitor identified by a signed session token.
	PrincipalSession PrincipalKind = "session"
)

// Principal is the resolved actor of a request. Exactly one of the two kinds applies.
type Principal struct {
	Kind  PrincipalKind
	ID    string
	Roles []string
}

// AccountPrincipal builds an account principal.
func AccountPrincipal(accountID string, roles ...string) Principal {
	return Principal{Kind: PrincipalAccount, ID: strings.TrimSpace(accountID), Roles: roles}
}

// SessionPrincipal builds an anonymous session principal.
func SessionPrincipal(token string) Principal {
	return Principal{Kind: PrincipalSession, ID: strings.TrimSpace(token)}
}

// Valid reports whether the principal has a known kind and a non-empty id.
func (p Principal) Valid() bool {
	if p.ID == "" {
		return false
	}
	return p.Kind == PrincipalAccount || p.Kind == PrincipalSession
}

// IsAccount reports whether the principal is an authenticated account.
func (p Principal) IsAccount() bool { return p.Kind == PrincipalAccount && p.ID != "" }

// IsSession reports whether the principal is an anonymous session.
func (p Principal) IsSession() bool { return p.Kind == PrincipalSession && p.ID != "" }

// HasRole reports whether an account principal carries the role (case-insensitive).
func (p Principal) HasRole(role string) bool {
	if !p.IsAccount() {
		return false
	}
	for _, r := range p.Roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

// IsOperator reports whether the principal may run admin-side transitions.
func (p Principal) IsOperator() bool {
	return p.HasRole(RoleAdmin) || p.HasRole(RoleStaff)
}

// OwnerKey returns the cart ownership key for the principal.
func (p Principal) OwnerKey() OwnerKey {
	switch p.Kind {
	case PrincipalAccount:
		return AccountOwner(p.ID)
	case PrincipalSession:
		return SessionOwner(p.ID)
	default:
		return ""
	}
}

// OwnerKey is the persisted form of a cart owner: "account:<id>" or "session:<token>".
type OwnerKey string

const (
	accountOwnerPrefix = "account:"
	sessionOwnerPrefix = "session:"
)

// AccountOwner builds the owner key of an account.
func AccountOwner(accountID string) OwnerKey {
	return OwnerKey(accountOwnerPrefix + strings.TrimSpace(accountID))
}

// SessionOwner builds the owner key of an anonymous session.
func SessionOwner(token string) OwnerKey {
	return OwnerKey(sessionOwnerPrefix + strings.TrimSpace(token))
}

// Kind returns the principal kind encoded in the key.
func (k OwnerKey) Kind() PrincipalKind {
	switch {
	case strings.HasPrefix(string(k), accountOwnerPrefix):
		return PrincipalAccount
	case strings.HasPrefix(string(k), sessionOwnerPrefix):
		return PrincipalSession
	default:
		return ""
	}
}

// ID returns the account id or session token encoded in the key.
func (k OwnerKey) ID() string {
	s := string(k)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Product is the catalog view the lifecycle core reads. Stock is authoritative in the catalog.
type Product struct {
	ID        string
	Name      string
	Price     int64
	Currency  string
	Stock     int
	Images    []string
	UpdatedAt time.Time
}

// CartLine is one product+quantity entry owned by an account or a session.
type CartLine struct {
	ID        string
	Owner     OwnerKey
	ProductID string
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartLineView joins a cart line with live catalog data for display.
type CartLineView struct {
	CartLine
	ProductName string
	UnitPrice   int64
	Currency    string
	Stock       int
	Image       string
	Available   bool
}

// DiscountType enumerates how a coupon computes its raw discount.
type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

// Coupon is a redeemable discount code. Monetary fields are minor currency units;
// a PERCENTAGE DiscountValue is a whole percent.
type Coupon struct {
	ID                string
	Code              string
	DiscountType      DiscountType
	DiscountValue     int64
	MinPurchaseAmount *int64
	MaxDiscountAmount *int64
	UsageLimit        *int
	PerUserLimit      *int
	UsedCount         int
	IsActive          bool
	ValidFrom         time.Time
	ValidUntil        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CouponValidation is the outcome of a successful coupon validation.
type CouponValidation struct {
	CouponID       string
	Code           string
	Subtotal       int64
	DiscountAmount int64
}

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no transition leaves the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Initiator records who triggered an order cancellation.
type Initiator string

const (
	InitiatedByUser   Initiator = "USER"
	InitiatedByAdmin  Initiator = "ADMIN"
	InitiatedBySystem Initiator = "SYSTEM"
)

// Order is an immutable snapshot of a checked-out cart plus its mutable status.
type Order struct {
	ID             string
	UserID         string
	Status         OrderStatus
	Items          []OrderItem
	Currency       string
	Subtotal       int64
	Discount       int64
	Total          int64
	CouponID       *string
	CouponCode     *string
	AddressID      string
	TrackingNumber *string
	CancelledBy    *Initiator
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ConfirmedAt    *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
}

// OrderItem freezes price and name at order creation.
type OrderItem struct {
	ID            string
	ProductID     string
	Quantity      int
	PriceSnapshot int64
	NameSnapshot  string
}

// LineTotal returns price * quantity for the item.
func (i OrderItem) LineTotal() int64 {
	return i.PriceSnapshot * int64(i.Quantity)
}

// ReturnRequestType distinguishes the two return workflows.
type ReturnRequestType string

const (
	ReturnTypeReturn       ReturnRequestType = "RETURN"
	ReturnTypeCancellation ReturnRequestType = "CANCELLATION"
)

// ReturnStatus enumerates return request states.
type ReturnStatus string

const (
	ReturnStatusPending    ReturnStatus = "PENDING"
	ReturnStatusApproved   ReturnStatus = "APPROVED"
	ReturnStatusRejected   ReturnStatus = "REJECTED"
	ReturnStatusProcessing ReturnStatus = "PROCESSING"
	ReturnStatusCompleted  ReturnStatus = "COMPLETED"
)

// Terminal reports whether the request accepts no further admin action.
func (s ReturnStatus) Terminal() bool {
	return s == ReturnStatusCompleted || s == ReturnStatusRejected
}

// ReturnRequest is a user-opened return or cancellation request on an order.
type ReturnRequest struct {
	ID           string
	OrderID      string
	UserID       string
	Type         ReturnRequestType
	Reason       string
	Status       ReturnStatus
	AdminNote    *string
	RefundAmount *int64
	Items        []ReturnItem
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ProcessedAt  *time.Time
}

// ReturnItem references a line of the target order.
type ReturnItem struct {
	OrderItemID string
	Quantity    int
	Reason      *string
}

// AuditLogEntry records a state change for operators.
type AuditLogEntry struct {
	ID         string
	Actor      string
	ActorType  string
	Action     string
	TargetRef  string
	Metadata   map[string]any
	RequestID  string
	OccurredAt time.Time
}

// Health status values reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck is the outcome of one dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for readiness endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
