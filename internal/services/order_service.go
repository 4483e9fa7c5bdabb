package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "oi_"

	auditActionOrderCancelled     = "order.cancelled"
	auditActionOrderStatusChanged = "order.status.changed"

	checkoutOutcomeSuccess = "success"
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:   {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:   {domain.OrderStatusDelivered},
}

var cancellableStatuses = []OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Carts           repositories.CartRepository
	Catalog         repositories.CatalogRepository
	Coupons         repositories.CouponRepository
	CouponEngine    CouponService
	Audit           AuditLogService
	UnitOfWork      repositories.UnitOfWork
	Notifier        Notifier
	Metrics         OrderMetrics
	Clock           func() time.Time
	IDGenerator     func() string
	DefaultCurrency string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	catalog    repositories.CatalogRepository
	coupons    repositories.CouponRepository
	couponSvc  CouponService
	audit      AuditLogService
	unitOfWork repositories.UnitOfWork
	notifier   Notifier
	metrics    OrderMetrics
	clock      func() time.Time
	newID      func() string
	currency   string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrency
	}

	couponSvc := deps.CouponEngine
	if couponSvc == nil {
		svc, err := NewCouponService(CouponServiceDeps{Coupons: deps.Coupons, Clock: clock, Logger: logger})
		if err != nil {
			return nil, err
		}
		couponSvc = svc
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		catalog:    deps.Catalog,
		coupons:    deps.Coupons,
		couponSvc:  couponSvc,
		audit:      deps.Audit,
		unitOfWork: unit,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		clock: func() time.Time {
			return clock().UTC().Truncate(time.Microsecond)
		},
		newID:    idGen,
		currency: currency,
		logger:   logger,
	}, nil
}

func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	defer func() {
		s.recordCheckout(ctx, err)
	}()

	if !cmd.Principal.IsAccount() {
		return Order{}, fmt.Errorf("%w: sign in to check out", ErrOrderUnauthorized)
	}
	addressID := strings.TrimSpace(cmd.AddressID)
	if addressID == "" {
		return Order{}, fmt.Errorf("%w: address id is required", ErrOrderInvalidInput)
	}
	userID := cmd.Principal.ID
	owner := cmd.Principal.OwnerKey()

	lines, err := s.carts.ListLines(ctx, owner)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if len(lines) == 0 {
		return Order{}, ErrOrderEmptyCart
	}

	products, err := s.catalog.FindProducts(ctx, lineProductIDs(lines))
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	items, subtotal, currency, err := s.buildItems(lines, products)
	if err != nil {
		return Order{}, err
	}

	var validation *CouponValidation
	if code := strings.TrimSpace(cmd.CouponCode); code != "" {
		result, err := s.couponSvc.Validate(ctx, ValidateCouponCommand{Code: code, UserID: userID, Subtotal: subtotal})
		if err != nil {
			return Order{}, err
		}
		validation = &result
	}

	now := s.now()
	order = Order{
		ID:        s.nextOrderID(),
		UserID:    userID,
		Status:    domain.OrderStatusPending,
		Items:     items,
		Currency:  currency,
		Subtotal:  subtotal,
		Total:     subtotal,
		AddressID: addressID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if validation != nil {
		order.Discount = validation.DiscountAmount
		order.Total = subtotal - validation.DiscountAmount
		order.CouponID = valuePtr(validation.CouponID)
		order.CouponCode = valuePtr(validation.Code)
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.decrementStock(txCtx, order.Items); err != nil {
			return err
		}
		if validation != nil {
			if err := s.consumeCoupon(txCtx, validation.CouponID, userID); err != nil {
				return err
			}
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return s.clearOrderedLines(txCtx, owner, lines)
	})
	if err != nil {
		return Order{}, err
	}

	s.notify(ctx, order.ID, func(ctx context.Context) error {
		return s.notifier.NotifyOrderCreated(ctx, order)
	})
	return order, nil
}

// clearOrderedLines removes only the lines that were priced into the order, so a line added
// from another session mid-checkout stays in the cart.
func (s *orderService) clearOrderedLines(ctx context.Context, owner domain.OwnerKey, lines []CartLine) error {
	for _, line := range lines {
		if err := s.carts.DeleteLine(ctx, owner, line.ID); err != nil && !isRepoNotFound(err) {
			return s.mapRepositoryError(err)
		}
	}
	return nil
}

// buildItems snapshots price and name for every line and runs the advisory stock pre-check.
func (s *orderService) buildItems(lines []CartLine, products map[string]Product) ([]OrderItem, int64, string, error) {
	items := make([]OrderItem, 0, len(lines))
	shortage := &repositories.StockShortage{}
	currency := ""
	var subtotal int64
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			shortage.Items = append(shortage.Items, repositories.NewStockError(line.ProductID, line.Quantity, -1))
			continue
		}
		if product.Stock < line.Quantity {
			shortage.Items = append(shortage.Items, repositories.NewStockError(line.ProductID, line.Quantity, product.Stock))
			continue
		}
		productCurrency := strings.ToUpper(strings.TrimSpace(product.Currency))
		if productCurrency != "" {
			if currency != "" && currency != productCurrency {
				return nil, 0, "", fmt.Errorf("%w: cart mixes currencies %s and %s", ErrOrderInvalidInput, currency, productCurrency)
			}
			currency = productCurrency
		}
		item := OrderItem{
			ID:            orderItemIDPrefix + s.newID(),
			ProductID:     product.ID,
			Quantity:      line.Quantity,
			PriceSnapshot: product.Price,
			NameSnapshot:  product.Name,
		}
		subtotal += item.LineTotal()
		items = append(items, item)
	}
	if len(shortage.Items) > 0 {
		return nil, 0, "", fmt.Errorf("%w: %w", ErrOrderInsufficientStock, shortage)
	}
	if currency == "" {
		currency = s.currency
	}
	return items, subtotal, currency, nil
}

// decrementStock applies conditional decrements in product order so concurrent checkouts lock
// rows in the same sequence.
func (s *orderService) decrementStock(ctx context.Context, items []OrderItem) error {
	for _, item := range sortedByProduct(items) {
		if err := s.catalog.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			var stockErr *repositories.StockError
			if errors.As(err, &stockErr) {
				return fmt.Errorf("%w: %w", ErrOrderInsufficientStock, &repositories.StockShortage{Items: []*repositories.StockError{stockErr}})
			}
			if isRepoNotFound(err) {
				shortage := &repositories.StockShortage{Items: []*repositories.StockError{
					repositories.NewStockError(item.ProductID, item.Quantity, -1),
				}}
				return fmt.Errorf("%w: %w", ErrOrderInsufficientStock, shortage)
			}
			return s.mapRepositoryError(err)
		}
	}
	return nil
}

// consumeCoupon applies the guarded usage increment and then re-checks the per-user limit.
// The increment holds the coupon row lock, so the count sees any competing checkout by the same
// user that committed first; a failed check rolls the increment back with the transaction.
func (s *orderService) consumeCoupon(ctx context.Context, couponID, userID string) error {
	coupon, err := s.coupons.FindByID(ctx, couponID)
	if err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		}
		return s.mapRepositoryError(err)
	}
	if err := s.coupons.IncrementUsage(ctx, couponID); err != nil {
		var usageErr *repositories.CouponUsageError
		if errors.As(err, &usageErr) {
			return fmt.Errorf("%w: %v", ErrCouponUsageLimitReached, usageErr)
		}
		return s.mapRepositoryError(err)
	}
	if coupon.PerUserLimit != nil {
		used, err := s.coupons.CountUserRedemptions(ctx, couponID, userID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if used >= *coupon.PerUserLimit {
			return fmt.Errorf("%w: per-user limit of %d reached", ErrCouponUsageLimitReached, *coupon.PerUserLimit)
		}
	}
	return nil
}

func (s *orderService) GetOrder(ctx context.Context, principal Principal, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !principal.IsAccount() {
		return Order{}, ErrOrderNotFound
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !principal.IsOperator() && order.UserID != principal.ID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error) {
	if !query.Principal.IsAccount() {
		return domain.CursorPage[Order]{}, ErrOrderUnauthorized
	}
	filter := repositories.OrderListFilter{
		UserID:     query.Principal.ID,
		Pagination: query.Pagination,
	}
	if query.AllUsers {
		if !query.Principal.IsOperator() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: operator role required", ErrOrderUnauthorized)
		}
		filter.UserID = ""
	}
	for _, status := range query.Statuses {
		if !isOrderStatus(status) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Target))))
	if !isOrderStatus(target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}
	if target == domain.OrderStatusCancelled {
		return s.Cancel(ctx, CancelOrderCommand{OrderID: orderID, InitiatedBy: domain.InitiatedByAdmin, ActorID: cmd.ActorID})
	}
	var tracking *string
	if cmd.TrackingNumber != nil {
		if target != domain.OrderStatusShipped {
			return Order{}, fmt.Errorf("%w: tracking number is only accepted when shipping", ErrOrderInvalidInput)
		}
		tracking = optionalString(strings.TrimSpace(*cmd.TrackingNumber))
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !canTransition(order.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
		}
		now := s.now()
		if err := s.orders.UpdateStatus(txCtx, repositories.OrderStatusUpdate{
			OrderID:        orderID,
			Expected:       order.Status,
			Status:         target,
			TrackingNumber: tracking,
			At:             now,
		}); err != nil {
			return s.mapTransitionError(err)
		}
		previous := order.Status
		order = applyStatus(order, target, now)
		if tracking != nil {
			order.TrackingNumber = tracking
		}
		if err := s.recordAudit(txCtx, AuditLogRecord{
			Actor:     cmd.ActorID,
			ActorType: "admin",
			Action:    auditActionOrderStatusChanged,
			TargetRef: auditTarget("orders", orderID),
			Metadata: map[string]any{
				"from": string(previous),
				"to":   string(target),
			},
		}); err != nil {
			return err
		}
		updated = order
		afterCommit(txCtx, func() {
			s.notify(ctx, order.ID, func(ctx context.Context) error {
				return s.notifier.NotifyOrderStatusChanged(ctx, order, previous)
			})
		})
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// Cancel moves a PENDING or CONFIRMED order to CANCELLED, restocks every item and releases the
// coupon use. Joined to the caller's transaction when one is active.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	initiator := Initiator(strings.ToUpper(strings.TrimSpace(string(cmd.InitiatedBy))))
	switch initiator {
	case domain.InitiatedByUser, domain.InitiatedByAdmin, domain.InitiatedBySystem:
	default:
		return Order{}, fmt.Errorf("%w: unknown initiator %q", ErrOrderInvalidInput, cmd.InitiatedBy)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !slices.Contains(cancellableStatuses, order.Status) {
			return fmt.Errorf("%w: order is %s", ErrOrderInvalidState, order.Status)
		}
		previous := order.Status
		now := s.now()
		if err := s.orders.UpdateStatus(txCtx, repositories.OrderStatusUpdate{
			OrderID:     orderID,
			Expected:    previous,
			Status:      domain.OrderStatusCancelled,
			CancelledBy: valuePtr(initiator),
			At:          now,
		}); err != nil {
			return s.mapTransitionError(err)
		}
		if err := s.restock(txCtx, order); err != nil {
			return err
		}
		if order.CouponID != nil {
			changed, err := s.coupons.DecrementUsage(txCtx, *order.CouponID)
			switch {
			case isRepoNotFound(err):
				s.logger(ctx, "coupon.usage.missing", map[string]any{
					"couponID": *order.CouponID,
					"orderID":  orderID,
				})
			case err != nil:
				return s.mapRepositoryError(err)
			case !changed:
				s.logger(ctx, "coupon.usage.floor", map[string]any{
					"couponID": *order.CouponID,
					"orderID":  orderID,
				})
			}
		}
		if !cmd.SkipReturnLog {
			metadata := map[string]any{
				"initiatedBy":    string(initiator),
				"previousStatus": string(previous),
			}
			if reason := strings.TrimSpace(cmd.Reason); reason != "" {
				metadata["reason"] = reason
			}
			if err := s.recordAudit(txCtx, AuditLogRecord{
				Actor:     cmd.ActorID,
				ActorType: actorTypeFor(initiator),
				Action:    auditActionOrderCancelled,
				TargetRef: auditTarget("orders", orderID),
				Metadata:  metadata,
			}); err != nil {
				return err
			}
		}

		order = applyStatus(order, domain.OrderStatusCancelled, now)
		order.CancelledBy = valuePtr(initiator)
		updated = order
		afterCommit(txCtx, func() {
			if s.metrics != nil {
				s.metrics.RecordCancellation(ctx, initiator)
			}
			s.notify(ctx, order.ID, func(ctx context.Context) error {
				return s.notifier.NotifyOrderStatusChanged(ctx, order, previous)
			})
		})
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// restock returns every item's quantity to the catalog. Products that no longer exist are skipped.
func (s *orderService) restock(ctx context.Context, order Order) error {
	for _, item := range sortedByProduct(order.Items) {
		err := s.catalog.IncrementStock(ctx, item.ProductID, item.Quantity)
		if err == nil {
			continue
		}
		if isRepoNotFound(err) {
			s.logger(ctx, "order.restock.skipped", map[string]any{
				"orderID":   order.ID,
				"productID": item.ProductID,
				"quantity":  item.Quantity,
			})
			continue
		}
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *orderService) recordAudit(ctx context.Context, record AuditLogRecord) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, record)
}

func (s *orderService) notify(ctx context.Context, orderID string, fn func(context.Context) error) {
	if s.notifier == nil {
		return
	}
	if err := fn(ctx); err != nil {
		s.logger(ctx, "order.notify.failed", map[string]any{
			"orderID": orderID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) recordCheckout(ctx context.Context, err error) {
	if s.metrics == nil {
		return
	}
	outcome := checkoutOutcomeSuccess
	if err != nil {
		outcome = strings.ToLower(string(KindOf(err)))
	}
	s.metrics.RecordCheckout(ctx, outcome)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

// mapTransitionError treats a lost guarded update as an invalid transition: another writer moved
// the order first.
func (s *orderService) mapTransitionError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return runWithEffects(ctx, s.unitOfWork, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func applyStatus(order Order, status OrderStatus, at time.Time) Order {
	order.Status = status
	order.UpdatedAt = at
	switch status {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = valuePtr(at)
	case domain.OrderStatusShipped:
		order.ShippedAt = valuePtr(at)
	case domain.OrderStatusDelivered:
		order.DeliveredAt = valuePtr(at)
	case domain.OrderStatusCancelled:
		order.CancelledAt = valuePtr(at)
	}
	return order
}

func sortedByProduct(items []OrderItem) []OrderItem {
	sorted := slices.Clone(items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ProductID < sorted[j].ProductID
	})
	return sorted
}

func actorTypeFor(initiator Initiator) string {
	switch initiator {
	case domain.InitiatedByUser:
		return "user"
	case domain.InitiatedByAdmin:
		return "admin"
	default:
		return "system"
	}
}

func isOrderStatus(status OrderStatus) bool {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusShipped,
		domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		return true
	}
	return false
}

func canTransition(current, target OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
