package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/textutil"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	returnIDPrefix = "rr_"

	minReturnReasonLength = 5
	maxReturnReasonLength = 1000
	maxAdminNoteLength    = 2000

	defaultCancellationReason = "Customer requested cancellation of this order."
	defaultReturnReason       = "Customer requested a return for this order."
	defaultApprovalNote       = "Cancellation approved. The order has been cancelled and stock restored."

	auditActionReturnCreated       = "return.created"
	auditActionReturnStatusChanged = "return.status.changed"
)

var returnableOrderStatuses = []OrderStatus{domain.OrderStatusDelivered}

// ReturnServiceDeps bundles collaborators for the return/cancellation workflow.
type ReturnServiceDeps struct {
	Returns     repositories.ReturnRequestRepository
	Orders      repositories.OrderRepository
	OrderEngine OrderService
	Audit       AuditLogService
	UnitOfWork  repositories.UnitOfWork
	Notifier    Notifier
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type returnService struct {
	returns    repositories.ReturnRequestRepository
	orders     repositories.OrderRepository
	engine     OrderService
	audit      AuditLogService
	unitOfWork repositories.UnitOfWork
	notifier   Notifier
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewReturnService constructs the return workflow. Cancellation approval delegates to the order engine.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Returns == nil {
		return nil, errors.New("return service: return repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
	}
	if deps.OrderEngine == nil {
		return nil, errors.New("return service: order service is required")
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
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &returnService{
		returns:    deps.Returns,
		orders:     deps.Orders,
		engine:     deps.OrderEngine,
		audit:      deps.Audit,
		unitOfWork: unit,
		notifier:   deps.Notifier,
		clock:      func() time.Time { return clock().UTC().Truncate(time.Microsecond) },
		newID:      idGen,
		logger:     logger,
	}, nil
}

func (s *returnService) CreateRequest(ctx context.Context, cmd CreateReturnRequestCommand) (ReturnRequest, error) {
	if !cmd.Principal.IsAccount() {
		return ReturnRequest{}, fmt.Errorf("%w: sign in to request a return", ErrReturnUnauthorized)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: order id is required", ErrReturnInvalidInput)
	}
	requestType := ReturnRequestType(strings.ToUpper(strings.TrimSpace(string(cmd.Type))))
	switch requestType {
	case domain.ReturnTypeReturn, domain.ReturnTypeCancellation:
	default:
		return ReturnRequest{}, fmt.Errorf("%w: unknown request type %q", ErrReturnInvalidInput, cmd.Type)
	}
	if requestType == domain.ReturnTypeCancellation && len(cmd.Items) > 0 {
		return ReturnRequest{}, fmt.Errorf("%w: cancellation requests cover the whole order", ErrReturnInvalidInput)
	}
	if requestType == domain.ReturnTypeReturn && len(cmd.Items) == 0 {
		return ReturnRequest{}, fmt.Errorf("%w: at least one item is required", ErrReturnInvalidInput)
	}

	now := s.clock()
	request := ReturnRequest{
		ID:        returnIDPrefix + s.newID(),
		OrderID:   orderID,
		UserID:    cmd.Principal.ID,
		Type:      requestType,
		Reason:    normalizeReason(cmd.Reason, requestType),
		Status:    domain.ReturnStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if order.UserID != cmd.Principal.ID {
			return fmt.Errorf("%w: order belongs to another account", ErrReturnUnauthorized)
		}

		switch requestType {
		case domain.ReturnTypeReturn:
			if !slices.Contains(returnableOrderStatuses, order.Status) {
				return fmt.Errorf("%w: order is %s, returns require a delivered order", ErrReturnInvalidState, order.Status)
			}
			items, err := buildReturnItems(order, cmd.Items)
			if err != nil {
				return err
			}
			request.Items = items
		case domain.ReturnTypeCancellation:
			if !slices.Contains(cancellableStatuses, order.Status) {
				return fmt.Errorf("%w: order is %s and can no longer be cancelled", ErrReturnInvalidState, order.Status)
			}
			pending, err := s.returns.HasPendingCancellation(txCtx, orderID)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			if pending {
				return fmt.Errorf("%w: a cancellation request is already pending for order %s", ErrReturnConflict, orderID)
			}
		}

		if err := s.returns.Insert(txCtx, request); err != nil {
			return s.mapRepositoryError(err)
		}
		return s.recordAudit(txCtx, AuditLogRecord{
			Actor:     cmd.Principal.ID,
			ActorType: "user",
			Action:    auditActionReturnCreated,
			TargetRef: auditTarget("returns", request.ID),
			Metadata: map[string]any{
				"orderID": orderID,
				"type":    string(requestType),
			},
		})
	})
	if err != nil {
		return ReturnRequest{}, err
	}
	return request, nil
}

func (s *returnService) GetRequest(ctx context.Context, principal Principal, requestID string) (ReturnRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: request id is required", ErrReturnInvalidInput)
	}
	if !principal.IsAccount() {
		return ReturnRequest{}, ErrReturnNotFound
	}
	request, err := s.returns.FindByID(ctx, requestID)
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}
	if !principal.IsOperator() && request.UserID != principal.ID {
		return ReturnRequest{}, ErrReturnNotFound
	}
	return request, nil
}

func (s *returnService) ListForUser(ctx context.Context, principal Principal, page Pagination) (domain.CursorPage[ReturnRequest], error) {
	if !principal.IsAccount() {
		return domain.CursorPage[ReturnRequest]{}, ErrReturnUnauthorized
	}
	result, err := s.returns.List(ctx, repositories.ReturnRequestFilter{UserID: principal.ID, Pagination: page})
	if err != nil {
		return domain.CursorPage[ReturnRequest]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

func (s *returnService) ListReturnRequests(ctx context.Context, filter ReturnRequestListFilter) (domain.CursorPage[ReturnRequest], error) {
	repoFilter := repositories.ReturnRequestFilter{
		UserID:     strings.TrimSpace(filter.UserID),
		OrderID:    strings.TrimSpace(filter.OrderID),
		Pagination: filter.Pagination,
	}
	for _, t := range filter.Types {
		if t != domain.ReturnTypeReturn && t != domain.ReturnTypeCancellation {
			return domain.CursorPage[ReturnRequest]{}, fmt.Errorf("%w: unknown request type %q", ErrReturnInvalidInput, t)
		}
		repoFilter.Types = append(repoFilter.Types, t)
	}
	for _, status := range filter.Statuses {
		if !isReturnStatus(status) {
			return domain.CursorPage[ReturnRequest]{}, fmt.Errorf("%w: unknown status %q", ErrReturnInvalidInput, status)
		}
		repoFilter.Statuses = append(repoFilter.Statuses, status)
	}
	result, err := s.returns.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[ReturnRequest]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

// UpdateStatus applies an admin decision. Approving a CANCELLATION cancels the order in the same
// unit of work and lands the request in COMPLETED; if the cancel fails nothing changes.
func (s *returnService) UpdateStatus(ctx context.Context, cmd UpdateReturnStatusCommand) (ReturnRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: request id is required", ErrReturnInvalidInput)
	}
	target := ReturnStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Status))))
	if !isReturnStatus(target) {
		return ReturnRequest{}, fmt.Errorf("%w: unknown status %q", ErrReturnInvalidInput, cmd.Status)
	}
	if cmd.RefundAmount != nil && *cmd.RefundAmount < 0 {
		return ReturnRequest{}, fmt.Errorf("%w: refund amount must be non-negative", ErrReturnInvalidInput)
	}
	var note *string
	if cmd.AdminNote != nil {
		note = optionalString(textutil.Truncate(textutil.PlainText(*cmd.AdminNote), maxAdminNoteLength))
	}

	var updated ReturnRequest
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		request, err := s.returns.FindByID(txCtx, requestID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		final, err := resolveReturnTransition(request, target)
		if err != nil {
			return err
		}

		if request.Type == domain.ReturnTypeCancellation && target == domain.ReturnStatusApproved {
			if _, err := s.engine.Cancel(txCtx, CancelOrderCommand{
				OrderID:       request.OrderID,
				InitiatedBy:   domain.InitiatedByAdmin,
				SkipReturnLog: true,
				ActorID:       cmd.ActorID,
				Reason:        request.Reason,
			}); err != nil {
				return err
			}
			if note == nil {
				note = valuePtr(defaultApprovalNote)
			}
		}

		now := s.clock()
		update := repositories.ReturnStatusUpdate{
			RequestID:    requestID,
			Expected:     request.Status,
			Status:       final,
			AdminNote:    note,
			RefundAmount: cmd.RefundAmount,
			At:           now,
		}
		if request.Status == domain.ReturnStatusPending {
			update.ProcessedAt = valuePtr(now)
		}
		if err := s.returns.UpdateStatus(txCtx, update); err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsConflict() {
				return fmt.Errorf("%w: request changed concurrently", ErrReturnInvalidState)
			}
			return s.mapRepositoryError(err)
		}

		previous := request.Status
		request.Status = final
		request.UpdatedAt = now
		if note != nil {
			request.AdminNote = note
		}
		if cmd.RefundAmount != nil {
			request.RefundAmount = cmd.RefundAmount
		}
		if update.ProcessedAt != nil && request.ProcessedAt == nil {
			request.ProcessedAt = update.ProcessedAt
		}

		metadata := map[string]any{
			"from":    string(previous),
			"to":      string(final),
			"orderID": request.OrderID,
			"type":    string(request.Type),
		}
		if final != target {
			metadata["requested"] = string(target)
		}
		if cmd.RefundAmount != nil {
			metadata["refundAmount"] = *cmd.RefundAmount
		}
		if err := s.recordAudit(txCtx, AuditLogRecord{
			Actor:     cmd.ActorID,
			ActorType: "admin",
			Action:    auditActionReturnStatusChanged,
			TargetRef: auditTarget("returns", requestID),
			Metadata:  metadata,
		}); err != nil {
			return err
		}

		updated = request
		afterCommit(txCtx, func() {
			s.notify(ctx, request, previous)
		})
		return nil
	})
	if err != nil {
		return ReturnRequest{}, err
	}
	return updated, nil
}

// resolveReturnTransition validates an admin move and returns the status to store.
func resolveReturnTransition(request ReturnRequest, target ReturnStatus) (ReturnStatus, error) {
	current := request.Status
	if current.Terminal() {
		return "", fmt.Errorf("%w: request is already %s", ErrReturnInvalidState, current)
	}
	if current == target {
		return "", fmt.Errorf("%w: request is already %s", ErrReturnInvalidState, current)
	}
	if target == domain.ReturnStatusPending {
		return "", fmt.Errorf("%w: requests cannot return to PENDING", ErrReturnInvalidState)
	}

	switch request.Type {
	case domain.ReturnTypeCancellation:
		if current != domain.ReturnStatusPending {
			return "", fmt.Errorf("%w: cancellation request is %s", ErrReturnInvalidState, current)
		}
		switch target {
		case domain.ReturnStatusApproved:
			return domain.ReturnStatusCompleted, nil
		case domain.ReturnStatusRejected:
			return domain.ReturnStatusRejected, nil
		default:
			return "", fmt.Errorf("%w: cancellation requests can only be approved or rejected", ErrReturnInvalidState)
		}
	default:
		if current == domain.ReturnStatusPending && target != domain.ReturnStatusApproved && target != domain.ReturnStatusRejected {
			return "", fmt.Errorf("%w: a pending return must be approved or rejected first", ErrReturnInvalidState)
		}
		return target, nil
	}
}

func buildReturnItems(order Order, inputs []ReturnItemInput) ([]ReturnItem, error) {
	ordered := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		ordered[item.ID] = item.Quantity
	}
	seen := make(map[string]struct{}, len(inputs))
	items := make([]ReturnItem, 0, len(inputs))
	for _, input := range inputs {
		itemID := strings.TrimSpace(input.OrderItemID)
		quantity, ok := ordered[itemID]
		if !ok {
			return nil, fmt.Errorf("%w: item %q is not part of order %s", ErrReturnInvalidInput, itemID, order.ID)
		}
		if _, dup := seen[itemID]; dup {
			return nil, fmt.Errorf("%w: item %q listed twice", ErrReturnInvalidInput, itemID)
		}
		seen[itemID] = struct{}{}
		if input.Quantity < 1 || input.Quantity > quantity {
			return nil, fmt.Errorf("%w: quantity for item %q must be between 1 and %d", ErrReturnInvalidInput, itemID, quantity)
		}
		items = append(items, ReturnItem{
			OrderItemID: itemID,
			Quantity:    input.Quantity,
			Reason:      optionalString(textutil.Truncate(textutil.PlainText(input.Reason), maxReturnReasonLength)),
		})
	}
	return items, nil
}

// normalizeReason strips markup and substitutes a default for reasons shorter than five characters.
func normalizeReason(reason string, requestType ReturnRequestType) string {
	cleaned := textutil.PlainText(reason)
	if utf8.RuneCountInString(cleaned) >= minReturnReasonLength {
		return textutil.Truncate(cleaned, maxReturnReasonLength)
	}
	if requestType == domain.ReturnTypeCancellation {
		return defaultCancellationReason
	}
	return defaultReturnReason
}

func (s *returnService) recordAudit(ctx context.Context, record AuditLogRecord) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, record)
}

func (s *returnService) notify(ctx context.Context, request ReturnRequest, previous ReturnStatus) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyReturnStatusChanged(ctx, request, previous); err != nil {
		s.logger(ctx, "return.notify.failed", map[string]any{
			"requestID": request.ID,
			"status":    string(request.Status),
			"error":     err.Error(),
		})
	}
}

func (s *returnService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return runWithEffects(ctx, s.unitOfWork, fn)
}

func (s *returnService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReturnNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrReturnConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("return: repository unavailable: %w", err)
		}
	}
	return err
}

func isReturnStatus(status ReturnStatus) bool {
	switch status {
	case domain.ReturnStatusPending, domain.ReturnStatusApproved, domain.ReturnStatusRejected,
		domain.ReturnStatusProcessing, domain.ReturnStatusCompleted:
		return true
	}
	return false
}
