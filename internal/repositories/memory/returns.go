package memory

import (
	"context"
	"slices"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

type returnRepository struct{ r *Registry }

func cloneReturn(request domain.ReturnRequest) domain.ReturnRequest {
	request.Items = append([]domain.ReturnItem(nil), request.Items...)
	return request
}

func (rr returnRepository) Insert(ctx context.Context, request domain.ReturnRequest) error {
	unlock := rr.r.lock(ctx)
	defer unlock()
	if _, exists := rr.r.state.returns[request.ID]; exists {
		return conflict("return.insert", "return request %s already exists", request.ID)
	}
	if request.Type == domain.ReturnTypeCancellation && request.Status == domain.ReturnStatusPending &&
		rr.hasPendingCancellation(request.OrderID) {
		return conflict("return.insert", "order %s already has a pending cancellation", request.OrderID)
	}
	rr.r.state.returns[request.ID] = cloneReturn(request)
	return nil
}

func (rr returnRepository) FindByID(ctx context.Context, requestID string) (domain.ReturnRequest, error) {
	unlock := rr.r.lock(ctx)
	defer unlock()
	request, ok := rr.r.state.returns[requestID]
	if !ok {
		return domain.ReturnRequest{}, notFound("return.find", "return request %s not found", requestID)
	}
	return cloneReturn(request), nil
}

func (rr returnRepository) HasPendingCancellation(ctx context.Context, orderID string) (bool, error) {
	unlock := rr.r.lock(ctx)
	defer unlock()
	return rr.hasPendingCancellation(orderID), nil
}

func (rr returnRepository) hasPendingCancellation(orderID string) bool {
	for _, request := range rr.r.state.returns {
		if request.OrderID == orderID && request.Type == domain.ReturnTypeCancellation && request.Status == domain.ReturnStatusPending {
			return true
		}
	}
	return false
}

func (rr returnRepository) UpdateStatus(ctx context.Context, update repositories.ReturnStatusUpdate) error {
	unlock := rr.r.lock(ctx)
	defer unlock()
	request, ok := rr.r.state.returns[update.RequestID]
	if !ok {
		return notFound("return.update_status", "return request %s not found", update.RequestID)
	}
	if request.Status != update.Expected {
		return conflict("return.update_status", "return request %s is %s, expected %s", request.ID, request.Status, update.Expected)
	}
	request.Status = update.Status
	request.UpdatedAt = update.At
	if update.AdminNote != nil {
		note := *update.AdminNote
		request.AdminNote = &note
	}
	if update.RefundAmount != nil {
		amount := *update.RefundAmount
		request.RefundAmount = &amount
	}
	if update.ProcessedAt != nil && request.ProcessedAt == nil {
		processed := *update.ProcessedAt
		request.ProcessedAt = &processed
	}
	rr.r.state.returns[request.ID] = request
	return nil
}

func (rr returnRepository) List(ctx context.Context, filter repositories.ReturnRequestFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	unlock := rr.r.lock(ctx)
	defer unlock()
	var matched []domain.ReturnRequest
	for _, request := range rr.r.state.returns {
		if filter.UserID != "" && request.UserID != filter.UserID {
			continue
		}
		if filter.OrderID != "" && request.OrderID != filter.OrderID {
			continue
		}
		if len(filter.Types) > 0 && !slices.Contains(filter.Types, request.Type) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, request.Status) {
			continue
		}
		matched = append(matched, cloneReturn(request))
	}
	return page(matched, filter.Pagination, func(request domain.ReturnRequest) (time.Time, string) {
		return request.CreatedAt, request.ID
	})
}

type auditLogRepository struct{ r *Registry }

func (a auditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	unlock := a.r.lock(ctx)
	defer unlock()
	a.r.state.audit = append(a.r.state.audit, entry)
	return nil
}

func (a auditLogRepository) ListByTarget(ctx context.Context, targetRef string) ([]domain.AuditLogEntry, error) {
	unlock := a.r.lock(ctx)
	defer unlock()
	var out []domain.AuditLogEntry
	for _, entry := range a.r.state.audit {
		if entry.TargetRef == targetRef {
			out = append(out, entry)
		}
	}
	return out, nil
}
