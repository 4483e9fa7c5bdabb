package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
)

const defaultPageSize = 20

type orderRepository struct{ r *Registry }

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	return order
}

func (o orderRepository) Insert(ctx context.Context, order domain.Order) error {
	unlock := o.r.lock(ctx)
	defer unlock()
	if _, exists := o.r.state.orders[order.ID]; exists {
		return conflict("order.insert", "order %s already exists", order.ID)
	}
	o.r.state.orders[order.ID] = cloneOrder(order)
	return nil
}

func (o orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	unlock := o.r.lock(ctx)
	defer unlock()
	order, ok := o.r.state.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order.find", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (o orderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) error {
	unlock := o.r.lock(ctx)
	defer unlock()
	order, ok := o.r.state.orders[update.OrderID]
	if !ok {
		return notFound("order.update_status", "order %s not found", update.OrderID)
	}
	if order.Status != update.Expected {
		return conflict("order.update_status", "order %s is %s, expected %s", order.ID, order.Status, update.Expected)
	}

	at := update.At
	order.Status = update.Status
	order.UpdatedAt = at
	switch update.Status {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &at
	case domain.OrderStatusShipped:
		order.ShippedAt = &at
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &at
	case domain.OrderStatusCancelled:
		order.CancelledAt = &at
	}
	if update.TrackingNumber != nil {
		tracking := *update.TrackingNumber
		order.TrackingNumber = &tracking
	}
	if update.CancelledBy != nil {
		by := *update.CancelledBy
		order.CancelledBy = &by
	}
	o.r.state.orders[order.ID] = order
	return nil
}

func (o orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	unlock := o.r.lock(ctx)
	defer unlock()
	var matched []domain.Order
	for _, order := range o.r.state.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status) {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}
	return page(matched, filter.Pagination, func(order domain.Order) (time.Time, string) {
		return order.CreatedAt, order.ID
	})
}

// page sorts newest first and slices out the page after the token's cursor.
func page[T any](items []T, p domain.Pagination, key func(T) (time.Time, string)) (domain.CursorPage[T], error) {
	cursor, err := pagination.DecodeToken(p.PageToken)
	if err != nil {
		return domain.CursorPage[T]{}, invalid("list", "%w", err)
	}
	size := p.PageSize
	if size <= 0 {
		size = defaultPageSize
	}

	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if ti.Equal(tj) {
			return idi > idj
		}
		return ti.After(tj)
	})

	out := make([]T, 0, size)
	var next string
	for _, item := range items {
		createdAt, id := key(item)
		if !cursor.After(createdAt, id) {
			continue
		}
		if len(out) == size {
			lastAt, lastID := key(out[len(out)-1])
			next, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: lastAt, ID: lastID})
			if err != nil {
				return domain.CursorPage[T]{}, err
			}
			break
		}
		out = append(out, item)
	}
	return domain.CursorPage[T]{Items: out, NextPageToken: next}, nil
}
