package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
)

const defaultPageSize = 20

type orderRepository struct{ c *Client }

const orderColumns = `id, user_id, status, currency, subtotal, discount, total, coupon_id, coupon_code, address_id,
	tracking_number, cancelled_by, created_at, updated_at, confirmed_at, shipped_at, delivered_at, cancelled_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var (
		o                                              domain.Order
		status                                         string
		couponID, couponCode, tracking, cancelledBy    sql.NullString
		confirmedAt, shippedAt, deliveredAt, cancelled sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &status, &o.Currency, &o.Subtotal, &o.Discount, &o.Total, &couponID, &couponCode,
		&o.AddressID, &tracking, &cancelledBy, &o.CreatedAt, &o.UpdatedAt, &confirmedAt, &shippedAt, &deliveredAt, &cancelled)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.CouponID = stringPtr(couponID)
	o.CouponCode = stringPtr(couponCode)
	o.TrackingNumber = stringPtr(tracking)
	if cancelledBy.Valid {
		by := domain.Initiator(cancelledBy.String)
		o.CancelledBy = &by
	}
	o.ConfirmedAt = timePtr(confirmedAt)
	o.ShippedAt = timePtr(shippedAt)
	o.DeliveredAt = timePtr(deliveredAt)
	o.CancelledAt = timePtr(cancelled)
	return o, nil
}

func (r orderRepository) Insert(ctx context.Context, o domain.Order) error {
	q := r.c.conn(ctx)
	var cancelledBy any
	if o.CancelledBy != nil {
		cancelledBy = string(*o.CancelledBy)
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		o.ID, o.UserID, string(o.Status), o.Currency, o.Subtotal, o.Discount, o.Total,
		nullableString(o.CouponID), nullableString(o.CouponCode), o.AddressID, nullableString(o.TrackingNumber), cancelledBy,
		o.CreatedAt, o.UpdatedAt, nullableTime(o.ConfirmedAt), nullableTime(o.ShippedAt), nullableTime(o.DeliveredAt),
		nullableTime(o.CancelledAt))
	if err != nil {
		return WrapError("order.insert", err)
	}

	for i, item := range o.Items {
		_, err := q.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, position, product_id, quantity, price_snapshot, name_snapshot)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, o.ID, i, item.ProductID, item.Quantity, item.PriceSnapshot, item.NameSnapshot)
		if err != nil {
			return WrapError(fmt.Sprintf("order.insert_item[%d]", i), err)
		}
	}
	return nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	row := r.c.conn(ctx).QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, WrapError("order.find", err)
	}
	items, err := r.loadItems(ctx, []string{orderID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[orderID]
	return order, nil
}

func (r orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	out := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := r.c.conn(ctx).QueryContext(ctx,
		`SELECT order_id, id, product_id, quantity, price_snapshot, name_snapshot
		 FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, pq.Array(orderIDs))
	if err != nil {
		return nil, WrapError("order.load_items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ID, &item.ProductID, &item.Quantity, &item.PriceSnapshot, &item.NameSnapshot); err != nil {
			return nil, WrapError("order.load_items", err)
		}
		out[orderID] = append(out[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError("order.load_items", err)
	}
	return out, nil
}

// UpdateStatus is guarded on the expected current status so concurrent transitions cannot both win.
func (r orderRepository) UpdateStatus(ctx context.Context, u repositories.OrderStatusUpdate) error {
	var cancelledBy any
	if u.CancelledBy != nil {
		cancelledBy = string(*u.CancelledBy)
	}
	q := r.c.conn(ctx)
	res, err := q.ExecContext(ctx, `
		UPDATE orders SET
			status = $2::text,
			updated_at = $3::timestamptz,
			confirmed_at = CASE WHEN $2::text = 'CONFIRMED' THEN $3::timestamptz ELSE confirmed_at END,
			shipped_at = CASE WHEN $2::text = 'SHIPPED' THEN $3::timestamptz ELSE shipped_at END,
			delivered_at = CASE WHEN $2::text = 'DELIVERED' THEN $3::timestamptz ELSE delivered_at END,
			cancelled_at = CASE WHEN $2::text = 'CANCELLED' THEN $3::timestamptz ELSE cancelled_at END,
			tracking_number = COALESCE($5::text, tracking_number),
			cancelled_by = COALESCE($6::text, cancelled_by)
		WHERE id = $1 AND status = $4::text`,
		u.OrderID, string(u.Status), u.At, string(u.Expected), nullableString(u.TrackingNumber), cancelledBy)
	if err != nil {
		return WrapError("order.update_status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return WrapError("order.update_status", err)
	}
	if affected == 1 {
		return nil
	}
	var current string
	if err := q.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, u.OrderID).Scan(&current); err != nil {
		return WrapError("order.update_status", err)
	}
	return conflictError("order.update_status", "order %s is %s, expected %s", u.OrderID, current, u.Expected)
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, WrapError("order.list", err)
	}
	size := pageSize(filter.Pagination)
	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, string(s))
	}
	var cursorAt any
	if !cursor.IsZero() {
		cursorAt = cursor.CreatedAt
	}

	rows, err := r.c.conn(ctx).QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR user_id = $1)
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		  AND ($3::timestamptz IS NULL OR (created_at, id) < ($3::timestamptz, $4::text))
		ORDER BY created_at DESC, id DESC
		LIMIT $5`,
		filter.UserID, pq.Array(statuses), cursorAt, cursor.ID, size+1)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, WrapError("order.list", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, WrapError("order.list", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, WrapError("order.list", err)
	}

	page := domain.CursorPage[domain.Order]{}
	if len(orders) > size {
		orders = orders[:size]
		last := orders[len(orders)-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	page.Items = orders
	return page, nil
}

func pageSize(p domain.Pagination) int {
	if p.PageSize <= 0 {
		return defaultPageSize
	}
	return p.PageSize
}
