package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
)

type returnRepository struct{ c *Client }

const returnColumns = `id, order_id, user_id, request_type, reason, status, admin_note, refund_amount,
	created_at, updated_at, processed_at`

func scanReturn(row interface{ Scan(...any) error }) (domain.ReturnRequest, error) {
	var (
		rr                  domain.ReturnRequest
		requestType, status string
		adminNote           sql.NullString
		refund              sql.NullInt64
		processedAt         sql.NullTime
	)
	err := row.Scan(&rr.ID, &rr.OrderID, &rr.UserID, &requestType, &rr.Reason, &status, &adminNote, &refund,
		&rr.CreatedAt, &rr.UpdatedAt, &processedAt)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	rr.Type = domain.ReturnRequestType(requestType)
	rr.Status = domain.ReturnStatus(status)
	rr.AdminNote = stringPtr(adminNote)
	rr.RefundAmount = int64Ptr(refund)
	rr.ProcessedAt = timePtr(processedAt)
	return rr, nil
}

func (r returnRepository) Insert(ctx context.Context, rr domain.ReturnRequest) error {
	q := r.c.conn(ctx)
	_, err := q.ExecContext(ctx,
		`INSERT INTO return_requests (`+returnColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rr.ID, rr.OrderID, rr.UserID, string(rr.Type), rr.Reason, string(rr.Status), nullableString(rr.AdminNote),
		nullableInt64(rr.RefundAmount), rr.CreatedAt, rr.UpdatedAt, nullableTime(rr.ProcessedAt))
	if err != nil {
		return WrapError("return.insert", err)
	}
	for i, item := range rr.Items {
		_, err := q.ExecContext(ctx,
			`INSERT INTO return_items (request_id, position, order_item_id, quantity, reason) VALUES ($1, $2, $3, $4, $5)`,
			rr.ID, i, item.OrderItemID, item.Quantity, nullableString(item.Reason))
		if err != nil {
			return WrapError(fmt.Sprintf("return.insert_item[%d]", i), err)
		}
	}
	return nil
}

func (r returnRepository) FindByID(ctx context.Context, requestID string) (domain.ReturnRequest, error) {
	row := r.c.conn(ctx).QueryRowContext(ctx, `SELECT `+returnColumns+` FROM return_requests WHERE id = $1`, requestID)
	rr, err := scanReturn(row)
	if err != nil {
		return domain.ReturnRequest{}, WrapError("return.find", err)
	}
	items, err := r.loadItems(ctx, []string{requestID})
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	rr.Items = items[requestID]
	return rr, nil
}

func (r returnRepository) loadItems(ctx context.Context, requestIDs []string) (map[string][]domain.ReturnItem, error) {
	out := make(map[string][]domain.ReturnItem, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}
	rows, err := r.c.conn(ctx).QueryContext(ctx,
		`SELECT request_id, order_item_id, quantity, reason FROM return_items
		 WHERE request_id = ANY($1) ORDER BY request_id, position`, pq.Array(requestIDs))
	if err != nil {
		return nil, WrapError("return.load_items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var requestID string
		var item domain.ReturnItem
		var reason sql.NullString
		if err := rows.Scan(&requestID, &item.OrderItemID, &item.Quantity, &reason); err != nil {
			return nil, WrapError("return.load_items", err)
		}
		item.Reason = stringPtr(reason)
		out[requestID] = append(out[requestID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError("return.load_items", err)
	}
	return out, nil
}

func (r returnRepository) HasPendingCancellation(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := r.c.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM return_requests WHERE order_id = $1 AND request_type = 'CANCELLATION' AND status = 'PENDING')`,
		orderID).Scan(&exists)
	if err != nil {
		return false, WrapError("return.pending_cancellation", err)
	}
	return exists, nil
}

func (r returnRepository) UpdateStatus(ctx context.Context, u repositories.ReturnStatusUpdate) error {
	q := r.c.conn(ctx)
	res, err := q.ExecContext(ctx, `
		UPDATE return_requests SET
			status = $2,
			updated_at = $3,
			admin_note = COALESCE($5::text, admin_note),
			refund_amount = COALESCE($6::bigint, refund_amount),
			processed_at = COALESCE(processed_at, $7::timestamptz)
		WHERE id = $1 AND status = $4`,
		u.RequestID, string(u.Status), u.At, string(u.Expected), nullableString(u.AdminNote),
		nullableInt64(u.RefundAmount), nullableTime(u.ProcessedAt))
	if err != nil {
		return WrapError("return.update_status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return WrapError("return.update_status", err)
	}
	if affected == 1 {
		return nil
	}
	var current string
	if err := q.QueryRowContext(ctx, `SELECT status FROM return_requests WHERE id = $1`, u.RequestID).Scan(&current); err != nil {
		return WrapError("return.update_status", err)
	}
	return conflictError("return.update_status", "return request %s is %s, expected %s", u.RequestID, current, u.Expected)
}

func (r returnRepository) List(ctx context.Context, f repositories.ReturnRequestFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	cursor, err := pagination.DecodeToken(f.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, WrapError("return.list", err)
	}
	size := pageSize(f.Pagination)
	types := make([]string, 0, len(f.Types))
	for _, t := range f.Types {
		types = append(types, string(t))
	}
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}
	var cursorAt any
	if !cursor.IsZero() {
		cursorAt = cursor.CreatedAt
	}

	rows, err := r.c.conn(ctx).QueryContext(ctx, `
		SELECT `+returnColumns+` FROM return_requests
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR order_id = $2)
		  AND (cardinality($3::text[]) = 0 OR request_type = ANY($3::text[]))
		  AND (cardinality($4::text[]) = 0 OR status = ANY($4::text[]))
		  AND ($5::timestamptz IS NULL OR (created_at, id) < ($5::timestamptz, $6::text))
		ORDER BY created_at DESC, id DESC
		LIMIT $7`,
		f.UserID, f.OrderID, pq.Array(types), pq.Array(statuses), cursorAt, cursor.ID, size+1)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, WrapError("return.list", err)
	}
	defer rows.Close()

	var requests []domain.ReturnRequest
	for rows.Next() {
		rr, err := scanReturn(rows)
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, WrapError("return.list", err)
		}
		requests = append(requests, rr)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, WrapError("return.list", err)
	}

	page := domain.CursorPage[domain.ReturnRequest]{}
	if len(requests) > size {
		requests = requests[:size]
		last := requests[len(requests)-1]
		if page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}); err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, err
		}
	}
	ids := make([]string, 0, len(requests))
	for _, rr := range requests {
		ids = append(ids, rr.ID)
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}
	for i := range requests {
		requests[i].Items = items[requests[i].ID]
	}
	page.Items = requests
	return page, nil
}

type auditLogRepository struct{ c *Client }

func (r auditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("audit.append: encode metadata: %w", err)
	}
	var requestID any
	if entry.RequestID != "" {
		requestID = entry.RequestID
	}
	_, err = r.c.conn(ctx).ExecContext(ctx,
		`INSERT INTO audit_logs (id, actor, actor_type, action, target_ref, metadata, request_id, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.Actor, entry.ActorType, entry.Action, entry.TargetRef, payload, requestID, entry.OccurredAt)
	return WrapError("audit.append", err)
}

func (r auditLogRepository) ListByTarget(ctx context.Context, targetRef string) ([]domain.AuditLogEntry, error) {
	rows, err := r.c.conn(ctx).QueryContext(ctx,
		`SELECT id, actor, actor_type, action, target_ref, metadata, request_id, occurred_at
		 FROM audit_logs WHERE target_ref = $1 ORDER BY occurred_at, id`, targetRef)
	if err != nil {
		return nil, WrapError("audit.list", err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var entry domain.AuditLogEntry
		var payload []byte
		var requestID sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.ActorType, &entry.Action, &entry.TargetRef, &payload, &requestID, &entry.OccurredAt); err != nil {
			return nil, WrapError("audit.list", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("audit.list: decode metadata: %w", err)
			}
		}
		entry.RequestID = requestID.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError("audit.list", err)
	}
	return entries, nil
}
