package postgres

import (
	"context"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

type cartRepository struct{ c *Client }

const cartLineColumns = `id, owner_key, product_id, quantity, created_at, updated_at`

func scanCartLine(row interface{ Scan(...any) error }) (domain.CartLine, error) {
	var line domain.CartLine
	var owner string
	if err := row.Scan(&line.ID, &owner, &line.ProductID, &line.Quantity, &line.CreatedAt, &line.UpdatedAt); err != nil {
		return domain.CartLine{}, err
	}
	line.Owner = domain.OwnerKey(owner)
	return line, nil
}

func (r cartRepository) ListLines(ctx context.Context, owner domain.OwnerKey) ([]domain.CartLine, error) {
	rows, err := r.c.conn(ctx).QueryContext(ctx,
		`SELECT `+cartLineColumns+` FROM cart_lines WHERE owner_key = $1 ORDER BY created_at, id`, string(owner))
	if err != nil {
		return nil, WrapError("cart.list", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		line, err := scanCartLine(rows)
		if err != nil {
			return nil, WrapError("cart.list", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError("cart.list", err)
	}
	return lines, nil
}

func (r cartRepository) FindLine(ctx context.Context, owner domain.OwnerKey, lineID string) (domain.CartLine, error) {
	row := r.c.conn(ctx).QueryRowContext(ctx,
		`SELECT `+cartLineColumns+` FROM cart_lines WHERE id = $1 AND owner_key = $2`, lineID, string(owner))
	line, err := scanCartLine(row)
	if err != nil {
		return domain.CartLine{}, WrapError("cart.find", err)
	}
	return line, nil
}

func (r cartRepository) FindLineByProduct(ctx context.Context, owner domain.OwnerKey, productID string) (domain.CartLine, error) {
	row := r.c.conn(ctx).QueryRowContext(ctx,
		`SELECT `+cartLineColumns+` FROM cart_lines WHERE owner_key = $1 AND product_id = $2`, string(owner), productID)
	line, err := scanCartLine(row)
	if err != nil {
		return domain.CartLine{}, WrapError("cart.find_by_product", err)
	}
	return line, nil
}

func (r cartRepository) InsertLine(ctx context.Context, line domain.CartLine) error {
	_, err := r.c.conn(ctx).ExecContext(ctx,
		`INSERT INTO cart_lines (`+cartLineColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		line.ID, string(line.Owner), line.ProductID, line.Quantity, line.CreatedAt, line.UpdatedAt)
	return WrapError("cart.insert", err)
}

func (r cartRepository) UpdateQuantity(ctx context.Context, owner domain.OwnerKey, lineID string, quantity int, updatedAt time.Time) error {
	res, err := r.c.conn(ctx).ExecContext(ctx,
		`UPDATE cart_lines SET quantity = $3, updated_at = $4 WHERE id = $1 AND owner_key = $2`,
		lineID, string(owner), quantity, updatedAt)
	if err != nil {
		return WrapError("cart.update", err)
	}
	return expectOneRow(res, "cart.update", "line", lineID)
}

func (r cartRepository) Reassign(ctx context.Context, lineID string, from, to domain.OwnerKey, updatedAt time.Time) error {
	res, err := r.c.conn(ctx).ExecContext(ctx,
		`UPDATE cart_lines SET owner_key = $3, updated_at = $4 WHERE id = $1 AND owner_key = $2`,
		lineID, string(from), string(to), updatedAt)
	if err != nil {
		return WrapError("cart.reassign", err)
	}
	return expectOneRow(res, "cart.reassign", "line", lineID)
}

func (r cartRepository) DeleteLine(ctx context.Context, owner domain.OwnerKey, lineID string) error {
	res, err := r.c.conn(ctx).ExecContext(ctx,
		`DELETE FROM cart_lines WHERE id = $1 AND owner_key = $2`, lineID, string(owner))
	if err != nil {
		return WrapError("cart.delete", err)
	}
	return expectOneRow(res, "cart.delete", "line", lineID)
}

func (r cartRepository) DeleteAll(ctx context.Context, owner domain.OwnerKey) (int, error) {
	res, err := r.c.conn(ctx).ExecContext(ctx, `DELETE FROM cart_lines WHERE owner_key = $1`, string(owner))
	if err != nil {
		return 0, WrapError("cart.clear", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, WrapError("cart.clear", err)
	}
	return int(affected), nil
}
