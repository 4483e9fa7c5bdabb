package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

type catalogRepository struct{ c *Client }

const productColumns = `id, name, price, currency, stock, images, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	var images pq.StringArray
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &p.Stock, &images, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	p.Images = []string(images)
	return p, nil
}

func (r catalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	row := r.c.conn(ctx).QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	product, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, WrapError("catalog.find", err)
	}
	return product, nil
}

func (r catalogRepository) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	rows, err := r.c.conn(ctx).QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, pq.Array(productIDs))
	if err != nil {
		return nil, WrapError("catalog.find_many", err)
	}
	defer rows.Close()
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, WrapError("catalog.find_many", err)
		}
		out[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError("catalog.find_many", err)
	}
	return out, nil
}

// DecrementStock is a single guarded UPDATE; the affected row count decides success.
func (r catalogRepository) DecrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return errors.New("catalog.decrement: quantity must be positive")
	}
	q := r.c.conn(ctx)
	res, err := q.ExecContext(ctx,
		`UPDATE products SET stock = stock - $1, updated_at = now() WHERE id = $2 AND stock >= $1`,
		qty, productID)
	if err != nil {
		return WrapError("catalog.decrement", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return WrapError("catalog.decrement", err)
	}
	if affected == 1 {
		return nil
	}

	var available int
	if err := q.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&available); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("catalog.decrement", "product %s not found", productID)
		}
		return WrapError("catalog.decrement", err)
	}
	stockErr := repositories.NewStockError(productID, qty, available)
	stockErr.Op = "catalog.decrement"
	return stockErr
}

func (r catalogRepository) IncrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return errors.New("catalog.increment: quantity must be positive")
	}
	res, err := r.c.conn(ctx).ExecContext(ctx,
		`UPDATE products SET stock = stock + $1, updated_at = now() WHERE id = $2`, qty, productID)
	if err != nil {
		return WrapError("catalog.increment", err)
	}
	return expectOneRow(res, "catalog.increment", "product", productID)
}

func (r catalogRepository) UpdateProduct(ctx context.Context, product domain.Product) error {
	images := product.Images
	if images == nil {
		images = []string{}
	}
	res, err := r.c.conn(ctx).ExecContext(ctx,
		`UPDATE products SET name = $2, price = $3, currency = $4, stock = $5, images = $6, updated_at = now() WHERE id = $1`,
		product.ID, product.Name, product.Price, product.Currency, product.Stock, pq.Array(images))
	if err != nil {
		return WrapError("catalog.update", err)
	}
	return expectOneRow(res, "catalog.update", "product", product.ID)
}

func expectOneRow(res sql.Result, op, kind, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return WrapError(op, err)
	}
	if affected == 0 {
		return notFoundError(op, "%s %s not found", kind, id)
	}
	return nil
}
