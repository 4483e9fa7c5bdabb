package memory

import (
	"context"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

type catalogRepository struct{ r *Registry }

func (c catalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	unlock := c.r.lock(ctx)
	defer unlock()
	product, ok := c.r.state.products[productID]
	if !ok {
		return domain.Product{}, notFound("catalog.find", "product %s not found", productID)
	}
	product.Images = append([]string(nil), product.Images...)
	return product, nil
}

func (c catalogRepository) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	unlock := c.r.lock(ctx)
	defer unlock()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := c.r.state.products[id]; ok {
			product.Images = append([]string(nil), product.Images...)
			out[id] = product
		}
	}
	return out, nil
}

func (c catalogRepository) DecrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return invalid("catalog.decrement", "quantity must be positive")
	}
	unlock := c.r.lock(ctx)
	defer unlock()
	product, ok := c.r.state.products[productID]
	if !ok {
		return notFound("catalog.decrement", "product %s not found", productID)
	}
	if product.Stock < qty {
		stockErr := repositories.NewStockError(productID, qty, product.Stock)
		stockErr.Op = "catalog.decrement"
		return stockErr
	}
	product.Stock -= qty
	c.r.state.products[productID] = product
	return nil
}

func (c catalogRepository) IncrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return invalid("catalog.increment", "quantity must be positive")
	}
	unlock := c.r.lock(ctx)
	defer unlock()
	product, ok := c.r.state.products[productID]
	if !ok {
		return notFound("catalog.increment", "product %s not found", productID)
	}
	product.Stock += qty
	c.r.state.products[productID] = product
	return nil
}

func (c catalogRepository) UpdateProduct(ctx context.Context, product domain.Product) error {
	unlock := c.r.lock(ctx)
	defer unlock()
	if _, ok := c.r.state.products[product.ID]; !ok {
		return notFound("catalog.update", "product %s not found", product.ID)
	}
	if product.Stock < 0 {
		return invalid("catalog.update", "stock must not be negative")
	}
	product.Images = append([]string(nil), product.Images...)
	c.r.state.products[product.ID] = product
	return nil
}
