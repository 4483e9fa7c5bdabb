package memory

import (
	"context"
	"sort"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

type cartRepository struct{ r *Registry }

func (c cartRepository) ListLines(ctx context.Context, owner domain.OwnerKey) ([]domain.CartLine, error) {
	unlock := c.r.lock(ctx)
	defer unlock()
	var lines []domain.CartLine
	for _, line := range c.r.state.lines {
		if line.Owner == owner {
			lines = append(lines, line)
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].ID < lines[j].ID
		}
		return lines[i].CreatedAt.Before(lines[j].CreatedAt)
	})
	return lines, nil
}

func (c cartRepository) FindLine(ctx context.Context, owner domain.OwnerKey, lineID string) (domain.CartLine, error) {
	unlock := c.r.lock(ctx)
	defer unlock()
	line, ok := c.r.state.lines[lineID]
	if !ok || line.Owner != owner {
		return domain.CartLine{}, notFound("cart.find", "line %s not found", lineID)
	}
	return line, nil
}

func (c cartRepository) FindLineByProduct(ctx context.Context, owner domain.OwnerKey, productID string) (domain.CartLine, error) {
	unlock := c.r.lock(ctx)
	defer unlock()
	if line, ok := c.findByProduct(owner, productID); ok {
		return line, nil
	}
	return domain.CartLine{}, notFound("cart.find_by_product", "no line for product %s", productID)
}

func (c cartRepository) findByProduct(owner domain.OwnerKey, productID string) (domain.CartLine, bool) {
	for _, line := range c.r.state.lines {
		if line.Owner == owner && line.ProductID == productID {
			return line, true
		}
	}
	return domain.CartLine{}, false
}

func (c cartRepository) InsertLine(ctx context.Context, line domain.CartLine) error {
	if line.Quantity < 1 {
		return invalid("cart.insert", "quantity must be at least 1")
	}
	unlock := c.r.lock(ctx)
	defer unlock()
	if _, exists := c.r.state.lines[line.ID]; exists {
		return conflict("cart.insert", "line %s already exists", line.ID)
	}
	if _, exists := c.findByProduct(line.Owner, line.ProductID); exists {
		return conflict("cart.insert", "owner already has a line for product %s", line.ProductID)
	}
	c.r.state.lines[line.ID] = line
	return nil
}

func (c cartRepository) UpdateQuantity(ctx context.Context, owner domain.OwnerKey, lineID string, quantity int, updatedAt time.Time) error {
	if quantity < 1 {
		return invalid("cart.update", "quantity must be at least 1")
	}
	unlock := c.r.lock(ctx)
	defer unlock()
	line, ok := c.r.state.lines[lineID]
	if !ok || line.Owner != owner {
		return notFound("cart.update", "line %s not found", lineID)
	}
	line.Quantity = quantity
	line.UpdatedAt = updatedAt
	c.r.state.lines[lineID] = line
	return nil
}

func (c cartRepository) Reassign(ctx context.Context, lineID string, from, to domain.OwnerKey, updatedAt time.Time) error {
	unlock := c.r.lock(ctx)
	defer unlock()
	line, ok := c.r.state.lines[lineID]
	if !ok || line.Owner != from {
		return notFound("cart.reassign", "line %s not found", lineID)
	}
	if _, exists := c.findByProduct(to, line.ProductID); exists {
		return conflict("cart.reassign", "target already has a line for product %s", line.ProductID)
	}
	line.Owner = to
	line.UpdatedAt = updatedAt
	c.r.state.lines[lineID] = line
	return nil
}

func (c cartRepository) DeleteLine(ctx context.Context, owner domain.OwnerKey, lineID string) error {
	unlock := c.r.lock(ctx)
	defer unlock()
	line, ok := c.r.state.lines[lineID]
	if !ok || line.Owner != owner {
		return notFound("cart.delete", "line %s not found", lineID)
	}
	delete(c.r.state.lines, lineID)
	return nil
}

func (c cartRepository) DeleteAll(ctx context.Context, owner domain.OwnerKey) (int, error) {
	unlock := c.r.lock(ctx)
	defer unlock()
	removed := 0
	for id, line := range c.r.state.lines {
		if line.Owner == owner {
			delete(c.r.state.lines, id)
			removed++
		}
	}
	return removed, nil
}
