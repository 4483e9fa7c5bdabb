// Package memory implements the repository ports in process. Every operation runs under one
// registry lock; RunInTx holds the lock for the whole callback and restores a snapshot when the
// callback fails, so transactional semantics match the postgres backend.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

type txKey struct{ registry *Registry }

type state struct {
	products map[string]domain.Product
	lines    map[string]domain.CartLine
	coupons  map[string]domain.Coupon
	orders   map[string]domain.Order
	returns  map[string]domain.ReturnRequest
	audit    []domain.AuditLogEntry
}

func newState() *state {
	return &state{
		products: make(map[string]domain.Product),
		lines:    make(map[string]domain.CartLine),
		coupons:  make(map[string]domain.Coupon),
		orders:   make(map[string]domain.Order),
		returns:  make(map[string]domain.ReturnRequest),
	}
}

// clone copies the maps. Stored values are never mutated in place, so sharing their
// slices between snapshots is safe.
func (s *state) clone() *state {
	out := &state{
		products: make(map[string]domain.Product, len(s.products)),
		lines:    make(map[string]domain.CartLine, len(s.lines)),
		coupons:  make(map[string]domain.Coupon, len(s.coupons)),
		orders:   make(map[string]domain.Order, len(s.orders)),
		returns:  make(map[string]domain.ReturnRequest, len(s.returns)),
		audit:    append([]domain.AuditLogEntry(nil), s.audit...),
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = v
	}
	for k, v := range s.coupons {
		out.coupons[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = v
	}
	for k, v := range s.returns {
		out.returns[k] = v
	}
	return out
}

// Registry is an in-memory repositories.Registry.
type Registry struct {
	mu     sync.Mutex
	state  *state
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{state: newState()}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "memory", Check: func(context.Context) error { return nil }},
	})
	if err == nil {
		r.health = health
	}
	return r
}

// lock acquires the registry lock unless ctx already belongs to a transaction of this registry.
func (r *Registry) lock(ctx context.Context) func() {
	if ctx != nil {
		if _, ok := ctx.Value(txKey{r}).(bool); ok {
			return func() {}
		}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// RunInTx runs fn with exclusive access to the registry and rolls back on error or panic.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, nested := ctx.Value(txKey{r}).(bool); nested {
		return fn(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	committed := false
	defer func() {
		if !committed {
			r.state = snapshot
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{r}, true)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Catalog() repositories.CatalogRepository { return catalogRepository{r} }
func (r *Registry) Carts() repositories.CartRepository { return cartRepository{r} }
func (r *Registry) Coupons() repositories.CouponRepository { return couponRepository{r} }
func (r *Registry) Orders() repositories.OrderRepository { return orderRepository{r} }
func (r *Registry) Returns() repositories.ReturnRequestRepository { return returnRepository{r} }
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return auditLogRepository{r} }
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// SeedProducts inserts or replaces catalog products. The catalog is an external system of
// record; seeding stands in for it in tests and local runs.
func (r *Registry) SeedProducts(products ...domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range products {
		p.Images = append([]string(nil), p.Images...)
		r.state.products[p.ID] = p
	}
}

// SeedCoupons inserts or replaces coupons.
func (r *Registry) SeedCoupons(coupons ...domain.Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range coupons {
		r.state.coupons[c.ID] = c
	}
}

// Error implements repositories.RepositoryError for the memory backend.
type Error struct {
	op       string
	err      error
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), conflict: true}
}

func invalid(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...)}
}
