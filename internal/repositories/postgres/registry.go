package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hanko-field/commerce/internal/repositories"
)

// Registry is the postgres repositories.Registry.
type Registry struct {
	client *Client
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises NewRegistry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	txOpts      []TxOption
	extraChecks []repositories.DependencyCheck
	healthOpts  []repositories.DependencyHealthOption
}

// WithTransactionOptions forwards transaction tuning to the client.
func WithTransactionOptions(opts ...TxOption) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.txOpts = append(cfg.txOpts, opts...)
	}
}

// WithHealthChecks adds readiness probes next to the postgres ping.
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.extraChecks = append(cfg.extraChecks, checks...)
	}
}

// WithHealthOptions forwards options to the dependency health repository.
func WithHealthOptions(opts ...repositories.DependencyHealthOption) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.healthOpts = append(cfg.healthOpts, opts...)
	}
}

// NewRegistry builds the registry over an open pool.
func NewRegistry(db *sql.DB, opts ...RegistryOption) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres: registry requires a database handle")
	}
	var cfg registryConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	checks := append([]repositories.DependencyCheck{{
		Name:    "postgres",
		Timeout: 2 * time.Second,
		Check:   db.PingContext,
	}}, cfg.extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks, cfg.healthOpts...)
	if err != nil {
		return nil, err
	}
	return &Registry{client: NewClient(db, cfg.txOpts...), health: health}, nil
}

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.client.RunInTx(ctx, fn)
}

func (r *Registry) Close(context.Context) error { return r.client.db.Close() }

func (r *Registry) Catalog() repositories.CatalogRepository { return catalogRepository{r.client} }
func (r *Registry) Carts() repositories.CartRepository { return cartRepository{r.client} }
func (r *Registry) Coupons() repositories.CouponRepository { return couponRepository{r.client} }
func (r *Registry) Orders() repositories.OrderRepository { return orderRepository{r.client} }
func (r *Registry) Returns() repositories.ReturnRequestRepository { return returnRepository{r.client} }
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return auditLogRepository{r.client} }
func (r *Registry) Health() repositories.HealthRepository { return r.health }
