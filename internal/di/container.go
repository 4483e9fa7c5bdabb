package di

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/handlers"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/config"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/platform/idempotency"
	"github.com/hanko-field/commerce/internal/platform/jobs"
	"github.com/hanko-field/commerce/internal/platform/observability"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/repositories/memory"
	"github.com/hanko-field/commerce/internal/repositories/postgres"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	meterName          = "github.com/hanko-field/commerce"
	corsMaxAge         = 10 * time.Minute
	shutdownStepBudget = 5 * time.Second
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart    services.CartService
	Coupons services.CouponService
	Orders  services.OrderService
	Returns services.ReturnService
	Audit   services.AuditLogService
	System  services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Logger       *zap.Logger
	Repositories repositories.Registry
	Services     Services
	Notifier     *jobs.Dispatcher
	Idempotency  idempotency.Store
	Resolver     *auth.Resolver
	Sessions     *auth.SessionIssuer

	build   services.BuildInfo
	closers []func(context.Context) error

	cleanupCancel context.CancelFunc
	cleanupWG     sync.WaitGroup
}

type containerConfig struct {
	registry  repositories.Registry
	verifier  auth.TokenVerifier
	publisher jobs.Publisher
	store     idempotency.Store
	meter     metric.Meter
	build     services.BuildInfo
	clock     func() time.Time
}

// Option overrides a piece of infrastructure, mostly for tests and local runs.
type Option func(*containerConfig)

// WithRegistry supplies a prepared repository registry instead of opening the configured backend.
func WithRegistry(reg repositories.Registry) Option {
	return func(cfg *containerConfig) { cfg.registry = reg }
}

// WithTokenVerifier replaces the Firebase ID token verifier.
func WithTokenVerifier(v auth.TokenVerifier) Option {
	return func(cfg *containerConfig) { cfg.verifier = v }
}

// WithPublisher replaces the notification publisher.
func WithPublisher(p jobs.Publisher) Option {
	return func(cfg *containerConfig) { cfg.publisher = p }
}

// WithIdempotencyStore replaces the configured idempotency backend.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(cfg *containerConfig) { cfg.store = store }
}

// WithMeter sets the meter used for lifecycle counters.
func WithMeter(m metric.Meter) Option {
	return func(cfg *containerConfig) { cfg.meter = m }
}

// WithBuildInfo stamps health responses with version metadata.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(cfg *containerConfig) { cfg.build = build }
}

// WithClock overrides the clock shared by services.
func WithClock(clock func() time.Time) Option {
	return func(cfg *containerConfig) { cfg.clock = clock }
}

// NewContainer constructs the runtime dependencies. Resources opened here are released by Close,
// including when construction fails part way.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (c *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cc := containerConfig{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cc)
		}
	}
	if cc.build.StartedAt.IsZero() {
		cc.build.StartedAt = cc.clock().UTC()
	}
	if cc.build.Environment == "" {
		cc.build.Environment = cfg.Environment
	}

	c = &Container{Config: cfg, Logger: logger, build: cc.build}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownStepBudget)
			defer cancel()
			_ = c.Close(closeCtx)
			c = nil
		}
	}()

	topic, err := c.openTopic(ctx)
	if err != nil {
		return c, err
	}
	if err := c.openRegistry(ctx, cc, topic); err != nil {
		return c, err
	}
	if err := c.buildNotifier(cc, topic); err != nil {
		return c, err
	}
	if err := c.buildServices(cc); err != nil {
		return c, err
	}
	if err := c.buildAuth(ctx, cc); err != nil {
		return c, err
	}
	if err := c.openIdempotencyStore(ctx, cc); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Container) openTopic(ctx context.Context) (*pubsub.Topic, error) {
	ps := c.Config.PubSub
	if ps.Topic == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	topic := client.Topic(ps.Topic)
	c.closers = append(c.closers, func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	return topic, nil
}

func (c *Container) openRegistry(ctx context.Context, cc containerConfig, topic *pubsub.Topic) error {
	if cc.registry != nil {
		c.Repositories = cc.registry
		return nil
	}
	switch c.Config.Database.Backend {
	case config.StoreBackendMemory:
		c.Logger.Warn("using in-memory store; data is lost on restart")
		c.Repositories = memory.NewRegistry()
		return nil
	case config.StoreBackendPostgres:
	default:
		return fmt.Errorf("unsupported store backend %q", c.Config.Database.Backend)
	}

	db, err := postgres.Open(ctx, c.Config.Database.URL, postgres.Options{
		MaxOpenConns:    c.Config.Database.MaxOpenConns,
		MaxIdleConns:    c.Config.Database.MaxIdleConns,
		ConnMaxLifetime: c.Config.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("apply schema: %w", err)
	}

	regOpts := []postgres.RegistryOption{
		postgres.WithHealthOptions(repositories.WithEnvironment(c.Config.Environment, c.build.Version)),
	}
	if topic != nil {
		regOpts = append(regOpts, postgres.WithHealthChecks(repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 2 * time.Second,
			Check:   jobs.TopicCheck(topic),
		}))
	}
	reg, err := postgres.NewRegistry(db, regOpts...)
	if err != nil {
		_ = db.Close()
		return err
	}
	c.Repositories = reg
	c.closers = append(c.closers, reg.Close)
	return nil
}

func (c *Container) buildNotifier(cc containerConfig, topic *pubsub.Topic) error {
	publisher := cc.publisher
	if publisher == nil {
		if topic != nil {
			pub, err := jobs.NewPubSubNotificationPublisher(topic)
			if err != nil {
				return err
			}
			publisher = pub
		} else {
			publisher = jobs.NewLogPublisher(c.Logger.Named("notify"))
		}
	}
	dispatcher, err := jobs.NewDispatcher(publisher, jobs.DispatcherOptions{
		QueueSize: c.Config.PubSub.QueueSize,
		Workers:   c.Config.PubSub.Workers,
		Clock:     cc.clock,
		Logger:    observability.EventLogger(c.Logger.Named("notify")),
	})
	if err != nil {
		return fmt.Errorf("build notification dispatcher: %w", err)
	}
	c.Notifier = dispatcher
	return nil
}

func (c *Container) buildServices(cc containerConfig) error {
	reg := c.Repositories
	logEvent := observability.EventLogger(c.Logger.Named("services"))
	currency := c.Config.Checkout.DefaultCurrency

	meter := cc.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	metrics, err := observability.NewOrderMetrics(meter)
	if err != nil {
		c.Logger.Warn("order metrics unavailable", zap.Error(err))
		metrics = nil
	}

	audit, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Clock:      cc.clock,
	})
	if err != nil {
		return fmt.Errorf("build audit log service: %w", err)
	}

	cart, err := services.NewCartService(services.CartServiceDeps{
		Carts:           reg.Carts(),
		Catalog:         reg.Catalog(),
		UnitOfWork:      reg,
		Clock:           cc.clock,
		DefaultCurrency: currency,
		Logger:          logEvent,
	})
	if err != nil {
		return fmt.Errorf("build cart service: %w", err)
	}

	coupons, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   cc.clock,
		Logger:  logEvent,
	})
	if err != nil {
		return fmt.Errorf("build coupon service: %w", err)
	}

	orderDeps := services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Carts:           reg.Carts(),
		Catalog:         reg.Catalog(),
		Coupons:         reg.Coupons(),
		CouponEngine:    coupons,
		Audit:           audit,
		UnitOfWork:      reg,
		Notifier:        c.Notifier,
		Clock:           cc.clock,
		DefaultCurrency: currency,
		Logger:          logEvent,
	}
	if metrics != nil {
		orderDeps.Metrics = metrics
	}
	orders, err := services.NewOrderService(orderDeps)
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}

	returns, err := services.NewReturnService(services.ReturnServiceDeps{
		Returns:     reg.Returns(),
		Orders:      reg.Orders(),
		OrderEngine: orders,
		Audit:       audit,
		UnitOfWork:  reg,
		Notifier:    c.Notifier,
		Clock:       cc.clock,
		Logger:      logEvent,
	})
	if err != nil {
		return fmt.Errorf("build return service: %w", err)
	}

	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Audit:            audit,
		Clock:            cc.clock,
		Build:            c.build,
	})
	if err != nil {
		return fmt.Errorf("build system service: %w", err)
	}

	c.Services = Services{
		Cart:    cart,
		Coupons: coupons,
		Orders:  orders,
		Returns: returns,
		Audit:   audit,
		System:  system,
	}
	return nil
}

func (c *Container) buildAuth(ctx context.Context, cc containerConfig) error {
	issuer, err := auth.NewSessionIssuer(c.Config.Session.SigningKey,
		auth.WithSessionTTL(c.Config.Session.TTL),
		auth.WithSessionIssuer(c.Config.Session.Issuer),
		auth.WithSessionClock(cc.clock),
	)
	if err != nil {
		return fmt.Errorf("build session issuer: %w", err)
	}
	c.Sessions = issuer

	verifier := cc.verifier
	if verifier == nil && c.Config.Firebase.ProjectID != "" {
		fv, err := auth.NewFirebaseVerifier(ctx, c.Config.Firebase)
		if err != nil {
			return fmt.Errorf("build firebase verifier: %w", err)
		}
		verifier = fv
	}
	if verifier == nil {
		c.Logger.Warn("firebase project not configured; account tokens are rejected")
	}
	c.Resolver = auth.NewResolver(verifier, issuer)
	return nil
}

func (c *Container) openIdempotencyStore(ctx context.Context, cc containerConfig) error {
	if cc.store != nil {
		c.Idempotency = cc.store
		return nil
	}
	switch c.Config.Idempotency.Backend {
	case config.IdempotencyBackendMemory, "":
		c.Idempotency = idempotency.NewMemoryStore()
	case config.IdempotencyBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Addr,
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		c.Idempotency = idempotency.NewRedisStore(client)
	case config.IdempotencyBackendFirestore:
		provider := pfirestore.NewProvider(c.Config.Firestore)
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func(context.Context) error { return provider.Close() })
		c.Idempotency = idempotency.NewFirestoreStore(client)
	default:
		return fmt.Errorf("unsupported idempotency backend %q", c.Config.Idempotency.Backend)
	}
	return nil
}

// Router assembles the HTTP surface.
func (c *Container) Router() chi.Router {
	idem := idempotency.Middleware(c.Idempotency,
		idempotency.WithHeader(c.Config.Idempotency.Header),
		idempotency.WithTTL(c.Config.Idempotency.TTL),
		idempotency.WithLogger(c.Logger.Named("idempotency")),
	)
	svc := c.Services

	sessions := handlers.NewSessionHandlers(c.Sessions, c.Resolver, svc.Cart)
	cart := handlers.NewCartHandlers(svc.Cart, svc.Coupons, handlers.WithCouponRateLimit(c.Config.RateLimits.CouponPerMinute, nil))
	checkout := handlers.NewCheckoutHandlers(svc.Orders, handlers.WithCheckoutIdempotency(idem))
	orders := handlers.NewOrderHandlers(svc.Orders, svc.Returns, handlers.WithReturnIdempotency(idem))
	returns := handlers.NewReturnHandlers(svc.Returns)
	admin := handlers.NewAdminHandlers(svc.Orders, svc.Returns, svc.System)
	health := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(svc.System),
		handlers.WithHealthBuildInfo(c.build),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(c.Config.PubSub.ProjectID),
			observability.InjectLoggerMiddleware(c.Logger),
			observability.RecoveryMiddleware(c.Logger),
			c.Resolver.Middleware(),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithCORS(c.Config.CORS.AllowedOrigins, corsMaxAge),
		handlers.WithHealthHandlers(health),
		handlers.WithSessionRoutes(sessions.Routes),
		handlers.WithCartRoutes(cart.Routes),
		handlers.WithCheckoutRoutes(checkout.Routes),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithReturnRoutes(returns.Routes),
		handlers.WithAdminRoutes(admin.Routes),
	)
}

// Start launches the notification workers and the idempotency cleanup ticker.
func (c *Container) Start(ctx context.Context) {
	c.Notifier.Start(ctx)

	interval := c.Config.Idempotency.CleanupInterval
	if interval <= 0 {
		return
	}
	cleanupCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cleanupCancel = cancel
	c.cleanupWG.Add(1)
	go func() {
		defer c.cleanupWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		logger := c.Logger.Named("idempotency")
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case now := <-ticker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
				removed, err := c.Idempotency.CleanupExpired(runCtx, now.UTC(), c.Config.Idempotency.CleanupBatchSize)
				cancel()
				if err != nil {
					logger.Error("idempotency cleanup failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			}
		}
	}()
}

// Close stops background work, drains queued notifications and releases clients in
// reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.cleanupCancel != nil {
		c.cleanupCancel()
		c.cleanupWG.Wait()
	}
	var errs []error
	if c.Notifier != nil {
		if err := c.Notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifications: %w", err))
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
