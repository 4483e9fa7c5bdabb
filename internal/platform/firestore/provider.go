package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"github.com/hanko-field/commerce/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

type clientFactory func(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error)

// Provider lazily creates one shared Firestore client. The idempotency store is its
// only consumer; the emulator is honoured through FIRESTORE_EMULATOR_HOST by the client library.
type Provider struct {
	projectID   string
	dialTimeout time.Duration
	clientOpts  []option.ClientOption
	newClient   clientFactory

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithDialTimeout overrides the timeout used when creating the client.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions appends client options applied during initialisation.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

func withClientFactory(factory clientFactory) ProviderOption {
	return func(p *Provider) {
		p.newClient = factory
	}
}

// NewProvider constructs a Provider for the configured project, falling back to GOOGLE_CLOUD_PROJECT.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{
		projectID:   strings.TrimSpace(cfg.ProjectID),
		dialTimeout: defaultDialTimeout,
		newClient:   firestore.NewClient,
	}
	if p.projectID == "" {
		p.projectID = strings.TrimSpace(os.Getenv(envGoogleProjectID))
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client, creating it on first use. A failed attempt is
// not cached so the next caller retries.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.client != nil {
		return p.client, nil
	}
	if p.projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	client, err := p.newClient(dialCtx, p.projectID, p.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	p.client = client
	return client, nil
}

// Close releases the client. The Provider cannot be reused afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.closed = true
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}
