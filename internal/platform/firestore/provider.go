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
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bookporter/api/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

// ErrProviderClosed is returned once Close has been called.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider lazily initialises a shared Firestore client instance.
type Provider struct {
	cfg         config.FirestoreConfig
	dialTimeout time.Duration
	clientOpts  []option.ClientOption

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

// NewProvider constructs a Provider using the supplied configuration.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{cfg: cfg, dialTimeout: defaultDialTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// Client returns the Firestore client, dialing it on first use. Concurrent callers wait
// for the same initialisation; a failed dial is retried by the next caller.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if ctx == nil {
		return nil, errors.New("firestore: context is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.client != nil {
		return p.client, nil
	}
	client, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

func (p *Provider) dial(ctx context.Context) (*firestore.Client, error) {
	if p.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.dialTimeout)
		defer cancel()
	}

	projectID := strings.TrimSpace(p.cfg.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(os.Getenv(envGoogleProjectID))
	}
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}

	opts := append([]option.ClientOption(nil), p.clientOpts...)
	if host := p.emulatorHost(); host != "" {
		if os.Getenv(envEmulatorHost) == "" {
			_ = os.Setenv(envEmulatorHost, host)
		}
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return client, nil
}

// Close releases the underlying Firestore client. The Provider cannot be reused afterwards.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.closed = true
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// RunTransaction executes fn inside a Firestore transaction using the provider's client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	if tx, ok := TransactionFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

func (p *Provider) emulatorHost() string {
	if trimmed := strings.TrimSpace(p.cfg.EmulatorHost); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(os.Getenv(envEmulatorHost))
}
