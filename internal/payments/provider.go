package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// ProviderStripe is the registration key of the Stripe Checkout provider.
const ProviderStripe = "stripe"

// EventType is the normalised kind of a verified provider notification.
type EventType string

const (
	// EventCheckoutCompleted is the only notification that confirms an order payment.
	EventCheckoutCompleted EventType = "checkout.completed"
	// EventOther covers every notification the ledger acknowledges and ignores.
	EventOther EventType = "other"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidSignature is returned when a notification fails verification.
	ErrInvalidSignature = errors.New("payments: invalid signature")
	// ErrGatewayUnavailable wraps transport and provider failures. Callers may retry.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
)

// CheckoutSessionRequest captures the payload required to create a hosted checkout.
type CheckoutSessionRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	Description    string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

// CheckoutSession represents the PSP session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// LookupRequest identifies a checkout for synchronous reconciliation.
type LookupRequest struct {
	SessionID string
}

// PaymentDetails normalises PSP specific fields for reconciliation.
type PaymentDetails struct {
	Provider      string
	SessionID     string
	ProviderTxnID string
	OrderID       string
	Status        Status
	Amount        int64
	Currency      string
	PaidAt        time.Time
}

// Event is a verified provider notification. Payment is populated for EventCheckoutCompleted.
type Event struct {
	ID           string
	Type         EventType
	ProviderType string
	Payment      PaymentDetails
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
	VerifyEvent(payload []byte, signature string) (Event, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when callers express no preference.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	if _, ok := registered[ProviderStripe]; ok {
		m.defaultProvider = ProviderStripe
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolve(preferred string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, ErrUnsupportedProvider
	}
	if key := strings.TrimSpace(strings.ToLower(preferred)); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, p, nil
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// DefaultProvider reports the provider used when callers express no preference.
func (m *Manager) DefaultProvider() string {
	key, _, err := m.resolve("")
	if err != nil {
		return ""
	}
	return key
}

// CreateCheckoutSession delegates to the resolved provider.
func (m *Manager) CreateCheckoutSession(ctx context.Context, provider string, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, p, err := m.resolve(provider)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := p.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, provider string, req LookupRequest) (PaymentDetails, error) {
	key, p, err := m.resolve(provider)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := p.LookupPayment(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

// VerifyEvent authenticates a raw notification body against the named provider.
func (m *Manager) VerifyEvent(provider string, payload []byte, signature string) (Event, error) {
	key, p, err := m.resolve(provider)
	if err != nil {
		return Event{}, err
	}
	event, err := p.VerifyEvent(payload, signature)
	if err != nil {
		return Event{}, err
	}
	event.Payment.Provider = key
	return event, nil
}
