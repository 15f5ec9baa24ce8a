package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/bookporter/api/internal/platform/textutil"
)

const (
	stripeCheckoutCompleted = "checkout.session.completed"
	// MetadataOrderID is the metadata key carrying the order identifier through the PSP.
	MetadataOrderID = "order_id"

	defaultSessionTTL = 30 * time.Minute

	// Stripe rejects metadata keys over 40 characters and values over 500.
	metadataKeyLimit   = 40
	metadataValueLimit = 500
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time

	sessions stripeSessionAPI
}

// StripeProvider implements Provider using Stripe Checkout.
type StripeProvider struct {
	sessions      stripeSessionAPI
	webhookSecret string
	account       string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	sessions := cfg.sessions
	if sessions == nil {
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		sessions:      sessions,
		webhookSecret: secret,
		account:       strings.TrimSpace(cfg.AccountID),
		clock:         func() time.Time { return clock().UTC() },
		logger:        logger,
	}, nil
}

// CreateCheckoutSession creates a single line item Stripe Checkout session. The order ID is
// attached both to the session and to its payment intent so notifications correlate back.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if req.Amount <= 0 {
		return CheckoutSession{}, errors.New("stripe: amount must be positive")
	}
	metadata := map[string]string{}
	maps.Copy(metadata, textutil.NormalizeStringMap(req.Metadata, metadataKeyLimit, metadataValueLimit))
	if req.OrderID != "" {
		metadata[MetadataOrderID] = req.OrderID
	}

	name := strings.TrimSpace(req.Description)
	if name == "" {
		name = "Order"
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		Metadata:          metadata,
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: maps.Clone(metadata),
		},
	}
	params.Context = ctx
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	session, err := p.sessions.New(params)
	if err != nil {
		p.logger(ctx, "payments.stripe.session.failed", map[string]any{"orderId": req.OrderID, "error": err.Error()})
		return CheckoutSession{}, fmt.Errorf("%w: create checkout session: %v", ErrGatewayUnavailable, err)
	}
	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
		"amount":    req.Amount,
	})

	expiresAt := p.clock().Add(defaultSessionTTL)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// LookupPayment retrieves a checkout session and reports whether it has been paid.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return PaymentDetails{}, errors.New("stripe: session id is required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent.latest_charge")
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("%w: lookup checkout session: %v", ErrGatewayUnavailable, err)
	}
	return p.sessionDetails(session), nil
}

// VerifyEvent checks the Stripe-Signature header against the raw body before decoding. Only
// checkout.session.completed is mapped to EventCheckoutCompleted.
func (p *StripeProvider) VerifyEvent(payload []byte, signature string) (Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: event.ID, Type: EventOther, ProviderType: string(event.Type)}
	if string(event.Type) != stripeCheckoutCompleted || event.Data == nil {
		return out, nil
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return Event{}, fmt.Errorf("stripe: decode checkout session: %w", err)
	}
	out.Type = EventCheckoutCompleted
	out.Payment = p.sessionDetails(&session)
	if out.Payment.Status == StatusSucceeded && chargedAt(&session).IsZero() && event.Created != 0 {
		out.Payment.PaidAt = time.Unix(event.Created, 0).UTC()
	}
	return out, nil
}

func (p *StripeProvider) sessionDetails(session *stripe.CheckoutSession) PaymentDetails {
	if session == nil {
		return PaymentDetails{}
	}
	details := PaymentDetails{
		Provider:      "stripe",
		SessionID:     session.ID,
		ProviderTxnID: session.ID,
		OrderID:       session.Metadata[MetadataOrderID],
		Status:        StatusPending,
		Amount:        session.AmountTotal,
		Currency:      strings.ToUpper(string(session.Currency)),
	}
	if details.OrderID == "" {
		details.OrderID = session.ClientReferenceID
	}
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		details.ProviderTxnID = session.PaymentIntent.ID
	}
	switch session.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		details.Status = StatusSucceeded
		details.PaidAt = chargedAt(session)
		if details.PaidAt.IsZero() {
			details.PaidAt = p.clock()
		}
	}
	if session.Status == stripe.CheckoutSessionStatusExpired {
		details.Status = StatusFailed
	}
	return details
}

// chargedAt is the capture time Stripe recorded for the session's payment, or zero when the
// payment intent was not expanded.
func chargedAt(session *stripe.CheckoutSession) time.Time {
	intent := session.PaymentIntent
	if intent == nil {
		return time.Time{}
	}
	if intent.LatestCharge != nil && intent.LatestCharge.Created != 0 {
		return time.Unix(intent.LatestCharge.Created, 0).UTC()
	}
	if intent.Created != 0 {
		return time.Unix(intent.Created, 0).UTC()
	}
	return time.Time{}
}
